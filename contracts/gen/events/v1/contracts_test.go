package v1

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"
)

const schemaDir = "../../../events/v1"

type jsonSchema struct {
	Required    []string              `json:"required"`
	Properties  map[string]jsonSchema `json:"properties"`
	Definitions map[string]jsonSchema `json:"definitions"`
	Ref         string                `json:"$ref"`
	Enum        []string              `json:"enum"`
}

func loadSchema(t *testing.T, name string) jsonSchema {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(schemaDir, name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	var schema jsonSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		t.Fatalf("invalid json contract file %s: %v", name, err)
	}
	return schema
}

func jsonFields(value any) []string {
	typ := reflect.TypeOf(value)
	fields := make([]string, 0, typ.NumField())
	for i := 0; i < typ.NumField(); i++ {
		name, _, _ := strings.Cut(typ.Field(i).Tag.Get("json"), ",")
		fields = append(fields, name)
	}
	return fields
}

func TestContractJSONArtifactsAreValid(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join(schemaDir, "*.json"))
	if err != nil {
		t.Fatalf("glob contracts: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no contract json artifacts found")
	}
	for _, path := range matches {
		loadSchema(t, filepath.Base(path))
	}
}

func TestEnvelopeSchemaMatchesStruct(t *testing.T) {
	schema := loadSchema(t, "envelope.json")
	fields := jsonFields(Envelope{})
	for _, required := range schema.Required {
		if !slices.Contains(fields, required) {
			t.Fatalf("envelope schema requires %q but Envelope has no such field", required)
		}
	}
	if len(schema.Required) != len(fields) {
		t.Fatalf("expected every Envelope field to be required, got %v vs %v", schema.Required, fields)
	}
}

func TestPollEventSchemasMatchPayloads(t *testing.T) {
	envelope := loadSchema(t, "envelope.json")
	events := loadSchema(t, "poll_events.json")

	payloads := map[string]any{
		"poll.created":   PollCreated{},
		"choice.added":   ChoiceAdded{},
		"vote.cast":      VoteChanged{},
		"vote.cancelled": VoteChanged{},
	}
	eventTypes := envelope.Properties["event_type"].Enum
	if len(eventTypes) != len(payloads) {
		t.Fatalf("expected %d event types, got %v", len(payloads), eventTypes)
	}
	for _, eventType := range eventTypes {
		payload, ok := payloads[eventType]
		if !ok {
			t.Fatalf("event type %q has no payload struct", eventType)
		}
		definition, ok := events.Definitions[eventType]
		if !ok {
			t.Fatalf("event type %q has no schema definition", eventType)
		}
		if definition.Ref != "" {
			definition = events.Definitions[strings.TrimPrefix(definition.Ref, "#/definitions/")]
		}
		fields := jsonFields(payload)
		for _, required := range definition.Required {
			if !slices.Contains(fields, required) {
				t.Fatalf("%s: schema requires %q, payload fields are %v", eventType, required, fields)
			}
		}
		for property := range definition.Properties {
			if !slices.Contains(fields, property) {
				t.Fatalf("%s: schema property %q missing from payload", eventType, property)
			}
		}
	}
}
