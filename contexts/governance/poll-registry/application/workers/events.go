package workers

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"agora/contexts/governance/poll-registry/domain/entities"
	"agora/contexts/governance/poll-registry/ports"
)

const sourceService = "poll-registry"

func hashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// envelopeFor wraps a journaled event in the canonical envelope. The journal
// payload is already the event's data document.
func envelopeFor(event entities.Event) ports.EventEnvelope {
	return ports.EventEnvelope{
		EventID:          event.EventID,
		EventType:        string(event.EventType),
		OccurredAt:       event.OccurredAt.UTC(),
		SourceService:    sourceService,
		TraceID:          event.EventID,
		SchemaVersion:    1,
		PartitionKeyPath: "poll_id",
		PartitionKey:     strconv.FormatUint(event.PollID, 10),
		Data:             append([]byte(nil), event.Payload...),
	}
}

func resolveNow(clock ports.Clock) time.Time {
	if clock != nil {
		return clock.Now().UTC()
	}
	return time.Now().UTC()
}
