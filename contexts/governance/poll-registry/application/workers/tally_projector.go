package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	application "agora/contexts/governance/poll-registry/application"
	"agora/contexts/governance/poll-registry/domain/entities"
	"agora/contexts/governance/poll-registry/ports"
	contractsv1 "agora/contracts/gen/events/v1"
)

const defaultProjectorCG = "poll-registry-tally-projector-cg"

var errInvalidChoiceID = errors.New("event references an invalid choice id")

// TallyProjector maintains per-poll tallies purely from published poll events.
// It never reads the ledger.
type TallyProjector struct {
	Subscriber    ports.EventSubscriber
	Dedup         ports.EventDedupStore
	Projections   ports.TallyProjectionStore
	Clock         ports.Clock
	ConsumerGroup string
	DedupTTL      time.Duration
	Disabled      bool
	Logger        *slog.Logger
}

func (p TallyProjector) Start(ctx context.Context) error {
	logger := application.ResolveLogger(p.Logger)
	if p.Disabled {
		logger.Info("tally projector disabled by feature flag",
			"event", "poll_tally_projector_disabled",
			"module", application.Module,
			"layer", "worker",
		)
		return nil
	}
	group := strings.TrimSpace(p.ConsumerGroup)
	if group == "" {
		group = defaultProjectorCG
	}

	topics := []entities.EventType{
		entities.EventPollCreated,
		entities.EventChoiceAdded,
		entities.EventVoteCast,
		entities.EventVoteCancelled,
	}
	for _, topic := range topics {
		if err := p.Subscriber.Subscribe(ctx, string(topic), group, p.Handle); err != nil {
			logger.Error("tally projector subscribe failed",
				"event", "poll_tally_projector_subscribe_failed",
				"module", application.Module,
				"layer", "worker",
				"topic", string(topic),
				"consumer_group", group,
				"error", err.Error(),
			)
			return err
		}
	}
	logger.Info("tally projector subscriptions active",
		"event", "poll_tally_projector_started",
		"module", application.Module,
		"layer", "worker",
		"consumer_group", group,
		"topics", len(topics),
	)
	return nil
}

// Handle applies one envelope. Redelivered envelopes are skipped through the
// dedup store.
func (p TallyProjector) Handle(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(p.Logger)
	now := resolveNow(p.Clock)
	alreadyProcessed, err := p.Dedup.ReserveEvent(ctx, event.EventID, hashPayload(event.Data), now, now.Add(p.dedupTTL()))
	if err != nil {
		logger.Error("tally projector dedupe failed",
			"event", "poll_tally_projector_dedupe_failed",
			"module", application.Module,
			"layer", "worker",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"error", err.Error(),
		)
		return err
	}
	if alreadyProcessed {
		logger.Debug("tally projector replay skipped",
			"event", "poll_tally_projector_replayed",
			"module", application.Module,
			"layer", "worker",
			"event_id", event.EventID,
		)
		return nil
	}

	pollID, apply, err := decodeProjection(event)
	if err != nil {
		logger.Error("tally projector payload decode failed",
			"event", "poll_tally_projector_decode_failed",
			"module", application.Module,
			"layer", "worker",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"error", err.Error(),
		)
		return err
	}
	err = p.Projections.UpdateProjection(ctx, pollID, func(projection *ports.TallyProjection) error {
		apply(projection)
		projection.LastEvent = event.EventID
		projection.UpdatedAt = now
		return nil
	})
	if err != nil {
		logger.Error("tally projection update failed",
			"event", "poll_tally_projection_update_failed",
			"module", application.Module,
			"layer", "worker",
			"event_id", event.EventID,
			"poll_id", pollID,
			"error", err.Error(),
		)
		return err
	}
	logger.Debug("tally projection updated",
		"event", "poll_tally_projection_updated",
		"module", application.Module,
		"layer", "worker",
		"event_id", event.EventID,
		"event_type", event.EventType,
		"poll_id", pollID,
	)
	return nil
}

func (p TallyProjector) dedupTTL() time.Duration {
	if p.DedupTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return p.DedupTTL
}

func decodeProjection(event ports.EventEnvelope) (uint64, func(*ports.TallyProjection), error) {
	switch entities.EventType(event.EventType) {
	case entities.EventPollCreated:
		var payload contractsv1.PollCreated
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return 0, nil, err
		}
		return payload.PollID, func(projection *ports.TallyProjection) {
			projection.Topic = payload.Topic
			for i, name := range payload.Choices {
				growChoices(projection, i+1)
				projection.Choices[i] = name
			}
		}, nil
	case entities.EventChoiceAdded:
		var payload contractsv1.ChoiceAdded
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return 0, nil, err
		}
		if payload.ChoiceID < 1 {
			return 0, nil, errInvalidChoiceID
		}
		return payload.PollID, func(projection *ports.TallyProjection) {
			growChoices(projection, payload.ChoiceID)
			projection.Choices[payload.ChoiceID-1] = payload.Name
		}, nil
	case entities.EventVoteCast, entities.EventVoteCancelled:
		var payload contractsv1.VoteChanged
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return 0, nil, err
		}
		if payload.ChoiceID < 1 {
			return 0, nil, errInvalidChoiceID
		}
		sign := int64(1)
		if entities.EventType(event.EventType) == entities.EventVoteCancelled {
			sign = -1
		}
		return payload.PollID, func(projection *ports.TallyProjection) {
			growChoices(projection, payload.ChoiceID)
			projection.Tallies[payload.ChoiceID-1] += sign * int64(payload.Weight)
			projection.Voters += int(sign)
		}, nil
	default:
		return 0, nil, fmt.Errorf("unsupported poll event type %q", event.EventType)
	}
}

// growChoices extends the projection so choiceID is addressable. Events for a
// choice may arrive before its choice.added.
func growChoices(projection *ports.TallyProjection, choiceID int) {
	for len(projection.Choices) < choiceID {
		projection.Choices = append(projection.Choices, "")
	}
	for len(projection.Tallies) < choiceID {
		projection.Tallies = append(projection.Tallies, 0)
	}
}
