package workers

import (
	"context"
	"log/slog"

	application "agora/contexts/governance/poll-registry/application"
	"agora/contexts/governance/poll-registry/ports"
)

// OutboxRelay publishes the unpublished tail of the event journal to the bus.
type OutboxRelay struct {
	Outbox    ports.OutboxRepository
	Publisher ports.EventPublisher
	Clock     ports.Clock
	BatchSize int
	Logger    *slog.Logger
}

// RunOnce publishes a bounded batch in journal order and marks each event
// published only after the bus accepts it. It stops at the first failure so
// the next cycle resumes from the same event and ordering is preserved.
func (r OutboxRelay) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(r.Logger)
	limit := r.BatchSize
	if limit <= 0 {
		limit = 100
	}

	pending, err := r.Outbox.ListPendingEvents(ctx, limit)
	if err != nil {
		logger.Error("poll outbox list failed",
			"event", "poll_outbox_list_failed",
			"module", application.Module,
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	if len(pending) == 0 {
		logger.Debug("poll outbox relay found no pending events",
			"event", "poll_outbox_relay_noop",
			"module", application.Module,
			"layer", "worker",
			"batch_size", limit,
		)
		return nil
	}

	now := resolveNow(r.Clock)
	for _, item := range pending {
		envelope := envelopeFor(item)
		if err := r.Publisher.Publish(ctx, envelope.EventType, envelope); err != nil {
			logger.Error("poll outbox publish failed",
				"event", "poll_outbox_publish_failed",
				"module", application.Module,
				"layer", "worker",
				"seq", item.Seq,
				"event_id", item.EventID,
				"event_type", string(item.EventType),
				"error", err.Error(),
			)
			return err
		}
		if err := r.Outbox.MarkEventPublished(ctx, item.Seq, now); err != nil {
			logger.Error("poll outbox mark published failed",
				"event", "poll_outbox_mark_published_failed",
				"module", application.Module,
				"layer", "worker",
				"seq", item.Seq,
				"error", err.Error(),
			)
			return err
		}
	}

	logger.Info("poll outbox relay cycle completed",
		"event", "poll_outbox_relay_completed",
		"module", application.Module,
		"layer", "worker",
		"published_count", len(pending),
		"last_seq", pending[len(pending)-1].Seq,
	)
	return nil
}
