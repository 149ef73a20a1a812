package messaging

import (
	"context"
	"log/slog"
	"sync"

	contractsv1 "agora/contracts/gen/events/v1"
)

const defaultBuffer = 128

// Bus is the event bus used by the outbox relay and consumers. It is an
// in-process topic/consumer-group fan-out: every consumer group sees every
// envelope published to a topic, and consumers sharing a group compete for
// them. Envelopes stay in publish order for a group with a single consumer.
type Bus struct {
	mu      sync.RWMutex
	topics  map[string]map[string]*group
	brokers []string
	buffer  int
	logger  *slog.Logger
}

type group struct {
	ch        chan contractsv1.Envelope
	consumers int
}

// NewBus returns a bus. Brokers are recorded for diagnostics only.
func NewBus(brokers []string, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		topics:  make(map[string]map[string]*group),
		brokers: append([]string(nil), brokers...),
		buffer:  defaultBuffer,
		logger:  logger,
	}, nil
}

// Publish hands event to every consumer group of topic. It blocks while a
// group's buffer is full and gives up when ctx is done.
func (b *Bus) Publish(ctx context.Context, topic string, event contractsv1.Envelope) error {
	b.mu.RLock()
	targets := make([]chan contractsv1.Envelope, 0, len(b.topics[topic]))
	for _, g := range b.topics[topic] {
		targets = append(targets, g.ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case <-ctx.Done():
			b.logger.Warn("event publish interrupted",
				"event", "bus_publish_interrupted",
				"module", "internal/platform/messaging",
				"layer", "platform",
				"topic", topic,
				"event_id", event.EventID,
			)
			return ctx.Err()
		case ch <- event:
		}
	}

	b.logger.Debug("event published",
		"event", "bus_publish",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"topic", topic,
		"event_id", event.EventID,
		"event_type", event.EventType,
		"consumer_groups", len(targets),
	)
	return nil
}

// Subscribe starts a consumer for topic in consumerGroup. The consumer stops
// when ctx is done.
func (b *Bus) Subscribe(
	ctx context.Context,
	topic string,
	consumerGroup string,
	handler func(context.Context, contractsv1.Envelope) error,
) error {
	b.mu.Lock()
	groups, ok := b.topics[topic]
	if !ok {
		groups = make(map[string]*group)
		b.topics[topic] = groups
	}
	g, ok := groups[consumerGroup]
	if !ok {
		g = &group{ch: make(chan contractsv1.Envelope, b.buffer)}
		groups[consumerGroup] = g
	}
	g.consumers++
	b.mu.Unlock()

	go func() {
		defer b.leave(topic, consumerGroup, g)
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-g.ch:
				if err := handler(ctx, event); err != nil {
					b.logger.Error("consumer handler failed",
						"event", "bus_consume_failed",
						"module", "internal/platform/messaging",
						"layer", "platform",
						"topic", topic,
						"consumer_group", consumerGroup,
						"event_id", event.EventID,
						"event_type", event.EventType,
						"error", err.Error(),
					)
				}
			}
		}
	}()
	return nil
}

func (b *Bus) leave(topic string, consumerGroup string, g *group) {
	b.mu.Lock()
	defer b.mu.Unlock()

	g.consumers--
	if g.consumers > 0 {
		return
	}
	if groups := b.topics[topic]; groups[consumerGroup] == g {
		delete(groups, consumerGroup)
		if len(groups) == 0 {
			delete(b.topics, topic)
		}
	}
}

// Brokers returns the configured broker addresses.
func (b *Bus) Brokers() []string {
	return append([]string(nil), b.brokers...)
}
