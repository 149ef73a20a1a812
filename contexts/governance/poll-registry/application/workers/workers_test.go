package workers_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"agora/contexts/governance/poll-registry/adapters/memory"
	"agora/contexts/governance/poll-registry/application/commands"
	"agora/contexts/governance/poll-registry/application/workers"
	"agora/contexts/governance/poll-registry/domain/entities"
	domainerrors "agora/contexts/governance/poll-registry/domain/errors"
	"agora/contexts/governance/poll-registry/domain/services"
	"agora/contexts/governance/poll-registry/ports"
)

type publisherFunc func(ctx context.Context, topic string, event ports.EventEnvelope) error

func (f publisherFunc) Publish(ctx context.Context, topic string, event ports.EventEnvelope) error {
	return f(ctx, topic, event)
}

type subscription struct {
	topic string
	group string
}

type recordingSubscriber struct {
	subscriptions []subscription
}

func (s *recordingSubscriber) Subscribe(
	_ context.Context,
	topic string,
	consumerGroup string,
	_ func(context.Context, ports.EventEnvelope) error,
) error {
	s.subscriptions = append(s.subscriptions, subscription{topic: topic, group: consumerGroup})
	return nil
}

// seedLedger creates a poll, enrolls a choice and records votes, returning the
// poll id. The journal ends up with six events.
func seedLedger(t *testing.T, store *memory.Store) uint64 {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	polls := commands.PollUseCase{Ledger: store, IDGen: store, Rules: services.DefaultPollRules()}
	votes := commands.VoteUseCase{Ledger: store, IDGen: store}

	created, err := polls.CreatePoll(ctx, commands.CreatePollCommand{
		Owner: "owner", Kind: "dynamic", Topic: "Pets",
		StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour),
		Choices: []string{"Cats"},
	})
	if err != nil {
		t.Fatalf("create poll: %v", err)
	}
	pollID := created.Poll.PollID
	if _, err := polls.AddChoice(ctx, commands.AddChoiceCommand{PollID: pollID, Caller: "bob", Name: "Dogs"}); err != nil {
		t.Fatalf("add choice: %v", err)
	}
	for _, voter := range []string{"alice", "bob"} {
		if _, err := votes.CastVote(ctx, commands.CastVoteCommand{PollID: pollID, Voter: voter, ChoiceID: 1}); err != nil {
			t.Fatalf("cast vote: %v", err)
		}
	}
	if _, err := votes.ChangeVote(ctx, commands.ChangeVoteCommand{PollID: pollID, Voter: "bob", ChoiceID: 2}); err != nil {
		t.Fatalf("change vote: %v", err)
	}
	return pollID
}

func TestOutboxRelayPublishesInJournalOrder(t *testing.T) {
	store := memory.NewStore()
	seedLedger(t, store)

	var seen []string
	relay := workers.OutboxRelay{
		Outbox: store,
		Publisher: publisherFunc(func(_ context.Context, topic string, event ports.EventEnvelope) error {
			if topic != event.EventType {
				t.Fatalf("topic %q does not match event type %q", topic, event.EventType)
			}
			if event.PartitionKey != "1" || event.SchemaVersion != 1 {
				t.Fatalf("unexpected envelope routing: %+v", event)
			}
			seen = append(seen, event.EventType)
			return nil
		}),
		BatchSize: 100,
	}
	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("relay: %v", err)
	}

	want := []entities.EventType{
		entities.EventPollCreated,
		entities.EventChoiceAdded,
		entities.EventVoteCast,
		entities.EventVoteCast,
		entities.EventVoteCancelled,
		entities.EventVoteCast,
	}
	if len(seen) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), seen)
	}
	for i := range want {
		if seen[i] != string(want[i]) {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
	pending, err := store.ListPendingEvents(context.Background(), 100)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected every event marked published, %d pending", len(pending))
	}
}

func TestOutboxRelayStopsAtFirstFailureAndResumes(t *testing.T) {
	store := memory.NewStore()
	seedLedger(t, store)

	errBus := errors.New("bus unavailable")
	var published []string
	fail := true
	relay := workers.OutboxRelay{
		Outbox: store,
		Publisher: publisherFunc(func(_ context.Context, _ string, event ports.EventEnvelope) error {
			if fail && len(published) == 2 {
				return errBus
			}
			published = append(published, event.EventID)
			return nil
		}),
	}
	if err := relay.RunOnce(context.Background()); !errors.Is(err, errBus) {
		t.Fatalf("expected bus error, got %v", err)
	}
	pending, err := store.ListPendingEvents(context.Background(), 100)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 4 || pending[0].Seq != 3 {
		t.Fatalf("expected 4 pending events from seq 3, got %+v", pending)
	}

	fail = false
	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("relay retry: %v", err)
	}
	if len(published) != 6 {
		t.Fatalf("expected 6 published events, got %d", len(published))
	}
	seenIDs := make(map[string]bool, len(published))
	for _, id := range published {
		if seenIDs[id] {
			t.Fatalf("event %s published twice", id)
		}
		seenIDs[id] = true
	}
}

func TestTallyProjectorTracksLedgerTallies(t *testing.T) {
	store := memory.NewStore()
	pollID := seedLedger(t, store)
	projector := workers.TallyProjector{Dedup: store, Projections: store}

	var envelopes []ports.EventEnvelope
	relay := workers.OutboxRelay{
		Outbox: store,
		Publisher: publisherFunc(func(ctx context.Context, _ string, event ports.EventEnvelope) error {
			envelopes = append(envelopes, event)
			return projector.Handle(ctx, event)
		}),
	}
	if err := relay.RunOnce(context.Background()); err != nil {
		t.Fatalf("relay: %v", err)
	}

	// Redelivery is absorbed by the dedup store.
	for _, envelope := range envelopes {
		if err := projector.Handle(context.Background(), envelope); err != nil {
			t.Fatalf("redeliver %s: %v", envelope.EventID, err)
		}
	}

	projection, found, err := store.GetProjection(context.Background(), pollID)
	if err != nil || !found {
		t.Fatalf("expected projection, found=%v err=%v", found, err)
	}
	if projection.Topic != "Pets" || len(projection.Choices) != 2 || projection.Choices[1] != "Dogs" {
		t.Fatalf("unexpected projection metadata: %+v", projection)
	}
	if len(projection.Tallies) != 2 || projection.Tallies[0] != 1 || projection.Tallies[1] != 1 {
		t.Fatalf("expected tallies [1 1], got %v", projection.Tallies)
	}
	if projection.Voters != 2 {
		t.Fatalf("expected 2 voters, got %d", projection.Voters)
	}
	if projection.LastEvent != envelopes[len(envelopes)-1].EventID {
		t.Fatalf("expected last event %s, got %s", envelopes[len(envelopes)-1].EventID, projection.LastEvent)
	}
}

func TestTallyProjectorRejectsReusedEventIDWithDifferentPayload(t *testing.T) {
	store := memory.NewStore()
	projector := workers.TallyProjector{Dedup: store, Projections: store}
	ctx := context.Background()
	envelope := ports.EventEnvelope{
		EventID:   "evt-1",
		EventType: string(entities.EventVoteCast),
		Data:      []byte(`{"poll_id":1,"voter":"alice","choice_id":1,"weight":1}`),
	}
	if err := projector.Handle(ctx, envelope); err != nil {
		t.Fatalf("handle: %v", err)
	}
	envelope.Data = []byte(`{"poll_id":1,"voter":"alice","choice_id":2,"weight":1}`)
	if err := projector.Handle(ctx, envelope); !errors.Is(err, domainerrors.ErrIdempotencyConflict) {
		t.Fatalf("expected ErrIdempotencyConflict, got %v", err)
	}
}

func TestTallyProjectorStartSubscribesUnlessDisabled(t *testing.T) {
	subscriber := &recordingSubscriber{}
	projector := workers.TallyProjector{Subscriber: subscriber, ConsumerGroup: "cg-test"}
	if err := projector.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(subscriber.subscriptions) != 4 {
		t.Fatalf("expected 4 topic subscriptions, got %d", len(subscriber.subscriptions))
	}
	for _, sub := range subscriber.subscriptions {
		if sub.group != "cg-test" {
			t.Fatalf("unexpected consumer group %q", sub.group)
		}
	}

	disabled := &recordingSubscriber{}
	if err := (workers.TallyProjector{Subscriber: disabled, Disabled: true}).Start(context.Background()); err != nil {
		t.Fatalf("start disabled: %v", err)
	}
	if len(disabled.subscriptions) != 0 {
		t.Fatalf("disabled projector must not subscribe")
	}
}
