// Package ledgertest is a conformance suite shared by every ledger backend.
package ledgertest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"agora/contexts/governance/poll-registry/domain/entities"
	domainerrors "agora/contexts/governance/poll-registry/domain/errors"
	"agora/contexts/governance/poll-registry/domain/services"
	"agora/contexts/governance/poll-registry/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Backend is everything a ledger driver provides to the registry and workers.
type Backend interface {
	ports.Ledger
	ports.OutboxRepository
	ports.EventDedupStore
	ports.TallyProjectionStore
}

// Factory returns a fresh, empty backend. Cleanup is registered on t.
type Factory func(t *testing.T) Backend

var (
	base     = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	errAbort = errors.New("abort")
)

func Run(t *testing.T, open Factory) {
	t.Run("PollIDsAreSequentialAndRollBack", func(t *testing.T) { pollIDsAreSequentialAndRollBack(t, open(t)) })
	t.Run("PollRoundTrip", func(t *testing.T) { pollRoundTrip(t, open(t)) })
	t.Run("ReadYourWritesInsideApply", func(t *testing.T) { readYourWritesInsideApply(t, open(t)) })
	t.Run("VotesLifecycle", func(t *testing.T) { votesLifecycle(t, open(t)) })
	t.Run("EventJournal", func(t *testing.T) { eventJournal(t, open(t)) })
	t.Run("IdempotencyExpiry", func(t *testing.T) { idempotencyExpiry(t, open(t)) })
	t.Run("Outbox", func(t *testing.T) { outbox(t, open(t)) })
	t.Run("EventDedup", func(t *testing.T) { eventDedup(t, open(t)) })
	t.Run("Projections", func(t *testing.T) { projections(t, open(t)) })
	t.Run("LargeWeightsRoundTrip", func(t *testing.T) { largeWeightsRoundTrip(t, open(t)) })
}

func newPoll(pollID uint64, topic string, choices ...string) entities.Poll {
	poll := entities.Poll{
		PollID:     pollID,
		Kind:       entities.PollKindDynamic,
		Owner:      "owner",
		Topic:      topic,
		StartTime:  base,
		EndTime:    base.Add(time.Hour),
		Choices:    []entities.Choice{},
		WeightMode: entities.WeightModeNone,
		CreatedAt:  base,
		UpdatedAt:  base,
	}
	for i, name := range choices {
		poll.Choices = append(poll.Choices, entities.Choice{ChoiceID: i + 1, Name: name})
	}
	return poll
}

func createPoll(t *testing.T, ledger ports.Ledger, topic string, choices ...string) uint64 {
	t.Helper()
	var pollID uint64
	err := ledger.Apply(context.Background(), func(ctx context.Context, tx ports.LedgerTx) error {
		id, err := tx.NextPollID(ctx)
		if err != nil {
			return err
		}
		pollID = id
		return tx.SavePoll(ctx, newPoll(id, topic, choices...))
	})
	require.NoError(t, err)
	return pollID
}

func appendEvent(t *testing.T, ledger ports.Ledger, eventID string, pollID uint64) entities.Event {
	t.Helper()
	var stored entities.Event
	err := ledger.Apply(context.Background(), func(ctx context.Context, tx ports.LedgerTx) error {
		var err error
		stored, err = tx.AppendEvent(ctx, entities.Event{
			EventID:    eventID,
			EventType:  entities.EventPollCreated,
			PollID:     pollID,
			Payload:    []byte(`{"poll_id":1}`),
			OccurredAt: base,
		})
		return err
	})
	require.NoError(t, err)
	return stored
}

func pollIDsAreSequentialAndRollBack(t *testing.T, b Backend) {
	ctx := context.Background()
	require.Equal(t, uint64(1), createPoll(t, b, "first"))

	err := b.Apply(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		id, err := tx.NextPollID(ctx)
		if err != nil {
			return err
		}
		if err := tx.SavePoll(ctx, newPoll(id, "aborted")); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	require.Equal(t, uint64(2), createPoll(t, b, "second"))

	err = b.View(ctx, func(ctx context.Context, view ports.LedgerView) error {
		polls, err := view.ListPolls(ctx)
		if err != nil {
			return err
		}
		require.Len(t, polls, 2)
		assert.Equal(t, "first", polls[0].Topic)
		assert.Equal(t, "second", polls[1].Topic)
		return nil
	})
	require.NoError(t, err)
}

func pollRoundTrip(t *testing.T, b Backend) {
	ctx := context.Background()
	pollID := createPoll(t, b, "Pets", "Cats", "Dogs")

	err := b.Apply(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		poll, err := tx.GetPoll(ctx, pollID)
		if err != nil {
			return err
		}
		poll = poll.Clone()
		poll.Choices[1].Tally = 7
		poll.Choices = append(poll.Choices, entities.Choice{ChoiceID: 3, Name: "Birds", Tally: 2})
		poll.Escrowed = 9
		poll.UpdatedAt = base.Add(time.Minute)
		return tx.SavePoll(ctx, poll)
	})
	require.NoError(t, err)

	err = b.View(ctx, func(ctx context.Context, view ports.LedgerView) error {
		poll, err := view.GetPoll(ctx, pollID)
		if err != nil {
			return err
		}
		assert.Equal(t, entities.PollKindDynamic, poll.Kind)
		assert.Equal(t, "owner", poll.Owner)
		assert.True(t, poll.StartTime.Equal(base))
		assert.True(t, poll.EndTime.Equal(base.Add(time.Hour)))
		assert.True(t, poll.UpdatedAt.Equal(base.Add(time.Minute)))
		assert.Equal(t, uint64(9), poll.Escrowed)
		assert.Equal(t, []uint64{0, 7, 2}, poll.Tallies())
		assert.Equal(t, "Birds", poll.Choices[2].Name)

		_, err = view.GetPoll(ctx, pollID+1)
		assert.ErrorIs(t, err, domainerrors.ErrPollNotFound)
		return nil
	})
	require.NoError(t, err)
}

func readYourWritesInsideApply(t *testing.T, b Backend) {
	ctx := context.Background()
	err := b.Apply(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		id, err := tx.NextPollID(ctx)
		if err != nil {
			return err
		}
		if err := tx.SavePoll(ctx, newPoll(id, "staged", "a")); err != nil {
			return err
		}
		if err := tx.SaveVote(ctx, entities.Vote{PollID: id, Voter: "Alice", ChoiceID: 1, Weight: 1, CastAt: base}); err != nil {
			return err
		}
		poll, err := tx.GetPoll(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "staged", poll.Topic)

		vote, found, err := tx.GetVote(ctx, id, "alice")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, 1, vote.ChoiceID)

		polls, err := tx.ListPolls(ctx)
		require.NoError(t, err)
		assert.Len(t, polls, 1)
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	err = b.View(ctx, func(ctx context.Context, view ports.LedgerView) error {
		polls, err := view.ListPolls(ctx)
		require.NoError(t, err)
		assert.Empty(t, polls)
		return nil
	})
	require.NoError(t, err)
}

func votesLifecycle(t *testing.T, b Backend) {
	ctx := context.Background()
	pollID := createPoll(t, b, "Pets", "Cats", "Dogs")

	err := b.Apply(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		if err := tx.SaveVote(ctx, entities.Vote{PollID: pollID, Voter: "bob", ChoiceID: 2, Weight: 3, CastAt: base.Add(2 * time.Second)}); err != nil {
			return err
		}
		return tx.SaveVote(ctx, entities.Vote{PollID: pollID, Voter: " ALICE ", ChoiceID: 1, Weight: 5, Deposit: 5, CastAt: base.Add(time.Second)})
	})
	require.NoError(t, err)

	err = b.View(ctx, func(ctx context.Context, view ports.LedgerView) error {
		votes, err := view.ListVotes(ctx, pollID)
		require.NoError(t, err)
		require.Len(t, votes, 2)
		assert.Equal(t, "alice", votes[0].Voter)
		assert.Equal(t, uint64(5), votes[0].Deposit)
		assert.Equal(t, "bob", votes[1].Voter)
		return nil
	})
	require.NoError(t, err)

	err = b.Apply(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		return tx.DeleteVote(ctx, pollID, "Alice")
	})
	require.NoError(t, err)

	err = b.View(ctx, func(ctx context.Context, view ports.LedgerView) error {
		_, found, err := view.GetVote(ctx, pollID, "alice")
		require.NoError(t, err)
		assert.False(t, found)
		votes, err := view.ListVotes(ctx, pollID)
		require.NoError(t, err)
		assert.Len(t, votes, 1)
		return nil
	})
	require.NoError(t, err)
}

func eventJournal(t *testing.T, b Backend) {
	ctx := context.Background()
	first := appendEvent(t, b, "evt-1", 1)
	second := appendEvent(t, b, "evt-2", 1)
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)

	err := b.Apply(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		if _, err := tx.AppendEvent(ctx, entities.Event{EventID: "evt-aborted", EventType: entities.EventVoteCast, PollID: 1, Payload: []byte(`{}`), OccurredAt: base}); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)
	third := appendEvent(t, b, "evt-3", 1)
	assert.Equal(t, uint64(3), third.Seq, "aborted appends must not consume sequence numbers")

	err = b.View(ctx, func(ctx context.Context, view ports.LedgerView) error {
		all, err := view.ListEvents(ctx, 0, 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "evt-3", all[2].EventID)
		assert.JSONEq(t, `{"poll_id":1}`, string(all[0].Payload))

		page, err := view.ListEvents(ctx, 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, uint64(2), page[0].Seq)
		return nil
	})
	require.NoError(t, err)
}

func idempotencyExpiry(t *testing.T, b Backend) {
	ctx := context.Background()
	err := b.Apply(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		return tx.PutIdempotency(ctx, ports.IdempotencyRecord{
			Key:         "idem-1",
			RequestHash: "hash-1",
			PollID:      4,
			Receipt:     []byte(`{"choice_id":2}`),
			ExpiresAt:   base.Add(time.Hour),
		})
	})
	require.NoError(t, err)

	err = b.View(ctx, func(ctx context.Context, view ports.LedgerView) error {
		record, found, err := view.GetIdempotency(ctx, "idem-1", base)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "hash-1", record.RequestHash)
		assert.Equal(t, uint64(4), record.PollID)
		assert.JSONEq(t, `{"choice_id":2}`, string(record.Receipt))

		_, found, err = view.GetIdempotency(ctx, "idem-1", base.Add(2*time.Hour))
		require.NoError(t, err)
		assert.False(t, found, "expired keys must not be returned")

		_, found, err = view.GetIdempotency(ctx, "missing", base)
		require.NoError(t, err)
		assert.False(t, found)
		return nil
	})
	require.NoError(t, err)
}

func outbox(t *testing.T, b Backend) {
	ctx := context.Background()
	for _, id := range []string{"evt-a", "evt-b", "evt-c"} {
		appendEvent(t, b, id, 1)
	}

	pending, err := b.ListPendingEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "evt-a", pending[0].EventID)

	require.NoError(t, b.MarkEventPublished(ctx, pending[0].Seq, base))
	require.ErrorIs(t, b.MarkEventPublished(ctx, 99, base), domainerrors.ErrEventNotFound)

	pending, err = b.ListPendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "evt-b", pending[0].EventID)
	assert.Equal(t, "evt-c", pending[1].EventID)

	err = b.View(ctx, func(ctx context.Context, view ports.LedgerView) error {
		events, err := view.ListEvents(ctx, 0, 1)
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.NotNil(t, events[0].PublishedAt)
		assert.True(t, events[0].PublishedAt.Equal(base))
		return nil
	})
	require.NoError(t, err)
}

func eventDedup(t *testing.T, b Backend) {
	ctx := context.Background()
	expires := base.Add(time.Hour)

	seen, err := b.ReserveEvent(ctx, "evt-1", "hash-a", base, expires)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = b.ReserveEvent(ctx, "evt-1", "hash-a", base.Add(30*time.Minute), expires)
	require.NoError(t, err)
	assert.True(t, seen)

	_, err = b.ReserveEvent(ctx, "evt-1", "hash-b", base.Add(30*time.Minute), expires)
	require.ErrorIs(t, err, domainerrors.ErrIdempotencyConflict)

	later := base.Add(2 * time.Hour)
	seen, err = b.ReserveEvent(ctx, "evt-1", "hash-b", later, later.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, seen, "expired reservations must be replaced")

	seen, err = b.ReserveEvent(ctx, "evt-1", "hash-b", later, later.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, seen)
}

func largeWeightsRoundTrip(t *testing.T, b Backend) {
	ctx := context.Background()
	pollID := createPoll(t, b, "Whales", "Yes", "No")

	err := b.Apply(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		poll, err := tx.GetPoll(ctx, pollID)
		if err != nil {
			return err
		}
		poll.WeightMode = entities.WeightModeFungibleDeposit
		poll.WeightAsset = "0xtoken"
		poll.Choices[0].Tally = services.MaxWeight
		poll.Escrowed = services.MaxWeight
		if err := tx.SavePoll(ctx, poll); err != nil {
			return err
		}
		return tx.SaveVote(ctx, entities.Vote{
			PollID:   pollID,
			Voter:    "whale",
			ChoiceID: 1,
			Weight:   services.MaxWeight,
			Deposit:  services.MaxWeight,
			CastAt:   base,
		})
	})
	require.NoError(t, err)

	err = b.View(ctx, func(ctx context.Context, view ports.LedgerView) error {
		poll, err := view.GetPoll(ctx, pollID)
		require.NoError(t, err)
		assert.Equal(t, uint64(math.MaxInt64), poll.Choices[0].Tally)
		assert.Equal(t, uint64(math.MaxInt64), poll.Escrowed)
		vote, found, err := view.GetVote(ctx, pollID, "whale")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, uint64(math.MaxInt64), vote.Weight)
		assert.Equal(t, uint64(math.MaxInt64), vote.Deposit)
		return nil
	})
	require.NoError(t, err)
}

func projections(t *testing.T, b Backend) {
	ctx := context.Background()
	_, found, err := b.GetProjection(ctx, 1)
	require.NoError(t, err)
	assert.False(t, found)

	update := func(fn func(*ports.TallyProjection)) {
		t.Helper()
		require.NoError(t, b.UpdateProjection(ctx, 1, func(p *ports.TallyProjection) error {
			fn(p)
			return nil
		}))
	}
	update(func(p *ports.TallyProjection) {
		p.Topic = "Pets"
		p.Choices = []string{"Cats", "Dogs"}
		p.Tallies = []int64{0, 0}
		p.UpdatedAt = base
	})
	update(func(p *ports.TallyProjection) {
		p.Tallies[1] += 4
		p.Voters++
		p.LastEvent = "evt-9"
	})
	require.ErrorIs(t, b.UpdateProjection(ctx, 1, func(p *ports.TallyProjection) error {
		p.Tallies[0] = 100
		return errAbort
	}), errAbort)

	projection, found, err := b.GetProjection(ctx, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(1), projection.PollID)
	assert.Equal(t, "Pets", projection.Topic)
	assert.Equal(t, []string{"Cats", "Dogs"}, projection.Choices)
	assert.Equal(t, []int64{0, 4}, projection.Tallies)
	assert.Equal(t, 1, projection.Voters)
	assert.Equal(t, "evt-9", projection.LastEvent)
}
