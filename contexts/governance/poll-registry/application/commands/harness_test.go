package commands_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"agora/contexts/governance/poll-registry/adapters/memory"
	"agora/contexts/governance/poll-registry/application/commands"
	"agora/contexts/governance/poll-registry/application/queries"
	"agora/contexts/governance/poll-registry/domain/entities"
	"agora/contexts/governance/poll-registry/domain/services"
	"agora/contexts/governance/poll-registry/ports"
)

var pollStart = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }

func (c *stepClock) set(at time.Time) { c.now = at }

type harness struct {
	store   *memory.Store
	assets  *memory.AssetBook
	clock   *stepClock
	polls   commands.PollUseCase
	votes   commands.VoteUseCase
	queries queries.PollQueries
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.NewStore()
	assets := memory.NewAssetBook("")
	clock := &stepClock{now: pollStart.Add(-time.Minute)}
	return &harness{
		store:  store,
		assets: assets,
		clock:  clock,
		polls: commands.PollUseCase{
			Ledger: store,
			Clock:  clock,
			IDGen:  store,
			Rules:  services.DefaultPollRules(),
		},
		votes: commands.VoteUseCase{
			Ledger: store,
			Assets: assets,
			Clock:  clock,
			IDGen:  store,
		},
		queries: queries.PollQueries{Ledger: store},
	}
}

func (h *harness) createPoll(t *testing.T, cmd commands.CreatePollCommand) entities.Poll {
	t.Helper()
	if cmd.Owner == "" {
		cmd.Owner = "owner"
	}
	if cmd.Topic == "" {
		cmd.Topic = "Favourite pet"
	}
	if cmd.StartTime.IsZero() {
		cmd.StartTime = pollStart
		cmd.EndTime = pollStart.Add(time.Hour)
	}
	result, err := h.polls.CreatePoll(context.Background(), cmd)
	if err != nil {
		t.Fatalf("create poll: %v", err)
	}
	return result.Poll
}

func (h *harness) tallies(t *testing.T, pollID uint64) []uint64 {
	t.Helper()
	poll, err := h.queries.GetPoll(context.Background(), pollID)
	if err != nil {
		t.Fatalf("get poll: %v", err)
	}
	return poll.Tallies()
}

func (h *harness) eventCount(t *testing.T) int {
	t.Helper()
	events, err := h.queries.ListEvents(context.Background(), 0, 1000)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	return len(events)
}

func (h *harness) balance(t *testing.T, asset string, holder string) uint64 {
	t.Helper()
	value, err := h.assets.BalanceOf(context.Background(), asset, holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return value
}

func assertTallies(t *testing.T, got []uint64, want ...uint64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected tallies %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected tallies %v, got %v", want, got)
		}
	}
}

var errCommitFailed = errors.New("commit failed")

// commitFailingLedger runs the transaction body and then aborts it as if the
// commit itself had failed.
type commitFailingLedger struct {
	ports.Ledger
}

func (l commitFailingLedger) Apply(ctx context.Context, fn func(ctx context.Context, tx ports.LedgerTx) error) error {
	return l.Ledger.Apply(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return errCommitFailed
	})
}
