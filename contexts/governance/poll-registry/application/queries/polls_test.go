package queries_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"agora/contexts/governance/poll-registry/adapters/memory"
	"agora/contexts/governance/poll-registry/application/commands"
	"agora/contexts/governance/poll-registry/application/queries"
	domainerrors "agora/contexts/governance/poll-registry/domain/errors"
	"agora/contexts/governance/poll-registry/domain/services"
)

func TestPollQueriesReadCommittedState(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	polls := commands.PollUseCase{Ledger: store, IDGen: store, Rules: services.DefaultPollRules()}
	votes := commands.VoteUseCase{Ledger: store, IDGen: store}
	q := queries.PollQueries{Ledger: store}

	now := time.Now().UTC()
	created, err := polls.CreatePoll(ctx, commands.CreatePollCommand{
		Owner: "owner", Kind: "dynamic", Topic: "Lunch",
		StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour),
		Choices: []string{"Tacos", "Ramen"},
	})
	if err != nil {
		t.Fatalf("create poll: %v", err)
	}
	pollID := created.Poll.PollID

	choice, err := q.GetVotedChoice(ctx, pollID, "alice")
	if err != nil || choice != 0 {
		t.Fatalf("expected no vote, got %d, %v", choice, err)
	}
	if _, err := votes.CastVote(ctx, commands.CastVoteCommand{PollID: pollID, Voter: "Alice", ChoiceID: 2}); err != nil {
		t.Fatalf("cast vote: %v", err)
	}
	choice, err = q.GetVotedChoice(ctx, pollID, "ALICE")
	if err != nil || choice != 2 {
		t.Fatalf("expected choice 2, got %d, %v", choice, err)
	}

	if _, err := q.GetPoll(ctx, 99); !errors.Is(err, domainerrors.ErrPollNotFound) {
		t.Fatalf("expected ErrPollNotFound, got %v", err)
	}
	if _, err := q.GetVotedChoice(ctx, 99, "alice"); !errors.Is(err, domainerrors.ErrPollNotFound) {
		t.Fatalf("expected ErrPollNotFound for voted choice, got %v", err)
	}
	if _, err := q.ListVotes(ctx, 99); !errors.Is(err, domainerrors.ErrPollNotFound) {
		t.Fatalf("expected ErrPollNotFound for votes, got %v", err)
	}

	page, err := q.ListEvents(ctx, 0, 1)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(page) != 1 || page[0].Seq != 1 {
		t.Fatalf("expected first page with seq 1, got %+v", page)
	}
	rest, err := q.ListEvents(ctx, page[0].Seq, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(rest) != 1 || rest[0].Seq != 2 {
		t.Fatalf("expected remaining event with seq 2, got %+v", rest)
	}
}

func TestProjectionQueriesWithoutStore(t *testing.T) {
	_, found, err := queries.ProjectionQueries{}.GetProjection(context.Background(), 1)
	if err != nil || found {
		t.Fatalf("expected empty result, got found=%v err=%v", found, err)
	}
}
