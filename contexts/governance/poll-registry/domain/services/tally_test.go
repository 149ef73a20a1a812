package services

import (
	"errors"
	"math"
	"testing"

	"agora/contexts/governance/poll-registry/domain/entities"
	domainerrors "agora/contexts/governance/poll-registry/domain/errors"
)

func TestCountAndUncountVoteAreInverse(t *testing.T) {
	poll := entities.Poll{
		PollID:  7,
		Choices: []entities.Choice{{ChoiceID: 1, Name: "Cats"}, {ChoiceID: 2, Name: "Dogs"}},
	}
	vote := entities.Vote{PollID: 7, Voter: "alice", ChoiceID: 2, Weight: 10, Deposit: 10}

	counted, err := CountVote(poll, vote)
	if err != nil {
		t.Fatalf("count vote: %v", err)
	}
	if counted.Choices[1].Tally != 10 || counted.Escrowed != 10 {
		t.Fatalf("unexpected counted poll: %+v", counted)
	}
	if poll.Choices[1].Tally != 0 {
		t.Fatalf("count must not mutate its input")
	}

	restored, err := UncountVote(counted, vote)
	if err != nil {
		t.Fatalf("uncount vote: %v", err)
	}
	if restored.TotalTally() != 0 || restored.Escrowed != 0 {
		t.Fatalf("expected empty tallies, got %+v", restored)
	}
}

func TestCountVoteRejectsUnknownChoiceAndOverflow(t *testing.T) {
	poll := entities.Poll{Choices: []entities.Choice{{ChoiceID: 1, Tally: MaxWeight}}}
	if _, err := CountVote(poll, entities.Vote{ChoiceID: 2, Weight: 1}); !errors.Is(err, domainerrors.ErrUnknownChoice) {
		t.Fatalf("expected unknown choice, got %v", err)
	}
	if _, err := CountVote(poll, entities.Vote{ChoiceID: 0, Weight: 1}); !errors.Is(err, domainerrors.ErrUnknownChoice) {
		t.Fatalf("expected unknown choice for id 0, got %v", err)
	}
	if _, err := CountVote(poll, entities.Vote{ChoiceID: 1, Weight: 1}); !errors.Is(err, domainerrors.ErrWeightOutOfRange) {
		t.Fatalf("expected overflow to be rejected, got %v", err)
	}
}

func TestCountVoteBoundsWeightAndEscrowAtSignedRange(t *testing.T) {
	poll := entities.Poll{Choices: []entities.Choice{{ChoiceID: 1}}}
	if _, err := CountVote(poll, entities.Vote{ChoiceID: 1, Weight: MaxWeight + 1}); !errors.Is(err, domainerrors.ErrWeightOutOfRange) {
		t.Fatalf("expected weight above MaxInt64 to be rejected, got %v", err)
	}
	if _, err := CountVote(poll, entities.Vote{ChoiceID: 1, Weight: 1, Deposit: math.MaxUint64}); !errors.Is(err, domainerrors.ErrWeightOutOfRange) {
		t.Fatalf("expected deposit above MaxInt64 to be rejected, got %v", err)
	}
	counted, err := CountVote(poll, entities.Vote{ChoiceID: 1, Weight: MaxWeight, Deposit: MaxWeight})
	if err != nil {
		t.Fatalf("count vote at the bound: %v", err)
	}
	if counted.Choices[0].Tally != math.MaxInt64 || counted.Escrowed != math.MaxInt64 {
		t.Fatalf("unexpected counted poll: %+v", counted)
	}
	if _, err := CountVote(counted, entities.Vote{ChoiceID: 1, Weight: 1}); !errors.Is(err, domainerrors.ErrWeightOutOfRange) {
		t.Fatalf("expected tally past MaxInt64 to be rejected, got %v", err)
	}
}

func TestUncountVoteDetectsCorruptTally(t *testing.T) {
	poll := entities.Poll{Choices: []entities.Choice{{ChoiceID: 1, Tally: 3}}}
	if _, err := UncountVote(poll, entities.Vote{ChoiceID: 1, Weight: 4}); !errors.Is(err, domainerrors.ErrTallyInconsistent) {
		t.Fatalf("expected inconsistent tally, got %v", err)
	}
}
