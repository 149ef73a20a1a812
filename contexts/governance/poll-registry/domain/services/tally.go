package services

import (
	"math"

	"agora/contexts/governance/poll-registry/domain/entities"
	domainerrors "agora/contexts/governance/poll-registry/domain/errors"
)

// MaxWeight bounds weights, tallies and escrow totals. Durable ledgers store
// them as signed 64-bit integers.
const MaxWeight uint64 = math.MaxInt64

// CountVote returns poll with vote's weight added to its choice tally and its
// deposit added to the escrow total.
func CountVote(poll entities.Poll, vote entities.Vote) (entities.Poll, error) {
	if !poll.HasChoice(vote.ChoiceID) {
		return entities.Poll{}, domainerrors.ErrUnknownChoice
	}
	out := poll.Clone()
	choice := &out.Choices[vote.ChoiceID-1]
	if vote.Weight > MaxWeight || vote.Deposit > MaxWeight {
		return entities.Poll{}, domainerrors.ErrWeightOutOfRange
	}
	if choice.Tally > MaxWeight-vote.Weight || out.Escrowed > MaxWeight-vote.Deposit {
		return entities.Poll{}, domainerrors.ErrWeightOutOfRange
	}
	choice.Tally += vote.Weight
	out.Escrowed += vote.Deposit
	return out, nil
}

// UncountVote reverses CountVote for a previously counted vote.
func UncountVote(poll entities.Poll, vote entities.Vote) (entities.Poll, error) {
	if !poll.HasChoice(vote.ChoiceID) {
		return entities.Poll{}, domainerrors.ErrTallyInconsistent
	}
	out := poll.Clone()
	choice := &out.Choices[vote.ChoiceID-1]
	if choice.Tally < vote.Weight || out.Escrowed < vote.Deposit {
		return entities.Poll{}, domainerrors.ErrTallyInconsistent
	}
	choice.Tally -= vote.Weight
	out.Escrowed -= vote.Deposit
	return out, nil
}
