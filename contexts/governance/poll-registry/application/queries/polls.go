package queries

import (
	"context"

	"agora/contexts/governance/poll-registry/domain/entities"
	"agora/contexts/governance/poll-registry/ports"
)

const (
	defaultEventPageSize = 100
	maxEventPageSize     = 1000
)

// PollQueries is the read-only surface. Every call observes the state as of
// the last committed ledger transaction.
type PollQueries struct {
	Ledger ports.Ledger
}

func (q PollQueries) GetPoll(ctx context.Context, pollID uint64) (entities.Poll, error) {
	var poll entities.Poll
	err := q.Ledger.View(ctx, func(ctx context.Context, view ports.LedgerView) error {
		var err error
		poll, err = view.GetPoll(ctx, pollID)
		return err
	})
	return poll, err
}

// GetPolls returns the discovery index as parallel slices in creation order.
func (q PollQueries) GetPolls(ctx context.Context) (entities.PollIndex, error) {
	var polls []entities.Poll
	err := q.Ledger.View(ctx, func(ctx context.Context, view ports.LedgerView) error {
		var err error
		polls, err = view.ListPolls(ctx)
		return err
	})
	if err != nil {
		return entities.PollIndex{}, err
	}

	index := entities.PollIndex{
		IDs:    make([]uint64, 0, len(polls)),
		Kinds:  make([]entities.PollKind, 0, len(polls)),
		Owners: make([]string, 0, len(polls)),
		Topics: make([]string, 0, len(polls)),
	}
	for _, poll := range polls {
		index.IDs = append(index.IDs, poll.PollID)
		index.Kinds = append(index.Kinds, poll.Kind)
		index.Owners = append(index.Owners, poll.Owner)
		index.Topics = append(index.Topics, poll.Topic)
	}
	return index, nil
}

// GetVotedChoice returns the voter's live choice id, or 0 when the voter has
// no live vote. Unknown polls fail with ErrPollNotFound.
func (q PollQueries) GetVotedChoice(ctx context.Context, pollID uint64, voter string) (int, error) {
	voter = entities.NormalizeIdentity(voter)
	choiceID := 0
	err := q.Ledger.View(ctx, func(ctx context.Context, view ports.LedgerView) error {
		if _, err := view.GetPoll(ctx, pollID); err != nil {
			return err
		}
		vote, found, err := view.GetVote(ctx, pollID, voter)
		if err != nil {
			return err
		}
		if found {
			choiceID = vote.ChoiceID
		}
		return nil
	})
	return choiceID, err
}

func (q PollQueries) ListVotes(ctx context.Context, pollID uint64) ([]entities.Vote, error) {
	var votes []entities.Vote
	err := q.Ledger.View(ctx, func(ctx context.Context, view ports.LedgerView) error {
		if _, err := view.GetPoll(ctx, pollID); err != nil {
			return err
		}
		var err error
		votes, err = view.ListVotes(ctx, pollID)
		return err
	})
	return votes, err
}

// ListEvents pages through the journal strictly after afterSeq. Callers poll
// with the last Seq they saw.
func (q PollQueries) ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]entities.Event, error) {
	if limit <= 0 {
		limit = defaultEventPageSize
	}
	if limit > maxEventPageSize {
		limit = maxEventPageSize
	}
	var events []entities.Event
	err := q.Ledger.View(ctx, func(ctx context.Context, view ports.LedgerView) error {
		var err error
		events, err = view.ListEvents(ctx, afterSeq, limit)
		return err
	})
	return events, err
}

// ProjectionQueries reads the event-sourced tally cache kept by the projector.
type ProjectionQueries struct {
	Projections ports.TallyProjectionStore
}

func (q ProjectionQueries) GetProjection(ctx context.Context, pollID uint64) (ports.TallyProjection, bool, error) {
	if q.Projections == nil {
		return ports.TallyProjection{}, false, nil
	}
	return q.Projections.GetProjection(ctx, pollID)
}
