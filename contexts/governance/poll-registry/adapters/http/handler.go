package httpadapter

import (
	"context"
	"log/slog"

	"agora/contexts/governance/poll-registry/application/commands"
	"agora/contexts/governance/poll-registry/application/queries"
	"agora/contexts/governance/poll-registry/domain/entities"
	domainerrors "agora/contexts/governance/poll-registry/domain/errors"
	httptransport "agora/contexts/governance/poll-registry/transport/http"
)

type Handler struct {
	Polls       commands.PollUseCase
	Votes       commands.VoteUseCase
	Queries     queries.PollQueries
	Projections queries.ProjectionQueries
	Logger      *slog.Logger
}

func (h Handler) CreatePollHandler(
	ctx context.Context,
	owner string,
	idempotencyKey string,
	req httptransport.CreatePollRequest,
) (httptransport.PollResponse, error) {
	result, err := h.Polls.CreatePoll(ctx, commands.CreatePollCommand{
		Owner:          owner,
		IdempotencyKey: idempotencyKey,
		Kind:           req.Kind,
		Topic:          req.Topic,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		Choices:        req.Choices,
		WeightMode:     req.WeightMode,
		WeightAsset:    req.WeightAsset,
	})
	if err != nil {
		return httptransport.PollResponse{}, err
	}
	resp := mapPoll(result.Poll)
	resp.Replayed = result.Replayed
	return resp, nil
}

func (h Handler) AddChoiceHandler(
	ctx context.Context,
	caller string,
	pollID uint64,
	idempotencyKey string,
	req httptransport.AddChoiceRequest,
) (httptransport.AddChoiceResponse, error) {
	result, err := h.Polls.AddChoice(ctx, commands.AddChoiceCommand{
		PollID:         pollID,
		Caller:         caller,
		IdempotencyKey: idempotencyKey,
		Name:           req.Name,
	})
	if err != nil {
		return httptransport.AddChoiceResponse{}, err
	}
	resp := httptransport.AddChoiceResponse{
		PollID:   result.Poll.PollID,
		ChoiceID: result.ChoiceID,
		Replayed: result.Replayed,
	}
	if result.ChoiceID >= 1 && result.ChoiceID <= len(result.Poll.Choices) {
		resp.Name = result.Poll.Choices[result.ChoiceID-1].Name
	}
	return resp, nil
}

func (h Handler) GetPollHandler(ctx context.Context, pollID uint64) (httptransport.PollResponse, error) {
	poll, err := h.Queries.GetPoll(ctx, pollID)
	if err != nil {
		return httptransport.PollResponse{}, err
	}
	return mapPoll(poll), nil
}

func (h Handler) ListPollsHandler(ctx context.Context) (httptransport.PollIndexResponse, error) {
	index, err := h.Queries.GetPolls(ctx)
	if err != nil {
		return httptransport.PollIndexResponse{}, err
	}
	kinds := make([]string, 0, len(index.Kinds))
	for _, kind := range index.Kinds {
		kinds = append(kinds, string(kind))
	}
	return httptransport.PollIndexResponse{
		IDs:    index.IDs,
		Kinds:  kinds,
		Owners: index.Owners,
		Topics: index.Topics,
	}, nil
}

func (h Handler) CastVoteHandler(
	ctx context.Context,
	voter string,
	pollID uint64,
	idempotencyKey string,
	req httptransport.CastVoteRequest,
) (httptransport.VoteResponse, error) {
	result, err := h.Votes.CastVote(ctx, commands.CastVoteCommand{
		PollID:         pollID,
		Voter:          voter,
		ChoiceID:       req.ChoiceID,
		Deposit:        req.Deposit,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return httptransport.VoteResponse{}, err
	}
	return mapVoteResult(result), nil
}

func (h Handler) ChangeVoteHandler(
	ctx context.Context,
	voter string,
	pollID uint64,
	idempotencyKey string,
	req httptransport.CastVoteRequest,
) (httptransport.VoteResponse, error) {
	result, err := h.Votes.ChangeVote(ctx, commands.ChangeVoteCommand{
		PollID:         pollID,
		Voter:          voter,
		ChoiceID:       req.ChoiceID,
		Deposit:        req.Deposit,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return httptransport.VoteResponse{}, err
	}
	return mapVoteResult(result), nil
}

func (h Handler) CancelVoteHandler(
	ctx context.Context,
	voter string,
	pollID uint64,
	idempotencyKey string,
) (httptransport.VoteResponse, error) {
	result, err := h.Votes.CancelVote(ctx, commands.CancelVoteCommand{
		PollID:         pollID,
		Voter:          voter,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return httptransport.VoteResponse{}, err
	}
	return mapVoteResult(result), nil
}

func (h Handler) ListVotesHandler(ctx context.Context, pollID uint64) (httptransport.ListVotesResponse, error) {
	votes, err := h.Queries.ListVotes(ctx, pollID)
	if err != nil {
		return httptransport.ListVotesResponse{}, err
	}
	items := make([]httptransport.VoteItem, 0, len(votes))
	for _, vote := range votes {
		items = append(items, httptransport.VoteItem{
			Voter:    vote.Voter,
			ChoiceID: vote.ChoiceID,
			Weight:   vote.Weight,
			Deposit:  vote.Deposit,
			CastAt:   vote.CastAt,
		})
	}
	return httptransport.ListVotesResponse{PollID: pollID, Items: items}, nil
}

func (h Handler) VotedChoiceHandler(ctx context.Context, pollID uint64, voter string) (httptransport.VotedChoiceResponse, error) {
	choiceID, err := h.Queries.GetVotedChoice(ctx, pollID, voter)
	if err != nil {
		return httptransport.VotedChoiceResponse{}, err
	}
	return httptransport.VotedChoiceResponse{
		PollID:   pollID,
		Voter:    entities.NormalizeIdentity(voter),
		ChoiceID: choiceID,
	}, nil
}

func (h Handler) ListEventsHandler(ctx context.Context, afterSeq uint64, limit int) (httptransport.ListEventsResponse, error) {
	events, err := h.Queries.ListEvents(ctx, afterSeq, limit)
	if err != nil {
		return httptransport.ListEventsResponse{}, err
	}
	resp := httptransport.ListEventsResponse{
		Items:   make([]httptransport.EventItem, 0, len(events)),
		NextSeq: afterSeq,
	}
	for _, event := range events {
		resp.Items = append(resp.Items, httptransport.EventItem{
			Seq:        event.Seq,
			EventID:    event.EventID,
			EventType:  string(event.EventType),
			PollID:     event.PollID,
			Payload:    event.Payload,
			OccurredAt: event.OccurredAt,
		})
		resp.NextSeq = event.Seq
	}
	return resp, nil
}

func (h Handler) TallyProjectionHandler(ctx context.Context, pollID uint64) (httptransport.TallyProjectionResponse, error) {
	projection, found, err := h.Projections.GetProjection(ctx, pollID)
	if err != nil {
		return httptransport.TallyProjectionResponse{}, err
	}
	if !found {
		return httptransport.TallyProjectionResponse{}, domainerrors.ErrPollNotFound
	}
	return httptransport.TallyProjectionResponse{
		PollID:    projection.PollID,
		Topic:     projection.Topic,
		Choices:   projection.Choices,
		Tallies:   projection.Tallies,
		Voters:    projection.Voters,
		LastEvent: projection.LastEvent,
		UpdatedAt: projection.UpdatedAt,
	}, nil
}

func mapPoll(poll entities.Poll) httptransport.PollResponse {
	choices := make([]httptransport.ChoiceResponse, 0, len(poll.Choices))
	for _, choice := range poll.Choices {
		choices = append(choices, httptransport.ChoiceResponse{
			ChoiceID: choice.ChoiceID,
			Name:     choice.Name,
			Tally:    choice.Tally,
		})
	}
	return httptransport.PollResponse{
		PollID:      poll.PollID,
		Kind:        string(poll.Kind),
		Owner:       poll.Owner,
		Topic:       poll.Topic,
		StartTime:   poll.StartTime,
		EndTime:     poll.EndTime,
		Choices:     choices,
		WeightMode:  string(poll.WeightMode),
		WeightAsset: poll.WeightAsset,
		Escrowed:    poll.Escrowed,
	}
}

func mapVoteResult(result commands.VoteResult) httptransport.VoteResponse {
	return httptransport.VoteResponse{
		PollID:   result.Poll.PollID,
		Voter:    result.Vote.Voter,
		ChoiceID: result.Vote.ChoiceID,
		Weight:   result.Vote.Weight,
		Deposit:  result.Vote.Deposit,
		CastAt:   result.Vote.CastAt,
		Tallies:  result.Poll.Tallies(),
		Replayed: result.Replayed,
	}
}
