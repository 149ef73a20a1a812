package commands

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	application "agora/contexts/governance/poll-registry/application"
	"agora/contexts/governance/poll-registry/application/weighting"
	"agora/contexts/governance/poll-registry/domain/entities"
	domainerrors "agora/contexts/governance/poll-registry/domain/errors"
	"agora/contexts/governance/poll-registry/domain/services"
	"agora/contexts/governance/poll-registry/ports"
)

var errNoAssetGateway = errors.New("asset gateway is not configured")

type CastVoteCommand struct {
	PollID         uint64
	Voter          string
	ChoiceID       int
	Deposit        uint64
	IdempotencyKey string
}

type CancelVoteCommand struct {
	PollID         uint64
	Voter          string
	IdempotencyKey string
}

// ChangeVoteCommand replaces a live vote in one ledger transaction.
type ChangeVoteCommand struct {
	PollID         uint64
	Voter          string
	ChoiceID       int
	Deposit        uint64
	IdempotencyKey string
}

// VoteResult carries the poll state after the command. For cancellations Vote
// is the vote that was removed.
type VoteResult struct {
	Poll     entities.Poll
	Vote     entities.Vote
	Replayed bool
}

type voteReceipt struct {
	ChoiceID int       `json:"choice_id"`
	Weight   uint64    `json:"weight"`
	Deposit  uint64    `json:"deposit"`
	CastAt   time.Time `json:"cast_at"`
}

type VoteUseCase struct {
	Ledger         ports.Ledger
	Assets         ports.AssetGateway
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

// CastVote records a vote for choiceID. In deposit mode the deposit is pulled
// from the voter into escrow as the final step of the transaction, so a failed
// pull rolls the whole vote back.
func (uc VoteUseCase) CastVote(ctx context.Context, cmd CastVoteCommand) (VoteResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	voter := entities.NormalizeIdentity(cmd.Voter)
	logger.Info("vote cast processing started",
		"event", "vote_cast_started",
		"module", application.Module,
		"layer", "application",
		"poll_id", cmd.PollID,
		"voter", voter,
		"choice_id", cmd.ChoiceID,
	)
	if voter == "" {
		return VoteResult{}, domainerrors.ErrInvalidPollInput
	}

	now := resolveNow(uc.Clock)
	key := strings.TrimSpace(cmd.IdempotencyKey)
	requestHash := hashCommand("cast_vote", map[string]string{
		"poll_id":   strconv.FormatUint(cmd.PollID, 10),
		"voter":     voter,
		"choice_id": strconv.Itoa(cmd.ChoiceID),
		"deposit":   strconv.FormatUint(cmd.Deposit, 10),
	})

	var (
		result VoteResult
		pulled uint64
		asset  string
	)
	err := uc.Ledger.Apply(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		pulled = 0
		record, replay, err := lookupReplay(ctx, tx, key, requestHash, now)
		if err != nil {
			return err
		}
		poll, err := tx.GetPoll(ctx, cmd.PollID)
		if err != nil {
			return err
		}
		if replay {
			result, err = replayedVote(poll, voter, record)
			return err
		}

		if !poll.IsOpen(now) {
			return domainerrors.ErrVotingClosed
		}
		if !poll.HasChoice(cmd.ChoiceID) {
			return domainerrors.ErrUnknownChoice
		}
		if _, found, err := tx.GetVote(ctx, poll.PollID, voter); err != nil {
			return err
		} else if found {
			return domainerrors.ErrAlreadyVoted
		}

		vote, err := uc.newVote(ctx, poll, voter, cmd.ChoiceID, cmd.Deposit, now)
		if err != nil {
			return err
		}
		updated, err := services.CountVote(poll, vote)
		if err != nil {
			return err
		}
		updated.UpdatedAt = now
		if err := tx.SavePoll(ctx, updated); err != nil {
			return err
		}
		if err := tx.SaveVote(ctx, vote); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, uc.IDGen, entities.EventVoteCast, poll.PollID, now, votePayload(vote)); err != nil {
			return err
		}
		if err := rememberReplay(ctx, tx, key, requestHash, poll.PollID, receiptOf(vote), now.Add(resolveTTL(uc.IdempotencyTTL))); err != nil {
			return err
		}

		if vote.Deposit > 0 {
			if err := uc.pullDeposit(ctx, poll.WeightAsset, voter, vote.Deposit); err != nil {
				return err
			}
			pulled = vote.Deposit
			asset = poll.WeightAsset
		}
		result = VoteResult{Poll: updated, Vote: vote}
		return nil
	})
	if err != nil {
		if pulled > 0 {
			uc.refundDeposit(ctx, logger, cmd.PollID, asset, voter, pulled)
		}
		logger.Warn("vote cast rejected",
			"event", "vote_cast_rejected",
			"module", application.Module,
			"layer", "application",
			"poll_id", cmd.PollID,
			"voter", voter,
			"error", err.Error(),
		)
		return VoteResult{}, err
	}

	logger.Info("vote cast",
		"event", "vote_cast_completed",
		"module", application.Module,
		"layer", "application",
		"poll_id", result.Poll.PollID,
		"voter", voter,
		"choice_id", result.Vote.ChoiceID,
		"weight", result.Vote.Weight,
		"deposit", result.Vote.Deposit,
		"replayed", result.Replayed,
	)
	return result, nil
}

// CancelVote removes the voter's live vote and releases any escrowed deposit
// back to the voter.
func (uc VoteUseCase) CancelVote(ctx context.Context, cmd CancelVoteCommand) (VoteResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	voter := entities.NormalizeIdentity(cmd.Voter)
	if voter == "" {
		return VoteResult{}, domainerrors.ErrInvalidPollInput
	}

	now := resolveNow(uc.Clock)
	key := strings.TrimSpace(cmd.IdempotencyKey)
	requestHash := hashCommand("cancel_vote", map[string]string{
		"poll_id": strconv.FormatUint(cmd.PollID, 10),
		"voter":   voter,
	})

	var (
		result   VoteResult
		released uint64
	)
	err := uc.Ledger.Apply(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		released = 0
		record, replay, err := lookupReplay(ctx, tx, key, requestHash, now)
		if err != nil {
			return err
		}
		poll, err := tx.GetPoll(ctx, cmd.PollID)
		if err != nil {
			return err
		}
		if replay {
			result, err = replayedVote(poll, voter, record)
			return err
		}

		if !poll.IsOpen(now) {
			return domainerrors.ErrVotingClosed
		}
		vote, found, err := tx.GetVote(ctx, poll.PollID, voter)
		if err != nil {
			return err
		}
		if !found {
			return domainerrors.ErrNoActiveVote
		}
		updated, err := services.UncountVote(poll, vote)
		if err != nil {
			return err
		}
		updated.UpdatedAt = now
		if err := tx.SavePoll(ctx, updated); err != nil {
			return err
		}
		if err := tx.DeleteVote(ctx, poll.PollID, voter); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, uc.IDGen, entities.EventVoteCancelled, poll.PollID, now, votePayload(vote)); err != nil {
			return err
		}
		if err := rememberReplay(ctx, tx, key, requestHash, poll.PollID, receiptOf(vote), now.Add(resolveTTL(uc.IdempotencyTTL))); err != nil {
			return err
		}

		if vote.Deposit > 0 {
			if err := uc.releaseDeposit(ctx, poll.WeightAsset, voter, vote.Deposit); err != nil {
				return err
			}
			released = vote.Deposit
		}
		result = VoteResult{Poll: updated, Vote: vote}
		return nil
	})
	if err != nil {
		if released > 0 {
			uc.logUnreconciled(logger, cmd.PollID, voter, released, err)
		}
		logger.Warn("vote cancel rejected",
			"event", "vote_cancel_rejected",
			"module", application.Module,
			"layer", "application",
			"poll_id", cmd.PollID,
			"voter", voter,
			"error", err.Error(),
		)
		return VoteResult{}, err
	}

	logger.Info("vote cancelled",
		"event", "vote_cancel_completed",
		"module", application.Module,
		"layer", "application",
		"poll_id", result.Poll.PollID,
		"voter", voter,
		"choice_id", result.Vote.ChoiceID,
		"weight", result.Vote.Weight,
		"replayed", result.Replayed,
	)
	return result, nil
}

// ChangeVote cancels the live vote and casts a new one atomically. A poll's
// asset is fixed, so only the difference between the old and new deposit
// moves: a larger deposit pulls the increase, a smaller one releases the
// surplus. A failed pull leaves the previous vote in place.
func (uc VoteUseCase) ChangeVote(ctx context.Context, cmd ChangeVoteCommand) (VoteResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	voter := entities.NormalizeIdentity(cmd.Voter)
	if voter == "" {
		return VoteResult{}, domainerrors.ErrInvalidPollInput
	}

	now := resolveNow(uc.Clock)
	key := strings.TrimSpace(cmd.IdempotencyKey)
	requestHash := hashCommand("change_vote", map[string]string{
		"poll_id":   strconv.FormatUint(cmd.PollID, 10),
		"voter":     voter,
		"choice_id": strconv.Itoa(cmd.ChoiceID),
		"deposit":   strconv.FormatUint(cmd.Deposit, 10),
	})

	var (
		result   VoteResult
		pulled   uint64
		released uint64
		asset    string
	)
	err := uc.Ledger.Apply(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		pulled, released = 0, 0
		record, replay, err := lookupReplay(ctx, tx, key, requestHash, now)
		if err != nil {
			return err
		}
		poll, err := tx.GetPoll(ctx, cmd.PollID)
		if err != nil {
			return err
		}
		if replay {
			result, err = replayedVote(poll, voter, record)
			return err
		}

		if !poll.IsOpen(now) {
			return domainerrors.ErrVotingClosed
		}
		if !poll.HasChoice(cmd.ChoiceID) {
			return domainerrors.ErrUnknownChoice
		}
		previous, found, err := tx.GetVote(ctx, poll.PollID, voter)
		if err != nil {
			return err
		}
		if !found {
			return domainerrors.ErrNoActiveVote
		}

		updated, err := services.UncountVote(poll, previous)
		if err != nil {
			return err
		}
		vote, err := uc.newVote(ctx, updated, voter, cmd.ChoiceID, cmd.Deposit, now)
		if err != nil {
			return err
		}
		updated, err = services.CountVote(updated, vote)
		if err != nil {
			return err
		}
		updated.UpdatedAt = now
		if err := tx.SavePoll(ctx, updated); err != nil {
			return err
		}
		if err := tx.SaveVote(ctx, vote); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, uc.IDGen, entities.EventVoteCancelled, poll.PollID, now, votePayload(previous)); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, uc.IDGen, entities.EventVoteCast, poll.PollID, now, votePayload(vote)); err != nil {
			return err
		}
		if err := rememberReplay(ctx, tx, key, requestHash, poll.PollID, receiptOf(vote), now.Add(resolveTTL(uc.IdempotencyTTL))); err != nil {
			return err
		}

		asset = poll.WeightAsset
		switch {
		case vote.Deposit > previous.Deposit:
			increase := vote.Deposit - previous.Deposit
			if err := uc.pullDeposit(ctx, asset, voter, increase); err != nil {
				return err
			}
			pulled = increase
		case previous.Deposit > vote.Deposit:
			surplus := previous.Deposit - vote.Deposit
			if err := uc.releaseDeposit(ctx, asset, voter, surplus); err != nil {
				return err
			}
			released = surplus
		}
		result = VoteResult{Poll: updated, Vote: vote}
		return nil
	})
	if err != nil {
		if pulled > 0 {
			uc.refundDeposit(ctx, logger, cmd.PollID, asset, voter, pulled)
		}
		if released > 0 {
			uc.logUnreconciled(logger, cmd.PollID, voter, released, err)
		}
		logger.Warn("vote change rejected",
			"event", "vote_change_rejected",
			"module", application.Module,
			"layer", "application",
			"poll_id", cmd.PollID,
			"voter", voter,
			"error", err.Error(),
		)
		return VoteResult{}, err
	}

	logger.Info("vote changed",
		"event", "vote_change_completed",
		"module", application.Module,
		"layer", "application",
		"poll_id", result.Poll.PollID,
		"voter", voter,
		"choice_id", result.Vote.ChoiceID,
		"weight", result.Vote.Weight,
		"replayed", result.Replayed,
	)
	return result, nil
}

func (uc VoteUseCase) newVote(
	ctx context.Context,
	poll entities.Poll,
	voter string,
	choiceID int,
	deposit uint64,
	now time.Time,
) (entities.Vote, error) {
	resolver := weighting.Resolver{Assets: uc.Assets}
	weight, err := resolver.Resolve(ctx, weighting.Request{Poll: poll, Voter: voter, Deposit: deposit})
	if err != nil {
		return entities.Vote{}, err
	}
	vote := entities.Vote{
		PollID:   poll.PollID,
		Voter:    voter,
		ChoiceID: choiceID,
		Weight:   weight,
		CastAt:   now,
	}
	if poll.WeightMode.Escrows() {
		vote.Deposit = weight
	}
	return vote, nil
}

func (uc VoteUseCase) pullDeposit(ctx context.Context, asset string, voter string, amount uint64) error {
	if uc.Assets == nil {
		return errors.Join(domainerrors.ErrTransferFailed, errNoAssetGateway)
	}
	if err := uc.Assets.TransferFrom(ctx, asset, voter, uc.Assets.EscrowAccount(), amount); err != nil {
		return errors.Join(domainerrors.ErrTransferFailed, err)
	}
	return nil
}

func (uc VoteUseCase) releaseDeposit(ctx context.Context, asset string, voter string, amount uint64) error {
	if uc.Assets == nil {
		return errors.Join(domainerrors.ErrTransferFailed, errNoAssetGateway)
	}
	if err := uc.Assets.Transfer(ctx, asset, voter, amount); err != nil {
		return errors.Join(domainerrors.ErrTransferFailed, err)
	}
	return nil
}

// refundDeposit compensates a deposit that was pulled inside a transaction
// which then failed to commit.
func (uc VoteUseCase) refundDeposit(
	ctx context.Context,
	logger *slog.Logger,
	pollID uint64,
	asset string,
	voter string,
	amount uint64,
) {
	if err := uc.releaseDeposit(context.WithoutCancel(ctx), asset, voter, amount); err != nil {
		uc.logUnreconciled(logger, pollID, voter, amount, err)
		return
	}
	logger.Warn("deposit refunded after failed commit",
		"event", "vote_deposit_refunded",
		"module", application.Module,
		"layer", "application",
		"poll_id", pollID,
		"voter", voter,
		"amount", amount,
	)
}

func (uc VoteUseCase) logUnreconciled(logger *slog.Logger, pollID uint64, voter string, amount uint64, err error) {
	logger.Error("escrow movement not reconciled with ledger",
		"event", "vote_escrow_unreconciled",
		"module", application.Module,
		"layer", "application",
		"poll_id", pollID,
		"voter", voter,
		"amount", amount,
		"error", err.Error(),
	)
}

func receiptOf(vote entities.Vote) voteReceipt {
	return voteReceipt{
		ChoiceID: vote.ChoiceID,
		Weight:   vote.Weight,
		Deposit:  vote.Deposit,
		CastAt:   vote.CastAt,
	}
}

func replayedVote(poll entities.Poll, voter string, record ports.IdempotencyRecord) (VoteResult, error) {
	var receipt voteReceipt
	if err := json.Unmarshal(record.Receipt, &receipt); err != nil {
		return VoteResult{}, err
	}
	return VoteResult{
		Poll: poll,
		Vote: entities.Vote{
			PollID:   poll.PollID,
			Voter:    voter,
			ChoiceID: receipt.ChoiceID,
			Weight:   receipt.Weight,
			Deposit:  receipt.Deposit,
			CastAt:   receipt.CastAt,
		},
		Replayed: true,
	}, nil
}
