package commands

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	application "agora/contexts/governance/poll-registry/application"
	"agora/contexts/governance/poll-registry/domain/entities"
	domainerrors "agora/contexts/governance/poll-registry/domain/errors"
	"agora/contexts/governance/poll-registry/domain/services"
	"agora/contexts/governance/poll-registry/ports"
	contractsv1 "agora/contracts/gen/events/v1"
)

type CreatePollCommand struct {
	Owner          string
	IdempotencyKey string
	Kind           string
	Topic          string
	StartTime      time.Time
	EndTime        time.Time
	Choices        []string
	WeightMode     string
	WeightAsset    string
}

type CreatePollResult struct {
	Poll     entities.Poll
	Replayed bool
}

type AddChoiceCommand struct {
	PollID         uint64
	Caller         string
	IdempotencyKey string
	Name           string
}

type AddChoiceResult struct {
	Poll     entities.Poll
	ChoiceID int
	Replayed bool
}

type choiceReceipt struct {
	ChoiceID int `json:"choice_id"`
}

// PollUseCase is the registry side of the controller: it validates kind
// constraints, allocates poll ids and manages choice enrollment.
type PollUseCase struct {
	Ledger         ports.Ledger
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	Rules          services.PollRules
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

// CreatePoll validates the draft against its kind policy and persists the poll
// together with its poll.created event. A rejected draft leaves the registry
// untouched.
func (uc PollUseCase) CreatePoll(ctx context.Context, cmd CreatePollCommand) (CreatePollResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	owner := entities.NormalizeIdentity(cmd.Owner)
	logger.Info("poll create processing started",
		"event", "poll_create_started",
		"module", application.Module,
		"layer", "application",
		"owner", owner,
		"kind", strings.TrimSpace(cmd.Kind),
	)
	if owner == "" {
		return CreatePollResult{}, domainerrors.ErrInvalidPollInput
	}
	kind, ok := entities.ParsePollKind(cmd.Kind)
	if !ok {
		return CreatePollResult{}, domainerrors.ErrUnknownPollKind
	}
	mode, ok := entities.ParseWeightMode(cmd.WeightMode)
	if !ok {
		return CreatePollResult{}, domainerrors.ErrInvalidWeightConfig
	}
	draft, _, err := services.ValidateDraft(services.PollDraft{
		Kind:        kind,
		Topic:       cmd.Topic,
		StartTime:   cmd.StartTime.UTC(),
		EndTime:     cmd.EndTime.UTC(),
		Choices:     cmd.Choices,
		WeightMode:  mode,
		WeightAsset: cmd.WeightAsset,
	}, uc.Rules)
	if err != nil {
		logger.Warn("poll create validation failed",
			"event", "poll_create_validation_failed",
			"module", application.Module,
			"layer", "application",
			"owner", owner,
			"kind", string(kind),
			"error", err.Error(),
		)
		return CreatePollResult{}, err
	}

	now := resolveNow(uc.Clock)
	key := strings.TrimSpace(cmd.IdempotencyKey)
	requestHash := hashCommand("create_poll", map[string]string{
		"owner":        owner,
		"kind":         string(draft.Kind),
		"topic":        draft.Topic,
		"start_time":   draft.StartTime.Format(time.RFC3339Nano),
		"end_time":     draft.EndTime.Format(time.RFC3339Nano),
		"choices":      strings.Join(draft.Choices, "\x1f"),
		"weight_mode":  string(draft.WeightMode),
		"weight_asset": draft.WeightAsset,
	})

	var result CreatePollResult
	err = uc.Ledger.Apply(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		record, replay, err := lookupReplay(ctx, tx, key, requestHash, now)
		if err != nil {
			return err
		}
		if replay {
			poll, err := tx.GetPoll(ctx, record.PollID)
			if err != nil {
				return err
			}
			result = CreatePollResult{Poll: poll, Replayed: true}
			return nil
		}

		pollID, err := tx.NextPollID(ctx)
		if err != nil {
			return err
		}
		choices := make([]entities.Choice, 0, len(draft.Choices))
		for i, name := range draft.Choices {
			choices = append(choices, entities.Choice{ChoiceID: i + 1, Name: name})
		}
		poll := entities.Poll{
			PollID:      pollID,
			Kind:        draft.Kind,
			Owner:       owner,
			Topic:       draft.Topic,
			StartTime:   draft.StartTime,
			EndTime:     draft.EndTime,
			Choices:     choices,
			WeightMode:  draft.WeightMode,
			WeightAsset: draft.WeightAsset,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.SavePoll(ctx, poll); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, uc.IDGen, entities.EventPollCreated, pollID, now, contractsv1.PollCreated{
			PollID:      pollID,
			Kind:        string(poll.Kind),
			Owner:       poll.Owner,
			Topic:       poll.Topic,
			Choices:     draft.Choices,
			WeightMode:  string(poll.WeightMode),
			WeightAsset: poll.WeightAsset,
			StartTime:   poll.StartTime.Format(time.RFC3339),
			EndTime:     poll.EndTime.Format(time.RFC3339),
		}); err != nil {
			return err
		}
		if err := rememberReplay(ctx, tx, key, requestHash, pollID, struct{}{}, now.Add(resolveTTL(uc.IdempotencyTTL))); err != nil {
			return err
		}
		result = CreatePollResult{Poll: poll}
		return nil
	})
	if err != nil {
		logger.Warn("poll create rejected",
			"event", "poll_create_rejected",
			"module", application.Module,
			"layer", "application",
			"owner", owner,
			"error", err.Error(),
		)
		return CreatePollResult{}, err
	}

	logger.Info("poll created",
		"event", "poll_created",
		"module", application.Module,
		"layer", "application",
		"poll_id", result.Poll.PollID,
		"kind", string(result.Poll.Kind),
		"owner", result.Poll.Owner,
		"choices", len(result.Poll.Choices),
		"replayed", result.Replayed,
	)
	return result, nil
}

// AddChoice appends a choice with the next dense id. Enrollment window, owner
// restriction and the choice cap come from the configured rules.
func (uc PollUseCase) AddChoice(ctx context.Context, cmd AddChoiceCommand) (AddChoiceResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	caller := entities.NormalizeIdentity(cmd.Caller)
	if caller == "" || cmd.PollID == 0 {
		return AddChoiceResult{}, domainerrors.ErrInvalidPollInput
	}

	now := resolveNow(uc.Clock)
	key := strings.TrimSpace(cmd.IdempotencyKey)
	requestHash := hashCommand("add_choice", map[string]string{
		"poll_id": strconv.FormatUint(cmd.PollID, 10),
		"caller":  caller,
		"name":    cmd.Name,
	})

	var result AddChoiceResult
	err := uc.Ledger.Apply(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		record, replay, err := lookupReplay(ctx, tx, key, requestHash, now)
		if err != nil {
			return err
		}
		poll, err := tx.GetPoll(ctx, cmd.PollID)
		if err != nil {
			return err
		}
		if replay {
			var receipt choiceReceipt
			if err := json.Unmarshal(record.Receipt, &receipt); err != nil {
				return err
			}
			result = AddChoiceResult{Poll: poll, ChoiceID: receipt.ChoiceID, Replayed: true}
			return nil
		}

		name, err := services.CheckEnrollment(poll, caller, cmd.Name, uc.Rules, now)
		if err != nil {
			return err
		}
		choiceID := len(poll.Choices) + 1
		poll = poll.Clone()
		poll.Choices = append(poll.Choices, entities.Choice{ChoiceID: choiceID, Name: name})
		poll.UpdatedAt = now
		if err := tx.SavePoll(ctx, poll); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, uc.IDGen, entities.EventChoiceAdded, poll.PollID, now, contractsv1.ChoiceAdded{
			PollID:   poll.PollID,
			ChoiceID: choiceID,
			Name:     name,
		}); err != nil {
			return err
		}
		if err := rememberReplay(ctx, tx, key, requestHash, poll.PollID, choiceReceipt{ChoiceID: choiceID}, now.Add(resolveTTL(uc.IdempotencyTTL))); err != nil {
			return err
		}
		result = AddChoiceResult{Poll: poll, ChoiceID: choiceID}
		return nil
	})
	if err != nil {
		logger.Warn("choice add rejected",
			"event", "poll_choice_add_rejected",
			"module", application.Module,
			"layer", "application",
			"poll_id", cmd.PollID,
			"caller", caller,
			"error", err.Error(),
		)
		return AddChoiceResult{}, err
	}

	logger.Info("choice added",
		"event", "poll_choice_added",
		"module", application.Module,
		"layer", "application",
		"poll_id", result.Poll.PollID,
		"choice_id", result.ChoiceID,
		"replayed", result.Replayed,
	)
	return result, nil
}
