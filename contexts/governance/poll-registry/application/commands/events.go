package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"agora/contexts/governance/poll-registry/domain/entities"
	domainerrors "agora/contexts/governance/poll-registry/domain/errors"
	"agora/contexts/governance/poll-registry/ports"
	contractsv1 "agora/contracts/gen/events/v1"
)

const defaultIdempotencyTTL = 7 * 24 * time.Hour

func appendEvent(
	ctx context.Context,
	tx ports.LedgerTx,
	ids ports.IDGenerator,
	eventType entities.EventType,
	pollID uint64,
	occurredAt time.Time,
	payload any,
) error {
	eventID, err := ids.NewID(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.AppendEvent(ctx, entities.Event{
		EventID:    eventID,
		EventType:  eventType,
		PollID:     pollID,
		Payload:    raw,
		OccurredAt: occurredAt.UTC(),
	})
	return err
}

func votePayload(vote entities.Vote) contractsv1.VoteChanged {
	return contractsv1.VoteChanged{
		PollID:   vote.PollID,
		Voter:    vote.Voter,
		ChoiceID: vote.ChoiceID,
		Weight:   vote.Weight,
		Deposit:  vote.Deposit,
	}
}

// lookupReplay resolves an idempotency key inside the running transaction.
// found is true only when the key exists with the same request hash.
func lookupReplay(
	ctx context.Context,
	view ports.LedgerView,
	key string,
	requestHash string,
	now time.Time,
) (ports.IdempotencyRecord, bool, error) {
	if key == "" {
		return ports.IdempotencyRecord{}, false, nil
	}
	record, found, err := view.GetIdempotency(ctx, key, now)
	if err != nil || !found {
		return ports.IdempotencyRecord{}, false, err
	}
	if record.RequestHash != requestHash {
		return ports.IdempotencyRecord{}, false, domainerrors.ErrIdempotencyConflict
	}
	return record, true, nil
}

func rememberReplay(
	ctx context.Context,
	tx ports.LedgerTx,
	key string,
	requestHash string,
	pollID uint64,
	receipt any,
	expiresAt time.Time,
) error {
	if key == "" {
		return nil
	}
	raw, err := json.Marshal(receipt)
	if err != nil {
		return err
	}
	return tx.PutIdempotency(ctx, ports.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		PollID:      pollID,
		Receipt:     raw,
		ExpiresAt:   expiresAt.UTC(),
	})
}

func hashCommand(op string, fields map[string]string) string {
	payload := make(map[string]string, len(fields)+1)
	for key, value := range fields {
		payload[key] = strings.TrimSpace(value)
	}
	payload["op"] = op
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func resolveNow(clock ports.Clock) time.Time {
	if clock != nil {
		return clock.Now().UTC()
	}
	return time.Now().UTC()
}

func resolveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return defaultIdempotencyTTL
	}
	return ttl
}
