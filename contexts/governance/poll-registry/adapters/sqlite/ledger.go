package sqliteadapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"agora/contexts/governance/poll-registry/domain/entities"
	domainerrors "agora/contexts/governance/poll-registry/domain/errors"
	"agora/contexts/governance/poll-registry/ports"
)

type ledgerHead struct {
	lastPollID   uint64
	lastEventSeq uint64
}

const pollColumns = `poll_id, kind, owner, topic, start_time, end_time, weight_mode, weight_asset, escrowed, created_at, updated_at`

type reader struct {
	tx *sql.Tx
}

func (r reader) GetPoll(ctx context.Context, pollID uint64) (entities.Poll, error) {
	poll, err := scanPoll(r.tx.QueryRowContext(ctx, `SELECT `+pollColumns+` FROM polls WHERE poll_id = ?`, pollID))
	if errors.Is(err, sql.ErrNoRows) {
		return entities.Poll{}, domainerrors.ErrPollNotFound
	}
	if err != nil {
		return entities.Poll{}, fmt.Errorf("get poll: %w", err)
	}
	choices, err := r.choices(ctx, `WHERE poll_id = ?`, pollID)
	if err != nil {
		return entities.Poll{}, err
	}
	poll.Choices = choices[pollID]
	if poll.Choices == nil {
		poll.Choices = []entities.Choice{}
	}
	return poll, nil
}

func (r reader) ListPolls(ctx context.Context) ([]entities.Poll, error) {
	rows, err := r.tx.QueryContext(ctx, `SELECT `+pollColumns+` FROM polls ORDER BY poll_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	defer rows.Close()

	items := make([]entities.Poll, 0)
	for rows.Next() {
		poll, err := scanPoll(rows)
		if err != nil {
			return nil, fmt.Errorf("scan poll: %w", err)
		}
		items = append(items, poll)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate polls: %w", err)
	}
	choices, err := r.choices(ctx, ``)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Choices = choices[items[i].PollID]
		if items[i].Choices == nil {
			items[i].Choices = []entities.Choice{}
		}
	}
	return items, nil
}

func (r reader) choices(ctx context.Context, where string, args ...any) (map[uint64][]entities.Choice, error) {
	rows, err := r.tx.QueryContext(ctx,
		`SELECT poll_id, choice_id, name, tally FROM poll_choices `+where+` ORDER BY poll_id ASC, choice_id ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list choices: %w", err)
	}
	defer rows.Close()

	byPoll := make(map[uint64][]entities.Choice)
	for rows.Next() {
		var (
			pollID uint64
			choice entities.Choice
		)
		if err := rows.Scan(&pollID, &choice.ChoiceID, &choice.Name, &choice.Tally); err != nil {
			return nil, fmt.Errorf("scan choice: %w", err)
		}
		byPoll[pollID] = append(byPoll[pollID], choice)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate choices: %w", err)
	}
	return byPoll, nil
}

func (r reader) GetVote(ctx context.Context, pollID uint64, voter string) (entities.Vote, bool, error) {
	vote := entities.Vote{PollID: pollID, Voter: entities.NormalizeIdentity(voter)}
	var castAt int64
	err := r.tx.QueryRowContext(ctx,
		`SELECT choice_id, weight, deposit, cast_at FROM poll_votes WHERE poll_id = ? AND voter = ?`,
		pollID,
		vote.Voter,
	).Scan(&vote.ChoiceID, &vote.Weight, &vote.Deposit, &castAt)
	if errors.Is(err, sql.ErrNoRows) {
		return entities.Vote{}, false, nil
	}
	if err != nil {
		return entities.Vote{}, false, fmt.Errorf("get vote: %w", err)
	}
	vote.CastAt = fromNanos(castAt)
	return vote, true, nil
}

func (r reader) ListVotes(ctx context.Context, pollID uint64) ([]entities.Vote, error) {
	rows, err := r.tx.QueryContext(ctx,
		`SELECT voter, choice_id, weight, deposit, cast_at
		   FROM poll_votes
		  WHERE poll_id = ?
		  ORDER BY cast_at ASC, voter ASC`,
		pollID,
	)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	items := make([]entities.Vote, 0)
	for rows.Next() {
		vote := entities.Vote{PollID: pollID}
		var castAt int64
		if err := rows.Scan(&vote.Voter, &vote.ChoiceID, &vote.Weight, &vote.Deposit, &castAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		vote.CastAt = fromNanos(castAt)
		items = append(items, vote)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate votes: %w", err)
	}
	return items, nil
}

func (r reader) ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]entities.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.tx.QueryContext(ctx,
		`SELECT seq, event_id, event_type, poll_id, payload, occurred_at, published_at
		   FROM ledger_events
		  WHERE seq > ?
		  ORDER BY seq ASC
		  LIMIT ?`,
		afterSeq,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return scanEvents(rows)
}

func (r reader) GetIdempotency(ctx context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	record := ports.IdempotencyRecord{Key: strings.TrimSpace(key)}
	var expiresAt int64
	err := r.tx.QueryRowContext(ctx,
		`SELECT request_hash, poll_id, receipt, expires_at
		   FROM poll_idempotency_keys
		  WHERE key = ? AND expires_at > ?`,
		record.Key,
		toNanos(now),
	).Scan(&record.RequestHash, &record.PollID, &record.Receipt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return ports.IdempotencyRecord{}, false, fmt.Errorf("get idempotency key: %w", err)
	}
	record.ExpiresAt = fromNanos(expiresAt)
	return record, true, nil
}

type ledgerTx struct {
	reader
	head *ledgerHead
}

func (tx *ledgerTx) NextPollID(_ context.Context) (uint64, error) {
	tx.head.lastPollID++
	return tx.head.lastPollID, nil
}

func (tx *ledgerTx) SavePoll(ctx context.Context, poll entities.Poll) error {
	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO polls (`+pollColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (poll_id) DO UPDATE SET
		   topic = excluded.topic,
		   start_time = excluded.start_time,
		   end_time = excluded.end_time,
		   weight_mode = excluded.weight_mode,
		   weight_asset = excluded.weight_asset,
		   escrowed = excluded.escrowed,
		   updated_at = excluded.updated_at`,
		poll.PollID,
		string(poll.Kind),
		poll.Owner,
		poll.Topic,
		toNanos(poll.StartTime),
		toNanos(poll.EndTime),
		string(poll.WeightMode),
		poll.WeightAsset,
		poll.Escrowed,
		toNanos(poll.CreatedAt),
		toNanos(poll.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save poll %d: %w", poll.PollID, err)
	}
	for _, choice := range poll.Choices {
		if _, err := tx.tx.ExecContext(ctx,
			`INSERT INTO poll_choices (poll_id, choice_id, name, tally)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (poll_id, choice_id) DO UPDATE SET
			   name = excluded.name,
			   tally = excluded.tally`,
			poll.PollID,
			choice.ChoiceID,
			choice.Name,
			choice.Tally,
		); err != nil {
			return fmt.Errorf("save choice %d of poll %d: %w", choice.ChoiceID, poll.PollID, err)
		}
	}
	return nil
}

func (tx *ledgerTx) SaveVote(ctx context.Context, vote entities.Vote) error {
	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO poll_votes (poll_id, voter, choice_id, weight, deposit, cast_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (poll_id, voter) DO UPDATE SET
		   choice_id = excluded.choice_id,
		   weight = excluded.weight,
		   deposit = excluded.deposit,
		   cast_at = excluded.cast_at`,
		vote.PollID,
		entities.NormalizeIdentity(vote.Voter),
		vote.ChoiceID,
		vote.Weight,
		vote.Deposit,
		toNanos(vote.CastAt),
	)
	if err != nil {
		return fmt.Errorf("save vote: %w", err)
	}
	return nil
}

func (tx *ledgerTx) DeleteVote(ctx context.Context, pollID uint64, voter string) error {
	if _, err := tx.tx.ExecContext(ctx,
		`DELETE FROM poll_votes WHERE poll_id = ? AND voter = ?`,
		pollID,
		entities.NormalizeIdentity(voter),
	); err != nil {
		return fmt.Errorf("delete vote: %w", err)
	}
	return nil
}

func (tx *ledgerTx) AppendEvent(ctx context.Context, event entities.Event) (entities.Event, error) {
	tx.head.lastEventSeq++
	event.Seq = tx.head.lastEventSeq
	event.EventID = strings.TrimSpace(event.EventID)
	event.OccurredAt = event.OccurredAt.UTC()
	event.PublishedAt = nil
	payload := event.Payload
	if payload == nil {
		payload = []byte{}
	}
	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO ledger_events (seq, event_id, event_type, poll_id, payload, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.Seq,
		event.EventID,
		string(event.EventType),
		event.PollID,
		payload,
		toNanos(event.OccurredAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return entities.Event{}, domainerrors.ErrIdempotencyConflict
		}
		return entities.Event{}, fmt.Errorf("append event: %w", err)
	}
	return event, nil
}

func (tx *ledgerTx) PutIdempotency(ctx context.Context, record ports.IdempotencyRecord) error {
	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO poll_idempotency_keys (key, request_hash, poll_id, receipt, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET
		   request_hash = excluded.request_hash,
		   poll_id = excluded.poll_id,
		   receipt = excluded.receipt,
		   expires_at = excluded.expires_at`,
		strings.TrimSpace(record.Key),
		strings.TrimSpace(record.RequestHash),
		record.PollID,
		record.Receipt,
		toNanos(record.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put idempotency key: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPoll(row rowScanner) (entities.Poll, error) {
	var (
		poll                 entities.Poll
		kind, mode           string
		start, end           int64
		createdAt, updatedAt int64
	)
	if err := row.Scan(
		&poll.PollID,
		&kind,
		&poll.Owner,
		&poll.Topic,
		&start,
		&end,
		&mode,
		&poll.WeightAsset,
		&poll.Escrowed,
		&createdAt,
		&updatedAt,
	); err != nil {
		return entities.Poll{}, err
	}
	poll.Kind = entities.PollKind(kind)
	poll.WeightMode = entities.WeightMode(mode)
	poll.StartTime = fromNanos(start)
	poll.EndTime = fromNanos(end)
	poll.CreatedAt = fromNanos(createdAt)
	poll.UpdatedAt = fromNanos(updatedAt)
	return poll, nil
}

func scanEvents(rows *sql.Rows) ([]entities.Event, error) {
	defer rows.Close()
	items := make([]entities.Event, 0)
	for rows.Next() {
		var (
			event       entities.Event
			eventType   string
			occurredAt  int64
			publishedAt sql.NullInt64
		)
		if err := rows.Scan(
			&event.Seq,
			&event.EventID,
			&eventType,
			&event.PollID,
			&event.Payload,
			&occurredAt,
			&publishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.EventType = entities.EventType(eventType)
		event.OccurredAt = fromNanos(occurredAt)
		if publishedAt.Valid {
			at := fromNanos(publishedAt.Int64)
			event.PublishedAt = &at
		}
		items = append(items, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return items, nil
}
