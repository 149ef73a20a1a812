// Package sqliteadapter provides a SQLite-backed poll ledger for single-node
// deployments and local runs.
package sqliteadapter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"agora/contexts/governance/poll-registry/adapters/sqlite/migrations"
	"agora/contexts/governance/poll-registry/domain/entities"
	domainerrors "agora/contexts/governance/poll-registry/domain/errors"
	"agora/contexts/governance/poll-registry/ports"
	"agora/internal/platform/storage/sqlitemigrate"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists the ledger in one SQLite file. A single connection
// serializes every transaction.
type Store struct {
	sqlDB *sql.DB
}

func toNanos(value time.Time) int64 {
	return value.UTC().UnixNano()
}

func fromNanos(value int64) time.Time {
	return time.Unix(0, value).UTC()
}

// Open opens the ledger file at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlitemigrate.Apply(ctx, sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Apply(ctx context.Context, fn func(ctx context.Context, tx ports.LedgerTx) error) error {
	return s.inTx(ctx, nil, func(sqlTx *sql.Tx) error {
		var head ledgerHead
		if err := sqlTx.QueryRowContext(ctx,
			`SELECT last_poll_id, last_event_seq FROM ledger_heads WHERE id = 1`,
		).Scan(&head.lastPollID, &head.lastEventSeq); err != nil {
			return fmt.Errorf("load ledger head: %w", err)
		}
		start := head

		tx := &ledgerTx{reader: reader{tx: sqlTx}, head: &head}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if head == start {
			return nil
		}
		if _, err := sqlTx.ExecContext(ctx,
			`UPDATE ledger_heads SET last_poll_id = ?, last_event_seq = ? WHERE id = 1`,
			head.lastPollID,
			head.lastEventSeq,
		); err != nil {
			return fmt.Errorf("advance ledger head: %w", err)
		}
		return nil
	})
}

func (s *Store) View(ctx context.Context, fn func(ctx context.Context, view ports.LedgerView) error) error {
	return s.inTx(ctx, &sql.TxOptions{ReadOnly: true}, func(sqlTx *sql.Tx) error {
		return fn(ctx, reader{tx: sqlTx})
	})
}

func (s *Store) inTx(ctx context.Context, opts *sql.TxOptions, fn func(*sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	sqlTx, err := s.sqlDB.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(sqlTx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) ListPendingEvents(ctx context.Context, limit int) ([]entities.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT seq, event_id, event_type, poll_id, payload, occurred_at, published_at
		   FROM ledger_events
		  WHERE published_at IS NULL
		  ORDER BY seq ASC
		  LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	return scanEvents(rows)
}

func (s *Store) MarkEventPublished(ctx context.Context, seq uint64, publishedAt time.Time) error {
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE ledger_events SET published_at = ? WHERE seq = ?`,
		toNanos(publishedAt),
		seq,
	)
	if err != nil {
		return fmt.Errorf("mark event published: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark event published: %w", err)
	}
	if affected == 0 {
		return domainerrors.ErrEventNotFound
	}
	return nil
}

func (s *Store) ReserveEvent(ctx context.Context, eventID string, payloadHash string, now time.Time, expiresAt time.Time) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	payloadHash = strings.TrimSpace(payloadHash)
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO poll_event_dedup (event_id, payload_hash, expires_at, processed_at) VALUES (?, ?, ?, ?)`,
		eventID,
		payloadHash,
		toNanos(expiresAt),
		toNanos(now),
	)
	if err == nil {
		return false, nil
	}
	if !isConstraintViolation(err) {
		return false, fmt.Errorf("reserve event: %w", err)
	}

	var existingHash string
	var existingExpiry int64
	if err := s.sqlDB.QueryRowContext(ctx,
		`SELECT payload_hash, expires_at FROM poll_event_dedup WHERE event_id = ?`,
		eventID,
	).Scan(&existingHash, &existingExpiry); err != nil {
		return false, fmt.Errorf("load reserved event: %w", err)
	}
	if now.After(fromNanos(existingExpiry)) {
		if _, err := s.sqlDB.ExecContext(ctx,
			`UPDATE poll_event_dedup SET payload_hash = ?, expires_at = ?, processed_at = ? WHERE event_id = ?`,
			payloadHash,
			toNanos(expiresAt),
			toNanos(now),
			eventID,
		); err != nil {
			return false, fmt.Errorf("renew reserved event: %w", err)
		}
		return false, nil
	}
	if existingHash != payloadHash {
		return false, domainerrors.ErrIdempotencyConflict
	}
	return true, nil
}

func (s *Store) GetProjection(ctx context.Context, pollID uint64) (ports.TallyProjection, bool, error) {
	var (
		projection ports.TallyProjection
		found      bool
	)
	err := s.inTx(ctx, &sql.TxOptions{ReadOnly: true}, func(sqlTx *sql.Tx) error {
		var err error
		projection, found, err = loadProjection(ctx, sqlTx, pollID)
		return err
	})
	return projection, found, err
}

func (s *Store) UpdateProjection(ctx context.Context, pollID uint64, fn func(*ports.TallyProjection) error) error {
	return s.inTx(ctx, nil, func(sqlTx *sql.Tx) error {
		projection, _, err := loadProjection(ctx, sqlTx, pollID)
		if err != nil {
			return err
		}
		if err := fn(&projection); err != nil {
			return err
		}
		choices, err := json.Marshal(nonNilStrings(projection.Choices))
		if err != nil {
			return err
		}
		tallies, err := json.Marshal(nonNilInts(projection.Tallies))
		if err != nil {
			return err
		}
		_, err = sqlTx.ExecContext(ctx,
			`INSERT INTO poll_tally_projections (poll_id, topic, choices, tallies, voters, last_event, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (poll_id) DO UPDATE SET
			   topic = excluded.topic,
			   choices = excluded.choices,
			   tallies = excluded.tallies,
			   voters = excluded.voters,
			   last_event = excluded.last_event,
			   updated_at = excluded.updated_at`,
			pollID,
			projection.Topic,
			string(choices),
			string(tallies),
			projection.Voters,
			projection.LastEvent,
			toNanos(projection.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("save projection: %w", err)
		}
		return nil
	})
}

func loadProjection(ctx context.Context, sqlTx *sql.Tx, pollID uint64) (ports.TallyProjection, bool, error) {
	projection := ports.TallyProjection{PollID: pollID}
	var choices, tallies string
	var updatedAt int64
	err := sqlTx.QueryRowContext(ctx,
		`SELECT topic, choices, tallies, voters, last_event, updated_at
		   FROM poll_tally_projections WHERE poll_id = ?`,
		pollID,
	).Scan(&projection.Topic, &choices, &tallies, &projection.Voters, &projection.LastEvent, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return projection, false, nil
	}
	if err != nil {
		return ports.TallyProjection{}, false, fmt.Errorf("load projection: %w", err)
	}
	if err := json.Unmarshal([]byte(choices), &projection.Choices); err != nil {
		return ports.TallyProjection{}, false, fmt.Errorf("decode projection choices: %w", err)
	}
	if err := json.Unmarshal([]byte(tallies), &projection.Tallies); err != nil {
		return ports.TallyProjection{}, false, fmt.Errorf("decode projection tallies: %w", err)
	}
	projection.UpdatedAt = fromNanos(updatedAt)
	return projection, true, nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func nonNilStrings(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func nonNilInts(items []int64) []int64 {
	if items == nil {
		return []int64{}
	}
	return items
}

func isConstraintViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
