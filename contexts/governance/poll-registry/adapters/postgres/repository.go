package postgresadapter

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"agora/contexts/governance/poll-registry/domain/entities"
	domainerrors "agora/contexts/governance/poll-registry/domain/errors"
	"agora/contexts/governance/poll-registry/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const moduleName = "governance/poll-registry"

// Repository is the Postgres-backed Ledger. Apply runs inside one database
// transaction holding the ledger head row lock.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Migrate creates the ledger tables and seeds the head row.
func (r *Repository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
		return r.logError("poll_repo_migrate_failed", err)
	}
	head := ledgerHeadModel{ID: ledgerHeadID}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&head).Error; err != nil {
		return r.logError("poll_repo_seed_head_failed", err)
	}
	return nil
}

func (r *Repository) Apply(ctx context.Context, fn func(ctx context.Context, tx ports.LedgerTx) error) error {
	return r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var head ledgerHeadModel
		if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", ledgerHeadID).
			First(&head).Error; err != nil {
			return r.logError("poll_repo_lock_head_failed", err)
		}
		start := head

		tx := &ledgerTx{reader: reader{db: db, repo: r}, head: &head}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if head == start {
			return nil
		}
		if err := db.Model(&ledgerHeadModel{}).
			Where("id = ?", ledgerHeadID).
			Updates(map[string]any{
				"last_poll_id":   head.LastPollID,
				"last_event_seq": head.LastEventSeq,
			}).Error; err != nil {
			return r.logError("poll_repo_advance_head_failed", err,
				"last_poll_id", head.LastPollID,
				"last_event_seq", head.LastEventSeq,
			)
		}
		return nil
	})
}

func (r *Repository) View(ctx context.Context, fn func(ctx context.Context, view ports.LedgerView) error) error {
	return r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(ctx, reader{db: db, repo: r})
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
}

func (r *Repository) ListPendingEvents(ctx context.Context, limit int) ([]entities.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []ledgerEventModel
	if err := r.db.WithContext(ctx).
		Where("published_at IS NULL").
		Order("seq ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("poll_repo_list_pending_events_failed", err, "limit", limit)
	}
	return toEventEntities(rows), nil
}

func (r *Repository) MarkEventPublished(ctx context.Context, seq uint64, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&ledgerEventModel{}).
		Where("seq = ?", seq).
		Update("published_at", publishedAt.UTC())
	if result.Error != nil {
		return r.logError("poll_repo_mark_event_published_failed", result.Error, "seq", seq)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrEventNotFound
	}
	return nil
}

func (r *Repository) ReserveEvent(
	ctx context.Context,
	eventID string,
	payloadHash string,
	now time.Time,
	expiresAt time.Time,
) (bool, error) {
	row := eventDedupModel{
		EventID:     strings.TrimSpace(eventID),
		PayloadHash: strings.TrimSpace(payloadHash),
		ExpiresAt:   expiresAt.UTC(),
		ProcessedAt: now.UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return false, r.logError("poll_repo_reserve_event_failed", create.Error, "event_id", row.EventID)
	}
	if create.RowsAffected > 0 {
		return false, nil
	}

	var existing eventDedupModel
	if err := r.db.WithContext(ctx).
		Select("payload_hash", "expires_at").
		Where("event_id = ?", row.EventID).
		First(&existing).Error; err != nil {
		return false, r.logError("poll_repo_reserve_event_load_existing_failed", err, "event_id", row.EventID)
	}
	if now.After(existing.ExpiresAt) {
		renew := r.db.WithContext(ctx).
			Model(&eventDedupModel{}).
			Where("event_id = ? AND expires_at < ?", row.EventID, now.UTC()).
			Updates(map[string]any{
				"payload_hash": row.PayloadHash,
				"expires_at":   row.ExpiresAt,
				"processed_at": row.ProcessedAt,
			})
		if renew.Error != nil {
			return false, r.logError("poll_repo_reserve_event_renew_failed", renew.Error, "event_id", row.EventID)
		}
		if renew.RowsAffected > 0 {
			return false, nil
		}
		return true, nil
	}
	if existing.PayloadHash != row.PayloadHash {
		return false, domainerrors.ErrIdempotencyConflict
	}
	return true, nil
}

func (r *Repository) GetProjection(ctx context.Context, pollID uint64) (ports.TallyProjection, bool, error) {
	var row tallyProjectionModel
	err := r.db.WithContext(ctx).Where("poll_id = ?", pollID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.TallyProjection{}, false, nil
		}
		return ports.TallyProjection{}, false, r.logError("poll_repo_get_projection_failed", err, "poll_id", pollID)
	}
	projection, err := row.toProjection()
	if err != nil {
		return ports.TallyProjection{}, false, r.logError("poll_repo_decode_projection_failed", err, "poll_id", pollID)
	}
	return projection, true, nil
}

func (r *Repository) UpdateProjection(ctx context.Context, pollID uint64, fn func(*ports.TallyProjection) error) error {
	return r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		seed := tallyProjectionModel{PollID: pollID, Choices: []byte("[]"), Tallies: []byte("[]")}
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "poll_id"}},
			DoNothing: true,
		}).Create(&seed).Error; err != nil {
			return r.logError("poll_repo_seed_projection_failed", err, "poll_id", pollID)
		}
		var row tallyProjectionModel
		if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("poll_id = ?", pollID).First(&row).Error; err != nil {
			return r.logError("poll_repo_lock_projection_failed", err, "poll_id", pollID)
		}
		projection, err := row.toProjection()
		if err != nil {
			return r.logError("poll_repo_decode_projection_failed", err, "poll_id", pollID)
		}

		if err := fn(&projection); err != nil {
			return err
		}
		projection.PollID = pollID
		next, err := tallyProjectionModelFrom(projection)
		if err != nil {
			return err
		}
		if err := db.Save(&next).Error; err != nil {
			return r.logError("poll_repo_save_projection_failed", err, "poll_id", pollID)
		}
		return nil
	})
}

// Now reads the process clock; ledger timestamps are always UTC.
func (r *Repository) Now() time.Time {
	return time.Now().UTC()
}

func (r *Repository) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", moduleName,
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("poll repository operation failed", fields...)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
