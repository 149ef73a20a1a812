package postgresadapter

import (
	"context"
	"errors"
	"strings"
	"time"

	"agora/contexts/governance/poll-registry/domain/entities"
	domainerrors "agora/contexts/governance/poll-registry/domain/errors"
	"agora/contexts/governance/poll-registry/ports"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// reader serves LedgerView reads on a transaction handle.
type reader struct {
	db   *gorm.DB
	repo *Repository
}

func (r reader) GetPoll(_ context.Context, pollID uint64) (entities.Poll, error) {
	var row pollModel
	if err := r.db.Where("poll_id = ?", pollID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Poll{}, domainerrors.ErrPollNotFound
		}
		return entities.Poll{}, r.repo.logError("poll_repo_get_poll_failed", err, "poll_id", pollID)
	}
	var choices []pollChoiceModel
	if err := r.db.Where("poll_id = ?", pollID).Order("choice_id ASC").Find(&choices).Error; err != nil {
		return entities.Poll{}, r.repo.logError("poll_repo_get_choices_failed", err, "poll_id", pollID)
	}
	return row.toEntity(choices), nil
}

func (r reader) ListPolls(_ context.Context) ([]entities.Poll, error) {
	var rows []pollModel
	if err := r.db.Order("poll_id ASC").Find(&rows).Error; err != nil {
		return nil, r.repo.logError("poll_repo_list_polls_failed", err)
	}
	var choices []pollChoiceModel
	if err := r.db.Order("poll_id ASC, choice_id ASC").Find(&choices).Error; err != nil {
		return nil, r.repo.logError("poll_repo_list_choices_failed", err)
	}
	byPoll := make(map[uint64][]pollChoiceModel, len(rows))
	for _, choice := range choices {
		byPoll[choice.PollID] = append(byPoll[choice.PollID], choice)
	}
	items := make([]entities.Poll, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity(byPoll[row.PollID]))
	}
	return items, nil
}

func (r reader) GetVote(_ context.Context, pollID uint64, voter string) (entities.Vote, bool, error) {
	voter = entities.NormalizeIdentity(voter)
	var row pollVoteModel
	err := r.db.Where("poll_id = ? AND voter = ?", pollID, voter).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Vote{}, false, nil
		}
		return entities.Vote{}, false, r.repo.logError("poll_repo_get_vote_failed", err,
			"poll_id", pollID,
			"voter", voter,
		)
	}
	return row.toEntity(), true, nil
}

func (r reader) ListVotes(_ context.Context, pollID uint64) ([]entities.Vote, error) {
	var rows []pollVoteModel
	if err := r.db.Where("poll_id = ?", pollID).Order("cast_at ASC, voter ASC").Find(&rows).Error; err != nil {
		return nil, r.repo.logError("poll_repo_list_votes_failed", err, "poll_id", pollID)
	}
	items := make([]entities.Vote, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r reader) ListEvents(_ context.Context, afterSeq uint64, limit int) ([]entities.Event, error) {
	query := r.db.Where("seq > ?", afterSeq).Order("seq ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []ledgerEventModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, r.repo.logError("poll_repo_list_events_failed", err, "after_seq", afterSeq)
	}
	return toEventEntities(rows), nil
}

func (r reader) GetIdempotency(_ context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	key = strings.TrimSpace(key)
	var row idempotencyModel
	err := r.db.Where("key = ? AND expires_at > ?", key, now.UTC()).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.IdempotencyRecord{}, false, nil
		}
		return ports.IdempotencyRecord{}, false, r.repo.logError("poll_repo_idempotency_get_failed", err,
			"idempotency_key", key,
		)
	}
	return ports.IdempotencyRecord{
		Key:         row.Key,
		RequestHash: row.RequestHash,
		PollID:      row.PollID,
		Receipt:     append([]byte(nil), row.Receipt...),
		ExpiresAt:   row.ExpiresAt.UTC(),
	}, true, nil
}

// ledgerTx writes through the transaction that holds the head row lock.
type ledgerTx struct {
	reader
	head *ledgerHeadModel
}

func (tx *ledgerTx) NextPollID(_ context.Context) (uint64, error) {
	tx.head.LastPollID++
	return tx.head.LastPollID, nil
}

func (tx *ledgerTx) SavePoll(_ context.Context, poll entities.Poll) error {
	row, choices := pollModelFromEntity(poll)
	if err := tx.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "poll_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"topic":        row.Topic,
			"start_time":   row.StartTime,
			"end_time":     row.EndTime,
			"weight_mode":  row.WeightMode,
			"weight_asset": row.WeightAsset,
			"escrowed":     row.Escrowed,
			"updated_at":   row.UpdatedAt,
		}),
	}).Create(&row).Error; err != nil {
		return tx.repo.logError("poll_repo_save_poll_failed", err, "poll_id", poll.PollID)
	}
	if len(choices) == 0 {
		return nil
	}
	if err := tx.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "poll_id"}, {Name: "choice_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "tally"}),
	}).Create(&choices).Error; err != nil {
		return tx.repo.logError("poll_repo_save_choices_failed", err, "poll_id", poll.PollID)
	}
	return nil
}

func (tx *ledgerTx) SaveVote(_ context.Context, vote entities.Vote) error {
	row := pollVoteModel{
		PollID:   vote.PollID,
		Voter:    entities.NormalizeIdentity(vote.Voter),
		ChoiceID: vote.ChoiceID,
		Weight:   vote.Weight,
		Deposit:  vote.Deposit,
		CastAt:   vote.CastAt.UTC(),
	}
	if err := tx.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "poll_id"}, {Name: "voter"}},
		DoUpdates: clause.AssignmentColumns([]string{"choice_id", "weight", "deposit", "cast_at"}),
	}).Create(&row).Error; err != nil {
		return tx.repo.logError("poll_repo_save_vote_failed", err,
			"poll_id", vote.PollID,
			"voter", row.Voter,
		)
	}
	return nil
}

func (tx *ledgerTx) DeleteVote(_ context.Context, pollID uint64, voter string) error {
	voter = entities.NormalizeIdentity(voter)
	if err := tx.db.Where("poll_id = ? AND voter = ?", pollID, voter).Delete(&pollVoteModel{}).Error; err != nil {
		return tx.repo.logError("poll_repo_delete_vote_failed", err,
			"poll_id", pollID,
			"voter", voter,
		)
	}
	return nil
}

func (tx *ledgerTx) AppendEvent(_ context.Context, event entities.Event) (entities.Event, error) {
	tx.head.LastEventSeq++
	row := ledgerEventModel{
		Seq:        tx.head.LastEventSeq,
		EventID:    strings.TrimSpace(event.EventID),
		EventType:  string(event.EventType),
		PollID:     event.PollID,
		Payload:    append([]byte(nil), event.Payload...),
		OccurredAt: event.OccurredAt.UTC(),
	}
	if err := tx.db.Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return entities.Event{}, domainerrors.ErrIdempotencyConflict
		}
		return entities.Event{}, tx.repo.logError("poll_repo_append_event_failed", err,
			"event_id", row.EventID,
			"seq", row.Seq,
		)
	}
	return row.toEntity(), nil
}

func (tx *ledgerTx) PutIdempotency(_ context.Context, record ports.IdempotencyRecord) error {
	row := idempotencyModel{
		Key:         strings.TrimSpace(record.Key),
		RequestHash: strings.TrimSpace(record.RequestHash),
		PollID:      record.PollID,
		Receipt:     append([]byte(nil), record.Receipt...),
		ExpiresAt:   record.ExpiresAt.UTC(),
	}
	if err := tx.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"request_hash", "poll_id", "receipt", "expires_at"}),
	}).Create(&row).Error; err != nil {
		return tx.repo.logError("poll_repo_idempotency_put_failed", err, "idempotency_key", row.Key)
	}
	return nil
}

func toEventEntities(rows []ledgerEventModel) []entities.Event {
	items := make([]entities.Event, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items
}
