package postgresadapter

import (
	"encoding/json"
	"time"

	"agora/contexts/governance/poll-registry/domain/entities"
	"agora/contexts/governance/poll-registry/ports"
)

const ledgerHeadID = 1

// ledgerHeadModel is the single row locked by every Apply. It allocates poll
// ids and event sequence numbers and gives transactions their total order.
type ledgerHeadModel struct {
	ID           int    `gorm:"column:id;primaryKey;autoIncrement:false"`
	LastPollID   uint64 `gorm:"column:last_poll_id;not null;default:0"`
	LastEventSeq uint64 `gorm:"column:last_event_seq;not null;default:0"`
}

func (ledgerHeadModel) TableName() string {
	return "ledger_heads"
}

type pollModel struct {
	PollID      uint64    `gorm:"column:poll_id;primaryKey;autoIncrement:false"`
	Kind        string    `gorm:"column:kind;not null"`
	Owner       string    `gorm:"column:owner;not null;index"`
	Topic       string    `gorm:"column:topic;not null"`
	StartTime   time.Time `gorm:"column:start_time;not null"`
	EndTime     time.Time `gorm:"column:end_time;not null"`
	WeightMode  string    `gorm:"column:weight_mode;not null"`
	WeightAsset string    `gorm:"column:weight_asset"`
	Escrowed    uint64    `gorm:"column:escrowed;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (pollModel) TableName() string {
	return "polls"
}

type pollChoiceModel struct {
	PollID   uint64 `gorm:"column:poll_id;primaryKey;autoIncrement:false"`
	ChoiceID int    `gorm:"column:choice_id;primaryKey;autoIncrement:false"`
	Name     string `gorm:"column:name;not null"`
	Tally    uint64 `gorm:"column:tally;not null;default:0"`
}

func (pollChoiceModel) TableName() string {
	return "poll_choices"
}

type pollVoteModel struct {
	PollID   uint64    `gorm:"column:poll_id;primaryKey;autoIncrement:false"`
	Voter    string    `gorm:"column:voter;primaryKey"`
	ChoiceID int       `gorm:"column:choice_id;not null"`
	Weight   uint64    `gorm:"column:weight;not null"`
	Deposit  uint64    `gorm:"column:deposit;not null;default:0"`
	CastAt   time.Time `gorm:"column:cast_at"`
}

func (pollVoteModel) TableName() string {
	return "poll_votes"
}

type ledgerEventModel struct {
	Seq         uint64     `gorm:"column:seq;primaryKey;autoIncrement:false"`
	EventID     string     `gorm:"column:event_id;uniqueIndex;not null"`
	EventType   string     `gorm:"column:event_type;not null"`
	PollID      uint64     `gorm:"column:poll_id;index"`
	Payload     []byte     `gorm:"column:payload"`
	OccurredAt  time.Time  `gorm:"column:occurred_at"`
	PublishedAt *time.Time `gorm:"column:published_at;index"`
}

func (ledgerEventModel) TableName() string {
	return "ledger_events"
}

type idempotencyModel struct {
	Key         string    `gorm:"column:key;primaryKey"`
	RequestHash string    `gorm:"column:request_hash;not null"`
	PollID      uint64    `gorm:"column:poll_id"`
	Receipt     []byte    `gorm:"column:receipt"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
}

func (idempotencyModel) TableName() string {
	return "poll_idempotency_keys"
}

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	PayloadHash string    `gorm:"column:payload_hash"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

func (eventDedupModel) TableName() string {
	return "poll_event_dedup"
}

type tallyProjectionModel struct {
	PollID    uint64    `gorm:"column:poll_id;primaryKey;autoIncrement:false"`
	Topic     string    `gorm:"column:topic"`
	Choices   []byte    `gorm:"column:choices"`
	Tallies   []byte    `gorm:"column:tallies"`
	Voters    int       `gorm:"column:voters"`
	LastEvent string    `gorm:"column:last_event"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (tallyProjectionModel) TableName() string {
	return "poll_tally_projections"
}

func allModels() []any {
	return []any{
		&ledgerHeadModel{},
		&pollModel{},
		&pollChoiceModel{},
		&pollVoteModel{},
		&ledgerEventModel{},
		&idempotencyModel{},
		&eventDedupModel{},
		&tallyProjectionModel{},
	}
}

func pollModelFromEntity(poll entities.Poll) (pollModel, []pollChoiceModel) {
	row := pollModel{
		PollID:      poll.PollID,
		Kind:        string(poll.Kind),
		Owner:       poll.Owner,
		Topic:       poll.Topic,
		StartTime:   poll.StartTime.UTC(),
		EndTime:     poll.EndTime.UTC(),
		WeightMode:  string(poll.WeightMode),
		WeightAsset: poll.WeightAsset,
		Escrowed:    poll.Escrowed,
		CreatedAt:   poll.CreatedAt.UTC(),
		UpdatedAt:   poll.UpdatedAt.UTC(),
	}
	choices := make([]pollChoiceModel, 0, len(poll.Choices))
	for _, choice := range poll.Choices {
		choices = append(choices, pollChoiceModel{
			PollID:   poll.PollID,
			ChoiceID: choice.ChoiceID,
			Name:     choice.Name,
			Tally:    choice.Tally,
		})
	}
	return row, choices
}

func (m pollModel) toEntity(choices []pollChoiceModel) entities.Poll {
	poll := entities.Poll{
		PollID:      m.PollID,
		Kind:        entities.PollKind(m.Kind),
		Owner:       m.Owner,
		Topic:       m.Topic,
		StartTime:   m.StartTime.UTC(),
		EndTime:     m.EndTime.UTC(),
		Choices:     make([]entities.Choice, 0, len(choices)),
		WeightMode:  entities.WeightMode(m.WeightMode),
		WeightAsset: m.WeightAsset,
		Escrowed:    m.Escrowed,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
	for _, choice := range choices {
		poll.Choices = append(poll.Choices, entities.Choice{
			ChoiceID: choice.ChoiceID,
			Name:     choice.Name,
			Tally:    choice.Tally,
		})
	}
	return poll
}

func (m pollVoteModel) toEntity() entities.Vote {
	return entities.Vote{
		PollID:   m.PollID,
		Voter:    m.Voter,
		ChoiceID: m.ChoiceID,
		Weight:   m.Weight,
		Deposit:  m.Deposit,
		CastAt:   m.CastAt.UTC(),
	}
}

func (m ledgerEventModel) toEntity() entities.Event {
	event := entities.Event{
		Seq:        m.Seq,
		EventID:    m.EventID,
		EventType:  entities.EventType(m.EventType),
		PollID:     m.PollID,
		Payload:    append([]byte(nil), m.Payload...),
		OccurredAt: m.OccurredAt.UTC(),
	}
	if m.PublishedAt != nil {
		at := m.PublishedAt.UTC()
		event.PublishedAt = &at
	}
	return event
}

func (m tallyProjectionModel) toProjection() (ports.TallyProjection, error) {
	projection := ports.TallyProjection{
		PollID:    m.PollID,
		Topic:     m.Topic,
		Voters:    m.Voters,
		LastEvent: m.LastEvent,
		UpdatedAt: m.UpdatedAt.UTC(),
	}
	if len(m.Choices) > 0 {
		if err := json.Unmarshal(m.Choices, &projection.Choices); err != nil {
			return ports.TallyProjection{}, err
		}
	}
	if len(m.Tallies) > 0 {
		if err := json.Unmarshal(m.Tallies, &projection.Tallies); err != nil {
			return ports.TallyProjection{}, err
		}
	}
	return projection, nil
}

func tallyProjectionModelFrom(projection ports.TallyProjection) (tallyProjectionModel, error) {
	choices, err := json.Marshal(projection.Choices)
	if err != nil {
		return tallyProjectionModel{}, err
	}
	tallies, err := json.Marshal(projection.Tallies)
	if err != nil {
		return tallyProjectionModel{}, err
	}
	return tallyProjectionModel{
		PollID:    projection.PollID,
		Topic:     projection.Topic,
		Choices:   choices,
		Tallies:   tallies,
		Voters:    projection.Voters,
		LastEvent: projection.LastEvent,
		UpdatedAt: projection.UpdatedAt.UTC(),
	}, nil
}
