package ports

import (
	"context"
	"time"

	"agora/contexts/governance/poll-registry/domain/entities"
	contractsv1 "agora/contracts/gen/events/v1"
)

// LedgerView is a consistent read snapshot of ledger state as of the last
// committed transaction.
type LedgerView interface {
	GetPoll(ctx context.Context, pollID uint64) (entities.Poll, error)
	ListPolls(ctx context.Context) ([]entities.Poll, error)
	GetVote(ctx context.Context, pollID uint64, voter string) (entities.Vote, bool, error)
	ListVotes(ctx context.Context, pollID uint64) ([]entities.Vote, error)
	ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]entities.Event, error)
	GetIdempotency(ctx context.Context, key string, now time.Time) (IdempotencyRecord, bool, error)
}

// LedgerTx stages writes inside one Apply call. Staged writes become visible
// to other readers only when the surrounding Apply commits.
type LedgerTx interface {
	LedgerView
	NextPollID(ctx context.Context) (uint64, error)
	SavePoll(ctx context.Context, poll entities.Poll) error
	SaveVote(ctx context.Context, vote entities.Vote) error
	DeleteVote(ctx context.Context, pollID uint64, voter string) error
	AppendEvent(ctx context.Context, event entities.Event) (entities.Event, error)
	PutIdempotency(ctx context.Context, record IdempotencyRecord) error
}

// Ledger is the deterministic, totally ordered, all-or-nothing execution
// substrate. Apply calls are serialized; an error from fn discards every write
// and event staged by fn.
type Ledger interface {
	Apply(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
	View(ctx context.Context, fn func(ctx context.Context, view LedgerView) error) error
}

// OutboxRepository exposes the unpublished tail of the event journal.
type OutboxRepository interface {
	ListPendingEvents(ctx context.Context, limit int) ([]entities.Event, error)
	MarkEventPublished(ctx context.Context, seq uint64, publishedAt time.Time) error
}

type IdempotencyRecord struct {
	Key         string
	RequestHash string
	PollID      uint64
	Receipt     []byte
	ExpiresAt   time.Time
}

// AssetGateway is the external asset collaborator. Amounts are in weight
// units; adapters convert to native token units.
type AssetGateway interface {
	BalanceOf(ctx context.Context, asset string, holder string) (uint64, error)
	CountOwned(ctx context.Context, asset string, holder string) (uint64, error)
	TransferFrom(ctx context.Context, asset string, from string, to string, amount uint64) error
	Transfer(ctx context.Context, asset string, to string, amount uint64) error
	EscrowAccount() string
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

// EventEnvelope is the canonical cross-runtime event shape.
type EventEnvelope = contractsv1.Envelope

// EventPublisher publishes canonical envelopes to a topic.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

// EventSubscriber registers a topic consumer callback.
type EventSubscriber interface {
	Subscribe(
		ctx context.Context,
		topic string,
		consumerGroup string,
		handler func(context.Context, EventEnvelope) error,
	) error
}

// EventDedupStore reserves event ids so at-least-once delivery is applied once.
// It returns true when the event was already reserved with the same payload.
// A reservation that expired before now is replaced.
type EventDedupStore interface {
	ReserveEvent(ctx context.Context, eventID string, payloadHash string, now time.Time, expiresAt time.Time) (bool, error)
}

// TallyProjection is the event-sourced cached view of one poll. Topics are
// consumed independently, so tallies may be transiently negative until the
// matching vote.cast is applied.
type TallyProjection struct {
	PollID    uint64
	Topic     string
	Choices   []string
	Tallies   []int64
	Voters    int
	LastEvent string
	UpdatedAt time.Time
}

// TallyProjectionStore applies fn to the stored projection atomically. A
// missing projection is passed to fn as a zero value with PollID set.
type TallyProjectionStore interface {
	GetProjection(ctx context.Context, pollID uint64) (TallyProjection, bool, error)
	UpdateProjection(ctx context.Context, pollID uint64, fn func(*TallyProjection) error) error
}
