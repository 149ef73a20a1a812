package entities

import "time"

type EventType string

const (
	EventPollCreated   EventType = "poll.created"
	EventChoiceAdded   EventType = "choice.added"
	EventVoteCast      EventType = "vote.cast"
	EventVoteCancelled EventType = "vote.cancelled"
)

// Event is one entry of the ledger's append-only journal. Seq is assigned by
// the ledger at append time and is gap-free in commit order.
type Event struct {
	Seq         uint64
	EventID     string
	EventType   EventType
	PollID      uint64
	Payload     []byte
	OccurredAt  time.Time
	PublishedAt *time.Time
}
