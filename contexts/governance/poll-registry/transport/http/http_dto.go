package http

import (
	"encoding/json"
	"time"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CreatePollRequest struct {
	Kind        string    `json:"kind"`
	Topic       string    `json:"topic"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Choices     []string  `json:"choices,omitempty"`
	WeightMode  string    `json:"weight_mode,omitempty"`
	WeightAsset string    `json:"weight_asset,omitempty"`
}

type AddChoiceRequest struct {
	Name string `json:"name"`
}

type CastVoteRequest struct {
	ChoiceID int    `json:"choice_id"`
	Deposit  uint64 `json:"deposit,omitempty"`
}

type ChoiceResponse struct {
	ChoiceID int    `json:"choice_id"`
	Name     string `json:"name"`
	Tally    uint64 `json:"tally"`
}

type PollResponse struct {
	PollID      uint64           `json:"poll_id"`
	Kind        string           `json:"kind"`
	Owner       string           `json:"owner"`
	Topic       string           `json:"topic"`
	StartTime   time.Time        `json:"start_time"`
	EndTime     time.Time        `json:"end_time"`
	Choices     []ChoiceResponse `json:"choices"`
	WeightMode  string           `json:"weight_mode"`
	WeightAsset string           `json:"weight_asset,omitempty"`
	Escrowed    uint64           `json:"escrowed"`
	Replayed    bool             `json:"replayed,omitempty"`
}

type AddChoiceResponse struct {
	PollID   uint64 `json:"poll_id"`
	ChoiceID int    `json:"choice_id"`
	Name     string `json:"name"`
	Replayed bool   `json:"replayed"`
}

// PollIndexResponse is the bulk discovery view. The four arrays are parallel.
type PollIndexResponse struct {
	IDs    []uint64 `json:"ids"`
	Kinds  []string `json:"kinds"`
	Owners []string `json:"owners"`
	Topics []string `json:"topics"`
}

type VoteResponse struct {
	PollID   uint64    `json:"poll_id"`
	Voter    string    `json:"voter"`
	ChoiceID int       `json:"choice_id"`
	Weight   uint64    `json:"weight"`
	Deposit  uint64    `json:"deposit"`
	CastAt   time.Time `json:"cast_at"`
	Tallies  []uint64  `json:"tallies"`
	Replayed bool      `json:"replayed"`
}

type VoteItem struct {
	Voter    string    `json:"voter"`
	ChoiceID int       `json:"choice_id"`
	Weight   uint64    `json:"weight"`
	Deposit  uint64    `json:"deposit"`
	CastAt   time.Time `json:"cast_at"`
}

type ListVotesResponse struct {
	PollID uint64     `json:"poll_id"`
	Items  []VoteItem `json:"items"`
}

type VotedChoiceResponse struct {
	PollID   uint64 `json:"poll_id"`
	Voter    string `json:"voter"`
	ChoiceID int    `json:"choice_id"`
}

type EventItem struct {
	Seq        uint64          `json:"seq"`
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	PollID     uint64          `json:"poll_id"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type ListEventsResponse struct {
	Items   []EventItem `json:"items"`
	NextSeq uint64      `json:"next_seq"`
}

type TallyProjectionResponse struct {
	PollID    uint64    `json:"poll_id"`
	Topic     string    `json:"topic"`
	Choices   []string  `json:"choices"`
	Tallies   []int64   `json:"tallies"`
	Voters    int       `json:"voters"`
	LastEvent string    `json:"last_event"`
	UpdatedAt time.Time `json:"updated_at"`
}
