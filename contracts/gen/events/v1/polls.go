package v1

// Poll event payloads carried in Envelope.Data. Every vote payload holds the
// full tally delta so consumers can update cached views without re-reading
// the poll.

type PollCreated struct {
	PollID      uint64   `json:"poll_id"`
	Kind        string   `json:"kind"`
	Owner       string   `json:"owner"`
	Topic       string   `json:"topic"`
	Choices     []string `json:"choices"`
	WeightMode  string   `json:"weight_mode"`
	WeightAsset string   `json:"weight_asset,omitempty"`
	StartTime   string   `json:"start_time"`
	EndTime     string   `json:"end_time"`
}

type ChoiceAdded struct {
	PollID   uint64 `json:"poll_id"`
	ChoiceID int    `json:"choice_id"`
	Name     string `json:"name"`
}

// VoteChanged backs both vote.cast and vote.cancelled. Weight is added to the
// choice tally on cast and subtracted on cancel.
type VoteChanged struct {
	PollID   uint64 `json:"poll_id"`
	Voter    string `json:"voter"`
	ChoiceID int    `json:"choice_id"`
	Weight   uint64 `json:"weight"`
	Deposit  uint64 `json:"deposit,omitempty"`
}
