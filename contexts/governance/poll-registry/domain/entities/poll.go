package entities

import (
	"strings"
	"time"
)

type PollKind string

const (
	PollKindSimple   PollKind = "simple"
	PollKindDynamic  PollKind = "dynamic"
	PollKindWeighted PollKind = "weighted"
)

func ParsePollKind(raw string) (PollKind, bool) {
	switch PollKind(strings.ToLower(strings.TrimSpace(raw))) {
	case PollKindSimple:
		return PollKindSimple, true
	case PollKindDynamic:
		return PollKindDynamic, true
	case PollKindWeighted:
		return PollKindWeighted, true
	default:
		return "", false
	}
}

// WeightMode selects how a voter's weight is derived when the vote is cast.
// The mode is fixed for the lifetime of a poll.
type WeightMode string

const (
	WeightModeNone                WeightMode = "none"
	WeightModeFungibleDeposit     WeightMode = "fungible_deposit"
	WeightModeFungibleSnapshot    WeightMode = "fungible_snapshot"
	WeightModeNonFungibleSnapshot WeightMode = "nonfungible_snapshot"
)

func ParseWeightMode(raw string) (WeightMode, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return "", true
	}
	switch WeightMode(value) {
	case WeightModeNone,
		WeightModeFungibleDeposit,
		WeightModeFungibleSnapshot,
		WeightModeNonFungibleSnapshot:
		return WeightMode(value), true
	default:
		return "", false
	}
}

// Escrows reports whether votes under this mode lock assets with the controller.
func (m WeightMode) Escrows() bool {
	return m == WeightModeFungibleDeposit
}

// Enrollment controls how long a poll accepts new choices.
type Enrollment string

const (
	EnrollmentKindDefault Enrollment = "kind_default"
	EnrollmentUntilStart  Enrollment = "until_start"
	EnrollmentUntilEnd    Enrollment = "until_end"
)

type Choice struct {
	ChoiceID int
	Name     string
	Tally    uint64
}

type Poll struct {
	PollID      uint64
	Kind        PollKind
	Owner       string
	Topic       string
	StartTime   time.Time
	EndTime     time.Time
	Choices     []Choice
	WeightMode  WeightMode
	WeightAsset string
	Escrowed    uint64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsOpen reports whether votes may be cast or cancelled at now. Both window
// bounds are inclusive.
func (p Poll) IsOpen(now time.Time) bool {
	return !now.Before(p.StartTime) && !now.After(p.EndTime)
}

func (p Poll) HasChoice(choiceID int) bool {
	return choiceID >= 1 && choiceID <= len(p.Choices)
}

func (p Poll) Tallies() []uint64 {
	items := make([]uint64, 0, len(p.Choices))
	for _, choice := range p.Choices {
		items = append(items, choice.Tally)
	}
	return items
}

func (p Poll) TotalTally() uint64 {
	var total uint64
	for _, choice := range p.Choices {
		total += choice.Tally
	}
	return total
}

// Clone returns a deep copy so staged ledger writes never alias committed state.
func (p Poll) Clone() Poll {
	out := p
	out.Choices = append([]Choice(nil), p.Choices...)
	return out
}

type Vote struct {
	PollID   uint64
	Voter    string
	ChoiceID int
	Weight   uint64
	Deposit  uint64
	CastAt   time.Time
}

// PollIndex is the bulk discovery view: parallel slices zipped by position,
// in poll creation order.
type PollIndex struct {
	IDs    []uint64
	Kinds  []PollKind
	Owners []string
	Topics []string
}

// NormalizeIdentity trims and lower-cases participant identities so checksum
// and lower-case spellings of the same address resolve to one voter.
func NormalizeIdentity(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
