package services

import (
	"strings"
	"time"

	"agora/contexts/governance/poll-registry/domain/entities"
	domainerrors "agora/contexts/governance/poll-registry/domain/errors"
)

const DefaultMaxChoices = 10

// PollRules are the deployment-level knobs for choice enrollment.
type PollRules struct {
	MaxChoices       int
	MinChoices       int
	Enrollment       entities.Enrollment
	OwnerOnlyChoices bool
}

func DefaultPollRules() PollRules {
	return PollRules{
		MaxChoices: DefaultMaxChoices,
		Enrollment: entities.EnrollmentKindDefault,
	}
}

func (r PollRules) maxChoices() int {
	if r.MaxChoices <= 0 {
		return DefaultMaxChoices
	}
	return r.MaxChoices
}

// PollDraft is a not-yet-persisted poll as submitted by its creator.
type PollDraft struct {
	Kind        entities.PollKind
	Topic       string
	StartTime   time.Time
	EndTime     time.Time
	Choices     []string
	WeightMode  entities.WeightMode
	WeightAsset string
}

// KindPolicy is the per-kind variant: defaults plus a validation closure that
// may also fill kind defaults into the draft.
type KindPolicy struct {
	Kind         entities.PollKind
	Enrollment   entities.Enrollment
	ChoicesFixed bool
	validate     func(draft *PollDraft, rules PollRules) error
}

var simpleDefaultChoices = []string{"agree", "disagree"}

var kindPolicies = map[entities.PollKind]KindPolicy{
	entities.PollKindSimple: {
		Kind:         entities.PollKindSimple,
		Enrollment:   entities.EnrollmentUntilStart,
		ChoicesFixed: true,
		validate: func(draft *PollDraft, _ PollRules) error {
			if len(draft.Choices) == 0 {
				draft.Choices = append([]string(nil), simpleDefaultChoices...)
			}
			if len(draft.Choices) != 2 {
				return domainerrors.ErrInvalidChoiceSet
			}
			return requireUnweighted(draft)
		},
	},
	entities.PollKindDynamic: {
		Kind:       entities.PollKindDynamic,
		Enrollment: entities.EnrollmentUntilEnd,
		validate: func(draft *PollDraft, rules PollRules) error {
			if len(draft.Choices) < rules.MinChoices {
				return domainerrors.ErrInvalidChoiceSet
			}
			return requireUnweighted(draft)
		},
	},
	entities.PollKindWeighted: {
		Kind:       entities.PollKindWeighted,
		Enrollment: entities.EnrollmentUntilEnd,
		validate: func(draft *PollDraft, rules PollRules) error {
			if len(draft.Choices) < rules.MinChoices {
				return domainerrors.ErrInvalidChoiceSet
			}
			if draft.WeightMode == "" {
				draft.WeightMode = entities.WeightModeFungibleDeposit
			}
			if draft.WeightMode == entities.WeightModeNone || draft.WeightAsset == "" {
				return domainerrors.ErrInvalidWeightConfig
			}
			return nil
		},
	},
}

func requireUnweighted(draft *PollDraft) error {
	if draft.WeightMode != "" && draft.WeightMode != entities.WeightModeNone {
		return domainerrors.ErrInvalidWeightConfig
	}
	if draft.WeightAsset != "" {
		return domainerrors.ErrInvalidWeightConfig
	}
	draft.WeightMode = entities.WeightModeNone
	return nil
}

func PolicyFor(kind entities.PollKind) (KindPolicy, error) {
	policy, ok := kindPolicies[kind]
	if !ok {
		return KindPolicy{}, domainerrors.ErrUnknownPollKind
	}
	return policy, nil
}

// ValidateDraft normalizes the draft and checks the generic and kind-specific
// constraints. Nothing is persisted by the caller unless this returns nil.
func ValidateDraft(draft PollDraft, rules PollRules) (PollDraft, KindPolicy, error) {
	policy, err := PolicyFor(draft.Kind)
	if err != nil {
		return PollDraft{}, KindPolicy{}, err
	}

	draft.Topic = strings.TrimSpace(draft.Topic)
	draft.WeightAsset = strings.TrimSpace(draft.WeightAsset)
	if draft.Topic == "" || draft.StartTime.IsZero() || draft.EndTime.IsZero() {
		return PollDraft{}, KindPolicy{}, domainerrors.ErrInvalidPollInput
	}
	if !draft.EndTime.After(draft.StartTime) {
		return PollDraft{}, KindPolicy{}, domainerrors.ErrInvalidWindow
	}

	names := make([]string, 0, len(draft.Choices))
	for _, raw := range draft.Choices {
		name := strings.TrimSpace(raw)
		if name == "" {
			return PollDraft{}, KindPolicy{}, domainerrors.ErrInvalidPollInput
		}
		if containsName(names, name) {
			return PollDraft{}, KindPolicy{}, domainerrors.ErrDuplicateChoice
		}
		names = append(names, name)
	}
	draft.Choices = names

	if err := policy.validate(&draft, rules); err != nil {
		return PollDraft{}, KindPolicy{}, err
	}
	if len(draft.Choices) > rules.maxChoices() {
		return PollDraft{}, KindPolicy{}, domainerrors.ErrChoiceLimitExceeded
	}
	return draft, policy, nil
}

// EnrollmentFor resolves the effective enrollment window for a kind.
func EnrollmentFor(policy KindPolicy, rules PollRules) entities.Enrollment {
	switch rules.Enrollment {
	case entities.EnrollmentUntilStart, entities.EnrollmentUntilEnd:
		return rules.Enrollment
	default:
		return policy.Enrollment
	}
}

// CheckEnrollment decides whether caller may append a choice named name to
// poll at now. It returns the trimmed name on success.
func CheckEnrollment(poll entities.Poll, caller string, name string, rules PollRules, now time.Time) (string, error) {
	policy, err := PolicyFor(poll.Kind)
	if err != nil {
		return "", err
	}
	if policy.ChoicesFixed {
		return "", domainerrors.ErrChoicesFixed
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", domainerrors.ErrInvalidPollInput
	}
	if rules.OwnerOnlyChoices && entities.NormalizeIdentity(caller) != poll.Owner {
		return "", domainerrors.ErrNotPollOwner
	}

	switch EnrollmentFor(policy, rules) {
	case entities.EnrollmentUntilStart:
		if !now.Before(poll.StartTime) {
			return "", domainerrors.ErrEnrollmentClosed
		}
	default:
		if now.After(poll.EndTime) {
			return "", domainerrors.ErrEnrollmentClosed
		}
	}

	existing := make([]string, 0, len(poll.Choices))
	for _, choice := range poll.Choices {
		existing = append(existing, choice.Name)
	}
	if containsName(existing, name) {
		return "", domainerrors.ErrDuplicateChoice
	}
	if len(poll.Choices) >= rules.maxChoices() {
		return "", domainerrors.ErrChoiceLimitExceeded
	}
	return name, nil
}

func containsName(names []string, name string) bool {
	for _, existing := range names {
		if strings.EqualFold(existing, name) {
			return true
		}
	}
	return false
}
