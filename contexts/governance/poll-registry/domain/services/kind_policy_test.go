package services

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"agora/contexts/governance/poll-registry/domain/entities"
	domainerrors "agora/contexts/governance/poll-registry/domain/errors"
)

var (
	windowStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	windowEnd   = windowStart.Add(24 * time.Hour)
)

func draft(kind entities.PollKind, choices ...string) PollDraft {
	return PollDraft{
		Kind:      kind,
		Topic:     "Favourite pet",
		StartTime: windowStart,
		EndTime:   windowEnd,
		Choices:   choices,
	}
}

func TestValidateDraftSimpleDefaultsToAgreeDisagree(t *testing.T) {
	out, policy, err := ValidateDraft(draft(entities.PollKindSimple), DefaultPollRules())
	if err != nil {
		t.Fatalf("validate simple draft: %v", err)
	}
	if len(out.Choices) != 2 || out.Choices[0] != "agree" || out.Choices[1] != "disagree" {
		t.Fatalf("unexpected default choices: %v", out.Choices)
	}
	if !policy.ChoicesFixed {
		t.Fatalf("expected simple polls to have fixed choices")
	}
	if out.WeightMode != entities.WeightModeNone {
		t.Fatalf("expected weight mode none, got %q", out.WeightMode)
	}
}

func TestValidateDraftSimpleRequiresExactlyTwoChoices(t *testing.T) {
	_, _, err := ValidateDraft(draft(entities.PollKindSimple, "only"), DefaultPollRules())
	if !errors.Is(err, domainerrors.ErrInvalidChoiceSet) {
		t.Fatalf("expected ErrInvalidChoiceSet, got %v", err)
	}
}

func TestValidateDraftRejectsBadInput(t *testing.T) {
	rules := DefaultPollRules()
	cases := []struct {
		name   string
		mutate func(*PollDraft)
		want   error
	}{
		{"unknown kind", func(d *PollDraft) { d.Kind = "ranked" }, domainerrors.ErrUnknownPollKind},
		{"blank topic", func(d *PollDraft) { d.Topic = "  " }, domainerrors.ErrInvalidPollInput},
		{"zero start", func(d *PollDraft) { d.StartTime = time.Time{} }, domainerrors.ErrInvalidPollInput},
		{"end equals start", func(d *PollDraft) { d.EndTime = d.StartTime }, domainerrors.ErrInvalidWindow},
		{"end before start", func(d *PollDraft) { d.EndTime = d.StartTime.Add(-time.Minute) }, domainerrors.ErrInvalidWindow},
		{"blank choice", func(d *PollDraft) { d.Choices = []string{"Cats", " "} }, domainerrors.ErrInvalidPollInput},
		{"duplicate choice", func(d *PollDraft) { d.Choices = []string{"Cats", "cats"} }, domainerrors.ErrDuplicateChoice},
		{"weighted dynamic", func(d *PollDraft) { d.WeightAsset = "0xabc" }, domainerrors.ErrInvalidWeightConfig},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := draft(entities.PollKindDynamic, "Cats", "Dogs")
			tc.mutate(&d)
			if _, _, err := ValidateDraft(d, rules); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestValidateDraftEnforcesChoiceBounds(t *testing.T) {
	rules := PollRules{MaxChoices: 3, MinChoices: 1}
	if _, _, err := ValidateDraft(draft(entities.PollKindDynamic), rules); !errors.Is(err, domainerrors.ErrInvalidChoiceSet) {
		t.Fatalf("expected min choices violation, got %v", err)
	}
	if _, _, err := ValidateDraft(draft(entities.PollKindDynamic, "a", "b", "c", "d"), rules); !errors.Is(err, domainerrors.ErrChoiceLimitExceeded) {
		t.Fatalf("expected max choices violation, got %v", err)
	}
	if _, _, err := ValidateDraft(draft(entities.PollKindDynamic, "a", "b", "c"), rules); err != nil {
		t.Fatalf("expected three choices to fit, got %v", err)
	}
}

func TestValidateDraftWeightedDefaultsToDepositMode(t *testing.T) {
	d := draft(entities.PollKindWeighted, "Cats", "Dogs")
	d.WeightAsset = " 0xToken "
	out, _, err := ValidateDraft(d, DefaultPollRules())
	if err != nil {
		t.Fatalf("validate weighted draft: %v", err)
	}
	if out.WeightMode != entities.WeightModeFungibleDeposit {
		t.Fatalf("expected deposit mode, got %q", out.WeightMode)
	}
	if out.WeightAsset != "0xToken" {
		t.Fatalf("expected trimmed asset, got %q", out.WeightAsset)
	}

	d.WeightAsset = ""
	if _, _, err := ValidateDraft(d, DefaultPollRules()); !errors.Is(err, domainerrors.ErrInvalidWeightConfig) {
		t.Fatalf("expected missing asset to be rejected, got %v", err)
	}
}

func TestCheckEnrollmentWindows(t *testing.T) {
	dynamic := entities.Poll{
		PollID:    1,
		Kind:      entities.PollKindDynamic,
		Owner:     "alice",
		StartTime: windowStart,
		EndTime:   windowEnd,
		Choices:   []entities.Choice{{ChoiceID: 1, Name: "Cats"}},
	}
	rules := DefaultPollRules()

	if _, err := CheckEnrollment(dynamic, "bob", "Dogs", rules, windowStart.Add(time.Hour)); err != nil {
		t.Fatalf("dynamic poll should enroll while open: %v", err)
	}
	if _, err := CheckEnrollment(dynamic, "bob", "Dogs", rules, windowEnd); err != nil {
		t.Fatalf("end bound is inclusive: %v", err)
	}
	if _, err := CheckEnrollment(dynamic, "bob", "Dogs", rules, windowEnd.Add(time.Nanosecond)); !errors.Is(err, domainerrors.ErrEnrollmentClosed) {
		t.Fatalf("expected enrollment closed after end, got %v", err)
	}

	untilStart := rules
	untilStart.Enrollment = entities.EnrollmentUntilStart
	if _, err := CheckEnrollment(dynamic, "bob", "Dogs", untilStart, windowStart); !errors.Is(err, domainerrors.ErrEnrollmentClosed) {
		t.Fatalf("expected enrollment closed at start, got %v", err)
	}
	if _, err := CheckEnrollment(dynamic, "bob", "Dogs", untilStart, windowStart.Add(-time.Second)); err != nil {
		t.Fatalf("expected enrollment before start, got %v", err)
	}
}

func TestCheckEnrollmentRejections(t *testing.T) {
	now := windowStart.Add(time.Hour)
	poll := entities.Poll{
		PollID:    1,
		Kind:      entities.PollKindDynamic,
		Owner:     "alice",
		StartTime: windowStart,
		EndTime:   windowEnd,
		Choices:   []entities.Choice{{ChoiceID: 1, Name: "Cats"}},
	}

	simple := poll
	simple.Kind = entities.PollKindSimple
	if _, err := CheckEnrollment(simple, "alice", "Maybe", DefaultPollRules(), windowStart.Add(-time.Hour)); !errors.Is(err, domainerrors.ErrChoicesFixed) {
		t.Fatalf("expected fixed choices, got %v", err)
	}
	if _, err := CheckEnrollment(poll, "bob", " CATS ", DefaultPollRules(), now); !errors.Is(err, domainerrors.ErrDuplicateChoice) {
		t.Fatalf("expected duplicate choice, got %v", err)
	}
	ownerOnly := DefaultPollRules()
	ownerOnly.OwnerOnlyChoices = true
	if _, err := CheckEnrollment(poll, "bob", "Dogs", ownerOnly, now); !errors.Is(err, domainerrors.ErrNotPollOwner) {
		t.Fatalf("expected owner restriction, got %v", err)
	}
	if _, err := CheckEnrollment(poll, " ALICE ", "Dogs", ownerOnly, now); err != nil {
		t.Fatalf("owner identity should be normalized: %v", err)
	}

	full := poll.Clone()
	for i := len(full.Choices); i < DefaultMaxChoices; i++ {
		full.Choices = append(full.Choices, entities.Choice{ChoiceID: i + 1, Name: fmt.Sprintf("choice-%d", i+1)})
	}
	if _, err := CheckEnrollment(full, "bob", "Overflow", DefaultPollRules(), now); !errors.Is(err, domainerrors.ErrChoiceLimitExceeded) {
		t.Fatalf("expected choice limit, got %v", err)
	}
}
