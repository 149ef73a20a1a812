package weighting

import (
	"context"
	"errors"
	"math"
	"testing"

	"agora/contexts/governance/poll-registry/adapters/memory"
	"agora/contexts/governance/poll-registry/domain/entities"
	domainerrors "agora/contexts/governance/poll-registry/domain/errors"
)

func TestResolverByMode(t *testing.T) {
	assets := memory.NewAssetBook("")
	assets.Mint("0xtoken", "alice", 42)
	assets.SetOwned("0xnft", "alice", 3)
	resolver := Resolver{Assets: assets}
	ctx := context.Background()

	cases := []struct {
		name    string
		mode    entities.WeightMode
		asset   string
		deposit uint64
		want    uint64
	}{
		{"unweighted", entities.WeightModeNone, "", 0, 1},
		{"unset mode", "", "", 500, 1},
		{"deposit", entities.WeightModeFungibleDeposit, "0xtoken", 10, 10},
		{"balance snapshot", entities.WeightModeFungibleSnapshot, "0xtoken", 0, 42},
		{"holdings snapshot", entities.WeightModeNonFungibleSnapshot, "0xnft", 0, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			poll := entities.Poll{PollID: 1, WeightMode: tc.mode, WeightAsset: tc.asset}
			got, err := resolver.Resolve(ctx, Request{Poll: poll, Voter: "alice", Deposit: tc.deposit})
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected weight %d, got %d", tc.want, got)
			}
		})
	}
}

func TestResolverRejectsZeroWeight(t *testing.T) {
	resolver := Resolver{Assets: memory.NewAssetBook("")}
	ctx := context.Background()

	deposit := entities.Poll{WeightMode: entities.WeightModeFungibleDeposit, WeightAsset: "0xtoken"}
	if _, err := resolver.Resolve(ctx, Request{Poll: deposit, Voter: "bob"}); !errors.Is(err, domainerrors.ErrZeroWeight) {
		t.Fatalf("expected zero deposit to be rejected, got %v", err)
	}
	snapshot := entities.Poll{WeightMode: entities.WeightModeFungibleSnapshot, WeightAsset: "0xtoken"}
	if _, err := resolver.Resolve(ctx, Request{Poll: snapshot, Voter: "bob"}); !errors.Is(err, domainerrors.ErrZeroWeight) {
		t.Fatalf("expected empty balance to be rejected, got %v", err)
	}
}

func TestResolverUnknownModeAndMissingGateway(t *testing.T) {
	ctx := context.Background()
	if _, err := (Resolver{}).Resolve(ctx, Request{Poll: entities.Poll{WeightMode: "quadratic"}}); !errors.Is(err, domainerrors.ErrInvalidWeightConfig) {
		t.Fatalf("expected invalid weight config, got %v", err)
	}
	snapshot := entities.Poll{WeightMode: entities.WeightModeFungibleSnapshot, WeightAsset: "0xtoken"}
	if _, err := (Resolver{}).Resolve(ctx, Request{Poll: snapshot, Voter: "alice"}); err == nil {
		t.Fatalf("expected missing gateway to fail")
	}
}

func TestResolverRejectsWeightBeyondSignedRange(t *testing.T) {
	assets := memory.NewAssetBook("")
	assets.Mint("0xtoken", "whale", 10_000_000_000_000_000_000)
	assets.Mint("0xtoken", "shark", math.MaxInt64)
	resolver := Resolver{Assets: assets}
	ctx := context.Background()
	snapshot := entities.Poll{WeightMode: entities.WeightModeFungibleSnapshot, WeightAsset: "0xtoken"}

	if _, err := resolver.Resolve(ctx, Request{Poll: snapshot, Voter: "whale"}); !errors.Is(err, domainerrors.ErrWeightOutOfRange) {
		t.Fatalf("expected out-of-range balance to be rejected, got %v", err)
	}
	got, err := resolver.Resolve(ctx, Request{Poll: snapshot, Voter: "shark"})
	if err != nil {
		t.Fatalf("resolve at the bound: %v", err)
	}
	if got != math.MaxInt64 {
		t.Fatalf("expected MaxInt64 weight, got %d", got)
	}
}
