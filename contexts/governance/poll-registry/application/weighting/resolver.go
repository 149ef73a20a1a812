// Package weighting resolves a voter's weight at vote time. The strategy is
// chosen by the poll's weight mode and never changes for the poll's lifetime.
package weighting

import (
	"context"
	"errors"
	"fmt"

	"agora/contexts/governance/poll-registry/domain/entities"
	domainerrors "agora/contexts/governance/poll-registry/domain/errors"
	"agora/contexts/governance/poll-registry/domain/services"
	"agora/contexts/governance/poll-registry/ports"
)

type Request struct {
	Poll    entities.Poll
	Voter   string
	Deposit uint64
}

// Strategy computes a raw weight. Zero-weight rejection is applied by Resolver.
type Strategy func(ctx context.Context, assets ports.AssetGateway, req Request) (uint64, error)

var errNoAssetGateway = errors.New("asset gateway is not configured")

var strategies = map[entities.WeightMode]Strategy{
	entities.WeightModeNone: func(context.Context, ports.AssetGateway, Request) (uint64, error) {
		return 1, nil
	},
	entities.WeightModeFungibleDeposit: func(_ context.Context, _ ports.AssetGateway, req Request) (uint64, error) {
		return req.Deposit, nil
	},
	entities.WeightModeFungibleSnapshot: func(ctx context.Context, assets ports.AssetGateway, req Request) (uint64, error) {
		if assets == nil {
			return 0, errNoAssetGateway
		}
		return assets.BalanceOf(ctx, req.Poll.WeightAsset, req.Voter)
	},
	entities.WeightModeNonFungibleSnapshot: func(ctx context.Context, assets ports.AssetGateway, req Request) (uint64, error) {
		if assets == nil {
			return 0, errNoAssetGateway
		}
		return assets.CountOwned(ctx, req.Poll.WeightAsset, req.Voter)
	},
}

type Resolver struct {
	Assets ports.AssetGateway
}

// Resolve returns the weight req.Voter contributes to req.Poll. Deposit is a
// hint consumed only by deposit-based modes.
func (r Resolver) Resolve(ctx context.Context, req Request) (uint64, error) {
	mode := req.Poll.WeightMode
	if mode == "" {
		mode = entities.WeightModeNone
	}
	strategy, ok := strategies[mode]
	if !ok {
		return 0, domainerrors.ErrInvalidWeightConfig
	}
	weight, err := strategy(ctx, r.Assets, req)
	if err != nil {
		return 0, fmt.Errorf("resolve %s weight: %w", mode, err)
	}
	if weight == 0 {
		return 0, domainerrors.ErrZeroWeight
	}
	if weight > services.MaxWeight {
		return 0, fmt.Errorf("%w: %s weight %d", domainerrors.ErrWeightOutOfRange, mode, weight)
	}
	return weight, nil
}
