package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

const DefaultEscrowAccount = "escrow"

// AssetBook is an in-process asset ledger implementing ports.AssetGateway.
// Fungible balances, allowances and non-fungible holdings are keyed by asset
// reference and holder identity.
type AssetBook struct {
	mu sync.Mutex

	escrow     string
	balances   map[string]map[string]uint64
	allowances map[string]map[string]uint64
	owned      map[string]map[string]uint64
}

func NewAssetBook(escrow string) *AssetBook {
	escrow = normalize(escrow)
	if escrow == "" {
		escrow = DefaultEscrowAccount
	}
	return &AssetBook{
		escrow:     escrow,
		balances:   make(map[string]map[string]uint64),
		allowances: make(map[string]map[string]uint64),
		owned:      make(map[string]map[string]uint64),
	}
}

func (b *AssetBook) Mint(asset string, holder string, amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bucket(b.balances, asset)[normalize(holder)] += amount
}

// Approve lets the escrow account pull up to amount of asset from owner.
func (b *AssetBook) Approve(asset string, owner string, amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bucket(b.allowances, asset)[normalize(owner)] = amount
}

func (b *AssetBook) SetOwned(asset string, holder string, count uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bucket(b.owned, asset)[normalize(holder)] = count
}

func (b *AssetBook) Allowance(asset string, owner string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bucket(b.allowances, asset)[normalize(owner)]
}

func (b *AssetBook) BalanceOf(_ context.Context, asset string, holder string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bucket(b.balances, asset)[normalize(holder)], nil
}

func (b *AssetBook) CountOwned(_ context.Context, asset string, holder string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bucket(b.owned, asset)[normalize(holder)], nil
}

// TransferFrom moves amount from the holder to to, spending the allowance the
// holder granted the escrow account.
func (b *AssetBook) TransferFrom(_ context.Context, asset string, from string, to string, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	from, to = normalize(from), normalize(to)
	allowances := bucket(b.allowances, asset)
	if allowances[from] < amount {
		return fmt.Errorf("%w: %s approved %d of %s, need %d", ErrInsufficientAllowance, from, allowances[from], asset, amount)
	}
	balances := bucket(b.balances, asset)
	if balances[from] < amount {
		return fmt.Errorf("%w: %s holds %d of %s, need %d", ErrInsufficientBalance, from, balances[from], asset, amount)
	}
	allowances[from] -= amount
	balances[from] -= amount
	balances[to] += amount
	return nil
}

// Transfer moves amount out of the escrow account.
func (b *AssetBook) Transfer(_ context.Context, asset string, to string, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	balances := bucket(b.balances, asset)
	if balances[b.escrow] < amount {
		return fmt.Errorf("%w: escrow holds %d of %s, need %d", ErrInsufficientBalance, balances[b.escrow], asset, amount)
	}
	balances[b.escrow] -= amount
	balances[normalize(to)] += amount
	return nil
}

func (b *AssetBook) EscrowAccount() string {
	return b.escrow
}

func bucket(items map[string]map[string]uint64, asset string) map[string]uint64 {
	asset = normalize(asset)
	inner, ok := items[asset]
	if !ok {
		inner = make(map[string]uint64)
		items[asset] = inner
	}
	return inner
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
