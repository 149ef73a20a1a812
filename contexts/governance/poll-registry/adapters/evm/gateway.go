// Package evm implements the asset gateway against ERC-20 and ERC-721
// contracts over JSON-RPC. The escrow account is the address of the signing
// key; voters approve it as spender before casting deposit votes.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const moduleName = "governance/poll-registry"

// tokenABI covers the calls the gateway makes. ERC-721 shares the
// balanceOf(address) selector, so one ABI serves both standards.
const tokenABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

var (
	ErrInvalidAddress  = errors.New("invalid evm address")
	ErrTxReverted      = errors.New("evm transaction reverted")
	ErrAmountOverflow  = errors.New("token amount exceeds weight range")
	ErrEscrowKeyAbsent = errors.New("escrow signing key is not configured")
)

// Backend is the chain access the gateway needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

type Config struct {
	// EscrowKeyHex is the hex-encoded secp256k1 key of the escrow account.
	// Without it the gateway is read-only.
	EscrowKeyHex string
	// UnitDecimals scales weight units to token base units for fungible
	// assets: one weight unit is 10^UnitDecimals base units.
	UnitDecimals uint8
	Logger       *slog.Logger
}

type Gateway struct {
	backend Backend
	parsed  abi.ABI
	key     *ecdsa.PrivateKey
	escrow  common.Address
	unit    *big.Int
	logger  *slog.Logger
	closer  func()

	mu      sync.Mutex
	bound   map[common.Address]*bind.BoundContract
	chainID *big.Int
}

// Dial connects to rpcURL and returns a gateway using ethclient.
func Dial(ctx context.Context, rpcURL string, cfg Config) (*Gateway, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	gateway, err := New(client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	gateway.closer = client.Close
	return gateway, nil
}

func New(backend Backend, cfg Config) (*Gateway, error) {
	parsed, err := abi.JSON(strings.NewReader(tokenABI))
	if err != nil {
		return nil, fmt.Errorf("parse token abi: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gateway := &Gateway{
		backend: backend,
		parsed:  parsed,
		unit:    new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(cfg.UnitDecimals)), nil),
		logger:  logger,
		bound:   make(map[common.Address]*bind.BoundContract),
	}
	if keyHex := strings.TrimPrefix(strings.TrimSpace(cfg.EscrowKeyHex), "0x"); keyHex != "" {
		key, err := crypto.HexToECDSA(keyHex)
		if err != nil {
			return nil, fmt.Errorf("parse escrow key: %w", err)
		}
		gateway.key = key
		gateway.escrow = crypto.PubkeyToAddress(key.PublicKey)
	}
	return gateway, nil
}

func (g *Gateway) Close() {
	if g.closer != nil {
		g.closer()
	}
}

// EscrowAccount returns the lower-cased escrow address so it compares equal to
// normalized voter identities.
func (g *Gateway) EscrowAccount() string {
	return strings.ToLower(g.escrow.Hex())
}

// BalanceOf returns the fungible balance of holder in weight units, rounded down.
func (g *Gateway) BalanceOf(ctx context.Context, asset string, holder string) (uint64, error) {
	raw, err := g.balanceOf(ctx, asset, holder)
	if err != nil {
		return 0, err
	}
	return g.toWeight(raw)
}

// CountOwned returns how many non-fungible tokens holder owns.
func (g *Gateway) CountOwned(ctx context.Context, asset string, holder string) (uint64, error) {
	raw, err := g.balanceOf(ctx, asset, holder)
	if err != nil {
		return 0, err
	}
	if !raw.IsUint64() {
		return 0, ErrAmountOverflow
	}
	return raw.Uint64(), nil
}

// TransferFrom moves amount weight units from holder to the given recipient,
// spending the allowance granted to the escrow account.
func (g *Gateway) TransferFrom(ctx context.Context, asset string, from string, to string, amount uint64) error {
	fromAddr, err := parseAddress(from)
	if err != nil {
		return err
	}
	toAddr, err := parseAddress(to)
	if err != nil {
		return err
	}
	return g.transact(ctx, asset, "transferFrom", fromAddr, toAddr, g.toUnits(amount))
}

// Transfer pays amount weight units out of the escrow account.
func (g *Gateway) Transfer(ctx context.Context, asset string, to string, amount uint64) error {
	toAddr, err := parseAddress(to)
	if err != nil {
		return err
	}
	return g.transact(ctx, asset, "transfer", toAddr, g.toUnits(amount))
}

func (g *Gateway) balanceOf(ctx context.Context, asset string, holder string) (*big.Int, error) {
	contract, err := g.contract(asset)
	if err != nil {
		return nil, err
	}
	holderAddr, err := parseAddress(holder)
	if err != nil {
		return nil, err
	}
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", holderAddr); err != nil {
		return nil, fmt.Errorf("call balanceOf on %s: %w", asset, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("call balanceOf on %s: unexpected result count %d", asset, len(out))
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("call balanceOf on %s: unexpected result type %T", asset, out[0])
	}
	return balance, nil
}

func (g *Gateway) transact(ctx context.Context, asset string, method string, params ...interface{}) error {
	if g.key == nil {
		return ErrEscrowKeyAbsent
	}
	contract, err := g.contract(asset)
	if err != nil {
		return err
	}
	chainID, err := g.resolveChainID(ctx)
	if err != nil {
		return err
	}
	opts, err := bind.NewKeyedTransactorWithChainID(g.key, chainID)
	if err != nil {
		return fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx

	tx, err := contract.Transact(opts, method, params...)
	if err != nil {
		return fmt.Errorf("send %s on %s: %w", method, asset, err)
	}
	receipt, err := bind.WaitMined(ctx, g.backend, tx)
	if err != nil {
		return fmt.Errorf("wait for %s on %s: %w", method, asset, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s on %s (tx %s)", ErrTxReverted, method, asset, tx.Hash().Hex())
	}
	g.logger.Info("evm asset transfer mined",
		"event", "evm_asset_transfer_mined",
		"module", moduleName,
		"layer", "adapter",
		"asset", asset,
		"method", method,
		"tx_hash", tx.Hash().Hex(),
		"block", receipt.BlockNumber.String(),
	)
	return nil
}

func (g *Gateway) contract(asset string) (*bind.BoundContract, error) {
	address, err := parseAddress(asset)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if contract, ok := g.bound[address]; ok {
		return contract, nil
	}
	contract := bind.NewBoundContract(address, g.parsed, g.backend, g.backend, g.backend)
	g.bound[address] = contract
	return contract, nil
}

func (g *Gateway) resolveChainID(ctx context.Context) (*big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.chainID != nil {
		return g.chainID, nil
	}
	chainID, err := g.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve chain id: %w", err)
	}
	g.chainID = chainID
	return chainID, nil
}

func (g *Gateway) toUnits(amount uint64) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(amount), g.unit)
}

func (g *Gateway) toWeight(raw *big.Int) (uint64, error) {
	weight := new(big.Int).Quo(raw, g.unit)
	if !weight.IsUint64() {
		return 0, ErrAmountOverflow
	}
	return weight.Uint64(), nil
}

func parseAddress(raw string) (common.Address, error) {
	value := strings.TrimSpace(raw)
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	return common.HexToAddress(value), nil
}
