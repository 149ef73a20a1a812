package evm

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func TestNewDerivesEscrowFromKey(t *testing.T) {
	gateway, err := New(nil, Config{EscrowKeyHex: "0x" + testKeyHex, UnitDecimals: 18})
	require.NoError(t, err)

	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	want := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
	require.Equal(t, want, gateway.EscrowAccount())
}

func TestNewRejectsMalformedKey(t *testing.T) {
	_, err := New(nil, Config{EscrowKeyHex: "not-a-key"})
	require.Error(t, err)
}

func TestUnitScaling(t *testing.T) {
	gateway, err := New(nil, Config{UnitDecimals: 6})
	require.NoError(t, err)

	require.Equal(t, "25000000", gateway.toUnits(25).String())

	weight, err := gateway.toWeight(big.NewInt(25_999_999))
	require.NoError(t, err)
	require.Equal(t, uint64(25), weight)

	huge := new(big.Int).Lsh(big.NewInt(1), 100)
	_, err = gateway.toWeight(huge)
	require.ErrorIs(t, err, ErrAmountOverflow)
}

func TestZeroDecimalsKeepsAmounts(t *testing.T) {
	gateway, err := New(nil, Config{})
	require.NoError(t, err)
	require.Equal(t, "7", gateway.toUnits(7).String())
}

func TestTransfersRequireEscrowKey(t *testing.T) {
	gateway, err := New(nil, Config{})
	require.NoError(t, err)

	err = gateway.Transfer(context.Background(), "0x71562b71999873DB5b286dF957af199Ec94617F7", "0x0000000000000000000000000000000000000001", 1)
	require.True(t, errors.Is(err, ErrEscrowKeyAbsent))
}

func TestInvalidAddressesAreRejected(t *testing.T) {
	gateway, err := New(nil, Config{EscrowKeyHex: testKeyHex})
	require.NoError(t, err)

	_, err = gateway.BalanceOf(context.Background(), "not-an-address", "0x0000000000000000000000000000000000000001")
	require.ErrorIs(t, err, ErrInvalidAddress)

	_, err = gateway.CountOwned(context.Background(), "0x0000000000000000000000000000000000000002", "bob")
	require.ErrorIs(t, err, ErrInvalidAddress)

	err = gateway.TransferFrom(context.Background(), "0x0000000000000000000000000000000000000002", "alice", gateway.EscrowAccount(), 3)
	require.ErrorIs(t, err, ErrInvalidAddress)
}
