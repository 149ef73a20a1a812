package sqliteadapter_test

import (
	"context"
	"path/filepath"
	"testing"

	"agora/contexts/governance/poll-registry/adapters/ledgertest"
	sqliteadapter "agora/contexts/governance/poll-registry/adapters/sqlite"
	"agora/contexts/governance/poll-registry/ports"

	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *sqliteadapter.Store {
	t.Helper()
	store, err := sqliteadapter.Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreConformance(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledgertest.Backend {
		return openStore(t)
	})
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	store, err := sqliteadapter.Open(ctx, path)
	require.NoError(t, err)
	var pollID uint64
	err = store.Apply(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		var err error
		pollID, err = tx.NextPollID(ctx)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := sqliteadapter.Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()
	err = reopened.Apply(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		next, err := tx.NextPollID(ctx)
		require.Equal(t, pollID+1, next)
		return err
	})
	require.NoError(t, err)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := sqliteadapter.Open(context.Background(), " ")
	require.Error(t, err)
}
