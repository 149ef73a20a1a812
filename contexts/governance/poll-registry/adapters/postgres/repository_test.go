package postgresadapter_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"agora/contexts/governance/poll-registry/adapters/ledgertest"
	postgresadapter "agora/contexts/governance/poll-registry/adapters/postgres"
	"agora/internal/platform/db"

	"github.com/stretchr/testify/require"
)

var ledgerTables = []string{
	"poll_tally_projections",
	"poll_event_dedup",
	"poll_idempotency_keys",
	"ledger_events",
	"poll_votes",
	"poll_choices",
	"polls",
	"ledger_heads",
}

// openRepository connects to POSTGRES_TEST_DSN and hands back an empty ledger.
// Tables are truncated rather than dropped so repeated runs reuse the schema.
func openRepository(t *testing.T) *postgresadapter.Repository {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN is not set")
	}
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pg, err := db.Connect(ctx, dsn, db.DefaultPoolOptions(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close() })

	repo := postgresadapter.NewRepository(pg.DB, logger)
	require.NoError(t, repo.Migrate(ctx))
	for _, table := range ledgerTables {
		require.NoError(t, pg.DB.WithContext(ctx).Exec("TRUNCATE TABLE "+table).Error)
	}
	require.NoError(t, repo.Migrate(ctx))
	return repo
}

func TestRepositoryConformance(t *testing.T) {
	if os.Getenv("POSTGRES_TEST_DSN") == "" {
		t.Skip("POSTGRES_TEST_DSN is not set")
	}
	ledgertest.Run(t, func(t *testing.T) ledgertest.Backend {
		return openRepository(t)
	})
}
