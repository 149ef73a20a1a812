package tracing

import (
	"context"
	"errors"
	"testing"

	"agora/contexts/governance/poll-registry/adapters/memory"
	"agora/contexts/governance/poll-registry/ports"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestLedgerRecordsOneSpanPerCall(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	ledger := Ledger{
		Next:   memory.NewStore(),
		Tracer: provider.Tracer("test"),
		Driver: "memory",
	}
	ctx := context.Background()

	require.NoError(t, ledger.View(ctx, func(ctx context.Context, view ports.LedgerView) error {
		_, err := view.ListPolls(ctx)
		return err
	}))
	boom := errors.New("boom")
	err := ledger.Apply(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, "ledger.view", spans[0].Name())
	require.Equal(t, codes.Ok, spans[0].Status().Code)
	require.Equal(t, "ledger.apply", spans[1].Name())
	require.Equal(t, codes.Error, spans[1].Status().Code)
	require.Len(t, spans[1].Events(), 1)
}
