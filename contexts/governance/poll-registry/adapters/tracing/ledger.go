// Package tracing decorates the ledger with OpenTelemetry spans.
package tracing

import (
	"context"

	"agora/contexts/governance/poll-registry/ports"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "agora/contexts/governance/poll-registry"

// Ledger wraps another ledger so every Apply and View is one span. The global
// tracer provider is used unless Tracer is set.
type Ledger struct {
	Next   ports.Ledger
	Tracer trace.Tracer
	Driver string
}

func (l Ledger) Apply(ctx context.Context, fn func(ctx context.Context, tx ports.LedgerTx) error) error {
	ctx, span := l.tracer().Start(ctx, "ledger.apply",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("ledger.driver", l.Driver)),
	)
	defer span.End()

	err := l.Next.Apply(ctx, fn)
	record(span, err)
	return err
}

func (l Ledger) View(ctx context.Context, fn func(ctx context.Context, view ports.LedgerView) error) error {
	ctx, span := l.tracer().Start(ctx, "ledger.view",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("ledger.driver", l.Driver)),
	)
	defer span.End()

	err := l.Next.View(ctx, fn)
	record(span, err)
	return err
}

func (l Ledger) tracer() trace.Tracer {
	if l.Tracer != nil {
		return l.Tracer
	}
	return otel.Tracer(instrumentationName)
}

func record(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
