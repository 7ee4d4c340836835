package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/pokercoach"

// Span attributes shared by coach spans.
const (
	AttrSeat    = attribute.Key("poker.seat")
	AttrAction  = attribute.Key("poker.action")
	AttrHero    = attribute.Key("poker.hero_acting")
	AttrOutcome = attribute.Key("pokercoach.outcome")
	AttrLane    = attribute.Key("pokercoach.voice.lane")
)

// Tracer returns the coach tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartActionSpan starts the span around one action submission to the table.
func StartActionSpan(ctx context.Context, seat int, action string, heroActing bool) (context.Context, trace.Span) {
	return StartSpan(ctx, "table.action",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrSeat.Int(seat),
			AttrAction.String(action),
			AttrHero.Bool(heroActing),
		),
	)
}

// EndSpan tags span with outcome, marks it failed when err is non-nil and
// ends it.
func EndSpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(AttrOutcome.String(outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.End()
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// It doubles as the X-Correlation-ID response header.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger, carrying trace_id and span_id when ctx
// holds a span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
