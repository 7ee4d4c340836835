// Package observe provides application-wide observability primitives for
// the poker coach: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all coach metrics.
const meterName = "github.com/MrWong99/pokercoach"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// PollDuration tracks table-state poll latency.
	PollDuration metric.Float64Histogram

	// ActionDuration tracks action submission round trips.
	ActionDuration metric.Float64Histogram

	// TranscriptionDuration tracks per-chunk transcription latency.
	TranscriptionDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// PollFailures counts table-state polls that failed.
	PollFailures metric.Int64Counter

	// Actions counts action submissions. Use with attributes:
	//   attribute.String("action", ...), attribute.String("outcome", ...)
	Actions metric.Int64Counter

	// StaleDiscards counts table states dropped because a newer one was held.
	StaleDiscards metric.Int64Counter

	// TranscriberRequests counts transcription calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	TranscriberRequests metric.Int64Counter

	// VoiceCommands counts parsed voice commands. Use with attributes:
	//   attribute.String("action", ...), attribute.String("outcome", ...)
	VoiceCommands metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// MovesRecorded counts hero moves appended to the move log.
	MovesRecorded metric.Int64Counter

	// SinkErrors counts failed move-log persistence writes. Use with attribute:
	//   attribute.String("sink", ...)
	SinkErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveLanes tracks the number of running voice capture lanes.
	ActiveLanes metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.String("status", "2xx"...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// both fast table round trips and multi-second transcriptions.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.PollDuration, err = m.Float64Histogram("pokercoach.table.poll.duration",
		metric.WithDescription("Latency of table-state polls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActionDuration, err = m.Float64Histogram("pokercoach.table.action.duration",
		metric.WithDescription("Latency of action submissions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("pokercoach.voice.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription per chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("pokercoach.tool_execution.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.PollFailures, err = m.Int64Counter("pokercoach.table.poll.failures",
		metric.WithDescription("Total failed table-state polls."),
	); err != nil {
		return nil, err
	}
	if met.Actions, err = m.Int64Counter("pokercoach.table.actions",
		metric.WithDescription("Total action submissions by action and outcome."),
	); err != nil {
		return nil, err
	}
	if met.StaleDiscards, err = m.Int64Counter("pokercoach.table.stale_discards",
		metric.WithDescription("Total table states discarded as older than the mirror."),
	); err != nil {
		return nil, err
	}
	if met.TranscriberRequests, err = m.Int64Counter("pokercoach.transcriber.requests",
		metric.WithDescription("Total transcription requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.VoiceCommands, err = m.Int64Counter("pokercoach.voice.commands",
		metric.WithDescription("Total parsed voice commands by action and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("pokercoach.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.MovesRecorded, err = m.Int64Counter("pokercoach.moves.recorded",
		metric.WithDescription("Total hero moves appended to the move log."),
	); err != nil {
		return nil, err
	}
	if met.SinkErrors, err = m.Int64Counter("pokercoach.moves.sink_errors",
		metric.WithDescription("Total failed move-log persistence writes by sink."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveLanes, err = m.Int64UpDownCounter("pokercoach.voice.active_lanes",
		metric.WithDescription("Number of running voice capture lanes."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("pokercoach.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordAction records an action submission with its outcome
// ("ok", "rejected", "not_ready", "network").
func (m *Metrics) RecordAction(ctx context.Context, action, outcome string) {
	m.Actions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordTranscriberRequest records a transcription call and its latency.
// status is one of "ok", "error", "cancelled".
func (m *Metrics) RecordTranscriberRequest(ctx context.Context, provider, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	)
	m.TranscriberRequests.Add(ctx, 1, attrs)
	m.TranscriptionDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordVoiceCommand records a parsed voice command with its outcome
// ("dispatched", "duplicate", "rejected", "stopped").
func (m *Metrics) RecordVoiceCommand(ctx context.Context, action, outcome string) {
	m.VoiceCommands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordSinkError records a failed move-log write.
func (m *Metrics) RecordSinkError(ctx context.Context, sink string) {
	m.SinkErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}
