// Package observe provides observability primitives for the voicegate
// server: OpenTelemetry metrics with a Prometheus exporter bridge so metrics
// can be scraped via the standard /metrics endpoint.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicegate metrics.
const meterName = "github.com/clinsim/voicegate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// AdapterDuration tracks voice adapter call latency. Use with
	// attributes: attribute.String("stage", "stt"|"tts"|"llm"|"realtime").
	AdapterDuration metric.Float64Histogram

	// AdapterRequests counts voice adapter calls. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("status", ...)
	AdapterRequests metric.Int64Counter

	// AdapterErrors counts exhausted-retry adapter failures by stage.
	AdapterErrors metric.Int64Counter

	// ToolIntents counts tool intents by type and gate outcome. Use with:
	//   attribute.String("intent", ...), attribute.String("status", "accepted"|"rejected")
	ToolIntents metric.Int64Counter

	// Utterances counts spoken NPC replies by character ID.
	Utterances metric.Int64Counter

	// BudgetEvents counts soft/hard budget crossings. Use with:
	//   attribute.String("limit", "soft"|"hard")
	BudgetEvents metric.Int64Counter

	// DroppedBroadcasts counts sim_state broadcasts dropped by outbound
	// schema validation.
	DroppedBroadcasts metric.Int64Counter

	// ActiveSessions tracks the number of live simulation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveClients tracks the number of connected WebSocket clients across
	// all sessions.
	ActiveClients metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.AdapterDuration, err = m.Float64Histogram("voicegate.adapter.duration",
		metric.WithDescription("Latency of voice adapter calls by stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AdapterRequests, err = m.Int64Counter("voicegate.adapter.requests",
		metric.WithDescription("Total voice adapter calls by stage and status."),
	); err != nil {
		return nil, err
	}
	if met.AdapterErrors, err = m.Int64Counter("voicegate.adapter.errors",
		metric.WithDescription("Total exhausted-retry adapter failures by stage."),
	); err != nil {
		return nil, err
	}
	if met.ToolIntents, err = m.Int64Counter("voicegate.tool.intents",
		metric.WithDescription("Total tool intents by type and gate outcome."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("voicegate.npc.utterances",
		metric.WithDescription("Total spoken NPC replies by character."),
	); err != nil {
		return nil, err
	}
	if met.BudgetEvents, err = m.Int64Counter("voicegate.budget.events",
		metric.WithDescription("Total budget limit crossings by limit kind."),
	); err != nil {
		return nil, err
	}
	if met.DroppedBroadcasts, err = m.Int64Counter("voicegate.broadcast.dropped",
		metric.WithDescription("Total sim_state broadcasts dropped by schema validation."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicegate.active_sessions",
		metric.WithDescription("Number of live simulation sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveClients, err = m.Int64UpDownCounter("voicegate.active_clients",
		metric.WithDescription("Number of connected clients across all sessions."),
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

// RecordAdapterCall records one adapter call with its duration and status.
func (m *Metrics) RecordAdapterCall(ctx context.Context, stage, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status),
	)
	m.AdapterRequests.Add(ctx, 1, attrs)
	m.AdapterDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordAdapterError records an exhausted-retry adapter failure.
func (m *Metrics) RecordAdapterError(ctx context.Context, stage string) {
	m.AdapterErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordToolIntent records a gated tool intent outcome.
func (m *Metrics) RecordToolIntent(ctx context.Context, intent, status string) {
	m.ToolIntents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("intent", intent),
		attribute.String("status", status),
	))
}

// RecordUtterance records one spoken NPC reply.
func (m *Metrics) RecordUtterance(ctx context.Context, character string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("character", character)))
}

// RecordBudgetEvent records a soft or hard budget crossing.
func (m *Metrics) RecordBudgetEvent(ctx context.Context, limit string) {
	m.BudgetEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("limit", limit)))
}
