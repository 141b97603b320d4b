// Package observe provides application-wide observability primitives for
// ReMemory: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all ReMemory metrics.
const meterName = "github.com/MrWong99/rememory"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// CompletionDuration tracks completion-service latency. Use with attributes:
	//   attribute.String("profile", ...), attribute.String("purpose", ...)
	CompletionDuration metric.Float64Histogram

	// RateLimitWait tracks how long callers were held by the rate limiter.
	RateLimitWait metric.Float64Histogram

	// OperationDuration tracks entry-point latency end to end. Use with
	// attribute.String("operation", ...).
	OperationDuration metric.Float64Histogram

	// --- Counters ---

	// CompletionRequests counts completion calls. Use with attributes:
	//   attribute.String("profile", ...), attribute.String("purpose", ...), attribute.String("status", ...)
	CompletionRequests metric.Int64Counter

	// Operations counts entry-point invocations. Use with attributes:
	//   attribute.String("operation", ...), attribute.String("outcome", ...)
	Operations metric.Int64Counter

	// EntriesCreated counts lore entries written. Use with attribute:
	//   attribute.String("kind", "keyword"|"popup")
	EntriesCreated metric.Int64Counter

	// EntriesFaded counts popup entries whose probability was decremented.
	EntriesFaded metric.Int64Counter

	// EntriesPurged counts popup entries deleted by a fade sweep.
	EntriesPurged metric.Int64Counter

	// SceneChunks records how many chunks a scene history was split into.
	SceneChunks metric.Int64Histogram

	// ChunkRetries counts chunk-summary retries chosen by the decider.
	ChunkRetries metric.Int64Counter

	// ToolCalls counts MCP tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ConfigReloads counts config file reloads by result ("applied" or
	// "rejected").
	ConfigReloads metric.Int64Counter

	// --- Gauges ---

	// ActiveOperations tracks the number of entry-point calls in flight.
	ActiveOperations metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// remote model calls, which routinely take several seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CompletionDuration, err = m.Float64Histogram("rememory.completion.duration",
		metric.WithDescription("Latency of completion-service calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RateLimitWait, err = m.Float64Histogram("rememory.ratelimit.wait",
		metric.WithDescription("Time spent waiting for the completion rate limiter."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.OperationDuration, err = m.Float64Histogram("rememory.operation.duration",
		metric.WithDescription("End-to-end latency of remember, log, end-scene and fade operations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SceneChunks, err = m.Int64Histogram("rememory.scene.chunks",
		metric.WithDescription("Number of chunks a scene history was split into."),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 5, 8, 13, 21),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CompletionRequests, err = m.Int64Counter("rememory.completion.requests",
		metric.WithDescription("Total completion requests by profile, purpose, and status."),
	); err != nil {
		return nil, err
	}
	if met.Operations, err = m.Int64Counter("rememory.operations",
		metric.WithDescription("Total entry-point invocations by operation and outcome."),
	); err != nil {
		return nil, err
	}
	if met.EntriesCreated, err = m.Int64Counter("rememory.entries.created",
		metric.WithDescription("Total lore entries written by kind."),
	); err != nil {
		return nil, err
	}
	if met.EntriesFaded, err = m.Int64Counter("rememory.entries.faded",
		metric.WithDescription("Total popup entries touched by a fade sweep."),
	); err != nil {
		return nil, err
	}
	if met.EntriesPurged, err = m.Int64Counter("rememory.entries.purged",
		metric.WithDescription("Total popup entries removed by a fade sweep."),
	); err != nil {
		return nil, err
	}
	if met.ChunkRetries, err = m.Int64Counter("rememory.chunk.retries",
		metric.WithDescription("Total chunk summary retries."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("rememory.tool.calls",
		metric.WithDescription("Total MCP tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ConfigReloads, err = m.Int64Counter("rememory.config.reloads",
		metric.WithDescription("Total config file reloads by result."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveOperations, err = m.Int64UpDownCounter("rememory.active_operations",
		metric.WithDescription("Number of entry-point calls currently running."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("rememory.http.request.duration",
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

// Status returns "ok" for a nil error and "error" otherwise.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordCompletion records one completion call: its latency and a request
// counter increment with the standard attribute set.
func (m *Metrics) RecordCompletion(ctx context.Context, profile, purpose string, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("profile", profile),
		attribute.String("purpose", purpose),
	)
	m.CompletionDuration.Record(ctx, d.Seconds(), attrs)
	m.CompletionRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", profile),
		attribute.String("purpose", purpose),
		attribute.String("status", Status(err)),
	))
}

// RecordRateLimitWait records the time a caller spent in the rate limiter.
func (m *Metrics) RecordRateLimitWait(ctx context.Context, d time.Duration) {
	m.RateLimitWait.Record(ctx, d.Seconds())
}

// RecordOperation records an entry-point outcome and its latency.
func (m *Metrics) RecordOperation(ctx context.Context, operation, outcome string, d time.Duration) {
	m.Operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
	m.OperationDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("operation", operation)),
	)
}

// RecordEntries records n lore entries of the given kind.
func (m *Metrics) RecordEntries(ctx context.Context, kind string, n int) {
	if n <= 0 {
		return
	}
	m.EntriesCreated.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordFade records the result of one fade sweep.
func (m *Metrics) RecordFade(ctx context.Context, faded, purged int) {
	m.EntriesFaded.Add(ctx, int64(faded))
	m.EntriesPurged.Add(ctx, int64(purged))
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

// RecordConfigReload counts one config reload attempt. A non-nil err means
// the edited file was rejected and the previous config stays in effect.
func (m *Metrics) RecordConfigReload(ctx context.Context, err error) {
	result := "applied"
	if err != nil {
		result = "rejected"
	}
	m.ConfigReloads.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
