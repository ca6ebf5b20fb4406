// Package observe provides the service's OpenTelemetry metrics, tracing and
// the HTTP middleware that ties them to request logging.
//
// Metrics are exported through a Prometheus bridge set up by [InitProvider]
// and scraped from /metrics. Tests should build their own [Metrics] with
// [NewMetrics] and a ManualReader-backed provider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/tahcohcat/vocalize-web"

// Metrics holds all metric instruments. The OTel types handle their own
// synchronisation.
type Metrics struct {
	// SynthesisDuration tracks one engine attempt. Attributes: engine, status.
	SynthesisDuration metric.Float64Histogram

	// SynthesisRequests counts engine attempts. Attributes: engine, status.
	SynthesisRequests metric.Int64Counter

	// Fallbacks counts requests served by the other engine. Attributes: from, to.
	Fallbacks metric.Int64Counter

	// CacheLookups counts synthesis cache lookups. Attributes: engine, result.
	CacheLookups metric.Int64Counter

	// ClipsPruned counts audio files removed by retention.
	ClipsPruned metric.Int64Counter

	// ActiveSubscribers tracks connected websocket clients.
	ActiveSubscribers metric.Int64UpDownCounter

	// HTTPRequestDuration attributes: method, path, status.
	HTTPRequestDuration metric.Float64Histogram
}

// synthesis latencies run from tens of milliseconds (cache, espeak) to tens
// of seconds (long online texts)
var latencyBuckets = []float64{
	0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SynthesisDuration, err = m.Float64Histogram("vocalize.synthesis.duration",
		metric.WithDescription("Latency of one speech engine attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisRequests, err = m.Int64Counter("vocalize.synthesis.requests",
		metric.WithDescription("Speech engine attempts by engine and status."),
	); err != nil {
		return nil, err
	}
	if met.Fallbacks, err = m.Int64Counter("vocalize.synthesis.fallbacks",
		metric.WithDescription("Requests that fell back to the other engine."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("vocalize.cache.lookups",
		metric.WithDescription("Synthesis cache lookups by engine and result (hit or miss)."),
	); err != nil {
		return nil, err
	}
	if met.ClipsPruned, err = m.Int64Counter("vocalize.audio.pruned",
		metric.WithDescription("Generated audio files removed by retention."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSubscribers, err = m.Int64UpDownCounter("vocalize.ws.subscribers",
		metric.WithDescription("Connected websocket clients."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("vocalize.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance built from the global
// meter provider. Call it after [InitProvider].
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

// RecordSynthesis records the outcome and latency of one engine attempt.
func (m *Metrics) RecordSynthesis(ctx context.Context, engine string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("engine", engine),
		attribute.String("status", status),
	)
	m.SynthesisRequests.Add(ctx, 1, attrs)
	m.SynthesisDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) RecordFallback(ctx context.Context, from, to string) {
	m.Fallbacks.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

func (m *Metrics) RecordCacheLookup(ctx context.Context, engine string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("result", result),
		),
	)
}

func (m *Metrics) RecordPruned(ctx context.Context, n int) {
	if n > 0 {
		m.ClipsPruned.Add(ctx, int64(n))
	}
}
