package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records convograph metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordNodeExecution records a node execution with its duration and
	// error status.
	RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error)

	// RecordRunEnd records a flow run ending (cancelled or faulted).
	RecordRunEnd(ctx context.Context, faulted bool, duration time.Duration)

	// RecordSessionFlush records a durable context flush.
	RecordSessionFlush(ctx context.Context, runID string, sizeBytes int64)

	// RecordTokenUsage records provider token consumption.
	RecordTokenUsage(ctx context.Context, provider, model string, totalTokens int64)
}

type otelMetrics struct {
	nodeExecutions metric.Int64Counter
	nodeLatency    metric.Float64Histogram
	nodeErrors     metric.Int64Counter
	runEnds        metric.Int64Counter
	runLatency     metric.Float64Histogram
	flushSize      metric.Int64Histogram
	tokenUsage     metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("convograph")

	nodeExecutions, err := meter.Int64Counter("convograph.node.executions",
		metric.WithDescription("Number of node executions"),
	)
	if err != nil {
		return nil, err
	}

	nodeLatency, err := meter.Float64Histogram("convograph.node.latency_ms",
		metric.WithDescription("Node execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	nodeErrors, err := meter.Int64Counter("convograph.node.errors",
		metric.WithDescription("Number of node execution errors"),
	)
	if err != nil {
		return nil, err
	}

	runEnds, err := meter.Int64Counter("convograph.run.ends",
		metric.WithDescription("Number of flow runs that ended"),
	)
	if err != nil {
		return nil, err
	}

	runLatency, err := meter.Float64Histogram("convograph.run.latency_ms",
		metric.WithDescription("Flow run duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	flushSize, err := meter.Int64Histogram("convograph.session.flush_bytes",
		metric.WithDescription("Session flush size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	tokenUsage, err := meter.Int64Counter("convograph.provider.tokens",
		metric.WithDescription("Provider tokens consumed"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		nodeExecutions: nodeExecutions,
		nodeLatency:    nodeLatency,
		nodeErrors:     nodeErrors,
		runEnds:        runEnds,
		runLatency:     runLatency,
		flushSize:      flushSize,
		tokenUsage:     tokenUsage,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordNodeExecution records a node execution.
func (m *otelMetrics) RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("node_id", nodeID),
	}

	m.nodeExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.nodeLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.nodeErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordRunEnd records a flow run ending.
func (m *otelMetrics) RecordRunEnd(ctx context.Context, faulted bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.Bool("faulted", faulted),
	}
	m.runEnds.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.runLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordSessionFlush records a session flush.
func (m *otelMetrics) RecordSessionFlush(ctx context.Context, runID string, sizeBytes int64) {
	attrs := []attribute.KeyValue{
		attribute.String("run_id", runID),
	}
	m.flushSize.Record(ctx, sizeBytes, metric.WithAttributes(attrs...))
}

// RecordTokenUsage records provider token consumption.
func (m *otelMetrics) RecordTokenUsage(ctx context.Context, provider, model string, totalTokens int64) {
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("model", model),
	}
	m.tokenUsage.Add(ctx, totalTokens, metric.WithAttributes(attrs...))
}
