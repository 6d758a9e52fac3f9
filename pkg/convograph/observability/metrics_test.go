package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest creates a test meter provider and returns a reader to
// collect recorded metrics from.
func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, func()) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	originalProvider := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	cleanup := func() {
		otel.SetMeterProvider(originalProvider)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	}

	return reader, cleanup
}

// collectMetrics collects all metrics from the reader.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)
	return &rm
}

// findMetric finds a metric by name in the collected data.
func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetricsRecorder(t *testing.T) {
	_, cleanup := setupMetricsTest(t)
	defer cleanup()

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)

	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop, "Expected real metrics recorder, got noop")
}

func TestRecordNodeExecution(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("records execution count", func(t *testing.T) {
		m.RecordNodeExecution(ctx, "classify", 50*time.Millisecond, nil)

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "convograph.node.executions")
		require.NotNil(t, metric)

		sum, ok := metric.Data.(metricdata.Sum[int64])
		require.True(t, ok, "Expected Sum type")
		require.NotEmpty(t, sum.DataPoints)

		found := false
		for _, dp := range sum.DataPoints {
			for _, attr := range dp.Attributes.ToSlice() {
				if attr.Key == "node_id" && attr.Value.AsString() == "classify" {
					found = true
					assert.GreaterOrEqual(t, dp.Value, int64(1))
				}
			}
		}
		assert.True(t, found, "Expected to find datapoint for node_id=classify")
	})

	t.Run("records latency", func(t *testing.T) {
		m.RecordNodeExecution(ctx, "generate", 100*time.Millisecond, nil)

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "convograph.node.latency_ms")
		require.NotNil(t, metric)

		hist, ok := metric.Data.(metricdata.Histogram[float64])
		require.True(t, ok, "Expected Histogram type")
		require.NotEmpty(t, hist.DataPoints)
	})

	t.Run("records errors when present", func(t *testing.T) {
		testErr := errors.New("node failed")
		m.RecordNodeExecution(ctx, "failing", 10*time.Millisecond, testErr)

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "convograph.node.errors")
		require.NotNil(t, metric)

		sum, ok := metric.Data.(metricdata.Sum[int64])
		require.True(t, ok, "Expected Sum type")
		require.NotEmpty(t, sum.DataPoints)

		found := false
		for _, dp := range sum.DataPoints {
			for _, attr := range dp.Attributes.ToSlice() {
				if attr.Key == "node_id" && attr.Value.AsString() == "failing" {
					found = true
					assert.GreaterOrEqual(t, dp.Value, int64(1))
				}
			}
		}
		assert.True(t, found, "Expected to find error datapoint")
	})

	t.Run("does not record error when nil", func(t *testing.T) {
		m.RecordNodeExecution(ctx, "success_only", 10*time.Millisecond, nil)

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "convograph.node.errors")
		if metric != nil {
			sum, ok := metric.Data.(metricdata.Sum[int64])
			if ok {
				for _, dp := range sum.DataPoints {
					for _, attr := range dp.Attributes.ToSlice() {
						if attr.Key == "node_id" && attr.Value.AsString() == "success_only" {
							assert.Equal(t, int64(0), dp.Value, "Expected no errors for success_only node")
						}
					}
				}
			}
		}
	})
}

func TestRecordRunEnd(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("records clean cancellations", func(t *testing.T) {
		m.RecordRunEnd(ctx, false, 500*time.Millisecond)

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "convograph.run.ends")
		require.NotNil(t, metric)

		sum, ok := metric.Data.(metricdata.Sum[int64])
		require.True(t, ok)
		require.NotEmpty(t, sum.DataPoints)
	})

	t.Run("records faulted runs", func(t *testing.T) {
		m.RecordRunEnd(ctx, true, 100*time.Millisecond)

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "convograph.run.ends")
		require.NotNil(t, metric)

		sum, ok := metric.Data.(metricdata.Sum[int64])
		require.True(t, ok)

		found := false
		for _, dp := range sum.DataPoints {
			for _, attr := range dp.Attributes.ToSlice() {
				if attr.Key == "faulted" && attr.Value.AsBool() {
					found = true
				}
			}
		}
		assert.True(t, found, "Expected faulted=true datapoint")
	})

	t.Run("records run latency", func(t *testing.T) {
		m.RecordRunEnd(ctx, false, 200*time.Millisecond)

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "convograph.run.latency_ms")
		require.NotNil(t, metric)

		hist, ok := metric.Data.(metricdata.Histogram[float64])
		require.True(t, ok, "Expected Histogram type")
		require.NotEmpty(t, hist.DataPoints)
	})
}

func TestRecordSessionFlush(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("records flush size", func(t *testing.T) {
		m.RecordSessionFlush(ctx, "run-42", 2048)

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "convograph.session.flush_bytes")
		require.NotNil(t, metric)

		hist, ok := metric.Data.(metricdata.Histogram[int64])
		require.True(t, ok, "Expected Histogram[int64] type")
		require.NotEmpty(t, hist.DataPoints)

		found := false
		for _, dp := range hist.DataPoints {
			for _, attr := range dp.Attributes.ToSlice() {
				if attr.Key == "run_id" && attr.Value.AsString() == "run-42" {
					found = true
					assert.Greater(t, dp.Count, uint64(0))
				}
			}
		}
		assert.True(t, found, "Expected to find datapoint for run-42")
	})
}

func TestRecordTokenUsage(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()

	m.RecordTokenUsage(ctx, "openai", "gpt-4o", 150)
	m.RecordTokenUsage(ctx, "openai", "gpt-4o", 50)

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "convograph.provider.tokens")
	require.NotNil(t, metric)

	sum, ok := metric.Data.(metricdata.Sum[int64])
	require.True(t, ok, "Expected Sum type")

	found := false
	for _, dp := range sum.DataPoints {
		var provider, model string
		for _, attr := range dp.Attributes.ToSlice() {
			switch attr.Key {
			case "provider":
				provider = attr.Value.AsString()
			case "model":
				model = attr.Value.AsString()
			}
		}
		if provider == "openai" && model == "gpt-4o" {
			found = true
			assert.Equal(t, int64(200), dp.Value, "Expected token counts to accumulate")
		}
	}
	assert.True(t, found, "Expected datapoint for provider=openai model=gpt-4o")
}

func TestOtelMetrics_AllMethods(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)
	require.NotNil(t, m)

	ctx := context.Background()

	m.RecordNodeExecution(ctx, "greet", 25*time.Millisecond, nil)
	m.RecordNodeExecution(ctx, "error_node", 10*time.Millisecond, errors.New("test"))
	m.RecordRunEnd(ctx, false, 100*time.Millisecond)
	m.RecordRunEnd(ctx, true, 50*time.Millisecond)
	m.RecordSessionFlush(ctx, "run-1", 1024)
	m.RecordTokenUsage(ctx, "anthropic", "claude-sonnet-4", 300)

	rm := collectMetrics(t, reader)

	assert.NotNil(t, findMetric(rm, "convograph.node.executions"))
	assert.NotNil(t, findMetric(rm, "convograph.node.latency_ms"))
	assert.NotNil(t, findMetric(rm, "convograph.node.errors"))
	assert.NotNil(t, findMetric(rm, "convograph.run.ends"))
	assert.NotNil(t, findMetric(rm, "convograph.run.latency_ms"))
	assert.NotNil(t, findMetric(rm, "convograph.session.flush_bytes"))
	assert.NotNil(t, findMetric(rm, "convograph.provider.tokens"))
}

func TestNewOtelMetrics_Creation(t *testing.T) {
	_, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)
	require.NotNil(t, m)

	// Verify all metric instruments were created
	assert.NotNil(t, m.nodeExecutions)
	assert.NotNil(t, m.nodeLatency)
	assert.NotNil(t, m.nodeErrors)
	assert.NotNil(t, m.runEnds)
	assert.NotNil(t, m.runLatency)
	assert.NotNil(t, m.flushSize)
	assert.NotNil(t, m.tokenUsage)
}
