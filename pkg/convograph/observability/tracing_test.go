package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTracingTest creates a test tracer provider with an in-memory span recorder.
func setupTracingTest(t *testing.T) (*tracetest.InMemoryExporter, func()) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)

	originalProvider := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	// Update the package-level tracer
	tracer = otel.Tracer("convograph")

	cleanup := func() {
		otel.SetTracerProvider(originalProvider)
		tracer = otel.Tracer("convograph")
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down tracer provider: %v", err)
		}
	}

	return exporter, cleanup
}

func TestStartRunSpan(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()

	t.Run("creates span with correct name and attributes", func(t *testing.T) {
		ctx := context.Background()
		_, span := sm.StartRunSpan(ctx, "support-flow", "run-123")
		require.NotNil(t, span)

		// End the span to flush it to the exporter
		span.End()

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)

		s := spans[0]
		assert.Equal(t, "convograph.run", s.Name)

		var flowName, runID string
		for _, attr := range s.Attributes {
			switch attr.Key {
			case "flow.name":
				flowName = attr.Value.AsString()
			case "run.id":
				runID = attr.Value.AsString()
			}
		}
		assert.Equal(t, "support-flow", flowName)
		assert.Equal(t, "run-123", runID)
	})

	t.Run("returns context carrying the span", func(t *testing.T) {
		exporter.Reset()

		ctx := context.Background()
		newCtx, span := sm.StartRunSpan(ctx, "test", "run-456")

		assert.NotEqual(t, ctx, newCtx)

		span.End()

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
	})
}

func TestStartNodeSpan(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()

	t.Run("creates span with node name suffix", func(t *testing.T) {
		ctx := context.Background()
		_, span := sm.StartNodeSpan(ctx, "classify", false)
		require.NotNil(t, span)

		span.End()

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)

		s := spans[0]
		assert.Equal(t, "convograph.node.classify", s.Name)

		var nodeID string
		var pull *bool
		for _, attr := range s.Attributes {
			switch attr.Key {
			case "node.id":
				nodeID = attr.Value.AsString()
			case "node.pull":
				v := attr.Value.AsBool()
				pull = &v
			}
		}
		assert.Equal(t, "classify", nodeID)
		require.NotNil(t, pull)
		assert.False(t, *pull)
	})

	t.Run("marks pull executions", func(t *testing.T) {
		exporter.Reset()

		ctx := context.Background()
		_, span := sm.StartNodeSpan(ctx, "lazy", true)
		span.End()

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)

		var pull bool
		for _, attr := range spans[0].Attributes {
			if attr.Key == "node.pull" {
				pull = attr.Value.AsBool()
			}
		}
		assert.True(t, pull)
	})

	t.Run("node spans have correct parent", func(t *testing.T) {
		exporter.Reset()

		ctx := context.Background()
		ctx, runSpan := sm.StartRunSpan(ctx, "flow", "run-1")

		_, nodeSpan := sm.StartNodeSpan(ctx, "greet", false)
		nodeSpan.End()

		runSpan.End()

		spans := exporter.GetSpans()
		require.Len(t, spans, 2)

		var nodeSpanData *tracetest.SpanStub
		for i := range spans {
			if spans[i].Name == "convograph.node.greet" {
				nodeSpanData = &spans[i]
				break
			}
		}
		require.NotNil(t, nodeSpanData)
		assert.True(t, nodeSpanData.Parent.IsValid())
	})
}

func TestEndSpanWithError(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()

	t.Run("sets OK status for nil error", func(t *testing.T) {
		ctx := context.Background()
		_, span := sm.StartRunSpan(ctx, "test", "run-1")

		sm.EndSpanWithError(span, nil)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)

		assert.Equal(t, codes.Ok, spans[0].Status.Code)
		assert.Equal(t, "", spans[0].Status.Description)
	})

	t.Run("sets Error status and records error", func(t *testing.T) {
		exporter.Reset()

		ctx := context.Background()
		_, span := sm.StartRunSpan(ctx, "test", "run-2")
		testErr := errors.New("provider unreachable")

		sm.EndSpanWithError(span, testErr)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)

		s := spans[0]
		assert.Equal(t, codes.Error, s.Status.Code)
		assert.Equal(t, "provider unreachable", s.Status.Description)

		require.NotEmpty(t, s.Events)
		found := false
		for _, event := range s.Events {
			if event.Name == "exception" {
				found = true
			}
		}
		assert.True(t, found, "Expected exception event")
	})

	t.Run("nil span does not panic", func(t *testing.T) {
		assert.NotPanics(t, func() {
			sm.EndSpanWithError(nil, nil)
		})
		assert.NotPanics(t, func() {
			sm.EndSpanWithError(nil, errors.New("test"))
		})
	})
}

func TestAddSpanEvent(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()

	t.Run("adds event to current span", func(t *testing.T) {
		ctx := context.Background()
		ctx, span := sm.StartRunSpan(ctx, "test", "run-1")

		sm.AddSpanEvent(ctx, "session_flushed",
			attribute.String("run_id", "run-1"),
			attribute.Int64("size_bytes", 1024),
		)

		span.End()

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)

		s := spans[0]
		require.NotEmpty(t, s.Events)

		var found bool
		for _, event := range s.Events {
			if event.Name == "session_flushed" {
				found = true
				var runID string
				var sizeBytes int64
				for _, attr := range event.Attributes {
					switch attr.Key {
					case "run_id":
						runID = attr.Value.AsString()
					case "size_bytes":
						sizeBytes = attr.Value.AsInt64()
					}
				}
				assert.Equal(t, "run-1", runID)
				assert.Equal(t, int64(1024), sizeBytes)
			}
		}
		assert.True(t, found, "Expected to find session_flushed event")
	})

	t.Run("no panic with no current span", func(t *testing.T) {
		ctx := context.Background()
		assert.NotPanics(t, func() {
			sm.AddSpanEvent(ctx, "test_event")
		})
	})
}
