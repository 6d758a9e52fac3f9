package convograph

import (
	"log/slog"

	"github.com/randalmurphal/convograph/pkg/convograph/convo"
	"github.com/randalmurphal/convograph/pkg/convograph/event"
	"github.com/randalmurphal/convograph/pkg/convograph/observability"
	"github.com/randalmurphal/convograph/pkg/convograph/session"
)

// Option configures an Engine at construction.
type Option func(*settings)

type settings struct {
	flowName       string
	runID          string
	logger         *slog.Logger
	bus            *event.Bus
	session        session.Store
	tools          ToolExecutor
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	initialContext *convo.Context
}

func defaultSettings() settings {
	return settings{
		flowName: "flow",
		logger:   slog.Default(),
		bus:      event.NewBus(event.DefaultBusConfig),
		tools:    NoTools{},
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
	}
}

// WithFlowName labels the run in logs and spans.
func WithFlowName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.flowName = name
		}
	}
}

// WithRunID fixes the run id instead of generating one. Useful when the
// caller correlates runs with an external session.
func WithRunID(id string) Option {
	return func(s *settings) { s.runID = id }
}

// WithLogger sets the structured logger for the run.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEventBus publishes execution events into an externally owned bus,
// so several consumers can share subscriptions across runs.
func WithEventBus(bus *event.Bus) Option {
	return func(s *settings) {
		if bus != nil {
			s.bus = bus
		}
	}
}

// WithSessionStore persists context state after every successful node and
// on shutdown. Without a store, session flushing is disabled.
func WithSessionStore(store session.Store) Option {
	return func(s *settings) { s.session = store }
}

// WithTools provides the tool executor surfaced to node logic.
func WithTools(tools ToolExecutor) Option {
	return func(s *settings) {
		if tools != nil {
			s.tools = tools
		}
	}
}

// WithObservability enables OpenTelemetry tracing and metrics for the
// run. The default is no-op instrumentation.
func WithObservability() Option {
	return func(s *settings) {
		s.metrics = observability.NewMetricsRecorder()
		s.spans = observability.NewSpanManager()
	}
}

// WithMetricsRecorder overrides the metrics recorder.
func WithMetricsRecorder(m observability.MetricsRecorder) Option {
	return func(s *settings) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithSpanManager overrides the span manager.
func WithSpanManager(m observability.SpanManager) Option {
	return func(s *settings) {
		if m != nil {
			s.spans = m
		}
	}
}

// WithInitialContext seeds the run's main context: provider, model,
// system instructions, and any resumed message history. A nil value
// starts from an empty main context.
func WithInitialContext(c *convo.Context) Option {
	return func(s *settings) { s.initialContext = c }
}
