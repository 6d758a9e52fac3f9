// Package observability provides structured logging, metrics, and tracing
// for convograph engines.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds engine context to a logger.
// Returns a new logger with run_id and node_id fields.
func EnrichLogger(logger *slog.Logger, runID, nodeID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("node_id", nodeID),
	)
}

// LogRunStart logs the start of a flow run.
func LogRunStart(logger *slog.Logger, runID, entryNode string) {
	if logger == nil {
		return
	}
	logger.Info("flow run starting",
		slog.String("run_id", runID),
		slog.String("entry_node", entryNode),
	)
}

// LogRunCancelled logs a clean cancellation.
func LogRunCancelled(logger *slog.Logger, runID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("flow run cancelled",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogRunError logs a flow run fault.
func LogRunError(logger *slog.Logger, runID string, err error, durationMs float64, lastNode string) {
	if logger == nil {
		return
	}
	logger.Error("flow run faulted",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_node", lastNode),
	)
}

// LogNodeStart logs node execution start.
func LogNodeStart(logger *slog.Logger, nodeID string, pull bool) {
	if logger == nil {
		return
	}
	logger.Debug("node starting",
		slog.String("node_id", nodeID),
		slog.Bool("pull", pull),
	)
}

// LogNodeComplete logs successful node completion.
func LogNodeComplete(logger *slog.Logger, nodeID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_id", nodeID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogNodeError logs node execution error.
func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogNodeWaiting logs a node blocked on inputs it has not yet received.
func LogNodeWaiting(logger *slog.Logger, nodeID string, waitingFor []string) {
	if logger == nil {
		return
	}
	logger.Debug("node waiting for inputs",
		slog.String("node_id", nodeID),
		slog.Any("waiting_for", waitingFor),
	)
}

// LogUserInputPause logs a node suspending on user input.
func LogUserInputPause(logger *slog.Logger, nodeID string) {
	if logger == nil {
		return
	}
	logger.Debug("node paused for user input",
		slog.String("node_id", nodeID),
	)
}

// LogSessionFlush logs a durable context flush.
func LogSessionFlush(logger *slog.Logger, runID string, contexts int) {
	if logger == nil {
		return
	}
	logger.Debug("session state flushed",
		slog.String("run_id", runID),
		slog.Int("contexts", contexts),
	)
}

// LogSessionFlushError logs a session flush failure (non-fatal).
func LogSessionFlushError(logger *slog.Logger, runID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("session flush failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
