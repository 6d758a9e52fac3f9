package event

import (
	"log/slog"
	"sync"
)

// Router translates internal execution events into the external bus.
//
// It is the engine's only side-channel to the outside world and enforces
// the boundary contract: after Abort, non-terminal events for the run are
// suppressed, and at most one done event terminates observation.
type Router struct {
	bus    *Bus
	logger *slog.Logger

	mu       sync.Mutex
	aborted  bool
	doneSent bool
}

// NewRouter creates a router publishing into bus.
// A nil logger defaults to slog.Default().
func NewRouter(bus *Bus, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{bus: bus, logger: logger}
}

// Emit forwards an event to the bus. Emission is best-effort: it never
// returns an error and never panics past this boundary, so a failing
// observer cannot abort node execution.
func (r *Router) Emit(evt Event) {
	r.mu.Lock()
	if r.doneSent {
		r.mu.Unlock()
		return
	}
	if r.aborted && !evt.Terminal() {
		r.mu.Unlock()
		return
	}
	if evt.Terminal() {
		r.doneSent = true
	}
	r.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("event emission panic suppressed",
				slog.String("event_type", evt.Type),
				slog.Any("panic", rec),
			)
		}
	}()
	r.bus.Publish(evt)
}

// Abort marks the run as cancelled. Late-arriving internal events are
// suppressed from here on; only a single done may still pass.
func (r *Router) Abort() {
	r.mu.Lock()
	r.aborted = true
	r.mu.Unlock()
}

// Done emits the terminal event for a run. err is attached when the run
// faulted; a cancelled run gets a done without an error.
func (r *Router) Done(nodeID string, err error) {
	evt := New(TypeDone, nodeID)
	if err != nil {
		evt.Err = err.Error()
	}
	r.Emit(evt)
}
