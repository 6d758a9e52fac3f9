package convograph

import (
	"context"
	"fmt"
	"sync"
)

// Runtime tracks the engines of active runs so callers can resume,
// cancel, or inspect them by run id. All state is owned by the Runtime
// instance; there is no process-wide registry.
type Runtime struct {
	mu      sync.Mutex
	engines map[string]*Engine
}

// NewRuntime creates an empty runtime.
func NewRuntime() *Runtime {
	return &Runtime{engines: make(map[string]*Engine)}
}

// Start builds an engine for def, registers it, and launches Execute in
// its own goroutine. The returned channel delivers Execute's result and
// closes after the engine is deregistered.
func (rt *Runtime) Start(ctx context.Context, def FlowDefinition, registry *NodeRegistry, opts ...Option) (*Engine, <-chan error, error) {
	engine, err := New(def, registry, opts...)
	if err != nil {
		return nil, nil, err
	}

	rt.mu.Lock()
	if _, exists := rt.engines[engine.RunID()]; exists {
		rt.mu.Unlock()
		return nil, nil, fmt.Errorf("run %s already registered", engine.RunID())
	}
	rt.engines[engine.RunID()] = engine
	rt.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		defer close(done)
		err := engine.Execute(ctx)
		rt.remove(engine.RunID())
		done <- err
	}()
	return engine, done, nil
}

// Get returns the engine for an active run id.
func (rt *Runtime) Get(runID string) (*Engine, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	e, ok := rt.engines[runID]
	return e, ok
}

// Cancel stops one active run. Returns false for an unknown id.
func (rt *Runtime) Cancel(runID string) bool {
	e, ok := rt.Get(runID)
	if !ok {
		return false
	}
	e.Cancel()
	return true
}

// Shutdown cancels every active run.
func (rt *Runtime) Shutdown() {
	rt.mu.Lock()
	engines := make([]*Engine, 0, len(rt.engines))
	for _, e := range rt.engines {
		engines = append(engines, e)
	}
	rt.mu.Unlock()

	for _, e := range engines {
		e.Cancel()
	}
}

// ActiveRuns lists the run ids currently registered.
func (rt *Runtime) ActiveRuns() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	ids := make([]string, 0, len(rt.engines))
	for id := range rt.engines {
		ids = append(ids, id)
	}
	return ids
}

func (rt *Runtime) remove(runID string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.engines, runID)
}
