package convograph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/convograph/pkg/convograph/convo"
	"github.com/randalmurphal/convograph/pkg/convograph/event"
	"github.com/randalmurphal/convograph/pkg/convograph/observability"
	"github.com/randalmurphal/convograph/pkg/convograph/session"
)

// RunStatus describes the externally observable state of a run.
type RunStatus string

const (
	// RunStatusRunning means nodes are executing or the run is idle
	// between pushes.
	RunStatusRunning RunStatus = "running"
	// RunStatusWaitingInput means at least one node is suspended on user
	// input.
	RunStatusWaitingInput RunStatus = "waitingForInput"
	// RunStatusStopped means the run was cancelled or faulted.
	RunStatusStopped RunStatus = "stopped"
)

// RunSnapshot reports run state for reconnect and observability purposes.
type RunSnapshot struct {
	Status RunStatus `json:"status"`
	// RunningNodes lists node ids currently mid-execution.
	RunningNodes []string `json:"runningNodes"`
	// PausedNode is the node suspended on user input, if any.
	PausedNode string `json:"pausedNode,omitempty"`
}

// userWaiter is one node suspended on external input. Cancellation wakes
// the waiter with a typed cancellation result through the same channel.
type userWaiter struct {
	nodeID string
	ch     chan userInputResult
}

type userInputResult struct {
	value any
	err   error
}

// Engine drives one run of a flow: it selects the entry node, executes
// nodes via push (successor propagation) or pull (lazy dependency
// resolution), merges late-arriving pushes into running or pending nodes,
// owns the run's cancellation signal, and exposes resume, cancel, and
// snapshot operations.
//
// An Engine executes at most one run and is not reusable after Cancel.
type Engine struct {
	flowName string
	graph    *Graph
	resolved map[string]NodeFunc

	contexts *convo.Registry
	coord    *ioCoordinator
	bus      *event.Bus
	events   *event.Router
	session  session.Store
	tools    ToolExecutor
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager

	runID string

	runCtx    context.Context
	cancelRun context.CancelFunc

	started   atomic.Bool
	cancelled atomic.Bool

	// terminated closes exactly once, on cancel or fault; terminalErr is
	// set before the close.
	shutdownOnce sync.Once
	terminated   chan struct{}
	terminalErr  error

	mu          sync.Mutex
	userWaiters []*userWaiter
	portals     map[string]any
}

// New builds an engine for one run of def. Every node type referenced by
// the definition is resolved against the registry up front; a type with
// no registered implementation fails construction rather than the run.
func New(def FlowDefinition, registry *NodeRegistry, opts ...Option) (*Engine, error) {
	graph := BuildGraph(def)

	resolved := make(map[string]NodeFunc)
	var resolveErrs []error
	for _, n := range def.Nodes {
		if n.ID == "" {
			continue
		}
		if _, ok := resolved[n.Type]; ok {
			continue
		}
		fn, ok := registry.Resolve(n.Type)
		if !ok {
			resolveErrs = append(resolveErrs, fmt.Errorf("%w: %q (node %s)", ErrUnknownNodeType, n.Type, n.ID))
			continue
		}
		resolved[n.Type] = fn
	}
	if len(resolveErrs) > 0 {
		return nil, errors.Join(resolveErrs...)
	}

	settings := defaultSettings()
	for _, opt := range opts {
		opt(&settings)
	}

	e := &Engine{
		flowName:   settings.flowName,
		graph:      graph,
		resolved:   resolved,
		contexts:   convo.NewRegistry(settings.initialContext),
		bus:        settings.bus,
		session:    settings.session,
		tools:      settings.tools,
		logger:     settings.logger,
		metrics:    settings.metrics,
		spans:      settings.spans,
		runID:      settings.runID,
		terminated: make(chan struct{}),
		portals:    make(map[string]any),
	}
	if e.runID == "" {
		e.runID = uuid.New().String()
	}
	e.runCtx, e.cancelRun = context.WithCancel(context.Background())
	e.events = event.NewRouter(e.bus, e.logger)
	e.coord = newIoCoordinator(graph)
	e.coord.runPull = e.executePull
	return e, nil
}

// RunID returns the run's id.
func (e *Engine) RunID() string { return e.runID }

// Events returns the bus carrying this run's execution events.
func (e *Engine) Events() *event.Bus { return e.bus }

// Contexts returns the run's context registry.
func (e *Engine) Contexts() *convo.Registry { return e.contexts }

// Execute starts the run from the entry node, pushing the main context as
// its initial input, and blocks until the run is cancelled or faults. A
// run never completes on its own: it is held open, suspended at
// user-input boundaries, awaiting further pushes.
//
// Cancellation of ctx behaves like Cancel. The returned error is nil on a
// clean cancellation and the faulting error otherwise.
func (e *Engine) Execute(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return fmt.Errorf("run %s already executing", e.runID)
	}

	entry, err := e.graph.Entry()
	if err != nil {
		return err
	}

	runCtx, runSpan := e.spans.StartRunSpan(e.runCtx, e.flowName, e.runID)

	observability.LogRunStart(e.logger, e.runID, entry)
	start := time.Now()

	stopWatch := context.AfterFunc(ctx, e.Cancel)
	defer stopWatch()

	// The entry node is the one execution whose failure faults the whole
	// run; everything downstream fails at the push boundary instead.
	initial := map[string]any{HandleContext: e.contexts.Main().Value()}
	exec, created := e.coord.RegisterExecution(entry, initial)
	if created {
		go func() {
			output, execErr := e.runNode(runCtx, entry, exec, false)
			e.coord.FinishExecution(exec, output, execErr)
			if execErr != nil {
				if !IsCancellation(execErr) {
					e.emitError(entry, execErr)
					e.shutdown(entry, execErr)
				}
				return
			}
			e.pushSuccessors(runCtx, entry, output)
		}()
	}

	<-e.terminated
	duration := time.Since(start)

	err = e.terminalErr
	faulted := err != nil && !IsCancellation(err)
	e.metrics.RecordRunEnd(context.Background(), faulted, duration)
	e.spans.EndSpanWithError(runSpan, err)
	if faulted {
		observability.LogRunError(e.logger, e.runID, err, float64(duration.Milliseconds()), "")
		return err
	}
	observability.LogRunCancelled(e.logger, e.runID, float64(duration.Milliseconds()))
	return nil
}

// Cancel sets the shared abort signal: pending user-input waiters are
// rejected with a cancellation result, final context state is flushed to
// the session store, transient isolated contexts are released, a single
// done event is emitted without an error, and Execute returns nil.
//
// Cancel is safe to call more than once and before Execute.
func (e *Engine) Cancel() {
	e.shutdown("", nil)
}

// shutdown terminates the run exactly once. A nil err is a clean stop; a
// non-nil err is a fault attributed to nodeID.
func (e *Engine) shutdown(nodeID string, err error) {
	e.shutdownOnce.Do(func() {
		e.terminalErr = err
		e.cancelled.Store(true)

		e.rejectUserWaiters()
		e.flushSession()
		released := e.contexts.ReleaseAllIsolated()
		if len(released) > 0 {
			e.logger.Debug("released isolated contexts on shutdown",
				slog.String("run_id", e.runID),
				slog.Int("count", len(released)))
		}

		e.events.Done(nodeID, err)
		e.events.Abort()

		if e.cancelRun != nil {
			e.cancelRun()
		}
		close(e.terminated)
	})
}

// executePull runs a single node in pull mode: the result is returned to
// the puller and never propagated to the node's own successors.
func (e *Engine) executePull(ctx context.Context, nodeID string) (*NodeOutput, error) {
	exec, created := e.coord.RegisterExecution(nodeID, nil)
	if !created {
		return exec.Wait(ctx)
	}
	output, err := e.runNode(ctx, nodeID, exec, true)
	e.coord.FinishExecution(exec, output, err)
	return output, err
}

// startPush dispatches one push-triggered execution in its own goroutine:
// run the node, publish the result, then propagate to successors. An
// already-running node gets the inputs merged live instead.
//
// Push failures are caught here: they are logged and emitted as an error
// event without aborting sibling successors. Structural failures (graph
// and ambiguous-input errors) fault the whole run.
func (e *Engine) startPush(ctx context.Context, nodeID string, inputs map[string]any) {
	exec, created := e.coord.RegisterExecution(nodeID, inputs)
	if !created {
		e.coord.MergeIntoLiveInputs(nodeID, inputs)
		return
	}

	go func() {
		output, err := e.runNode(ctx, nodeID, exec, false)
		e.coord.FinishExecution(exec, output, err)
		if err != nil {
			if IsCancellation(err) {
				return
			}
			e.emitError(nodeID, err)
			var graphErr *GraphError
			var ambiguousErr *AmbiguousInputError
			if errors.As(err, &graphErr) || errors.As(err, &ambiguousErr) {
				e.shutdown(nodeID, err)
			}
			return
		}
		e.pushSuccessors(ctx, nodeID, output)
	}()
}

// successorPush accumulates the inputs one completed node pushes at one
// successor.
type successorPush struct {
	target       string
	inputs       map[string]any
	needsContext bool
}

// pushSuccessors propagates a completed node's output along its outgoing
// edges. Tool edges are pull-only and never pushed. Per target, the
// values present in the result are collected by handle; a context value
// is synthesized from the result (falling back to the live main context)
// whenever any edge targets context. Successors requiring a context edge
// are dispatched before those that do not. A target with nothing to push
// receives no call at all: zero-input invocation is reserved for pulls.
func (e *Engine) pushSuccessors(ctx context.Context, nodeID string, output *NodeOutput) {
	if e.cancelled.Load() {
		return
	}

	grouped := make(map[string]*successorPush)
	var order []string
	for _, edge := range e.graph.Outgoing(nodeID) {
		if edge.SourceOutput == HandleTools {
			continue
		}
		p := grouped[edge.Target]
		if p == nil {
			p = &successorPush{target: edge.Target, inputs: make(map[string]any)}
			grouped[edge.Target] = p
			order = append(order, edge.Target)
		}
		if edge.TargetInput == HandleContext {
			p.needsContext = true
			continue
		}
		if v, ok := output.Value(edge.SourceOutput); ok && v != nil {
			p.inputs[edge.TargetInput] = v
		}
	}

	for _, p := range grouped {
		if !p.needsContext {
			continue
		}
		p.inputs[HandleContext] = e.propagatedContext(output)
	}

	// Context-needing successors first, preserving edge order otherwise.
	sort.SliceStable(order, func(i, j int) bool {
		return grouped[order[i]].needsContext && !grouped[order[j]].needsContext
	})

	for _, target := range order {
		p := grouped[target]
		if len(p.inputs) == 0 {
			continue
		}
		if e.coord.MergeIntoLiveInputs(p.target, p.inputs) {
			continue
		}
		r := e.coord.QueuePendingInputs(p.target, p.inputs)
		if !r.Ready {
			observability.LogNodeWaiting(e.logger, p.target, r.WaitingFor)
			continue
		}
		e.startPush(ctx, p.target, r.InitialInputs)
	}
}

// propagatedContext picks the context value pushed at successors: the
// result's own context when present, else the live main context. A
// propagated main (or untyped) context whose provider or model diverges
// from the live main is reconciled to the live main, so a mid-flow
// provider switch is visible even to contexts already in flight.
func (e *Engine) propagatedContext(output *NodeOutput) *convo.Context {
	main := e.contexts.Main().Value()
	if output.Context == nil {
		return main
	}

	propagated := output.Context.Clone()
	if propagated.IsMain() && (propagated.Provider != main.Provider || propagated.Model != main.Model) {
		propagated.Provider = main.Provider
		propagated.Model = main.Model
	}
	return propagated
}

// emitError publishes a fault as an error event. Best-effort: event
// emission never masks the primary error.
func (e *Engine) emitError(nodeID string, err error) {
	observability.LogNodeError(e.logger, nodeID, err)
	evt := event.New(event.TypeError, nodeID)
	evt.Err = err.Error()
	e.events.Emit(evt)
}

// waitForUserInput suspends the calling node until external input arrives
// via ResolveUserInput or ResolveAnyWaitingUserInput, or the run is
// cancelled. The prompt is advisory and surfaced to observers.
func (e *Engine) waitForUserInput(ctx context.Context, nodeID, prompt string) (any, error) {
	if e.cancelled.Load() {
		return nil, &CancellationError{NodeID: nodeID}
	}

	w := &userWaiter{nodeID: nodeID, ch: make(chan userInputResult, 1)}
	e.mu.Lock()
	e.userWaiters = append(e.userWaiters, w)
	pending := len(e.userWaiters)
	e.mu.Unlock()

	if pending > 1 {
		e.logger.Warn("multiple nodes waiting for user input",
			slog.String("run_id", e.runID),
			slog.Int("pending", pending))
	}
	observability.LogUserInputPause(e.logger, nodeID)

	if prompt != "" {
		evt := event.New(event.TypeChunk, nodeID)
		evt.Chunk = prompt
		evt.Metadata = map[string]any{"awaitingInput": true}
		e.events.Emit(evt)
	}

	select {
	case res := <-w.ch:
		return res.value, res.err
	case <-ctx.Done():
		e.removeWaiter(w)
		return nil, &CancellationError{NodeID: nodeID}
	}
}

// ResolveUserInput delivers value to the node suspended on user input
// under nodeID. Returns false when no such node is waiting.
func (e *Engine) ResolveUserInput(nodeID string, value any) bool {
	e.mu.Lock()
	var found *userWaiter
	for i, w := range e.userWaiters {
		if w.nodeID == nodeID {
			found = w
			e.userWaiters = append(e.userWaiters[:i], e.userWaiters[i+1:]...)
			break
		}
	}
	e.mu.Unlock()

	if found == nil {
		return false
	}
	found.ch <- userInputResult{value: value}
	return true
}

// ResolveAnyWaitingUserInput delivers value to the longest-waiting node
// suspended on user input, returning its node id. Exactly one waiter is
// expected in normal operation; more than one is tolerated with a
// warning and the first is resolved.
func (e *Engine) ResolveAnyWaitingUserInput(value any) (string, bool) {
	e.mu.Lock()
	if len(e.userWaiters) == 0 {
		e.mu.Unlock()
		return "", false
	}
	if len(e.userWaiters) > 1 {
		e.logger.Warn("multiple user-input waiters pending, resolving first",
			slog.String("run_id", e.runID),
			slog.Int("pending", len(e.userWaiters)))
	}
	w := e.userWaiters[0]
	e.userWaiters = e.userWaiters[1:]
	e.mu.Unlock()

	w.ch <- userInputResult{value: value}
	return w.nodeID, true
}

func (e *Engine) removeWaiter(target *userWaiter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, w := range e.userWaiters {
		if w == target {
			e.userWaiters = append(e.userWaiters[:i], e.userWaiters[i+1:]...)
			return
		}
	}
}

// rejectUserWaiters wakes every pending user-input waiter with a typed
// cancellation result.
func (e *Engine) rejectUserWaiters() {
	e.mu.Lock()
	waiters := e.userWaiters
	e.userWaiters = nil
	e.mu.Unlock()

	for _, w := range waiters {
		w.ch <- userInputResult{err: &CancellationError{NodeID: w.nodeID}}
	}
}

// UpdateProviderModel switches the live main context's provider and/or
// model mid-run. Empty fields are left unchanged. Contexts already in
// flight pick up the change at the next push boundary.
func (e *Engine) UpdateProviderModel(provider, model string) {
	e.contexts.UpdateProviderModel(provider, model)
	e.logger.Info("provider/model updated",
		slog.String("run_id", e.runID),
		slog.String("provider", provider),
		slog.String("model", model))
}

// GetSnapshot reports the run's externally observable state.
func (e *Engine) GetSnapshot() RunSnapshot {
	snap := RunSnapshot{Status: RunStatusRunning}
	if e.cancelled.Load() {
		snap.Status = RunStatusStopped
	}
	snap.RunningNodes = e.coord.RunningNodes()
	sort.Strings(snap.RunningNodes)

	e.mu.Lock()
	if len(e.userWaiters) > 0 {
		snap.PausedNode = e.userWaiters[0].nodeID
		if snap.Status == RunStatusRunning {
			snap.Status = RunStatusWaitingInput
		}
	}
	e.mu.Unlock()
	return snap
}

// TriggerPortalOutputs executes every portal-output node registered under
// portalID as a push-triggered invocation. This is how a portal-input
// node re-activates a disjoint subgraph after storing its payload.
func (e *Engine) TriggerPortalOutputs(portalID string) {
	ctx := e.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, nodeID := range e.graph.PortalOutputs(portalID) {
		e.startPush(ctx, nodeID, map[string]any{"portalId": portalID})
	}
}

// portalData reads the payload stored under a portal key.
func (e *Engine) portalData(portalID string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.portals[portalID]
	return v, ok
}

// setPortalData stores a payload under a portal key.
func (e *Engine) setPortalData(portalID string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.portals[portalID] = value
}
