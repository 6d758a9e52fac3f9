package convograph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/randalmurphal/convograph/pkg/convograph/config"
	"github.com/randalmurphal/convograph/pkg/convograph/convo"
	"github.com/randalmurphal/convograph/pkg/convograph/event"
	"github.com/randalmurphal/convograph/pkg/convograph/observability"
	"github.com/randalmurphal/convograph/pkg/convograph/session"
)

// runNode executes exactly one node invocation: binding resolution,
// capability construction, the node function call, output-context
// registration, session flush, and result classification.
//
// Cancellation errors are re-thrown without wrapping so callers can treat
// them as a clean stop; everything else a node produces comes back as a
// NodeExecutionError.
func (e *Engine) runNode(ctx context.Context, nodeID string, exec *execution, isPull bool) (*NodeOutput, error) {
	if e.cancelled.Load() {
		return nil, &CancellationError{NodeID: nodeID}
	}

	node, ok := e.graph.NodeByID(nodeID)
	if !ok {
		return nil, &GraphError{NodeID: nodeID, Err: fmt.Errorf("node not found")}
	}
	fn := e.resolved[node.Type]

	binding := e.resolveBinding(exec)
	contextIn := binding.Value()
	dataIn := e.coord.liveInput(exec, HandleData)

	logger := observability.EnrichLogger(e.logger, e.runID, nodeID)
	caps := &Capabilities{
		engine:  e,
		nodeID:  nodeID,
		execID:  exec.id,
		binding: binding,
		logger:  logger,
	}
	in := Inputs{
		Pull: e.coord.PullFunc(nodeID),
		Has:  e.coord.HasFunc(nodeID),
	}

	observability.LogNodeStart(logger, nodeID, isPull)
	nodeCtx, span := e.spans.StartNodeSpan(ctx, nodeID, isPull)
	start := time.Now()

	startEvt := event.New(event.TypeNodeStart, nodeID)
	startEvt.ExecutionID = exec.id
	e.events.Emit(startEvt)

	output, err := e.invoke(nodeCtx, fn, caps, contextIn, dataIn, in, node)
	duration := time.Since(start)

	output, err = e.classifyResult(nodeID, binding, output, err)

	e.metrics.RecordNodeExecution(nodeCtx, nodeID, duration, err)
	e.spans.EndSpanWithError(span, err)

	endEvt := event.New(event.TypeNodeEnd, nodeID)
	endEvt.ExecutionID = exec.id
	if err != nil {
		endEvt.Err = err.Error()
	}
	e.events.Emit(endEvt)

	if err != nil {
		if !IsCancellation(err) {
			observability.LogNodeError(logger, nodeID, err)
		}
		return nil, err
	}
	observability.LogNodeComplete(logger, nodeID, float64(duration.Milliseconds()))
	return output, nil
}

// invoke calls the node function with panic recovery: a panicking node
// fails its own execution rather than the whole process.
func (e *Engine) invoke(ctx context.Context, fn NodeFunc, caps *Capabilities, contextIn *convo.Context, dataIn any, in Inputs, node Node) (output *NodeOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = &NodeExecutionError{
				NodeID: node.ID,
				Err:    fmt.Errorf("panic: %v\n%s", r, debug.Stack()),
			}
		}
	}()
	return fn(ctx, caps, contextIn, dataIn, in, config.New(node.Config))
}

// classifyResult applies the engine's success/error policy and persists a
// successful result's context.
//
// An explicit error status is converted into a thrown failure even though
// the node returned normally. On success the output context is registered
// back into the registry and durable state is flushed; flush failures are
// logged, never raised.
func (e *Engine) classifyResult(nodeID string, binding *convo.Binding, output *NodeOutput, err error) (*NodeOutput, error) {
	if err != nil {
		if IsCancellation(err) {
			return nil, err
		}
		var nodeErr *NodeExecutionError
		var graphErr *GraphError
		var ambiguousErr *AmbiguousInputError
		if errors.As(err, &nodeErr) || errors.As(err, &graphErr) || errors.As(err, &ambiguousErr) {
			return nil, err
		}
		return nil, &NodeExecutionError{NodeID: nodeID, Err: err}
	}

	if output == nil {
		return nil, &NodeExecutionError{NodeID: nodeID, Err: fmt.Errorf("node returned no output")}
	}
	if output.Status == StatusError {
		msg := output.Error
		if msg == "" {
			msg = "node reported error status"
		}
		return nil, &NodeExecutionError{NodeID: nodeID, Err: fmt.Errorf("%s", msg)}
	}

	if output.Context != nil {
		persisted := output.Context
		// A main output context is a snapshot taken when the execution was
		// dispatched; persisting it must not roll back a provider or model
		// switch applied to the live main while the node ran.
		if persisted.IsMain() {
			if live := e.contexts.Main().Value(); live != nil &&
				(persisted.Provider != live.Provider || persisted.Model != live.Model) {
				persisted = persisted.Clone()
				persisted.Provider = live.Provider
				persisted.Model = live.Model
			}
		}
		e.contexts.EnsureBindingForOutput(persisted, binding.ContextType())
	}
	e.flushSession()
	return output, nil
}

// resolveBinding picks the active context binding for an execution from
// its pushed context input, falling back to main.
func (e *Engine) resolveBinding(exec *execution) *convo.Binding {
	if snap, ok := e.coord.liveInput(exec, HandleContext).(*convo.Context); ok && snap != nil {
		return e.contexts.ResolveFromSnapshot(snap, convo.TypeMain, false)
	}
	return e.contexts.Main()
}

// flushSession persists every tracked context to the session store.
// Flushing is best-effort: failures are logged and never surface to node
// execution.
func (e *Engine) flushSession() {
	if e.session == nil {
		return
	}

	state := e.contexts.CaptureState()
	var total int64
	for id, c := range state {
		payload, err := json.Marshal(c)
		if err != nil {
			observability.LogSessionFlushError(e.logger, e.runID, err)
			continue
		}
		total += int64(len(payload))
		rec := session.Record{
			RunID:       e.runID,
			ContextID:   id,
			ContextType: string(c.ContextType),
			State:       payload,
			UpdatedAt:   time.Now().UTC(),
		}
		if err := e.session.Save(rec); err != nil {
			observability.LogSessionFlushError(e.logger, e.runID, err)
		}
	}
	observability.LogSessionFlush(e.logger, e.runID, len(state))
	e.metrics.RecordSessionFlush(context.Background(), e.runID, total)
}
