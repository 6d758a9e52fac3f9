package convograph

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// execution tracks one in-flight node invocation: its live input set and
// a completion channel carrying the result. At most one execution is ever
// in flight per node id; concurrent triggers deduplicate against it.
type execution struct {
	id     string
	nodeID string

	// inputs is the live input set. Guarded by the coordinator mutex;
	// late pushes merge in here instead of re-dispatching the node.
	inputs map[string]any

	done   chan struct{}
	output *NodeOutput
	err    error
}

// Wait blocks until the execution completes or ctx is done.
func (e *execution) Wait(ctx context.Context) (*NodeOutput, error) {
	select {
	case <-e.done:
		return e.output, e.err
	case <-ctx.Done():
		return nil, &CancellationError{NodeID: e.nodeID}
	}
}

// readiness reports the outcome of queueing pushed inputs for a node that
// has not started yet.
type readiness struct {
	Ready bool
	// InitialInputs is the accumulated input set, populated when Ready.
	InitialInputs map[string]any
	// WaitingFor names the inputs still blocking the node, when not Ready.
	WaitingFor []string
}

// ioCoordinator keeps per-node bookkeeping of pushed versus pullable
// inputs: live inputs of running executions, pending pushes for nodes not
// yet started, waiters blocked on a named input, and the in-flight
// execution table used for de-duplication.
type ioCoordinator struct {
	graph *Graph

	// runPull executes a node in pull mode (no successor propagation).
	// Set by the engine after construction.
	runPull func(ctx context.Context, nodeID string) (*NodeOutput, error)

	mu       sync.Mutex
	inFlight map[string]*execution
	pending  map[string]map[string]any
	waiters  map[string]map[string][]chan any
}

func newIoCoordinator(graph *Graph) *ioCoordinator {
	return &ioCoordinator{
		graph:    graph,
		inFlight: make(map[string]*execution),
		pending:  make(map[string]map[string]any),
		waiters:  make(map[string]map[string][]chan any),
	}
}

// RegisterExecution records a running execution for a node, copying the
// input snapshot into the live input set. If the node already has an
// in-flight execution, that one is returned instead and created is false.
func (c *ioCoordinator) RegisterExecution(nodeID string, inputs map[string]any) (exec *execution, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.inFlight[nodeID]; ok {
		return existing, false
	}

	exec = &execution{
		id:     uuid.New().String(),
		nodeID: nodeID,
		inputs: make(map[string]any, len(inputs)),
		done:   make(chan struct{}),
	}
	for k, v := range inputs {
		exec.inputs[k] = v
	}
	c.inFlight[nodeID] = exec
	return exec, true
}

// FinishExecution publishes the result and clears the in-flight entry and
// its input snapshot.
func (c *ioCoordinator) FinishExecution(exec *execution, output *NodeOutput, err error) {
	c.mu.Lock()
	exec.output = output
	exec.err = err
	if c.inFlight[exec.nodeID] == exec {
		delete(c.inFlight, exec.nodeID)
	}
	c.mu.Unlock()
	close(exec.done)
}

// InFlight returns the running execution for a node, if any.
func (c *ioCoordinator) InFlight(nodeID string) (*execution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	exec, ok := c.inFlight[nodeID]
	return exec, ok
}

// RunningNodes returns the ids of all nodes currently mid-execution.
func (c *ioCoordinator) RunningNodes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.inFlight))
	for id := range c.inFlight {
		ids = append(ids, id)
	}
	return ids
}

// liveInput reads one value from an execution's live input set.
func (c *ioCoordinator) liveInput(exec *execution, name string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return exec.inputs[name]
}

// MergeIntoLiveInputs folds newly pushed values into a running node's
// live input set and wakes any waiter blocked on one of the new names.
// Returns false when the node has no in-flight execution.
func (c *ioCoordinator) MergeIntoLiveInputs(nodeID string, newInputs map[string]any) bool {
	c.mu.Lock()

	exec, ok := c.inFlight[nodeID]
	if !ok {
		c.mu.Unlock()
		return false
	}

	var woken []chan any
	var values []any
	for name, value := range newInputs {
		exec.inputs[name] = value
		if byName, ok := c.waiters[nodeID]; ok {
			for _, ch := range byName[name] {
				woken = append(woken, ch)
				values = append(values, value)
			}
			delete(byName, name)
		}
	}
	c.mu.Unlock()

	for i, ch := range woken {
		ch <- values[i]
	}
	return true
}

// QueuePendingInputs accumulates pushes for a node that has not started
// and computes readiness. When the node becomes ready its accumulated
// inputs are handed back and the pending entry is cleared, so the node is
// started exactly once.
func (c *ioCoordinator) QueuePendingInputs(nodeID string, newInputs map[string]any) readiness {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := c.pending[nodeID]
	if merged == nil {
		merged = make(map[string]any)
		c.pending[nodeID] = merged
	}
	for name, value := range newInputs {
		merged[name] = value
	}

	missing := c.calculateMissingInputs(nodeID, merged)
	if len(missing) > 0 {
		return readiness{WaitingFor: missing}
	}

	delete(c.pending, nodeID)
	initial := make(map[string]any, len(merged))
	for k, v := range merged {
		initial[k] = v
	}
	return readiness{Ready: true, InitialInputs: initial}
}

// calculateMissingInputs decides what still blocks a node from starting.
//
// For every non-tools incoming edge, edges are counted per target input
// name. A name targeted by more than one edge with no value supplied is
// ambiguous and blocks readiness: the coordinator never guesses which
// edge's value should win. A single-edge name does not block (it can be
// pulled lazily). If any incoming edge targets context, a context value is
// additionally required.
//
// Callers must hold the mutex.
func (c *ioCoordinator) calculateMissingInputs(nodeID string, merged map[string]any) []string {
	counts := make(map[string]int)
	needsContext := false
	for _, e := range c.graph.Incoming(nodeID) {
		if e.SourceOutput == HandleTools {
			continue
		}
		counts[e.TargetInput]++
		if e.TargetInput == HandleContext {
			needsContext = true
		}
	}

	var missing []string
	for name, n := range counts {
		if n <= 1 {
			continue
		}
		if _, ok := merged[name]; !ok {
			missing = append(missing, name)
		}
	}
	if needsContext {
		if _, ok := merged[HandleContext]; !ok {
			missing = append(missing, HandleContext)
		}
	}
	return missing
}

// PullFunc returns the lazy fetch function scoped to one node. Pulling an
// input resolves its unique incoming edge: a running source is awaited, a
// dormant one is executed in pull mode (without propagating to its own
// successors). Zero candidate edges is a graph error; more than one is an
// ambiguous fan-in — pulling cannot disambiguate what pushing also cannot.
func (c *ioCoordinator) PullFunc(nodeID string) func(ctx context.Context, name string) (any, error) {
	return func(ctx context.Context, name string) (any, error) {
		c.mu.Lock()
		if exec, ok := c.inFlight[nodeID]; ok {
			if v, ok := exec.inputs[name]; ok {
				c.mu.Unlock()
				return v, nil
			}
		}

		var matches []Edge
		for _, e := range c.graph.Incoming(nodeID) {
			if e.TargetInput == name {
				matches = append(matches, e)
			}
		}
		if len(matches) == 0 {
			c.mu.Unlock()
			return nil, &GraphError{
				NodeID: nodeID,
				Input:  name,
				Err:    fmt.Errorf("no edge supplies input"),
			}
		}
		if len(matches) > 1 {
			c.mu.Unlock()
			return nil, &AmbiguousInputError{
				NodeID:    nodeID,
				Input:     name,
				EdgeCount: len(matches),
			}
		}
		edge := matches[0]

		if srcExec, ok := c.inFlight[edge.Source]; ok {
			c.mu.Unlock()
			out, err := srcExec.Wait(ctx)
			if err != nil {
				return nil, err
			}
			v, _ := out.Value(edge.SourceOutput)
			return v, nil
		}
		c.mu.Unlock()

		out, err := c.runPull(ctx, edge.Source)
		if err != nil {
			return nil, err
		}
		v, _ := out.Value(edge.SourceOutput)
		return v, nil
	}
}

// HasFunc returns the availability check scoped to one node: true when
// the input was already pushed or exactly one incoming edge can supply it
// by pulling.
func (c *ioCoordinator) HasFunc(nodeID string) func(name string) bool {
	return func(name string) bool {
		c.mu.Lock()
		defer c.mu.Unlock()

		if exec, ok := c.inFlight[nodeID]; ok {
			if _, ok := exec.inputs[name]; ok {
				return true
			}
		}
		n := 0
		for _, e := range c.graph.Incoming(nodeID) {
			if e.TargetInput == name {
				n++
			}
		}
		return n == 1
	}
}

// WaitForNodeInput blocks until a named input becomes available for a
// node via push, or ctx is done. An already-present value resolves
// immediately.
func (c *ioCoordinator) WaitForNodeInput(ctx context.Context, nodeID, name string) (any, error) {
	c.mu.Lock()
	if exec, ok := c.inFlight[nodeID]; ok {
		if v, ok := exec.inputs[name]; ok {
			c.mu.Unlock()
			return v, nil
		}
	}

	ch := make(chan any, 1)
	if c.waiters[nodeID] == nil {
		c.waiters[nodeID] = make(map[string][]chan any)
	}
	c.waiters[nodeID][name] = append(c.waiters[nodeID][name], ch)
	c.mu.Unlock()

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		c.dropWaiter(nodeID, name, ch)
		return nil, &CancellationError{NodeID: nodeID}
	}
}

func (c *ioCoordinator) dropWaiter(nodeID, name string, ch chan any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byName, ok := c.waiters[nodeID]
	if !ok {
		return
	}
	chans := byName[name]
	for i, existing := range chans {
		if existing == ch {
			byName[name] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
}
