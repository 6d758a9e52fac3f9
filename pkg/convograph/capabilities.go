package convograph

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/convograph/pkg/convograph/convo"
	"github.com/randalmurphal/convograph/pkg/convograph/event"
)

// Capabilities is the surface the engine hands each node invocation.
// Everything a node needs from its host goes through here: identity,
// cancellation, events, context manipulation, tools, user input, and
// portal data.
type Capabilities struct {
	engine  *Engine
	nodeID  string
	execID  string
	binding *convo.Binding
	logger  *slog.Logger
}

// NodeID returns the executing node's id.
func (c *Capabilities) NodeID() string { return c.nodeID }

// RunID returns the run's id.
func (c *Capabilities) RunID() string { return c.engine.runID }

// ExecutionID returns the id of this specific invocation.
func (c *Capabilities) ExecutionID() string { return c.execID }

// Logger returns a logger enriched with run and node context.
func (c *Capabilities) Logger() *slog.Logger { return c.logger }

// Cancelled reports whether the run's shared cancellation signal is set.
// Node logic is expected to check this at key await points.
func (c *Capabilities) Cancelled() bool { return c.engine.cancelled.Load() }

// Emit publishes an execution event. Emission is best-effort; a failing
// observer never aborts node execution.
func (c *Capabilities) Emit(evt event.Event) {
	if evt.NodeID == "" {
		evt.NodeID = c.nodeID
	}
	if evt.ExecutionID == "" {
		evt.ExecutionID = c.execID
	}
	c.engine.events.Emit(evt)
}

// StreamChunk emits a chunk event carrying streamed response text.
func (c *Capabilities) StreamChunk(text string) {
	evt := event.New(event.TypeChunk, c.nodeID)
	evt.ExecutionID = c.execID
	evt.Chunk = text
	c.engine.events.Emit(evt)
}

// StreamReasoning emits a reasoning event carrying streamed thinking text.
func (c *Capabilities) StreamReasoning(text string) {
	evt := event.New(event.TypeReasoning, c.nodeID)
	evt.ExecutionID = c.execID
	evt.Reasoning = text
	c.engine.events.Emit(evt)
}

// AddBadge surfaces a labeled status marker on the conversation timeline.
func (c *Capabilities) AddBadge(badgeID, label string) {
	c.badgeEvent(badgeID, label, false)
}

// UpdateBadge replaces the label of a previously added badge.
func (c *Capabilities) UpdateBadge(badgeID, label string) {
	c.badgeEvent(badgeID, label, true)
}

func (c *Capabilities) badgeEvent(badgeID, label string, update bool) {
	evt := event.New(event.TypeChunk, c.nodeID)
	evt.ExecutionID = c.execID
	evt.Metadata = map[string]any{
		"badgeId": badgeID,
		"label":   label,
		"update":  update,
	}
	c.engine.events.Emit(evt)
}

// ReportUsage emits a tokenUsage event and records the usage metric.
func (c *Capabilities) ReportUsage(provider, model string, usage event.TokenUsage) {
	evt := event.New(event.TypeTokenUsage, c.nodeID)
	evt.ExecutionID = c.execID
	evt.Usage = &usage
	c.engine.events.Emit(evt)

	breakdown := event.New(event.TypeUsageBreakdown, c.nodeID)
	breakdown.ExecutionID = c.execID
	breakdown.Breakdown = &event.UsageBreakdown{Provider: provider, Model: model, Usage: usage}
	c.engine.events.Emit(breakdown)

	c.engine.metrics.RecordTokenUsage(context.Background(), provider, model, int64(usage.TotalTokens))
}

// Manager returns the context manager bound to this invocation's active
// binding.
func (c *Capabilities) Manager() *convo.Manager { return c.binding.Manager() }

// ActiveContext returns a snapshot of the active binding's context.
func (c *Capabilities) ActiveContext() *convo.Context { return c.binding.Value() }

// Contexts returns the contexts helper scoped to this invocation.
func (c *Capabilities) Contexts() ContextsAPI {
	return ContextsAPI{engine: c.engine, active: c.binding, createdBy: c.nodeID}
}

// Tools runs a named tool via the configured executor, emitting the tool
// lifecycle events around the call.
func (c *Capabilities) Tools() ToolsAPI {
	return ToolsAPI{caps: c}
}

// WaitForUserInput suspends until external input arrives for this node,
// or the run is cancelled. The prompt is advisory and surfaced to
// observers; the returned value is whatever the resolver supplied.
func (c *Capabilities) WaitForUserInput(ctx context.Context, prompt string) (any, error) {
	return c.engine.waitForUserInput(ctx, c.nodeID, prompt)
}

// PortalData reads the payload stored under a portal key.
func (c *Capabilities) PortalData(portalID string) (any, bool) {
	return c.engine.portalData(portalID)
}

// SetPortalData stores a payload under a portal key.
func (c *Capabilities) SetPortalData(portalID string, value any) {
	c.engine.setPortalData(portalID, value)
}

// TriggerPortalOutputs re-activates the subgraphs hanging off the
// portal-output nodes registered for a key.
func (c *Capabilities) TriggerPortalOutputs(portalID string) {
	c.engine.TriggerPortalOutputs(portalID)
}

// ContextsAPI exposes context lifecycle operations to node logic.
type ContextsAPI struct {
	engine    *Engine
	active    *convo.Binding
	createdBy string
}

// Active returns a snapshot of the active context.
func (a ContextsAPI) Active() *convo.Context { return a.active.Value() }

// List returns snapshots of every tracked context, main first.
func (a ContextsAPI) List() []*convo.Context { return a.engine.contexts.ListSnapshots() }

// Get returns a snapshot of one context by id.
func (a ContextsAPI) Get(contextID string) (*convo.Context, bool) {
	return a.engine.contexts.Snapshot(contextID)
}

// CreateIsolated forks an isolated context. The fork's base defaults to
// the invocation's active binding.
func (a ContextsAPI) CreateIsolated(opts convo.IsolateOptions) (*convo.Context, error) {
	if opts.CreatedByNodeID == "" {
		opts.CreatedByNodeID = a.createdBy
	}
	b, err := a.engine.contexts.CreateIsolated(opts, a.active)
	if err != nil {
		return nil, err
	}
	return b.Value(), nil
}

// Release drops an isolated context. Returns false for the main context
// or an unknown id.
func (a ContextsAPI) Release(contextID string) bool {
	return a.engine.contexts.Release(contextID)
}

// ToolsAPI exposes tool execution to node logic with lifecycle events
// wrapped around each call.
type ToolsAPI struct {
	caps *Capabilities
}

// List returns the tools available for execution.
func (t ToolsAPI) List() []ToolDefinition {
	return t.caps.engine.tools.List()
}

// Execute runs a named tool, emitting toolStart and toolEnd (or
// toolError) around the call.
func (t ToolsAPI) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	start := event.New(event.TypeToolStart, t.caps.nodeID)
	start.ExecutionID = t.caps.execID
	start.Tool = &event.ToolInfo{Name: name, Args: args}
	t.caps.engine.events.Emit(start)

	result, err := t.caps.engine.tools.Execute(ctx, name, args)
	if err != nil {
		evt := event.New(event.TypeToolError, t.caps.nodeID)
		evt.ExecutionID = t.caps.execID
		evt.Tool = &event.ToolInfo{Name: name, Args: args}
		evt.Err = err.Error()
		t.caps.engine.events.Emit(evt)
		return nil, err
	}

	end := event.New(event.TypeToolEnd, t.caps.nodeID)
	end.ExecutionID = t.caps.execID
	end.Tool = &event.ToolInfo{Name: name, Args: args, Result: result}
	t.caps.engine.events.Emit(end)
	return result, nil
}
