package convograph

import (
	"context"
	"fmt"
	"sync"

	"github.com/randalmurphal/convograph/pkg/convograph/config"
	"github.com/randalmurphal/convograph/pkg/convograph/convo"
)

// Inputs is the lazy input surface handed to a node function. Pull fetches
// a named input, executing its unique upstream source on demand; Has
// reports whether a named input is available (already pushed, or pullable
// through exactly one edge).
type Inputs struct {
	Pull func(ctx context.Context, name string) (any, error)
	Has  func(name string) bool
}

// NodeFunc is the signature all node implementations share.
//
// contextIn and dataIn are the context/data operands pushed into this
// invocation (contextIn falls back to the active binding's value when no
// context was pushed). Nodes return a NodeOutput or an error; a returned
// output with StatusError is converted into a NodeExecutionError by the
// engine.
type NodeFunc func(ctx context.Context, caps *Capabilities, contextIn *convo.Context, dataIn any, in Inputs, cfg config.Config) (*NodeOutput, error)

// NodeRegistry maps node types to implementations. Dispatch is resolved
// once at graph load, not per call: an unknown type fails Engine
// construction with ErrUnknownNodeType.
type NodeRegistry struct {
	mu    sync.RWMutex
	funcs map[string]NodeFunc
}

// NewNodeRegistry creates an empty node registry.
func NewNodeRegistry() *NodeRegistry {
	return &NodeRegistry{funcs: make(map[string]NodeFunc)}
}

// Register adds an implementation for a node type.
// Registering a duplicate type or a nil function panics: these are
// programming errors, not runtime conditions.
func (r *NodeRegistry) Register(nodeType string, fn NodeFunc) *NodeRegistry {
	if nodeType == "" {
		panic("convograph: node type cannot be empty")
	}
	if fn == nil {
		panic("convograph: node function cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.funcs[nodeType]; exists {
		panic(fmt.Sprintf("convograph: duplicate node type: %s", nodeType))
	}
	r.funcs[nodeType] = fn
	return r
}

// Resolve returns the implementation for a node type.
func (r *NodeRegistry) Resolve(nodeType string) (NodeFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[nodeType]
	return fn, ok
}

// Types returns all registered node types.
func (r *NodeRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.funcs))
	for t := range r.funcs {
		types = append(types, t)
	}
	return types
}

// ToolDefinition describes a callable tool exposed to nodes and, through
// them, to model providers. Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolExecutor runs tools on behalf of node logic. Implementations live
// outside the engine; NoTools is used when none is configured.
type ToolExecutor interface {
	// Execute runs a named tool with the given arguments.
	Execute(ctx context.Context, name string, args map[string]any) (any, error)

	// List returns the tools available for execution.
	List() []ToolDefinition
}

// NoTools is a ToolExecutor with no tools.
type NoTools struct{}

// Execute always fails: there are no tools to run.
func (NoTools) Execute(_ context.Context, name string, _ map[string]any) (any, error) {
	return nil, fmt.Errorf("no tool executor configured: cannot run %q", name)
}

// List returns no tools.
func (NoTools) List() []ToolDefinition { return nil }
