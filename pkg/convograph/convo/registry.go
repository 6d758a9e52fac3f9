package convo

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BindingError indicates an operation against an unknown or released
// context id.
type BindingError struct {
	// ContextID is the id the operation targeted.
	ContextID string
	// Op is the operation that failed (e.g., "resolve", "isolate").
	Op string
}

// Error implements the error interface.
func (e *BindingError) Error() string {
	return fmt.Sprintf("context binding %s: unknown context %q", e.Op, e.ContextID)
}

// Binding tracks one registered context: its id, type, the canonical value
// cell, and a manager facade bound to that cell.
//
// Exactly one binding in a registry has type main; it is established at
// construction and never removed.
type Binding struct {
	contextID   string
	contextType ContextType

	registry *Registry
	manager  *Manager

	// ref is the canonical value cell. It is replaced, never mutated in
	// place, so observers can rely on pointer equality for change
	// detection. Guarded by the registry mutex.
	ref *Context
}

// ContextID returns the bound context id.
func (b *Binding) ContextID() string { return b.contextID }

// ContextType returns the bound context type.
func (b *Binding) ContextType() ContextType { return b.contextType }

// Manager returns the context-manipulation facade bound to this binding.
func (b *Binding) Manager() *Manager { return b.manager }

// Value returns a deep clone of the current context value.
func (b *Binding) Value() *Context {
	b.registry.mu.Lock()
	defer b.registry.mu.Unlock()
	return b.ref.Clone()
}

// current returns the canonical value without cloning.
// Callers must hold the registry mutex and must not mutate the result.
func (b *Binding) current() *Context { return b.ref }

// IsolateOptions configures isolated-context creation.
type IsolateOptions struct {
	// BaseContextID selects the fork base explicitly. When empty the
	// active binding is used, falling back to main.
	BaseContextID string

	// Provider and Model override the base's when non-empty.
	Provider string
	Model    string

	// SystemInstructions, when non-nil, wins over inheritance.
	SystemInstructions        *string
	InheritSystemInstructions bool

	// InheritHistory seeds the fork with a deep copy of the base history.
	InheritHistory bool

	// InitialMessages are appended after any inherited history.
	InitialMessages []Message

	// Sampling controls, copied through only when set.
	Temperature     *float64
	ReasoningEffort string
	IncludeThoughts *bool
	ThinkingBudget  *int

	// CreatedByNodeID records which node requested the fork.
	CreatedByNodeID string
}

// Registry owns all context bindings for one flow run.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	bindings map[string]*Binding
	mainID   string
}

// NewRegistry creates a registry with the given context as the main
// binding. A nil or id-less initial context gets defaults filled in.
func NewRegistry(initial *Context) *Registry {
	r := &Registry{bindings: make(map[string]*Binding)}

	main := initial.Clone()
	if main == nil {
		main = &Context{}
	}
	if main.ContextID == "" {
		main.ContextID = uuid.New().String()
	}
	main.ContextType = TypeMain
	main.MessageHistory = SanitizeMessages(main.MessageHistory)
	if main.CreatedAt.IsZero() {
		main.CreatedAt = time.Now().UTC()
	}

	r.mainID = main.ContextID
	r.register(main)
	return r
}

// register creates and stores a binding for a context value.
// Callers must hold the mutex (NewRegistry is exempt: no concurrency yet).
func (r *Registry) register(value *Context) *Binding {
	b := &Binding{
		contextID:   value.ContextID,
		contextType: value.ContextType,
		registry:    r,
		ref:         value,
	}
	b.manager = &Manager{binding: b}
	r.bindings[value.ContextID] = b
	return b
}

// Main returns the main binding. It always exists.
func (r *Registry) Main() *Binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bindings[r.mainID]
}

// MainID returns the main context id.
func (r *Registry) MainID() string {
	return r.mainID
}

// Get returns the binding for a context id.
func (r *Registry) Get(contextID string) (*Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[contextID]
	return b, ok
}

// ResolveFromSnapshot resolves the binding a snapshot refers to.
//
// With a nil snapshot the main binding is returned. A snapshot carrying a
// known id either leaves the binding untouched (preferExisting) or replaces
// the binding's value with a normalized copy of the snapshot. An unknown id
// registers a new binding with fallbackType.
func (r *Registry) ResolveFromSnapshot(snapshot *Context, fallbackType ContextType, preferExisting bool) *Binding {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snapshot == nil || snapshot.ContextID == "" {
		return r.bindings[r.mainID]
	}

	if b, ok := r.bindings[snapshot.ContextID]; ok {
		if preferExisting || b.ref == snapshot {
			return b
		}
		b.ref = r.normalize(snapshot, b.contextType)
		return b
	}

	return r.register(r.normalize(snapshot, snapshotType(snapshot, fallbackType)))
}

// snapshotType picks the type an unknown snapshot registers under: its own
// explicit type wins over the caller's fallback. A foreign id claiming the
// main type still takes the fallback; a second main binding never exists.
func snapshotType(snapshot *Context, fallback ContextType) ContextType {
	if snapshot.ContextType != "" && snapshot.ContextType != TypeMain {
		return snapshot.ContextType
	}
	return fallback
}

// EnsureBindingForOutput tracks a context value returned by a node: the
// existing binding for its id is updated, or a new binding is registered.
func (r *Registry) EnsureBindingForOutput(snapshot *Context, fallbackType ContextType) *Binding {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snapshot == nil {
		return r.bindings[r.mainID]
	}
	if snapshot.ContextID == "" || snapshot.ContextID == r.mainID {
		main := r.bindings[r.mainID]
		main.ref = r.normalize(snapshot, TypeMain)
		main.ref.ContextID = r.mainID
		return main
	}
	if b, ok := r.bindings[snapshot.ContextID]; ok {
		b.ref = r.normalize(snapshot, b.contextType)
		return b
	}
	return r.register(r.normalize(snapshot, snapshotType(snapshot, fallbackType)))
}

// normalize produces the canonical copy of a snapshot entering the
// registry. Callers must hold the mutex.
func (r *Registry) normalize(snapshot *Context, ctxType ContextType) *Context {
	c := snapshot.Clone()
	if c.ContextID == "" {
		c.ContextID = uuid.New().String()
	}
	if ctxType != "" {
		c.ContextType = ctxType
	}
	if c.ContextID == r.mainID {
		c.ContextType = TypeMain
	}
	c.MessageHistory = SanitizeMessages(c.MessageHistory)
	return c
}

// CreateIsolated forks a new isolated context from a base binding.
//
// Base resolution: explicit BaseContextID lookup, else activeBinding, else
// main. Provider and model default to the base's unless overridden. System
// instructions resolve explicit > inherited (when requested) > empty.
func (r *Registry) CreateIsolated(opts IsolateOptions, activeBinding *Binding) (*Binding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	base := activeBinding
	if opts.BaseContextID != "" {
		b, ok := r.bindings[opts.BaseContextID]
		if !ok {
			return nil, &BindingError{ContextID: opts.BaseContextID, Op: "isolate"}
		}
		base = b
	}
	if base == nil {
		base = r.bindings[r.mainID]
	}
	baseValue := base.current()

	c := &Context{
		ContextID:       uuid.New().String(),
		ContextType:     TypeIsolated,
		Provider:        baseValue.Provider,
		Model:           baseValue.Model,
		ParentContextID: base.contextID,
		CreatedByNodeID: opts.CreatedByNodeID,
		CreatedAt:       time.Now().UTC(),
	}
	if opts.Provider != "" {
		c.Provider = opts.Provider
	}
	if opts.Model != "" {
		c.Model = opts.Model
	}

	switch {
	case opts.SystemInstructions != nil:
		c.SystemInstructions = *opts.SystemInstructions
	case opts.InheritSystemInstructions:
		c.SystemInstructions = baseValue.SystemInstructions
	}

	if opts.InheritHistory {
		c.MessageHistory = SanitizeMessages(baseValue.MessageHistory)
	}
	if len(opts.InitialMessages) > 0 {
		c.MessageHistory = append(c.MessageHistory, SanitizeMessages(opts.InitialMessages)...)
	}

	if opts.Temperature != nil {
		v := *opts.Temperature
		c.Temperature = &v
	}
	if opts.ReasoningEffort != "" {
		c.ReasoningEffort = opts.ReasoningEffort
	}
	if opts.IncludeThoughts != nil {
		v := *opts.IncludeThoughts
		c.IncludeThoughts = &v
	}
	if opts.ThinkingBudget != nil {
		v := *opts.ThinkingBudget
		c.ThinkingBudget = &v
	}

	return r.register(c), nil
}

// Release deletes a non-main binding.
// Returns false for the main id or an unknown id.
func (r *Registry) Release(contextID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if contextID == r.mainID {
		return false
	}
	if _, ok := r.bindings[contextID]; !ok {
		return false
	}
	delete(r.bindings, contextID)
	return true
}

// ReleaseAllIsolated drops every non-main binding and returns the released
// ids. Used when a run shuts down.
func (r *Registry) ReleaseAllIsolated() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var released []string
	for id := range r.bindings {
		if id == r.mainID {
			continue
		}
		delete(r.bindings, id)
		released = append(released, id)
	}
	return released
}

// Snapshot returns a deep clone of one context value.
func (r *Registry) Snapshot(contextID string) (*Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[contextID]
	if !ok {
		return nil, false
	}
	return b.ref.Clone(), true
}

// CaptureState returns deep clones of every tracked context, keyed by id.
// Mutating the result never affects registry state.
func (r *Registry) CaptureState() map[string]*Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]*Context, len(r.bindings))
	for id, b := range r.bindings {
		out[id] = b.ref.Clone()
	}
	return out
}

// ListSnapshots returns deep clones of every tracked context, main first.
func (r *Registry) ListSnapshots() []*Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Context, 0, len(r.bindings))
	if main, ok := r.bindings[r.mainID]; ok {
		out = append(out, main.ref.Clone())
	}
	for id, b := range r.bindings {
		if id == r.mainID {
			continue
		}
		out = append(out, b.ref.Clone())
	}
	return out
}

// UpdateProviderModel rewrites the main context's provider and model.
// Empty arguments leave the corresponding field unchanged.
func (r *Registry) UpdateProviderModel(provider, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	main := r.bindings[r.mainID]
	next := main.ref.Clone()
	if provider != "" {
		next.Provider = provider
	}
	if model != "" {
		next.Model = model
	}
	main.ref = next
}
