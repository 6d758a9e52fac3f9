package convo

// Manager is the context-manipulation facade bound to one binding's value
// cell. Every update clones the current value, applies the change, and
// swaps the cell, so the canonical value is replaced rather than mutated
// in place.
type Manager struct {
	binding *Binding
}

// ContextID returns the id of the bound context.
func (m *Manager) ContextID() string { return m.binding.contextID }

// Value returns a deep clone of the bound context.
func (m *Manager) Value() *Context { return m.binding.Value() }

// History returns a deep clone of the bound context's message history.
func (m *Manager) History() []Message {
	r := m.binding.registry
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneMessages(m.binding.ref.MessageHistory)
}

// update applies fn to a clone of the current value and swaps the cell.
func (m *Manager) update(fn func(c *Context)) {
	r := m.binding.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	next := m.binding.ref.Clone()
	fn(next)
	m.binding.ref = next
}

// Append sanitizes and appends messages to the history.
func (m *Manager) Append(msgs ...Message) {
	clean := SanitizeMessages(msgs)
	if len(clean) == 0 {
		return
	}
	m.update(func(c *Context) {
		c.MessageHistory = append(c.MessageHistory, clean...)
	})
}

// Inject upserts messages into the history. A message whose metadata
// carries a stable id replaces the existing entry with that id; everything
// else is appended. Re-applying the same injection is idempotent.
func (m *Manager) Inject(msgs ...Message) {
	clean := SanitizeMessages(msgs)
	if len(clean) == 0 {
		return
	}
	m.update(func(c *Context) {
		for _, msg := range clean {
			if msg.Metadata == nil || msg.Metadata.ID == "" {
				c.MessageHistory = append(c.MessageHistory, msg)
				continue
			}
			replaced := false
			for i, existing := range c.MessageHistory {
				if existing.Metadata != nil && existing.Metadata.ID == msg.Metadata.ID {
					c.MessageHistory[i] = msg
					replaced = true
					break
				}
			}
			if !replaced {
				c.MessageHistory = append(c.MessageHistory, msg)
			}
		}
	})
}

// ReplaceHistory swaps the entire history for a sanitized copy of msgs.
func (m *Manager) ReplaceHistory(msgs []Message) {
	m.update(func(c *Context) {
		c.MessageHistory = SanitizeMessages(msgs)
	})
}

// SetSystemInstructions replaces the system instructions.
func (m *Manager) SetSystemInstructions(instructions string) {
	m.update(func(c *Context) {
		c.SystemInstructions = instructions
	})
}

// SetProviderModel rewrites provider and model.
// Empty arguments leave the corresponding field unchanged.
func (m *Manager) SetProviderModel(provider, model string) {
	m.update(func(c *Context) {
		if provider != "" {
			c.Provider = provider
		}
		if model != "" {
			c.Model = model
		}
	})
}
