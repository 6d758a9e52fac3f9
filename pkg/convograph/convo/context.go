// Package convo owns conversation state for a flow run: the single main
// context, any number of isolated forks, and the bindings that track them.
//
// The registry is the only writer of canonical context values. Every value
// that crosses the package boundary is a deep clone, so callers may mutate
// what they receive without affecting registry state.
package convo

import (
	"time"
)

// ContextType discriminates the main conversation from isolated forks.
type ContextType string

// Context type constants.
const (
	TypeMain     ContextType = "main"
	TypeIsolated ContextType = "isolated"
)

// Role identifies the author of a message.
type Role string

// Valid message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageMetadata carries per-message bookkeeping.
// A non-empty ID makes the message an idempotent injection target:
// re-injecting with the same ID updates the entry in place.
type MessageMetadata struct {
	ID       string `json:"id,omitempty"`
	Pinned   bool   `json:"pinned,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

// Message is a single entry in a context's history.
type Message struct {
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Reasoning string           `json:"reasoning,omitempty"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.Metadata != nil {
		md := *m.Metadata
		out.Metadata = &md
	}
	return out
}

// Context is the conversation state threaded through node executions:
// provider/model selection, system instructions, message history, and
// optional sampling controls.
//
// Sampling fields are pointers so "not set" is distinguishable from an
// explicit zero; isolated-context creation copies them through only when
// explicitly set.
type Context struct {
	ContextID          string         `json:"contextId"`
	ContextType        ContextType    `json:"contextType,omitempty"`
	Provider           string         `json:"provider"`
	Model              string         `json:"model"`
	SystemInstructions string         `json:"systemInstructions,omitempty"`
	MessageHistory     []Message      `json:"messageHistory"`
	Temperature        *float64       `json:"temperature,omitempty"`
	ReasoningEffort    string         `json:"reasoningEffort,omitempty"`
	IncludeThoughts    *bool          `json:"includeThoughts,omitempty"`
	ThinkingBudget     *int           `json:"thinkingBudget,omitempty"`
	ModelOverrides     map[string]any `json:"modelOverrides,omitempty"`
	ParentContextID    string         `json:"parentContextId,omitempty"`
	CreatedByNodeID    string         `json:"createdByNodeId,omitempty"`
	CreatedAt          time.Time      `json:"createdAt,omitempty"`
}

// Clone returns a deep copy of the context.
// Returns nil for a nil receiver.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	out := *c
	out.MessageHistory = cloneMessages(c.MessageHistory)
	if c.Temperature != nil {
		v := *c.Temperature
		out.Temperature = &v
	}
	if c.IncludeThoughts != nil {
		v := *c.IncludeThoughts
		out.IncludeThoughts = &v
	}
	if c.ThinkingBudget != nil {
		v := *c.ThinkingBudget
		out.ThinkingBudget = &v
	}
	if c.ModelOverrides != nil {
		out.ModelOverrides = make(map[string]any, len(c.ModelOverrides))
		for k, v := range c.ModelOverrides {
			out.ModelOverrides[k] = v
		}
	}
	return &out
}

// IsMain reports whether the context is the main conversation.
// A context with no explicit type is treated as main: untyped values
// produced by node logic participate in main-context reconciliation.
func (c *Context) IsMain() bool {
	return c == nil || c.ContextType == TypeMain || c.ContextType == ""
}

func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// SanitizeMessages filters a message list down to valid entries: unknown
// roles default to assistant, and entries with no content and no reasoning
// are dropped. The input is not modified.
func SanitizeMessages(msgs []Message) []Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			m.Role = RoleAssistant
		}
		if m.Content == "" && m.Reasoning == "" {
			continue
		}
		out = append(out, m.Clone())
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
