// Package event carries execution events from the engine to external
// observers: a typed event taxonomy, an in-memory pub/sub bus, and a
// router that enforces the boundary contract (no events after abort,
// at most one done per run).
package event

import (
	"time"

	"github.com/google/uuid"
)

// Execution event types emitted by the engine.
const (
	TypeNodeStart      = "nodeStart"
	TypeNodeEnd        = "nodeEnd"
	TypeChunk          = "chunk"
	TypeReasoning      = "reasoning"
	TypeToolStart      = "toolStart"
	TypeToolEnd        = "toolEnd"
	TypeToolError      = "toolError"
	TypeTokenUsage     = "tokenUsage"
	TypeUsageBreakdown = "usageBreakdown"
	TypeError          = "error"
	TypeDone           = "done"
)

// TokenUsage reports provider token consumption for one request.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// UsageBreakdown attributes token usage to a model within a run.
type UsageBreakdown struct {
	Provider string     `json:"provider"`
	Model    string     `json:"model"`
	Usage    TokenUsage `json:"usage"`
}

// ToolInfo describes a tool invocation in tool lifecycle events.
type ToolInfo struct {
	Name   string         `json:"name"`
	CallID string         `json:"callId,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
	Result any            `json:"result,omitempty"`
}

// Event is one execution event. Type determines which payload fields are
// populated; NodeID is set on every event, ExecutionID when the event is
// tied to a specific node invocation.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	NodeID      string    `json:"nodeId"`
	ExecutionID string    `json:"executionId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`

	// Payloads, by type.
	Chunk     string          `json:"chunk,omitempty"`     // chunk
	Reasoning string          `json:"reasoning,omitempty"` // reasoning
	Tool      *ToolInfo       `json:"tool,omitempty"`      // toolStart, toolEnd, toolError
	Usage     *TokenUsage     `json:"usage,omitempty"`     // tokenUsage
	Breakdown *UsageBreakdown `json:"breakdown,omitempty"` // usageBreakdown
	Err       string          `json:"error,omitempty"`     // error, toolError, done (faulted)
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// New creates an event of the given type for a node, stamping id and time.
func New(eventType, nodeID string) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		NodeID:    nodeID,
		Timestamp: time.Now().UTC(),
	}
}

// Terminal reports whether the event ends observation of a run.
func (e Event) Terminal() bool {
	return e.Type == TypeDone
}
