// Package llm adapts chat-completion providers behind one streaming
// interface consumed by node implementations. Adapters translate the
// engine's conversation messages into each SDK's wire format and back.
package llm

import (
	"context"

	"github.com/randalmurphal/convograph/pkg/convograph/convo"
)

// ToolSpec describes one callable tool advertised to the provider.
type ToolSpec struct {
	Name        string
	Description string
	// Parameters is a JSON-schema object describing the arguments.
	Parameters map[string]any
}

// ToolCall is a provider-requested tool invocation. Arguments carry the
// raw JSON argument payload.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Usage reports token consumption for one request.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Request is a normalized chat-completion request.
type Request struct {
	Model              string
	SystemInstructions string
	Messages           []convo.Message

	Temperature *float64
	MaxTokens   int64

	Tools  []ToolSpec
	Stream bool
}

// Chunk is one streamed generation event. Text and Reasoning deltas
// arrive incrementally; ToolCall and Usage arrive complete. The final
// chunk carries Done with a finish reason and the accumulated full text.
type Chunk struct {
	Text      string
	Reasoning string
	ToolCall  *ToolCall
	Usage     *Usage

	Done         bool
	FinishReason string
	// FullText is the complete response text, set only on the Done chunk.
	FullText string
}

// Provider generates chat completions. Implementations close both
// channels when generation ends; at most one error is delivered.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (<-chan Chunk, <-chan error)
}

// Collect drains a generation to completion and returns the full text,
// tool calls, and usage. Convenience for callers that do not stream.
func Collect(ctx context.Context, p Provider, req Request) (string, []ToolCall, *Usage, error) {
	out, errCh := p.Generate(ctx, req)

	var text string
	var calls []ToolCall
	var usage *Usage
	for {
		select {
		case chunk, ok := <-out:
			if !ok {
				if err := <-errCh; err != nil {
					return "", nil, nil, err
				}
				return text, calls, usage, nil
			}
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk.ToolCall)
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if chunk.Done {
				if chunk.FullText != "" {
					text = chunk.FullText
				}
			} else if chunk.Text != "" {
				text += chunk.Text
			}
		case <-ctx.Done():
			return "", nil, nil, ctx.Err()
		}
	}
}
