package llm

import (
	"context"
	"strings"
	"sync"
)

// MockResponse scripts one Generate call of a MockProvider.
type MockResponse struct {
	Text      string
	Reasoning string
	ToolCalls []ToolCall
	Usage     *Usage
	Err       error
}

// MockProvider replays scripted responses, streaming text word by word.
// Safe for concurrent use; responses are consumed in order and the last
// one repeats once the script is exhausted.
type MockProvider struct {
	ProviderName string

	mu        sync.Mutex
	responses []MockResponse
	calls     []Request
}

// NewMockProvider creates a provider replaying the given responses.
func NewMockProvider(responses ...MockResponse) *MockProvider {
	return &MockProvider{ProviderName: "mock", responses: responses}
}

// Name implements Provider.
func (p *MockProvider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Calls returns the requests seen so far.
func (p *MockProvider) Calls() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request, len(p.calls))
	copy(out, p.calls)
	return out
}

// Generate implements Provider.
func (p *MockProvider) Generate(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk, 32)
	errCh := make(chan error, 1)

	p.mu.Lock()
	p.calls = append(p.calls, req)
	var resp MockResponse
	if len(p.responses) > 0 {
		resp = p.responses[0]
		if len(p.responses) > 1 {
			p.responses = p.responses[1:]
		}
	}
	p.mu.Unlock()

	go func() {
		defer close(out)
		defer close(errCh)

		if resp.Err != nil {
			errCh <- resp.Err
			return
		}
		if resp.Reasoning != "" {
			select {
			case out <- Chunk{Reasoning: resp.Reasoning}:
			case <-ctx.Done():
				return
			}
		}
		if req.Stream {
			for i, word := range strings.Fields(resp.Text) {
				delta := word
				if i > 0 {
					delta = " " + word
				}
				select {
				case out <- Chunk{Text: delta}:
				case <-ctx.Done():
					return
				}
			}
		} else if resp.Text != "" {
			select {
			case out <- Chunk{Text: resp.Text}:
			case <-ctx.Done():
				return
			}
		}
		for i := range resp.ToolCalls {
			select {
			case out <- Chunk{ToolCall: &resp.ToolCalls[i]}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- Chunk{Done: true, FinishReason: "stop", FullText: resp.Text, Usage: resp.Usage}:
		case <-ctx.Done():
		}
	}()
	return out, errCh
}
