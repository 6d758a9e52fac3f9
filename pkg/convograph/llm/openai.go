package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
)

// OpenAIOptions configure the OpenAI adapter.
type OpenAIOptions struct {
	Model               string
	MaxCompletionTokens int64
}

// OpenAIProvider wraps the OpenAI Chat Completions API behind Provider.
type OpenAIProvider struct {
	client *openai.Client
	opts   OpenAIOptions
}

// NewOpenAI creates an adapter using the official client configured from
// the environment.
func NewOpenAI(optFns ...func(o *OpenAIOptions)) *OpenAIProvider {
	client := openai.NewClient()
	return NewOpenAIFromClient(&client, optFns...)
}

// NewOpenAIFromClient creates an adapter from an existing client.
func NewOpenAIFromClient(client *openai.Client, optFns ...func(o *OpenAIOptions)) *OpenAIProvider {
	opts := OpenAIOptions{
		Model:               openai.ChatModelGPT4oMini,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &OpenAIProvider{client: client, opts: opts}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Generate implements Provider for both streaming and non-streaming
// requests.
func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := p.buildParams(req)
		if req.Stream {
			p.handleStreaming(ctx, params, out, errCh)
			return
		}
		p.handleNonStreaming(ctx, params, out, errCh)
	}()
	return out, errCh
}

func (p *OpenAIProvider) buildParams(req Request) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemInstructions != "" {
		messages = append(messages, openai.SystemMessage(req.SystemInstructions))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "user":
			messages = append(messages, openai.UserMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			if m.Content != "" {
				messages = append(messages, openai.UserMessage(m.Content))
			}
		}
	}

	model := p.opts.Model
	if req.Model != "" {
		model = req.Model
	}
	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               model,
		MaxCompletionTokens: openai.Int(p.opts.MaxCompletionTokens),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  t.Parameters,
				},
			}
		}
		params.Tools = tools
	}
	return params
}

// aggCall aggregates partial tool-call streaming deltas so a complete
// call can be emitted once the finish reason arrives.
type aggCall struct{ id, name, args string }

func (p *OpenAIProvider) handleStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- Chunk,
	errCh chan<- error,
) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	var textBuilder strings.Builder
	toolAgg := map[int64]*aggCall{}
	var usage *Usage
	finishReason := ""

	for stream.Next() {
		ck := stream.Current()
		if ck.Usage.TotalTokens > 0 {
			usage = &Usage{
				PromptTokens:     int(ck.Usage.PromptTokens),
				CompletionTokens: int(ck.Usage.CompletionTokens),
				TotalTokens:      int(ck.Usage.TotalTokens),
			}
		}
		for _, ch := range ck.Choices {
			if ch.Delta.Content != "" {
				textBuilder.WriteString(ch.Delta.Content)
				out <- Chunk{Text: ch.Delta.Content}
			}
			for _, tc := range ch.Delta.ToolCalls {
				ac, ok := toolAgg[tc.Index]
				if !ok {
					ac = &aggCall{}
					toolAgg[tc.Index] = ac
				}
				if tc.ID != "" {
					ac.id = tc.ID
				}
				if tc.Function.Name != "" {
					ac.name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					ac.args += tc.Function.Arguments
				}
			}
			if ch.FinishReason != "" {
				finishReason = ch.FinishReason
			}
		}
	}
	if err := stream.Err(); err != nil {
		errCh <- fmt.Errorf("openai streaming error: %w", err)
		return
	}

	for _, ac := range toolAgg {
		out <- Chunk{ToolCall: &ToolCall{ID: ac.id, Name: ac.name, Arguments: ac.args}}
	}
	out <- Chunk{
		Done:         true,
		FinishReason: finishReason,
		FullText:     textBuilder.String(),
		Usage:        usage,
	}
}

func (p *OpenAIProvider) handleNonStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- Chunk,
	errCh chan<- error,
) {
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		errCh <- fmt.Errorf("openai api error: %w", err)
		return
	}
	if len(resp.Choices) == 0 {
		errCh <- fmt.Errorf("no choices returned")
		return
	}

	ch0 := resp.Choices[0]
	for _, tc := range ch0.Message.ToolCalls {
		out <- Chunk{ToolCall: &ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}}
	}
	out <- Chunk{
		Done:         true,
		FinishReason: ch0.FinishReason,
		FullText:     ch0.Message.Content,
		Usage: &Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
}
