package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

// AnthropicOptions configure the Anthropic adapter.
type AnthropicOptions struct {
	Model     anthropic.Model
	MaxTokens int64
	APIKey    string
}

// AnthropicProvider wraps the Anthropic Messages API behind Provider.
type AnthropicProvider struct {
	client *anthropic.Client
	opts   AnthropicOptions
}

// NewAnthropic creates an adapter using the official client.
func NewAnthropic(optFns ...func(o *AnthropicOptions)) *AnthropicProvider {
	opts := AnthropicOptions{
		Model:     anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &AnthropicProvider{client: &client, opts: opts}
}

// NewAnthropicFromClient creates an adapter from an existing client.
func NewAnthropicFromClient(client *anthropic.Client, optFns ...func(o *AnthropicOptions)) *AnthropicProvider {
	opts := AnthropicOptions{
		Model:     anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &AnthropicProvider{client: client, opts: opts}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Generate implements Provider. The response is produced with a single
// Messages API call and delivered as one final chunk; streamed requests
// get the same behavior.
func (p *AnthropicProvider) Generate(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := p.buildParams(req)
		resp, err := p.client.Messages.New(ctx, params)
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}

		var text string
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				textBlock := block.AsText()
				if textBlock.Text != "" {
					text += textBlock.Text
					out <- Chunk{Text: textBlock.Text}
				}
			case "thinking":
				thinkingBlock := block.AsThinking()
				if thinkingBlock.Thinking != "" {
					out <- Chunk{Reasoning: thinkingBlock.Thinking}
				}
			case "tool_use":
				toolBlock := block.AsToolUse()
				args := ""
				if toolBlock.Input != nil {
					if argsBytes, err := json.Marshal(toolBlock.Input); err == nil {
						args = string(argsBytes)
					}
				}
				out <- Chunk{ToolCall: &ToolCall{
					ID:        toolBlock.ID,
					Name:      toolBlock.Name,
					Arguments: args,
				}}
			}
		}

		finishReason := "stop"
		if resp.StopReason != "" {
			finishReason = string(resp.StopReason)
		}
		out <- Chunk{
			Done:         true,
			FinishReason: finishReason,
			FullText:     text,
			Usage: &Usage{
				PromptTokens:     int(resp.Usage.InputTokens),
				CompletionTokens: int(resp.Usage.OutputTokens),
				TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
			},
		}
	}()
	return out, errCh
}

func (p *AnthropicProvider) buildParams(req Request) anthropic.MessageNewParams {
	var messages []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			continue
		case "assistant":
			if m.Content != "" {
				messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			}
		default:
			if m.Content != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		}
	}

	model := p.opts.Model
	if req.Model != "" {
		model = anthropic.Model(req.Model)
	}
	params := anthropic.MessageNewParams{
		Model:     model,
		Messages:  messages,
		MaxTokens: p.opts.MaxTokens,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	system := req.SystemInstructions
	for _, m := range req.Messages {
		if m.Role == "system" && m.Content != "" {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		}
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if len(req.Tools) > 0 {
		params.Tools = p.buildTools(req.Tools)
	}
	return params
}

func (p *AnthropicProvider) buildTools(tools []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if t.Parameters != nil {
			if properties, ok := t.Parameters["properties"]; ok {
				inputSchema.Properties = properties
			}
			if required, ok := t.Parameters["required"].([]string); ok {
				inputSchema.Required = required
			} else if reqAny, ok := t.Parameters["required"].([]any); ok {
				var reqStrings []string
				for _, r := range reqAny {
					if s, ok := r.(string); ok {
						reqStrings = append(reqStrings, s)
					}
				}
				inputSchema.Required = reqStrings
			}
		}
		out[i] = anthropic.ToolUnionParamOfTool(inputSchema, t.Name)
	}
	return out
}
