package nodes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/randalmurphal/convograph/pkg/convograph"
	"github.com/randalmurphal/convograph/pkg/convograph/config"
	"github.com/randalmurphal/convograph/pkg/convograph/convo"
	"github.com/randalmurphal/convograph/pkg/convograph/llm"
)

// maxToolRounds bounds the generate/execute loop so a provider that
// keeps requesting tools cannot spin forever.
const maxToolRounds = 8

// LLM returns the provider-generation node. It appends the incoming data
// operand as a user message, generates a streamed assistant response on
// the active context, executes any requested tool calls through the
// engine's tool executor, and appends the final response to history.
//
// Config:
//
//	stream      — stream deltas to observers (default true)
//	useTools    — advertise the engine's tools to the provider
//	temperature — overrides the context's sampling temperature
func LLM(providers Providers) convograph.NodeFunc {
	return func(ctx context.Context, caps *convograph.Capabilities, contextIn *convo.Context, dataIn any, in convograph.Inputs, cfg config.Config) (*convograph.NodeOutput, error) {
		provider, err := providers.Resolve(contextIn.Provider)
		if err != nil {
			return nil, err
		}

		mgr := caps.Manager()
		if text := asText(dataIn); text != "" {
			mgr.Append(convo.Message{Role: convo.RoleUser, Content: text})
		}

		req := llm.Request{
			Model:              contextIn.Model,
			SystemInstructions: contextIn.SystemInstructions,
			Temperature:        contextIn.Temperature,
			Stream:             cfg.Bool("stream", true),
		}
		if t := cfg.Float("temperature", -1); t >= 0 {
			req.Temperature = &t
		}
		if cfg.Bool("useTools", false) {
			for _, td := range caps.Tools().List() {
				req.Tools = append(req.Tools, llm.ToolSpec{
					Name:        td.Name,
					Description: td.Description,
					Parameters:  td.Parameters,
				})
			}
		}

		var final string
		for round := 0; ; round++ {
			if caps.Cancelled() {
				return nil, ctx.Err()
			}
			req.Messages = mgr.History()

			text, calls, usage, err := generate(ctx, caps, provider, req)
			if err != nil {
				return nil, err
			}
			if usage != nil {
				caps.ReportUsage(provider.Name(), req.Model, usageEvent(usage))
			}
			if text != "" {
				mgr.Append(convo.Message{Role: convo.RoleAssistant, Content: text})
				final = text
			}
			if len(calls) == 0 {
				break
			}
			if round >= maxToolRounds {
				return nil, fmt.Errorf("tool loop exceeded %d rounds", maxToolRounds)
			}
			if err := runToolCalls(ctx, caps, mgr, calls); err != nil {
				return nil, err
			}
		}

		return convograph.Success(caps.ActiveContext(), final), nil
	}
}

// generate runs one provider request, forwarding deltas to observers.
func generate(ctx context.Context, caps *convograph.Capabilities, provider llm.Provider, req llm.Request) (string, []llm.ToolCall, *llm.Usage, error) {
	out, errCh := provider.Generate(ctx, req)

	var text string
	var calls []llm.ToolCall
	var usage *llm.Usage
	for {
		select {
		case chunk, ok := <-out:
			if !ok {
				if err := <-errCh; err != nil {
					return "", nil, nil, err
				}
				return text, calls, usage, nil
			}
			if chunk.Text != "" && !chunk.Done {
				caps.StreamChunk(chunk.Text)
				text += chunk.Text
			}
			if chunk.Reasoning != "" {
				caps.StreamReasoning(chunk.Reasoning)
			}
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk.ToolCall)
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if chunk.Done && chunk.FullText != "" {
				text = chunk.FullText
			}
		case <-ctx.Done():
			return "", nil, nil, ctx.Err()
		}
	}
}

// runToolCalls executes requested tools and appends their results to
// history so the next generation round can consume them.
func runToolCalls(ctx context.Context, caps *convograph.Capabilities, mgr *convo.Manager, calls []llm.ToolCall) error {
	for _, call := range calls {
		var args map[string]any
		if call.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				return fmt.Errorf("tool %s: bad arguments: %w", call.Name, err)
			}
		}
		result, err := caps.Tools().Execute(ctx, call.Name, args)
		if err != nil {
			return err
		}
		mgr.Append(convo.Message{
			Role:    convo.RoleAssistant,
			Content: fmt.Sprintf("[tool %s] %s", call.Name, asText(result)),
			Metadata: &convo.MessageMetadata{
				ID: "tool-result-" + call.ID,
			},
		})
	}
	return nil
}
