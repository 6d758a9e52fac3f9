package nodes

import (
	"context"

	"github.com/randalmurphal/convograph/pkg/convograph"
	"github.com/randalmurphal/convograph/pkg/convograph/config"
	"github.com/randalmurphal/convograph/pkg/convograph/convo"
	"github.com/randalmurphal/convograph/pkg/convograph/llm"
)

// Subflow returns the isolated side-conversation node. It forks an
// isolated context, runs one generation inside it with the data operand
// as the user message, optionally injects the result back into the main
// conversation, and releases the fork. The surrounding flow's context is
// forwarded untouched.
//
// Config:
//
//	systemInstructions — instructions for the fork (required unless inheriting)
//	inheritHistory     — seed the fork with the active history
//	injectResult       — append the fork's answer to the active context
//	provider, model    — override the fork's provider/model
func Subflow(providers Providers) convograph.NodeFunc {
	return func(ctx context.Context, caps *convograph.Capabilities, contextIn *convo.Context, dataIn any, in convograph.Inputs, cfg config.Config) (*convograph.NodeOutput, error) {
		opts := convo.IsolateOptions{
			Provider:       cfg.String("provider", ""),
			Model:          cfg.String("model", ""),
			InheritHistory: cfg.Bool("inheritHistory", false),
		}
		if instructions := cfg.String("systemInstructions", ""); instructions != "" {
			opts.SystemInstructions = &instructions
		} else {
			opts.InheritSystemInstructions = true
		}
		if text := asText(dataIn); text != "" {
			opts.InitialMessages = []convo.Message{{Role: convo.RoleUser, Content: text}}
		}

		isolated, err := caps.Contexts().CreateIsolated(opts)
		if err != nil {
			return nil, err
		}
		defer caps.Contexts().Release(isolated.ContextID)

		provider, err := providers.Resolve(isolated.Provider)
		if err != nil {
			return nil, err
		}

		req := llm.Request{
			Model:              isolated.Model,
			SystemInstructions: isolated.SystemInstructions,
			Messages:           isolated.MessageHistory,
			Temperature:        isolated.Temperature,
		}
		answer, _, usage, err := llm.Collect(ctx, provider, req)
		if err != nil {
			return nil, err
		}
		if usage != nil {
			caps.ReportUsage(provider.Name(), req.Model, usageEvent(usage))
		}

		if cfg.Bool("injectResult", false) && answer != "" {
			caps.Manager().Inject(convo.Message{
				Role:    convo.RoleAssistant,
				Content: answer,
				Metadata: &convo.MessageMetadata{
					ID: "subflow-" + caps.NodeID(),
				},
			})
		}

		return convograph.Success(caps.ActiveContext(), answer), nil
	}
}
