package nodes

import (
	"context"

	"github.com/randalmurphal/convograph/pkg/convograph"
	"github.com/randalmurphal/convograph/pkg/convograph/config"
	"github.com/randalmurphal/convograph/pkg/convograph/convo"
)

// UserInput suspends the flow until external input arrives via
// ResolveUserInput, then appends it to history as a user message and
// forwards it as the data operand. Cancellation wakes the suspension
// with a clean stop.
//
// Config:
//
//	prompt — advisory prompt surfaced to observers while waiting
func UserInput(ctx context.Context, caps *convograph.Capabilities, contextIn *convo.Context, dataIn any, in convograph.Inputs, cfg config.Config) (*convograph.NodeOutput, error) {
	prompt := cfg.String("prompt", "")

	value, err := caps.WaitForUserInput(ctx, prompt)
	if err != nil {
		return nil, err
	}

	if text := asText(value); text != "" {
		caps.Manager().Append(convo.Message{Role: convo.RoleUser, Content: text})
	}
	return convograph.Success(caps.ActiveContext(), value), nil
}
