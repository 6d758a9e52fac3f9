package nodes

import (
	"context"

	"github.com/randalmurphal/convograph/pkg/convograph"
	"github.com/randalmurphal/convograph/pkg/convograph/config"
	"github.com/randalmurphal/convograph/pkg/convograph/convo"
)

// Start marks the flow entry. It seeds the conversation with optional
// system instructions and an optional greeting from its config, then
// forwards the context unchanged.
//
// Config:
//
//	systemInstructions — replaces the context's system instructions
//	greeting           — appended as an assistant message and streamed
func Start(ctx context.Context, caps *convograph.Capabilities, contextIn *convo.Context, dataIn any, in convograph.Inputs, cfg config.Config) (*convograph.NodeOutput, error) {
	mgr := caps.Manager()

	if instructions := cfg.String("systemInstructions", ""); instructions != "" {
		mgr.SetSystemInstructions(instructions)
	}
	if greeting := cfg.String("greeting", ""); greeting != "" {
		caps.StreamChunk(greeting)
		mgr.Append(convo.Message{Role: convo.RoleAssistant, Content: greeting})
	}

	return convograph.Success(caps.ActiveContext(), dataIn), nil
}
