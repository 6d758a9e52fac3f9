package nodes

import (
	"context"
	"fmt"

	"github.com/randalmurphal/convograph/pkg/convograph"
	"github.com/randalmurphal/convograph/pkg/convograph/config"
	"github.com/randalmurphal/convograph/pkg/convograph/convo"
)

// PortalIn stores its data operand under the portal key and re-activates
// every portal-output node sharing that key.
//
// Graph construction replaces every edge authored on a portal node with a
// direct bridge, so flow execution never dispatches this body; the
// registration exists so definitions containing portal nodes resolve.
// Nodes delivering a payload into a portal use the capability surface
// (SetPortalData + TriggerPortalOutputs) directly, or call this func with
// their own capabilities.
//
// Config:
//
//	id — portal key pairing this input with its outputs (required)
func PortalIn(ctx context.Context, caps *convograph.Capabilities, contextIn *convo.Context, dataIn any, in convograph.Inputs, cfg config.Config) (*convograph.NodeOutput, error) {
	key := cfg.String("id", "")
	if key == "" {
		return nil, fmt.Errorf("portal node requires a config id")
	}

	caps.SetPortalData(key, dataIn)
	caps.TriggerPortalOutputs(key)
	return convograph.Success(caps.ActiveContext(), dataIn), nil
}

// PortalOut re-emits the payload stored under its portal key. Executed
// by TriggerPortalOutputs as a push-triggered invocation.
//
// Config:
//
//	id — portal key (required)
func PortalOut(ctx context.Context, caps *convograph.Capabilities, contextIn *convo.Context, dataIn any, in convograph.Inputs, cfg config.Config) (*convograph.NodeOutput, error) {
	key := cfg.String("id", "")
	if key == "" {
		return nil, fmt.Errorf("portal node requires a config id")
	}

	payload, ok := caps.PortalData(key)
	if !ok {
		return nil, fmt.Errorf("no payload stored for portal %q", key)
	}
	return convograph.Success(caps.ActiveContext(), payload), nil
}
