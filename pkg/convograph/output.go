package convograph

import (
	"github.com/randalmurphal/convograph/pkg/convograph/convo"
)

// Status classifies a node result. A paused node does not return at all
// (it suspends on user input), so there is no paused status value.
type Status string

// Node result statuses.
const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// NodeOutput is the result of one node invocation. The named slots mirror
// the canonical handle vocabulary; additional dynamic outputs (e.g. an
// intent router's per-intent handles) go in Metadata under their handle
// name.
//
// Every successful output that participates in context propagation must
// include Context.
type NodeOutput struct {
	Context  *convo.Context
	Data     any
	Tools    any
	Status   Status
	Error    string
	Metadata map[string]any
}

// Success wraps a context and data value in a successful output.
func Success(ctx *convo.Context, data any) *NodeOutput {
	return &NodeOutput{Context: ctx, Data: data, Status: StatusSuccess}
}

// Value resolves a named output handle against the result.
// The second return reports whether the handle is present.
func (o *NodeOutput) Value(handle string) (any, bool) {
	if o == nil {
		return nil, false
	}
	switch handle {
	case HandleContext:
		if o.Context == nil {
			return nil, false
		}
		return o.Context, true
	case HandleData:
		if o.Data == nil {
			return nil, false
		}
		return o.Data, true
	case HandleTools:
		if o.Tools == nil {
			return nil, false
		}
		return o.Tools, true
	default:
		v, ok := o.Metadata[handle]
		return v, ok
	}
}
