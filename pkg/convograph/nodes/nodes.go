// Package nodes provides the built-in node implementations: flow entry,
// provider generation, user-input suspension, intent routing, isolated
// sub-conversations, and portal bridging. Node logic consumes only the
// engine's capability surface; none of the engine internals leak in.
package nodes

import (
	"fmt"

	"github.com/randalmurphal/convograph/pkg/convograph"
	"github.com/randalmurphal/convograph/pkg/convograph/event"
	"github.com/randalmurphal/convograph/pkg/convograph/llm"
)

// Built-in node type names, as referenced by flow definitions.
const (
	TypeStart     = convograph.NodeTypeStart
	TypeLLM       = "llm"
	TypeUserInput = "userInput"
	TypeIntent    = "intent"
	TypeSubflow   = "subflow"
	TypePortalIn  = convograph.NodeTypePortalIn
	TypePortalOut = convograph.NodeTypePortalOut
)

// Providers maps a provider name (as carried by conversation contexts)
// to its adapter.
type Providers map[string]llm.Provider

// Resolve returns the provider for a name, falling back to the sole
// registered provider when the name is empty.
func (p Providers) Resolve(name string) (llm.Provider, error) {
	if provider, ok := p[name]; ok {
		return provider, nil
	}
	if name == "" && len(p) == 1 {
		for _, provider := range p {
			return provider, nil
		}
	}
	return nil, fmt.Errorf("no provider registered for %q", name)
}

// RegisterBuiltins registers every built-in node type on the registry.
func RegisterBuiltins(r *convograph.NodeRegistry, providers Providers) *convograph.NodeRegistry {
	return r.
		Register(TypeStart, Start).
		Register(TypeLLM, LLM(providers)).
		Register(TypeUserInput, UserInput).
		Register(TypeIntent, Intent(providers)).
		Register(TypeSubflow, Subflow(providers)).
		Register(TypePortalIn, PortalIn).
		Register(TypePortalOut, PortalOut)
}

// usageEvent converts provider usage into the event payload shape.
func usageEvent(u *llm.Usage) event.TokenUsage {
	return event.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// asText renders an arbitrary data operand as message content.
func asText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
