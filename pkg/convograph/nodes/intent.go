package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/randalmurphal/convograph/pkg/convograph"
	"github.com/randalmurphal/convograph/pkg/convograph/config"
	"github.com/randalmurphal/convograph/pkg/convograph/convo"
	"github.com/randalmurphal/convograph/pkg/convograph/llm"
)

// Intent returns the intent-classification node. The provider picks one
// label from the configured list for the incoming data operand; the
// payload is then routed out of a dynamic output handle named after the
// chosen label, so each intent wires to its own successor edge.
//
// Classification happens on a throwaway request, not the conversation
// history: routing must not pollute the transcript.
//
// Config:
//
//	intents  — list of intent labels (required)
//	fallback — label used when the provider answers off-list
//	           (default: first configured intent)
func Intent(providers Providers) convograph.NodeFunc {
	return func(ctx context.Context, caps *convograph.Capabilities, contextIn *convo.Context, dataIn any, in convograph.Inputs, cfg config.Config) (*convograph.NodeOutput, error) {
		intents := cfg.StringSlice("intents", nil)
		if len(intents) == 0 {
			return nil, fmt.Errorf("intent node requires a non-empty intents list")
		}
		fallback := cfg.String("fallback", intents[0])

		provider, err := providers.Resolve(contextIn.Provider)
		if err != nil {
			return nil, err
		}

		text := asText(dataIn)
		req := llm.Request{
			Model: contextIn.Model,
			SystemInstructions: fmt.Sprintf(
				"Classify the user message into exactly one of these intents: %s. Reply with the intent name only.",
				strings.Join(intents, ", ")),
			Messages: []convo.Message{{Role: convo.RoleUser, Content: text}},
		}

		answer, _, _, err := llm.Collect(ctx, provider, req)
		if err != nil {
			return nil, err
		}

		chosen := fallback
		normalized := strings.ToLower(strings.TrimSpace(answer))
		for _, intent := range intents {
			if strings.ToLower(intent) == normalized {
				chosen = intent
				break
			}
		}

		caps.Logger().Debug("intent classified",
			"intent", chosen,
			"candidates", intents)

		out := convograph.Success(caps.ActiveContext(), dataIn)
		out.Metadata = map[string]any{chosen: dataIn, "intent": chosen}
		return out, nil
	}
}
