package engine

import (
	"context"
	"strings"

	"github.com/Aryanpatel2001/voiceflow/internal/flow"
	"github.com/Aryanpatel2001/voiceflow/internal/llm"
)

// ReplyParams carries per-node generation settings through to a provider.
// The simulated reasoner ignores them.
type ReplyParams struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Reasoner is the strategy behind prompt content, contextual follow-ups and
// prompt transitions. Implementations absorb provider failures and always
// return something speakable; Judge degrades to false on failure.
type Reasoner interface {
	Reply(ctx context.Context, instructions string, history []Turn, user string, p ReplyParams) string
	Judge(ctx context.Context, condition, utterance string) bool
}

// SimulatedReasoner is the deterministic strategy used by simulation mode
// and by tests. Replies cycle through fixed follow-ups and Judge runs the
// keyword-overlap heuristic, so a given flow plus scripted inputs always
// walks the same path.
type SimulatedReasoner struct{}

var simulatedFollowUps = []string{
	"Could you tell me a bit more about that?",
	"Understood. Is there anything else I should note?",
	"Got it. What would you like to do next?",
}

func (SimulatedReasoner) Reply(_ context.Context, instructions string, history []Turn, user string, _ ReplyParams) string {
	if user == "" && instructions != "" {
		// opening line for prompt content with no user turn yet
		return "Hello! " + simulatedFollowUps[0]
	}
	return simulatedFollowUps[len(history)%len(simulatedFollowUps)]
}

func (SimulatedReasoner) Judge(_ context.Context, condition, utterance string) bool {
	return flow.KeywordMatch(condition, utterance)
}

// LiveReasoner backs the engine with a completion provider. A failed
// completion yields Fallback so the call never goes silent on a provider
// outage.
type LiveReasoner struct {
	Client   *llm.Client
	Fallback string
}

const defaultFallback = "Sorry, I had trouble with that. Could you say it again?"

func (r *LiveReasoner) Reply(ctx context.Context, instructions string, history []Turn, user string, p ReplyParams) string {
	msgs := make([]llm.Message, 0, len(history))
	for _, t := range history {
		role := llm.RoleUser
		if t.Role == RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	out, err := r.Client.Complete(ctx, instructions, msgs, user, llm.Params{
		Model:       p.Model,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	})
	if err != nil || strings.TrimSpace(out) == "" {
		if r.Fallback != "" {
			return r.Fallback
		}
		return defaultFallback
	}
	return out
}

func (r *LiveReasoner) Judge(ctx context.Context, condition, utterance string) bool {
	return r.Client.Classify(ctx, condition, utterance)
}
