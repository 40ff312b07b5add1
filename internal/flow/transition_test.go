package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEquation(t *testing.T) {
	cases := []struct {
		name    string
		cond    string
		want    *Equation
		wantErr bool
	}{
		{"binary", `{{name}} equals "Sam"`, &Equation{Path: "name", Op: OpEquals, RHS: `"Sam"`}, false},
		{"unary", "{{name}} exists", &Equation{Path: "name", Op: OpExists}, false},
		{"nested path", "{{order.total}} greater_than 100", &Equation{Path: "order.total", Op: OpGreaterThan, RHS: "100"}, false},
		{"no reference", "name equals Sam", nil, true},
		{"unterminated", "{{name equals Sam", nil, true},
		{"no operator", "{{name}}", nil, true},
		{"unknown operator", "{{name}} matches Sam", nil, true},
		{"binary without rhs", "{{name}} equals", nil, true},
		{"unary with rhs", "{{name}} exists yes", nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseEquation(tc.cond)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEquationEvaluate(t *testing.T) {
	vars := map[string]any{
		"name":   "Sam",
		"age":    float64(42),
		"status": "gold member",
		"empty":  "",
		"limit":  float64(40),
	}
	cases := []struct {
		cond string
		want bool
	}{
		{`{{name}} equals "Sam"`, true},
		{`{{name}} equals sam`, true}, // case-insensitive string equality
		{`{{name}} equals "Pat"`, false},
		{`{{name}} not_equals "Pat"`, true},
		{`{{status}} contains gold`, true},
		{`{{status}} not_contains silver`, true},
		{`{{age}} greater_than 40`, true},
		{`{{age}} greater_than {{limit}}`, true}, // templated rhs
		{`{{age}} less_than 40`, false},
		{`{{age}} greater_or_equal 42`, true},
		{`{{age}} less_or_equal 42`, true},
		{`{{name}} exists`, true},
		{`{{empty}} exists`, false},
		{`{{missing}} exists`, false},
		{`{{missing}} not_exists`, true},
		{`{{missing}} equals "x"`, false},
	}
	for _, tc := range cases {
		t.Run(tc.cond, func(t *testing.T) {
			eq, err := ParseEquation(tc.cond)
			require.NoError(t, err)
			assert.Equal(t, tc.want, eq.Evaluate(vars), "condition %q", tc.cond)
		})
	}
}

func TestEvaluateTransitions_EquationsBeforePrompts(t *testing.T) {
	vars := map[string]any{"x": "b"}
	// prompt listed first must still lose to a later-listed true equation
	ts := []Transition{
		{Type: TransitionPrompt, Condition: "user mentions b", OutputHandle: "P"},
		{Type: TransitionEquation, Condition: `{{x}} equals "b"`, OutputHandle: "E"},
	}
	alwaysTrue := func(string, string) bool { return true }
	handle, ok := EvaluateTransitions(ts, vars, "b please", alwaysTrue)
	assert.True(t, ok)
	assert.Equal(t, "E", handle)
}

func TestEvaluateTransitions_ListedOrderWithinGroup(t *testing.T) {
	vars := map[string]any{"x": "b"}
	ts := []Transition{
		{Type: TransitionEquation, Condition: `{{x}} equals "a"`, OutputHandle: "H1"},
		{Type: TransitionEquation, Condition: `{{x}} equals "b"`, OutputHandle: "H2"},
	}
	handle, ok := EvaluateTransitions(ts, vars, "", nil)
	assert.True(t, ok)
	assert.Equal(t, "H2", handle)
}

func TestEvaluateTransitions_ReorderingFalseNeverChangesOutcome(t *testing.T) {
	vars := map[string]any{"x": "b"}
	base := []Transition{
		{Type: TransitionEquation, Condition: `{{x}} equals "b"`, OutputHandle: "WIN"},
		{Type: TransitionEquation, Condition: `{{x}} equals "z"`, OutputHandle: "L1"},
		{Type: TransitionPrompt, Condition: "something unlikely here", OutputHandle: "L2"},
	}
	reordered := []Transition{base[1], base[0], base[2]}
	judge := func(string, string) bool { return false }

	h1, ok1 := EvaluateTransitions(base, vars, "hello", judge)
	h2, ok2 := EvaluateTransitions(reordered, vars, "hello", judge)
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.Equal(t, h1, h2)
	assert.Equal(t, "WIN", h1)
}

func TestEvaluateTransitions_PromptFallback(t *testing.T) {
	ts := []Transition{
		{Type: TransitionEquation, Condition: `{{x}} equals "a"`, OutputHandle: "E"},
		{Type: TransitionPrompt, Condition: "wants to cancel the subscription", OutputHandle: "P"},
	}
	handle, ok := EvaluateTransitions(ts, map[string]any{}, "please cancel my subscription", KeywordMatch)
	assert.True(t, ok)
	assert.Equal(t, "P", handle)
}

func TestEvaluateTransitions_NoMatchReturnsFalse(t *testing.T) {
	ts := []Transition{
		{Type: TransitionEquation, Condition: `{{x}} exists`, OutputHandle: "E"},
		{Type: TransitionPrompt, Condition: "asks about billing invoices payment", OutputHandle: "P"},
	}
	handle, ok := EvaluateTransitions(ts, map[string]any{}, "tell me a joke", KeywordMatch)
	assert.False(t, ok)
	assert.Equal(t, "", handle)
}

func TestEvaluateTransitions_MalformedEquationIsFalse(t *testing.T) {
	ts := []Transition{
		{Type: TransitionEquation, Condition: "broken condition", OutputHandle: "E"},
		{Type: TransitionEquation, Condition: `{{x}} exists`, OutputHandle: "OK"},
	}
	handle, ok := EvaluateTransitions(ts, map[string]any{"x": "v"}, "", nil)
	assert.True(t, ok)
	assert.Equal(t, "OK", handle)
}

func TestKeywordMatch(t *testing.T) {
	cases := []struct {
		name      string
		condition string
		utterance string
		want      bool
	}{
		{"short condition single hit", "wants refund", "I want a refund now", true},
		{"short condition no hit", "wants refund", "what time do you open", false},
		{"long condition 40 percent", "asks about order shipping delivery status", "where is my order and when is delivery", true},
		{"long condition below threshold", "asks about order shipping delivery status tracking number", "hello there friend", false},
		{"stop words only", "the a of", "anything", false},
		{"case insensitive", "mentions CANCEL", "please Cancel it", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KeywordMatch(tc.condition, tc.utterance))
		})
	}
}
