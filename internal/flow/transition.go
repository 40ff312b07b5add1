package flow

import (
	"fmt"
	"strconv"
	"strings"
)

// Equation operators. Binary operators compare the resolved left-hand value
// against a template-resolved right-hand side; exists/not_exists are unary.
const (
	OpEquals         = "equals"
	OpNotEquals      = "not_equals"
	OpContains       = "contains"
	OpNotContains    = "not_contains"
	OpGreaterThan    = "greater_than"
	OpLessThan       = "less_than"
	OpGreaterOrEqual = "greater_or_equal"
	OpLessOrEqual    = "less_or_equal"
	OpExists         = "exists"
	OpNotExists      = "not_exists"
)

// PromptJudge decides whether a natural-language condition holds for the
// latest user utterance. The simulation strategy plugs in the keyword
// heuristic, the live strategy an LLM classification call.
type PromptJudge func(condition, utterance string) bool

// EvaluateTransitions picks the first firing transition's output handle.
//
// Equation transitions are evaluated before prompt transitions regardless of
// interleaving, each group in listed order, and the first true one wins. This
// is the flow author's mental model: equations are deterministic guards,
// prompts are fuzzy fallbacks. Do not reorder.
func EvaluateTransitions(ts []Transition, vars map[string]any, utterance string, judge PromptJudge) (string, bool) {
	for _, t := range ts {
		if t.Type != TransitionEquation {
			continue
		}
		eq, err := ParseEquation(t.Condition)
		if err != nil {
			continue
		}
		if eq.Evaluate(vars) {
			return t.OutputHandle, true
		}
	}
	for _, t := range ts {
		if t.Type != TransitionPrompt {
			continue
		}
		if judge != nil && judge(t.Condition, utterance) {
			return t.OutputHandle, true
		}
	}
	return "", false
}

// Equation is a parsed deterministic condition: {{path}} op [rhs].
type Equation struct {
	Path string
	Op   string
	RHS  string
}

// ParseEquation parses the fixed equation grammar `{{path}} op rhs` or
// `{{path}} exists|not_exists`.
func ParseEquation(cond string) (*Equation, error) {
	s := strings.TrimSpace(cond)
	if !strings.HasPrefix(s, "{{") {
		return nil, fmt.Errorf("equation %q: must start with a {{path}} reference", cond)
	}
	closeIdx := strings.Index(s, "}}")
	if closeIdx < 0 {
		return nil, fmt.Errorf("equation %q: unterminated reference", cond)
	}
	path := strings.TrimSpace(s[2:closeIdx])
	if path == "" {
		return nil, fmt.Errorf("equation %q: empty path", cond)
	}
	rest := strings.TrimSpace(s[closeIdx+2:])
	if rest == "" {
		return nil, fmt.Errorf("equation %q: missing operator", cond)
	}
	op := rest
	rhs := ""
	if sp := strings.IndexAny(rest, " \t"); sp >= 0 {
		op = rest[:sp]
		rhs = strings.TrimSpace(rest[sp+1:])
	}
	switch op {
	case OpExists, OpNotExists:
		if rhs != "" {
			return nil, fmt.Errorf("equation %q: %s takes no right-hand side", cond, op)
		}
	case OpEquals, OpNotEquals, OpContains, OpNotContains,
		OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual:
		if rhs == "" {
			return nil, fmt.Errorf("equation %q: %s requires a right-hand side", cond, op)
		}
	default:
		return nil, fmt.Errorf("equation %q: unknown operator %q", cond, op)
	}
	return &Equation{Path: path, Op: op, RHS: rhs}, nil
}

// Evaluate applies the equation against the variable table. The right-hand
// side is itself template-resolved, so `{{age}} equals {{required_age}}`
// works. A missing left-hand variable fails every operator except not_exists.
func (eq *Equation) Evaluate(vars map[string]any) bool {
	val, defined := LookupPath(vars, eq.Path)
	exists := defined && val != nil && Stringify(val) != ""

	switch eq.Op {
	case OpExists:
		return exists
	case OpNotExists:
		return !exists
	}
	if !defined {
		return false
	}

	lhs := Stringify(val)
	rhs := unquote(Resolve(eq.RHS, vars))

	lf, lok := parseNumber(lhs)
	rf, rok := parseNumber(rhs)
	numeric := lok && rok

	switch eq.Op {
	case OpEquals:
		if numeric {
			return lf == rf
		}
		return strings.EqualFold(lhs, rhs)
	case OpNotEquals:
		if numeric {
			return lf != rf
		}
		return !strings.EqualFold(lhs, rhs)
	case OpContains:
		return strings.Contains(strings.ToLower(lhs), strings.ToLower(rhs))
	case OpNotContains:
		return !strings.Contains(strings.ToLower(lhs), strings.ToLower(rhs))
	case OpGreaterThan:
		if numeric {
			return lf > rf
		}
		return lhs > rhs
	case OpLessThan:
		if numeric {
			return lf < rf
		}
		return lhs < rhs
	case OpGreaterOrEqual:
		if numeric {
			return lf >= rf
		}
		return lhs >= rhs
	case OpLessOrEqual:
		if numeric {
			return lf <= rf
		}
		return lhs <= rhs
	}
	return false
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
