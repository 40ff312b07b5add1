package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Aryanpatel2001/voiceflow/internal/flow"
)

const (
	defaultCodeTimeout = 5 * time.Second
	maxCodeTimeout     = 30 * time.Second
	maxCodeLines       = 200
)

// CodeExecutor runs code-type function nodes. The language is a deliberately
// tiny assignment script, one `name = expression` per line, where an
// expression combines literals and variable paths with + - * / and
// parentheses. There is no I/O, no loops and no calls, so a script can only
// compute variable updates.
type CodeExecutor struct{}

func NewCodeExecutor() *CodeExecutor {
	return &CodeExecutor{}
}

// Execute evaluates the script against a read view of vars and returns the
// assignments it made. Earlier lines are visible to later ones; the session
// table itself is untouched on error.
func (x *CodeExecutor) Execute(ctx context.Context, p *flow.CodeParams, vars map[string]any) (map[string]any, error) {
	if p == nil {
		return nil, fmt.Errorf("code function: missing parameters")
	}
	timeout := time.Duration(p.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultCodeTimeout
	} else if timeout > maxCodeTimeout {
		timeout = maxCodeTimeout
	}
	deadline := time.Now().Add(timeout)

	lines := strings.Split(p.Source, "\n")
	if len(lines) > maxCodeLines {
		return nil, fmt.Errorf("code function: script too long (%d lines)", len(lines))
	}

	scope := func(path string) (any, bool) {
		return flow.LookupPath(vars, path)
	}
	updates := make(map[string]any)

	for i, line := range lines {
		if time.Now().After(deadline) || ctx.Err() != nil {
			return nil, fmt.Errorf("code function: timed out")
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, expr, ok := splitAssignment(line)
		if !ok {
			return nil, fmt.Errorf("code function: line %d: expected `name = expression`", i+1)
		}
		val, err := evalExpr(expr, func(path string) (any, bool) {
			if v, ok := updates[path]; ok {
				return v, true
			}
			return scope(path)
		})
		if err != nil {
			return nil, fmt.Errorf("code function: line %d: %w", i+1, err)
		}
		updates[name] = val
	}
	return updates, nil
}

// splitAssignment separates `name = expr`, rejecting == so comparisons are
// not mistaken for assignments.
func splitAssignment(line string) (name, expr string, ok bool) {
	for i := 0; i < len(line); i++ {
		if line[i] != '=' {
			continue
		}
		if i+1 < len(line) && line[i+1] == '=' {
			return "", "", false
		}
		name = strings.TrimSpace(line[:i])
		expr = strings.TrimSpace(line[i+1:])
		if name == "" || expr == "" || strings.ContainsAny(name, " \t") {
			return "", "", false
		}
		return name, expr, true
	}
	return "", "", false
}

// lookupFn resolves a variable path during expression evaluation.
type lookupFn func(path string) (any, bool)

type exprParser struct {
	in     string
	pos    int
	lookup lookupFn
}

func evalExpr(src string, lookup lookupFn) (any, error) {
	p := &exprParser{in: src, lookup: lookup}
	v, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.in) {
		return nil, fmt.Errorf("unexpected %q", p.in[p.pos:])
	}
	return v, nil
}

func (p *exprParser) parseSum() (any, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.in) {
			return left, nil
		}
		op := p.in[p.pos]
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		if op == '+' {
			// + concatenates when either side is a non-numeric string
			ls, lok := left.(string)
			rs, rok := right.(string)
			if (lok && !isNumeric(ls)) || (rok && !isNumeric(rs)) {
				left = flow.Stringify(left) + flow.Stringify(right)
				continue
			}
			left = toNumber(left) + toNumber(right)
			continue
		}
		left = toNumber(left) - toNumber(right)
	}
}

func (p *exprParser) parseProduct() (any, error) {
	left, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.in) {
			return left, nil
		}
		op := p.in[p.pos]
		if op != '*' && op != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		if op == '*' {
			left = toNumber(left) * toNumber(right)
			continue
		}
		d := toNumber(right)
		if d == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		left = toNumber(left) / d
	}
}

func (p *exprParser) parseAtom() (any, error) {
	p.skipSpace()
	if p.pos >= len(p.in) {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	c := p.in[p.pos]

	switch {
	case c == '(':
		p.pos++
		v, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.pos >= len(p.in) || p.in[p.pos] != ')' {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	case c == '"' || c == '\'':
		return p.parseString(c)
	case c == '-' || (c >= '0' && c <= '9'):
		return p.parseNumberLit()
	default:
		return p.parseIdent()
	}
}

func (p *exprParser) parseString(quote byte) (any, error) {
	p.pos++
	start := p.pos
	for p.pos < len(p.in) {
		if p.in[p.pos] == quote {
			s := p.in[start:p.pos]
			p.pos++
			return s, nil
		}
		p.pos++
	}
	return nil, fmt.Errorf("unterminated string")
}

func (p *exprParser) parseNumberLit() (any, error) {
	start := p.pos
	if p.in[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.in) && (p.in[p.pos] == '.' || (p.in[p.pos] >= '0' && p.in[p.pos] <= '9')) {
		p.pos++
	}
	n, err := strconv.ParseFloat(p.in[start:p.pos], 64)
	if err != nil {
		return nil, fmt.Errorf("bad number %q", p.in[start:p.pos])
	}
	return n, nil
}

func (p *exprParser) parseIdent() (any, error) {
	start := p.pos
	for p.pos < len(p.in) && isIdentByte(p.in[p.pos]) {
		p.pos++
	}
	ident := p.in[start:p.pos]
	if ident == "" {
		return nil, fmt.Errorf("unexpected %q", p.in[start:])
	}
	switch ident {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	v, ok := p.lookup(ident)
	if !ok {
		return nil, fmt.Errorf("unknown variable %q", ident)
	}
	return v, nil
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '.' || c == '[' || c == ']' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.in) && (p.in[p.pos] == ' ' || p.in[p.pos] == '\t') {
		p.pos++
	}
}
