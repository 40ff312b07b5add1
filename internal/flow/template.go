package flow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var refPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Resolve substitutes every {{path}} reference in the template with its
// stringified value from vars. Unresolved references are left verbatim so a
// typo in a flow renders visibly instead of vanishing. Never errors; this is
// on the hot speaking path.
func Resolve(template string, vars map[string]any) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	return refPattern.ReplaceAllStringFunc(template, func(ref string) string {
		path := strings.TrimSpace(ref[2 : len(ref)-2])
		v, ok := LookupPath(vars, path)
		if !ok {
			return ref
		}
		return Stringify(v)
	})
}

// LookupPath walks a dot/bracket path ("user.name", "items[0].sku") into the
// variable table. The second return is false when any segment is missing.
func LookupPath(vars map[string]any, path string) (any, bool) {
	segs, err := splitPath(path)
	if err != nil || len(segs) == 0 {
		return nil, false
	}
	var cur any = vars
	for _, seg := range segs {
		if seg.index >= 0 {
			arr, ok := cur.([]any)
			if !ok || seg.index >= len(arr) {
				return nil, false
			}
			cur = arr[seg.index]
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg.key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Stringify renders a variable value the way it should be spoken or
// interpolated. Whole floats drop the trailing ".0" JSON decoding gives them.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = Stringify(e)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", t)
	}
}

type pathSeg struct {
	key   string
	index int // -1 for key segments
}

func splitPath(path string) ([]pathSeg, error) {
	var segs []pathSeg
	for _, part := range strings.Split(path, ".") {
		for part != "" {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				segs = append(segs, pathSeg{key: part, index: -1})
				break
			}
			if open > 0 {
				segs = append(segs, pathSeg{key: part[:open], index: -1})
			}
			closeIdx := strings.IndexByte(part, ']')
			if closeIdx < open {
				return nil, fmt.Errorf("unbalanced bracket in path %q", path)
			}
			idx, err := strconv.Atoi(part[open+1 : closeIdx])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("bad index in path %q", path)
			}
			segs = append(segs, pathSeg{index: idx})
			part = part[closeIdx+1:]
		}
	}
	return segs, nil
}
