package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/baltar/lamina/pkg/events"
	"github.com/baltar/lamina/pkg/query"
)

func toFloat(v events.Value) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// predicate builds the evaluation function of a where condition. The
// pattern of a ~= condition is compiled once here; a literal pattern
// degenerates to an exact match.
func predicate(cond query.Condition) (func(events.Value) bool, error) {
	var pattern *regexp.Regexp
	if cond.Op == query.CmpMatch {
		p, err := regexp.Compile(fmt.Sprintf("%v", cond.Operand))
		if err != nil {
			return nil, fmt.Errorf("%w: where pattern %v: %v", query.ErrInvalidOperatorArgs, cond.Operand, err)
		}
		pattern = p
	}

	return func(v events.Value) bool {
		cur := v
		if len(cond.Path) > 0 {
			var ok bool
			cur, ok = events.Field(v, cond.Path)
			if !ok {
				return false
			}
		}
		return compare(cur, cond.Op, cond.Operand, pattern)
	}, nil
}

func compare(v events.Value, op query.CompareOp, operand events.Value, pattern *regexp.Regexp) bool {
	switch op {
	case query.CmpEq:
		if l, lok := toFloat(v); lok {
			if r, rok := toFloat(operand); rok {
				return l == r
			}
		}
		return fmt.Sprintf("%v", v) == fmt.Sprintf("%v", operand)
	case query.CmpMatch:
		return pattern.MatchString(fmt.Sprintf("%v", v))
	}

	// ordered comparisons are numeric only
	l, lok := toFloat(v)
	r, rok := toFloat(operand)
	if !lok || !rok {
		return false
	}
	switch op {
	case query.CmpLt:
		return l < r
	case query.CmpGt:
		return l > r
	case query.CmpLe:
		return l <= r
	case query.CmpGe:
		return l >= r
	}
	return false
}

// stripKeys removes the group key fields from a value. When exactly one
// field remains, the bare field value is returned; an empty remainder
// yields nil.
func stripKeys(v events.Value, keys [][]string) events.Value {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}

	rest := make(map[string]any, len(m))
	for k, val := range m {
		rest[k] = val
	}
	for _, key := range keys {
		deletePath(rest, key)
	}

	switch len(rest) {
	case 0:
		return nil
	case 1:
		for _, val := range rest {
			return val
		}
	}
	return rest
}

func deletePath(m map[string]any, path []string) {
	if len(path) == 1 {
		delete(m, path[0])
		return
	}
	if nested, ok := m[path[0]].(map[string]any); ok {
		// copy before mutating shared nested maps
		cp := make(map[string]any, len(nested))
		for k, v := range nested {
			cp[k] = v
		}
		deletePath(cp, path[1:])
		if len(cp) == 0 {
			delete(m, path[0])
		} else {
			m[path[0]] = cp
		}
	}
}

// groupKey renders the key value(s) of one event. Composite keys render
// bracketed and space-joined, matching the canonical key-list form.
func groupKey(v events.Value, keys [][]string) (string, bool) {
	if len(keys) == 1 {
		kv, ok := events.Field(v, keys[0])
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%v", kv), true
	}

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		kv, ok := events.Field(v, key)
		if !ok {
			return "", false
		}
		parts = append(parts, fmt.Sprintf("%v", kv))
	}
	return "[" + strings.Join(parts, " ") + "]", true
}
