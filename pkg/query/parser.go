package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parse turns a dotted query string into its descriptor. The grammar is a
// chain of dot-separated elements: an optional leading source pattern,
// bare field segments (folded into lookup operators), and operator calls
// such as where(x.y > 1), select(a: x.y), group-by([foo bar]), sum(),
// rate(), moving-average(period: 75) and merge(.x.y, .x.y). A query
// prefixed with & names a literal stream. A leading dot leaves the pattern
// empty; it is then resolved by the enclosing context, e.g. a merge
// subquery inheriting its parent's source.
func Parse(q string) (Descriptor, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return Descriptor{}, fmt.Errorf("%w: empty query", ErrMalformedQuery)
	}

	var desc Descriptor

	if strings.HasPrefix(q, "&") {
		rest := q[1:]
		name, chain, ok := strings.Cut(rest, ".")
		if !ok {
			name, chain = rest, ""
		}
		if name == "" {
			return Descriptor{}, fmt.Errorf("%w: empty stream name", ErrMalformedQuery)
		}
		desc.Name = name
		q = chain
	}

	segments, err := splitChain(q)
	if err != nil {
		return Descriptor{}, err
	}

	var fields []string
	flushFields := func() {
		if len(fields) > 0 {
			desc.Operators = append(desc.Operators, Lookup(fields...))
			fields = nil
		}
	}

	for i, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}

		name, args, isCall := splitCall(seg)
		if isCall {
			flushFields()
			op, err := parseOperator(name, args)
			if err != nil {
				return Descriptor{}, err
			}
			desc.Operators = append(desc.Operators, op)
			continue
		}

		// first bare segment of an unnamed query is the source pattern
		if i == 0 && desc.Name == "" && !strings.HasPrefix(q, ".") {
			desc.Pattern = seg
			continue
		}
		fields = append(fields, seg)
	}
	flushFields()

	return desc, nil
}

// splitChain splits on top-level dots, keeping dots inside parentheses and
// brackets attached to their element.
func splitChain(q string) ([]string, error) {
	var (
		segments []string
		depth    int
		start    int
	)
	for i, r := range q {
		switch r {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("%w: unbalanced parentheses in %q", ErrMalformedQuery, q)
			}
		case '.':
			if depth == 0 {
				segments = append(segments, q[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("%w: unbalanced parentheses in %q", ErrMalformedQuery, q)
	}
	segments = append(segments, q[start:])
	return segments, nil
}

// splitCall recognizes `name(args)` elements.
func splitCall(seg string) (name, args string, ok bool) {
	open := strings.IndexByte(seg, '(')
	if open < 0 || !strings.HasSuffix(seg, ")") {
		return "", "", false
	}
	return strings.TrimSpace(seg[:open]), seg[open+1 : len(seg)-1], true
}

func parseOperator(name, args string) (Operator, error) {
	switch name {
	case "where":
		cond, err := parseCondition(args)
		if err != nil {
			return Operator{}, err
		}
		return Where(cond), nil
	case "select":
		bindings, err := parseBindings(args)
		if err != nil {
			return Operator{}, err
		}
		return Select(bindings...), nil
	case "group-by":
		keys, err := parseGroupKeys(args)
		if err != nil {
			return Operator{}, err
		}
		return GroupBy(keys...), nil
	case "sum", "rate", "moving-average":
		period, err := parsePeriodArg(name, args)
		if err != nil {
			return Operator{}, err
		}
		switch name {
		case "sum":
			return Sum(period), nil
		case "rate":
			return Rate(period), nil
		default:
			return MovingAverage(period), nil
		}
	case "merge":
		subs, err := parseSubqueries(args)
		if err != nil {
			return Operator{}, err
		}
		return Merge(subs...), nil
	}
	return Operator{}, fmt.Errorf("%w: %q", ErrUnknownOperator, name)
}

var compareOps = []struct {
	token string
	op    CompareOp
}{
	// longer tokens first so <= is not read as <
	{"~=", CmpMatch},
	{"<=", CmpLe},
	{">=", CmpGe},
	{"=", CmpEq},
	{"<", CmpLt},
	{">", CmpGt},
}

func parseCondition(args string) (Condition, error) {
	for _, c := range compareOps {
		lhs, rhs, ok := strings.Cut(args, c.token)
		if !ok {
			continue
		}
		lhs, rhs = strings.TrimSpace(lhs), strings.TrimSpace(rhs)
		if lhs == "" || rhs == "" {
			break
		}

		cond := Condition{Op: c.op, Operand: parseLiteral(rhs)}
		if lhs != "_" {
			cond.Path = strings.Split(lhs, ".")
		}
		return cond, nil
	}
	return Condition{}, fmt.Errorf("%w: where(%s)", ErrInvalidOperatorArgs, args)
}

// parseLiteral reads a comparison operand: a number, a quoted string, or a
// bare word.
func parseLiteral(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func parseBindings(args string) ([]Binding, error) {
	parts, err := splitArgs(args)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: select needs at least one binding", ErrInvalidOperatorArgs)
	}

	bindings := make([]Binding, 0, len(parts))
	for _, part := range parts {
		name, path, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("%w: select binding %q", ErrInvalidOperatorArgs, part)
		}
		name, path = strings.TrimSpace(name), strings.TrimSpace(path)
		if name == "" || path == "" {
			return nil, fmt.Errorf("%w: select binding %q", ErrInvalidOperatorArgs, part)
		}
		bindings = append(bindings, Binding{Name: name, Path: strings.Split(path, ".")})
	}
	return bindings, nil
}

func parseGroupKeys(args string) ([][]string, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return nil, fmt.Errorf("%w: group-by needs at least one key", ErrInvalidOperatorArgs)
	}

	// composite key list: group-by([foo bar])
	if strings.HasPrefix(args, "[") && strings.HasSuffix(args, "]") {
		var keys [][]string
		for _, f := range strings.Fields(args[1 : len(args)-1]) {
			keys = append(keys, strings.Split(f, "."))
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("%w: group-by needs at least one key", ErrInvalidOperatorArgs)
		}
		return keys, nil
	}

	parts, err := splitArgs(args)
	if err != nil {
		return nil, err
	}
	keys := make([][]string, 0, len(parts))
	for _, part := range parts {
		keys = append(keys, strings.Split(part, "."))
	}
	return keys, nil
}

func parsePeriodArg(name, args string) (time.Duration, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return 0, nil
	}

	key, val, ok := strings.Cut(args, ":")
	if !ok || strings.TrimSpace(key) != "period" {
		return 0, fmt.Errorf("%w: %s(%s)", ErrInvalidOperatorArgs, name, args)
	}
	ms, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil || ms <= 0 {
		return 0, fmt.Errorf("%w: %s(period: %s)", ErrInvalidOperatorArgs, name, val)
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}

func parseSubqueries(args string) ([]Descriptor, error) {
	parts, err := splitArgs(args)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: merge needs at least one subquery", ErrInvalidOperatorArgs)
	}

	subs := make([]Descriptor, 0, len(parts))
	for _, part := range parts {
		sub, err := Parse(part)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// splitArgs splits an argument list on top-level commas.
func splitArgs(args string) ([]string, error) {
	var (
		parts []string
		depth int
		start int
	)
	for i, r := range args {
		switch r {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, args[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("%w: unbalanced brackets in %q", ErrMalformedQuery, args)
	}
	parts = append(parts, args[start:])

	trimmed := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			trimmed = append(trimmed, p)
		}
	}
	return trimmed, nil
}
