package query

import (
	"fmt"
	"strings"
	"time"
)

// Kind enumerates the closed operator set. Pipeline compilation switches
// exhaustively over it.
type Kind int

const (
	KindLookup Kind = iota
	KindWhere
	KindSelect
	KindGroupBy
	KindSum
	KindRate
	KindMovingAverage
	KindMerge
)

func (k Kind) String() string {
	switch k {
	case KindLookup:
		return "lookup"
	case KindWhere:
		return "where"
	case KindSelect:
		return "select"
	case KindGroupBy:
		return "group-by"
	case KindSum:
		return "sum"
	case KindRate:
		return "rate"
	case KindMovingAverage:
		return "moving-average"
	case KindMerge:
		return "merge"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// CompareOp is the comparison of a where condition.
type CompareOp int

const (
	CmpEq CompareOp = iota
	CmpMatch                // ~= pattern match
	CmpLt
	CmpGt
	CmpLe
	CmpGe
)

func (c CompareOp) String() string {
	switch c {
	case CmpEq:
		return "="
	case CmpMatch:
		return "~="
	case CmpLt:
		return "<"
	case CmpGt:
		return ">"
	case CmpLe:
		return "<="
	case CmpGe:
		return ">="
	}
	return "?"
}

// Condition is a where predicate: a field path (empty means the current
// value, written `_`) compared against a literal operand.
type Condition struct {
	Path    []string
	Op      CompareOp
	Operand any
}

func (c Condition) render() string {
	lhs := "_"
	if len(c.Path) > 0 {
		lhs = strings.Join(c.Path, ".")
	}
	return fmt.Sprintf("%s %s %v", lhs, c.Op, c.Operand)
}

// Binding is one output field of a select operator. Bindings are ordered;
// evaluation order is binding order.
type Binding struct {
	Name string
	Path []string
}

// Operator is one stage of a query chain. Kind selects the variant; only
// the fields of the active variant are meaningful.
type Operator struct {
	Kind Kind

	Path       []string      // Lookup
	Cond       *Condition    // Where
	Bindings   []Binding     // Select
	Keys       [][]string    // GroupBy
	Period     time.Duration // Sum, Rate, MovingAverage override; 0 = unset
	Subqueries []Descriptor  // Merge
}

func Lookup(path ...string) Operator {
	return Operator{Kind: KindLookup, Path: path}
}

func Where(cond Condition) Operator {
	return Operator{Kind: KindWhere, Cond: &cond}
}

func Select(bindings ...Binding) Operator {
	return Operator{Kind: KindSelect, Bindings: bindings}
}

func GroupBy(keys ...[]string) Operator {
	return Operator{Kind: KindGroupBy, Keys: keys}
}

func Sum(period time.Duration) Operator {
	return Operator{Kind: KindSum, Period: period}
}

func Rate(period time.Duration) Operator {
	return Operator{Kind: KindRate, Period: period}
}

func MovingAverage(period time.Duration) Operator {
	return Operator{Kind: KindMovingAverage, Period: period}
}

func Merge(subqueries ...Descriptor) Operator {
	return Operator{Kind: KindMerge, Subqueries: subqueries}
}

// render writes the canonical form of the operator, used for cache identity.
func (o Operator) render(b *strings.Builder) {
	switch o.Kind {
	case KindLookup:
		b.WriteString(strings.Join(o.Path, "."))
	case KindWhere:
		fmt.Fprintf(b, "where(%s)", o.Cond.render())
	case KindSelect:
		b.WriteString("select(")
		for i, bind := range o.Bindings {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "%s: %s", bind.Name, strings.Join(bind.Path, "."))
		}
		b.WriteString(")")
	case KindGroupBy:
		b.WriteString("group-by(")
		if len(o.Keys) == 1 {
			b.WriteString(strings.Join(o.Keys[0], "."))
		} else {
			parts := make([]string, 0, len(o.Keys))
			for _, k := range o.Keys {
				parts = append(parts, strings.Join(k, "."))
			}
			fmt.Fprintf(b, "[%s]", strings.Join(parts, " "))
		}
		b.WriteString(")")
	case KindSum, KindRate, KindMovingAverage:
		b.WriteString(o.Kind.String())
		if o.Period > 0 {
			fmt.Fprintf(b, "(period: %d)", o.Period.Milliseconds())
		} else {
			b.WriteString("()")
		}
	case KindMerge:
		b.WriteString("merge(")
		for i, sub := range o.Subqueries {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(sub.CanonicalKey())
		}
		b.WriteString(")")
	}
}

// String returns the canonical form of the operator.
func (o Operator) String() string {
	var b strings.Builder
	o.render(&b)
	return b.String()
}
