package pipeline

import (
	"fmt"
	"time"

	"github.com/baltar/lamina/pkg/events"
	"github.com/baltar/lamina/pkg/query"
)

// reducer accumulates values over one emission window. snapshot returns
// the window's aggregate and resets the window; ok is false when the
// window observed nothing.
type reducer interface {
	add(v events.Value)
	snapshot() (events.Value, bool)
}

// sumReducer totals numeric values since the last flush; the total is not
// cumulative across windows.
type sumReducer struct {
	total float64
	seen  bool
}

func (r *sumReducer) add(v events.Value) {
	if f, ok := toFloat(v); ok {
		r.total += f
		r.seen = true
	}
}

func (r *sumReducer) snapshot() (events.Value, bool) {
	if !r.seen {
		return nil, false
	}
	total := r.total
	r.total, r.seen = 0, false
	return total, true
}

// rateReducer counts values observed in the window.
type rateReducer struct {
	count int
}

func (r *rateReducer) add(events.Value) {
	r.count++
}

func (r *rateReducer) snapshot() (events.Value, bool) {
	if r.count == 0 {
		return nil, false
	}
	count := r.count
	r.count = 0
	return float64(count), true
}

// avgReducer keeps the mean of the values observed over the most recent
// window.
type avgReducer struct {
	sum   float64
	count int
}

func (r *avgReducer) add(v events.Value) {
	if f, ok := toFloat(v); ok {
		r.sum += f
		r.count++
	}
}

func (r *avgReducer) snapshot() (events.Value, bool) {
	if r.count == 0 {
		return nil, false
	}
	mean := r.sum / float64(r.count)
	r.sum, r.count = 0, 0
	return mean, true
}

// listReducer is the default group aggregate when no aggregation follows
// group-by: the ordered list of values accumulated in the window.
type listReducer struct {
	values []events.Value
}

func (r *listReducer) add(v events.Value) {
	r.values = append(r.values, v)
}

func (r *listReducer) snapshot() (events.Value, bool) {
	if len(r.values) == 0 {
		return nil, false
	}
	out := r.values
	r.values = nil
	return out, true
}

// groupReducer partitions values by key and applies the rest of the chain
// per group. Its snapshot is the full mapping from key to the group's
// current aggregate; keys whose group observed nothing in the window are
// omitted.
type groupReducer struct {
	keys       [][]string
	transforms []transform
	newInner   func() reducer
	groups     map[string]reducer
}

func (r *groupReducer) add(v events.Value) {
	ok := true
	for _, t := range r.transforms {
		v, ok = t(v)
		if !ok {
			return
		}
	}

	key, ok := groupKey(v, r.keys)
	if !ok {
		return
	}
	val := stripKeys(v, r.keys)

	inner, ok := r.groups[key]
	if !ok {
		inner = r.newInner()
		r.groups[key] = inner
	}
	inner.add(val)
}

func (r *groupReducer) snapshot() (events.Value, bool) {
	out := make(map[string]any, len(r.groups))
	for key, inner := range r.groups {
		if v, ok := inner.snapshot(); ok {
			out[key] = v
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// transform is a value-local step inside a group chain: lookup, where or
// select applied to each value before it reaches the group's reducer.
type transform func(events.Value) (events.Value, bool)

// buildReducer compiles the operator chain that follows a group-by (or the
// group-by itself) into a reducer factory. Value-local operators become
// per-value transforms; the first aggregation fixes the group aggregate;
// no aggregation means the list aggregate.
func buildReducer(ops []query.Operator) (func() reducer, error) {
	var transforms []transform

	for i, op := range ops {
		switch op.Kind {
		case query.KindLookup:
			path := op.Path
			transforms = append(transforms, func(v events.Value) (events.Value, bool) {
				return events.Field(v, path)
			})
		case query.KindWhere:
			pred, err := predicate(*op.Cond)
			if err != nil {
				return nil, err
			}
			transforms = append(transforms, func(v events.Value) (events.Value, bool) {
				return v, pred(v)
			})
		case query.KindSelect:
			bindings := op.Bindings
			transforms = append(transforms, func(v events.Value) (events.Value, bool) {
				return selectValue(v, bindings), true
			})
		case query.KindGroupBy:
			inner, err := buildReducer(ops[i+1:])
			if err != nil {
				return nil, err
			}
			keys := op.Keys
			captured := transforms
			return func() reducer {
				return &groupReducer{
					keys:       keys,
					transforms: captured,
					newInner:   inner,
					groups:     make(map[string]reducer),
				}
			}, nil
		case query.KindSum, query.KindRate, query.KindMovingAverage:
			if i != len(ops)-1 {
				return nil, fmt.Errorf("%w: operators after %s within a group chain", query.ErrInvalidOperatorArgs, op.Kind)
			}
			kind := op.Kind
			captured := transforms
			return func() reducer {
				return &transformedReducer{
					transforms: captured,
					inner:      newAggregate(kind),
				}
			}, nil
		default:
			return nil, fmt.Errorf("%w: %s within a group chain", query.ErrInvalidOperatorArgs, op.Kind)
		}
	}

	captured := transforms
	return func() reducer {
		return &transformedReducer{
			transforms: captured,
			inner:      &listReducer{},
		}
	}, nil
}

func newAggregate(kind query.Kind) reducer {
	switch kind {
	case query.KindSum:
		return &sumReducer{}
	case query.KindRate:
		return &rateReducer{}
	default:
		return &avgReducer{}
	}
}

// transformedReducer applies value-local transforms before its inner
// reducer.
type transformedReducer struct {
	transforms []transform
	inner      reducer
}

func (r *transformedReducer) add(v events.Value) {
	ok := true
	for _, t := range r.transforms {
		v, ok = t(v)
		if !ok {
			return
		}
	}
	r.inner.add(v)
}

func (r *transformedReducer) snapshot() (events.Value, bool) {
	return r.inner.snapshot()
}

// firstPeriod returns the earliest explicit period override in a chain
// suffix, used to drive a group stage's emission cadence.
func firstPeriod(ops []query.Operator) time.Duration {
	for _, op := range ops {
		if op.Period > 0 {
			return op.Period
		}
	}
	return 0
}

func selectValue(v events.Value, bindings []query.Binding) events.Value {
	out := make(map[string]any, len(bindings))
	for _, b := range bindings {
		if fv, ok := events.Field(v, b.Path); ok {
			out[b.Name] = fv
		}
	}
	return out
}
