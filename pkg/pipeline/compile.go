// Package pipeline compiles an operator chain into stream-transformation
// stages. A stage consumes one event channel and produces one; chain
// composition is strictly left to right.
package pipeline

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/baltar/lamina/pkg/events"
	"github.com/baltar/lamina/pkg/query"
	"github.com/baltar/lamina/pkg/scheduler"
	"github.com/baltar/lamina/pkg/streams"
)

// DefaultPeriod is the emission cadence of windowed operators when neither
// the query nor its options carry one.
const DefaultPeriod = 100 * time.Millisecond

// SubscribeFunc resolves a descriptor to a result stream. The router that
// compiles a pipeline passes itself in, so nested merge subqueries resolve
// through the router that created them.
type SubscribeFunc func(desc query.Descriptor) (streams.Reader[events.Value], error)

// Env is the compilation context of one pipeline.
type Env struct {
	Log   *zap.Logger
	Sched *scheduler.Scheduler
	// Period is the descriptor's sampling interval; zero falls back to
	// DefaultPeriod.
	Period time.Duration
	// Pattern is the enclosing source pattern, inherited by merge
	// subqueries that carry none of their own.
	Pattern string
	// Subscribe resolves merge subqueries. Nil forbids merge.
	Subscribe SubscribeFunc
}

func (e Env) period(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if e.Period > 0 {
		return e.Period
	}
	return DefaultPeriod
}

// Stage transforms one event stream into another. Stages own a goroutine
// and close their output once their input is exhausted.
type Stage func(in events.EventChannel[events.Value]) events.EventChannel[events.Value]

// Compile builds the stage composition for an operator chain. Structural
// errors (unknown operator, misapplied arguments) surface here, before any
// subscription exists.
func Compile(ops []query.Operator, env Env) (Stage, error) {
	var stages []Stage

	for i := 0; i < len(ops); i++ {
		op := ops[i]
		switch op.Kind {
		case query.KindLookup:
			path := op.Path
			stages = append(stages, mapStage(func(v events.Value) (events.Value, bool) {
				return events.Field(v, path)
			}))
		case query.KindWhere:
			if op.Cond == nil {
				return nil, fmt.Errorf("%w: where without condition", query.ErrInvalidOperatorArgs)
			}
			pred, err := predicate(*op.Cond)
			if err != nil {
				return nil, err
			}
			stages = append(stages, mapStage(func(v events.Value) (events.Value, bool) {
				return v, pred(v)
			}))
		case query.KindSelect:
			if len(op.Bindings) == 0 {
				return nil, fmt.Errorf("%w: select without bindings", query.ErrInvalidOperatorArgs)
			}
			bindings := op.Bindings
			stages = append(stages, mapStage(func(v events.Value) (events.Value, bool) {
				return selectValue(v, bindings), true
			}))
		case query.KindGroupBy:
			if len(op.Keys) == 0 {
				return nil, fmt.Errorf("%w: group-by without keys", query.ErrInvalidOperatorArgs)
			}
			// the rest of the chain runs per group inside the window stage
			newReducer, err := buildReducer(ops[i:])
			if err != nil {
				return nil, err
			}
			period := env.period(firstPeriod(ops[i:]))
			stages = append(stages, windowStage(env, period, newReducer))
			return compose(stages), nil
		case query.KindSum, query.KindRate, query.KindMovingAverage:
			kind := op.Kind
			stages = append(stages, windowStage(env, env.period(op.Period), func() reducer {
				return newAggregate(kind)
			}))
		case query.KindMerge:
			stage, err := mergeStage(env, op.Subqueries)
			if err != nil {
				return nil, err
			}
			stages = append(stages, stage)
		default:
			return nil, fmt.Errorf("%w: %s", query.ErrUnknownOperator, op.Kind)
		}
	}

	return compose(stages), nil
}

func compose(stages []Stage) Stage {
	return func(in events.EventChannel[events.Value]) events.EventChannel[events.Value] {
		cur := in
		for _, stage := range stages {
			cur = stage(cur)
		}
		return cur
	}
}

// mapStage lifts a per-value transform/filter into a stage. Dropped values
// never block; order is preserved.
func mapStage(f func(events.Value) (events.Value, bool)) Stage {
	return func(in events.EventChannel[events.Value]) events.EventChannel[events.Value] {
		out := make(events.EventChannel[events.Value])
		go func() {
			defer close(out)
			for e := range in {
				if v, ok := f(e.GetContent()); ok {
					out <- events.NewEventAt(v, e.GetTimestamp())
				}
			}
		}()
		return out
	}
}

// mergeStage subscribes to each subquery through the router in the
// environment and interleaves their results in arrival order. The stage's
// own input only scopes its lifetime: when the upstream closes, the
// subqueries are unsubscribed and the stage shuts down.
func mergeStage(env Env, subs []query.Descriptor) (Stage, error) {
	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: merge without subqueries", query.ErrInvalidOperatorArgs)
	}
	if env.Subscribe == nil {
		return nil, fmt.Errorf("%w: merge is not available in this context", query.ErrInvalidOperatorArgs)
	}

	return func(in events.EventChannel[events.Value]) events.EventChannel[events.Value] {
		out := make(events.EventChannel[events.Value])

		go func() {
			defer close(out)

			readers := make([]streams.Reader[events.Value], 0, len(subs))
			for _, sub := range subs {
				if sub.Pattern == "" && !sub.IsNamed() {
					sub.Pattern = env.Pattern
				}
				r, err := env.Subscribe(sub)
				if err != nil {
					env.Log.Error("merge subquery subscription failed",
						zap.String("subquery", sub.CanonicalKey()), zap.Error(err))
					continue
				}
				readers = append(readers, r)
			}

			merged := streams.MergeReaders(readers...)
			defer merged.Close()

			mergedEvents := merged.Events()
			for {
				select {
				case _, ok := <-in:
					if !ok {
						return
					}
					// upstream values are already observed through the
					// subqueries; the direct input is discarded
				case e, ok := <-mergedEvents:
					if !ok {
						return
					}
					out <- e
				}
			}
		}()

		return out
	}, nil
}
