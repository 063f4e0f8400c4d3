package router

import (
	"time"

	"go.uber.org/zap"

	"github.com/baltar/lamina/pkg/cache"
	"github.com/baltar/lamina/pkg/events"
	"github.com/baltar/lamina/pkg/pipeline"
	"github.com/baltar/lamina/pkg/probes"
	"github.com/baltar/lamina/pkg/query"
	"github.com/baltar/lamina/pkg/scheduler"
	"github.com/baltar/lamina/pkg/streams"
)

// Local serves queries directly against the probe registry.
type Local struct {
	log      *zap.Logger
	sched    *scheduler.Scheduler
	registry *probes.Registry
	period   time.Duration
	cache    *cache.Cache
}

func NewLocal(log *zap.Logger, sched *scheduler.Scheduler, registry *probes.Registry, defaultPeriod time.Duration) *Local {
	r := &Local{
		log:      log,
		sched:    sched,
		registry: registry,
		period:   defaultPeriod,
	}
	r.cache = cache.New(log.Named("cache"), r.decompose)
	return r
}

func (r *Local) Subscribe(topic any, opts query.Options) (*cache.Subscription, error) {
	desc, err := query.ParseDescriptor(topic, opts)
	if err != nil {
		return nil, err
	}
	return r.subscribeDescriptor(desc)
}

func (r *Local) InnerCache() *cache.Cache {
	return r.cache
}

func (r *Local) subscribeDescriptor(desc query.Descriptor) (*cache.Subscription, error) {
	return r.cache.Subscribe(desc, r.generator(desc), r.compiler(desc))
}

// generator resolves the descriptor's source against the probe registry. A
// named descriptor refers to one literal stream; a pattern may match
// several probes, merged into one raw stream. A merge-rooted chain draws
// all its data from its subqueries, so its source is an idle stream that
// only scopes the pipeline's lifetime and the pattern need not match any
// live probe.
func (r *Local) generator(desc query.Descriptor) cache.Generator {
	return func() (streams.Reader[events.Value], error) {
		if mergeRooted(desc) {
			return streams.IdleReader[events.Value](), nil
		}
		if desc.IsNamed() {
			return r.registry.Select(desc.Name)
		}
		return r.registry.Select(desc.Pattern)
	}
}

func mergeRooted(desc query.Descriptor) bool {
	return !desc.IsNamed() &&
		len(desc.Operators) > 0 &&
		desc.Operators[0].Kind == query.KindMerge
}

func (r *Local) compiler(desc query.Descriptor) cache.CompileFunc {
	return func(ops []query.Operator) (pipeline.Stage, error) {
		return pipeline.Compile(ops, r.env(desc))
	}
}

// env carries this router as the subscription context, so merge subqueries
// issued from within a pipeline resolve back through the router that
// compiled them.
func (r *Local) env(desc query.Descriptor) pipeline.Env {
	period := desc.Period
	if period == 0 {
		period = r.period
	}
	return pipeline.Env{
		Log:     r.log,
		Sched:   r.sched,
		Period:  period,
		Pattern: desc.Pattern,
		Subscribe: func(d query.Descriptor) (streams.Reader[events.Value], error) {
			return r.subscribeDescriptor(d)
		},
	}
}

// decompose shares upstream work between chains that differ only in their
// trailing operator: the prefix descriptor is subscribed recursively
// through the same cache, the trailing operator becomes the entry's
// private tail.
func (r *Local) decompose(desc query.Descriptor) (*cache.Decomposition, error) {
	// a lone leading merge has no upstream to share; it is built whole from
	// its generator's idle source
	if len(desc.Operators) == 1 && mergeRooted(desc) {
		return nil, nil
	}

	prefix, last := desc.WithoutLastOperator()

	tail, err := pipeline.Compile([]query.Operator{last}, r.env(desc))
	if err != nil {
		return nil, err
	}

	return &cache.Decomposition{
		Upstream: func() (streams.Reader[events.Value], error) {
			return r.subscribeDescriptor(prefix)
		},
		Transform: tail,
	}, nil
}
