package router

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/baltar/lamina/pkg/cache"
	"github.com/baltar/lamina/pkg/events"
	"github.com/baltar/lamina/pkg/pipeline"
	"github.com/baltar/lamina/pkg/query"
	"github.com/baltar/lamina/pkg/scheduler"
	"github.com/baltar/lamina/pkg/streams"
)

// Aggregating serves queries across one or more downstream routers. An
// incoming chain is split: the distributable prefix runs on every
// downstream (close to the data), the non-distributable suffix runs here
// over the merged shard outputs.
type Aggregating struct {
	log         *zap.Logger
	sched       *scheduler.Scheduler
	downstreams []Router
	period      time.Duration
	cache       *cache.Cache
}

func NewAggregating(log *zap.Logger, sched *scheduler.Scheduler, defaultPeriod time.Duration, downstreams ...Router) *Aggregating {
	r := &Aggregating{
		log:         log,
		sched:       sched,
		downstreams: downstreams,
		period:      defaultPeriod,
	}
	r.cache = cache.New(log.Named("cache"), r.decompose)
	return r
}

func (r *Aggregating) Subscribe(topic any, opts query.Options) (*cache.Subscription, error) {
	desc, err := query.ParseDescriptor(topic, opts)
	if err != nil {
		return nil, err
	}
	return r.subscribeDescriptor(query.SplitDescriptor(desc))
}

func (r *Aggregating) InnerCache() *cache.Cache {
	return r.cache
}

func (r *Aggregating) subscribeDescriptor(desc query.Descriptor) (*cache.Subscription, error) {
	return r.cache.Subscribe(desc, r.generator(desc), r.compiler(desc))
}

// generator subscribes every downstream router to the descriptor's
// endpoint (the pre-split distributable prefix) and merges their outputs
// into this router's raw source.
func (r *Aggregating) generator(desc query.Descriptor) cache.Generator {
	return func() (streams.Reader[events.Value], error) {
		endpoint := desc.Endpoint
		if endpoint == nil {
			return nil, fmt.Errorf("aggregating router: descriptor %s has no endpoint", desc.CanonicalKey())
		}

		readers := make([]streams.Reader[events.Value], 0, len(r.downstreams))
		for _, downstream := range r.downstreams {
			sub, err := downstream.Subscribe(*endpoint, query.Options{})
			if err != nil {
				for _, open := range readers {
					open.Close()
				}
				return nil, err
			}
			readers = append(readers, sub)
		}

		if len(readers) == 1 {
			return readers[0], nil
		}
		return streams.MergeReaders(readers...), nil
	}
}

func (r *Aggregating) compiler(desc query.Descriptor) cache.CompileFunc {
	return func(ops []query.Operator) (pipeline.Stage, error) {
		return pipeline.Compile(ops, r.env(desc))
	}
}

func (r *Aggregating) env(desc query.Descriptor) pipeline.Env {
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
			return r.subscribeDescriptor(query.SplitDescriptor(d))
		},
	}
}

// decompose shares the merged downstream source and suffix prefix stages
// between aggregated chains that differ only in the trailing suffix
// operator. The prefix descriptor keeps the endpoint, so the recursion
// bottoms out at the shard-merge entry.
func (r *Aggregating) decompose(desc query.Descriptor) (*cache.Decomposition, error) {
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
