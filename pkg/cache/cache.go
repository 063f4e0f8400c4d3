// Package cache deduplicates topic subscriptions. All subscribers of one
// canonical descriptor share a single upstream generator invocation and one
// compiled pipeline; chain decomposition additionally lets queries that
// differ only in their trailing operator share every upstream stage.
package cache

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/baltar/lamina/pkg/events"
	"github.com/baltar/lamina/pkg/metric"
	"github.com/baltar/lamina/pkg/pipeline"
	"github.com/baltar/lamina/pkg/query"
	"github.com/baltar/lamina/pkg/streams"
)

// Generator produces a fresh raw source stream for a descriptor's root. It
// is invoked at most once per live cache entry, even under concurrent
// first-subscribers.
type Generator func() (streams.Reader[events.Value], error)

// CompileFunc compiles an operator chain in the owning router's
// environment.
type CompileFunc func(ops []query.Operator) (pipeline.Stage, error)

// Decomposition describes how an entry can be built on top of a shared
// sub-topic instead of a fresh generator: Upstream subscribes to the
// sub-topic (through the cache, sharing all its stages), Transform is the
// private tail applied on top.
type Decomposition struct {
	Upstream  func() (streams.Reader[events.Value], error)
	Transform pipeline.Stage
}

// DecomposeFunc is consulted before creating a fresh entry. Returning nil
// means no decomposition applies and the entry is built from its generator.
type DecomposeFunc func(desc query.Descriptor) (*Decomposition, error)

type entry struct {
	key         string
	source      streams.Reader[events.Value]
	out         *streams.Stream[events.Value]
	subscribers int
}

type Cache struct {
	log       *zap.Logger
	decompose DecomposeFunc

	mutex   sync.Mutex
	entries map[string]*entry
	flight  singleflight.Group
}

func New(log *zap.Logger, decompose DecomposeFunc) *Cache {
	return &Cache{
		log:       log,
		decompose: decompose,
		entries:   make(map[string]*entry),
	}
}

// Subscription is one caller-owned read handle over a shared pipeline.
// Closing it decrements the entry's subscriber count; the last close tears
// the entry down.
type Subscription struct {
	rec     *streams.Receiver[events.Value]
	release func()
	once    sync.Once
}

func (s *Subscription) Events() events.EventChannel[events.Value] {
	return s.rec.Events()
}

// Next blocks for the next result. It reports streams.ErrStreamClosed once
// the shared pipeline has shut down.
func (s *Subscription) Next() (events.Event[events.Value], error) {
	return s.rec.Next()
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.rec.Close()
		s.release()
	})
}

// Subscribe returns a new read handle over the shared pipeline of desc,
// creating the entry on first subscription. Creation invokes gen exactly
// once per entry lifetime; a generator failure retains no entry.
func (c *Cache) Subscribe(desc query.Descriptor, gen Generator, compile CompileFunc) (*Subscription, error) {
	key := desc.CanonicalKey()

	for {
		v, err, _ := c.flight.Do(key, func() (any, error) {
			c.mutex.Lock()
			e, ok := c.entries[key]
			c.mutex.Unlock()
			if ok {
				return e, nil
			}

			e, err := c.create(key, desc, gen, compile)
			if err != nil {
				return nil, err
			}

			c.mutex.Lock()
			c.entries[key] = e
			c.mutex.Unlock()
			metric.CacheEntries.Inc()
			return e, nil
		})
		if err != nil {
			return nil, err
		}
		e := v.(*entry)

		// the entry may have been torn down between the flight returning
		// and this subscriber attaching; retry from scratch in that case
		c.mutex.Lock()
		if c.entries[key] != e {
			c.mutex.Unlock()
			continue
		}
		e.subscribers++
		rec := e.out.Subscribe()
		c.mutex.Unlock()

		metric.SubscriptionsActive.Inc()
		return &Subscription{
			rec:     rec,
			release: func() { c.release(key, e) },
		}, nil
	}
}

// create builds the shared pipeline of one entry: either a private tail on
// top of a shared sub-topic (decomposition) or a fresh generator threaded
// through the descriptor's full chain.
func (c *Cache) create(key string, desc query.Descriptor, gen Generator, compile CompileFunc) (*entry, error) {
	var (
		source streams.Reader[events.Value]
		stage  pipeline.Stage
	)

	if c.decompose != nil && !desc.IsNamed() && len(desc.Operators) > 0 {
		d, err := c.decompose(desc)
		if err != nil {
			return nil, err
		}
		if d != nil {
			source, err = d.Upstream()
			if err != nil {
				return nil, err
			}
			stage = d.Transform
		}
	}

	if source == nil {
		src, err := gen()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", query.ErrGeneratorFailure, err)
		}
		stage, err = compile(desc.Operators)
		if err != nil {
			src.Close()
			return nil, err
		}
		source = src
		metric.GeneratorInvocations.Inc()
	}

	out := streams.NewStream[events.Value](key)
	results := stage(source.Events())
	go func() {
		for e := range results {
			if err := out.Publish(e); err != nil {
				return
			}
		}
		out.Close()
	}()

	c.log.Debug("cache entry created", zap.String("topic", key))
	return &entry{key: key, source: source, out: out}, nil
}

func (c *Cache) release(key string, e *entry) {
	c.mutex.Lock()
	if c.entries[key] != e {
		c.mutex.Unlock()
		return
	}
	e.subscribers--
	metric.SubscriptionsActive.Dec()
	if e.subscribers > 0 {
		c.mutex.Unlock()
		return
	}
	delete(c.entries, key)
	c.mutex.Unlock()

	// teardown cascades: closing the upstream drains the stages, cancels
	// their periodic tasks and closes the fan-out stream
	e.source.Close()
	metric.CacheEntries.Dec()
	c.log.Debug("cache entry torn down", zap.String("topic", key))
}

// Entries snapshots the live entries and their subscriber counts, for
// diagnostics.
func (c *Cache) Entries() map[string]int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	out := make(map[string]int, len(c.entries))
	for key, e := range c.entries {
		out[key] = e.subscribers
	}
	return out
}
