// Package probes keeps the index of live raw event sources. A probe is a
// named stream that instrumented code publishes trace values into; queries
// select probes by glob pattern.
package probes

import (
	"errors"
	"path"
	"sync"

	"go.uber.org/zap"

	"github.com/baltar/lamina/pkg/events"
	"github.com/baltar/lamina/pkg/streams"
)

var (
	ErrNoProbes     = errors.New("probes: pattern matches no live probe")
	ErrProbeUnknown = errors.New("probes: unknown probe")
)

type Registry struct {
	mutex  sync.RWMutex
	probes map[string]*streams.Stream[events.Value]
	log    *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		probes: make(map[string]*streams.Stream[events.Value]),
		log:    log,
	}
}

// GetOrAdd returns the probe stream registered under name, creating it when
// absent.
func (r *Registry) GetOrAdd(name string) *streams.Stream[events.Value] {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if s, ok := r.probes[name]; ok {
		return s
	}
	s := streams.NewStream[events.Value](name)
	r.probes[name] = s
	r.log.Debug("probe registered", zap.String("probe", name))
	return s
}

// Remove closes and drops a probe. Queries subscribed to it observe end of
// stream.
func (r *Registry) Remove(name string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if s, ok := r.probes[name]; ok {
		delete(r.probes, name)
		s.Close()
	}
}

// Publish pushes one raw value into a named probe.
func (r *Registry) Publish(name string, e events.Event[events.Value]) error {
	r.mutex.RLock()
	s, ok := r.probes[name]
	r.mutex.RUnlock()

	if !ok {
		return ErrProbeUnknown
	}
	return s.Publish(e)
}

// Names lists the currently registered probes.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.probes))
	for name := range r.probes {
		names = append(names, name)
	}
	return names
}

// Select resolves a glob pattern to the matching live probes, merged into a
// single raw reader. A pattern that matches nothing is an error: the caller
// asked for data that cannot be produced.
func (r *Registry) Select(pattern string) (streams.Reader[events.Value], error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var matched []streams.Reader[events.Value]
	for name, s := range r.probes {
		if ok, _ := path.Match(pattern, name); ok || name == pattern {
			matched = append(matched, s.Subscribe())
		}
	}

	switch len(matched) {
	case 0:
		return nil, ErrNoProbes
	case 1:
		return matched[0], nil
	default:
		return streams.MergeReaders(matched...), nil
	}
}
