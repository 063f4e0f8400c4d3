package streams

import (
	"sync"

	"github.com/baltar/lamina/pkg/events"
)

// idleReader is a source that never produces. It backs pipelines whose
// first stage generates its own data, where the direct input only scopes
// the pipeline's lifetime.
type idleReader[T any] struct {
	ch   events.EventChannel[T]
	once sync.Once
}

// IdleReader returns a reader that emits nothing and reports exhaustion
// only once closed.
func IdleReader[T any]() Reader[T] {
	return &idleReader[T]{ch: make(events.EventChannel[T])}
}

func (r *idleReader[T]) Events() events.EventChannel[T] {
	return r.ch
}

func (r *idleReader[T]) Close() {
	r.once.Do(func() { close(r.ch) })
}

// mergedReader interleaves several readers into one. Each source's relative
// order is preserved; the cross-source interleaving is arrival order.
type mergedReader[T any] struct {
	out     *Stream[T]
	handle  *Receiver[T]
	sources []Reader[T]
	once    sync.Once
}

// MergeReaders fans several readers into a single reader. Closing the
// merged reader closes every source. The merged reader reports exhaustion
// once all sources are exhausted.
func MergeReaders[T any](sources ...Reader[T]) Reader[T] {
	out := NewStream[T]("merged")
	m := &mergedReader[T]{
		out:     out,
		handle:  out.Subscribe(),
		sources: sources,
	}

	var wg sync.WaitGroup
	wg.Add(len(sources))
	for _, src := range sources {
		go func(src Reader[T]) {
			defer wg.Done()
			for e := range src.Events() {
				if err := out.Publish(e); err != nil {
					return
				}
			}
		}(src)
	}
	go func() {
		wg.Wait()
		out.Close()
	}()

	return m
}

func (m *mergedReader[T]) Events() events.EventChannel[T] {
	return m.handle.Events()
}

func (m *mergedReader[T]) Close() {
	m.once.Do(func() {
		for _, src := range m.sources {
			src.Close()
		}
		m.out.Close()
	})
}
