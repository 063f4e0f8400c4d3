package streams

import (
	"sync"

	"github.com/baltar/lamina/pkg/events"
)

// queue is the unbounded FIFO backing a stream, decoupling publishers from
// the notify pump. next blocks until an event is queued or the queue is
// stopped; after stop, queued events are still drained before next reports
// exhaustion.
type queue[T any] struct {
	events  []events.Event[T]
	mutex   sync.Mutex
	cond    *sync.Cond
	stopped bool
}

func newQueue[T any]() *queue[T] {
	q := &queue[T]{
		events: make([]events.Event[T], 0, 8),
	}
	q.cond = sync.NewCond(&q.mutex)
	return q
}

func (q *queue[T]) add(e events.Event[T]) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.events = append(q.events, e)
	q.cond.Signal()
}

func (q *queue[T]) next() (events.Event[T], bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for len(q.events) == 0 && !q.stopped {
		q.cond.Wait()
	}
	if len(q.events) == 0 {
		return nil, false
	}

	e := q.events[0]
	q.events = q.events[1:]
	return e, true
}

func (q *queue[T]) stop() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.stopped = true
	q.cond.Broadcast()
}
