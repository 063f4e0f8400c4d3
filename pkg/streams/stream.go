package streams

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/baltar/lamina/pkg/events"
)

var (
	ErrStreamClosed = errors.New("streams: stream closed")
)

// Reader is an ordered, closable source of events. Receivers implement it,
// as do compiled pipelines handed to the subscription cache.
type Reader[T any] interface {
	Events() events.EventChannel[T]
	Close()
}

// ReceiverID identifies one fan-out subscriber of a stream.
type ReceiverID uuid.UUID

func (i ReceiverID) String() string {
	return uuid.UUID(i).String()
}

// Receiver is one read handle over a stream. Every receiver observes every
// published event in publish order. Closing a receiver detaches it without
// affecting the stream or its other receivers.
type Receiver[T any] struct {
	id     ReceiverID
	notify events.EventChannel[T]
	done   chan struct{}
	detach func(ReceiverID)
	once   sync.Once
}

func (r *Receiver[T]) ID() ReceiverID {
	return r.id
}

// Events exposes the receiver's notification channel. The channel is closed
// when the receiver is closed or the stream shuts down.
func (r *Receiver[T]) Events() events.EventChannel[T] {
	return r.notify
}

// Next blocks for the next event. It returns ErrStreamClosed once no more
// events can be received.
func (r *Receiver[T]) Next() (events.Event[T], error) {
	e, more := <-r.notify
	if !more {
		return nil, ErrStreamClosed
	}
	return e, nil
}

func (r *Receiver[T]) Close() {
	r.once.Do(func() {
		close(r.done)
		r.detach(r.id)
	})
}

type notificationMap[T any] map[ReceiverID]*Receiver[T]

// deliver hands e to one receiver. A receiver that is closing concurrently
// is skipped via its done channel, so delivery never deadlocks against
// Receiver.Close; the recover covers the narrow race where the notify
// channel is closed while the select is already committed to sending.
func deliver[T any](rec *Receiver[T], e events.Event[T]) {
	defer func() { _ = recover() }()

	select {
	case rec.notify <- e:
	case <-rec.done:
	}
}

// Stream is an in-memory, ordered, fan-out event stream. Publishing never
// blocks on slow consumers; events are queued internally and delivered to
// all current receivers in publish order by a single pump goroutine.
type Stream[T any] struct {
	topic string

	in    events.EventChannel[T]
	queue *queue[T]

	receivers   notificationMap[T]
	notifyMutex sync.Mutex

	active bool
	closed sync.WaitGroup
}

func NewStream[T any](topic string) *Stream[T] {
	s := &Stream[T]{
		topic:     topic,
		receivers: make(notificationMap[T]),
	}
	s.run()
	return s
}

func (s *Stream[T]) Topic() string {
	return s.topic
}

func (s *Stream[T]) run() {
	s.notifyMutex.Lock()
	defer s.notifyMutex.Unlock()

	if s.active {
		return
	}

	s.active = true
	s.in = make(events.EventChannel[T])
	s.queue = newQueue[T]()
	s.closed = sync.WaitGroup{}
	s.closed.Add(2)

	// read input and queue it
	go func() {
		defer s.closed.Done()
		for event := range s.in {
			s.queue.add(event)
		}
		s.queue.stop()
	}()

	// drain the queue and notify receivers
	go func() {
		defer s.closed.Done()
		for {
			event, ok := s.queue.next()
			if !ok {
				return
			}
			s.notifyMutex.Lock()
			recs := make([]*Receiver[T], 0, len(s.receivers))
			for _, r := range s.receivers {
				recs = append(recs, r)
			}
			s.notifyMutex.Unlock()

			for _, rec := range recs {
				deliver(rec, event)
			}
		}
	}()
}

// Publish queues an event for delivery. It returns ErrStreamClosed on a
// stream that has been closed.
func (s *Stream[T]) Publish(event events.Event[T]) (err error) {
	defer func() {
		if recover() != nil {
			err = ErrStreamClosed
		}
	}()

	s.notifyMutex.Lock()
	active := s.active
	s.notifyMutex.Unlock()
	if !active {
		return ErrStreamClosed
	}

	s.in <- event
	return nil
}

// Subscribe attaches a new fan-out receiver.
func (s *Stream[T]) Subscribe() *Receiver[T] {
	s.notifyMutex.Lock()
	defer s.notifyMutex.Unlock()

	rec := &Receiver[T]{
		id:     ReceiverID(uuid.New()),
		notify: make(events.EventChannel[T]),
		done:   make(chan struct{}),
		detach: s.unsubscribe,
	}
	if !s.active {
		close(rec.notify)
		return rec
	}
	s.receivers[rec.id] = rec
	return rec
}

func (s *Stream[T]) unsubscribe(id ReceiverID) {
	s.notifyMutex.Lock()
	defer s.notifyMutex.Unlock()

	if rec, ok := s.receivers[id]; ok {
		delete(s.receivers, id)
		close(rec.notify)
	}
}

func (s *Stream[T]) HasReceivers() bool {
	s.notifyMutex.Lock()
	defer s.notifyMutex.Unlock()

	return len(s.receivers) > 0
}

// Close drains pending events, detaches all receivers and stops the pump
// goroutines. Further publishes fail with ErrStreamClosed.
func (s *Stream[T]) Close() {
	s.notifyMutex.Lock()
	if !s.active {
		s.notifyMutex.Unlock()
		return
	}
	s.active = false
	close(s.in)
	s.notifyMutex.Unlock()

	s.closed.Wait()

	s.notifyMutex.Lock()
	defer s.notifyMutex.Unlock()
	for id, rec := range s.receivers {
		delete(s.receivers, id)
		rec.once.Do(func() { close(rec.done) })
		close(rec.notify)
	}
}
