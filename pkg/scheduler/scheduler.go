// Package scheduler provides the periodic-task facility behind windowed
// operators: a delay queue that only turns "run in N ms" into a submission,
// and a small worker pool that runs the callback bodies. A slow callback
// therefore never starves timing for unrelated tasks.
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"go.uber.org/zap"
)

// minRedelay clamps the rescheduling delay of a repeating task whose body
// overran its period, avoiding a busy loop while keeping the cadence target
// drift-corrected.
const minRedelay = time.Millisecond

const defaultWorkers = 4

type Scheduler struct {
	log *zap.Logger

	jobs *jobQueue

	mutex   sync.Mutex
	pending taskHeap
	wake    chan struct{}
	done    chan struct{}

	closeOnce sync.Once
}

func New(workers int, log *zap.Logger) *Scheduler {
	if workers <= 0 {
		workers = defaultWorkers
	}
	s := &Scheduler{
		log:  log,
		jobs: newJobQueue(),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		go s.worker()
	}
	go s.timingLoop()

	return s
}

var (
	defaultScheduler *Scheduler
	defaultOnce      sync.Once
)

// Default returns the process-wide scheduler, created on first use.
func Default() *Scheduler {
	defaultOnce.Do(func() {
		defaultScheduler = New(defaultWorkers, zap.L().Named("scheduler"))
	})
	return defaultScheduler
}

// InvokeOnce executes f on a worker after at least delay has elapsed. A
// non-positive delay submits f as soon as a worker is available.
func (s *Scheduler) InvokeOnce(delay time.Duration, f func()) {
	if delay <= 0 {
		s.jobs.add(f)
		return
	}
	s.scheduleAt(time.Now().Add(delay), f)
}

// InvokeRepeatedly executes f every period until f invokes its cancellation
// handle. Invocations never overlap; when a body overruns its period the
// next invocation is submitted right after it finishes while the cadence
// target still advances by exactly one period (drift-corrected).
func (s *Scheduler) InvokeRepeatedly(period time.Duration, f func(cancel func())) {
	if period <= 0 {
		period = minRedelay
	}

	t := &repeatingTask{
		sched:  s,
		period: period,
		target: time.Now().Add(period),
		f:      f,
	}
	s.scheduleAt(t.target, t.run)
}

type repeatingTask struct {
	sched     *Scheduler
	period    time.Duration
	target    time.Time
	f         func(cancel func())
	cancelled bool
	mutex     sync.Mutex
}

func (t *repeatingTask) cancel() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.cancelled = true
}

func (t *repeatingTask) run() {
	t.mutex.Lock()
	if t.cancelled {
		t.mutex.Unlock()
		return
	}
	t.mutex.Unlock()

	t.invoke()

	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.cancelled {
		return
	}

	t.target = t.target.Add(t.period)
	at := t.target
	if earliest := time.Now().Add(minRedelay); at.Before(earliest) {
		at = earliest
	}
	t.sched.scheduleAt(at, t.run)
}

// invoke recovers a panicking body so the task's recurrence survives it.
func (t *repeatingTask) invoke() {
	defer func() {
		if r := recover(); r != nil {
			t.sched.log.Error("periodic callback panicked", zap.Any("panic", r))
		}
	}()
	t.f(t.cancel)
}

func (s *Scheduler) scheduleAt(at time.Time, f func()) {
	s.mutex.Lock()
	heap.Push(&s.pending, &task{at: at, run: f})
	s.mutex.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// timingLoop owns the delay queue. It never runs callback bodies; due tasks
// are handed to the worker pool.
func (s *Scheduler) timingLoop() {
	for {
		s.mutex.Lock()
		now := time.Now()
		for s.pending.Len() > 0 && !s.pending[0].at.After(now) {
			t := heap.Pop(&s.pending).(*task)
			s.jobs.add(t.run)
		}
		var wait time.Duration = -1
		if s.pending.Len() > 0 {
			wait = s.pending[0].at.Sub(now)
		}
		s.mutex.Unlock()

		if wait < 0 {
			select {
			case <-s.wake:
			case <-s.done:
				return
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wake:
			timer.Stop()
		case <-s.done:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) worker() {
	for {
		job, ok := s.jobs.next()
		if !ok {
			return
		}
		s.runJob(job)
	}
}

// runJob isolates a callback: a panic is recovered and logged, never
// propagated into the scheduler or other scheduled work.
func (s *Scheduler) runJob(job func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduled callback panicked", zap.Any("panic", r))
		}
	}()
	job()
}

// Close stops the delay queue and the worker pool. Already-submitted jobs
// still run; pending timed tasks are dropped.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.jobs.stop()
	})
}

type task struct {
	at  time.Time
	run func()
}

type taskHeap []*task

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)        { *h = append(*h, x.(*task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
