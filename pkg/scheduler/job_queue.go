package scheduler

import "sync"

// jobQueue is the unbounded feed between the delay queue and the worker
// pool, so handing a due task to a busy pool never blocks timing.
type jobQueue struct {
	jobs    []func()
	mutex   sync.Mutex
	cond    *sync.Cond
	stopped bool
}

func newJobQueue() *jobQueue {
	q := &jobQueue{}
	q.cond = sync.NewCond(&q.mutex)
	return q
}

func (q *jobQueue) add(job func()) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.stopped {
		return
	}
	q.jobs = append(q.jobs, job)
	q.cond.Signal()
}

func (q *jobQueue) next() (func(), bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for len(q.jobs) == 0 && !q.stopped {
		q.cond.Wait()
	}
	if len(q.jobs) == 0 {
		return nil, false
	}

	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, true
}

func (q *jobQueue) stop() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.stopped = true
	q.cond.Broadcast()
}
