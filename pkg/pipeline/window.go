package pipeline

import (
	"time"

	"github.com/baltar/lamina/pkg/events"
)

// windowStage drives a reducer on a fixed cadence: input values feed the
// reducer, scheduler ticks flush its snapshot downstream. All reducer state
// is touched by the single stage goroutine, so emitted snapshots are never
// torn. A window that observed no values is skipped rather than emitted as
// a zero value: the mean of an empty window is undefined, and group
// snapshots must not grow keys that saw no data. When the input closes, a
// final snapshot is flushed, the periodic task cancels itself, and the
// stage closes downstream.
func windowStage(env Env, period time.Duration, newReducer func() reducer) Stage {
	return func(in events.EventChannel[events.Value]) events.EventChannel[events.Value] {
		out := make(events.EventChannel[events.Value])

		go func() {
			defer close(out)

			red := newReducer()

			ticks := make(chan struct{})
			done := make(chan struct{})
			defer close(done)

			env.Sched.InvokeRepeatedly(period, func(cancel func()) {
				select {
				case ticks <- struct{}{}:
				case <-done:
					cancel()
				}
			})

			for {
				select {
				case e, ok := <-in:
					if !ok {
						if v, emit := red.snapshot(); emit {
							out <- events.NewEvent(v)
						}
						return
					}
					red.add(e.GetContent())
				case <-ticks:
					if v, emit := red.snapshot(); emit {
						out <- events.NewEvent(v)
					}
				}
			}
		}()

		return out
	}
}
