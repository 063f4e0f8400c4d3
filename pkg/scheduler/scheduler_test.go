package scheduler_test

import (
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/baltar/lamina/pkg/scheduler"
)

var _ = Describe("Scheduler", func() {
	var s *scheduler.Scheduler

	BeforeEach(func() {
		s = scheduler.New(4, zap.NewNop())
	})

	AfterEach(func() {
		s.Close()
	})

	Context("InvokeOnce", func() {
		It("runs the callback once", func() {
			var calls atomic.Int32

			s.InvokeOnce(5*time.Millisecond, func() {
				calls.Add(1)
			})

			Eventually(func() int32 { return calls.Load() }).Should(Equal(int32(1)))
			Consistently(func() int32 { return calls.Load() }, "100ms").Should(Equal(int32(1)))
		})

		It("runs immediately for a non-positive delay", func() {
			done := make(chan struct{})

			s.InvokeOnce(0, func() { close(done) })

			Eventually(done).Should(BeClosed())
		})

		It("waits at least the requested delay", func() {
			start := time.Now()
			fired := make(chan time.Duration, 1)

			s.InvokeOnce(50*time.Millisecond, func() {
				fired <- time.Since(start)
			})

			var elapsed time.Duration
			Eventually(fired).Should(Receive(&elapsed))
			Expect(elapsed).To(BeNumerically(">=", 50*time.Millisecond))
		})

		It("isolates a panicking callback from other work", func() {
			done := make(chan struct{})

			s.InvokeOnce(0, func() { panic("boom") })
			s.InvokeOnce(10*time.Millisecond, func() { close(done) })

			Eventually(done).Should(BeClosed())
		})
	})

	Context("InvokeRepeatedly", func() {
		It("fires until the callback cancels itself", func() {
			var calls atomic.Int32

			s.InvokeRepeatedly(10*time.Millisecond, func(cancel func()) {
				if calls.Add(1) >= 3 {
					cancel()
				}
			})

			Eventually(func() int32 { return calls.Load() }).Should(Equal(int32(3)))
			Consistently(func() int32 { return calls.Load() }, "100ms").Should(Equal(int32(3)))
		})

		It("never overlaps invocations of a slow callback", func() {
			var (
				running  atomic.Int32
				overlaps atomic.Int32
				calls    atomic.Int32
			)

			s.InvokeRepeatedly(5*time.Millisecond, func(cancel func()) {
				if running.Add(1) > 1 {
					overlaps.Add(1)
				}
				time.Sleep(20 * time.Millisecond) // longer than the period
				running.Add(-1)
				if calls.Add(1) >= 4 {
					cancel()
				}
			})

			Eventually(func() int32 { return calls.Load() }, "2s").Should(Equal(int32(4)))
			Expect(overlaps.Load()).To(Equal(int32(0)))
		})

		It("keeps its cadence without cumulative drift", func() {
			var (
				mutex sync.Mutex
				times []time.Time
			)

			s.InvokeRepeatedly(20*time.Millisecond, func(cancel func()) {
				mutex.Lock()
				times = append(times, time.Now())
				n := len(times)
				mutex.Unlock()
				if n >= 5 {
					cancel()
				}
			})

			Eventually(func() int {
				mutex.Lock()
				defer mutex.Unlock()
				return len(times)
			}, "2s").Should(Equal(5))

			mutex.Lock()
			defer mutex.Unlock()
			total := times[len(times)-1].Sub(times[0])
			// 4 intervals at 20ms each; drift correction keeps the total
			// close to the target even though each fire is slightly late
			Expect(total).To(BeNumerically(">=", 70*time.Millisecond))
			Expect(total).To(BeNumerically("<", 200*time.Millisecond))
		})

		It("keeps firing after a panicking invocation", func() {
			var calls atomic.Int32

			s.InvokeRepeatedly(10*time.Millisecond, func(cancel func()) {
				if calls.Add(1) >= 3 {
					cancel()
					return
				}
				panic("boom")
			})

			Eventually(func() int32 { return calls.Load() }).Should(Equal(int32(3)))
		})
	})
})
