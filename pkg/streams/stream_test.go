package streams_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/baltar/lamina/pkg/events"
	"github.com/baltar/lamina/pkg/streams"
)

var _ = Describe("Stream", func() {
	var s *streams.Stream[events.Value]

	BeforeEach(func() {
		s = streams.NewStream[events.Value]("test")
	})

	AfterEach(func() {
		s.Close()
	})

	Context("published events", func() {
		It("are received in publish order", func() {
			rec := s.Subscribe()
			defer rec.Close()

			for i := 1; i <= 4; i++ {
				Expect(s.Publish(events.NewEvent[events.Value](float64(i)))).To(Succeed())
			}

			for i := 1; i <= 4; i++ {
				e, err := rec.Next()
				Expect(err).To(BeNil())
				Expect(e.GetContent()).To(Equal(float64(i)))
			}
		})

		It("fan out to every receiver", func() {
			rec1 := s.Subscribe()
			rec2 := s.Subscribe()
			defer rec1.Close()
			defer rec2.Close()

			got1 := make(chan events.Value, 1)
			got2 := make(chan events.Value, 1)
			go func() {
				if e, err := rec1.Next(); err == nil {
					got1 <- e.GetContent()
				}
			}()
			go func() {
				if e, err := rec2.Next(); err == nil {
					got2 <- e.GetContent()
				}
			}()

			Expect(s.Publish(events.NewEvent[events.Value]("a"))).To(Succeed())

			Eventually(got1).Should(Receive(Equal(events.Value("a"))))
			Eventually(got2).Should(Receive(Equal(events.Value("a"))))
		})
	})

	Context("closing a receiver", func() {
		It("does not affect other receivers", func() {
			rec1 := s.Subscribe()
			rec2 := s.Subscribe()
			defer rec2.Close()

			rec1.Close()

			Expect(s.Publish(events.NewEvent[events.Value]("still here"))).To(Succeed())

			e, err := rec2.Next()
			Expect(err).To(BeNil())
			Expect(e.GetContent()).To(Equal("still here"))
		})

		It("signals end of stream on its channel", func() {
			rec := s.Subscribe()
			rec.Close()

			Eventually(rec.Events()).Should(BeClosed())
		})
	})

	Context("closing the stream", func() {
		It("rejects further publishes", func() {
			s.Close()

			err := s.Publish(events.NewEvent[events.Value]("late"))
			Expect(errors.Is(err, streams.ErrStreamClosed)).To(BeTrue())
		})

		It("ends all receivers", func() {
			rec := s.Subscribe()

			s.Close()

			_, err := rec.Next()
			Expect(errors.Is(err, streams.ErrStreamClosed)).To(BeTrue())
		})

		It("delivers queued events to an attached reader before ending", func() {
			rec := s.Subscribe()

			received := make(chan events.Value, 8)
			go func() {
				for e := range rec.Events() {
					received <- e.GetContent()
				}
				close(received)
			}()

			Expect(s.Publish(events.NewEvent[events.Value]("queued"))).To(Succeed())
			s.Close()

			Eventually(received).Should(Receive(Equal(events.Value("queued"))))
		})
	})
})

var _ = Describe("IdleReader", func() {
	It("emits nothing until closed", func() {
		r := streams.IdleReader[events.Value]()

		Consistently(r.Events(), "50ms").ShouldNot(Receive())

		r.Close()
		r.Close()
		Eventually(r.Events()).Should(BeClosed())
	})
})

var _ = Describe("MergeReaders", func() {
	It("interleaves all sources and ends when all sources end", func() {
		s1 := streams.NewStream[events.Value]("one")
		s2 := streams.NewStream[events.Value]("two")

		merged := streams.MergeReaders[events.Value](s1.Subscribe(), s2.Subscribe())
		defer merged.Close()

		var received []events.Value
		done := make(chan struct{})
		go func() {
			defer close(done)
			for e := range merged.Events() {
				received = append(received, e.GetContent())
			}
		}()

		Expect(s1.Publish(events.NewEvent[events.Value]("a"))).To(Succeed())
		Expect(s2.Publish(events.NewEvent[events.Value]("b"))).To(Succeed())

		s1.Close()
		s2.Close()

		Eventually(done).Should(BeClosed())
		Expect(received).To(ConsistOf(events.Value("a"), events.Value("b")))
	})

	It("closes every source when the merged reader closes", func() {
		s1 := streams.NewStream[events.Value]("one")
		defer s1.Close()

		rec := s1.Subscribe()
		merged := streams.MergeReaders[events.Value](rec)

		merged.Close()

		Eventually(rec.Events()).Should(BeClosed())
	})
})
