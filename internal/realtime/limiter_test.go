package realtime_test

import (
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"supportdesk.app/relay/internal/realtime"
)

var _ = Describe("Limiter", func() {
	var (
		limiter *realtime.Limiter
		session uuid.UUID
		start   time.Time
	)

	BeforeEach(func() {
		limiter = realtime.NewLimiter(20)
		session = uuid.New()
		start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		DeferCleanup(limiter.Shutdown)
	})

	allowed := func(at time.Time, attempts int) int {
		n := 0
		for i := 0; i < attempts; i++ {
			if limiter.AllowAt(session, at) {
				n++
			}
		}
		return n
	}

	It("lets half the budget through at once", func() {
		Expect(allowed(start, 30)).To(Equal(10))
	})

	It("never allows more than the budget within a minute", func() {
		total := allowed(start, 30)
		for s := 1; s < 60; s++ {
			total += allowed(start.Add(time.Duration(s)*time.Second), 5)
		}
		Expect(total).To(BeNumerically("<=", 20))
		Expect(total).To(BeNumerically(">=", 18))
	})

	It("refills over the minute", func() {
		Expect(allowed(start, 10)).To(Equal(10))
		Expect(allowed(start.Add(time.Second), 1)).To(BeZero())
		Expect(allowed(start.Add(6*time.Second+time.Millisecond), 1)).To(Equal(1))
	})

	It("keeps sessions apart", func() {
		Expect(allowed(start, 10)).To(Equal(10))
		Expect(limiter.AllowAt(uuid.New(), start)).To(BeTrue())
	})
})
