package lifecycle_test

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"supportdesk.app/relay/internal/eventbus"
	"supportdesk.app/relay/internal/lifecycle"
	"supportdesk.app/relay/internal/model"
	"supportdesk.app/relay/internal/realtime"
	"supportdesk.app/relay/internal/realtime/realtimetest"
	"supportdesk.app/relay/internal/store"
	"supportdesk.app/relay/internal/store/storetest"
)

type timerCalls struct {
	mu                  sync.Mutex
	scheduleEscalations []int64
	cancelEscalations   []int64
	scheduleAutoClose   []int64
	cancelAutoClose     []int64

	scheduleErr error
}

func (t *timerCalls) ScheduleEscalations(_ context.Context, ticket *model.Ticket) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scheduleEscalations = append(t.scheduleEscalations, ticket.ID)
	return t.scheduleErr
}

func (t *timerCalls) CancelEscalations(_ context.Context, ticketID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelEscalations = append(t.cancelEscalations, ticketID)
}

func (t *timerCalls) ScheduleAutoClose(_ context.Context, ticket *model.Ticket) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scheduleAutoClose = append(t.scheduleAutoClose, ticket.ID)
	return t.scheduleErr
}

func (t *timerCalls) CancelAutoClose(_ context.Context, ticketID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelAutoClose = append(t.cancelAutoClose, ticketID)
}

type cardCalls struct {
	refreshed []model.TicketStatus
	err       error
}

func (c *cardCalls) Refresh(_ context.Context, t *model.Ticket) error {
	c.refreshed = append(c.refreshed, t.Status)
	return c.err
}

type publisherCalls struct {
	events []eventbus.TicketEvent
	err    error
}

func (p *publisherCalls) Publish(_ context.Context, e eventbus.TicketEvent) error {
	p.events = append(p.events, e)
	return p.err
}

func (p *publisherCalls) Close() error { return nil }

// staleTickets answers the first GetByID with an outdated status, as if a
// concurrent writer moved the ticket right after it was read.
type staleTickets struct {
	store.TicketStore
	stale model.TicketStatus
	calls int
}

func (s *staleTickets) GetByID(ctx context.Context, id int64) (*model.Ticket, error) {
	t, err := s.TicketStore.GetByID(ctx, id)
	s.calls++
	if err == nil && s.calls == 1 {
		t.Status = s.stale
	}
	return t, err
}

var _ = Describe("Machine", func() {
	var (
		ctx       context.Context
		mem       *storetest.Memory
		notifier  *realtimetest.Notifier
		cards     *cardCalls
		timers    *timerCalls
		publisher *publisherCalls
		machine   *lifecycle.Machine
		session   uuid.UUID
	)

	BeforeEach(func() {
		ctx = context.Background()
		mem = storetest.New()
		notifier = &realtimetest.Notifier{}
		cards = &cardCalls{}
		timers = &timerCalls{}
		publisher = &publisherCalls{}
		machine = lifecycle.NewMachine(mem.Tickets(), mem, notifier, cards, timers, publisher)
		session = uuid.New()
	})

	put := func(status model.TicketStatus) *model.Ticket {
		return mem.PutTicket(&model.Ticket{Status: status, SessionID: &session})
	}

	It("persists the transition with its audit event and projects it", func() {
		t := put(model.TicketStatusInProgress)

		res, err := machine.Apply(ctx, t.ID, lifecycle.Manual(model.TicketStatusWaitingClient))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Changed).To(BeTrue())
		Expect(res.Previous).To(Equal(model.TicketStatusInProgress))
		Expect(res.Ticket.Status).To(Equal(model.TicketStatusWaitingClient))
		Expect(mem.Ticket(t.ID).Status).To(Equal(model.TicketStatusWaitingClient))

		events := mem.Events(t.ID)
		Expect(events).To(HaveLen(1))
		Expect(events[0].Type).To(Equal(model.TicketEventStatusChanged))
		Expect(*events[0].OldValue).To(Equal("IN_PROGRESS"))
		Expect(*events[0].NewValue).To(Equal("WAITING_CLIENT"))
		Expect(events[0].Actor).To(Equal(model.ActorStaff))

		pushed := notifier.OfType(realtime.EventStatus)
		Expect(pushed).To(HaveLen(1))
		Expect(pushed[0].Payload).To(Equal(realtime.Status{Status: model.TicketStatusWaitingClient}))

		Expect(cards.refreshed).To(Equal([]model.TicketStatus{model.TicketStatusWaitingClient}))
		Expect(timers.scheduleAutoClose).To(Equal([]int64{t.ID}))
		Expect(publisher.events).To(HaveLen(1))
		Expect(publisher.events[0].To).To(Equal("WAITING_CLIENT"))
		Expect(publisher.events[0].Trigger).To(Equal("MANUAL"))
	})

	It("does nothing when the trigger does not apply", func() {
		t := put(model.TicketStatusClosed)

		res, err := machine.Apply(ctx, t.ID, lifecycle.CustomerResolved(nil))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Changed).To(BeFalse())
		Expect(res.Ticket.Status).To(Equal(model.TicketStatusClosed))
		Expect(mem.Events(t.ID)).To(BeEmpty())
		Expect(notifier.Sent()).To(BeEmpty())
		Expect(cards.refreshed).To(BeEmpty())
		Expect(publisher.events).To(BeEmpty())
	})

	It("stores customer feedback on close and stops the timers", func() {
		t := put(model.TicketStatusWaitingClient)
		feedback := "all good"

		res, err := machine.Apply(ctx, t.ID, lifecycle.CustomerResolved(&feedback))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Event.Type).To(Equal(model.TicketEventClosed))
		Expect(*res.Event.Question).To(Equal("all good"))
		Expect(timers.cancelAutoClose).To(Equal([]int64{t.ID}))
		Expect(timers.cancelEscalations).To(Equal([]int64{t.ID}))
	})

	It("re-arms escalations on reopen", func() {
		t := put(model.TicketStatusClosed)

		res, err := machine.Apply(ctx, t.ID, lifecycle.CustomerReopen())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Event.Type).To(Equal(model.TicketEventReopened))
		Expect(timers.scheduleEscalations).To(Equal([]int64{t.ID}))
	})

	It("reports projection failures without failing the transition", func() {
		cards.err = errors.New("telegram down")
		timers.scheduleErr = errors.New("redis down")
		publisher.err = errors.New("kafka down")
		t := put(model.TicketStatusInProgress)

		res, err := machine.Apply(ctx, t.ID, lifecycle.Manual(model.TicketStatusWaitingClient))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Changed).To(BeTrue())
		Expect(res.CardErr).To(MatchError(ContainSubstring("telegram down")))
		Expect(res.TimerErr).To(MatchError(ContainSubstring("redis down")))
		Expect(mem.Ticket(t.ID).Status).To(Equal(model.TicketStatusWaitingClient))
	})

	It("rolls back the status when the event cannot be recorded", func() {
		mem.CreateEventErr = errors.New("disk full")
		t := put(model.TicketStatusNew)

		_, err := machine.Apply(ctx, t.ID, lifecycle.StaffReply())
		Expect(err).To(MatchError(ContainSubstring("disk full")))
		Expect(mem.Ticket(t.ID).Status).To(Equal(model.TicketStatusNew))
		Expect(notifier.Sent()).To(BeEmpty())
	})

	It("propagates persistence failures", func() {
		mem.UpdateStatusErr = errors.New("connection reset")
		t := put(model.TicketStatusNew)

		_, err := machine.Apply(ctx, t.ID, lifecycle.StaffReply())
		Expect(err).To(MatchError(ContainSubstring("connection reset")))
	})

	It("returns not found for unknown tickets", func() {
		_, err := machine.Apply(ctx, 404, lifecycle.StaffReply())
		Expect(err).To(MatchError(store.ErrNotFound))
	})

	It("re-evaluates against the fresh status after a concurrent change", func() {
		t := put(model.TicketStatusInProgress)
		tickets := &staleTickets{TicketStore: mem.Tickets(), stale: model.TicketStatusNew}
		machine = lifecycle.NewMachine(tickets, mem, notifier, cards, timers, publisher)

		res, err := machine.Apply(ctx, t.ID, lifecycle.StaffReply())
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Changed).To(BeFalse())
		Expect(tickets.calls).To(Equal(2))
		Expect(mem.Events(t.ID)).To(BeEmpty())
	})

	It("skips the browser push for platform-only tickets", func() {
		userID := int64(55)
		t := mem.PutTicket(&model.Ticket{Status: model.TicketStatusNew, PlatformUserID: &userID})

		_, err := machine.Apply(ctx, t.ID, lifecycle.StaffReply())
		Expect(err).NotTo(HaveOccurred())
		Expect(notifier.Sent()).To(BeEmpty())
	})
})
