package timer_test

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"supportdesk.app/relay/internal/channel"
	"supportdesk.app/relay/internal/channel/channeltest"
	"supportdesk.app/relay/internal/lifecycle"
	"supportdesk.app/relay/internal/model"
	"supportdesk.app/relay/internal/queue"
	"supportdesk.app/relay/internal/realtime"
	"supportdesk.app/relay/internal/realtime/realtimetest"
	"supportdesk.app/relay/internal/store/storetest"
	"supportdesk.app/relay/internal/timer"
	"supportdesk.app/relay/internal/worker"
)

var _ = Describe("EscalationHandler", func() {
	var (
		ctx      context.Context
		mem      *storetest.Memory
		platform *channeltest.Platform
		handler  *timer.EscalationHandler
		threadID int64
		ticket   *model.Ticket
		job      queue.Job
	)

	BeforeEach(func() {
		ctx = context.Background()
		mem = storetest.New()
		platform = channeltest.New()
		handler = timer.NewEscalationHandler(mem.Tickets(), mem.MessageMap(), platform, timer.Staff{
			Mentions: "@alice @bob",
			UserIDs:  []int64{7, 8},
		})
		threadID = 900
		ticket = mem.PutTicket(&model.Ticket{Status: model.TicketStatusNew, ThreadID: &threadID, CustomerName: "Ann"})
		job = queue.Job{
			Kind:        queue.JobKindEscalationFirst,
			TicketID:    ticket.ID,
			ScheduledAt: time.Now().Add(-10 * time.Minute),
		}
	})

	It("tags staff in the thread", func() {
		Expect(handler.Handle(ctx, job)).To(Succeed())

		sent := platform.SentTo(channel.Thread(threadID))
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Msg.Content.Text).To(HavePrefix("@alice @bob Reminder:"))
		Expect(sent[0].Msg.Content.Text).To(ContainSubstring("10 min"))
		Expect(platform.SentTo(channel.User(7))).To(BeEmpty())
	})

	It("messages each staff member on the final level", func() {
		job.Kind = queue.JobKindEscalationFinal
		Expect(handler.Handle(ctx, job)).To(Succeed())

		Expect(platform.SentTo(channel.Thread(threadID))[0].Msg.Content.Text).To(ContainSubstring("Escalation:"))
		Expect(platform.SentTo(channel.User(7))).To(HaveLen(1))
		Expect(platform.SentTo(channel.User(8))).To(HaveLen(1))
	})

	It("does nothing once the ticket is closed", func() {
		mem.PutTicket(&model.Ticket{ID: ticket.ID, Status: model.TicketStatusClosed, ThreadID: &threadID})
		Expect(handler.Handle(ctx, job)).To(Succeed())
		Expect(platform.Sent()).To(BeEmpty())
	})

	It("does nothing when staff replied after the timer was armed", func() {
		ref := "m1"
		_, err := mem.MessageMap().Create(ctx, &model.MessageMapEntry{
			TicketID:        ticket.ID,
			Direction:       model.DirectionStaffToCustomer,
			Channel:         model.ChannelPlatform,
			ThreadMessageID: &ref,
			Kind:            model.ContentKindText,
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(handler.Handle(ctx, job)).To(Succeed())
		Expect(platform.Sent()).To(BeEmpty())
	})

	It("returns thread delivery failures for retry", func() {
		platform.SendErr = errors.New("flood wait")
		Expect(handler.Handle(ctx, job)).To(MatchError(ContainSubstring("flood wait")))
	})

	It("fails permanently for unknown tickets", func() {
		job.TicketID = 404
		Expect(handler.Handle(ctx, job)).To(MatchError(worker.ErrPermanent))
	})
})

var _ = Describe("AutoCloseHandler", func() {
	var (
		ctx      context.Context
		mem      *storetest.Memory
		platform *channeltest.Platform
		notifier *realtimetest.Notifier
		handler  *timer.AutoCloseHandler
		threadID int64
		userID   int64
		session  uuid.UUID
	)

	BeforeEach(func() {
		ctx = context.Background()
		mem = storetest.New()
		platform = channeltest.New()
		notifier = &realtimetest.Notifier{}
		machine := lifecycle.NewMachine(mem.Tickets(), mem, notifier, nil, nil, nil)
		handler = timer.NewAutoCloseHandler(machine, platform, 24*time.Hour)
		threadID = 900
		userID = 31
		session = uuid.New()
	})

	It("closes a ticket still waiting on the customer and tells both sides", func() {
		t := mem.PutTicket(&model.Ticket{
			Status:         model.TicketStatusWaitingClient,
			ThreadID:       &threadID,
			PlatformUserID: &userID,
			SessionID:      &session,
		})

		Expect(handler.Handle(ctx, queue.Job{Kind: queue.JobKindAutoClose, TicketID: t.ID})).To(Succeed())

		Expect(mem.Ticket(t.ID).Status).To(Equal(model.TicketStatusClosed))
		events := mem.Events(t.ID)
		Expect(events).To(HaveLen(1))
		Expect(events[0].Type).To(Equal(model.TicketEventClosed))
		Expect(events[0].Actor).To(Equal(model.ActorSystem))

		Expect(platform.SentTo(channel.User(userID))).To(HaveLen(1))
		thread := platform.SentTo(channel.Thread(threadID))
		Expect(thread).To(HaveLen(1))
		Expect(thread[0].Msg.Content.Text).To(ContainSubstring("24 h"))
		Expect(notifier.OfType(realtime.EventStatus)).To(HaveLen(1))
	})

	It("is a silent no-op when the customer already replied", func() {
		t := mem.PutTicket(&model.Ticket{Status: model.TicketStatusInProgress, ThreadID: &threadID})

		Expect(handler.Handle(ctx, queue.Job{Kind: queue.JobKindAutoClose, TicketID: t.ID})).To(Succeed())
		Expect(mem.Ticket(t.ID).Status).To(Equal(model.TicketStatusInProgress))
		Expect(platform.Sent()).To(BeEmpty())
	})

	It("keeps the close when notifying fails", func() {
		platform.SendErr = errors.New("blocked by user")
		t := mem.PutTicket(&model.Ticket{Status: model.TicketStatusWaitingClient, PlatformUserID: &userID})

		Expect(handler.Handle(ctx, queue.Job{Kind: queue.JobKindAutoClose, TicketID: t.ID})).To(Succeed())
		Expect(mem.Ticket(t.ID).Status).To(Equal(model.TicketStatusClosed))
	})

	It("fails permanently for unknown tickets", func() {
		err := handler.Handle(ctx, queue.Job{Kind: queue.JobKindAutoClose, TicketID: 404})
		Expect(err).To(MatchError(worker.ErrPermanent))
	})
})

var _ = Describe("Handlers", func() {
	It("covers every timer kind", func() {
		handlers := timer.Handlers(&timer.EscalationHandler{}, &timer.AutoCloseHandler{})
		for _, kind := range append(queue.EscalationKinds, queue.JobKindAutoClose) {
			Expect(handlers).To(HaveKey(kind))
		}
	})
})
