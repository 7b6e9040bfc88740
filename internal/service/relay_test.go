package service_test

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
	"supportdesk.app/relay/internal/service"
	"supportdesk.app/relay/internal/store"
	"supportdesk.app/relay/internal/store/storetest"
	"supportdesk.app/relay/internal/timer"
)

func texts(sent []channeltest.Sent) []string {
	out := make([]string, 0, len(sent))
	for _, s := range sent {
		out = append(out, s.Msg.Content.Text)
	}
	return out
}

var _ = Describe("RelayService", func() {
	var (
		ctx      context.Context
		mem      *storetest.Memory
		platform *channeltest.Platform
		notifier *realtimetest.Notifier
		jobs     *memoryQueue
		signer   *service.Signer
		services *service.Services
		relay    service.RelayService

		ann = service.PlatformCustomer{UserID: 42, Username: "ann", Name: "Ann"}
		bob = service.StaffMember{UserID: 7, Name: "Bob"}
	)

	text := func(nativeID, body string) model.InboundMessage {
		return model.InboundMessage{NativeID: nativeID, Content: model.TextContent(body)}
	}

	annTicket := func() *model.Ticket {
		t, err := mem.Tickets().GetByPlatformUserID(ctx, ann.UserID)
		Expect(err).NotTo(HaveOccurred())
		return t
	}

	BeforeEach(func() {
		ctx = context.Background()
		mem = storetest.New()
		platform = channeltest.New()
		notifier = &realtimetest.Notifier{}
		jobs = newMemoryQueue()
		signer = service.NewSigner("test-secret")
		services = service.NewServices(service.ServicesConfig{
			Stores:   mem,
			TxRunner: mem,
			Platform: platform,
			Notifier: notifier,
			Queue:    jobs,
			Delays: timer.Delays{
				FirstReminder:  10 * time.Minute,
				SecondReminder: 30 * time.Minute,
				Escalation:     2 * time.Hour,
				AutoClose:      24 * time.Hour,
			},
			Signer:      signer,
			BotUsername: "@support_bot",
		})
		relay = services.Relay()
	})

	Describe("a platform customer says hello and staff replies", func() {
		BeforeEach(func() {
			Expect(relay.HandleCustomerPlatformMessage(ctx, ann, text("1", "hello"))).To(Succeed())
		})

		It("opens a ticket with a thread, a card and escalation timers", func() {
			t := annTicket()
			Expect(t.Status).To(Equal(model.TicketStatusNew))
			Expect(t.HasThread()).To(BeTrue())
			Expect(platform.Threads()).To(HaveLen(1))
			Expect(platform.Pins()).To(HaveLen(1))

			Expect(texts(platform.SentTo(channel.Thread(*t.ThreadID)))).To(ContainElement("hello"))

			for _, kind := range queue.EscalationKinds {
				Expect(jobs.has(kind, t.ID)).To(BeTrue(), string(kind))
			}

			events := mem.Events(t.ID)
			Expect(events).To(HaveLen(1))
			Expect(events[0].Type).To(Equal(model.TicketEventOpened))

			entries := mem.Entries(t.ID)
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Direction).To(Equal(model.DirectionCustomerToStaff))
			Expect(entries[0].Channel).To(Equal(model.ChannelPlatform))
		})

		It("reuses the ticket for the next message", func() {
			Expect(relay.HandleCustomerPlatformMessage(ctx, ann, text("2", "anyone?"))).To(Succeed())
			Expect(platform.Threads()).To(HaveLen(1))
			Expect(mem.Entries(annTicket().ID)).To(HaveLen(2))
		})

		It("delivers the staff reply, cancels escalations and moves to IN_PROGRESS", func() {
			t := annTicket()
			Expect(relay.HandleStaffMessage(ctx, *t.ThreadID, bob, text("900", "How can I help?"))).To(Succeed())

			toAnn := platform.SentTo(channel.User(ann.UserID))
			Expect(toAnn).To(HaveLen(1))
			Expect(toAnn[0].Msg.Content.Text).To(Equal("How can I help?"))
			Expect(toAnn[0].Msg.Buttons).NotTo(BeEmpty())

			for _, kind := range queue.EscalationKinds {
				Expect(jobs.has(kind, t.ID)).To(BeFalse(), string(kind))
			}
			Expect(annTicket().Status).To(Equal(model.TicketStatusInProgress))
		})

		It("keeps escalations and status when the staff reply cannot be delivered", func() {
			t := annTicket()
			dst := channel.User(ann.UserID)
			platform.SendErr = errors.New("blocked by user")
			platform.FailDst = &dst

			Expect(relay.HandleStaffMessage(ctx, *t.ThreadID, bob, text("900", "Hi"))).To(Succeed())

			Expect(jobs.has(queue.JobKindEscalationFirst, t.ID)).To(BeTrue())
			Expect(annTicket().Status).To(Equal(model.TicketStatusNew))
		})

		It("ignores messages in threads that belong to no ticket", func() {
			Expect(relay.HandleStaffMessage(ctx, 555, bob, text("901", "off topic"))).To(Succeed())
			Expect(platform.SentTo(channel.User(ann.UserID))).To(BeEmpty())
		})

		It("captures the customer's own phone number", func() {
			msg := model.InboundMessage{
				NativeID: "3",
				Content: model.Content{
					Kind:    model.ContentKindContact,
					Contact: &model.Contact{PhoneNumber: "+15550100", FirstName: "Ann", UserID: ann.UserID},
				},
			}
			Expect(relay.HandleCustomerPlatformMessage(ctx, ann, msg)).To(Succeed())

			t := annTicket()
			Expect(t.Phone).To(HaveValue(Equal("+15550100")))
			events := mem.Events(t.ID)
			Expect(events[len(events)-1].Type).To(Equal(model.TicketEventPhoneUpdated))
			Expect(platform.Edits()).NotTo(BeEmpty())
		})

		It("does not take a phone number from someone else's contact", func() {
			msg := model.InboundMessage{
				NativeID: "3",
				Content: model.Content{
					Kind:    model.ContentKindContact,
					Contact: &model.Contact{PhoneNumber: "+15550199", FirstName: "Eve", UserID: 99},
				},
			}
			Expect(relay.HandleCustomerPlatformMessage(ctx, ann, msg)).To(Succeed())
			Expect(annTicket().Phone).To(BeNil())
		})
	})

	Describe("waiting on the customer", func() {
		var ticketID int64

		BeforeEach(func() {
			Expect(relay.HandleCustomerPlatformMessage(ctx, ann, text("1", "hello"))).To(Succeed())
			t := annTicket()
			ticketID = t.ID
			Expect(relay.HandleStaffMessage(ctx, *t.ThreadID, bob, text("900", "Please send a screenshot"))).To(Succeed())

			res, err := relay.SetStatusManually(ctx, ticketID, model.TicketStatusWaitingClient, bob)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Changed).To(BeTrue())
		})

		It("schedules auto-close and tells the thread who changed the status", func() {
			Expect(jobs.has(queue.JobKindAutoClose, ticketID)).To(BeTrue())

			t := annTicket()
			Expect(texts(platform.SentTo(channel.Thread(*t.ThreadID)))).To(ContainElement(HavePrefix("Bob changed the status")))
		})

		It("cancels auto-close when the customer replies", func() {
			Expect(relay.HandleCustomerPlatformMessage(ctx, ann, text("2", "here it is"))).To(Succeed())

			Expect(annTicket().Status).To(Equal(model.TicketStatusInProgress))
			Expect(jobs.has(queue.JobKindAutoClose, ticketID)).To(BeFalse())
		})

		It("closes the ticket when the auto-close timer fires", func() {
			handlers := services.TimerHandlers(timer.Staff{}, 24*time.Hour)
			Expect(handlers[queue.JobKindAutoClose].Handle(ctx, jobs.job(queue.JobKindAutoClose, ticketID))).To(Succeed())

			t := annTicket()
			Expect(t.Status).To(Equal(model.TicketStatusClosed))
			Expect(platform.SentTo(channel.User(ann.UserID))).To(HaveLen(2))
			Expect(texts(platform.SentTo(channel.Thread(*t.ThreadID)))).To(ContainElement(ContainSubstring("24 h")))
		})

		It("reopens a closed ticket when the customer writes again", func() {
			_, err := relay.SetStatusManually(ctx, ticketID, model.TicketStatusClosed, bob)
			Expect(err).NotTo(HaveOccurred())
			Expect(texts(platform.SentTo(channel.User(ann.UserID)))).To(ContainElement(HavePrefix("Your request has been closed")))

			Expect(relay.HandleCustomerPlatformMessage(ctx, ann, text("5", "it broke again"))).To(Succeed())

			t := annTicket()
			Expect(t.ID).To(Equal(ticketID))
			Expect(t.Status).To(Equal(model.TicketStatusNew))
			Expect(jobs.has(queue.JobKindEscalationFirst, ticketID)).To(BeTrue())
			Expect(texts(platform.SentTo(channel.Thread(*t.ThreadID)))).To(ContainElement("Customer wrote again, ticket reopened."))

			var types []model.TicketEventType
			for _, e := range mem.Events(ticketID) {
				types = append(types, e.Type)
			}
			Expect(types).To(ContainElement(model.TicketEventReopened))
		})
	})

	Describe("SetStatusManually", func() {
		It("rejects unknown statuses", func() {
			_, err := relay.SetStatusManually(ctx, 1, model.TicketStatus("LOST"), bob)
			Expect(err).To(HaveOccurred())
		})

		It("maps a missing ticket", func() {
			_, err := relay.SetStatusManually(ctx, 12345, model.TicketStatusClosed, bob)
			Expect(err).To(MatchError(service.ErrTicketNotFound))
		})

		It("annotates the notice when the card could not be refreshed", func() {
			threadID := int64(300)
			card := "77"
			t := mem.PutTicket(&model.Ticket{Status: model.TicketStatusNew, ThreadID: &threadID, CardMessageID: &card})
			platform.EditErr = errors.New("edit failed")

			res, err := relay.SetStatusManually(ctx, t.ID, model.TicketStatusInProgress, bob)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.CardErr).To(HaveOccurred())
			Expect(texts(platform.SentTo(channel.Thread(threadID)))).To(ContainElement(ContainSubstring("summary card could not be updated")))
		})
	})

	Describe("ResolveByCustomer", func() {
		var t *model.Ticket

		BeforeEach(func() {
			Expect(relay.HandleCustomerPlatformMessage(ctx, ann, text("1", "hello"))).To(Succeed())
			t = annTicket()
		})

		It("closes the customer's own ticket", func() {
			res, err := relay.ResolveByCustomer(ctx, ann.UserID, t.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Changed).To(BeTrue())
			Expect(annTicket().Status).To(Equal(model.TicketStatusClosed))
			Expect(texts(platform.SentTo(channel.Thread(*t.ThreadID)))).To(ContainElement("Customer marked the ticket as resolved."))
		})

		It("refuses another user's button press", func() {
			_, err := relay.ResolveByCustomer(ctx, 99, t.ID)
			Expect(err).To(MatchError(service.ErrForbidden))
			Expect(annTicket().Status).To(Equal(model.TicketStatusNew))
		})

		It("is idempotent", func() {
			_, err := relay.ResolveByCustomer(ctx, ann.UserID, t.ID)
			Expect(err).NotTo(HaveOccurred())
			res, err := relay.ResolveByCustomer(ctx, ann.UserID, t.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Changed).To(BeFalse())
		})
	})

	Describe("web sessions", func() {
		var sessionID uuid.UUID

		BeforeEach(func() {
			sessionID = uuid.New()
		})

		send := func(body string) (int64, *model.MessageMapEntry) {
			vctx := service.WithVisitor(ctx, service.Visitor{PageURL: "https://shop.example/cart", IP: "203.0.113.9", City: "Lisbon"})
			ticketID, entry, err := relay.HandleWebMessage(vctx, sessionID, body, "")
			Expect(err).NotTo(HaveOccurred())
			return ticketID, entry
		}

		It("creates a ticket carrying the visitor details", func() {
			ticketID, entry := send("hi from the site")
			Expect(entry).NotTo(BeNil())
			Expect(entry.Channel).To(Equal(model.ChannelWeb))
			Expect(entry.Text).To(Equal("hi from the site"))

			t := mem.Ticket(ticketID)
			Expect(t.SessionID).To(HaveValue(Equal(sessionID)))
			Expect(t.PageURL).To(HaveValue(Equal("https://shop.example/cart")))
			Expect(t.City).To(HaveValue(Equal("Lisbon")))
			Expect(t.HasThread()).To(BeTrue())
		})

		It("keeps the message when the thread cannot be created", func() {
			platform.CreateThreadErr = errors.New("forum closed")
			ticketID, entry := send("are you there?")
			Expect(entry).NotTo(BeNil())
			Expect(mem.Entries(ticketID)).To(HaveLen(1))
		})

		It("pushes staff replies to the browser and counts them as unread", func() {
			ticketID, first := send("hi")
			t := mem.Ticket(ticketID)
			Expect(relay.HandleStaffMessage(ctx, *t.ThreadID, bob, text("900", "Hello!"))).To(Succeed())

			pushed := notifier.OfType(realtime.EventMessage)
			Expect(pushed).To(HaveLen(1))
			Expect(pushed[0].TicketID).To(Equal(ticketID))
			Expect(pushed[0].Payload.(realtime.Message).From).To(Equal(realtime.FromStaff))

			state, boundID, err := relay.SessionState(ctx, sessionID, first.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(boundID).To(Equal(ticketID))
			Expect(state.TicketStatus).To(Equal(model.TicketStatusInProgress))
			Expect(state.UnreadCount).To(BeEquivalentTo(1))
		})

		It("reports an empty state for a new session", func() {
			state, boundID, err := relay.SessionState(ctx, sessionID, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(boundID).To(BeZero())
			Expect(state.SessionID).To(Equal(sessionID.String()))
		})

		It("pages history newest first with a has-more flag", func() {
			send("one")
			send("two")
			send("three")

			page, err := relay.History(ctx, sessionID, store.HistoryQuery{Limit: 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.HasMore).To(BeTrue())
			Expect(page.Entries).To(HaveLen(2))
			Expect(page.Entries[0].Text).To(Equal("two"))
			Expect(page.Entries[1].Text).To(Equal("three"))

			older, err := relay.History(ctx, sessionID, store.HistoryQuery{Limit: 2, Before: page.Entries[0].ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(older.HasMore).To(BeFalse())
			Expect(older.Entries).To(HaveLen(1))
			Expect(older.Entries[0].Text).To(Equal("one"))
		})

		It("flags more history when a full-size page is requested", func() {
			ticketID, _ := send("first")
			for i := 0; i < 249; i++ {
				_, err := mem.MessageMap().Create(ctx, &model.MessageMapEntry{
					TicketID:  ticketID,
					Direction: model.DirectionCustomerToStaff,
					Channel:   model.ChannelWeb,
					Text:      "more",
				})
				Expect(err).NotTo(HaveOccurred())
			}

			page, err := relay.History(ctx, sessionID, store.HistoryQuery{Limit: store.MaxHistoryPage})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Entries).To(HaveLen(store.MaxHistoryPage))
			Expect(page.HasMore).To(BeTrue())

			older, err := relay.History(ctx, sessionID, store.HistoryQuery{Limit: store.MaxHistoryPage, Before: page.Entries[0].ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(older.Entries).To(HaveLen(50))
			Expect(older.HasMore).To(BeFalse())
			Expect(older.Entries[0].Text).To(Equal("first"))
		})

		It("returns an empty history for an unknown session", func() {
			page, err := relay.History(ctx, uuid.New(), store.HistoryQuery{})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Entries).To(BeEmpty())
		})

		It("closes from the widget only for the owning session", func() {
			ticketID, _ := send("thanks, solved")

			Expect(relay.CloseFromWeb(ctx, uuid.New(), ticketID, true, "")).To(MatchError(service.ErrForbidden))
			Expect(relay.CloseFromWeb(ctx, sessionID, ticketID, true, "great help")).To(Succeed())

			Expect(mem.Ticket(ticketID).Status).To(Equal(model.TicketStatusClosed))
			events := mem.Events(ticketID)
			last := events[len(events)-1]
			Expect(last.Type).To(Equal(model.TicketEventClosed))
			Expect(last.Question).To(HaveValue(Equal("great help")))
		})

		It("forwards typing to the thread", func() {
			ticketID, _ := send("hi")
			relay.HandleWebTyping(ctx, ticketID, true)
			relay.HandleWebTyping(ctx, ticketID, false)
			Expect(platform.Typing()).To(HaveLen(1))
		})

		Describe("linking a platform account", func() {
			It("links the session ticket and tells the browser", func() {
				ticketID, _ := send("hi")
				token := signer.LinkToken(sessionID)

				linked, err := relay.LinkPlatformUser(ctx, token, ann)
				Expect(err).NotTo(HaveOccurred())
				Expect(linked.ID).To(Equal(ticketID))
				Expect(linked.PlatformUserID).To(HaveValue(Equal(ann.UserID)))

				pushed := notifier.OfType(realtime.EventChannelLinked)
				Expect(pushed).To(HaveLen(1))
				Expect(pushed[0].SessionID).To(Equal(sessionID))
				Expect(pushed[0].Payload).To(Equal(realtime.ChannelLinked{Telegram: "@ann"}))

				again, err := relay.LinkPlatformUser(ctx, token, ann)
				Expect(err).NotTo(HaveOccurred())
				Expect(again.ID).To(Equal(ticketID))
				Expect(notifier.OfType(realtime.EventChannelLinked)).To(HaveLen(1))
			})

			It("mirrors staff replies to both channels once linked", func() {
				ticketID, _ := send("hi")
				_, err := relay.LinkPlatformUser(ctx, signer.LinkToken(sessionID), ann)
				Expect(err).NotTo(HaveOccurred())

				t := mem.Ticket(ticketID)
				Expect(relay.HandleStaffMessage(ctx, *t.ThreadID, bob, text("900", "Both?"))).To(Succeed())
				Expect(platform.SentTo(channel.User(ann.UserID))).To(HaveLen(1))
				Expect(notifier.OfType(realtime.EventMessage)).To(HaveLen(1))
			})

			It("refuses an account that already has its own ticket", func() {
				Expect(relay.HandleCustomerPlatformMessage(ctx, ann, text("1", "hello"))).To(Succeed())
				send("hi")

				_, err := relay.LinkPlatformUser(ctx, signer.LinkToken(sessionID), ann)
				Expect(err).To(MatchError(service.ErrAlreadyLinked))
			})

			It("rejects forged tokens", func() {
				send("hi")
				forged := service.NewSigner("other").LinkToken(sessionID)
				_, err := relay.LinkPlatformUser(ctx, forged, ann)
				Expect(err).To(MatchError(service.ErrInvalidToken))
			})

			It("reports a session without a ticket", func() {
				_, err := relay.LinkPlatformUser(ctx, signer.LinkToken(sessionID), ann)
				Expect(err).To(MatchError(service.ErrTicketNotFound))
			})
		})

		It("builds the deep link from the bot username", func() {
			Expect(relay.DeepLink(sessionID)).To(Equal("https://t.me/support_bot?start=" + signer.LinkToken(sessionID)))
		})
	})

	Describe("with a failing status machine", func() {
		It("surfaces the error of a customer reply", func() {
			machine := &mockMachine{
				applyFn: func(context.Context, int64, lifecycle.Trigger) (*lifecycle.Result, error) {
					return nil, errors.New("db down")
				},
			}
			relay = service.NewRelayService(service.RelayDeps{
				Stores:      mem,
				TxRunner:    mem,
				Machine:     machine,
				Mirror:      noopMirror{},
				Escalations: services.Scheduler(),
				Platform:    platform,
				Notifier:    notifier,
				Signer:      signer,
			})

			err := relay.HandleCustomerPlatformMessage(ctx, ann, text("1", "hello"))
			Expect(err).To(MatchError(ContainSubstring("db down")))
		})
	})
})
