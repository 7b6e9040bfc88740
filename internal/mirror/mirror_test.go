package mirror_test

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"supportdesk.app/relay/internal/card"
	"supportdesk.app/relay/internal/channel"
	"supportdesk.app/relay/internal/channel/channeltest"
	"supportdesk.app/relay/internal/mirror"
	"supportdesk.app/relay/internal/model"
	"supportdesk.app/relay/internal/realtime"
	"supportdesk.app/relay/internal/realtime/realtimetest"
	"supportdesk.app/relay/internal/store/storetest"
)

var _ = Describe("Mirror", func() {
	var (
		ctx      context.Context
		mem      *storetest.Memory
		platform *channeltest.Platform
		notifier *realtimetest.Notifier
		m        *mirror.Mirror
		userID   int64
		session  uuid.UUID
	)

	BeforeEach(func() {
		ctx = context.Background()
		mem = storetest.New()
		platform = channeltest.New()
		notifier = &realtimetest.Notifier{}
		m = mirror.New(mem.Tickets(), mem.MessageMap(), platform, card.NewManager(platform, mem.Tickets()), notifier)
		userID = 31
		session = uuid.New()
	})

	text := func(nativeID, body string) model.InboundMessage {
		return model.InboundMessage{NativeID: nativeID, Content: model.TextContent(body)}
	}

	Describe("customer to staff", func() {
		It("opens the thread with a pinned card on first use", func() {
			t := mem.PutTicket(&model.Ticket{Status: model.TicketStatusNew, PlatformUserID: &userID, CustomerName: "Ann"})

			res, err := m.Mirror(ctx, t, model.DirectionCustomerToStaff, model.ChannelPlatform, text("11", "hello"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Delivered()).To(BeTrue())
			Expect(res.Ticket.HasThread()).To(BeTrue())

			Expect(platform.Threads()).To(HaveLen(1))
			Expect(platform.Threads()[0]).To(ContainSubstring("Ann"))
			Expect(platform.Pins()).To(HaveLen(1))
			stored := mem.Ticket(t.ID)
			Expect(stored.ThreadID).To(Equal(res.Ticket.ThreadID))
			Expect(stored.CardMessageID).NotTo(BeNil())

			thread := platform.SentTo(channel.Thread(*stored.ThreadID))
			Expect(thread).To(HaveLen(2)) // card + message
			Expect(thread[1].Msg.Content.Text).To(Equal("hello"))

			entries := mem.Entries(t.ID)
			Expect(entries).To(HaveLen(1))
			Expect(*entries[0].CustomerMessageID).To(Equal("11"))
			Expect(*entries[0].ThreadMessageID).To(Equal(res.NativeID))
		})

		It("reuses the thread and resolves replies through the map", func() {
			threadID := int64(500)
			t := mem.PutTicket(&model.Ticket{Status: model.TicketStatusNew, PlatformUserID: &userID, ThreadID: &threadID})

			first, err := m.Mirror(ctx, t, model.DirectionCustomerToStaff, model.ChannelPlatform, text("11", "hello"))
			Expect(err).NotTo(HaveOccurred())

			reply := text("12", "me again")
			reply.ReplyTo = "11"
			_, err = m.Mirror(ctx, t, model.DirectionCustomerToStaff, model.ChannelPlatform, reply)
			Expect(err).NotTo(HaveOccurred())

			Expect(platform.Threads()).To(BeEmpty())
			sent := platform.SentTo(channel.Thread(threadID))
			Expect(sent).To(HaveLen(2))
			Expect(sent[1].Msg.ReplyTo).To(Equal(first.NativeID))
		})

		It("opens a single thread when callers queue behind a failed attempt", func() {
			t := mem.PutTicket(&model.Ticket{Status: model.TicketStatusNew, PlatformUserID: &userID, CustomerName: "Ann"})

			entered := make(chan int, 3)
			release := map[int]chan struct{}{1: make(chan struct{}), 2: make(chan struct{})}
			platform.CreateThreadHook = func(call int) error {
				entered <- call
				if ch, ok := release[call]; ok {
					<-ch
				}
				if call == 1 {
					return errors.New("flood wait")
				}
				return nil
			}

			mirrorAsync := func(nativeID string) chan *mirror.Result {
				out := make(chan *mirror.Result, 1)
				stale := *t
				go func() {
					defer GinkgoRecover()
					res, err := m.Mirror(ctx, &stale, model.DirectionCustomerToStaff, model.ChannelPlatform, text(nativeID, "hello"))
					Expect(err).NotTo(HaveOccurred())
					out <- res
				}()
				return out
			}

			first := mirrorAsync("11")
			Eventually(entered).Should(Receive(Equal(1)))
			second := mirrorAsync("12")
			Consistently(entered, 50*time.Millisecond).ShouldNot(Receive())

			close(release[1])
			Eventually(first).Should(Receive())
			Eventually(entered).Should(Receive(Equal(2)))

			// arrives while the second caller is still creating the thread
			third := mirrorAsync("13")
			Consistently(entered, 50*time.Millisecond).ShouldNot(Receive())
			close(release[2])

			var r2, r3 *mirror.Result
			Eventually(second).Should(Receive(&r2))
			Eventually(third).Should(Receive(&r3))
			Expect(platform.Threads()).To(HaveLen(1))
			Expect(r3.Ticket.ThreadID).NotTo(BeNil())
			Expect(*r3.Ticket.ThreadID).To(Equal(*r2.Ticket.ThreadID))
		})

		It("assigns web messages their stored id and keeps them when the thread is down", func() {
			platform.CreateThreadErr = errors.New("forum disabled")
			t := mem.PutTicket(&model.Ticket{Status: model.TicketStatusNew, SessionID: &session})

			res, err := m.Mirror(ctx, t, model.DirectionCustomerToStaff, model.ChannelWeb, text("", "hi from web"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Delivered()).To(BeFalse())
			Expect(res.Entries).To(HaveLen(1))

			e := res.Entries[0]
			Expect(*e.CustomerMessageID).To(Equal(realtime.MessageFromEntry(&e).ID))
			Expect(e.ThreadMessageID).To(BeNil())
		})

		It("drops unsupported content", func() {
			t := mem.PutTicket(&model.Ticket{Status: model.TicketStatusNew, PlatformUserID: &userID})

			res, err := m.Mirror(ctx, t, model.DirectionCustomerToStaff, model.ChannelPlatform, model.InboundMessage{
				NativeID: "13",
				Content:  model.Content{Kind: model.ContentKindUnsupported},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Delivered()).To(BeFalse())
			Expect(platform.Sent()).To(BeEmpty())
			Expect(mem.Entries(t.ID)).To(BeEmpty())
		})

		It("returns an error when the map write fails", func() {
			threadID := int64(500)
			t := mem.PutTicket(&model.Ticket{Status: model.TicketStatusNew, PlatformUserID: &userID, ThreadID: &threadID})
			mem.CreateEntryErr = errors.New("db down")

			_, err := m.Mirror(ctx, t, model.DirectionCustomerToStaff, model.ChannelPlatform, text("11", "hello"))
			Expect(err).To(MatchError(ContainSubstring("db down")))
		})
	})

	Describe("staff to customer", func() {
		var (
			threadID int64
			t        *model.Ticket
		)

		BeforeEach(func() {
			threadID = 500
			t = mem.PutTicket(&model.Ticket{
				Status:         model.TicketStatusInProgress,
				PlatformUserID: &userID,
				SessionID:      &session,
				ThreadID:       &threadID,
			})
		})

		It("delivers to both customer channels with one map entry each", func() {
			res, err := m.Mirror(ctx, t, model.DirectionStaffToCustomer, "", text("t1", "how can I help?"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Entries).To(HaveLen(2))

			dm := platform.SentTo(channel.User(userID))
			Expect(dm).To(HaveLen(1))
			Expect(dm[0].Msg.Buttons).To(HaveLen(1))
			Expect(dm[0].Msg.Buttons[0][0].Data).To(Equal(mirror.ResolveCallbackData(t.ID)))

			pushed := notifier.OfType(realtime.EventMessage)
			Expect(pushed).To(HaveLen(1))
			msg := pushed[0].Payload.(realtime.Message)
			Expect(msg.From).To(Equal(realtime.FromStaff))
			Expect(msg.Text).To(Equal("how can I help?"))
			Expect(notifier.OfType(realtime.EventTyping)).To(HaveLen(1))

			entries, err := mem.MessageMap().FindByThreadMessage(ctx, t.ID, "t1")
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))
		})

		It("puts the resolve button on the first unit of long text only", func() {
			long := strings.Repeat("word ", 1000)
			_, err := m.Mirror(ctx, t, model.DirectionStaffToCustomer, "", text("t2", long))
			Expect(err).NotTo(HaveOccurred())

			dm := platform.SentTo(channel.User(userID))
			Expect(len(dm)).To(BeNumerically(">", 1))
			Expect(dm[0].Msg.Buttons).NotTo(BeEmpty())
			for _, s := range dm[1:] {
				Expect(s.Msg.Buttons).To(BeEmpty())
			}
		})

		It("maps staff replies onto the customer's message", func() {
			_, err := m.Mirror(ctx, t, model.DirectionCustomerToStaff, model.ChannelPlatform, text("c1", "question"))
			Expect(err).NotTo(HaveOccurred())
			entry, err := mem.MessageMap().FindByCustomerMessage(ctx, t.ID, model.ChannelPlatform, "c1")
			Expect(err).NotTo(HaveOccurred())

			reply := text("t3", "answer")
			reply.ReplyTo = *entry.ThreadMessageID
			_, err = m.Mirror(ctx, t, model.DirectionStaffToCustomer, "", reply)
			Expect(err).NotTo(HaveOccurred())

			dm := platform.SentTo(channel.User(userID))
			Expect(dm[len(dm)-1].Msg.ReplyTo).To(Equal("c1"))
		})

		It("tells staff when the customer cannot be reached", func() {
			dst := channel.User(userID)
			platform.SendErr = errors.New("bot was blocked by the user")
			platform.FailDst = &dst

			res, err := m.Mirror(ctx, t, model.DirectionStaffToCustomer, "", text("t4", "hello?"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Entries).To(HaveLen(1)) // web only

			notice := platform.SentTo(channel.Thread(threadID))
			Expect(notice).To(HaveLen(1))
			Expect(notice[0].Msg.Content.Text).To(ContainSubstring("not delivered"))
			Expect(notice[0].Msg.ReplyTo).To(Equal("t4"))
		})
	})

	Describe("EditMirrored", func() {
		var (
			threadID int64
			t        *model.Ticket
		)

		BeforeEach(func() {
			threadID = 500
			t = mem.PutTicket(&model.Ticket{
				Status:         model.TicketStatusInProgress,
				PlatformUserID: &userID,
				SessionID:      &session,
				ThreadID:       &threadID,
			})
		})

		It("reports unknown messages", func() {
			Expect(m.EditMirrored(ctx, t, model.DirectionCustomerToStaff, model.EditedMessage{
				NativeID: "nope", Channel: model.ChannelPlatform, Text: "x",
			})).To(BeFalse())
		})

		It("edits the thread copy of a customer message", func() {
			res, err := m.Mirror(ctx, t, model.DirectionCustomerToStaff, model.ChannelPlatform, text("c1", "helo"))
			Expect(err).NotTo(HaveOccurred())

			Expect(m.EditMirrored(ctx, t, model.DirectionCustomerToStaff, model.EditedMessage{
				NativeID: "c1", Channel: model.ChannelPlatform, Text: "hello",
			})).To(BeTrue())

			edits := platform.Edits()
			Expect(edits).To(HaveLen(1))
			Expect(edits[0].MessageID).To(Equal(res.NativeID))
			Expect(edits[0].Edit.Text).To(Equal("hello"))
			Expect(mem.Entries(t.ID)[0].Text).To(Equal("hello"))
		})

		It("updates both customer copies of a staff message", func() {
			_, err := m.Mirror(ctx, t, model.DirectionStaffToCustomer, "", text("t1", "teh answer"))
			Expect(err).NotTo(HaveOccurred())

			Expect(m.EditMirrored(ctx, t, model.DirectionStaffToCustomer, model.EditedMessage{
				NativeID: "t1", Text: "the answer",
			})).To(BeTrue())

			edits := platform.Edits()
			Expect(edits).To(HaveLen(1))
			Expect(edits[0].Dst).To(Equal(channel.User(userID)))
			Expect(edits[0].Edit.Buttons).NotTo(BeEmpty())

			pushed := notifier.OfType(realtime.EventMessage)
			Expect(pushed).To(HaveLen(2))
			first := pushed[0].Payload.(realtime.Message)
			second := pushed[1].Payload.(realtime.Message)
			Expect(second.ID).To(Equal(first.ID))
			Expect(second.Text).To(Equal("the answer"))
		})

		It("reports remote edit failures", func() {
			_, err := m.Mirror(ctx, t, model.DirectionCustomerToStaff, model.ChannelPlatform, text("c1", "helo"))
			Expect(err).NotTo(HaveOccurred())
			platform.EditErr = errors.New("message to edit not found")

			Expect(m.EditMirrored(ctx, t, model.DirectionCustomerToStaff, model.EditedMessage{
				NativeID: "c1", Channel: model.ChannelPlatform, Text: "hello",
			})).To(BeFalse())
		})
	})
})

var _ = Describe("ParseResolveCallback", func() {
	It("round trips", func() {
		id, ok := mirror.ParseResolveCallback(mirror.ResolveCallbackData(77))
		Expect(ok).To(BeTrue())
		Expect(id).To(Equal(int64(77)))
	})

	It("rejects other data", func() {
		_, ok := mirror.ParseResolveCallback("status:1:NEW")
		Expect(ok).To(BeFalse())
		_, ok = mirror.ParseResolveCallback("resolve:")
		Expect(ok).To(BeFalse())
	})
})
