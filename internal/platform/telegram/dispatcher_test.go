package telegram_test

import (
	"context"
	"errors"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"supportdesk.app/relay/internal/lifecycle"
	"supportdesk.app/relay/internal/model"
	"supportdesk.app/relay/internal/platform/telegram"
	"supportdesk.app/relay/internal/service"
)

var _ = Describe("Dispatcher", func() {
	const groupID = int64(-100500)

	var (
		ctx        context.Context
		api        *fakeAPI
		relay      *mockRelay
		dispatcher *telegram.Dispatcher
		ann        *models.User
		bob        *models.User
	)

	private := func(text string) *models.Update {
		return &models.Update{ID: 1, Message: &models.Message{
			ID:   10,
			From: ann,
			Chat: models.Chat{ID: ann.ID, Type: models.ChatTypePrivate},
			Text: text,
		}}
	}

	inThread := func(threadID int, text string) *models.Update {
		return &models.Update{ID: 2, Message: &models.Message{
			ID:              20,
			From:            bob,
			Chat:            models.Chat{ID: groupID, Type: models.ChatTypeSupergroup},
			MessageThreadID: threadID,
			IsTopicMessage:  true,
			Text:            text,
		}}
	}

	callback := func(from *models.User, chatID int64, data string) *models.Update {
		return &models.Update{ID: 3, CallbackQuery: &models.CallbackQuery{
			ID:   "cb1",
			From: *from,
			Data: data,
			Message: models.MaybeInaccessibleMessage{
				Message: &models.Message{ID: 30, Chat: models.Chat{ID: chatID}},
			},
		}}
	}

	answers := func() []string {
		var out []string
		for _, p := range api.called("AnswerCallbackQuery") {
			out = append(out, p.(*bot.AnswerCallbackQueryParams).Text)
		}
		return out
	}

	replies := func() []string {
		var out []string
		for _, p := range api.called("SendMessage") {
			out = append(out, p.(*bot.SendMessageParams).Text)
		}
		return out
	}

	BeforeEach(func() {
		ctx = context.Background()
		api = &fakeAPI{}
		relay = &mockRelay{}
		dispatcher = telegram.NewDispatcher(relay, api, groupID)
		ann = &models.User{ID: 42, FirstName: "Ann", Username: "ann"}
		bob = &models.User{ID: 7, FirstName: "Bob"}
	})

	Describe("private messages", func() {
		It("relays customer messages", func() {
			var got service.PlatformCustomer
			var msg model.InboundMessage
			relay.customerMessageFn = func(_ context.Context, c service.PlatformCustomer, m model.InboundMessage) error {
				got, msg = c, m
				return nil
			}

			dispatcher.Dispatch(ctx, private("hello"))

			Expect(got).To(Equal(service.PlatformCustomer{UserID: 42, Username: "ann", Name: "Ann"}))
			Expect(msg.Content).To(Equal(model.TextContent("hello")))
			Expect(msg.NativeID).To(Equal("10"))
		})

		It("greets a bare /start without opening a ticket", func() {
			called := false
			relay.customerMessageFn = func(context.Context, service.PlatformCustomer, model.InboundMessage) error {
				called = true
				return nil
			}

			dispatcher.Dispatch(ctx, private("/start"))

			Expect(called).To(BeFalse())
			Expect(replies()).To(HaveLen(1))
		})

		It("links accounts from a /start token", func() {
			var token string
			relay.linkFn = func(_ context.Context, t string, _ service.PlatformCustomer) (*model.Ticket, error) {
				token = t
				return &model.Ticket{ID: 1}, nil
			}

			dispatcher.Dispatch(ctx, private("/start abc_123"))

			Expect(token).To(Equal("abc_123"))
			Expect(replies()).To(ConsistOf(ContainSubstring("Done")))
		})

		DescribeTable("explains link failures",
			func(err error, want string) {
				relay.linkFn = func(context.Context, string, service.PlatformCustomer) (*model.Ticket, error) {
					return nil, err
				}
				dispatcher.Dispatch(ctx, private("/start tok"))
				Expect(replies()).To(ConsistOf(ContainSubstring(want)))
			},
			Entry("forged token", service.ErrInvalidToken, "invalid"),
			Entry("unknown session", service.ErrTicketNotFound, "invalid"),
			Entry("taken account", service.ErrAlreadyLinked, "already has"),
			Entry("anything else", errors.New("db down"), "went wrong"),
		)

		It("drops unsupported content with a notice", func() {
			called := false
			relay.customerMessageFn = func(context.Context, service.PlatformCustomer, model.InboundMessage) error {
				called = true
				return nil
			}
			update := private("")
			update.Message.Poll = &models.Poll{ID: "p"}

			dispatcher.Dispatch(ctx, update)

			Expect(called).To(BeFalse())
			Expect(replies()).To(ConsistOf(ContainSubstring("not supported")))
		})

		It("ignores bots", func() {
			called := false
			relay.customerMessageFn = func(context.Context, service.PlatformCustomer, model.InboundMessage) error {
				called = true
				return nil
			}
			update := private("hi")
			update.Message.From.IsBot = true

			dispatcher.Dispatch(ctx, update)
			Expect(called).To(BeFalse())
		})
	})

	Describe("staff group", func() {
		It("relays topic messages as staff replies", func() {
			var threadID int64
			var staff service.StaffMember
			relay.staffMessageFn = func(_ context.Context, id int64, s service.StaffMember, _ model.InboundMessage) error {
				threadID, staff = id, s
				return nil
			}

			dispatcher.Dispatch(ctx, inThread(55, "on it"))

			Expect(threadID).To(BeEquivalentTo(55))
			Expect(staff).To(Equal(service.StaffMember{UserID: 7, Name: "Bob"}))
		})

		It("ignores the general topic and other chats", func() {
			called := false
			relay.staffMessageFn = func(context.Context, int64, service.StaffMember, model.InboundMessage) error {
				called = true
				return nil
			}

			general := inThread(0, "hi all")
			general.Message.IsTopicMessage = false
			dispatcher.Dispatch(ctx, general)

			other := inThread(55, "hi")
			other.Message.Chat.ID = -1
			dispatcher.Dispatch(ctx, other)

			Expect(called).To(BeFalse())
		})

		It("ignores topic service messages", func() {
			called := false
			relay.staffMessageFn = func(context.Context, int64, service.StaffMember, model.InboundMessage) error {
				called = true
				return nil
			}
			dispatcher.Dispatch(ctx, inThread(55, ""))
			Expect(called).To(BeFalse())
		})
	})

	Describe("edits", func() {
		It("routes customer edits", func() {
			var edit model.EditedMessage
			relay.customerEditFn = func(_ context.Context, userID int64, e model.EditedMessage) bool {
				Expect(userID).To(BeEquivalentTo(42))
				edit = e
				return true
			}
			update := private("fixed")
			update.EditedMessage, update.Message = update.Message, nil

			dispatcher.Dispatch(ctx, update)
			Expect(edit.Text).To(Equal("fixed"))
		})

		It("routes staff edits by thread", func() {
			var threadID int64
			relay.staffEditFn = func(_ context.Context, id int64, _ model.EditedMessage) bool {
				threadID = id
				return true
			}
			update := inThread(55, "typo fixed")
			update.EditedMessage, update.Message = update.Message, nil

			dispatcher.Dispatch(ctx, update)
			Expect(threadID).To(BeEquivalentTo(55))
		})
	})

	Describe("callbacks", func() {
		It("resolves from the customer's button", func() {
			relay.resolveFn = func(_ context.Context, userID, ticketID int64) (*lifecycle.Result, error) {
				Expect(userID).To(BeEquivalentTo(42))
				Expect(ticketID).To(BeEquivalentTo(1001))
				return &lifecycle.Result{Changed: true}, nil
			}

			dispatcher.Dispatch(ctx, callback(ann, ann.ID, "resolve:1001"))
			Expect(answers()).To(ConsistOf(ContainSubstring("resolved")))
		})

		It("tells the customer when the ticket is already closed", func() {
			relay.resolveFn = func(context.Context, int64, int64) (*lifecycle.Result, error) {
				return &lifecycle.Result{Changed: false}, nil
			}
			dispatcher.Dispatch(ctx, callback(ann, ann.ID, "resolve:1001"))
			Expect(answers()).To(ConsistOf(ContainSubstring("already closed")))
		})

		It("refuses someone else's resolve button", func() {
			relay.resolveFn = func(context.Context, int64, int64) (*lifecycle.Result, error) {
				return nil, service.ErrForbidden
			}
			dispatcher.Dispatch(ctx, callback(bob, bob.ID, "resolve:1001"))
			Expect(answers()).To(ConsistOf(ContainSubstring("not for you")))
		})

		It("changes status from the card in the staff group", func() {
			var status model.TicketStatus
			relay.setStatusFn = func(_ context.Context, _ int64, s model.TicketStatus, staff service.StaffMember) (*lifecycle.Result, error) {
				status = s
				Expect(staff.Name).To(Equal("Bob"))
				return &lifecycle.Result{Changed: true}, nil
			}

			dispatcher.Dispatch(ctx, callback(bob, groupID, "status:1001:WAITING_CLIENT"))

			Expect(status).To(Equal(model.TicketStatusWaitingClient))
			Expect(answers()).To(ConsistOf(HavePrefix("Status: ")))
		})

		It("ignores status buttons outside the staff group", func() {
			called := false
			relay.setStatusFn = func(context.Context, int64, model.TicketStatus, service.StaffMember) (*lifecycle.Result, error) {
				called = true
				return &lifecycle.Result{}, nil
			}
			dispatcher.Dispatch(ctx, callback(ann, ann.ID, "status:1001:CLOSED"))
			Expect(called).To(BeFalse())
		})

		It("answers unknown callbacks", func() {
			dispatcher.Dispatch(ctx, callback(ann, ann.ID, "weird"))
			Expect(api.called("AnswerCallbackQuery")).To(HaveLen(1))
		})
	})
})
