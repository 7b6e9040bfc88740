package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"supportdesk.app/relay/common/logger"
	"supportdesk.app/relay/internal/card"
	"supportdesk.app/relay/internal/lifecycle"
	"supportdesk.app/relay/internal/metrics"
	"supportdesk.app/relay/internal/mirror"
	"supportdesk.app/relay/internal/model"
	"supportdesk.app/relay/internal/service"
)

const (
	greetingText      = "Hi! Write your question here and our team will answer in this chat."
	linkedText        = "Done! Replies from our team will now also arrive here."
	linkInvalidText   = "This link is invalid or has expired. Please open a new one from the chat on our site."
	linkConflictText  = "This Telegram account already has its own conversation with us."
	linkFailedText    = "Something went wrong while linking. Please try again."
	unsupportedText   = "Sorry, this kind of message is not supported."
	resolvedAnswer    = "Thanks! The request is marked as resolved."
	alreadyClosed     = "This request is already closed."
	notYourButton     = "This button is not for you."
	actionFailed      = "Something went wrong, please try again."
	startCommand      = "/start"
	statusAnswerLabel = "Status: "
)

// Relay is what the dispatcher needs from the relay service.
type Relay interface {
	HandleCustomerPlatformMessage(ctx context.Context, customer service.PlatformCustomer, msg model.InboundMessage) error
	HandleStaffMessage(ctx context.Context, threadID int64, staff service.StaffMember, msg model.InboundMessage) error
	HandleCustomerEdit(ctx context.Context, userID int64, edit model.EditedMessage) bool
	HandleStaffEdit(ctx context.Context, threadID int64, edit model.EditedMessage) bool
	ResolveByCustomer(ctx context.Context, userID, ticketID int64) (*lifecycle.Result, error)
	SetStatusManually(ctx context.Context, ticketID int64, status model.TicketStatus, staff service.StaffMember) (*lifecycle.Result, error)
	LinkPlatformUser(ctx context.Context, token string, customer service.PlatformCustomer) (*model.Ticket, error)
}

// Dispatcher routes bot updates: private chats are customers, forum topics of
// the staff group are ticket threads.
type Dispatcher struct {
	relay   Relay
	api     API
	groupID int64
}

func NewDispatcher(relay Relay, api API, staffGroupID int64) *Dispatcher {
	return &Dispatcher{relay: relay, api: api, groupID: staffGroupID}
}

// Register makes d receive every update of b.
func (d *Dispatcher) Register(b *bot.Bot) {
	b.RegisterHandlerMatchFunc(func(*models.Update) bool { return true }, d.Handle)
}

// Handle is a bot.HandlerFunc.
func (d *Dispatcher) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	d.Dispatch(ctx, update)
}

func (d *Dispatcher) Dispatch(ctx context.Context, update *models.Update) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		UpdateID:  &update.ID,
		Component: "relay.telegram",
	})

	switch {
	case update.Message != nil:
		metrics.PlatformUpdates.WithLabelValues("message").Inc()
		d.onMessage(ctx, update.Message)
	case update.EditedMessage != nil:
		metrics.PlatformUpdates.WithLabelValues("edited_message").Inc()
		d.onEdit(ctx, update.EditedMessage)
	case update.CallbackQuery != nil:
		metrics.PlatformUpdates.WithLabelValues("callback_query").Inc()
		d.onCallback(ctx, update.CallbackQuery)
	default:
		metrics.PlatformUpdates.WithLabelValues("other").Inc()
	}
}

func (d *Dispatcher) onMessage(ctx context.Context, msg *models.Message) {
	if msg.From == nil || msg.From.IsBot {
		return
	}

	switch {
	case msg.Chat.Type == models.ChatTypePrivate:
		d.onCustomerMessage(ctx, msg)
	case d.isTicketThread(msg):
		threadID := int64(msg.MessageThreadID)
		ctx = logger.WithLogFields(ctx, logger.LogFields{ThreadID: &threadID})

		in := Inbound(msg)
		if in.Content.Kind == model.ContentKindUnsupported {
			// Topic service messages land here too.
			return
		}
		if err := d.relay.HandleStaffMessage(ctx, threadID, staffMember(msg.From), in); err != nil {
			slog.ErrorContext(ctx, "failed to relay staff message", "error", err)
		}
	}
}

func (d *Dispatcher) onCustomerMessage(ctx context.Context, msg *models.Message) {
	customer := platformCustomer(msg.From)

	if cmd, payload, ok := command(msg.Text); ok && cmd == startCommand {
		if payload == "" {
			d.reply(ctx, customer.UserID, greetingText)
			return
		}
		d.link(ctx, payload, customer)
		return
	}

	in := Inbound(msg)
	if in.Content.Kind == model.ContentKindUnsupported {
		slog.InfoContext(ctx, "dropping unsupported customer message", "user_id", customer.UserID)
		d.reply(ctx, customer.UserID, unsupportedText)
		return
	}
	if err := d.relay.HandleCustomerPlatformMessage(ctx, customer, in); err != nil {
		slog.ErrorContext(ctx, "failed to relay customer message", "error", err, "user_id", customer.UserID)
	}
}

func (d *Dispatcher) link(ctx context.Context, token string, customer service.PlatformCustomer) {
	_, err := d.relay.LinkPlatformUser(ctx, token, customer)
	switch {
	case err == nil:
		d.reply(ctx, customer.UserID, linkedText)
	case errors.Is(err, service.ErrInvalidToken), errors.Is(err, service.ErrTicketNotFound):
		d.reply(ctx, customer.UserID, linkInvalidText)
	case errors.Is(err, service.ErrAlreadyLinked):
		d.reply(ctx, customer.UserID, linkConflictText)
	default:
		slog.ErrorContext(ctx, "failed to link platform account", "error", err, "user_id", customer.UserID)
		d.reply(ctx, customer.UserID, linkFailedText)
	}
}

func (d *Dispatcher) onEdit(ctx context.Context, msg *models.Message) {
	if msg.From == nil || msg.From.IsBot {
		return
	}
	edit := Edited(msg)

	var ok bool
	switch {
	case msg.Chat.Type == models.ChatTypePrivate:
		ok = d.relay.HandleCustomerEdit(ctx, msg.From.ID, edit)
	case d.isTicketThread(msg):
		ok = d.relay.HandleStaffEdit(ctx, int64(msg.MessageThreadID), edit)
	default:
		return
	}
	if !ok {
		slog.DebugContext(ctx, "edit not propagated", "message_id", edit.NativeID)
	}
}

func (d *Dispatcher) onCallback(ctx context.Context, cq *models.CallbackQuery) {
	if ticketID, ok := mirror.ParseResolveCallback(cq.Data); ok {
		d.answer(ctx, cq.ID, d.resolve(ctx, cq.From.ID, ticketID))
		return
	}

	if ticketID, status, ok := card.ParseStatusCallback(cq.Data); ok {
		if cq.Message.Message == nil || cq.Message.Message.Chat.ID != d.groupID {
			d.answer(ctx, cq.ID, notYourButton)
			return
		}
		d.answer(ctx, cq.ID, d.setStatus(ctx, ticketID, status, staffMember(&cq.From)))
		return
	}

	slog.DebugContext(ctx, "unknown callback data", "data", logger.Truncate(cq.Data, 64))
	d.answer(ctx, cq.ID, "")
}

func (d *Dispatcher) resolve(ctx context.Context, userID, ticketID int64) string {
	res, err := d.relay.ResolveByCustomer(ctx, userID, ticketID)
	switch {
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrTicketNotFound):
		return notYourButton
	case err != nil:
		slog.ErrorContext(ctx, "failed to resolve ticket", "error", err, "ticket_id", ticketID)
		return actionFailed
	case !res.Changed:
		return alreadyClosed
	}
	return resolvedAnswer
}

func (d *Dispatcher) setStatus(ctx context.Context, ticketID int64, status model.TicketStatus, staff service.StaffMember) string {
	if _, err := d.relay.SetStatusManually(ctx, ticketID, status, staff); err != nil {
		slog.ErrorContext(ctx, "failed to change status", "error", err, "ticket_id", ticketID)
		return actionFailed
	}
	return statusAnswerLabel + card.StatusLabel(status)
}

func (d *Dispatcher) isTicketThread(msg *models.Message) bool {
	return msg.Chat.ID == d.groupID && msg.IsTopicMessage && msg.MessageThreadID != 0
}

func (d *Dispatcher) reply(ctx context.Context, userID int64, text string) {
	if _, err := d.api.SendMessage(ctx, &bot.SendMessageParams{ChatID: userID, Text: text}); err != nil {
		slog.WarnContext(ctx, "failed to reply to customer", "error", err, "user_id", userID)
	}
}

func (d *Dispatcher) answer(ctx context.Context, callbackID, text string) {
	if _, err := d.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
	}); err != nil {
		slog.DebugContext(ctx, "failed to answer callback", "error", err)
	}
}

// command splits "/cmd payload". Mentions like "/start@bot" are stripped.
func command(text string) (string, string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	cmd, payload, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd, strings.TrimSpace(payload), true
}

func platformCustomer(u *models.User) service.PlatformCustomer {
	return service.PlatformCustomer{
		UserID:   u.ID,
		Username: u.Username,
		Name:     senderName(u),
	}
}

func staffMember(u *models.User) service.StaffMember {
	name := senderName(u)
	if name == "" && u.Username != "" {
		name = "@" + u.Username
	}
	return service.StaffMember{UserID: u.ID, Name: name}
}
