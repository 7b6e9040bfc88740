package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"supportdesk.app/relay/common/logger"
	"supportdesk.app/relay/internal/card"
	"supportdesk.app/relay/internal/channel"
	"supportdesk.app/relay/internal/lifecycle"
	"supportdesk.app/relay/internal/mirror"
	"supportdesk.app/relay/internal/model"
	"supportdesk.app/relay/internal/realtime"
	"supportdesk.app/relay/internal/store"
)

var (
	ErrTicketNotFound = errors.New("ticket not found")
	ErrForbidden      = errors.New("ticket belongs to another customer")
	ErrAlreadyLinked  = errors.New("platform account already has a ticket")
)

const (
	reopenNotice = "Customer wrote again, ticket reopened."

	closedByStaffText = "Your request has been closed. Write to us any time if you need more help."
)

// PlatformCustomer is the sender of a private bot message.
type PlatformCustomer struct {
	UserID   int64
	Username string
	Name     string
}

// StaffMember is the author of a message or action in the staff group.
type StaffMember struct {
	UserID int64
	Name   string
}

// Mirrorer copies messages between channels.
type Mirrorer interface {
	Mirror(ctx context.Context, ticket *model.Ticket, direction model.Direction, origin model.Channel, msg model.InboundMessage) (*mirror.Result, error)
	EditMirrored(ctx context.Context, ticket *model.Ticket, direction model.Direction, edit model.EditedMessage) bool
}

// StatusMachine applies lifecycle triggers.
type StatusMachine interface {
	Apply(ctx context.Context, ticketID int64, trigger lifecycle.Trigger) (*lifecycle.Result, error)
}

// Escalations is the part of the timer scheduler the relay drives directly.
type Escalations interface {
	ScheduleEscalations(ctx context.Context, ticket *model.Ticket) error
	CancelEscalations(ctx context.Context, ticketID int64)
}

type CardRefresher interface {
	Refresh(ctx context.Context, ticket *model.Ticket) error
}

type RelayService interface {
	HandleCustomerPlatformMessage(ctx context.Context, customer PlatformCustomer, msg model.InboundMessage) error
	HandleWebMessage(ctx context.Context, sessionID uuid.UUID, text, replyTo string) (int64, *model.MessageMapEntry, error)
	HandleWebTyping(ctx context.Context, ticketID int64, isTyping bool)
	HandleStaffMessage(ctx context.Context, threadID int64, staff StaffMember, msg model.InboundMessage) error
	HandleCustomerEdit(ctx context.Context, userID int64, edit model.EditedMessage) bool
	HandleStaffEdit(ctx context.Context, threadID int64, edit model.EditedMessage) bool

	ResolveByCustomer(ctx context.Context, userID, ticketID int64) (*lifecycle.Result, error)
	CloseFromWeb(ctx context.Context, sessionID uuid.UUID, ticketID int64, resolved bool, feedback string) error
	SetStatusManually(ctx context.Context, ticketID int64, status model.TicketStatus, staff StaffMember) (*lifecycle.Result, error)

	LinkPlatformUser(ctx context.Context, token string, customer PlatformCustomer) (*model.Ticket, error)
	DeepLink(sessionID uuid.UUID) string

	History(ctx context.Context, sessionID uuid.UUID, q store.HistoryQuery) (*model.MessagePage, error)
	SessionState(ctx context.Context, sessionID uuid.UUID, lastSeenID int64) (realtime.Connected, int64, error)
	OpenMedia(ctx context.Context, sessionID uuid.UUID, entryID int64) (*channel.File, error)
}

type RelayDeps struct {
	Stores      store.Provider
	TxRunner    TxRunner
	Machine     StatusMachine
	Mirror      Mirrorer
	Escalations Escalations
	Cards       CardRefresher
	Platform    channel.Platform
	Notifier    realtime.Notifier
	Signer      *Signer
	BotUsername string
}

type relayService struct {
	tickets     store.TicketStore
	messages    store.MessageMapStore
	txRunner    TxRunner
	machine     StatusMachine
	mirror      Mirrorer
	escalations Escalations
	cards       CardRefresher
	platform    channel.Platform
	notifier    realtime.Notifier
	signer      *Signer
	botUsername string
}

func NewRelayService(deps RelayDeps) RelayService {
	return &relayService{
		tickets:     deps.Stores.Tickets(),
		messages:    deps.Stores.MessageMap(),
		txRunner:    deps.TxRunner,
		machine:     deps.Machine,
		mirror:      deps.Mirror,
		escalations: deps.Escalations,
		cards:       deps.Cards,
		platform:    deps.Platform,
		notifier:    deps.Notifier,
		signer:      deps.Signer,
		botUsername: strings.TrimPrefix(deps.BotUsername, "@"),
	}
}

func (s *relayService) HandleCustomerPlatformMessage(ctx context.Context, customer PlatformCustomer, msg model.InboundMessage) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Channel:   logger.Ptr(string(model.ChannelPlatform)),
		Component: "relay.service",
	})

	ticket, err := s.platformTicket(ctx, customer)
	if err != nil {
		return err
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{TicketID: &ticket.ID})

	ticket, err = s.reopenIfClosed(ctx, ticket)
	if err != nil {
		return err
	}

	if msg.Content.Kind == model.ContentKindContact && msg.Content.Contact != nil &&
		msg.Content.Contact.UserID == customer.UserID && msg.Content.Contact.PhoneNumber != "" {
		ticket = s.capturePhone(ctx, ticket, msg.Content.Contact.PhoneNumber)
	}

	res, err := s.mirror.Mirror(ctx, ticket, model.DirectionCustomerToStaff, model.ChannelPlatform, msg)
	if err != nil {
		return fmt.Errorf("mirroring customer message: %w", err)
	}
	ticket = res.Ticket

	// Linked customers see their Telegram messages in the widget too.
	if ticket.HasSession() && s.notifier != nil {
		for i := range res.Entries {
			s.notifier.NotifyTicket(ctx, ticket.ID, realtime.EventMessage, realtime.MessageFromEntry(&res.Entries[i]))
		}
	}

	return s.customerReplied(ctx, ticket)
}

func (s *relayService) HandleWebMessage(ctx context.Context, sessionID uuid.UUID, text, replyTo string) (int64, *model.MessageMapEntry, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		SessionID: logger.Ptr(sessionID.String()),
		Channel:   logger.Ptr(string(model.ChannelWeb)),
		Component: "relay.service",
	})

	ticket, err := s.webTicket(ctx, sessionID)
	if err != nil {
		return 0, nil, err
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{TicketID: &ticket.ID})

	ticket, err = s.reopenIfClosed(ctx, ticket)
	if err != nil {
		return 0, nil, err
	}

	res, err := s.mirror.Mirror(ctx, ticket, model.DirectionCustomerToStaff, model.ChannelWeb, model.InboundMessage{
		ReplyTo: replyTo,
		Content: model.TextContent(text),
	})
	if err != nil {
		return 0, nil, fmt.Errorf("mirroring web message: %w", err)
	}

	if err := s.customerReplied(ctx, res.Ticket); err != nil {
		return 0, nil, err
	}

	if len(res.Entries) == 0 {
		return ticket.ID, nil, nil
	}
	return ticket.ID, &res.Entries[0], nil
}

func (s *relayService) HandleWebTyping(ctx context.Context, ticketID int64, isTyping bool) {
	if !isTyping {
		return
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil || !ticket.HasThread() {
		return
	}
	if err := s.platform.SendTyping(ctx, channel.Thread(*ticket.ThreadID)); err != nil {
		slog.DebugContext(ctx, "failed to forward typing", "error", err, "ticket_id", ticketID)
	}
}

func (s *relayService) HandleStaffMessage(ctx context.Context, threadID int64, staff StaffMember, msg model.InboundMessage) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ThreadID:  &threadID,
		Component: "relay.service",
	})

	ticket, err := s.tickets.GetByThreadID(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		slog.DebugContext(ctx, "ignoring staff message outside a ticket thread")
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading ticket by thread: %w", err)
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{TicketID: &ticket.ID})

	res, err := s.mirror.Mirror(ctx, ticket, model.DirectionStaffToCustomer, "", msg)
	if err != nil {
		return fmt.Errorf("mirroring staff message: %w", err)
	}
	if !res.Delivered() {
		return nil
	}

	s.escalations.CancelEscalations(ctx, ticket.ID)
	if _, err := s.machine.Apply(ctx, ticket.ID, lifecycle.StaffReply()); err != nil {
		return fmt.Errorf("applying staff reply: %w", err)
	}
	slog.InfoContext(ctx, "staff reply relayed", "staff_user_id", staff.UserID)
	return nil
}

func (s *relayService) HandleCustomerEdit(ctx context.Context, userID int64, edit model.EditedMessage) bool {
	ticket, err := s.tickets.GetByPlatformUserID(ctx, userID)
	if err != nil {
		return false
	}
	edit.Channel = model.ChannelPlatform
	return s.mirror.EditMirrored(ctx, ticket, model.DirectionCustomerToStaff, edit)
}

func (s *relayService) HandleStaffEdit(ctx context.Context, threadID int64, edit model.EditedMessage) bool {
	ticket, err := s.tickets.GetByThreadID(ctx, threadID)
	if err != nil {
		return false
	}
	return s.mirror.EditMirrored(ctx, ticket, model.DirectionStaffToCustomer, edit)
}

func (s *relayService) ResolveByCustomer(ctx context.Context, userID, ticketID int64) (*lifecycle.Result, error) {
	ticket, err := s.ticket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.PlatformUserID == nil || *ticket.PlatformUserID != userID {
		return nil, ErrForbidden
	}

	res, err := s.machine.Apply(ctx, ticketID, lifecycle.CustomerResolved(nil))
	if err != nil {
		return nil, fmt.Errorf("resolving ticket: %w", err)
	}
	if res.Changed {
		s.threadNotice(ctx, res.Ticket, "Customer marked the ticket as resolved.")
	}
	return res, nil
}

func (s *relayService) CloseFromWeb(ctx context.Context, sessionID uuid.UUID, ticketID int64, resolved bool, feedback string) error {
	ticket, err := s.ticket(ctx, ticketID)
	if err != nil {
		return err
	}
	if ticket.SessionID == nil || *ticket.SessionID != sessionID {
		return ErrForbidden
	}
	feedback = strings.TrimSpace(feedback)

	if !resolved {
		if feedback != "" {
			s.threadNotice(ctx, ticket, "Customer feedback: "+feedback)
		}
		return nil
	}

	var question *string
	if feedback != "" {
		question = &feedback
	}
	res, err := s.machine.Apply(ctx, ticketID, lifecycle.CustomerResolved(question))
	if err != nil {
		return fmt.Errorf("resolving ticket: %w", err)
	}
	if res.Changed {
		text := "Customer closed the conversation in the web chat."
		if feedback != "" {
			text += "\nFeedback: " + feedback
		}
		s.threadNotice(ctx, res.Ticket, text)
	}
	return nil
}

func (s *relayService) SetStatusManually(ctx context.Context, ticketID int64, status model.TicketStatus, staff StaffMember) (*lifecycle.Result, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TicketID:  &ticketID,
		Component: "relay.service",
	})

	res, err := s.machine.Apply(ctx, ticketID, lifecycle.Manual(status))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("setting status: %w", err)
	}
	if !res.Changed {
		return res, nil
	}

	name := staff.Name
	if name == "" {
		name = "Staff"
	}
	text := fmt.Sprintf("%s changed the status: %s → %s",
		name, card.StatusLabel(res.Previous), card.StatusLabel(res.Ticket.Status))
	if res.CardErr != nil {
		text += "\n(summary card could not be updated)"
	}
	if res.TimerErr != nil {
		text += "\n(timers could not be updated)"
	}
	s.threadNotice(ctx, res.Ticket, text)

	if res.Ticket.Status == model.TicketStatusClosed && res.Ticket.HasPlatformUser() {
		if _, err := s.platform.Send(ctx, channel.User(*res.Ticket.PlatformUserID), channel.Outgoing{
			Content: model.TextContent(closedByStaffText),
		}); err != nil {
			slog.WarnContext(ctx, "failed to notify customer about closing", "error", err)
		}
	}
	return res, nil
}

func (s *relayService) LinkPlatformUser(ctx context.Context, token string, customer PlatformCustomer) (*model.Ticket, error) {
	sessionID, err := s.signer.ParseLinkToken(token)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		SessionID: logger.Ptr(sessionID.String()),
		Component: "relay.service",
	})

	ticket, err := s.tickets.GetBySessionID(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session ticket: %w", err)
	}
	if ticket.PlatformUserID != nil && *ticket.PlatformUserID == customer.UserID {
		return ticket, nil
	}

	existing, err := s.tickets.GetByPlatformUserID(ctx, customer.UserID)
	if err == nil && existing.ID != ticket.ID {
		return nil, ErrAlreadyLinked
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking platform account: %w", err)
	}

	var username *string
	if customer.Username != "" {
		username = &customer.Username
	}
	linked, err := s.tickets.LinkPlatformUser(ctx, ticket.ID, customer.UserID, username)
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrAlreadyLinked
	}
	if err != nil {
		return nil, fmt.Errorf("linking platform account: %w", err)
	}
	slog.InfoContext(ctx, "platform account linked", "ticket_id", linked.ID)

	if s.cards != nil {
		if err := s.cards.Refresh(ctx, linked); err != nil {
			slog.WarnContext(ctx, "failed to refresh summary card", "error", err)
		}
	}
	handle := customer.Name
	if customer.Username != "" {
		handle = "@" + customer.Username
	}
	if s.notifier != nil {
		s.notifier.NotifySession(ctx, sessionID, realtime.EventChannelLinked, realtime.ChannelLinked{Telegram: handle})
	}
	s.threadNotice(ctx, linked, "Customer linked Telegram "+handle+".")
	return linked, nil
}

func (s *relayService) DeepLink(sessionID uuid.UUID) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", s.botUsername, s.signer.LinkToken(sessionID))
}

func (s *relayService) History(ctx context.Context, sessionID uuid.UUID, q store.HistoryQuery) (*model.MessagePage, error) {
	ticket, err := s.tickets.GetBySessionID(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return &model.MessagePage{Entries: []model.MessageMapEntry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session ticket: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > store.MaxHistoryPage {
		limit = store.MaxHistoryPage
	}
	q.Limit = limit + 1

	entries, err := s.messages.List(ctx, ticket.ID, q)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}

	page := &model.MessagePage{Entries: entries}
	if len(entries) > int(limit) {
		page.HasMore = true
		if q.After > 0 {
			page.Entries = entries[:limit]
		} else {
			page.Entries = entries[len(entries)-int(limit):]
		}
	}
	return page, nil
}

// SessionState returns the greeting for a connecting session and the ticket
// it is bound to, if any.
func (s *relayService) SessionState(ctx context.Context, sessionID uuid.UUID, lastSeenID int64) (realtime.Connected, int64, error) {
	state := realtime.Connected{SessionID: sessionID.String()}

	ticket, err := s.tickets.GetBySessionID(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return state, 0, nil
	}
	if err != nil {
		return state, 0, fmt.Errorf("loading session ticket: %w", err)
	}
	state.TicketStatus = ticket.Status

	unread, err := s.messages.CountStaffAfter(ctx, ticket.ID, model.ChannelWeb, lastSeenID)
	if err != nil {
		slog.WarnContext(ctx, "failed to count unread messages", "error", err)
	}
	state.UnreadCount = unread
	return state, ticket.ID, nil
}

// OpenMedia streams the media of a history entry that belongs to the
// session's ticket.
func (s *relayService) OpenMedia(ctx context.Context, sessionID uuid.UUID, entryID int64) (*channel.File, error) {
	ticket, err := s.tickets.GetBySessionID(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session ticket: %w", err)
	}

	entry, err := s.messages.GetByID(ctx, entryID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading entry: %w", err)
	}
	if entry.TicketID != ticket.ID {
		return nil, ErrForbidden
	}
	if entry.MediaRef == nil {
		return nil, ErrTicketNotFound
	}
	return s.platform.OpenFile(ctx, *entry.MediaRef)
}

func (s *relayService) ticket(ctx context.Context, ticketID int64) (*model.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading ticket: %w", err)
	}
	return ticket, nil
}

func (s *relayService) platformTicket(ctx context.Context, customer PlatformCustomer) (*model.Ticket, error) {
	ticket, err := s.tickets.GetByPlatformUserID(ctx, customer.UserID)
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading ticket: %w", err)
	}

	t := &model.Ticket{
		PlatformUserID: &customer.UserID,
		CustomerName:   customer.Name,
	}
	if customer.Username != "" {
		t.PlatformUsername = &customer.Username
	}
	ticket, err = s.openTicket(ctx, t)
	if errors.Is(err, store.ErrConflict) {
		return s.tickets.GetByPlatformUserID(ctx, customer.UserID)
	}
	return ticket, err
}

func (s *relayService) webTicket(ctx context.Context, sessionID uuid.UUID) (*model.Ticket, error) {
	ticket, err := s.tickets.GetBySessionID(ctx, sessionID)
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading ticket: %w", err)
	}

	v := VisitorFrom(ctx)
	t := &model.Ticket{SessionID: &sessionID}
	if v.PageURL != "" {
		t.PageURL = &v.PageURL
	}
	if v.IP != "" {
		t.IP = &v.IP
	}
	if v.City != "" {
		t.City = &v.City
	}
	ticket, err = s.openTicket(ctx, t)
	if errors.Is(err, store.ErrConflict) {
		return s.tickets.GetBySessionID(ctx, sessionID)
	}
	return ticket, err
}

// openTicket creates a ticket with its OPENED event and arms escalations.
func (s *relayService) openTicket(ctx context.Context, t *model.Ticket) (*model.Ticket, error) {
	var created *model.Ticket
	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		created, err = stores.Tickets().Create(ctx, t)
		if err != nil {
			return err
		}
		_, err = stores.TicketEvents().Create(ctx, &model.TicketEvent{
			TicketID: created.ID,
			Type:     model.TicketEventOpened,
			NewValue: logger.Ptr(string(created.Status)),
			Actor:    model.ActorCustomer,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("creating ticket: %w", err)
	}
	slog.InfoContext(ctx, "ticket opened", "ticket_id", created.ID)

	if err := s.escalations.ScheduleEscalations(ctx, created); err != nil {
		slog.WarnContext(ctx, "failed to schedule escalations", "error", err, "ticket_id", created.ID)
	}
	return created, nil
}

func (s *relayService) reopenIfClosed(ctx context.Context, ticket *model.Ticket) (*model.Ticket, error) {
	if ticket.Status != model.TicketStatusClosed {
		return ticket, nil
	}
	res, err := s.machine.Apply(ctx, ticket.ID, lifecycle.CustomerReopen())
	if err != nil {
		return nil, fmt.Errorf("reopening ticket: %w", err)
	}
	if res.Changed {
		s.threadNotice(ctx, res.Ticket, reopenNotice)
	}
	return res.Ticket, nil
}

func (s *relayService) customerReplied(ctx context.Context, ticket *model.Ticket) error {
	if _, err := s.machine.Apply(ctx, ticket.ID, lifecycle.CustomerReply()); err != nil {
		return fmt.Errorf("applying customer reply: %w", err)
	}
	return nil
}

func (s *relayService) capturePhone(ctx context.Context, ticket *model.Ticket, phone string) *model.Ticket {
	if ticket.Phone != nil && *ticket.Phone == phone {
		return ticket
	}
	old := ticket.Phone

	err := s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		if err := stores.Tickets().UpdatePhone(ctx, ticket.ID, phone); err != nil {
			return err
		}
		_, err := stores.TicketEvents().Create(ctx, &model.TicketEvent{
			TicketID: ticket.ID,
			Type:     model.TicketEventPhoneUpdated,
			OldValue: old,
			NewValue: &phone,
			Actor:    model.ActorCustomer,
		})
		return err
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to store phone number", "error", err)
		return ticket
	}

	updated := *ticket
	updated.Phone = &phone
	if s.cards != nil {
		if err := s.cards.Refresh(ctx, &updated); err != nil {
			slog.WarnContext(ctx, "failed to refresh summary card", "error", err)
		}
	}
	return &updated
}

func (s *relayService) threadNotice(ctx context.Context, ticket *model.Ticket, text string) {
	if !ticket.HasThread() {
		return
	}
	if _, err := s.platform.Send(ctx, channel.Thread(*ticket.ThreadID), channel.Outgoing{
		Content: model.TextContent(text),
		Silent:  true,
	}); err != nil {
		slog.WarnContext(ctx, "failed to post thread notice", "error", err)
	}
}
