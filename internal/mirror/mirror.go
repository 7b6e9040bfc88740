package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"supportdesk.app/relay/common/id"
	"supportdesk.app/relay/common/logger"
	"supportdesk.app/relay/internal/channel"
	"supportdesk.app/relay/internal/metrics"
	"supportdesk.app/relay/internal/model"
	"supportdesk.app/relay/internal/realtime"
	"supportdesk.app/relay/internal/store"
)

// ResolveCallbackPrefix starts the callback data of the customer's "mark
// resolved" button: "resolve:<ticket_id>".
const ResolveCallbackPrefix = "resolve:"

const resolveButtonText = "Mark as resolved"

func ResolveCallbackData(ticketID int64) string {
	return ResolveCallbackPrefix + strconv.FormatInt(ticketID, 10)
}

// ParseResolveCallback reverses ResolveCallbackData.
func ParseResolveCallback(data string) (int64, bool) {
	if len(data) <= len(ResolveCallbackPrefix) || data[:len(ResolveCallbackPrefix)] != ResolveCallbackPrefix {
		return 0, false
	}
	ticketID, err := strconv.ParseInt(data[len(ResolveCallbackPrefix):], 10, 64)
	if err != nil || ticketID <= 0 {
		return 0, false
	}
	return ticketID, true
}

// CardPoster posts the summary card into a new thread.
type CardPoster interface {
	Post(ctx context.Context, ticket *model.Ticket) (string, error)
}

// Result describes a mirrored message.
type Result struct {
	// NativeID is the id of the mirror in the first target it reached; empty
	// when nothing was delivered.
	NativeID string
	// Entries are the message map entries written, one per target.
	Entries []model.MessageMapEntry
	// Ticket is the ticket as updated by mirroring (e.g. with a new thread).
	Ticket *model.Ticket
}

func (r *Result) Delivered() bool {
	return r.NativeID != ""
}

// Mirror copies messages between the customer's channels and the ticket's
// discussion thread, and keeps the linkage needed for replies and edits.
type Mirror struct {
	tickets  store.TicketStore
	messages store.MessageMapStore
	platform channel.Platform
	cards    CardPoster
	notifier realtime.Notifier

	threadMu    sync.Mutex
	threadLocks map[int64]*threadLock
}

// threadLock serializes thread creation per ticket. waiters counts holders
// and queued callers; the entry is dropped when it reaches zero.
type threadLock struct {
	mu      sync.Mutex
	waiters int
}

func New(
	tickets store.TicketStore,
	messages store.MessageMapStore,
	platform channel.Platform,
	cards CardPoster,
	notifier realtime.Notifier,
) *Mirror {
	return &Mirror{
		tickets:     tickets,
		messages:    messages,
		platform:    platform,
		cards:       cards,
		notifier:    notifier,
		threadLocks: make(map[int64]*threadLock),
	}
}

// Mirror delivers msg in direction. For CUSTOMER_TO_STAFF, origin is the
// customer channel the message arrived on. Only a failed Message Map write is
// returned as an error; delivery problems are logged and leave the result
// undelivered.
func (m *Mirror) Mirror(ctx context.Context, ticket *model.Ticket, direction model.Direction, origin model.Channel, msg model.InboundMessage) (*Result, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TicketID:  &ticket.ID,
		Component: "relay.mirror",
	})

	sc := logger.StartTicketSpan(ctx, "mirror."+strings.ToLower(string(direction)), ticket.ID,
		attribute.String("origin", string(origin)),
		attribute.String("content.kind", string(msg.Content.Kind)))
	defer sc.End()
	ctx = sc.Context()

	if msg.Content.Kind == model.ContentKindUnsupported || msg.Content.Kind == "" {
		slog.InfoContext(ctx, "dropping unsupported content", "direction", direction)
		metrics.MirroredMessages.WithLabelValues(string(direction), string(origin), string(model.ContentKindUnsupported), "dropped").Inc()
		return &Result{Ticket: ticket}, nil
	}

	switch direction {
	case model.DirectionCustomerToStaff:
		return m.toStaff(ctx, ticket, origin, msg)
	case model.DirectionStaffToCustomer:
		return m.toCustomer(ctx, ticket, msg)
	}
	return nil, fmt.Errorf("unknown direction %q", direction)
}

func (m *Mirror) toStaff(ctx context.Context, ticket *model.Ticket, origin model.Channel, msg model.InboundMessage) (*Result, error) {
	res := &Result{Ticket: ticket}
	ctx = logger.WithLogFields(ctx, logger.LogFields{Channel: logger.Ptr(string(origin))})

	entry := newEntry(ticket.ID, model.DirectionCustomerToStaff, origin, msg.Content)
	if origin == model.ChannelWeb {
		// The stored entry is the message on the web channel; its id is the
		// native id.
		if msg.NativeID == "" {
			entry.ID = id.New()
			msg.NativeID = id.String(entry.ID)
		} else if v, err := id.Parse(msg.NativeID); err == nil {
			entry.ID = v
		}
	}
	entry.CustomerMessageID = &msg.NativeID

	updated, err := m.ensureThread(ctx, ticket)
	if err != nil {
		slog.WarnContext(ctx, "failed to open discussion thread", "error", err)
	} else {
		res.Ticket = updated
		ticket = updated

		out := channel.Outgoing{Content: msg.Content}
		if msg.ReplyTo != "" {
			if prev, err := m.messages.FindByCustomerMessage(ctx, ticket.ID, origin, msg.ReplyTo); err == nil && prev.ThreadMessageID != nil {
				out.ReplyTo = *prev.ThreadMessageID
			}
		}

		sent, err := m.send(ctx, channel.Thread(*ticket.ThreadID), out, nil)
		if err != nil {
			slog.WarnContext(ctx, "failed to deliver message to thread", "error", err)
		} else {
			entry.ThreadMessageID = &sent
			res.NativeID = sent
		}
	}

	if !res.Delivered() && origin != model.ChannelWeb {
		m.count(model.DirectionCustomerToStaff, origin, msg.Content.Kind, "failed")
		return res, nil
	}

	// Web messages exist only here, so they are kept even when the thread
	// could not be reached.
	stored, err := m.messages.Create(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("recording mirrored message: %w", err)
	}
	res.Entries = append(res.Entries, *stored)

	outcome := "delivered"
	if !res.Delivered() {
		outcome = "failed"
	}
	m.count(model.DirectionCustomerToStaff, origin, msg.Content.Kind, outcome)
	return res, nil
}

func (m *Mirror) toCustomer(ctx context.Context, ticket *model.Ticket, msg model.InboundMessage) (*Result, error) {
	res := &Result{Ticket: ticket}

	var replies []model.MessageMapEntry
	if msg.ReplyTo != "" {
		replies, _ = m.messages.FindByThreadMessage(ctx, ticket.ID, msg.ReplyTo)
	}

	if ticket.HasPlatformUser() {
		pctx := logger.WithLogFields(ctx, logger.LogFields{Channel: logger.Ptr(string(model.ChannelPlatform))})
		out := channel.Outgoing{
			Content: msg.Content,
			ReplyTo: counterpart(replies, model.ChannelPlatform),
		}

		var firstButtons [][]channel.Button
		if msg.Content.Kind == model.ContentKindText {
			firstButtons = resolveButtons(ticket.ID)
		}

		sent, err := m.send(pctx, channel.User(*ticket.PlatformUserID), out, firstButtons)
		if err != nil {
			slog.WarnContext(pctx, "failed to deliver staff message to customer", "error", err)
			m.count(model.DirectionStaffToCustomer, model.ChannelPlatform, msg.Content.Kind, "failed")
			m.deliveryNotice(pctx, ticket, msg.NativeID, err)
		} else {
			entry := newEntry(ticket.ID, model.DirectionStaffToCustomer, model.ChannelPlatform, msg.Content)
			entry.CustomerMessageID = &sent
			entry.ThreadMessageID = &msg.NativeID
			stored, err := m.messages.Create(pctx, entry)
			if err != nil {
				return nil, fmt.Errorf("recording mirrored message: %w", err)
			}
			res.Entries = append(res.Entries, *stored)
			res.NativeID = sent
			m.count(model.DirectionStaffToCustomer, model.ChannelPlatform, msg.Content.Kind, "delivered")
		}
	}

	if ticket.HasSession() {
		wctx := logger.WithLogFields(ctx, logger.LogFields{Channel: logger.Ptr(string(model.ChannelWeb))})
		entry := newEntry(ticket.ID, model.DirectionStaffToCustomer, model.ChannelWeb, msg.Content)
		entry.ID = id.New()
		entry.CustomerMessageID = logger.Ptr(id.String(entry.ID))
		entry.ThreadMessageID = &msg.NativeID

		stored, err := m.messages.Create(wctx, entry)
		if err != nil {
			return nil, fmt.Errorf("recording mirrored message: %w", err)
		}
		res.Entries = append(res.Entries, *stored)
		if res.NativeID == "" {
			res.NativeID = *stored.CustomerMessageID
		}

		if m.notifier != nil {
			m.notifier.NotifyTicket(wctx, ticket.ID, realtime.EventTyping, realtime.Typing{IsTyping: false})
			if !m.notifier.NotifyTicket(wctx, ticket.ID, realtime.EventMessage, realtime.MessageFromEntry(stored)) {
				slog.DebugContext(wctx, "no live socket, message kept for history")
			}
		}
		m.count(model.DirectionStaffToCustomer, model.ChannelWeb, msg.Content.Kind, "delivered")
	}

	return res, nil
}

// EditMirrored re-applies an edit to the counterparts of a mirrored message.
// It reports false when the message is unknown or any counterpart could not
// be updated.
func (m *Mirror) EditMirrored(ctx context.Context, ticket *model.Ticket, direction model.Direction, edit model.EditedMessage) bool {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TicketID:  &ticket.ID,
		Component: "relay.mirror",
	})

	switch direction {
	case model.DirectionCustomerToStaff:
		entry, err := m.messages.FindByCustomerMessage(ctx, ticket.ID, edit.Channel, edit.NativeID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				slog.WarnContext(ctx, "failed to look up edited message", "error", err)
			}
			return false
		}
		if err := m.messages.UpdateText(ctx, entry.ID, edit.Text); err != nil {
			slog.WarnContext(ctx, "failed to store edited text", "error", err)
		}
		if entry.ThreadMessageID == nil || !ticket.HasThread() {
			return false
		}
		return m.applyEdit(ctx, channel.Thread(*ticket.ThreadID), *entry.ThreadMessageID, channel.Edit{
			Text:    edit.Text,
			Caption: edit.Caption,
		})

	case model.DirectionStaffToCustomer:
		entries, err := m.messages.FindByThreadMessage(ctx, ticket.ID, edit.NativeID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				slog.WarnContext(ctx, "failed to look up edited message", "error", err)
			}
			return false
		}

		ok := true
		for i := range entries {
			entry := &entries[i]
			switch entry.Channel {
			case model.ChannelPlatform:
				if entry.CustomerMessageID == nil || !ticket.HasPlatformUser() {
					ok = false
					continue
				}
				e := channel.Edit{Text: edit.Text, Caption: edit.Caption}
				if entry.Kind == model.ContentKindText {
					e.Buttons = resolveButtons(ticket.ID)
				}
				if !m.applyEdit(ctx, channel.User(*ticket.PlatformUserID), *entry.CustomerMessageID, e) {
					ok = false
				}
				if err := m.messages.UpdateText(ctx, entry.ID, edit.Text); err != nil {
					slog.WarnContext(ctx, "failed to store edited text", "error", err)
				}

			case model.ChannelWeb:
				if err := m.messages.UpdateText(ctx, entry.ID, edit.Text); err != nil {
					slog.WarnContext(ctx, "failed to store edited text", "error", err)
					ok = false
					continue
				}
				entry.Text = edit.Text
				if m.notifier != nil {
					m.notifier.NotifyTicket(ctx, ticket.ID, realtime.EventMessage, realtime.MessageFromEntry(entry))
				}
			}
		}
		return ok
	}
	return false
}

func (m *Mirror) applyEdit(ctx context.Context, dst channel.Destination, messageID string, edit channel.Edit) bool {
	err := m.platform.Edit(ctx, dst, messageID, edit)
	if err != nil && !errors.Is(err, channel.ErrNotModified) {
		slog.WarnContext(ctx, "failed to edit mirrored message", "error", err, "native_id", messageID)
		return false
	}
	return true
}

// send delivers out, splitting long text into several messages. buttons, if
// any, are attached to the first unit only. The id of the first unit is
// returned.
func (m *Mirror) send(ctx context.Context, dst channel.Destination, out channel.Outgoing, buttons [][]channel.Button) (string, error) {
	if out.Content.Kind != model.ContentKindText {
		out.Buttons = buttons
		return m.platform.Send(ctx, dst, out)
	}

	var first string
	for i, unit := range splitText(out.Content.Text, channel.MaxTextLen) {
		msg := channel.Outgoing{Content: model.TextContent(unit), Silent: out.Silent}
		if i == 0 {
			msg.ReplyTo = out.ReplyTo
			msg.Buttons = buttons
		}
		sent, err := m.platform.Send(ctx, dst, msg)
		if err != nil {
			if i == 0 {
				return "", err
			}
			slog.WarnContext(ctx, "failed to deliver continuation of long message", "error", err, "unit", i)
			break
		}
		if i == 0 {
			first = sent
		}
	}
	return first, nil
}

// deliveryNotice tells staff in the thread that their message did not reach
// the customer.
func (m *Mirror) deliveryNotice(ctx context.Context, ticket *model.Ticket, threadMessageID string, cause error) {
	if !ticket.HasThread() {
		return
	}
	_, err := m.platform.Send(ctx, channel.Thread(*ticket.ThreadID), channel.Outgoing{
		Content: model.TextContent(fmt.Sprintf("Message not delivered to the customer on Telegram: %v", cause)),
		ReplyTo: threadMessageID,
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to post delivery notice", "error", err)
	}
}

// ensureThread opens the discussion thread of a ticket on first use and posts
// its summary card. Losing a race to another writer yields the stored thread.
func (m *Mirror) ensureThread(ctx context.Context, ticket *model.Ticket) (*model.Ticket, error) {
	if ticket.HasThread() {
		return ticket, nil
	}

	unlock := m.lockThread(ticket.ID)
	defer unlock()

	fresh, err := m.tickets.GetByID(ctx, ticket.ID)
	if err != nil {
		return nil, fmt.Errorf("reloading ticket: %w", err)
	}
	if fresh.HasThread() {
		return fresh, nil
	}

	threadID, err := m.platform.CreateThread(ctx, ThreadTitle(fresh))
	if err != nil {
		return nil, fmt.Errorf("creating thread: %w", err)
	}

	updated, err := m.tickets.SetThreadID(ctx, fresh.ID, threadID)
	if errors.Is(err, store.ErrConflict) {
		slog.WarnContext(ctx, "thread already set by another writer, new thread left unused", "thread_id", threadID)
		return m.tickets.GetByID(ctx, fresh.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("storing thread id: %w", err)
	}
	slog.InfoContext(ctx, "discussion thread opened", "thread_id", threadID)

	if m.cards != nil {
		if _, err := m.cards.Post(ctx, updated); err != nil {
			slog.WarnContext(ctx, "failed to post summary card", "error", err)
		}
	}
	return updated, nil
}

func (m *Mirror) lockThread(ticketID int64) func() {
	m.threadMu.Lock()
	l, ok := m.threadLocks[ticketID]
	if !ok {
		l = &threadLock{}
		m.threadLocks[ticketID] = l
	}
	l.waiters++
	m.threadMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.threadMu.Lock()
		if l.waiters--; l.waiters == 0 {
			delete(m.threadLocks, ticketID)
		}
		m.threadMu.Unlock()
	}
}

func (m *Mirror) count(direction model.Direction, ch model.Channel, kind model.ContentKind, outcome string) {
	metrics.MirroredMessages.WithLabelValues(string(direction), string(ch), string(kind), outcome).Inc()
}

// ThreadTitle names the discussion thread of a ticket.
func ThreadTitle(t *model.Ticket) string {
	return fmt.Sprintf("#%d %s", t.ID, t.DisplayName())
}

func newEntry(ticketID int64, direction model.Direction, ch model.Channel, content model.Content) *model.MessageMapEntry {
	entry := &model.MessageMapEntry{
		TicketID:  ticketID,
		Direction: direction,
		Channel:   ch,
		Kind:      content.Kind,
		Text:      content.Summary(),
	}
	if content.HasMedia() {
		entry.MediaRef = logger.Ptr(content.FileID)
		if content.Kind == model.ContentKindVoice {
			entry.Duration = logger.Ptr(content.Duration)
		}
	}
	return entry
}

func counterpart(entries []model.MessageMapEntry, ch model.Channel) string {
	for _, e := range entries {
		if e.Channel == ch && e.CustomerMessageID != nil {
			return *e.CustomerMessageID
		}
	}
	return ""
}

func resolveButtons(ticketID int64) [][]channel.Button {
	return [][]channel.Button{{{Text: resolveButtonText, Data: ResolveCallbackData(ticketID)}}}
}
