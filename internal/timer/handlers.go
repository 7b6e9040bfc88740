package timer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"supportdesk.app/relay/internal/channel"
	"supportdesk.app/relay/internal/lifecycle"
	"supportdesk.app/relay/internal/model"
	"supportdesk.app/relay/internal/queue"
	"supportdesk.app/relay/internal/store"
	"supportdesk.app/relay/internal/worker"
)

// Staff is who gets tagged and messaged by escalations.
type Staff struct {
	// Mentions is prepended to reminders, e.g. "@alice @bob".
	Mentions string
	// UserIDs receive a direct message on the final level.
	UserIDs []int64
}

// EscalationHandler reminds staff about tickets that have not been answered.
type EscalationHandler struct {
	tickets  store.TicketStore
	messages store.MessageMapStore
	platform channel.Platform
	staff    Staff
	now      func() time.Time
}

func NewEscalationHandler(tickets store.TicketStore, messages store.MessageMapStore, platform channel.Platform, staff Staff) *EscalationHandler {
	return &EscalationHandler{
		tickets:  tickets,
		messages: messages,
		platform: platform,
		staff:    staff,
		now:      time.Now,
	}
}

func (h *EscalationHandler) Handle(ctx context.Context, job queue.Job) error {
	ticket, err := loadTicket(ctx, h.tickets, job.TicketID)
	if err != nil {
		return err
	}

	if ticket.Status == model.TicketStatusClosed {
		slog.DebugContext(ctx, "escalation skipped: ticket closed")
		return nil
	}
	if !ticket.HasThread() {
		slog.DebugContext(ctx, "escalation skipped: ticket has no thread")
		return nil
	}

	replied, err := h.messages.ExistsStaffMessageSince(ctx, ticket.ID, job.ScheduledAt)
	if err != nil {
		return fmt.Errorf("checking staff replies: %w", err)
	}
	if replied {
		slog.DebugContext(ctx, "escalation skipped: staff already replied")
		return nil
	}

	waiting := formatWait(h.now().Sub(job.ScheduledAt))
	text := fmt.Sprintf("Reminder: ticket #%d from %s has been waiting for a reply for %s.",
		ticket.ID, ticket.DisplayName(), waiting)
	if job.Kind == queue.JobKindEscalationFinal {
		text = fmt.Sprintf("Escalation: ticket #%d from %s still has no reply after %s.",
			ticket.ID, ticket.DisplayName(), waiting)
	}
	if h.staff.Mentions != "" {
		text = h.staff.Mentions + " " + text
	}

	if _, err := h.platform.Send(ctx, channel.Thread(*ticket.ThreadID), channel.Outgoing{
		Content: model.TextContent(text),
	}); err != nil {
		return fmt.Errorf("posting reminder: %w", err)
	}
	slog.InfoContext(ctx, "escalation reminder posted", "level", job.Kind)

	if job.Kind == queue.JobKindEscalationFinal {
		h.notifyStaff(ctx, ticket, waiting)
	}
	return nil
}

// notifyStaff DMs each configured staff member. Failures are logged only:
// the thread reminder is already out and a retry would repeat it.
func (h *EscalationHandler) notifyStaff(ctx context.Context, ticket *model.Ticket, waiting string) {
	text := fmt.Sprintf("Ticket #%d from %s has been waiting for a reply for %s.",
		ticket.ID, ticket.DisplayName(), waiting)
	for _, userID := range h.staff.UserIDs {
		if _, err := h.platform.Send(ctx, channel.User(userID), channel.Outgoing{
			Content: model.TextContent(text),
		}); err != nil {
			slog.WarnContext(ctx, "failed to message staff member", "error", err, "staff_user_id", userID)
		}
	}
}

// Applier is the state machine as the auto-close handler drives it.
type Applier interface {
	Apply(ctx context.Context, ticketID int64, trigger lifecycle.Trigger) (*lifecycle.Result, error)
}

const autoCloseCustomerText = "We have closed this conversation because we did not hear back from you. " +
	"Just write to us again if you still need help."

// AutoCloseHandler closes tickets that waited on the customer for too long.
type AutoCloseHandler struct {
	machine  Applier
	platform channel.Platform
	after    time.Duration
}

func NewAutoCloseHandler(machine Applier, platform channel.Platform, after time.Duration) *AutoCloseHandler {
	return &AutoCloseHandler{machine: machine, platform: platform, after: after}
}

func (h *AutoCloseHandler) Handle(ctx context.Context, job queue.Job) error {
	res, err := h.machine.Apply(ctx, job.TicketID, lifecycle.AutoClose())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: ticket %d not found", worker.ErrPermanent, job.TicketID)
		}
		return fmt.Errorf("applying auto-close: %w", err)
	}
	if !res.Changed {
		slog.DebugContext(ctx, "auto-close skipped", "status", res.Ticket.Status)
		return nil
	}

	ticket := res.Ticket
	if ticket.HasPlatformUser() {
		if _, err := h.platform.Send(ctx, channel.User(*ticket.PlatformUserID), channel.Outgoing{
			Content: model.TextContent(autoCloseCustomerText),
		}); err != nil {
			slog.WarnContext(ctx, "failed to tell customer about auto-close", "error", err)
		}
	}
	if ticket.HasThread() {
		text := fmt.Sprintf("Ticket closed automatically: no reply from the customer for %s.", formatWait(h.after))
		if _, err := h.platform.Send(ctx, channel.Thread(*ticket.ThreadID), channel.Outgoing{
			Content: model.TextContent(text),
			Silent:  true,
		}); err != nil {
			slog.WarnContext(ctx, "failed to post auto-close notice", "error", err)
		}
	}
	slog.InfoContext(ctx, "ticket auto-closed")
	return nil
}

// Handlers maps every timer kind to its handler.
func Handlers(escalation *EscalationHandler, autoClose *AutoCloseHandler) map[queue.JobKind]worker.Handler {
	handlers := make(map[queue.JobKind]worker.Handler, len(queue.EscalationKinds)+1)
	for _, kind := range queue.EscalationKinds {
		handlers[kind] = escalation
	}
	handlers[queue.JobKindAutoClose] = autoClose
	return handlers
}

func loadTicket(ctx context.Context, tickets store.TicketStore, id int64) (*model.Ticket, error) {
	ticket, err := tickets.GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: ticket %d not found", worker.ErrPermanent, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading ticket: %w", err)
	}
	return ticket, nil
}

func formatWait(d time.Duration) string {
	if d < time.Minute {
		return "less than a minute"
	}
	d = d.Round(time.Minute)
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	switch {
	case hours == 0:
		return fmt.Sprintf("%d min", minutes)
	case minutes == 0:
		return fmt.Sprintf("%d h", hours)
	default:
		return fmt.Sprintf("%d h %d min", hours, minutes)
	}
}
