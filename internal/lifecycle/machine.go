package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"supportdesk.app/relay/common/logger"
	"supportdesk.app/relay/internal/eventbus"
	"supportdesk.app/relay/internal/metrics"
	"supportdesk.app/relay/internal/model"
	"supportdesk.app/relay/internal/realtime"
	"supportdesk.app/relay/internal/store"
)

// TxRunner mirrors service.TxRunner - defined here to avoid import cycles.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores store.Provider) error) error
}

// Timers is the part of the timer scheduler the machine drives.
type Timers interface {
	ScheduleEscalations(ctx context.Context, ticket *model.Ticket) error
	CancelEscalations(ctx context.Context, ticketID int64)
	ScheduleAutoClose(ctx context.Context, ticket *model.Ticket) error
	CancelAutoClose(ctx context.Context, ticketID int64)
}

type CardRefresher interface {
	Refresh(ctx context.Context, ticket *model.Ticket) error
}

// Result describes an applied trigger. Projection failures (card, timers)
// never fail the transition; they are reported here so callers can tell staff.
type Result struct {
	Changed  bool
	Ticket   *model.Ticket
	Previous model.TicketStatus
	Event    *model.TicketEvent

	CardErr  error
	TimerErr error
}

type Machine struct {
	tickets   store.TicketStore
	txRunner  TxRunner
	notifier  realtime.Notifier
	cards     CardRefresher
	timers    Timers
	publisher eventbus.Publisher
}

func NewMachine(
	tickets store.TicketStore,
	txRunner TxRunner,
	notifier realtime.Notifier,
	cards CardRefresher,
	timers Timers,
	publisher eventbus.Publisher,
) *Machine {
	if publisher == nil {
		publisher = eventbus.NopPublisher{}
	}
	return &Machine{
		tickets:   tickets,
		txRunner:  txRunner,
		notifier:  notifier,
		cards:     cards,
		timers:    timers,
		publisher: publisher,
	}
}

// Apply evaluates trigger against the stored status and persists the
// transition, if any, together with its audit event. A concurrent change
// between read and write is retried once against the fresh status.
func (m *Machine) Apply(ctx context.Context, ticketID int64, trigger Trigger) (*Result, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TicketID:  &ticketID,
		Component: "relay.lifecycle",
	})

	sc := logger.StartTicketSpan(ctx, "ticket.transition", ticketID, attribute.String("trigger", string(trigger.Kind)))
	defer sc.End()
	ctx = sc.Context()

	var (
		res *Result
		err error
	)
	for attempt := 0; attempt < 2; attempt++ {
		var ticket *model.Ticket
		ticket, err = m.tickets.GetByID(ctx, ticketID)
		if err != nil {
			sc.RecordError(err)
			return nil, fmt.Errorf("loading ticket: %w", err)
		}

		res, err = m.transition(ctx, ticket, trigger)
		if !errors.Is(err, store.ErrConflict) {
			break
		}
		slog.DebugContext(ctx, "status changed concurrently, re-evaluating", "trigger", trigger.Kind)
	}
	if err != nil {
		sc.RecordError(err)
		return nil, err
	}
	if res.Changed {
		m.project(ctx, res, trigger)
	}
	return res, nil
}

func (m *Machine) transition(ctx context.Context, ticket *model.Ticket, trigger Trigger) (*Result, error) {
	decision, ok := Decide(ticket.Status, trigger)
	if !ok {
		return &Result{Ticket: ticket, Previous: ticket.Status}, nil
	}

	previous := ticket.Status
	var (
		updated *model.Ticket
		event   *model.TicketEvent
	)
	err := m.txRunner.WithTx(ctx, func(stores store.Provider) error {
		var err error
		updated, err = stores.Tickets().UpdateStatus(ctx, ticket.ID, previous, decision.Next)
		if err != nil {
			return err
		}

		event, err = stores.TicketEvents().Create(ctx, &model.TicketEvent{
			TicketID: ticket.ID,
			Type:     decision.Event,
			OldValue: logger.Ptr(string(previous)),
			NewValue: logger.Ptr(string(decision.Next)),
			Question: trigger.Question,
			Actor:    trigger.Actor,
		})
		if err != nil {
			return fmt.Errorf("recording %s event: %w", decision.Event, err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("updating status: %w", err)
	}

	slog.InfoContext(ctx, "ticket status changed",
		"from", previous,
		"to", decision.Next,
		"trigger", trigger.Kind,
		"actor", trigger.Actor)

	return &Result{
		Changed:  true,
		Ticket:   updated,
		Previous: previous,
		Event:    event,
	}, nil
}

// project runs the best-effort consequences of a committed transition.
func (m *Machine) project(ctx context.Context, res *Result, trigger Trigger) {
	t := res.Ticket
	metrics.StatusTransitions.WithLabelValues(string(res.Previous), string(t.Status), string(trigger.Kind)).Inc()

	if t.HasSession() && m.notifier != nil {
		m.notifier.NotifyTicket(ctx, t.ID, realtime.EventStatus, realtime.Status{Status: t.Status})
	}

	if m.cards != nil {
		if err := m.cards.Refresh(ctx, t); err != nil {
			res.CardErr = err
			slog.WarnContext(ctx, "failed to refresh summary card", "error", err)
		}
	}

	if m.timers != nil {
		res.TimerErr = m.manageTimers(ctx, res)
	}

	evt := eventbus.TicketEvent{
		Event:      string(res.Event.Type),
		TicketID:   t.ID,
		From:       string(res.Previous),
		To:         string(t.Status),
		Trigger:    string(trigger.Kind),
		Actor:      string(trigger.Actor),
		OccurredAt: time.Now(),
	}
	if !res.Event.CreatedAt.IsZero() {
		evt.OccurredAt = res.Event.CreatedAt
	}
	if err := m.publisher.Publish(ctx, evt); err != nil {
		slog.WarnContext(ctx, "failed to publish lifecycle event", "error", err)
	}
}

func (m *Machine) manageTimers(ctx context.Context, res *Result) error {
	t := res.Ticket
	var errs []error

	if res.Previous == model.TicketStatusWaitingClient && t.Status != model.TicketStatusWaitingClient {
		m.timers.CancelAutoClose(ctx, t.ID)
	}
	if t.Status == model.TicketStatusWaitingClient {
		if err := m.timers.ScheduleAutoClose(ctx, t); err != nil {
			slog.WarnContext(ctx, "failed to schedule auto-close", "error", err)
			errs = append(errs, err)
		}
	}
	if t.Status == model.TicketStatusClosed {
		m.timers.CancelEscalations(ctx, t.ID)
	}
	if res.Event.Type == model.TicketEventReopened {
		if err := m.timers.ScheduleEscalations(ctx, t); err != nil {
			slog.WarnContext(ctx, "failed to schedule escalations", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
