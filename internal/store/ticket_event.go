package store

import (
	"context"

	"supportdesk.app/relay/common/id"
	"supportdesk.app/relay/core/db/sqlc"
	"supportdesk.app/relay/internal/model"
)

type ticketEventStore struct {
	queries *sqlc.Queries
}

func newTicketEventStore(queries *sqlc.Queries) TicketEventStore {
	return &ticketEventStore{queries: queries}
}

func (s *ticketEventStore) Create(ctx context.Context, event *model.TicketEvent) (*model.TicketEvent, error) {
	if event.ID == 0 {
		event.ID = id.New()
	}
	actor := event.Actor
	if actor == "" {
		actor = model.ActorSystem
	}

	row, err := s.queries.CreateTicketEvent(ctx, sqlc.CreateTicketEventParams{
		ID:       event.ID,
		TicketID: event.TicketID,
		Type:     string(event.Type),
		OldValue: event.OldValue,
		NewValue: event.NewValue,
		Question: event.Question,
		Actor:    string(actor),
	})
	if err != nil {
		return nil, err
	}
	return toTicketEventModel(row), nil
}

func (s *ticketEventStore) ListByTicket(ctx context.Context, ticketID int64) ([]model.TicketEvent, error) {
	rows, err := s.queries.ListTicketEvents(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	result := make([]model.TicketEvent, 0, len(rows))
	for _, row := range rows {
		result = append(result, *toTicketEventModel(row))
	}
	return result, nil
}

func toTicketEventModel(row sqlc.TicketEvent) *model.TicketEvent {
	return &model.TicketEvent{
		ID:        row.ID,
		TicketID:  row.TicketID,
		Type:      model.TicketEventType(row.Type),
		OldValue:  row.OldValue,
		NewValue:  row.NewValue,
		Question:  row.Question,
		Actor:     model.Actor(row.Actor),
		CreatedAt: row.CreatedAt.Time,
	}
}
