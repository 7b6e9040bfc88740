package store

import (
	"supportdesk.app/relay/core/db/sqlc"
)

type Stores struct {
	queries *sqlc.Queries
}

func NewStores(queries *sqlc.Queries) *Stores {
	return &Stores{queries: queries}
}

func (s *Stores) Tickets() TicketStore {
	return newTicketStore(s.queries)
}

func (s *Stores) MessageMap() MessageMapStore {
	return newMessageMapStore(s.queries)
}

func (s *Stores) TicketEvents() TicketEventStore {
	return newTicketEventStore(s.queries)
}

// Provider exposes the stores bound to one connection or transaction.
type Provider interface {
	Tickets() TicketStore
	MessageMap() MessageMapStore
	TicketEvents() TicketEventStore
}

var _ Provider = (*Stores)(nil)
