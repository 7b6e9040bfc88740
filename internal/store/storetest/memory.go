// Package storetest provides an in-memory implementation of the store
// interfaces for tests.
package storetest

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"supportdesk.app/relay/internal/model"
	"supportdesk.app/relay/internal/store"
)

// Memory holds tickets, message map entries and events. It implements
// store.Provider and a TxRunner whose transactions roll back on error.
type Memory struct {
	mu      sync.Mutex
	tickets map[int64]*model.Ticket
	entries []model.MessageMapEntry
	events  []model.TicketEvent
	nextID  int64

	// Now is the clock used for timestamps.
	Now func() time.Time

	// Failure injection, checked before the matching write.
	UpdateStatusErr error
	CreateEventErr  error
	CreateEntryErr  error
}

func New() *Memory {
	return &Memory{
		tickets: make(map[int64]*model.Ticket),
		nextID:  1000,
		Now:     time.Now,
	}
}

var _ store.Provider = (*Memory)(nil)

func (m *Memory) Tickets() store.TicketStore           { return &ticketStore{m} }
func (m *Memory) MessageMap() store.MessageMapStore    { return &messageMapStore{m} }
func (m *Memory) TicketEvents() store.TicketEventStore { return &ticketEventStore{m} }

// WithTx runs fn and restores the previous state when it fails.
func (m *Memory) WithTx(_ context.Context, fn func(stores store.Provider) error) error {
	m.mu.Lock()
	tickets := make(map[int64]*model.Ticket, len(m.tickets))
	for k, t := range m.tickets {
		tickets[k] = cloneTicket(t)
	}
	entries := slices.Clone(m.entries)
	events := slices.Clone(m.events)
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.tickets = tickets
		m.entries = entries
		m.events = events
		m.mu.Unlock()
		return err
	}
	return nil
}

// PutTicket stores t as is, bypassing Create defaults.
func (m *Memory) PutTicket(t *model.Ticket) *model.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == 0 {
		t.ID = m.id()
	}
	m.tickets[t.ID] = cloneTicket(t)
	return cloneTicket(t)
}

func (m *Memory) Ticket(id int64) *model.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tickets[id]; ok {
		return cloneTicket(t)
	}
	return nil
}

func (m *Memory) Entries(ticketID int64) []model.MessageMapEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.MessageMapEntry
	for _, e := range m.entries {
		if e.TicketID == ticketID {
			out = append(out, e)
		}
	}
	return out
}

func (m *Memory) Events(ticketID int64) []model.TicketEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TicketEvent
	for _, e := range m.events {
		if e.TicketID == ticketID {
			out = append(out, e)
		}
	}
	return out
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

type ticketStore struct{ m *Memory }

func (s *ticketStore) find(match func(t *model.Ticket) bool) (*model.Ticket, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, t := range s.m.tickets {
		if match(t) {
			return cloneTicket(t), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *ticketStore) GetByID(_ context.Context, id int64) (*model.Ticket, error) {
	return s.find(func(t *model.Ticket) bool { return t.ID == id })
}

func (s *ticketStore) GetByThreadID(_ context.Context, threadID int64) (*model.Ticket, error) {
	return s.find(func(t *model.Ticket) bool { return t.ThreadID != nil && *t.ThreadID == threadID })
}

func (s *ticketStore) GetBySessionID(_ context.Context, sessionID uuid.UUID) (*model.Ticket, error) {
	return s.find(func(t *model.Ticket) bool { return t.SessionID != nil && *t.SessionID == sessionID })
}

func (s *ticketStore) GetByPlatformUserID(_ context.Context, userID int64) (*model.Ticket, error) {
	return s.find(func(t *model.Ticket) bool { return t.PlatformUserID != nil && *t.PlatformUserID == userID })
}

func (s *ticketStore) Create(_ context.Context, ticket *model.Ticket) (*model.Ticket, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	for _, t := range s.m.tickets {
		if ticket.PlatformUserID != nil && t.PlatformUserID != nil && *t.PlatformUserID == *ticket.PlatformUserID {
			return nil, store.ErrConflict
		}
		if ticket.SessionID != nil && t.SessionID != nil && *t.SessionID == *ticket.SessionID {
			return nil, store.ErrConflict
		}
	}

	t := cloneTicket(ticket)
	if t.ID == 0 {
		t.ID = s.m.id()
	}
	if t.Status == "" {
		t.Status = model.TicketStatusNew
	}
	now := s.m.Now()
	t.CreatedAt, t.UpdatedAt, t.StatusChangedAt = now, now, now
	s.m.tickets[t.ID] = t
	return cloneTicket(t), nil
}

func (s *ticketStore) UpdateStatus(_ context.Context, id int64, current, next model.TicketStatus) (*model.Ticket, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.UpdateStatusErr != nil {
		return nil, s.m.UpdateStatusErr
	}
	t, ok := s.m.tickets[id]
	if !ok || t.Status != current {
		return nil, store.ErrConflict
	}
	t.Status = next
	t.StatusChangedAt = s.m.Now()
	t.UpdatedAt = t.StatusChangedAt
	return cloneTicket(t), nil
}

func (s *ticketStore) SetThreadID(_ context.Context, id int64, threadID int64) (*model.Ticket, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t, ok := s.m.tickets[id]
	if !ok || t.ThreadID != nil {
		return nil, store.ErrConflict
	}
	t.ThreadID = &threadID
	return cloneTicket(t), nil
}

func (s *ticketStore) SetCardMessageID(_ context.Context, id int64, cardMessageID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if t, ok := s.m.tickets[id]; ok {
		t.CardMessageID = &cardMessageID
	}
	return nil
}

func (s *ticketStore) UpdatePhone(_ context.Context, id int64, phone string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if t, ok := s.m.tickets[id]; ok {
		t.Phone = &phone
	}
	return nil
}

func (s *ticketStore) LinkPlatformUser(_ context.Context, id int64, userID int64, username *string) (*model.Ticket, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t, ok := s.m.tickets[id]
	if !ok {
		return nil, store.ErrConflict
	}
	if t.PlatformUserID != nil && *t.PlatformUserID != userID {
		return nil, store.ErrConflict
	}
	for _, other := range s.m.tickets {
		if other.ID != id && other.PlatformUserID != nil && *other.PlatformUserID == userID {
			return nil, store.ErrConflict
		}
	}
	t.PlatformUserID = &userID
	t.PlatformUsername = username
	return cloneTicket(t), nil
}

func (s *ticketStore) ListByStatus(_ context.Context, status model.TicketStatus, limit int32) ([]model.Ticket, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []model.Ticket
	for _, t := range s.m.tickets {
		if t.Status == status {
			out = append(out, *cloneTicket(t))
		}
	}
	slices.SortFunc(out, func(a, b model.Ticket) int {
		return cmp.Or(b.StatusChangedAt.Compare(a.StatusChangedAt), cmp.Compare(b.ID, a.ID))
	})
	if limit > 0 && len(out) > int(limit) {
		out = out[:limit]
	}
	return out, nil
}

type messageMapStore struct{ m *Memory }

func (s *messageMapStore) Create(_ context.Context, entry *model.MessageMapEntry) (*model.MessageMapEntry, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.CreateEntryErr != nil {
		return nil, s.m.CreateEntryErr
	}

	for _, e := range s.m.entries {
		if e.TicketID != entry.TicketID || e.Channel != entry.Channel {
			continue
		}
		if sameRef(e.CustomerMessageID, entry.CustomerMessageID) || sameRef(e.ThreadMessageID, entry.ThreadMessageID) {
			return nil, store.ErrConflict
		}
	}

	e := *entry
	if e.ID == 0 {
		e.ID = s.m.id()
	} else if e.ID > s.m.nextID {
		s.m.nextID = e.ID
	}
	e.CreatedAt = s.m.Now()
	s.m.entries = append(s.m.entries, e)
	slices.SortFunc(s.m.entries, func(a, b model.MessageMapEntry) int { return cmp.Compare(a.ID, b.ID) })
	return &e, nil
}

func (s *messageMapStore) GetByID(_ context.Context, id int64) (*model.MessageMapEntry, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, e := range s.m.entries {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *messageMapStore) FindByCustomerMessage(_ context.Context, ticketID int64, channel model.Channel, nativeID string) (*model.MessageMapEntry, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, e := range s.m.entries {
		if e.TicketID == ticketID && e.Channel == channel && e.CustomerMessageID != nil && *e.CustomerMessageID == nativeID {
			return &e, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *messageMapStore) FindByThreadMessage(_ context.Context, ticketID int64, nativeID string) ([]model.MessageMapEntry, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []model.MessageMapEntry
	for _, e := range s.m.entries {
		if e.TicketID == ticketID && e.ThreadMessageID != nil && *e.ThreadMessageID == nativeID {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil, store.ErrNotFound
	}
	return out, nil
}

func (s *messageMapStore) UpdateText(_ context.Context, id int64, text string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for i := range s.m.entries {
		if s.m.entries[i].ID == id {
			s.m.entries[i].Text = text
		}
	}
	return nil
}

func (s *messageMapStore) List(_ context.Context, ticketID int64, q store.HistoryQuery) ([]model.MessageMapEntry, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	limit := int(q.Limit)
	if limit <= 0 {
		limit = 50
	}
	limit = min(limit, store.MaxHistoryPage+1)

	var matched []model.MessageMapEntry
	for _, e := range s.m.entries {
		if e.TicketID != ticketID {
			continue
		}
		switch {
		case q.After > 0:
			if e.ID <= q.After {
				continue
			}
		case q.Before > 0:
			if e.ID >= q.Before {
				continue
			}
		}
		matched = append(matched, e)
	}

	if q.After > 0 {
		if len(matched) > limit {
			matched = matched[:limit]
		}
		return matched, nil
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

func (s *messageMapStore) CountStaffAfter(_ context.Context, ticketID int64, channel model.Channel, afterID int64) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for _, e := range s.m.entries {
		if e.TicketID == ticketID && e.Channel == channel && e.Direction == model.DirectionStaffToCustomer && e.ID > afterID {
			n++
		}
	}
	return n, nil
}

func (s *messageMapStore) ExistsStaffMessageSince(_ context.Context, ticketID int64, since time.Time) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, e := range s.m.entries {
		if e.TicketID == ticketID && e.Direction == model.DirectionStaffToCustomer && !e.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

type ticketEventStore struct{ m *Memory }

func (s *ticketEventStore) Create(_ context.Context, event *model.TicketEvent) (*model.TicketEvent, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.CreateEventErr != nil {
		return nil, s.m.CreateEventErr
	}
	e := *event
	e.ID = s.m.id()
	if e.Actor == "" {
		e.Actor = model.ActorSystem
	}
	e.CreatedAt = s.m.Now()
	s.m.events = append(s.m.events, e)
	return &e, nil
}

func (s *ticketEventStore) ListByTicket(_ context.Context, ticketID int64) ([]model.TicketEvent, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []model.TicketEvent
	for _, e := range s.m.events {
		if e.TicketID == ticketID {
			out = append(out, e)
		}
	}
	return out, nil
}

func sameRef(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

func cloneTicket(t *model.Ticket) *model.Ticket {
	c := *t
	return &c
}
