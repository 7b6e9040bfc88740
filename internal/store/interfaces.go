package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"supportdesk.app/relay/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a guarded update did not match any row because
// the stored state changed underneath the caller.
var ErrConflict = errors.New("conflict")

// TicketStore defines the contract for ticket data access
type TicketStore interface {
	GetByID(ctx context.Context, id int64) (*model.Ticket, error)
	GetByThreadID(ctx context.Context, threadID int64) (*model.Ticket, error)
	GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*model.Ticket, error)
	GetByPlatformUserID(ctx context.Context, platformUserID int64) (*model.Ticket, error)
	Create(ctx context.Context, ticket *model.Ticket) (*model.Ticket, error)

	// UpdateStatus moves the ticket from current to next. Returns ErrConflict
	// when the stored status is no longer current.
	UpdateStatus(ctx context.Context, id int64, current, next model.TicketStatus) (*model.Ticket, error)

	// SetThreadID records the discussion thread. Returns ErrConflict when a
	// thread is already set; the stored thread is never replaced.
	SetThreadID(ctx context.Context, id int64, threadID int64) (*model.Ticket, error)
	SetCardMessageID(ctx context.Context, id int64, cardMessageID string) error
	UpdatePhone(ctx context.Context, id int64, phone string) error

	// LinkPlatformUser attaches a platform identity to a session ticket.
	// Returns ErrConflict when the ticket is linked to a different user or the
	// user already owns another ticket.
	LinkPlatformUser(ctx context.Context, id int64, platformUserID int64, username *string) (*model.Ticket, error)
	ListByStatus(ctx context.Context, status model.TicketStatus, limit int32) ([]model.Ticket, error)
}

// MaxHistoryPage is the largest history page. List returns at most one row
// more so a caller can tell whether another page exists.
const MaxHistoryPage = 200

// HistoryQuery selects a page of message history. Before and After are entry
// ids; zero means unbounded. After takes precedence when both are set.
type HistoryQuery struct {
	Limit  int32
	Before int64
	After  int64
}

// MessageMapStore defines the contract for message map data access
type MessageMapStore interface {
	Create(ctx context.Context, entry *model.MessageMapEntry) (*model.MessageMapEntry, error)
	GetByID(ctx context.Context, id int64) (*model.MessageMapEntry, error)
	FindByCustomerMessage(ctx context.Context, ticketID int64, channel model.Channel, nativeID string) (*model.MessageMapEntry, error)
	// FindByThreadMessage returns one entry per customer channel the thread
	// message was delivered to.
	FindByThreadMessage(ctx context.Context, ticketID int64, nativeID string) ([]model.MessageMapEntry, error)
	UpdateText(ctx context.Context, id int64, text string) error
	// List returns entries in chronological order.
	List(ctx context.Context, ticketID int64, q HistoryQuery) ([]model.MessageMapEntry, error)
	CountStaffAfter(ctx context.Context, ticketID int64, channel model.Channel, afterID int64) (int64, error)
	ExistsStaffMessageSince(ctx context.Context, ticketID int64, since time.Time) (bool, error)
}

// TicketEventStore defines the contract for the ticket audit trail
type TicketEventStore interface {
	Create(ctx context.Context, event *model.TicketEvent) (*model.TicketEvent, error)
	ListByTicket(ctx context.Context, ticketID int64) ([]model.TicketEvent, error)
}
