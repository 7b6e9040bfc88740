package model

import (
	"time"

	"github.com/google/uuid"
)

type TicketStatus string

const (
	TicketStatusNew           TicketStatus = "NEW"
	TicketStatusInProgress    TicketStatus = "IN_PROGRESS"
	TicketStatusWaitingClient TicketStatus = "WAITING_CLIENT"
	TicketStatusClosed        TicketStatus = "CLOSED"
)

// TicketStatuses lists every status in display order.
var TicketStatuses = []TicketStatus{
	TicketStatusNew,
	TicketStatusInProgress,
	TicketStatusWaitingClient,
	TicketStatusClosed,
}

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusNew, TicketStatusInProgress, TicketStatusWaitingClient, TicketStatusClosed:
		return true
	}
	return false
}

// Ticket is one customer's support conversation. A customer is identified by a
// platform user id, a browser session id, or both once the channels are linked.
type Ticket struct {
	ID               int64        `json:"id"`
	PlatformUserID   *int64       `json:"platform_user_id,omitempty"`
	PlatformUsername *string      `json:"platform_username,omitempty"`
	SessionID        *uuid.UUID   `json:"session_id,omitempty"`
	CustomerName     string       `json:"customer_name"`
	Status           TicketStatus `json:"status"`

	// ThreadID is the staff group forum topic. Set once, never rewritten.
	ThreadID      *int64  `json:"thread_id,omitempty"`
	CardMessageID *string `json:"card_message_id,omitempty"`
	Phone         *string `json:"phone,omitempty"`

	// Captured when the ticket is created.
	PageURL *string `json:"page_url,omitempty"`
	City    *string `json:"city,omitempty"`
	IP      *string `json:"ip,omitempty"`

	StatusChangedAt time.Time `json:"status_changed_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (t *Ticket) HasPlatformUser() bool {
	return t.PlatformUserID != nil && *t.PlatformUserID != 0
}

func (t *Ticket) HasSession() bool {
	return t.SessionID != nil && *t.SessionID != uuid.Nil
}

func (t *Ticket) HasThread() bool {
	return t.ThreadID != nil && *t.ThreadID != 0
}

// DisplayName is what staff see in thread titles and cards.
func (t *Ticket) DisplayName() string {
	if t.CustomerName != "" {
		return t.CustomerName
	}
	if t.PlatformUsername != nil && *t.PlatformUsername != "" {
		return "@" + *t.PlatformUsername
	}
	if t.HasSession() {
		return "Web visitor " + t.SessionID.String()[:8]
	}
	return "Customer"
}
