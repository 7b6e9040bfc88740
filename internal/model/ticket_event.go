package model

import "time"

type TicketEventType string

const (
	TicketEventOpened        TicketEventType = "OPENED"
	TicketEventReopened      TicketEventType = "REOPENED"
	TicketEventClosed        TicketEventType = "CLOSED"
	TicketEventStatusChanged TicketEventType = "STATUS_CHANGED"
	TicketEventPhoneUpdated  TicketEventType = "PHONE_UPDATED"
)

type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorStaff    Actor = "staff"
	ActorSystem   Actor = "system"
)

// TicketEvent is an immutable audit entry of the ticket lifecycle.
type TicketEvent struct {
	ID       int64           `json:"id"`
	TicketID int64           `json:"ticket_id"`
	Type     TicketEventType `json:"type"`
	OldValue *string         `json:"old_value,omitempty"`
	NewValue *string         `json:"new_value,omitempty"`
	// Question carries free-text context, e.g. customer feedback on close.
	Question  *string   `json:"question,omitempty"`
	Actor     Actor     `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}
