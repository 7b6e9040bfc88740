// Package realtimetest provides a recording realtime.Notifier for tests.
package realtimetest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"supportdesk.app/relay/internal/realtime"
)

type Notification struct {
	SessionID uuid.UUID
	TicketID  int64
	Type      realtime.EventType
	Payload   any
}

// Notifier records notifications. Offline makes every push report no
// receiver.
type Notifier struct {
	mu   sync.Mutex
	sent []Notification

	Offline bool
}

func (n *Notifier) NotifySession(_ context.Context, sessionID uuid.UUID, eventType realtime.EventType, payload any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Notification{SessionID: sessionID, Type: eventType, Payload: payload})
	return !n.Offline
}

func (n *Notifier) NotifyTicket(_ context.Context, ticketID int64, eventType realtime.EventType, payload any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Notification{TicketID: ticketID, Type: eventType, Payload: payload})
	return !n.Offline
}

func (n *Notifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}

// OfType returns the recorded notifications of one event type.
func (n *Notifier) OfType(eventType realtime.EventType) []Notification {
	var out []Notification
	for _, s := range n.Sent() {
		if s.Type == eventType {
			out = append(out, s)
		}
	}
	return out
}

var _ realtime.Notifier = (*Notifier)(nil)
