package realtime

import (
	"context"

	"github.com/google/uuid"
)

// Notifier pushes events to browser sessions. The server process uses the
// Registry directly; a worker process publishes through Redis to the servers.
type Notifier interface {
	NotifySession(ctx context.Context, sessionID uuid.UUID, eventType EventType, payload any) bool
	NotifyTicket(ctx context.Context, ticketID int64, eventType EventType, payload any) bool
}

var _ Notifier = (*Registry)(nil)
