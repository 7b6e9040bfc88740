package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"supportdesk.app/relay/common/logger"
)

// notification is the pub/sub frame between a process without sockets and
// the servers holding them.
type notification struct {
	SessionID string          `json:"session_id,omitempty"`
	TicketID  int64           `json:"ticket_id,omitempty"`
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// RedisNotifier publishes browser events for the servers to deliver. It
// reports success when at least one server received the event; whether a
// socket was found is only known on the server.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) NotifySession(ctx context.Context, sessionID uuid.UUID, eventType EventType, payload any) bool {
	return n.publish(ctx, notification{SessionID: sessionID.String(), Type: eventType}, payload)
}

func (n *RedisNotifier) NotifyTicket(ctx context.Context, ticketID int64, eventType EventType, payload any) bool {
	return n.publish(ctx, notification{TicketID: ticketID, Type: eventType}, payload)
}

func (n *RedisNotifier) publish(ctx context.Context, msg notification, payload any) bool {
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			slog.ErrorContext(ctx, "failed to encode notification", "error", err, "type", msg.Type)
			return false
		}
		msg.Data = data
	}
	body, err := json.Marshal(msg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode notification", "error", err, "type", msg.Type)
		return false
	}

	receivers, err := n.client.Publish(ctx, n.channel, body).Result()
	if err != nil {
		slog.WarnContext(ctx, "failed to publish notification", "error", err, "type", msg.Type)
		return false
	}
	return receivers > 0
}

// Bridge delivers notifications published by RedisNotifier to the local
// registry.
type Bridge struct {
	client   *redis.Client
	channel  string
	registry *Registry
}

func NewBridge(client *redis.Client, channel string, registry *Registry) *Bridge {
	return &Bridge{client: client, channel: channel, registry: registry}
}

// Run subscribes and delivers until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "relay.realtime.bridge"})

	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", b.channel, err)
	}
	slog.InfoContext(ctx, "notification bridge started", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.deliver(ctx, msg.Payload)
		}
	}
}

func (b *Bridge) deliver(ctx context.Context, body string) bool {
	var n notification
	if err := json.Unmarshal([]byte(body), &n); err != nil {
		slog.WarnContext(ctx, "dropping malformed notification", "error", err)
		return false
	}

	var payload any
	if len(n.Data) > 0 {
		payload = n.Data
	}

	if n.SessionID != "" {
		sessionID, err := uuid.Parse(n.SessionID)
		if err != nil {
			slog.WarnContext(ctx, "dropping notification with bad session id", "session_id", n.SessionID)
			return false
		}
		return b.registry.Send(ctx, sessionID, n.Type, payload)
	}
	if n.TicketID != 0 {
		return b.registry.SendToTicket(ctx, n.TicketID, n.Type, payload)
	}
	return false
}
