package realtime

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"supportdesk.app/relay/internal/model"
)

// EventType names an envelope on the widget socket.
type EventType string

// Client to server.
const (
	EventMessage EventType = "message"
	EventTyping  EventType = "typing"
	EventClose   EventType = "close"
	EventPong    EventType = "pong"
)

// Server to client. EventMessage and EventTyping are used in both directions.
const (
	EventConnected     EventType = "connected"
	EventStatus        EventType = "status"
	EventChannelLinked EventType = "channel_linked"
	EventPing          EventType = "ping"
	EventError         EventType = "error"
)

// Error codes sent in error events.
const (
	ErrCodeInvalidPayload = "invalid_payload"
	ErrCodeUnknownType    = "unknown_type"
	ErrCodeEmptyMessage   = "empty_message"
	ErrCodeTooLong        = "message_too_long"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeInternal       = "internal_error"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ClientMessage struct {
	Text    string `json:"text"`
	ReplyTo string `json:"replyTo,omitempty"`
}

type Typing struct {
	IsTyping bool `json:"isTyping"`
}

type CloseRequest struct {
	Resolved bool   `json:"resolved"`
	Feedback string `json:"feedback,omitempty"`
}

type Pong struct{}

type Connected struct {
	SessionID    string             `json:"sessionId"`
	TicketStatus model.TicketStatus `json:"ticketStatus,omitempty"`
	UnreadCount  int64              `json:"unreadCount"`
}

// Message is a chat message as the widget renders it.
type Message struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	From      string `json:"from"`
	Channel   string `json:"channel"`
	Timestamp string `json:"timestamp"`
	ImageURL  string `json:"imageUrl,omitempty"`
	VoiceURL  string `json:"voiceUrl,omitempty"`
}

type Status struct {
	Status model.TicketStatus `json:"status"`
}

type ChannelLinked struct {
	Telegram string `json:"telegram"`
}

type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	FromCustomer = "customer"
	FromStaff    = "staff"
)

// Encode builds a frame for eventType with payload as data.
func Encode(eventType EventType, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", eventType, err)
		}
		data = b
	}
	return json.Marshal(Envelope{Type: eventType, Data: data})
}

// MediaPath is where the widget fetches media attached to a history entry.
func MediaPath(entryID int64) string {
	return "/api/v1/widget/media/" + strconv.FormatInt(entryID, 10)
}

// MessageFromEntry renders a message map entry for the widget.
func MessageFromEntry(e *model.MessageMapEntry) Message {
	from := FromStaff
	if e.Direction == model.DirectionCustomerToStaff {
		from = FromCustomer
	}
	msg := Message{
		ID:        strconv.FormatInt(e.ID, 10),
		Text:      e.Text,
		From:      from,
		Channel:   string(e.Channel),
		Timestamp: e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	switch {
	case e.IsVoice():
		msg.VoiceURL = MediaPath(e.ID)
	case e.IsImage():
		msg.ImageURL = MediaPath(e.ID)
	}
	return msg
}
