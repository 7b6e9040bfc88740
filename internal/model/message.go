package model

import "time"

type Direction string

const (
	DirectionCustomerToStaff Direction = "CUSTOMER_TO_STAFF"
	DirectionStaffToCustomer Direction = "STAFF_TO_CUSTOMER"
)

// Channel is the customer-side channel of a mirrored message.
type Channel string

const (
	ChannelPlatform Channel = "PLATFORM"
	ChannelWeb      Channel = "WEB"
)

// MessageMapEntry links a message in the customer's channel with its mirror
// in the discussion thread.
type MessageMapEntry struct {
	ID                int64       `json:"id"`
	TicketID          int64       `json:"ticket_id"`
	Direction         Direction   `json:"direction"`
	Channel           Channel     `json:"channel"`
	CustomerMessageID *string     `json:"customer_message_id,omitempty"`
	ThreadMessageID   *string     `json:"thread_message_id,omitempty"`
	Kind              ContentKind `json:"kind"`
	Text              string      `json:"text"`
	MediaRef          *string     `json:"media_ref,omitempty"`
	// Duration is only set for voice media.
	Duration  *int      `json:"duration,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (e *MessageMapEntry) IsVoice() bool {
	return e.MediaRef != nil && e.Duration != nil
}

func (e *MessageMapEntry) IsImage() bool {
	return e.MediaRef != nil && e.Duration == nil && e.Kind == ContentKindPhoto
}

// InboundMessage is a message received from either channel, already
// classified into a single content kind.
type InboundMessage struct {
	// NativeID is the message id in the channel it arrived on.
	NativeID string
	// ReplyTo is the native id of the message being replied to, if any.
	ReplyTo string
	Content Content
	// SenderName is informational and used for thread titles.
	SenderName string
	SentAt     time.Time
}

// EditedMessage is an edit of a previously received message.
type EditedMessage struct {
	NativeID string
	Channel  Channel
	// Text holds the new text or caption.
	Text string
	// Caption is true when the edit targets a media caption.
	Caption bool
}

// MessagePage is a slice of history with cursors for the next fetch.
type MessagePage struct {
	Entries []MessageMapEntry `json:"entries"`
	HasMore bool              `json:"has_more"`
}
