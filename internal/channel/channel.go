// Package channel declares what the relay core needs from the bot platform.
// The Telegram adapter in internal/platform/telegram implements it.
package channel

import (
	"context"
	"errors"
	"io"

	"supportdesk.app/relay/internal/model"
)

// MaxTextLen is the longest text a single platform message may carry.
// Longer text is split into several content units.
const MaxTextLen = 4096

// ErrNotModified is returned by Edit when the new content equals the old one.
var ErrNotModified = errors.New("message not modified")

// Destination addresses either a customer's private chat or a discussion
// thread in the staff group.
type Destination struct {
	UserID   int64
	ThreadID int64
}

func User(userID int64) Destination {
	return Destination{UserID: userID}
}

func Thread(threadID int64) Destination {
	return Destination{ThreadID: threadID}
}

func (d Destination) IsThread() bool {
	return d.UserID == 0
}

// Button is one inline control. Data is echoed back in the callback.
type Button struct {
	Text string
	Data string
}

// Outgoing is one message to send.
type Outgoing struct {
	Content model.Content
	// ReplyTo is a native message id in the destination chat.
	ReplyTo string
	// Buttons are rows of inline controls.
	Buttons [][]Button
	// Silent suppresses the notification sound.
	Silent bool
}

// Edit replaces the text (or caption) of a sent message.
type Edit struct {
	Text    string
	Caption bool
	// Buttons replaces the inline controls when non-nil.
	Buttons [][]Button
}

// File is downloaded media.
type File struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Platform is the bot-platform API as the relay core uses it.
type Platform interface {
	// CreateThread opens a discussion thread in the staff group.
	CreateThread(ctx context.Context, title string) (int64, error)
	// Send delivers msg and returns its native message id.
	Send(ctx context.Context, dst Destination, msg Outgoing) (string, error)
	Edit(ctx context.Context, dst Destination, messageID string, edit Edit) error
	Pin(ctx context.Context, dst Destination, messageID string) error
	SendTyping(ctx context.Context, dst Destination) error
	// OpenFile streams a media file by its platform file reference.
	OpenFile(ctx context.Context, fileID string) (*File, error)
}
