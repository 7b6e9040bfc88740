package model

import "fmt"

// ContentKind tags the populated variant of Content. Every switch over a
// ContentKind must list all kinds; tools/linters/exhaustivekind checks this.
type ContentKind string

const (
	ContentKindText        ContentKind = "text"
	ContentKindPhoto       ContentKind = "photo"
	ContentKindVideo       ContentKind = "video"
	ContentKindDocument    ContentKind = "document"
	ContentKindVoice       ContentKind = "voice"
	ContentKindAudio       ContentKind = "audio"
	ContentKindVideoNote   ContentKind = "video_note"
	ContentKindSticker     ContentKind = "sticker"
	ContentKindAnimation   ContentKind = "animation"
	ContentKindContact     ContentKind = "contact"
	ContentKindLocation    ContentKind = "location"
	ContentKindUnsupported ContentKind = "unsupported"
)

// ContentKindPriority is the order in which inbound content fields are
// inspected. The first populated field decides the kind.
var ContentKindPriority = []ContentKind{
	ContentKindText,
	ContentKindPhoto,
	ContentKindVideo,
	ContentKindDocument,
	ContentKindVoice,
	ContentKindAudio,
	ContentKindVideoNote,
	ContentKindSticker,
	ContentKindAnimation,
	ContentKindContact,
	ContentKindLocation,
}

// Content is a tagged variant: Kind selects which of the remaining fields are
// meaningful.
type Content struct {
	Kind ContentKind

	// Text for ContentKindText; caption for media kinds.
	Text string

	// FileID is the platform file reference for media kinds.
	FileID string
	// Duration in seconds, only for voice.
	Duration int

	Contact  *Contact
	Location *Location
}

type Contact struct {
	PhoneNumber string
	FirstName   string
	LastName    string
	// UserID is the platform user the contact card belongs to, if known.
	UserID int64
}

type Location struct {
	Latitude  float64
	Longitude float64
}

func TextContent(text string) Content {
	return Content{Kind: ContentKindText, Text: text}
}

// HasMedia reports whether the kind carries a file reference.
func (c Content) HasMedia() bool {
	switch c.Kind {
	case ContentKindPhoto, ContentKindVideo, ContentKindDocument, ContentKindVoice,
		ContentKindAudio, ContentKindVideoNote, ContentKindSticker, ContentKindAnimation:
		return c.FileID != ""
	case ContentKindText, ContentKindContact, ContentKindLocation, ContentKindUnsupported:
		return false
	}
	return false
}

// Summary renders the content as a single line of text, used for history
// entries and for channels that can only show text.
func (c Content) Summary() string {
	switch c.Kind {
	case ContentKindText:
		return c.Text
	case ContentKindPhoto, ContentKindVideo, ContentKindDocument, ContentKindVoice,
		ContentKindAudio, ContentKindVideoNote, ContentKindSticker, ContentKindAnimation:
		if c.Text != "" {
			return c.Text
		}
		return "[" + string(c.Kind) + "]"
	case ContentKindContact:
		if c.Contact == nil {
			return "[contact]"
		}
		return fmt.Sprintf("[contact] %s %s %s", c.Contact.FirstName, c.Contact.LastName, c.Contact.PhoneNumber)
	case ContentKindLocation:
		if c.Location == nil {
			return "[location]"
		}
		return fmt.Sprintf("[location] %.6f, %.6f", c.Location.Latitude, c.Location.Longitude)
	case ContentKindUnsupported:
		return ""
	}
	return ""
}
