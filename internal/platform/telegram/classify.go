package telegram

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"

	"supportdesk.app/relay/internal/model"
)

// Classify picks the content kind of msg. Fields are inspected in
// model.ContentKindPriority order and the first populated one wins.
func Classify(msg *models.Message) model.Content {
	for _, kind := range model.ContentKindPriority {
		if c, ok := extract(msg, kind); ok {
			return c
		}
	}
	return model.Content{Kind: model.ContentKindUnsupported}
}

func extract(msg *models.Message, kind model.ContentKind) (model.Content, bool) {
	caption := msg.Caption
	switch kind {
	case model.ContentKindText:
		if msg.Text == "" {
			return model.Content{}, false
		}
		return model.TextContent(msg.Text), true
	case model.ContentKindPhoto:
		if len(msg.Photo) == 0 {
			return model.Content{}, false
		}
		// Sizes come smallest first.
		return media(kind, msg.Photo[len(msg.Photo)-1].FileID, caption), true
	case model.ContentKindVideo:
		if msg.Video == nil {
			return model.Content{}, false
		}
		return media(kind, msg.Video.FileID, caption), true
	case model.ContentKindDocument:
		if msg.Document == nil {
			return model.Content{}, false
		}
		return media(kind, msg.Document.FileID, caption), true
	case model.ContentKindVoice:
		if msg.Voice == nil {
			return model.Content{}, false
		}
		c := media(kind, msg.Voice.FileID, caption)
		c.Duration = msg.Voice.Duration
		return c, true
	case model.ContentKindAudio:
		if msg.Audio == nil {
			return model.Content{}, false
		}
		return media(kind, msg.Audio.FileID, caption), true
	case model.ContentKindVideoNote:
		if msg.VideoNote == nil {
			return model.Content{}, false
		}
		return media(kind, msg.VideoNote.FileID, ""), true
	case model.ContentKindSticker:
		if msg.Sticker == nil {
			return model.Content{}, false
		}
		return media(kind, msg.Sticker.FileID, ""), true
	case model.ContentKindAnimation:
		if msg.Animation == nil {
			return model.Content{}, false
		}
		return media(kind, msg.Animation.FileID, caption), true
	case model.ContentKindContact:
		if msg.Contact == nil {
			return model.Content{}, false
		}
		return model.Content{
			Kind: kind,
			Contact: &model.Contact{
				PhoneNumber: msg.Contact.PhoneNumber,
				FirstName:   msg.Contact.FirstName,
				LastName:    msg.Contact.LastName,
				UserID:      msg.Contact.UserID,
			},
		}, true
	case model.ContentKindLocation:
		if msg.Location == nil {
			return model.Content{}, false
		}
		return model.Content{
			Kind:     kind,
			Location: &model.Location{Latitude: msg.Location.Latitude, Longitude: msg.Location.Longitude},
		}, true
	case model.ContentKindUnsupported:
		return model.Content{}, false
	}
	return model.Content{}, false
}

func media(kind model.ContentKind, fileID, caption string) model.Content {
	return model.Content{Kind: kind, FileID: fileID, Text: caption}
}

// Inbound converts a bot message into the relay's inbound form.
func Inbound(msg *models.Message) model.InboundMessage {
	in := model.InboundMessage{
		NativeID:   strconv.Itoa(msg.ID),
		Content:    Classify(msg),
		SenderName: senderName(msg.From),
		SentAt:     time.Unix(int64(msg.Date), 0).UTC(),
	}
	if r := msg.ReplyToMessage; r != nil {
		// Topic messages without an explicit reply point at the topic root.
		if !(msg.IsTopicMessage && r.ID == msg.MessageThreadID) {
			in.ReplyTo = strconv.Itoa(r.ID)
		}
	}
	return in
}

// Edited converts an edited bot message.
func Edited(msg *models.Message) model.EditedMessage {
	edit := model.EditedMessage{NativeID: strconv.Itoa(msg.ID), Text: msg.Text}
	if msg.Text == "" {
		edit.Text = msg.Caption
		edit.Caption = true
	}
	return edit
}

func senderName(u *models.User) string {
	if u == nil {
		return ""
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
