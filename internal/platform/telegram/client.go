// Package telegram adapts the Telegram Bot API to channel.Platform and routes
// bot updates into the relay service.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"supportdesk.app/relay/internal/channel"
	"supportdesk.app/relay/internal/model"
)

// API is the part of *bot.Bot the adapter calls.
type API interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	SendVideo(ctx context.Context, params *bot.SendVideoParams) (*models.Message, error)
	SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*models.Message, error)
	SendVoice(ctx context.Context, params *bot.SendVoiceParams) (*models.Message, error)
	SendAudio(ctx context.Context, params *bot.SendAudioParams) (*models.Message, error)
	SendVideoNote(ctx context.Context, params *bot.SendVideoNoteParams) (*models.Message, error)
	SendSticker(ctx context.Context, params *bot.SendStickerParams) (*models.Message, error)
	SendAnimation(ctx context.Context, params *bot.SendAnimationParams) (*models.Message, error)
	SendContact(ctx context.Context, params *bot.SendContactParams) (*models.Message, error)
	SendLocation(ctx context.Context, params *bot.SendLocationParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	EditMessageCaption(ctx context.Context, params *bot.EditMessageCaptionParams) (*models.Message, error)
	PinChatMessage(ctx context.Context, params *bot.PinChatMessageParams) (bool, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)
	CreateForumTopic(ctx context.Context, params *bot.CreateForumTopicParams) (*models.ForumTopic, error)
	GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error)
	FileDownloadLink(f *models.File) string
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

var _ API = (*bot.Bot)(nil)

// Client implements channel.Platform on top of the Bot API. Threads are forum
// topics of the staff group.
type Client struct {
	api     API
	groupID int64
	http    *http.Client
}

var _ channel.Platform = (*Client)(nil)

func NewClient(api API, staffGroupID int64, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{api: api, groupID: staffGroupID, http: httpClient}
}

func (c *Client) CreateThread(ctx context.Context, title string) (int64, error) {
	topic, err := c.api.CreateForumTopic(ctx, &bot.CreateForumTopicParams{
		ChatID: c.groupID,
		Name:   truncateRunes(title, maxTopicName),
	})
	if err != nil {
		return 0, fmt.Errorf("creating forum topic: %w", err)
	}
	return int64(topic.MessageThreadID), nil
}

// target holds the chat addressing of a destination.
type target struct {
	chatID   int64
	threadID int
}

func (c *Client) target(dst channel.Destination) target {
	if dst.IsThread() {
		return target{chatID: c.groupID, threadID: int(dst.ThreadID)}
	}
	return target{chatID: dst.UserID}
}

func (c *Client) Send(ctx context.Context, dst channel.Destination, msg channel.Outgoing) (string, error) {
	t := c.target(dst)
	reply, err := replyParams(msg.ReplyTo)
	if err != nil {
		return "", err
	}
	markup := keyboard(msg.Buttons)
	content := msg.Content

	var sent *models.Message
	switch content.Kind {
	case model.ContentKindText:
		sent, err = c.api.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:              t.chatID,
			MessageThreadID:     t.threadID,
			Text:                content.Text,
			ReplyParameters:     reply,
			ReplyMarkup:         markup,
			DisableNotification: msg.Silent,
		})
	case model.ContentKindPhoto:
		sent, err = c.api.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:              t.chatID,
			MessageThreadID:     t.threadID,
			Photo:               &models.InputFileString{Data: content.FileID},
			Caption:             content.Text,
			ReplyParameters:     reply,
			ReplyMarkup:         markup,
			DisableNotification: msg.Silent,
		})
	case model.ContentKindVideo:
		sent, err = c.api.SendVideo(ctx, &bot.SendVideoParams{
			ChatID:              t.chatID,
			MessageThreadID:     t.threadID,
			Video:               &models.InputFileString{Data: content.FileID},
			Caption:             content.Text,
			ReplyParameters:     reply,
			ReplyMarkup:         markup,
			DisableNotification: msg.Silent,
		})
	case model.ContentKindDocument:
		sent, err = c.api.SendDocument(ctx, &bot.SendDocumentParams{
			ChatID:              t.chatID,
			MessageThreadID:     t.threadID,
			Document:            &models.InputFileString{Data: content.FileID},
			Caption:             content.Text,
			ReplyParameters:     reply,
			ReplyMarkup:         markup,
			DisableNotification: msg.Silent,
		})
	case model.ContentKindVoice:
		sent, err = c.api.SendVoice(ctx, &bot.SendVoiceParams{
			ChatID:              t.chatID,
			MessageThreadID:     t.threadID,
			Voice:               &models.InputFileString{Data: content.FileID},
			Caption:             content.Text,
			Duration:            content.Duration,
			ReplyParameters:     reply,
			ReplyMarkup:         markup,
			DisableNotification: msg.Silent,
		})
	case model.ContentKindAudio:
		sent, err = c.api.SendAudio(ctx, &bot.SendAudioParams{
			ChatID:              t.chatID,
			MessageThreadID:     t.threadID,
			Audio:               &models.InputFileString{Data: content.FileID},
			Caption:             content.Text,
			ReplyParameters:     reply,
			ReplyMarkup:         markup,
			DisableNotification: msg.Silent,
		})
	case model.ContentKindVideoNote:
		sent, err = c.api.SendVideoNote(ctx, &bot.SendVideoNoteParams{
			ChatID:              t.chatID,
			MessageThreadID:     t.threadID,
			VideoNote:           &models.InputFileString{Data: content.FileID},
			ReplyParameters:     reply,
			ReplyMarkup:         markup,
			DisableNotification: msg.Silent,
		})
	case model.ContentKindSticker:
		sent, err = c.api.SendSticker(ctx, &bot.SendStickerParams{
			ChatID:              t.chatID,
			MessageThreadID:     t.threadID,
			Sticker:             &models.InputFileString{Data: content.FileID},
			ReplyParameters:     reply,
			ReplyMarkup:         markup,
			DisableNotification: msg.Silent,
		})
	case model.ContentKindAnimation:
		sent, err = c.api.SendAnimation(ctx, &bot.SendAnimationParams{
			ChatID:              t.chatID,
			MessageThreadID:     t.threadID,
			Animation:           &models.InputFileString{Data: content.FileID},
			Caption:             content.Text,
			ReplyParameters:     reply,
			ReplyMarkup:         markup,
			DisableNotification: msg.Silent,
		})
	case model.ContentKindContact:
		if content.Contact == nil {
			return "", errors.New("contact content without contact")
		}
		sent, err = c.api.SendContact(ctx, &bot.SendContactParams{
			ChatID:              t.chatID,
			MessageThreadID:     t.threadID,
			PhoneNumber:         content.Contact.PhoneNumber,
			FirstName:           content.Contact.FirstName,
			LastName:            content.Contact.LastName,
			ReplyParameters:     reply,
			ReplyMarkup:         markup,
			DisableNotification: msg.Silent,
		})
	case model.ContentKindLocation:
		if content.Location == nil {
			return "", errors.New("location content without location")
		}
		sent, err = c.api.SendLocation(ctx, &bot.SendLocationParams{
			ChatID:              t.chatID,
			MessageThreadID:     t.threadID,
			Latitude:            content.Location.Latitude,
			Longitude:           content.Location.Longitude,
			ReplyParameters:     reply,
			ReplyMarkup:         markup,
			DisableNotification: msg.Silent,
		})
	case model.ContentKindUnsupported:
		return "", fmt.Errorf("cannot send %s content", content.Kind)
	default:
		return "", fmt.Errorf("cannot send %q content", content.Kind)
	}
	if err != nil {
		return "", fmt.Errorf("sending %s: %w", content.Kind, err)
	}
	return strconv.Itoa(sent.ID), nil
}

func (c *Client) Edit(ctx context.Context, dst channel.Destination, messageID string, edit channel.Edit) error {
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid message id %q", messageID)
	}
	t := c.target(dst)

	var markup models.ReplyMarkup
	if edit.Buttons != nil {
		markup = keyboard(edit.Buttons)
	}

	if edit.Caption {
		_, err = c.api.EditMessageCaption(ctx, &bot.EditMessageCaptionParams{
			ChatID:      t.chatID,
			MessageID:   id,
			Caption:     edit.Text,
			ReplyMarkup: markup,
		})
	} else {
		_, err = c.api.EditMessageText(ctx, &bot.EditMessageTextParams{
			ChatID:      t.chatID,
			MessageID:   id,
			Text:        edit.Text,
			ReplyMarkup: markup,
		})
	}
	if err != nil {
		if isNotModified(err) {
			return channel.ErrNotModified
		}
		return fmt.Errorf("editing message: %w", err)
	}
	return nil
}

func (c *Client) Pin(ctx context.Context, dst channel.Destination, messageID string) error {
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid message id %q", messageID)
	}
	if _, err := c.api.PinChatMessage(ctx, &bot.PinChatMessageParams{
		ChatID:              c.target(dst).chatID,
		MessageID:           id,
		DisableNotification: true,
	}); err != nil {
		return fmt.Errorf("pinning message: %w", err)
	}
	return nil
}

func (c *Client) SendTyping(ctx context.Context, dst channel.Destination) error {
	t := c.target(dst)
	if _, err := c.api.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID:          t.chatID,
		MessageThreadID: t.threadID,
		Action:          models.ChatActionTyping,
	}); err != nil {
		return fmt.Errorf("sending chat action: %w", err)
	}
	return nil
}

// OpenFile resolves fileID and streams it from the Bot API file endpoint.
// The caller closes the body.
func (c *Client) OpenFile(ctx context.Context, fileID string) (*channel.File, error) {
	f, err := c.api.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("resolving file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.api.FileDownloadLink(f), nil)
	if err != nil {
		return nil, fmt.Errorf("building download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("downloading file: status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFor(f.FilePath)
	}
	return &channel.File{
		Body:        resp.Body,
		ContentType: contentType,
		Size:        resp.ContentLength,
	}, nil
}

const maxTopicName = 128

func replyParams(replyTo string) (*models.ReplyParameters, error) {
	if replyTo == "" {
		return nil, nil
	}
	id, err := strconv.Atoi(replyTo)
	if err != nil {
		return nil, fmt.Errorf("invalid reply id %q", replyTo)
	}
	return &models.ReplyParameters{MessageID: id, AllowSendingWithoutReply: true}, nil
}

func keyboard(rows [][]channel.Button) models.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}
	kb := make([][]models.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, models.InlineKeyboardButton{Text: b.Text, CallbackData: b.Data})
		}
		kb = append(kb, buttons)
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: kb}
}

func isNotModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}

func contentTypeFor(path string) string {
	switch {
	case strings.HasSuffix(path, ".jpg"), strings.HasSuffix(path, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(path, ".png"):
		return "image/png"
	case strings.HasSuffix(path, ".webp"):
		return "image/webp"
	case strings.HasSuffix(path, ".oga"), strings.HasSuffix(path, ".ogg"):
		return "audio/ogg"
	case strings.HasSuffix(path, ".mp4"):
		return "video/mp4"
	}
	return "application/octet-stream"
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
