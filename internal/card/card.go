package card

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"supportdesk.app/relay/internal/channel"
	"supportdesk.app/relay/internal/model"
	"supportdesk.app/relay/internal/store"
)

// StatusCallbackPrefix starts the callback data of manual status buttons:
// "status:<ticket_id>:<STATUS>".
const StatusCallbackPrefix = "status:"

var statusLabels = map[model.TicketStatus]string{
	model.TicketStatusNew:           "New",
	model.TicketStatusInProgress:    "In progress",
	model.TicketStatusWaitingClient: "Waiting for customer",
	model.TicketStatusClosed:        "Closed",
}

func StatusLabel(s model.TicketStatus) string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

// Card is the rendered summary of a ticket.
type Card struct {
	Text    string
	Buttons [][]channel.Button
}

// Render builds the summary card. It offers a button for every status except
// the current one.
func Render(t *model.Ticket) Card {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket #%d\n", t.ID)
	fmt.Fprintf(&b, "Customer: %s\n", t.DisplayName())
	fmt.Fprintf(&b, "Status: %s\n", StatusLabel(t.Status))

	var channels []string
	if t.HasPlatformUser() {
		channels = append(channels, "Telegram")
	}
	if t.HasSession() {
		channels = append(channels, "Web")
	}
	fmt.Fprintf(&b, "Channels: %s\n", strings.Join(channels, ", "))

	if t.Phone != nil && *t.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", *t.Phone)
	}
	if t.PageURL != nil && *t.PageURL != "" {
		fmt.Fprintf(&b, "Page: %s\n", *t.PageURL)
	}
	if t.City != nil && *t.City != "" {
		fmt.Fprintf(&b, "City: %s\n", *t.City)
	}
	if t.IP != nil && *t.IP != "" {
		fmt.Fprintf(&b, "IP: %s\n", *t.IP)
	}
	if !t.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "Opened: %s\n", t.CreatedAt.UTC().Format(time.RFC822))
	}

	var row []channel.Button
	for _, s := range model.TicketStatuses {
		if s == t.Status {
			continue
		}
		row = append(row, channel.Button{
			Text: StatusLabel(s),
			Data: StatusCallbackData(t.ID, s),
		})
	}

	return Card{
		Text:    strings.TrimRight(b.String(), "\n"),
		Buttons: [][]channel.Button{row},
	}
}

func StatusCallbackData(ticketID int64, s model.TicketStatus) string {
	return fmt.Sprintf("%s%d:%s", StatusCallbackPrefix, ticketID, s)
}

// ParseStatusCallback reverses StatusCallbackData.
func ParseStatusCallback(data string) (int64, model.TicketStatus, bool) {
	rest, ok := strings.CutPrefix(data, StatusCallbackPrefix)
	if !ok {
		return 0, "", false
	}
	idPart, statusPart, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, "", false
	}
	var ticketID int64
	if _, err := fmt.Sscanf(idPart, "%d", &ticketID); err != nil || ticketID <= 0 {
		return 0, "", false
	}
	status := model.TicketStatus(statusPart)
	if !status.Valid() {
		return 0, "", false
	}
	return ticketID, status, true
}

// Manager posts and refreshes the pinned summary card of a ticket thread.
type Manager struct {
	platform channel.Platform
	tickets  store.TicketStore
}

func NewManager(platform channel.Platform, tickets store.TicketStore) *Manager {
	return &Manager{platform: platform, tickets: tickets}
}

// Post sends and pins a fresh card into the ticket's thread and records its
// message id. Pinning failures are logged only.
func (m *Manager) Post(ctx context.Context, t *model.Ticket) (string, error) {
	if !t.HasThread() {
		return "", fmt.Errorf("ticket %d has no thread", t.ID)
	}
	c := Render(t)
	dst := channel.Thread(*t.ThreadID)

	msgID, err := m.platform.Send(ctx, dst, channel.Outgoing{
		Content: model.TextContent(c.Text),
		Buttons: c.Buttons,
		Silent:  true,
	})
	if err != nil {
		return "", fmt.Errorf("sending card: %w", err)
	}

	if err := m.tickets.SetCardMessageID(ctx, t.ID, msgID); err != nil {
		return "", fmt.Errorf("storing card message id: %w", err)
	}
	t.CardMessageID = &msgID

	if err := m.platform.Pin(ctx, dst, msgID); err != nil {
		slog.WarnContext(ctx, "failed to pin summary card", "error", err)
	}
	return msgID, nil
}

// Refresh re-renders the card in place. Tickets without a card are skipped.
func (m *Manager) Refresh(ctx context.Context, t *model.Ticket) error {
	if !t.HasThread() || t.CardMessageID == nil || *t.CardMessageID == "" {
		return nil
	}
	c := Render(t)
	err := m.platform.Edit(ctx, channel.Thread(*t.ThreadID), *t.CardMessageID, channel.Edit{
		Text:    c.Text,
		Buttons: c.Buttons,
	})
	if err != nil && !errors.Is(err, channel.ErrNotModified) {
		return fmt.Errorf("updating card: %w", err)
	}
	return nil
}
