package service

import (
	"context"

	"github.com/google/uuid"

	"supportdesk.app/relay/internal/realtime"
)

// socketHandler adapts the relay to the browser session read loop.
type socketHandler struct {
	relay RelayService
}

func NewSocketHandler(relay RelayService) realtime.Handler {
	return &socketHandler{relay: relay}
}

func (h *socketHandler) HandleMessage(ctx context.Context, sessionID uuid.UUID, msg realtime.ClientMessage) (int64, *realtime.Message, error) {
	ticketID, entry, err := h.relay.HandleWebMessage(ctx, sessionID, msg.Text, msg.ReplyTo)
	if err != nil {
		return 0, nil, err
	}
	if entry == nil {
		return ticketID, nil, nil
	}
	out := realtime.MessageFromEntry(entry)
	return ticketID, &out, nil
}

func (h *socketHandler) HandleTyping(ctx context.Context, _ uuid.UUID, ticketID int64, typing realtime.Typing) {
	h.relay.HandleWebTyping(ctx, ticketID, typing.IsTyping)
}

func (h *socketHandler) HandleClose(ctx context.Context, sessionID uuid.UUID, ticketID int64, req realtime.CloseRequest) error {
	return h.relay.CloseFromWeb(ctx, sessionID, ticketID, req.Resolved, req.Feedback)
}
