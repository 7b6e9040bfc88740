package handler_test

import (
	"context"

	"github.com/google/uuid"

	"supportdesk.app/relay/internal/channel"
	"supportdesk.app/relay/internal/model"
	"supportdesk.app/relay/internal/realtime"
	"supportdesk.app/relay/internal/store"
)

type mockWidgetService struct {
	sessionStateFn func(ctx context.Context, sessionID uuid.UUID, lastSeenID int64) (realtime.Connected, int64, error)
	historyFn      func(ctx context.Context, sessionID uuid.UUID, q store.HistoryQuery) (*model.MessagePage, error)
	deepLinkFn     func(sessionID uuid.UUID) string
	openMediaFn    func(ctx context.Context, sessionID uuid.UUID, entryID int64) (*channel.File, error)
}

func (m *mockWidgetService) SessionState(ctx context.Context, sessionID uuid.UUID, lastSeenID int64) (realtime.Connected, int64, error) {
	if m.sessionStateFn != nil {
		return m.sessionStateFn(ctx, sessionID, lastSeenID)
	}
	return realtime.Connected{SessionID: sessionID.String()}, 0, nil
}

func (m *mockWidgetService) History(ctx context.Context, sessionID uuid.UUID, q store.HistoryQuery) (*model.MessagePage, error) {
	if m.historyFn != nil {
		return m.historyFn(ctx, sessionID, q)
	}
	return &model.MessagePage{}, nil
}

func (m *mockWidgetService) DeepLink(sessionID uuid.UUID) string {
	if m.deepLinkFn != nil {
		return m.deepLinkFn(sessionID)
	}
	return ""
}

func (m *mockWidgetService) OpenMedia(ctx context.Context, sessionID uuid.UUID, entryID int64) (*channel.File, error) {
	if m.openMediaFn != nil {
		return m.openMediaFn(ctx, sessionID, entryID)
	}
	return nil, nil
}

type mockSocketServer struct {
	serveFn func(ctx context.Context, sessionID uuid.UUID, ticketID int64, ws realtime.Conn, hello realtime.Connected)
}

func (m *mockSocketServer) Serve(ctx context.Context, sessionID uuid.UUID, ticketID int64, ws realtime.Conn, hello realtime.Connected) {
	if m.serveFn != nil {
		m.serveFn(ctx, sessionID, ticketID, ws, hello)
	}
}

type mockFrameHandler struct {
	messages chan realtime.ClientMessage
}

func (m *mockFrameHandler) HandleMessage(_ context.Context, _ uuid.UUID, msg realtime.ClientMessage) (int64, *realtime.Message, error) {
	m.messages <- msg
	return 0, nil, nil
}

func (m *mockFrameHandler) HandleTyping(context.Context, uuid.UUID, int64, realtime.Typing) {}

func (m *mockFrameHandler) HandleClose(context.Context, uuid.UUID, int64, realtime.CloseRequest) error {
	return nil
}
