package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"supportdesk.app/relay/common/logger"
	"supportdesk.app/relay/internal/metrics"
)

// Conn is a full browser socket. *websocket.Conn satisfies it.
type Conn interface {
	Socket
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
}

// Handler receives the validated frames of a session.
type Handler interface {
	// HandleMessage stores and relays a customer message. It returns the
	// ticket the message landed on and the stored message to echo.
	HandleMessage(ctx context.Context, sessionID uuid.UUID, msg ClientMessage) (int64, *Message, error)
	HandleTyping(ctx context.Context, sessionID uuid.UUID, ticketID int64, typing Typing)
	HandleClose(ctx context.Context, sessionID uuid.UUID, ticketID int64, req CloseRequest) error
}

type ServerConfig struct {
	MaxMessageLen int
	RateLimit     int // messages per minute per session
}

// Server runs the read loop of browser sockets.
type Server struct {
	registry *Registry
	handler  Handler
	limiter  *limiterPool
	cfg      ServerConfig
}

func NewServer(registry *Registry, handler Handler, cfg ServerConfig) *Server {
	if cfg.MaxMessageLen <= 0 {
		cfg.MaxMessageLen = 4000
	}
	return &Server{
		registry: registry,
		handler:  handler,
		limiter:  newLimiterPool(cfg.RateLimit),
		cfg:      cfg,
	}
}

// Serve registers the socket, greets it and reads frames until the socket
// closes or ctx is done.
func (s *Server) Serve(ctx context.Context, sessionID uuid.UUID, ticketID int64, ws Conn, hello Connected) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		SessionID: logger.Ptr(sessionID.String()),
		Component: "relay.realtime.session",
	})
	if ticketID != 0 {
		ctx = logger.WithLogFields(ctx, logger.LogFields{TicketID: &ticketID})
	}

	conn := s.registry.Add(sessionID, ticketID, ws)
	defer s.registry.Remove(sessionID, ws)

	slog.InfoContext(ctx, "browser connected")
	s.reply(ctx, conn, EventConnected, hello)

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 && !errors.Is(err, context.Canceled) {
				slog.DebugContext(ctx, "browser read ended", "error", err)
			}
			slog.InfoContext(ctx, "browser disconnected", "close_status", int(status))
			return
		}
		s.registry.Touch(sessionID)
		s.handleFrame(ctx, conn, data)
	}
}

func (s *Server) handleFrame(ctx context.Context, conn *Connection, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.replyError(ctx, conn, ErrCodeInvalidPayload, "frame is not a valid envelope")
		return
	}

	switch env.Type {
	case EventMessage:
		var msg ClientMessage
		if !s.decode(ctx, conn, env, &msg) {
			return
		}
		s.handleMessage(ctx, conn, msg)

	case EventTyping:
		var typing Typing
		if !s.decode(ctx, conn, env, &typing) {
			return
		}
		if ticketID := s.ticketOf(conn); ticketID != 0 {
			s.handler.HandleTyping(ctx, conn.SessionID, ticketID, typing)
		}

	case EventClose:
		var req CloseRequest
		if !s.decode(ctx, conn, env, &req) {
			return
		}
		ticketID := s.ticketOf(conn)
		if ticketID == 0 {
			s.replyError(ctx, conn, ErrCodeInvalidPayload, "no conversation to close")
			return
		}
		if err := s.handler.HandleClose(ctx, conn.SessionID, ticketID, req); err != nil {
			slog.ErrorContext(ctx, "failed to handle close request", "error", err)
			s.replyError(ctx, conn, ErrCodeInternal, "could not close the conversation")
		}

	case EventPong:
		// activity already refreshed

	default:
		s.replyError(ctx, conn, ErrCodeUnknownType, "unknown event type")
	}
}

func (s *Server) handleMessage(ctx context.Context, conn *Connection, msg ClientMessage) {
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" {
		s.replyError(ctx, conn, ErrCodeEmptyMessage, "message is empty")
		return
	}
	if utf8.RuneCountInString(msg.Text) > s.cfg.MaxMessageLen {
		s.replyError(ctx, conn, ErrCodeTooLong, "message is too long")
		return
	}
	if !s.limiter.Allow(conn.SessionID) {
		metrics.RateLimited.Inc()
		s.replyError(ctx, conn, ErrCodeRateLimited, "too many messages, slow down")
		return
	}

	ticketID, stored, err := s.handler.HandleMessage(ctx, conn.SessionID, msg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to handle browser message", "error", err)
		s.replyError(ctx, conn, ErrCodeInternal, "message could not be delivered")
		return
	}
	if ticketID != 0 {
		s.registry.Bind(conn.SessionID, ticketID)
	}
	if stored != nil {
		s.reply(ctx, conn, EventMessage, stored)
	}
}

func (s *Server) decode(ctx context.Context, conn *Connection, env Envelope, v any) bool {
	if len(env.Data) == 0 {
		return true
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		s.replyError(ctx, conn, ErrCodeInvalidPayload, "invalid "+string(env.Type)+" payload")
		return false
	}
	return true
}

func (s *Server) ticketOf(conn *Connection) int64 {
	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()
	return conn.TicketID
}

func (s *Server) reply(ctx context.Context, conn *Connection, eventType EventType, payload any) {
	frame, err := Encode(eventType, payload)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode event", "error", err, "type", eventType)
		return
	}
	s.registry.write(ctx, conn, frame)
}

func (s *Server) replyError(ctx context.Context, conn *Connection, code, message string) {
	slog.DebugContext(ctx, "rejecting browser frame", "code", code)
	s.reply(ctx, conn, EventError, Error{Code: code, Message: message})
}

// Shutdown stops background work owned by the server.
func (s *Server) Shutdown() {
	s.limiter.Shutdown()
}
