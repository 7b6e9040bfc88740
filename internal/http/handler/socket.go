package handler

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"supportdesk.app/relay/internal/http/middleware"
	"supportdesk.app/relay/internal/realtime"
	"supportdesk.app/relay/internal/service"
)

// CityHeader is set by the CDN in front of the server.
const CityHeader = "CF-IPCity"

// SocketServer runs an accepted browser socket.
type SocketServer interface {
	Serve(ctx context.Context, sessionID uuid.UUID, ticketID int64, ws realtime.Conn, hello realtime.Connected)
}

type SocketHandler struct {
	server        SocketServer
	relay         WidgetService
	signer        Signer
	originAllowed func(origin string) bool
	readLimit     int64
}

func NewSocketHandler(server SocketServer, relay WidgetService, signer Signer, originAllowed func(string) bool, maxMessageLen int) *SocketHandler {
	return &SocketHandler{
		server:        server,
		relay:         relay,
		signer:        signer,
		originAllowed: originAllowed,
		// A rune escaped as a JSON surrogate pair takes 12 bytes. Frames up
		// to that size reach the length check and get an error event.
		readLimit: int64(maxMessageLen)*12 + 1024,
	}
}

// Serve upgrades the request. Origin and session are checked after the
// upgrade so the widget learns the reason from the close code.
func (h *SocketHandler) Serve(c *gin.Context) {
	ctx := c.Request.Context()

	c.Status(http.StatusSwitchingProtocols)
	conn, err := websocket.Accept(upgradeWriter(c.Writer), c.Request, &websocket.AcceptOptions{
		// Origins are checked below against the configured allowlist.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.WarnContext(ctx, "websocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.readLimit)

	origin := c.GetHeader("Origin")
	if h.originAllowed != nil && !h.originAllowed(origin) {
		slog.WarnContext(ctx, "socket from forbidden origin", "origin", origin)
		_ = conn.Close(realtime.CloseForbiddenOrigin, "forbidden origin")
		return
	}

	sessionID, err := h.signer.VerifySession(middleware.SignedSession(c))
	if err != nil {
		_ = conn.Close(realtime.CloseInvalidSession, "invalid session")
		return
	}

	lastSeen, _ := strconv.ParseInt(c.Query("last_seen"), 10, 64)
	hello, ticketID, err := h.relay.SessionState(ctx, sessionID, lastSeen)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load session state", "error", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}

	ctx = service.WithVisitor(ctx, service.Visitor{
		PageURL: c.Query("page"),
		IP:      c.ClientIP(),
		City:    c.GetHeader(CityHeader),
	})
	h.server.Serve(ctx, sessionID, ticketID, conn, hello)
}

// hijackWriter writes the 101 response straight to the server connection and
// hijacks through gin, which refuses Hijack once a status went out through its
// own writer.
type hijackWriter struct {
	http.ResponseWriter
	hijack func() (net.Conn, *bufio.ReadWriter, error)
}

func (w hijackWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.hijack()
}

func upgradeWriter(w gin.ResponseWriter) http.ResponseWriter {
	u, ok := w.(interface{ Unwrap() http.ResponseWriter })
	if !ok {
		return w
	}
	return hijackWriter{ResponseWriter: u.Unwrap(), hijack: w.Hijack}
}
