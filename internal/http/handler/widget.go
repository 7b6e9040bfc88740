package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"supportdesk.app/relay/internal/channel"
	"supportdesk.app/relay/internal/http/dto"
	"supportdesk.app/relay/internal/http/middleware"
	"supportdesk.app/relay/internal/model"
	"supportdesk.app/relay/internal/realtime"
	"supportdesk.app/relay/internal/service"
	"supportdesk.app/relay/internal/store"
)

const sessionCookieMaxAge = 365 * 24 * time.Hour

// WidgetService is what the widget endpoints need from the relay.
type WidgetService interface {
	SessionState(ctx context.Context, sessionID uuid.UUID, lastSeenID int64) (realtime.Connected, int64, error)
	History(ctx context.Context, sessionID uuid.UUID, q store.HistoryQuery) (*model.MessagePage, error)
	DeepLink(sessionID uuid.UUID) string
	OpenMedia(ctx context.Context, sessionID uuid.UUID, entryID int64) (*channel.File, error)
}

// Signer issues and checks signed session values.
type Signer interface {
	SignSession(sessionID uuid.UUID) string
	VerifySession(value string) (uuid.UUID, error)
}

type WidgetHandler struct {
	relay        WidgetService
	signer       Signer
	secureCookie bool
}

func NewWidgetHandler(relay WidgetService, signer Signer, secureCookie bool) *WidgetHandler {
	return &WidgetHandler{relay: relay, signer: signer, secureCookie: secureCookie}
}

// CreateSession returns the caller's session, issuing a new one when the
// request carries none or an invalid one.
func (h *WidgetHandler) CreateSession(c *gin.Context) {
	ctx := c.Request.Context()

	sessionID, err := h.signer.VerifySession(middleware.SignedSession(c))
	if err != nil {
		sessionID = uuid.New()
		slog.InfoContext(ctx, "new widget session", "session_id", sessionID.String())
	}
	token := h.signer.SignSession(sessionID)

	sameSite := http.SameSiteLaxMode
	if h.secureCookie {
		// The widget is embedded on customer sites.
		sameSite = http.SameSiteNoneMode
	}
	c.SetSameSite(sameSite)
	c.SetCookie(middleware.SessionCookie, token, int(sessionCookieMaxAge.Seconds()), "/", "", h.secureCookie, true)

	c.JSON(http.StatusOK, dto.SessionResponse{SessionID: sessionID.String(), Token: token})
}

func (h *WidgetHandler) History(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.HistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		slog.WarnContext(ctx, "invalid history query", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	page, err := h.relay.History(ctx, middleware.SessionID(c), store.HistoryQuery{
		Limit:  req.Limit,
		Before: req.Before,
		After:  req.After,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to load history", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}

	c.JSON(http.StatusOK, dto.ToHistoryResponse(page))
}

func (h *WidgetHandler) Link(c *gin.Context) {
	c.JSON(http.StatusOK, dto.LinkResponse{URL: h.relay.DeepLink(middleware.SessionID(c))})
}

// Media streams an image or voice message of the session's ticket.
func (h *WidgetHandler) Media(c *gin.Context) {
	ctx := c.Request.Context()

	entryID, err := strconv.ParseInt(c.Param("entry_id"), 10, 64)
	if err != nil || entryID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entry id"})
		return
	}

	file, err := h.relay.OpenMedia(ctx, middleware.SessionID(c), entryID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		case errors.Is(err, service.ErrTicketNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		default:
			slog.ErrorContext(ctx, "failed to open media", "error", err, "entry_id", entryID)
			c.JSON(http.StatusBadGateway, gin.H{"error": "media unavailable"})
		}
		return
	}
	defer file.Body.Close()

	c.DataFromReader(http.StatusOK, file.Size, file.ContentType, file.Body, map[string]string{
		"Cache-Control": "private, max-age=86400",
	})
}

// Protocol serves the JSON schema of the socket protocol.
func (h *WidgetHandler) Protocol(c *gin.Context) {
	c.JSON(http.StatusOK, realtime.ProtocolSchema())
}
