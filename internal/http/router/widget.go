package router

import (
	"github.com/gin-gonic/gin"

	"supportdesk.app/relay/internal/http/handler"
)

func WidgetRouter(rg *gin.RouterGroup, h *handler.WidgetHandler, ws *handler.SocketHandler, session gin.HandlerFunc) {
	rg.POST("/session", h.CreateSession)
	rg.GET("/protocol.json", h.Protocol)
	rg.GET("/ws", ws.Serve)

	authed := rg.Group("", session)
	authed.GET("/history", h.History)
	authed.POST("/link", h.Link)
	authed.GET("/media/:entry_id", h.Media)
}
