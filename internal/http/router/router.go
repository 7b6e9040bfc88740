package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"supportdesk.app/relay/internal/http/handler"
	"supportdesk.app/relay/internal/http/middleware"
)

type RouterConfig struct {
	Widget handler.WidgetService
	Signer interface {
		handler.Signer
		middleware.SessionVerifier
	}
	Socket        handler.SocketServer
	Health        map[string]handler.Pinger
	OriginAllowed func(origin string) bool
	MaxMessageLen int
	IsProduction  bool
}

func SetupRoutes(router *gin.Engine, cfg RouterConfig) {
	healthHandler := handler.NewHealthHandler(cfg.Health)
	router.GET("/health", healthHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		widgetHandler := handler.NewWidgetHandler(cfg.Widget, cfg.Signer, cfg.IsProduction)
		socketHandler := handler.NewSocketHandler(cfg.Socket, cfg.Widget, cfg.Signer, cfg.OriginAllowed, cfg.MaxMessageLen)
		WidgetRouter(v1.Group("/widget"), widgetHandler, socketHandler, middleware.Session(cfg.Signer))
	}
}
