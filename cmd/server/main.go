package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"supportdesk.app/relay/common/id"
	"supportdesk.app/relay/common/logger"
	"supportdesk.app/relay/common/otel"
	"supportdesk.app/relay/core/config"
	"supportdesk.app/relay/core/db"
	"supportdesk.app/relay/internal/eventbus"
	"supportdesk.app/relay/internal/http/handler"
	"supportdesk.app/relay/internal/http/middleware"
	httprouter "supportdesk.app/relay/internal/http/router"
	"supportdesk.app/relay/internal/platform/telegram"
	"supportdesk.app/relay/internal/queue"
	"supportdesk.app/relay/internal/realtime"
	"supportdesk.app/relay/internal/service"
	"supportdesk.app/relay/internal/store"
	"supportdesk.app/relay/internal/timer"
	"supportdesk.app/relay/internal/worker"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env, cfg.Redis.Consumer)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "relay starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Redis.JobStream)

	b, err := bot.New(cfg.Telegram.BotToken, bot.WithErrorsHandler(func(err error) {
		slog.Warn("telegram polling error", "error", err)
	}))
	if err != nil {
		slog.ErrorContext(ctx, "failed to create telegram bot", "error", err)
		os.Exit(1)
	}

	botUsername := cfg.Telegram.BotUsername
	if botUsername == "" {
		me, err := b.GetMe(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to resolve bot username", "error", err)
			os.Exit(1)
		}
		botUsername = me.Username
	}
	slog.InfoContext(ctx, "telegram bot ready", "username", botUsername, "staff_group_id", cfg.Telegram.StaffGroupID)

	platform := telegram.NewClient(b, cfg.Telegram.StaffGroupID, &http.Client{Timeout: 30 * time.Second})

	registry := realtime.NewRegistry(realtime.RegistryConfig{
		PingInterval: cfg.Web.PingInterval,
		CleanupEvery: cfg.Web.CleanupEvery,
		MaxIdle:      cfg.Web.MaxIdle,
	})

	publisher := eventbus.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer publisher.Close()

	delayed := queue.NewRedisDelayedQueue(redisClient, queue.DelayedQueueConfig{
		Prefix: cfg.Redis.Prefix,
		Stream: cfg.Redis.JobStream,
	})

	consumer, err := queue.NewRedisConsumer(redisClient, delayed, queue.ConsumerConfig{
		Stream:    cfg.Redis.JobStream,
		Group:     cfg.Redis.JobGroup,
		Consumer:  cfg.Redis.Consumer,
		DLQStream: cfg.Redis.DLQStream,
		BatchSize: 10,
		Block:     5 * time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	signer := service.NewSigner(cfg.Web.CookieSecret)
	services := service.NewServices(service.ServicesConfig{
		Stores:    store.NewStores(database.Queries()),
		TxRunner:  service.NewTxRunner(database),
		Platform:  platform,
		Notifier:  registry,
		Queue:     delayed,
		Publisher: publisher,
		Signer:    signer,
		Delays: timer.Delays{
			FirstReminder:  cfg.Timers.FirstReminder,
			SecondReminder: cfg.Timers.SecondReminder,
			Escalation:     cfg.Timers.Escalation,
			AutoClose:      cfg.Timers.AutoClose,
		},
		BotUsername: botUsername,
	})
	relay := services.Relay()

	socketServer := realtime.NewServer(registry, service.NewSocketHandler(relay), realtime.ServerConfig{
		MaxMessageLen: cfg.Web.MaxMessageLen,
		RateLimit:     cfg.Web.RateLimit,
	})

	telegram.NewDispatcher(relay, b, cfg.Telegram.StaffGroupID).Register(b)

	w := worker.New(consumer, services.TimerHandlers(timer.Staff{
		Mentions: cfg.Telegram.StaffMentions,
		UserIDs:  cfg.Telegram.StaffUserIDs,
	}, cfg.Timers.AutoClose), worker.Config{
		MaxAttempts: cfg.Timers.MaxAttempts,
		RetryBase:   cfg.Timers.RetryBase,
		RetryMax:    cfg.Timers.RetryMax,
	})
	promoter := queue.NewPromoter(delayed, cfg.Timers.PromoteEvery)
	reclaimer := worker.NewReclaimer(redisClient, consumer, w.Settle, worker.ReclaimerConfig{
		Stream:        cfg.Redis.JobStream,
		Group:         cfg.Redis.JobGroup,
		Consumer:      cfg.Redis.Consumer + "-reclaimer",
		MinIdle:       cfg.Timers.ReclaimIdle,
		Interval:      cfg.Timers.ReclaimEvery,
		BatchSize:     10,
		MaxDeliveries: int64(cfg.Timers.MaxDeliveries),
	})
	bridge := realtime.NewBridge(redisClient, cfg.Redis.NotifyPrefix, registry)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, httprouter.RouterConfig{
		Widget: relay,
		Signer: signer,
		Socket: socketServer,
		Health: map[string]handler.Pinger{
			"postgres": handler.PingFunc(database.Ping),
			"redis": handler.PingFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		},
		OriginAllowed: cfg.Web.OriginAllowed,
		MaxMessageLen: cfg.Web.MaxMessageLen,
		IsProduction:  cfg.IsProduction(),
	})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Sockets set their own write deadlines per frame.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	go func() {
		if err := registry.Run(runCtx); err != nil && runCtx.Err() == nil {
			slog.ErrorContext(ctx, "registry stopped", "error", err)
		}
	}()
	go func() {
		if err := bridge.Run(runCtx); err != nil && runCtx.Err() == nil {
			slog.ErrorContext(ctx, "notification bridge stopped", "error", err)
		}
	}()
	go promoter.Run(runCtx)
	go reclaimer.Run(runCtx)
	go func() {
		if err := w.Run(runCtx); err != nil && runCtx.Err() == nil {
			slog.ErrorContext(ctx, "worker stopped", "error", err)
		}
	}()
	go func() {
		slog.InfoContext(ctx, "telegram polling started")
		b.Start(runCtx)
	}()

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	// Hijacked sockets are not tracked by Shutdown, close them first.
	registry.CloseAll("server shutting down")
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	promoter.Stop()
	reclaimer.Stop()
	w.Stop()
	registry.Stop()
	socketServer.Shutdown()
	stopRun()

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, routes httprouter.RouterConfig) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName, otelgin.WithFilter(func(r *http.Request) bool {
			return !strings.HasSuffix(r.URL.Path, "/ws")
		})))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, routes)

	return router
}

const banner = `
██████╗ ███████╗██╗      █████╗ ██╗   ██╗
██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝
██████╔╝█████╗  ██║     ███████║ ╚████╔╝
██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝
██║  ██║███████╗███████╗██║  ██║   ██║
╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝
`
