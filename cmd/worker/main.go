package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/redis/go-redis/v9"

	"supportdesk.app/relay/common/id"
	"supportdesk.app/relay/common/logger"
	"supportdesk.app/relay/common/otel"
	"supportdesk.app/relay/core/config"
	"supportdesk.app/relay/core/db"
	"supportdesk.app/relay/internal/eventbus"
	"supportdesk.app/relay/internal/platform/telegram"
	"supportdesk.app/relay/internal/queue"
	"supportdesk.app/relay/internal/realtime"
	"supportdesk.app/relay/internal/service"
	"supportdesk.app/relay/internal/store"
	"supportdesk.app/relay/internal/timer"
	"supportdesk.app/relay/internal/worker"
)

// The standalone worker runs timer jobs only. Telegram updates are polled by
// the server; browser notifications reach the servers over Redis pub/sub.
func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env, cfg.Redis.Consumer)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger.Setup(cfg)

	slog.InfoContext(ctx, "relay worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Redis.JobGroup,
		"consumer_name", cfg.Redis.Consumer)

	// Different node ID than server
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
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

	b, err := bot.New(cfg.Telegram.BotToken, bot.WithSkipGetMe())
	if err != nil {
		slog.ErrorContext(ctx, "failed to create telegram client", "error", err)
		os.Exit(1)
	}

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

	services := service.NewServices(service.ServicesConfig{
		Stores:    store.NewStores(database.Queries()),
		TxRunner:  service.NewTxRunner(database),
		Platform:  telegram.NewClient(b, cfg.Telegram.StaffGroupID, &http.Client{Timeout: 30 * time.Second}),
		Notifier:  realtime.NewRedisNotifier(redisClient, cfg.Redis.NotifyPrefix),
		Queue:     delayed,
		Publisher: publisher,
		Delays: timer.Delays{
			FirstReminder:  cfg.Timers.FirstReminder,
			SecondReminder: cfg.Timers.SecondReminder,
			Escalation:     cfg.Timers.Escalation,
			AutoClose:      cfg.Timers.AutoClose,
		},
		BotUsername: cfg.Telegram.BotUsername,
	})

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

	errCh := make(chan error, 3)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		promoter.Run(ctx)
		errCh <- nil
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Promoter and reclaimer first (quick), then the worker (may be processing)
	promoter.Stop()
	reclaimer.Stop()
	w.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
██████╗ ███████╗██╗      █████╗ ██╗   ██╗    ████████╗██╗███╗   ███╗███████╗██████╗ ███████╗
██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝    ╚══██╔══╝██║████╗ ████║██╔════╝██╔══██╗██╔════╝
██████╔╝█████╗  ██║     ███████║ ╚████╔╝        ██║   ██║██╔████╔██║█████╗  ██████╔╝███████╗
██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝         ██║   ██║██║╚██╔╝██║██╔══╝  ██╔══██╗╚════██║
██║  ██║███████╗███████╗██║  ██║   ██║          ██║   ██║██║ ╚═╝ ██║███████╗██║  ██║███████║
╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝          ╚═╝   ╚═╝╚═╝     ╚═╝╚══════╝╚═╝  ╚═╝╚══════╝
`
