package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"supportdesk.app/relay/common/logger"
	"supportdesk.app/relay/core/config"
	"supportdesk.app/relay/internal/queue"
)

var rootCmd = &cobra.Command{
	Use:          "supportctl",
	Short:        "Operate the support relay",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(config.ServiceTypeCLI)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		logger.Setup(cfg)
		cmd.SetContext(withConfig(cmd.Context(), cfg))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(timersCmd)
	rootCmd.AddCommand(dlqCmd)
	rootCmd.AddCommand(ticketsCmd)
}

type configKey struct{}

func withConfig(ctx context.Context, cfg config.Config) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFrom(cmd *cobra.Command) config.Config {
	cfg, _ := cmd.Context().Value(configKey{}).(config.Config)
	return cfg
}

func connectRedis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

func delayedQueue(client *redis.Client, cfg config.Config) *queue.RedisDelayedQueue {
	return queue.NewRedisDelayedQueue(client, queue.DelayedQueueConfig{
		Prefix: cfg.Redis.Prefix,
		Stream: cfg.Redis.JobStream,
	})
}
