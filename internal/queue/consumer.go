package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"supportdesk.app/relay/common/logger"
)

type ConsumerConfig struct {
	Stream    string        // Redis stream the promoter writes due jobs to
	Group     string        // Redis consumer group name
	Consumer  string        // Redis consumer name
	DLQStream string        // Dead letter queue stream for failed jobs
	BatchSize int64         // Number of messages to process per batch
	Block     time.Duration // How long to block/poll for new messages
}

type Message struct {
	ID  string
	Key string
	Job Job
	Raw redis.XMessage
}

// MessageProcessor processes a queue message.
type MessageProcessor func(ctx context.Context, msg Message) error

type RedisConsumer struct {
	client  *redis.Client
	delayed *RedisDelayedQueue
	cfg     ConsumerConfig
}

func NewRedisConsumer(client *redis.Client, delayed *RedisDelayedQueue, cfg ConsumerConfig) (*RedisConsumer, error) {
	consumer := &RedisConsumer{
		client:  client,
		delayed: delayed,
		cfg:     cfg,
	}

	if err := consumer.ensureGroup(context.Background()); err != nil { //nolint:contextcheck
		return nil, err
	}

	return consumer, nil
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Starting from "0" instead of "$" means jobs promoted while no worker was
	// running are still delivered once the group is created.
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "relay.queue.consumer",
	})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		// > = new messages only; this consumer's unacked ones are left to the reclaimer
		Streams: []string{c.cfg.Stream, ">"},
		Count:   c.cfg.BatchSize,
		Block:   c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, parseErr := ParseMessage(msg)
			if parseErr != nil {
				slog.ErrorContext(ctx, "failed to parse message",
					"error", parseErr,
					"raw_message_id", msg.ID,
					"stream", c.cfg.Stream)
				_ = c.Ack(ctx, Message{ID: msg.ID, Raw: msg})
				continue
			}
			messages = append(messages, parsed)
		}
	}

	if len(messages) > 0 {
		slog.DebugContext(ctx, "read messages from stream",
			"count", len(messages),
			"stream", c.cfg.Stream,
			"consumer", c.cfg.Consumer)
	}

	return messages, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}

	slog.DebugContext(ctx, "message acknowledged", "stream", c.cfg.Stream)
	return nil
}

// Requeue schedules the next attempt of msg after delay and acknowledges the
// current delivery. The retry is dropped if the same key was scheduled again
// in the meantime; the fresher schedule wins.
func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, delay time.Duration, errMsg string) error {
	job := msg.Job
	job.Attempt = msg.Job.Attempt + 1
	job.LastError = errMsg

	added, err := c.delayed.ScheduleIfAbsent(ctx, job, delay)
	if err != nil {
		return fmt.Errorf("scheduling retry: %w", err)
	}

	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for requeue: %w", err)
	}

	if !added {
		slog.InfoContext(ctx, "retry skipped, job was rescheduled meanwhile",
			"next_attempt", job.Attempt)
		return nil
	}

	slog.InfoContext(ctx, "message requeued for retry",
		"next_attempt", job.Attempt,
		"delay", delay,
		"reason", errMsg)
	return nil
}

func (c *RedisConsumer) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	payload, err := encodeJob(msg.Job)
	if err != nil {
		return err
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DLQStream,
		Values: map[string]any{
			"key":     msg.Key,
			"payload": payload,
			"error":   errMsg,
		},
	}).Err(); err != nil {
		return fmt.Errorf("xadd dlq (stream=%s): %w", c.cfg.DLQStream, err)
	}

	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for dlq: %w", err)
	}

	slog.ErrorContext(ctx, "message sent to DLQ",
		"final_error", errMsg,
		"dlq_stream", c.cfg.DLQStream)
	return nil
}

// DeadLetter is a job that exhausted its attempts.
type DeadLetter struct {
	ID    string
	Key   string
	Job   Job
	Error string
}

// ListDLQ returns the newest dead letters first.
func (c *RedisConsumer) ListDLQ(ctx context.Context, count int64) ([]DeadLetter, error) {
	msgs, err := c.client.XRevRangeN(ctx, c.cfg.DLQStream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("reading dlq: %w", err)
	}

	out := make([]DeadLetter, 0, len(msgs))
	for _, m := range msgs {
		parsed, err := ParseMessage(m)
		if err != nil {
			continue
		}
		errMsg, _ := parseOptionalString(m.Values, "error")
		out = append(out, DeadLetter{ID: m.ID, Key: parsed.Key, Job: parsed.Job, Error: errMsg})
	}
	return out, nil
}

func ParseMessage(msg redis.XMessage) (Message, error) {
	key, err := parseString(msg.Values, "key")
	if err != nil {
		return Message{}, err
	}
	payload, err := parseString(msg.Values, "payload")
	if err != nil {
		return Message{}, err
	}

	job, err := decodeJob(payload)
	if err != nil {
		return Message{}, err
	}
	if job.Key() != key {
		return Message{}, fmt.Errorf("key %q does not match payload %q", key, job.Key())
	}

	return Message{
		ID:  msg.ID,
		Key: key,
		Job: job,
		Raw: msg,
	}, nil
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", nil
	}
	return fmt.Sprint(raw), nil
}
