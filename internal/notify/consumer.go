package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

// StreamConsumer reads the change stream through a consumer group. A change
// is acknowledged once the handler accepts it; failed deliveries stay
// pending and are reclaimed after ReclaimIdle.
type StreamConsumer struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	logger   zerolog.Logger

	BatchSize   int64
	Block       time.Duration // negative reads without blocking
	ReclaimIdle time.Duration
}

func NewStreamConsumer(client *redis.Client, stream, group, consumer string, logger zerolog.Logger) *StreamConsumer {
	return &StreamConsumer{
		client:      client,
		stream:      stream,
		group:       group,
		consumer:    consumer,
		logger:      logger,
		BatchSize:   50,
		Block:       2 * time.Second,
		ReclaimIdle: time.Minute,
	}
}

// EnsureGroup creates the stream and the group when missing.
func (c *StreamConsumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", c.group, c.stream, err)
	}
	return nil
}

// RunOnce delivers one batch of new changes and returns how many were
// acknowledged.
func (c *StreamConsumer) RunOnce(ctx context.Context, handler scheduling.Notifier) (int, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.BatchSize,
		Block:    c.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", c.stream, err)
	}

	acked := 0
	for _, s := range streams {
		n, err := c.deliver(ctx, s.Messages, handler)
		acked += n
		if err != nil {
			return acked, err
		}
	}
	return acked, nil
}

// Reclaim takes over changes left pending by crashed or failing consumers
// and retries them.
func (c *StreamConsumer) Reclaim(ctx context.Context, handler scheduling.Notifier) (int, error) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  c.ReclaimIdle,
		Start:    "0-0",
		Count:    c.BatchSize,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("reclaim %s: %w", c.stream, err)
	}
	return c.deliver(ctx, msgs, handler)
}

func (c *StreamConsumer) deliver(ctx context.Context, msgs []redis.XMessage, handler scheduling.Notifier) (int, error) {
	acked := 0
	for _, msg := range msgs {
		change, err := decodeChange(msg)
		if err != nil {
			// unreadable entries would be redelivered forever
			c.logger.Error().Err(err).Str("message_id", msg.ID).Msg("dropping malformed change")
		} else if err := handler.NotifyAppointmentChange(ctx, change); err != nil {
			c.logger.Warn().
				Err(err).
				Str("message_id", msg.ID).
				Str("change_id", change.ID).
				Msg("notification delivery failed, left pending")
			continue
		}

		if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
			return acked, fmt.Errorf("ack %s: %w", msg.ID, err)
		}
		acked++
	}
	return acked, nil
}

func decodeChange(msg redis.XMessage) (scheduling.AppointmentChange, error) {
	var change scheduling.AppointmentChange
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		return change, errors.New("missing payload")
	}
	if err := json.Unmarshal([]byte(raw), &change); err != nil {
		return change, fmt.Errorf("decode payload: %w", err)
	}
	return change, nil
}
