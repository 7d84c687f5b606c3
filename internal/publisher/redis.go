package publisher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"task-service/internal/domain"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisStreamForwarder appends change events to a Redis stream. The stream is
// capped at roughly maxLen entries; consumers read it with XREAD or consumer
// groups.
type RedisStreamForwarder struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamForwarder(redisURL, stream string, maxLen int64) (*RedisStreamForwarder, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	log.WithFields(log.Fields{
		"addr":   client.Options().Addr,
		"stream": stream,
	}).Info("Change event Redis stream connection established")

	return &RedisStreamForwarder{client: client, stream: stream, maxLen: maxLen}, nil
}

func (f *RedisStreamForwarder) Handle(ctx context.Context, event domain.ChangeEvent) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}

	err = f.client.XAdd(ctx, &redis.XAddArgs{
		Stream: f.stream,
		MaxLen: f.maxLen,
		Approx: f.maxLen > 0,
		Values: map[string]any{
			"event_id":  event.ID.String(),
			"entity":    event.EntityType,
			"entity_id": strconv.FormatInt(event.EntityID, 10),
			"action":    event.Action.Label(),
			"payload":   string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("appending to redis stream %s: %w", f.stream, err)
	}
	return nil
}

func (f *RedisStreamForwarder) Close() error {
	return f.client.Close()
}
