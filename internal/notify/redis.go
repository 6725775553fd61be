package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisEmitter publishes events as JSON on a pub/sub channel.
type RedisEmitter struct {
	rdb     redisPublisher
	channel string
}

func NewRedisEmitter(rdb redisPublisher, channel string) *RedisEmitter {
	return &RedisEmitter{rdb: rdb, channel: channel}
}

func (r *RedisEmitter) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(stamp(e))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", e.Type, err)
	}
	return nil
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
