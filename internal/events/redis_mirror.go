package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hubnity/timer-agent/internal/logger"
)

// RedisMirror is set as a Hub's mirror and publishes every event the Hub
// receives to a single Redis channel, for consumers outside the agent process (a
// companion dashboard, a second device watching the same account). It is
// only constructed when EventsConfig.RedisAddr is set; otherwise the Hub
// alone is used as the Publisher.
type RedisMirror struct {
	client  *redis.Client
	channel string
}

func NewRedisMirror(addr, password string, db int, channel string) *RedisMirror {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisMirror{client: client, channel: channel}
}

// Publish implements Publisher; it is meant to be called as a Hub's
// mirror, not directly.
func (r *RedisMirror) Publish(ctx context.Context, event *Event) error {
	data, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("events: serialize event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("events: publish to redis: %w", err)
	}

	logger.Debug().
		Str("event_type", string(event.Type)).
		Str("channel", r.channel).
		Msg("event mirrored to redis")
	return nil
}

func (r *RedisMirror) Close() error {
	return r.client.Close()
}
