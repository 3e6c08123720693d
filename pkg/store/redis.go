package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists values as plain Redis strings and implements watch
// with keyspace notifications on the watched key.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client. The caller owns the
// client's lifecycle; key retention follows the Redis server's policy.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the value for key, or nil when absent.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, nil
}

// Set stores value under key; nil deletes.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis del %s: %w", key, err)
		}
		return nil
	}
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Watch enables keyspace events on the server, subscribes to the key's
// keyspace channel and re-reads the key on every notification. Ready is
// closed once the subscription is confirmed by the server.
func (s *RedisStore) Watch(ctx context.Context, key string, ready chan<- struct{}) (<-chan []byte, error) {
	// KEA = keyspace + keyevent notifications for all command classes.
	if err := s.client.ConfigSet(ctx, "notify-keyspace-events", "KEA").Err(); err != nil {
		return nil, fmt.Errorf("redis config set notify-keyspace-events: %w", err)
	}

	channel := fmt.Sprintf("__keyspace@%d__:%s", s.client.Options().DB, key)
	pubsub := s.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	if ready != nil {
		close(ready)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer func() {
			if err := pubsub.Close(); err != nil {
				slog.Warn("Closing Redis subscription failed", "channel", channel, "error", err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				value, err := s.Get(ctx, key)
				if err != nil {
					slog.Warn("Re-reading watched key failed", "key", key, "error", err)
					continue
				}
				select {
				case out <- value:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
