package instance

import (
	"context"
	"time"
)

type Redis interface {
	Subscribe(ctx context.Context, ch chan string, subscribeTo ...string)
	Ping(ctx context.Context) error
	Publish(ctx context.Context, channel string, content string) error
	// Expire reports false when the key no longer exists.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	// Get returns redis.Nil when the key does not exist.
	Get(ctx context.Context, key string) (string, error)
	SetEX(ctx context.Context, key string, value string, ttl time.Duration) error
	Set(ctx context.Context, key string, value string) error
	// Keys lists keys matching pattern using SCAN.
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close() error
}
