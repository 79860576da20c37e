package cache

import (
	"context"
	"time"
)

// Cache is the key-value surface the judge needs from a remote cache.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	Ping(ctx context.Context) error
	Close() error
}
