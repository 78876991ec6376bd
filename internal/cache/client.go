package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Client.Get when the key is absent or expired
var ErrMiss = errors.New("cache: miss")

// Client is a byte-oriented cache backend. Implementations must be safe for
// concurrent use.
type Client interface {
	// Get returns the stored value or ErrMiss
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value for ttl
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeletePrefix removes every key starting with prefix and returns how many were removed
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	// Flush removes every key
	Flush(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Observer is notified of cache lookups, typically for metrics
type Observer interface {
	CacheHit(op string)
	CacheMiss(op string)
	CacheError(op string)
}

type noopObserver struct{}

func (noopObserver) CacheHit(string)   {}
func (noopObserver) CacheMiss(string)  {}
func (noopObserver) CacheError(string) {}
