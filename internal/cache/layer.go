package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Layer wraps read-path computations with cache-aside semantics. Backend
// failures are logged and swallowed so callers only ever see compute errors.
// A Layer built with a nil Client is disabled and always computes.
type Layer struct {
	client   Client
	observer Observer
	logger   zerolog.Logger
}

// NewLayer creates a Layer over client. Pass nil to disable caching.
func NewLayer(client Client, logger zerolog.Logger) *Layer {
	return &Layer{
		client:   client,
		observer: noopObserver{},
		logger:   logger.With().Str("component", "cache").Logger(),
	}
}

// SetObserver attaches an observer for hit/miss accounting
func (l *Layer) SetObserver(o Observer) {
	if o != nil {
		l.observer = o
	}
}

// Enabled reports whether a backend is attached
func (l *Layer) Enabled() bool {
	return l != nil && l.client != nil
}

// Available pings the backend
func (l *Layer) Available(ctx context.Context) bool {
	return l.Enabled() && l.client.Ping(ctx) == nil
}

// Key builds a deterministic cache key of the form "op|arg1,arg2". Args are
// query-escaped so distinct argument lists never share a key.
func Key(op string, args ...any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = url.QueryEscape(fmt.Sprint(a))
	}
	return op + "|" + strings.Join(parts, ",")
}

// opOf returns the operation part of a key built by Key
func opOf(key string) string {
	op, _, _ := strings.Cut(key, "|")
	return op
}

// WithCache returns the cached value for key, or runs compute and stores its
// result for ttl. Errors from compute are returned and never cached. A
// non-positive ttl bypasses the cache.
func WithCache[T any](ctx context.Context, l *Layer, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	if !l.Enabled() || ttl <= 0 {
		return compute(ctx)
	}
	op := opOf(key)

	raw, err := l.client.Get(ctx, key)
	switch {
	case err == nil:
		var cached T
		decodeErr := json.Unmarshal(raw, &cached)
		if decodeErr == nil {
			l.observer.CacheHit(op)
			return cached, nil
		}
		l.logger.Warn().Err(decodeErr).Str("key", key).Msg("Discarding undecodable cache entry")
		l.observer.CacheMiss(op)
	case errors.Is(err, ErrMiss):
		l.observer.CacheMiss(op)
	default:
		l.observer.CacheError(op)
		l.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed, computing")
	}

	val, err := compute(ctx)
	if err != nil {
		return val, err
	}

	raw, err = json.Marshal(val)
	if err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("Result not cacheable")
		return val, nil
	}
	if err := l.client.Set(ctx, key, raw, ttl); err != nil {
		l.observer.CacheError(op)
		l.logger.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
	return val, nil
}

// ClearPrefix removes every key starting with prefix and returns the number
// removed. It returns 0 when the layer is disabled or the backend fails.
func (l *Layer) ClearPrefix(ctx context.Context, prefix string) int {
	if !l.Enabled() {
		return 0
	}
	n, err := l.client.DeletePrefix(ctx, prefix)
	if err != nil {
		l.logger.Warn().Err(err).Str("prefix", prefix).Msg("Failed to clear cache prefix")
		return n
	}
	if n > 0 {
		l.logger.Debug().Str("prefix", prefix).Int("deleted", n).Msg("Cleared cache prefix")
	}
	return n
}

// ClearAll removes every cached entry. It reports false when the layer is
// disabled or the backend fails.
func (l *Layer) ClearAll(ctx context.Context) bool {
	if !l.Enabled() {
		return false
	}
	if err := l.client.Flush(ctx); err != nil {
		l.logger.Warn().Err(err).Msg("Failed to clear cache")
		return false
	}
	l.logger.Info().Msg("Cleared all cache entries")
	return true
}

// Close releases the backend
func (l *Layer) Close() error {
	if !l.Enabled() {
		return nil
	}
	return l.client.Close()
}
