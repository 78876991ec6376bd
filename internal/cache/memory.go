package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type entry struct {
	val []byte
	exp time.Time
}

// MemoryClient is an in-process Client for single-instance deployments and tests
type MemoryClient struct {
	mu  sync.RWMutex
	m   map[string]entry
	now func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewMemoryClient creates an empty MemoryClient
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{m: make(map[string]entry), now: time.Now}
}

// StartJanitor evicts expired entries every period until Close. Expired
// entries are also dropped when read, but keys that are never read again
// would otherwise stay forever.
func (c *MemoryClient) StartJanitor(period time.Duration) {
	if period <= 0 || c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Evict()
			case <-c.stop:
				return
			}
		}
	}()
}

func (c *MemoryClient) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrMiss
	}
	if c.now().After(e.exp) {
		c.mu.Lock()
		// a concurrent Set may have refreshed it
		if cur, ok := c.m[key]; ok && c.now().After(cur.exp) {
			delete(c.m, key)
		}
		c.mu.Unlock()
		return nil, ErrMiss
	}
	return e.val, nil
}

func (c *MemoryClient) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	// callers may reuse the slice
	val := append([]byte(nil), value...)
	c.mu.Lock()
	c.m[key] = entry{val: val, exp: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryClient) DeletePrefix(_ context.Context, prefix string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.m {
		if strings.HasPrefix(k, prefix) {
			delete(c.m, k)
			n++
		}
	}
	return n, nil
}

func (c *MemoryClient) Flush(context.Context) error {
	c.mu.Lock()
	c.m = make(map[string]entry)
	c.mu.Unlock()
	return nil
}

// Ping always succeeds
func (c *MemoryClient) Ping(context.Context) error { return nil }

// Close stops the janitor, if one was started
func (c *MemoryClient) Close() error {
	if c.stop == nil {
		return nil
	}
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
	return nil
}

// Len returns the number of stored entries, including expired ones not yet evicted
func (c *MemoryClient) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// Evict drops expired entries
func (c *MemoryClient) Evict() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.m {
		if now.After(e.exp) {
			delete(c.m, k)
			n++
		}
	}
	return n
}
