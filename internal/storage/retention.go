package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultPrunePeriod  = time.Hour
	pruneStatementLimit = time.Minute
)

// Pruner deletes readings past the retention window
type Pruner interface {
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
}

// RetentionCleanerConfig holds configuration for the cleaner
type RetentionCleanerConfig struct {
	RetentionDays int // 0 keeps readings forever
	CleanupPeriod time.Duration
}

// RetentionCleanerStats summarises the prune passes so far
type RetentionCleanerStats struct {
	RetentionDays   int       `json:"retention_days"`
	TotalCleanups   int64     `json:"total_cleanups"`
	FailedCleanups  int64     `json:"failed_cleanups"`
	TotalDeleted    int64     `json:"total_deleted"`
	LastDeleteCount int64     `json:"last_delete_count"`
	LastCleanup     time.Time `json:"last_cleanup,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
}

// RetentionCleaner prunes readings older than the retention window on a
// fixed period. Batch runs stay, so the run list keeps its full history
// even after the readings behind it are gone.
type RetentionCleaner struct {
	store  Pruner
	days   int
	period time.Duration
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	stats RetentionCleanerStats
}

// NewRetentionCleaner starts pruning store in the background. It returns nil
// when retention is disabled; a nil cleaner is safe to Stop.
func NewRetentionCleaner(store Pruner, config RetentionCleanerConfig, logger zerolog.Logger) *RetentionCleaner {
	logger = logger.With().Str("component", "retention").Logger()
	if config.RetentionDays <= 0 {
		logger.Info().Msg("Readings are kept forever")
		return nil
	}

	period := config.CleanupPeriod
	if period <= 0 {
		logger.Warn().Dur("cleanup_period", period).Dur("using", defaultPrunePeriod).Msg("Non-positive cleanup period")
		period = defaultPrunePeriod
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &RetentionCleaner{
		store:  store,
		days:   config.RetentionDays,
		period: period,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		stats:  RetentionCleanerStats{RetentionDays: config.RetentionDays},
	}

	c.wg.Add(1)
	go c.loop()

	logger.Info().Int("retention_days", c.days).Dur("period", period).Msg("Pruning old readings")
	return c
}

// loop prunes once at start, then every period
func (c *RetentionCleaner) loop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	for {
		c.prune(c.ctx)
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// prune runs one DeleteOlderThan pass and folds its outcome into the stats
func (c *RetentionCleaner) prune(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, pruneStatementLimit)
	defer cancel()

	deleted, err := c.store.DeleteOlderThan(ctx, c.days)

	c.mu.Lock()
	c.stats.TotalCleanups++
	c.stats.LastCleanup = time.Now()
	if err != nil {
		c.stats.FailedCleanups++
		c.stats.LastError = err.Error()
	} else {
		c.stats.TotalDeleted += deleted
		c.stats.LastDeleteCount = deleted
		c.stats.LastError = ""
	}
	c.mu.Unlock()

	switch {
	case err != nil && ctx.Err() == nil:
		c.logger.Error().Err(err).Msg("Pruning readings failed")
	case deleted > 0:
		c.logger.Info().Int64("deleted", deleted).Msg("Pruned old readings")
	}
	return deleted, err
}

// RunNow prunes immediately, outside the schedule
func (c *RetentionCleaner) RunNow(ctx context.Context) (int64, error) {
	return c.prune(ctx)
}

// Stop cancels any pass in flight and waits for the loop to exit. It is
// idempotent and safe on a nil cleaner.
func (c *RetentionCleaner) Stop() {
	if c == nil {
		return
	}
	c.cancel()
	c.wg.Wait()
}

// Stats returns a copy of the current statistics
func (c *RetentionCleaner) Stats() RetentionCleanerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
