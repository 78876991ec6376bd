package collector

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler runs a batch every interval until its context is cancelled
type Scheduler struct {
	service  *Service
	interval time.Duration
	logger   zerolog.Logger
}

// NewScheduler creates a Scheduler
func NewScheduler(service *Service, interval time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		service:  service,
		interval: interval,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start blocks until ctx is cancelled. Ticks that arrive while a batch is
// still running are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("Scheduler started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single scheduled batch
func (s *Scheduler) RunOnce(ctx context.Context) {
	result, err := s.service.Run(ctx, TriggerScheduled)
	switch {
	case errors.Is(err, ErrBatchRunning):
		s.logger.Info().Msg("Skipping scheduled batch, another batch is running")
	case err != nil:
		s.logger.Error().Err(err).Msg("Scheduled batch failed")
	default:
		s.logger.Info().
			Int("succeeded", result.Succeeded).
			Int("failed", result.Failed).
			Msg("Scheduled batch finished")
	}
}
