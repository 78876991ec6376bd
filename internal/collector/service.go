package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/room-balance-monitor/internal/cache"
	"github.com/afroash/room-balance-monitor/internal/fetcher"
	"github.com/afroash/room-balance-monitor/internal/models"
)

// ErrBatchRunning is returned when a batch is requested while another is in flight
var ErrBatchRunning = errors.New("collector: batch already running")

// ErrServiceClosed is returned by Trigger after Close
var ErrServiceClosed = errors.New("collector: service closed")

// Trigger names stored as the batch run description
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerStartup   = "startup"
	TriggerCLI       = "cli"
)

// Runner executes one batch over a catalog
type Runner interface {
	RunBatch(ctx context.Context, catalog []models.CatalogEntry, onProgress fetcher.ProgressFunc, opts ...fetcher.RunOption) (*models.BatchResult, error)
}

// CatalogFunc returns the rooms to sample. It is called once per batch so
// catalog edits are picked up without a restart.
type CatalogFunc func() ([]models.CatalogEntry, error)

// Publisher receives stream messages for live subscribers
type Publisher interface {
	Publish(msg *models.Message)
}

// Invalidator drops cached read-path entries
type Invalidator interface {
	ClearPrefix(ctx context.Context, prefix string) int
}

// Service runs acquisition batches one at a time
type Service struct {
	runner  Runner
	catalog CatalogFunc
	logger  zerolog.Logger

	publisher   Publisher
	invalidator Invalidator

	running atomic.Bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	// mu orders Trigger's wg.Add against Close's wg.Wait
	mu     sync.Mutex
	closed bool

	results *ResultLog
}

// NewService creates a Service
func NewService(runner Runner, catalog CatalogFunc, logger zerolog.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		runner:  runner,
		catalog: catalog,
		logger:  logger.With().Str("component", "collector").Logger(),
		ctx:     ctx,
		cancel:  cancel,
		results: NewResultLog(defaultResultCapacity),
	}
}

// SetPublisher attaches the live progress sink. Call before the first batch.
func (s *Service) SetPublisher(p Publisher) {
	s.publisher = p
}

// SetInvalidator attaches the cache to clear after each batch. Call before the first batch.
func (s *Service) SetInvalidator(i Invalidator) {
	s.invalidator = i
}

// Running reports whether a batch is in flight
func (s *Service) Running() bool {
	return s.running.Load()
}

// LastResult returns the result of the most recent finished batch, or nil
func (s *Service) LastResult() *models.BatchResult {
	return s.results.Latest()
}

// Results returns the log of recent batch results
func (s *Service) Results() *ResultLog {
	return s.results
}

// Run executes a batch synchronously. It returns ErrBatchRunning without
// doing anything when another batch is in flight.
func (s *Service) Run(ctx context.Context, trigger string) (*models.BatchResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrBatchRunning
	}
	defer s.running.Store(false)
	return s.run(ctx, trigger)
}

// Trigger starts a batch in the background and returns immediately. The
// batch is cancelled by Close.
func (s *Service) Trigger(trigger string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServiceClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrBatchRunning
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		if _, err := s.run(s.ctx, trigger); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Str("trigger", trigger).Msg("Background batch failed")
		}
	}()
	return nil
}

// Close cancels a background batch and waits for it to finish
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context, trigger string) (*models.BatchResult, error) {
	entries, err := s.catalog()
	if err != nil {
		s.publishError("catalog_error", err)
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	s.logger.Info().Str("trigger", trigger).Int("rooms", len(entries)).Msg("Starting batch")
	s.publish(models.MessageTypeBatchStarted, models.BatchStartedMessage{
		Total:     len(entries),
		StartedAt: time.Now().UTC(),
		Trigger:   trigger,
	})

	result, err := s.runner.RunBatch(ctx, entries, s.onProgress, fetcher.WithDescription(trigger))
	if errors.Is(err, fetcher.ErrEmptyCatalog) {
		s.publishError("empty_catalog", err)
		return result, err
	}

	// Readings may have landed even when the batch was cancelled
	s.invalidate(context.WithoutCancel(ctx))

	if result != nil {
		s.results.Add(result)

		s.publish(models.MessageTypeBatchDone, models.BatchDoneMessage{
			RunID:     result.RunID,
			StartedAt: result.StartedAt,
			Total:     result.Total,
			Succeeded: result.Succeeded,
			Failed:    result.Failed,
			NotSaved:  result.NotSaved,
			Cancelled: err != nil,
		})
	}
	return result, err
}

func (s *Service) onProgress(p models.Progress) {
	s.publish(models.MessageTypeProgress, p)
}

func (s *Service) invalidate(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	cleared := 0
	for _, op := range cache.ReadPathOps {
		cleared += s.invalidator.ClearPrefix(ctx, cache.OpPrefix(op))
	}
	s.logger.Debug().Int("cleared", cleared).Msg("Invalidated read-path cache")
}

func (s *Service) publish(t models.MessageType, payload any) {
	if s.publisher == nil {
		return
	}
	msg, err := models.NewMessage(t, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("type", string(t)).Msg("Failed to build stream message")
		return
	}
	s.publisher.Publish(msg)
}

func (s *Service) publishError(code string, err error) {
	s.publish(models.MessageTypeError, models.ErrorMessage{Code: code, Message: err.Error()})
}
