package fetcher

//go:generate mockgen -source=fetcher.go -destination=mock_fetcher_test.go -package=fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/afroash/room-balance-monitor/internal/models"
)

// ErrEmptyCatalog is returned when there is nothing to fetch
var ErrEmptyCatalog = errors.New("fetcher: empty catalog")

// ReadingSource reads one room's current balance
type ReadingSource interface {
	FetchOne(ctx context.Context, entry models.CatalogEntry) (decimal.Decimal, error)
}

// ReadingWriter persists the output of a batch
type ReadingWriter interface {
	RecordRun(ctx context.Context, startedAt time.Time, description string) (string, error)
	UpsertReading(ctx context.Context, r *models.Reading) error
}

// Observer receives per-room and per-batch events, typically for metrics
type Observer interface {
	FetchCompleted(status models.OutcomeStatus, elapsed time.Duration)
	ReadingSaved(err error)
	BatchCompleted(result *models.BatchResult)
}

// ProgressFunc receives live progress. It runs on a single reporter
// goroutine and never blocks the workers.
type ProgressFunc func(models.Progress)

// Config controls pacing of a batch
type Config struct {
	Workers        int           // maximum in-flight requests
	BatchSize      int           // tasks submitted per group before a cooldown
	BatchCooldown  time.Duration // pause between groups
	MaxJitter      time.Duration // upper bound of the random delay before each request
	RequestTimeout time.Duration // deadline of a single request
	ProgressBuffer int           // queued progress events before new ones are dropped
}

// DefaultConfig returns the pacing the portal is known to tolerate
func DefaultConfig() Config {
	return Config{
		Workers:        60,
		BatchSize:      50,
		BatchCooldown:  1500 * time.Millisecond,
		MaxJitter:      200 * time.Millisecond,
		RequestTimeout: 8 * time.Second,
		ProgressBuffer: 256,
	}
}

// Fetcher samples every room of a catalog with bounded parallelism
type Fetcher struct {
	source   ReadingSource
	writer   ReadingWriter
	observer Observer
	config   Config
	logger   zerolog.Logger

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// New creates a Fetcher. Zero or negative config values fall back to DefaultConfig.
func New(source ReadingSource, writer ReadingWriter, config Config, logger zerolog.Logger) *Fetcher {
	logger = logger.With().Str("component", "fetcher").Logger()

	def := DefaultConfig()
	if config.Workers <= 0 {
		logger.Warn().Int("workers", config.Workers).Msg("Invalid worker count, using default")
		config.Workers = def.Workers
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = def.RequestTimeout
	}
	if config.ProgressBuffer <= 0 {
		config.ProgressBuffer = def.ProgressBuffer
	}
	if config.BatchCooldown < 0 {
		config.BatchCooldown = 0
	}
	if config.MaxJitter < 0 {
		config.MaxJitter = 0
	}

	f := &Fetcher{
		source:   source,
		writer:   writer,
		observer: noopObserver{},
		config:   config,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepCtx,
	}
	f.jitter = f.randomJitter
	return f
}

// SetObserver attaches an observer. Call before the first RunBatch.
func (f *Fetcher) SetObserver(o Observer) {
	if o != nil {
		f.observer = o
	}
}

// Config returns the effective configuration
func (f *Fetcher) Config() Config {
	return f.config
}

// RunOption customises a single RunBatch call
type RunOption func(*runOptions)

type runOptions struct {
	description string
}

// WithDescription sets the description stored with the batch run
func WithDescription(desc string) RunOption {
	return func(o *runOptions) { o.description = desc }
}

// RunBatch fetches every entry of catalog and persists the successes.
//
// Every reading of the run is sampled at the run's start time so the run
// occupies a single minute bucket. Per-room failures, including failed
// saves, are reported in the result and never abort the batch. When ctx is
// cancelled, rooms not yet submitted are reported as failed, rooms already
// fetched stay persisted, and ctx.Err() is returned with the partial result.
func (f *Fetcher) RunBatch(ctx context.Context, catalog []models.CatalogEntry, onProgress ProgressFunc, opts ...RunOption) (*models.BatchResult, error) {
	options := runOptions{description: "batch"}
	for _, opt := range opts {
		opt(&options)
	}

	startedAt := f.now().UTC()
	total := len(catalog)
	result := models.NewBatchResult(startedAt, total)
	if total == 0 {
		f.logger.Warn().Msg("Empty catalog, nothing to fetch")
		return result, ErrEmptyCatalog
	}

	f.logger.Info().
		Int("total", total).
		Int("workers", f.config.Workers).
		Int("batch_size", f.config.BatchSize).
		Time("started_at", startedAt).
		Msg("Batch started")

	reporter := newProgressReporter(onProgress, f.config.ProgressBuffer)

	var (
		mu        sync.Mutex
		completed atomic.Int64
	)
	record := func(entry models.CatalogEntry, outcome models.Outcome) {
		key := entry.Key()
		mu.Lock()
		result.Readings[key] = outcome
		if outcome.IsSuccess() {
			result.Succeeded++
			if !outcome.Saved {
				result.NotSaved++
			}
		} else {
			result.Failed++
		}
		mu.Unlock()

		n := completed.Add(1)
		reporter.send(models.Progress{
			Message:   progressMessage(key, outcome),
			Total:     total,
			Completed: int(n),
		})
	}

	g := new(errgroup.Group)
	g.SetLimit(f.config.Workers)

	submitted := 0
submit:
	for start := 0; start < total; start += f.config.BatchSize {
		if start > 0 && f.config.BatchCooldown > 0 {
			if err := f.sleep(ctx, f.config.BatchCooldown); err != nil {
				break submit
			}
		}
		end := min(start+f.config.BatchSize, total)
		for _, entry := range catalog[start:end] {
			if ctx.Err() != nil {
				break submit
			}
			entry := entry
			g.Go(func() error {
				f.runTask(ctx, entry, startedAt, record)
				return nil
			})
			submitted++
		}
		f.logger.Debug().Int("submitted", submitted).Int("total", total).Msg("Group submitted")
	}
	g.Wait()

	runErr := ctx.Err()
	for _, entry := range catalog[submitted:] {
		record(entry, models.Failed(fmt.Sprintf("not attempted: %v", runErr)))
	}

	description := options.description
	if runErr != nil {
		description += " (cancelled)"
	}
	runID, err := f.writer.RecordRun(context.WithoutCancel(ctx), startedAt, description)
	if err != nil {
		f.logger.Error().Err(err).Msg("Failed to record batch run")
	}
	result.RunID = runID
	result.Duration = f.now().Sub(startedAt)

	reporter.finish(models.Progress{
		Message:   fmt.Sprintf("done: %d succeeded, %d failed", result.Succeeded, result.Failed),
		Total:     total,
		Completed: total,
	})
	f.observer.BatchCompleted(result)

	f.logger.Info().
		Str("run_id", runID).
		Int("total", result.Total).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("not_saved", result.NotSaved).
		Int64("progress_dropped", reporter.dropped.Load()).
		Dur("duration", result.Duration).
		Msg("Batch completed")

	return result, runErr
}

// runTask fetches and stores a single room
func (f *Fetcher) runTask(ctx context.Context, entry models.CatalogEntry, sampledAt time.Time, record func(models.CatalogEntry, models.Outcome)) {
	if !entry.HasRemoteID() {
		f.observer.FetchCompleted(models.OutcomeFailed, 0)
		record(entry, models.Failed("no remote id for room"))
		return
	}

	if err := f.sleep(ctx, f.jitter()); err != nil {
		record(entry, models.Failed(fmt.Sprintf("not attempted: %v", err)))
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.config.RequestTimeout)
	begin := time.Now()
	value, err := f.source.FetchOne(reqCtx, entry)
	elapsed := time.Since(begin)
	cancel()

	if err != nil {
		f.observer.FetchCompleted(models.OutcomeFailed, elapsed)
		f.logger.Debug().Err(err).Str("room", entry.Key().String()).Msg("Fetch failed")
		record(entry, models.Failed(err.Error()))
		return
	}
	f.observer.FetchCompleted(models.OutcomeSuccess, elapsed)

	outcome := models.Success(value)
	reading := models.NewReading(entry.Building, entry.Room, value, sampledAt)
	// Completed fetches are persisted even if the batch is being cancelled
	err = f.writer.UpsertReading(context.WithoutCancel(ctx), reading)
	f.observer.ReadingSaved(err)
	if err != nil {
		f.logger.Warn().Err(err).Str("room", entry.Key().String()).Msg("Fetched but not saved")
		outcome.SaveError = err.Error()
	} else {
		outcome.Saved = true
	}
	record(entry, outcome)
}

func (f *Fetcher) randomJitter() time.Duration {
	if f.config.MaxJitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(f.config.MaxJitter)))
}

func progressMessage(key models.RoomKey, outcome models.Outcome) string {
	if outcome.IsSuccess() {
		return "fetched " + key.String()
	}
	return "failed " + key.String() + ": " + outcome.Reason
}

// sleepCtx waits for d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type noopObserver struct{}

func (noopObserver) FetchCompleted(models.OutcomeStatus, time.Duration) {}
func (noopObserver) ReadingSaved(error)                                 {}
func (noopObserver) BatchCompleted(*models.BatchResult)                 {}
