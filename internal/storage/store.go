package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/room-balance-monitor/internal/models"
)

// Store is the time-series store for room readings and batch runs.
// Both the SQLite and PostgreSQL implementations satisfy it.
type Store interface {
	Close() error

	// RecordRun stores a new batch run and returns its id. Runs are never updated.
	RecordRun(ctx context.Context, startedAt time.Time, description string) (string, error)

	// UpsertReading writes r unless a newer reading already exists for the
	// same room and minute bucket.
	UpsertReading(ctx context.Context, r *models.Reading) error

	// QueryByDate returns every reading sampled on the calendar day of date,
	// evaluated in date's location.
	QueryByDate(ctx context.Context, date time.Time) ([]*models.Reading, error)

	// QueryByMinuteBucket returns the readings of one minute on the day of date.
	QueryByMinuteBucket(ctx context.Context, date time.Time, hour, minute int) ([]*models.Reading, error)

	// QueryLatestRunTime returns the start time of the newest batch run; ok is
	// false when no run has been recorded.
	QueryLatestRunTime(ctx context.Context) (t time.Time, ok bool, err error)

	// QueryRoomSeries returns all readings of one room, oldest first.
	QueryRoomSeries(ctx context.Context, building, room string) ([]*models.Reading, error)

	ListRuns(ctx context.Context, limit int) ([]models.BatchRun, error)
	ListBuckets(ctx context.Context, limit int) ([]BucketInfo, error)
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
	GetStorageStats(ctx context.Context) (*StorageStats, error)
}

// Open connects the store selected by driver: "sqlite" opens (and creates
// the directory of) path, "postgres" connects to dsn
func Open(ctx context.Context, driver, path, dsn string, logger zerolog.Logger) (Store, error) {
	switch driver {
	case "", "sqlite":
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := NewSQLiteStore(path, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		store, err := NewPostgresStore(ctx, dsn, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// Compile-time interface checks
var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// BucketInfo describes one minute bucket present in the readings table
type BucketInfo struct {
	Bucket       time.Time `json:"bucket"`
	ReadingCount int       `json:"reading_count"`
	Description  string    `json:"description,omitempty"`
}

// StorageStats contains information about the database
type StorageStats struct {
	TotalReadings  int64     `json:"total_readings"`
	TotalRuns      int64     `json:"total_runs"`
	UniqueRooms    int       `json:"unique_rooms"`
	OldestReading  time.Time `json:"oldest_reading,omitempty"`
	NewestReading  time.Time `json:"newest_reading,omitempty"`
	DatabaseSizeMB float64   `json:"database_size_mb,omitempty"`
}

const (
	defaultRunLimit    = 10
	defaultBucketLimit = 100
)

// dayRange returns the half-open bucket range [from, to) covering the
// calendar day of date in date's location.
func dayRange(date time.Time) (from, to int64) {
	y, m, d := date.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, date.Location())
	return models.BucketIndex(start), models.BucketIndex(start.AddDate(0, 0, 1))
}

// minuteBucket returns the bucket index of hour:minute on the day of date
func minuteBucket(date time.Time, hour, minute int) (int64, error) {
	if hour < 0 || hour > 23 {
		return 0, fmt.Errorf("hour %d out of range", hour)
	}
	if minute < 0 || minute > 59 {
		return 0, fmt.Errorf("minute %d out of range", minute)
	}
	y, m, d := date.Date()
	return models.BucketIndex(time.Date(y, m, d, hour, minute, 0, 0, date.Location())), nil
}

func bucketTime(idx int64) time.Time {
	return time.Unix(idx*60, 0).UTC()
}

func validateReading(r *models.Reading) error {
	if r == nil {
		return fmt.Errorf("nil reading")
	}
	if !r.IsValid() {
		return fmt.Errorf("invalid reading: %s", r)
	}
	return nil
}
