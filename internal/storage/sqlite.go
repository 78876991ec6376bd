package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/afroash/room-balance-monitor/internal/models"
)

// sqliteTimeFormat is fixed width down to the nanosecond, so text comparison
// is time order and the upsert recency guard sees sub-millisecond differences
const sqliteTimeFormat = "2006-01-02 15:04:05.000000000"

// SQLiteStore handles persistent storage of room readings
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Apply performance pragmas for SQLite
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// Single writer; concurrent fetch tasks queue on the pool
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "sqlite").Logger(),
	}

	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	store.logger.Info().Str("path", dbPath).Msg("SQLite store initialized")

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate creates the database schema if it doesn't exist
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS batch_runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		bucket INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		building TEXT NOT NULL,
		room TEXT NOT NULL,
		value TEXT NOT NULL,
		sampled_at TEXT NOT NULL,
		bucket INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (building, room, bucket)
	);

	CREATE INDEX IF NOT EXISTS idx_readings_bucket ON readings(bucket);
	CREATE INDEX IF NOT EXISTS idx_readings_room_time ON readings(building, room, sampled_at);
	CREATE INDEX IF NOT EXISTS idx_batch_runs_started ON batch_runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_batch_runs_bucket ON batch_runs(bucket);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug().Msg("Database schema migrated")
	return nil
}

// RecordRun inserts a batch run and returns its generated id
func (s *SQLiteStore) RecordRun(ctx context.Context, startedAt time.Time, description string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batch_runs (id, started_at, bucket, description) VALUES (?, ?, ?, ?)`,
		id,
		startedAt.UTC().Format(sqliteTimeFormat),
		models.BucketIndex(startedAt),
		description,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	return id, nil
}

// UpsertReading inserts a reading or replaces the one in the same bucket if
// it is not newer. The conditional update keeps concurrent writers from
// regressing a room to an older sample.
func (s *SQLiteStore) UpsertReading(ctx context.Context, r *models.Reading) error {
	if err := validateReading(r); err != nil {
		return err
	}

	query := `
		INSERT INTO readings (building, room, value, sampled_at, bucket)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(building, room, bucket) DO UPDATE SET
			value = excluded.value,
			sampled_at = excluded.sampled_at
		WHERE excluded.sampled_at >= readings.sampled_at
	`

	_, err := s.db.ExecContext(ctx, query,
		r.Building,
		r.Room,
		r.Value.String(),
		r.SampledAt.UTC().Format(sqliteTimeFormat),
		models.BucketIndex(r.SampledAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert reading %s: %w", r.Key(), err)
	}
	return nil
}

const readingColumns = `building, room, value, sampled_at`

// QueryByDate returns the readings of one calendar day
func (s *SQLiteStore) QueryByDate(ctx context.Context, date time.Time) ([]*models.Reading, error) {
	from, to := dayRange(date)
	return s.queryReadings(ctx, `
		SELECT `+readingColumns+`
		FROM readings
		WHERE bucket >= ? AND bucket < ?
		ORDER BY sampled_at ASC, id ASC
	`, from, to)
}

// QueryByMinuteBucket returns the readings of one minute
func (s *SQLiteStore) QueryByMinuteBucket(ctx context.Context, date time.Time, hour, minute int) ([]*models.Reading, error) {
	bucket, err := minuteBucket(date, hour, minute)
	if err != nil {
		return nil, err
	}
	return s.queryReadings(ctx, `
		SELECT `+readingColumns+`
		FROM readings
		WHERE bucket = ?
		ORDER BY sampled_at ASC, id ASC
	`, bucket)
}

// QueryLatestRunTime returns the start of the newest run
func (s *SQLiteStore) QueryLatestRunTime(ctx context.Context) (time.Time, bool, error) {
	var startedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at FROM batch_runs ORDER BY started_at DESC LIMIT 1`,
	).Scan(&startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query latest run: %w", err)
	}

	t, err := parseTimestamp(startedAt)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// QueryRoomSeries returns one room's readings, oldest first
func (s *SQLiteStore) QueryRoomSeries(ctx context.Context, building, room string) ([]*models.Reading, error) {
	return s.queryReadings(ctx, `
		SELECT `+readingColumns+`
		FROM readings
		WHERE building = ? AND room = ?
		ORDER BY sampled_at ASC
	`, building, room)
}

// ListRuns returns the most recent runs, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]models.BatchRun, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, description FROM batch_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.BatchRun
	for rows.Next() {
		var run models.BatchRun
		var startedAt string
		if err := rows.Scan(&run.ID, &startedAt, &run.Description); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if run.StartedAt, err = parseTimestamp(startedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return runs, nil
}

// ListBuckets returns the distinct minute buckets holding readings, newest
// first, labelled with the description of the run started in that minute.
func (s *SQLiteStore) ListBuckets(ctx context.Context, limit int) ([]BucketInfo, error) {
	if limit <= 0 {
		limit = defaultBucketLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.bucket, COUNT(*),
			COALESCE((SELECT b.description FROM batch_runs b
				WHERE b.bucket = r.bucket
				ORDER BY b.started_at DESC LIMIT 1), '')
		FROM readings r
		GROUP BY r.bucket
		ORDER BY r.bucket DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query buckets: %w", err)
	}
	defer rows.Close()

	var buckets []BucketInfo
	for rows.Next() {
		var info BucketInfo
		var idx int64
		if err := rows.Scan(&idx, &info.ReadingCount, &info.Description); err != nil {
			return nil, fmt.Errorf("failed to scan bucket: %w", err)
		}
		info.Bucket = bucketTime(idx)
		buckets = append(buckets, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return buckets, nil
}

// DeleteOlderThan removes readings older than the specified number of days.
// Batch runs are kept.
func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM readings WHERE bucket < ?",
		models.BucketIndex(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old readings: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	s.logger.Info().
		Int("days", days).
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Deleted old readings")

	return deleted, nil
}

// GetStorageStats returns statistics about the database
func (s *SQLiteStore) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM batch_runs").Scan(&stats.TotalRuns); err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM readings").Scan(&stats.TotalReadings); err != nil {
		return nil, fmt.Errorf("failed to count readings: %w", err)
	}

	if stats.TotalReadings > 0 {
		var oldestStr, newestStr string
		err := s.db.QueryRowContext(ctx, "SELECT MIN(sampled_at), MAX(sampled_at) FROM readings").
			Scan(&oldestStr, &newestStr)
		if err != nil {
			return nil, fmt.Errorf("failed to get timestamp range: %w", err)
		}
		stats.OldestReading, _ = parseTimestamp(oldestStr)
		stats.NewestReading, _ = parseTimestamp(newestStr)

		err = s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM (SELECT DISTINCT building, room FROM readings)",
		).Scan(&stats.UniqueRooms)
		if err != nil {
			return nil, fmt.Errorf("failed to count rooms: %w", err)
		}
	}

	var pageCount, pageSize int64
	s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
	stats.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	return stats, nil
}

func (s *SQLiteStore) queryReadings(ctx context.Context, query string, args ...interface{}) ([]*models.Reading, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	return scanReadings(rows)
}

// scanReadings scans multiple rows into a slice of readings
func scanReadings(rows *sql.Rows) ([]*models.Reading, error) {
	var readings []*models.Reading

	for rows.Next() {
		var r models.Reading
		var value, sampledAt string

		if err := rows.Scan(&r.Building, &r.Room, &value, &sampledAt); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}

		var err error
		if r.Value, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("failed to parse value %q: %w", value, err)
		}
		if r.SampledAt, err = parseTimestamp(sampledAt); err != nil {
			return nil, err
		}

		readings = append(readings, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return readings, nil
}

// parseTimestamp tries multiple formats to parse a SQLite timestamp as UTC
func parseTimestamp(ts string) (time.Time, error) {
	formats := []string{
		sqliteTimeFormat,
		"2006-01-02 15:04:05.000", // written before nanosecond precision
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", ts)
}
