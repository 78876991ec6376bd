package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/afroash/room-balance-monitor/internal/models"
)

// PostgresStore keeps readings in PostgreSQL for multi-process deployments
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresStore connects to dsn and creates the schema if needed
func NewPostgresStore(ctx context.Context, dsn string, logger zerolog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{
		pool:   pool,
		logger: logger.With().Str("component", "postgres").Logger(),
	}
	if err := store.Init(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	store.logger.Info().Msg("PostgreSQL store initialized")
	return store, nil
}

// Init creates the schema if it doesn't exist
func (s *PostgresStore) Init(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS batch_runs (
	id          TEXT        PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	bucket      BIGINT      NOT NULL,
	description TEXT        NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS readings (
	id         BIGSERIAL   PRIMARY KEY,
	building   TEXT        NOT NULL,
	room       TEXT        NOT NULL,
	value      NUMERIC     NOT NULL,
	sampled_at TIMESTAMPTZ NOT NULL,
	sampled_ns BIGINT      NOT NULL,
	bucket     BIGINT      NOT NULL,
	UNIQUE (building, room, bucket)
);
ALTER TABLE readings ADD COLUMN IF NOT EXISTS sampled_ns BIGINT NOT NULL DEFAULT 0;
CREATE INDEX IF NOT EXISTS idx_readings_bucket ON readings (bucket);
CREATE INDEX IF NOT EXISTS idx_readings_room_time ON readings (building, room, sampled_at);
CREATE INDEX IF NOT EXISTS idx_batch_runs_started ON batch_runs (started_at DESC);
CREATE INDEX IF NOT EXISTS idx_batch_runs_bucket ON batch_runs (bucket);
`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// Close releases the pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// RecordRun inserts a batch run and returns its generated id
func (s *PostgresStore) RecordRun(ctx context.Context, startedAt time.Time, description string) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO batch_runs (id, started_at, bucket, description) VALUES ($1, $2, $3, $4)`,
		id, startedAt.UTC(), models.BucketIndex(startedAt), description,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	return id, nil
}

// UpsertReading inserts a reading or replaces the one in the same bucket if it
// is not newer. TIMESTAMPTZ keeps microseconds, so recency is decided on the
// nanosecond column.
func (s *PostgresStore) UpsertReading(ctx context.Context, r *models.Reading) error {
	if err := validateReading(r); err != nil {
		return err
	}
	const q = `
INSERT INTO readings (building, room, value, sampled_at, sampled_ns, bucket)
VALUES ($1, $2, $3::numeric, $4, $5, $6)
ON CONFLICT (building, room, bucket) DO UPDATE SET
	value = EXCLUDED.value,
	sampled_at = EXCLUDED.sampled_at,
	sampled_ns = EXCLUDED.sampled_ns
WHERE EXCLUDED.sampled_ns >= readings.sampled_ns`
	_, err := s.pool.Exec(ctx, q,
		r.Building, r.Room, r.Value.String(), r.SampledAt.UTC(), r.SampledAt.UnixNano(), models.BucketIndex(r.SampledAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert reading %s: %w", r.Key(), err)
	}
	return nil
}

const pgReadingColumns = `building, room, value::text, sampled_at, sampled_ns`

// QueryByDate returns the readings of one calendar day
func (s *PostgresStore) QueryByDate(ctx context.Context, date time.Time) ([]*models.Reading, error) {
	from, to := dayRange(date)
	return s.queryReadings(ctx,
		`SELECT `+pgReadingColumns+` FROM readings WHERE bucket >= $1 AND bucket < $2 ORDER BY sampled_ns, sampled_at, id`,
		from, to)
}

// QueryByMinuteBucket returns the readings of one minute
func (s *PostgresStore) QueryByMinuteBucket(ctx context.Context, date time.Time, hour, minute int) ([]*models.Reading, error) {
	bucket, err := minuteBucket(date, hour, minute)
	if err != nil {
		return nil, err
	}
	return s.queryReadings(ctx,
		`SELECT `+pgReadingColumns+` FROM readings WHERE bucket = $1 ORDER BY sampled_ns, sampled_at, id`,
		bucket)
}

// QueryLatestRunTime returns the start of the newest run
func (s *PostgresStore) QueryLatestRunTime(ctx context.Context) (time.Time, bool, error) {
	var startedAt time.Time
	err := s.pool.QueryRow(ctx, `SELECT started_at FROM batch_runs ORDER BY started_at DESC LIMIT 1`).Scan(&startedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query latest run: %w", err)
	}
	return startedAt.UTC(), true, nil
}

// QueryRoomSeries returns one room's readings, oldest first
func (s *PostgresStore) QueryRoomSeries(ctx context.Context, building, room string) ([]*models.Reading, error) {
	return s.queryReadings(ctx,
		`SELECT `+pgReadingColumns+` FROM readings WHERE building = $1 AND room = $2 ORDER BY sampled_ns, sampled_at`,
		building, room)
}

// ListRuns returns the most recent runs, newest first
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]models.BatchRun, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, started_at, description FROM batch_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.BatchRun
	for rows.Next() {
		var run models.BatchRun
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.Description); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.StartedAt = run.StartedAt.UTC()
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListBuckets returns the distinct minute buckets holding readings, newest first
func (s *PostgresStore) ListBuckets(ctx context.Context, limit int) ([]BucketInfo, error) {
	if limit <= 0 {
		limit = defaultBucketLimit
	}
	rows, err := s.pool.Query(ctx, `
SELECT r.bucket, COUNT(*),
	COALESCE((SELECT b.description FROM batch_runs b
		WHERE b.bucket = r.bucket
		ORDER BY b.started_at DESC LIMIT 1), '')
FROM readings r
GROUP BY r.bucket
ORDER BY r.bucket DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query buckets: %w", err)
	}
	defer rows.Close()

	var buckets []BucketInfo
	for rows.Next() {
		var info BucketInfo
		var idx, count int64
		if err := rows.Scan(&idx, &count, &info.Description); err != nil {
			return nil, fmt.Errorf("failed to scan bucket: %w", err)
		}
		info.Bucket = bucketTime(idx)
		info.ReadingCount = int(count)
		buckets = append(buckets, info)
	}
	return buckets, rows.Err()
}

// DeleteOlderThan removes readings older than the specified number of days
func (s *PostgresStore) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	tag, err := s.pool.Exec(ctx, `DELETE FROM readings WHERE bucket < $1`, models.BucketIndex(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old readings: %w", err)
	}
	s.logger.Info().
		Int("days", days).
		Int64("deleted", tag.RowsAffected()).
		Time("cutoff", cutoff).
		Msg("Deleted old readings")
	return tag.RowsAffected(), nil
}

// GetStorageStats returns statistics about the database
func (s *PostgresStore) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}
	var oldest, newest *time.Time
	var rooms int64
	err := s.pool.QueryRow(ctx, `
SELECT
	(SELECT COUNT(*) FROM batch_runs),
	COUNT(*),
	COUNT(DISTINCT (building, room)),
	MIN(sampled_at),
	MAX(sampled_at)
FROM readings`).Scan(&stats.TotalRuns, &stats.TotalReadings, &rooms, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage stats: %w", err)
	}
	stats.UniqueRooms = int(rooms)
	if oldest != nil {
		stats.OldestReading = oldest.UTC()
	}
	if newest != nil {
		stats.NewestReading = newest.UTC()
	}
	return stats, nil
}

func (s *PostgresStore) queryReadings(ctx context.Context, query string, args ...any) ([]*models.Reading, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var out []*models.Reading
	for rows.Next() {
		var r models.Reading
		var value string
		var ns int64
		if err := rows.Scan(&r.Building, &r.Room, &value, &r.SampledAt, &ns); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		if r.Value, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("failed to parse value %q: %w", value, err)
		}
		// rows from before the nanosecond column fall back to sampled_at
		if ns != 0 {
			r.SampledAt = time.Unix(0, ns)
		}
		r.SampledAt = r.SampledAt.UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}
