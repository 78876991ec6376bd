package server

import (
	"context"
	"time"

	"github.com/afroash/room-balance-monitor/internal/collector"
	"github.com/afroash/room-balance-monitor/internal/models"
	"github.com/afroash/room-balance-monitor/internal/storage"
)

// SnapshotResolver answers the read path
// history.Resolver implements this interface
type SnapshotResolver interface {
	// Resolve maps a time identifier to a snapshot or a *history.ParseError
	Resolve(ctx context.Context, id string) (*models.Snapshot, error)

	// Latest returns the snapshot of the newest batch run
	Latest(ctx context.Context) (*models.Snapshot, error)

	LatestRunTime(ctx context.Context) (time.Time, error)
	RoomSeries(ctx context.Context, building, room string) ([]*models.Reading, error)
	Times(ctx context.Context, limit int) ([]models.TimePoint, error)

	// TimeID formats t as a minute identifier
	TimeID(t time.Time) string
	Location() *time.Location
}

// RunStore exposes batch run metadata and database statistics
// storage.SQLiteStore and storage.PostgresStore implement this interface
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]models.BatchRun, error)
	GetStorageStats(ctx context.Context) (*storage.StorageStats, error)
}

// BatchController starts batches and reports their state
// collector.Service implements this interface
type BatchController interface {
	Trigger(trigger string) error
	Running() bool
	Results() *collector.ResultLog
}
