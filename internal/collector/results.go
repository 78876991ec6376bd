package collector

import (
	"sync"

	"github.com/afroash/room-balance-monitor/internal/models"
)

const defaultResultCapacity = 20

// ResultLog is an in-memory ring buffer of recent batch results. Per-room
// failure reasons live only here; the store keeps successful readings.
type ResultLog struct {
	capacity int
	results  []*models.BatchResult
	total    int64
	mutex    sync.RWMutex
}

// NewResultLog creates a ResultLog holding at most capacity results
func NewResultLog(capacity int) *ResultLog {
	if capacity <= 0 {
		capacity = defaultResultCapacity
	}
	return &ResultLog{
		capacity: capacity,
		results:  make([]*models.BatchResult, 0, capacity),
	}
}

// Add appends a result, evicting the oldest when full
func (l *ResultLog) Add(result *models.BatchResult) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if len(l.results) >= l.capacity {
		l.results = l.results[1:]
	}
	l.results = append(l.results, result)
	l.total++
}

// Latest returns the most recent result, or nil
func (l *ResultLog) Latest() *models.BatchResult {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	if len(l.results) == 0 {
		return nil
	}
	return l.results[len(l.results)-1]
}

// Recent returns up to n results, newest first
func (l *ResultLog) Recent(n int) []*models.BatchResult {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	if n <= 0 || n > len(l.results) {
		n = len(l.results)
	}
	out := make([]*models.BatchResult, 0, n)
	for i := len(l.results) - 1; i >= len(l.results)-n; i-- {
		out = append(out, l.results[i])
	}
	return out
}

// ResultLogStats describes the log
type ResultLogStats struct {
	TotalBatches int64 `json:"total_batches"`
	Retained     int   `json:"retained"`
	Capacity     int   `json:"capacity"`
}

// Stats returns counters for the log
func (l *ResultLog) Stats() ResultLogStats {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return ResultLogStats{
		TotalBatches: l.total,
		Retained:     len(l.results),
		Capacity:     l.capacity,
	}
}
