package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OutcomeStatus is the per-room result of a fetch
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
)

// Outcome is Success(value) or Failed(reason) for one room.
// A successful fetch that could not be persisted keeps Status success with Saved=false.
type Outcome struct {
	Status    OutcomeStatus    `json:"status"`
	Value     *decimal.Decimal `json:"value,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Saved     bool             `json:"saved"`
	SaveError string           `json:"save_error,omitempty"`
}

// Success builds a successful outcome
func Success(v decimal.Decimal) Outcome {
	return Outcome{Status: OutcomeSuccess, Value: &v}
}

// Failed builds a failed outcome
func Failed(reason string) Outcome {
	return Outcome{Status: OutcomeFailed, Reason: reason}
}

// IsSuccess reports whether the fetch succeeded
func (o Outcome) IsSuccess() bool {
	return o.Status == OutcomeSuccess
}

// BatchResult aggregates the outcomes of one fetcher run
type BatchResult struct {
	RunID     string              `json:"run_id,omitempty"`
	StartedAt time.Time           `json:"started_at"`
	Duration  time.Duration       `json:"duration"`
	Readings  map[RoomKey]Outcome `json:"readings"`
	Total     int                 `json:"total"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
	// NotSaved counts rooms that were fetched but could not be persisted
	NotSaved int `json:"not_saved"`
}

// NewBatchResult creates an empty result for a catalog of the given size
func NewBatchResult(startedAt time.Time, total int) *BatchResult {
	return &BatchResult{
		StartedAt: startedAt,
		Readings:  make(map[RoomKey]Outcome, total),
		Total:     total,
	}
}

// Progress is a live status update emitted while a batch runs
type Progress struct {
	Message   string `json:"message"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
}
