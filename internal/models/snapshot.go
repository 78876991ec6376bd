package models

import "time"

// Granularity is the resolution of a resolved time identifier
type Granularity string

const (
	GranularityDay    Granularity = "day"
	GranularityMinute Granularity = "minute"
)

// Snapshot is the deduplicated, value-sorted set of readings for one time identifier
type Snapshot struct {
	RequestedAt  string      `json:"requested_at"`
	ResolvedTime time.Time   `json:"resolved_time"`
	DisplayTime  string      `json:"query_time"`
	Granularity  Granularity `json:"granularity"`
	Readings     []*Reading  `json:"data"`
	RoomCount    int         `json:"room_count"`
}

// BuildingStat summarises the readings of one building
type BuildingStat struct {
	Building string  `json:"building"`
	Count    int     `json:"count"`
	Average  float64 `json:"average"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
}

// TimePoint is one selectable historical snapshot
type TimePoint struct {
	TimeID       string    `json:"time_id"`
	Display      string    `json:"display"`
	Bucket       time.Time `json:"bucket"`
	ReadingCount int       `json:"count"`
	Description  string    `json:"description,omitempty"`
}
