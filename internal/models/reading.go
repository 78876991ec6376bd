package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Reading is one persisted sample of a room's remaining electricity balance.
type Reading struct {
	Building  string          `json:"building"`
	Room      string          `json:"room"`
	Value     decimal.Decimal `json:"value"`
	SampledAt time.Time       `json:"sampled_at"`
}

// RoomKey identifies a room across buildings
type RoomKey struct {
	Building string
	Room     string
}

// String renders the key as "building-room"
func (k RoomKey) String() string {
	return k.Building + "-" + k.Room
}

// MarshalText lets RoomKey be used as a JSON object key
func (k RoomKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses "building-room", splitting at the first dash
func (k *RoomKey) UnmarshalText(text []byte) error {
	building, room, ok := strings.Cut(string(text), "-")
	if !ok || building == "" || room == "" {
		return fmt.Errorf("invalid room key %q", text)
	}
	k.Building, k.Room = building, room
	return nil
}

// Key returns the (building, room) pair of the reading
func (r *Reading) Key() RoomKey {
	return RoomKey{Building: r.Building, Room: r.Room}
}

// Bucket returns the minute the reading belongs to.
// Two readings for the same room and bucket are the same logical sample.
func (r *Reading) Bucket() time.Time {
	return BucketOf(r.SampledAt)
}

// BucketOf truncates t to minute granularity in UTC
func BucketOf(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// BucketIndex returns the bucket of t as minutes since the Unix epoch
func BucketIndex(t time.Time) int64 {
	return BucketOf(t).Unix() / 60
}

// IsValid checks that the reading can be stored
func (r *Reading) IsValid() bool {
	if r.Building == "" || r.Room == "" {
		return false
	}
	if r.SampledAt.IsZero() {
		return false
	}
	// Balances can go negative on prepaid meters, so only the sign-less
	// upper bound guards against page-scraping garbage.
	const maxBalance = 1_000_000
	return r.Value.Abs().LessThan(decimal.NewFromInt(maxBalance))
}

func (r *Reading) String() string {
	return fmt.Sprintf("Room: %s-%s, SampledAt: %s, Value: %s",
		r.Building,
		r.Room,
		r.SampledAt.Format(time.RFC3339),
		r.Value.String())
}

// NewReading creates a Reading sampled at the given time
func NewReading(building, room string, value decimal.Decimal, sampledAt time.Time) *Reading {
	return &Reading{
		Building:  building,
		Room:      room,
		Value:     value,
		SampledAt: sampledAt,
	}
}

// Copy returns a deep copy of the Reading
func (r *Reading) Copy() *Reading {
	if r == nil {
		return nil
	}
	return &Reading{
		Building:  r.Building,
		Room:      r.Room,
		Value:     r.Value,
		SampledAt: r.SampledAt,
	}
}

// BatchRun describes one execution of the fetcher. It is written once and never updated.
type BatchRun struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	Description string    `json:"description"`
}
