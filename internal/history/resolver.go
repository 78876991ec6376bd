package history

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/afroash/room-balance-monitor/internal/models"
	"github.com/afroash/room-balance-monitor/internal/storage"
)

const (
	dayLayout      = "20060102"
	minuteLayout   = "200601021504"
	dayDisplay     = "2006-01-02"
	minuteDisplay  = "2006-01-02 15:04"
	latestRequest  = "latest"
	unknownDisplay = "unknown time"
)

// Reader is the subset of storage.Store the resolver queries
type Reader interface {
	QueryByDate(ctx context.Context, date time.Time) ([]*models.Reading, error)
	QueryByMinuteBucket(ctx context.Context, date time.Time, hour, minute int) ([]*models.Reading, error)
	QueryLatestRunTime(ctx context.Context) (time.Time, bool, error)
	QueryRoomSeries(ctx context.Context, building, room string) ([]*models.Reading, error)
	ListBuckets(ctx context.Context, limit int) ([]storage.BucketInfo, error)
}

// Resolver turns user supplied time identifiers into snapshots
type Resolver struct {
	store  Reader
	loc    *time.Location
	logger zerolog.Logger
}

// NewResolver creates a Resolver that interprets identifiers in loc.
// A nil loc means time.Local.
func NewResolver(store Reader, loc *time.Location, logger zerolog.Logger) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	return &Resolver{
		store:  store,
		loc:    loc,
		logger: logger.With().Str("component", "history").Logger(),
	}
}

// Location returns the zone identifiers are interpreted in
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// query is a parsed time identifier
type query struct {
	granularity models.Granularity
	at          time.Time
	display     string
}

// Resolve parses id and returns the matching snapshot.
//
// Accepted forms are an 8 digit date (YYYYMMDD), a 12 digit minute
// (YYYYMMDDHHmm) and a dashed date with an optional time part
// ("2024-01-15" or "2024-01-15 08:30"), which is treated as the whole day.
// Failures are returned as *ParseError.
func (r *Resolver) Resolve(ctx context.Context, id string) (*models.Snapshot, error) {
	input := normalize(id)
	q, err := r.parse(input)
	if err != nil {
		return nil, err
	}

	var rows []*models.Reading
	switch q.granularity {
	case models.GranularityDay:
		rows, err = r.store.QueryByDate(ctx, q.at)
	default:
		rows, err = r.store.QueryByMinuteBucket(ctx, q.at, q.at.Hour(), q.at.Minute())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query readings for %s: %w", input, err)
	}
	if len(rows) == 0 {
		return nil, &ParseError{Kind: KindNotFound, Input: input, DisplayTime: q.display}
	}

	readings := Dedupe(rows)
	SortByValue(readings)

	r.logger.Debug().
		Str("time_id", input).
		Str("granularity", string(q.granularity)).
		Int("rows", len(rows)).
		Int("rooms", len(readings)).
		Msg("Resolved snapshot")

	return &models.Snapshot{
		RequestedAt:  input,
		ResolvedTime: q.at,
		DisplayTime:  q.display,
		Granularity:  q.granularity,
		Readings:     readings,
		RoomCount:    len(readings),
	}, nil
}

// Latest returns the snapshot of the newest batch run. A run whose rooms all
// failed yields an empty snapshot rather than an error.
func (r *Resolver) Latest(ctx context.Context) (*models.Snapshot, error) {
	at, err := r.LatestRunTime(ctx)
	if err != nil {
		return nil, err
	}
	local := at.In(r.loc)
	rows, err := r.store.QueryByMinuteBucket(ctx, local, local.Hour(), local.Minute())
	if err != nil {
		return nil, fmt.Errorf("failed to query latest readings: %w", err)
	}

	readings := Dedupe(rows)
	SortByValue(readings)
	return &models.Snapshot{
		RequestedAt:  latestRequest,
		ResolvedTime: local,
		DisplayTime:  local.Format(minuteDisplay),
		Granularity:  models.GranularityMinute,
		Readings:     readings,
		RoomCount:    len(readings),
	}, nil
}

// LatestRunTime returns the start of the newest batch run, or ErrNoRuns
func (r *Resolver) LatestRunTime(ctx context.Context) (time.Time, error) {
	at, ok, err := r.store.QueryLatestRunTime(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest run: %w", err)
	}
	if !ok {
		return time.Time{}, ErrNoRuns
	}
	return at, nil
}

// RoomSeries returns the full history of one room, oldest first
func (r *Resolver) RoomSeries(ctx context.Context, building, room string) ([]*models.Reading, error) {
	building, room = strings.TrimSpace(building), strings.TrimSpace(room)
	if building == "" || room == "" {
		return nil, fmt.Errorf("building and room are required")
	}
	rows, err := r.store.QueryRoomSeries(ctx, building, room)
	if err != nil {
		return nil, fmt.Errorf("failed to query room %s-%s: %w", building, room, err)
	}
	return rows, nil
}

// Times lists the minute snapshots available for selection, newest first
func (r *Resolver) Times(ctx context.Context, limit int) ([]models.TimePoint, error) {
	buckets, err := r.store.ListBuckets(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	points := make([]models.TimePoint, 0, len(buckets))
	for _, b := range buckets {
		local := b.Bucket.In(r.loc)
		points = append(points, models.TimePoint{
			TimeID:       r.TimeID(b.Bucket),
			Display:      local.Format(minuteDisplay),
			Bucket:       b.Bucket,
			ReadingCount: b.ReadingCount,
			Description:  b.Description,
		})
	}
	return points, nil
}

// TimeID formats t as the 12 digit minute identifier accepted by Resolve
func (r *Resolver) TimeID(t time.Time) string {
	return t.In(r.loc).Format(minuteLayout)
}

func (r *Resolver) parse(input string) (query, error) {
	switch strings.ToLower(input) {
	case "", "undefined", "null":
		return query{}, &ParseError{Kind: KindInvalid, Input: input, DisplayTime: unknownDisplay}
	}

	if isDigits(input) {
		switch len(input) {
		case len(dayLayout):
			return r.parseLayout(input, dayLayout, dayDisplay, models.GranularityDay)
		case len(minuteLayout):
			return r.parseLayout(input, minuteLayout, minuteDisplay, models.GranularityMinute)
		}
	}

	if strings.Contains(input, "-") {
		datePart, _, _ := strings.Cut(input, " ")
		parts := strings.Split(datePart, "-")
		if len(parts) != 3 || len(parts[0]) != 4 || len(parts[1]) != 2 || len(parts[2]) != 2 {
			return query{}, &ParseError{Kind: KindMalformedDate, Input: input, DisplayTime: input}
		}
		compact := parts[0] + parts[1] + parts[2]
		if !isDigits(compact) {
			return query{}, &ParseError{Kind: KindMalformedDate, Input: input, DisplayTime: input}
		}
		q, err := r.parseLayout(compact, dayLayout, dayDisplay, models.GranularityDay)
		if err != nil {
			return query{}, &ParseError{Kind: KindMalformedDate, Input: input, DisplayTime: input, Err: err}
		}
		return q, nil
	}

	return query{}, &ParseError{Kind: KindUnsupportedFormat, Input: input, DisplayTime: input}
}

func (r *Resolver) parseLayout(input, layout, display string, g models.Granularity) (query, error) {
	at, err := time.ParseInLocation(layout, input, r.loc)
	if err != nil {
		return query{}, &ParseError{Kind: KindMalformedDate, Input: input, DisplayTime: input, Err: err}
	}
	return query{granularity: g, at: at, display: at.Format(display)}, nil
}

// normalize percent-decodes id when it is valid escaping and trims spaces
func normalize(id string) string {
	if decoded, err := url.PathUnescape(id); err == nil {
		id = decoded
	}
	return strings.TrimSpace(id)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Dedupe keeps one reading per room, the one with the latest SampledAt.
// On equal timestamps the reading seen later in rows wins. Rooms keep the
// order of their first appearance.
func Dedupe(rows []*models.Reading) []*models.Reading {
	index := make(map[models.RoomKey]int, len(rows))
	out := make([]*models.Reading, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		key := row.Key()
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, row)
			continue
		}
		if !row.SampledAt.Before(out[i].SampledAt) {
			out[i] = row
		}
	}
	return out
}

// SortByValue orders readings by ascending value, lowest balance first.
// Equal values are ordered by building then room.
func SortByValue(readings []*models.Reading) {
	sort.SliceStable(readings, func(i, j int) bool {
		a, b := readings[i], readings[j]
		if c := a.Value.Cmp(b.Value); c != 0 {
			return c < 0
		}
		if a.Building != b.Building {
			return a.Building < b.Building
		}
		return lessRoom(a.Room, b.Room)
	})
}

// lessRoom compares numerically when both rooms are numbers so "99" sorts before "101"
func lessRoom(a, b string) bool {
	ai, errA := strconv.Atoi(a)
	bi, errB := strconv.Atoi(b)
	if errA == nil && errB == nil && ai != bi {
		return ai < bi
	}
	return a < b
}

// BuildingStats summarises readings per building, ordered by building name
func BuildingStats(readings []*models.Reading) []models.BuildingStat {
	type acc struct {
		count    int
		sum      decimal.Decimal
		min, max decimal.Decimal
	}
	byBuilding := make(map[string]*acc)
	for _, r := range readings {
		if r == nil {
			continue
		}
		a, ok := byBuilding[r.Building]
		if !ok {
			byBuilding[r.Building] = &acc{count: 1, sum: r.Value, min: r.Value, max: r.Value}
			continue
		}
		a.count++
		a.sum = a.sum.Add(r.Value)
		a.min = decimal.Min(a.min, r.Value)
		a.max = decimal.Max(a.max, r.Value)
	}

	stats := make([]models.BuildingStat, 0, len(byBuilding))
	for name, a := range byBuilding {
		stats = append(stats, models.BuildingStat{
			Building: name,
			Count:    a.count,
			Average:  a.sum.Div(decimal.NewFromInt(int64(a.count))).Round(2).InexactFloat64(),
			Min:      a.min.InexactFloat64(),
			Max:      a.max.InexactFloat64(),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Building < stats[j].Building })
	return stats
}
