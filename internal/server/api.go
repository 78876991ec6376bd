package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/afroash/room-balance-monitor/internal/cache"
	"github.com/afroash/room-balance-monitor/internal/collector"
	"github.com/afroash/room-balance-monitor/internal/config"
	"github.com/afroash/room-balance-monitor/internal/history"
	"github.com/afroash/room-balance-monitor/internal/models"
)

const (
	defaultRunLimit   = 10
	maxRunLimit       = 100
	defaultTimesLimit = 100
	maxTimesLimit     = 1000
	defaultBatchLimit = 5

	noRunsDisplay = "no runs recorded"
)

// APIHandler handles the HTTP read API and batch control
type APIHandler struct {
	resolver SnapshotResolver
	runs     RunStore
	batches  BatchController
	cache    *cache.Layer
	ttl      config.CacheTTLs
	version  string
	logger   zerolog.Logger
}

// NewAPIHandler creates a new API handler. layer may be disabled but not nil.
func NewAPIHandler(resolver SnapshotResolver, runs RunStore, batches BatchController, layer *cache.Layer, ttl config.CacheTTLs, version string, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		resolver: resolver,
		runs:     runs,
		batches:  batches,
		cache:    layer,
		ttl:      ttl,
		version:  version,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	QueryTime string `json:"query_time,omitempty"`
}

// LatestTimeResponse reports when the newest batch ran
type LatestTimeResponse struct {
	QueryTime string `json:"query_time"`
	TimeID    string `json:"time_id,omitempty"`
	Available bool   `json:"available"`
}

// BuildingsResponse carries per-building statistics of the latest snapshot
type BuildingsResponse struct {
	QueryTime     string                `json:"query_time"`
	BuildingStats []models.BuildingStat `json:"building_stats"`
}

// RoomPoint is one sample of a room's history
type RoomPoint struct {
	QueryTime string          `json:"query_time"`
	TimeID    string          `json:"time_id"`
	Value     decimal.Decimal `json:"value"`
}

// RoomHistoryResponse lists a room's samples, newest first
type RoomHistoryResponse struct {
	Building string      `json:"building"`
	Room     string      `json:"room"`
	History  []RoomPoint `json:"history"`
}

// BatchStatusResponse reports the acquisition state
type BatchStatusResponse struct {
	Running bool                     `json:"running"`
	Recent  []*models.BatchResult    `json:"recent"`
	Stats   collector.ResultLogStats `json:"stats"`
}

// HandleHealth reports liveness and dependency state
func (api *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       api.version,
		"cache":         api.cache.Available(r.Context()),
		"batch_running": api.batches.Running(),
	})
}

// HandleLatest returns the snapshot of the newest batch run
func (api *APIHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	snap, err := cache.WithCache(r.Context(), api.cache, cache.Key(cache.OpLatest), api.ttl.Latest,
		func(ctx context.Context) (*models.Snapshot, error) {
			return api.resolver.Latest(ctx)
		})
	if errors.Is(err, history.ErrNoRuns) {
		writeError(w, http.StatusNotFound, "no_runs", noRunsDisplay)
		return
	}
	if err != nil {
		api.internalError(w, err, "Failed to load latest snapshot")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleLatestTime returns the start of the newest batch run
func (api *APIHandler) HandleLatestTime(w http.ResponseWriter, r *http.Request) {
	resp, err := cache.WithCache(r.Context(), api.cache, cache.Key(cache.OpLatestTime), api.ttl.LatestTime,
		func(ctx context.Context) (LatestTimeResponse, error) {
			at, err := api.resolver.LatestRunTime(ctx)
			if errors.Is(err, history.ErrNoRuns) {
				return LatestTimeResponse{QueryTime: noRunsDisplay}, nil
			}
			if err != nil {
				return LatestTimeResponse{}, err
			}
			return LatestTimeResponse{
				QueryTime: at.In(api.resolver.Location()).Format("2006-01-02 15:04:05"),
				TimeID:    api.resolver.TimeID(at),
				Available: true,
			}, nil
		})
	if err != nil {
		api.internalError(w, err, "Failed to load latest run time")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleHistory resolves a time identifier to a snapshot
func (api *APIHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["timeId"]
	snap, err := cache.WithCache(r.Context(), api.cache, cache.Key(cache.OpHistory, id), api.ttl.History,
		func(ctx context.Context) (*models.Snapshot, error) {
			return api.resolver.Resolve(ctx, id)
		})

	var pe *history.ParseError
	if errors.As(err, &pe) {
		status := http.StatusBadRequest
		if pe.Kind == history.KindNotFound {
			status = http.StatusNotFound
		}
		writeJSON(w, status, ErrorResponse{
			Error:     string(pe.Kind),
			Message:   pe.Error(),
			QueryTime: pe.DisplayTime,
		})
		return
	}
	if err != nil {
		api.internalError(w, err, "Failed to resolve history")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleHistoryTimes lists the selectable snapshots, newest first
func (api *APIHandler) HandleHistoryTimes(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultTimesLimit, maxTimesLimit)
	times, err := cache.WithCache(r.Context(), api.cache, cache.Key(cache.OpHistoryTimes, limit), api.ttl.HistoryTimes,
		func(ctx context.Context) ([]models.TimePoint, error) {
			return api.resolver.Times(ctx, limit)
		})
	if err != nil {
		api.internalError(w, err, "Failed to list history times")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"times": nonNil(times)})
}

// HandleRuns lists recent batch runs
func (api *APIHandler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultRunLimit, maxRunLimit)
	runs, err := cache.WithCache(r.Context(), api.cache, cache.Key(cache.OpRuns, limit), api.ttl.Runs,
		func(ctx context.Context) ([]models.BatchRun, error) {
			return api.runs.ListRuns(ctx, limit)
		})
	if err != nil {
		api.internalError(w, err, "Failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": nonNil(runs)})
}

// HandleRoomHistory returns every sample of one room, newest first
func (api *APIHandler) HandleRoomHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	building, room := vars["building"], vars["room"]
	resp, err := cache.WithCache(r.Context(), api.cache, cache.Key(cache.OpRoomHistory, building, room), api.ttl.RoomHistory,
		func(ctx context.Context) (RoomHistoryResponse, error) {
			series, err := api.resolver.RoomSeries(ctx, building, room)
			if err != nil {
				return RoomHistoryResponse{}, err
			}
			loc := api.resolver.Location()
			points := make([]RoomPoint, 0, len(series))
			for i := len(series) - 1; i >= 0; i-- {
				s := series[i]
				points = append(points, RoomPoint{
					QueryTime: s.SampledAt.In(loc).Format("2006-01-02 15:04"),
					TimeID:    api.resolver.TimeID(s.SampledAt),
					Value:     s.Value,
				})
			}
			return RoomHistoryResponse{Building: building, Room: room, History: points}, nil
		})
	if err != nil {
		api.internalError(w, err, "Failed to load room history")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleBuildings returns per-building statistics of the latest snapshot
func (api *APIHandler) HandleBuildings(w http.ResponseWriter, r *http.Request) {
	resp, err := cache.WithCache(r.Context(), api.cache, cache.Key(cache.OpBuildings), api.ttl.Buildings,
		func(ctx context.Context) (BuildingsResponse, error) {
			snap, err := api.resolver.Latest(ctx)
			if err != nil {
				return BuildingsResponse{}, err
			}
			return BuildingsResponse{
				QueryTime:     snap.DisplayTime,
				BuildingStats: history.BuildingStats(snap.Readings),
			}, nil
		})
	if errors.Is(err, history.ErrNoRuns) {
		writeError(w, http.StatusNotFound, "no_runs", noRunsDisplay)
		return
	}
	if err != nil {
		api.internalError(w, err, "Failed to compute building stats")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleStats returns storage statistics
func (api *APIHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := api.runs.GetStorageStats(r.Context())
	if err != nil {
		api.internalError(w, err, "Failed to read storage stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"storage": stats,
		"batches": api.batches.Results().Stats(),
	})
}

// HandleBatchStatus reports whether a batch is running and the recent results
func (api *APIHandler) HandleBatchStatus(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultBatchLimit, collectorCapacity(api.batches))
	results := api.batches.Results()
	writeJSON(w, http.StatusOK, BatchStatusResponse{
		Running: api.batches.Running(),
		Recent:  results.Recent(limit),
		Stats:   results.Stats(),
	})
}

// HandleTriggerBatch starts a batch in the background
func (api *APIHandler) HandleTriggerBatch(w http.ResponseWriter, r *http.Request) {
	err := api.batches.Trigger(collector.TriggerManual)
	if errors.Is(err, collector.ErrBatchRunning) {
		writeError(w, http.StatusConflict, "batch_running", "a batch is already running")
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	api.logger.Info().Str("remote", r.RemoteAddr).Msg("Batch triggered")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleClearCache clears one prefix, or everything when prefix is empty
func (api *APIHandler) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		writeJSON(w, http.StatusOK, map[string]any{"cleared_all": api.cache.ClearAll(r.Context())})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"prefix":  prefix,
		"cleared": api.cache.ClearPrefix(r.Context(), prefix),
	})
}

func (api *APIHandler) internalError(w http.ResponseWriter, err error, msg string) {
	api.logger.Error().Err(err).Msg(msg)
	writeError(w, http.StatusInternalServerError, "internal", msg)
}

func collectorCapacity(b BatchController) int {
	return b.Results().Stats().Capacity
}

// queryLimit parses ?limit=, falling back to def and capping at ceiling
func queryLimit(r *http.Request, def, ceiling int) int {
	limit := def
	if s := r.URL.Query().Get("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > ceiling {
		limit = ceiling
	}
	return limit
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// requireToken rejects requests without the bearer token
func requireToken(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !validateToken(r.Header.Get("Authorization"), token) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
