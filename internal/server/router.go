package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/afroash/room-balance-monitor/internal/metrics"
)

const progressPath = "/api/progress"

// RouterOptions configures NewRouter
type RouterOptions struct {
	AuthToken      string
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// NewRouter wires the API, the progress stream and /metrics behind recovery,
// request logging and optional CORS
func NewRouter(api *APIHandler, hub *ProgressHub, m *metrics.Metrics, opts RouterOptions) http.Handler {
	r := mux.NewRouter()
	r.Use(metricsMiddleware(m))

	r.HandleFunc("/health", api.HandleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/latest", api.HandleLatest).Methods(http.MethodGet)
	apiRouter.HandleFunc("/latest_time", api.HandleLatestTime).Methods(http.MethodGet)
	apiRouter.HandleFunc("/history/{timeId}", api.HandleHistory).Methods(http.MethodGet)
	apiRouter.HandleFunc("/history_times", api.HandleHistoryTimes).Methods(http.MethodGet)
	apiRouter.HandleFunc("/runs", api.HandleRuns).Methods(http.MethodGet)
	apiRouter.HandleFunc("/rooms/{building}/{room}/history", api.HandleRoomHistory).Methods(http.MethodGet)
	apiRouter.HandleFunc("/buildings", api.HandleBuildings).Methods(http.MethodGet)
	apiRouter.HandleFunc("/stats", api.HandleStats).Methods(http.MethodGet)
	apiRouter.HandleFunc("/batches", api.HandleBatchStatus).Methods(http.MethodGet)
	apiRouter.Handle("/batches", requireToken(opts.AuthToken, http.HandlerFunc(api.HandleTriggerBatch))).Methods(http.MethodPost)
	apiRouter.Handle("/cache/clear", requireToken(opts.AuthToken, http.HandlerFunc(api.HandleClearCache))).Methods(http.MethodPost)
	if hub != nil {
		r.Handle(progressPath, hub).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such endpoint")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	logger := opts.Logger.With().Str("component", "http").Logger()

	var h http.Handler = r
	if len(opts.AllowedOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(opts.AllowedOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		)(h)
	}
	h = handlers.CustomLoggingHandler(io.Discard, h, accessLog(logger))
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{logger}))(h)
	return h
}

// metricsMiddleware labels request metrics with the route template. The
// progress stream is skipped since it needs the raw connection to upgrade.
func metricsMiddleware(m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			if route == progressPath {
				next.ServeHTTP(w, r)
				return
			}
			m.WrapHandler(route, next).ServeHTTP(w, r)
		})
	}
}

// accessLog writes one zerolog line per request
func accessLog(logger zerolog.Logger) handlers.LogFormatter {
	return func(_ io.Writer, p handlers.LogFormatterParams) {
		event := logger.Info()
		if p.StatusCode >= http.StatusInternalServerError {
			event = logger.Error()
		} else if p.URL.Path == "/health" || p.URL.Path == "/metrics" {
			event = logger.Debug()
		}
		event.
			Str("method", p.Request.Method).
			Str("path", p.URL.Path).
			Int("status", p.StatusCode).
			Int("size", p.Size).
			Dur("elapsed", time.Since(p.TimeStamp)).
			Str("remote", p.Request.RemoteAddr).
			Msg("Request")
	}
}

// recoveryLogger adapts zerolog to handlers.RecoveryHandlerLogger
type recoveryLogger struct {
	logger zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error().Interface("panic", v).Msg("Recovered from panic")
}
