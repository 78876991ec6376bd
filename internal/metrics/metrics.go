package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/afroash/room-balance-monitor/internal/models"
)

const namespace = "room_balance"

// Metrics holds the service collectors. It satisfies both fetcher.Observer
// and cache.Observer. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	fetchTotal    *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	savesTotal    *prometheus.CounterVec

	batchesTotal    prometheus.Counter
	batchDuration   prometheus.Histogram
	batchSucceeded  prometheus.Gauge
	batchFailed     prometheus.Gauge
	batchNotSaved   prometheus.Gauge
	batchLastFinish prometheus.Gauge

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheErrors *prometheus.CounterVec
}

// New creates Metrics registered on a fresh registry with the Go and process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Room fetches by outcome.",
		}, []string{"status"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Latency of single portal requests.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 4, 8},
		}),
		savesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reading_saves_total",
			Help:      "Persisted readings by result.",
		}, []string{"result"}),
		batchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Completed acquisition batches.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of acquisition batches.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 8),
		}),
		batchSucceeded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_batch_succeeded",
			Help:      "Rooms fetched successfully in the last batch.",
		}),
		batchFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_batch_failed",
			Help:      "Rooms that failed in the last batch.",
		}),
		batchNotSaved: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_batch_not_saved",
			Help:      "Rooms fetched but not saved in the last batch.",
		}),
		batchLastFinish: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_batch_timestamp_seconds",
			Help:      "Unix time the last batch finished.",
		}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total cache hits by operation.",
		}, []string{"op"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total cache misses by operation.",
		}, []string{"op"}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Cache backend failures by operation.",
		}, []string{"op"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpDuration,
		m.fetchTotal,
		m.fetchDuration,
		m.savesTotal,
		m.batchesTotal,
		m.batchDuration,
		m.batchSucceeded,
		m.batchFailed,
		m.batchNotSaved,
		m.batchLastFinish,
		m.cacheHits,
		m.cacheMisses,
		m.cacheErrors,
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler records request count and latency under route
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) FetchCompleted(status models.OutcomeStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.fetchTotal.WithLabelValues(string(status)).Inc()
	if elapsed > 0 {
		m.fetchDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) ReadingSaved(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.savesTotal.WithLabelValues("error").Inc()
		return
	}
	m.savesTotal.WithLabelValues("ok").Inc()
}

func (m *Metrics) BatchCompleted(result *models.BatchResult) {
	if m == nil || result == nil {
		return
	}
	m.batchesTotal.Inc()
	m.batchDuration.Observe(result.Duration.Seconds())
	m.batchSucceeded.Set(float64(result.Succeeded))
	m.batchFailed.Set(float64(result.Failed))
	m.batchNotSaved.Set(float64(result.NotSaved))
	m.batchLastFinish.SetToCurrentTime()
}

func (m *Metrics) CacheHit(op string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(op).Inc()
}

func (m *Metrics) CacheMiss(op string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(op).Inc()
}

func (m *Metrics) CacheError(op string) {
	if m == nil {
		return
	}
	m.cacheErrors.WithLabelValues(op).Inc()
}
