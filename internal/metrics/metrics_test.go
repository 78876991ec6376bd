package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/afroash/room-balance-monitor/internal/cache"
	"github.com/afroash/room-balance-monitor/internal/fetcher"
	"github.com/afroash/room-balance-monitor/internal/models"
)

var (
	_ fetcher.Observer = (*Metrics)(nil)
	_ cache.Observer   = (*Metrics)(nil)
)

func TestMetrics_Fetcher(t *testing.T) {
	m := New()

	m.FetchCompleted(models.OutcomeSuccess, 120*time.Millisecond)
	m.FetchCompleted(models.OutcomeSuccess, 80*time.Millisecond)
	m.FetchCompleted(models.OutcomeFailed, 0)
	m.ReadingSaved(nil)
	m.ReadingSaved(errors.New("locked"))

	if got := testutil.ToFloat64(m.fetchTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("fetch_total{success} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.fetchTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("fetch_total{failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.savesTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("reading_saves_total{error} = %v, want 1", got)
	}

	result := models.NewBatchResult(time.Now(), 3)
	result.Succeeded, result.Failed, result.NotSaved = 2, 1, 1
	result.Duration = 30 * time.Second
	m.BatchCompleted(result)

	if got := testutil.ToFloat64(m.batchesTotal); got != 1 {
		t.Errorf("batches_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.batchFailed); got != 1 {
		t.Errorf("last_batch_failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.batchSucceeded); got != 2 {
		t.Errorf("last_batch_succeeded = %v, want 2", got)
	}
}

func TestMetrics_Cache(t *testing.T) {
	m := New()
	m.CacheHit("latest")
	m.CacheHit("latest")
	m.CacheMiss("history")
	m.CacheError("history")

	if got := testutil.ToFloat64(m.cacheHits.WithLabelValues("latest")); got != 2 {
		t.Errorf("cache_hits_total{latest} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.cacheMisses.WithLabelValues("history")); got != 1 {
		t.Errorf("cache_misses_total{history} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cacheErrors.WithLabelValues("history")); got != 1 {
		t.Errorf("cache_errors_total{history} = %v, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.FetchCompleted(models.OutcomeSuccess, time.Second)
	m.ReadingSaved(nil)
	m.BatchCompleted(&models.BatchResult{})
	m.CacheHit("x")
	m.CacheMiss("x")
	m.CacheError("x")

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	if got := m.WrapHandler("x", h); got == nil {
		t.Error("WrapHandler on nil Metrics returned nil")
	}
}

func TestMetrics_HandlerAndWrap(t *testing.T) {
	m := New()
	wrapped := m.WrapHandler("/api/latest", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/latest", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	want := `room_balance_http_requests_total{route="/api/latest",status="418"} 1`
	if !strings.Contains(string(body), want) {
		t.Errorf("metrics output missing %q", want)
	}
}
