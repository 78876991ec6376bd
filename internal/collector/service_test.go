package collector

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/afroash/room-balance-monitor/internal/cache"
	"github.com/afroash/room-balance-monitor/internal/fetcher"
	"github.com/afroash/room-balance-monitor/internal/history"
	"github.com/afroash/room-balance-monitor/internal/models"
	"github.com/afroash/room-balance-monitor/internal/storage"
)

// tableSource answers from a fixed table of values; rooms absent from the table fail
type tableSource struct {
	values map[string]string
}

func (s tableSource) FetchOne(_ context.Context, entry models.CatalogEntry) (decimal.Decimal, error) {
	v, ok := s.values[entry.Key().String()]
	if !ok {
		return decimal.Zero, errors.New("connection reset")
	}
	return decimal.RequireFromString(v), nil
}

// recordingPublisher keeps every published message
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*models.Message
}

func (p *recordingPublisher) Publish(msg *models.Message) {
	p.mu.Lock()
	p.msgs = append(p.msgs, msg)
	p.mu.Unlock()
}

func (p *recordingPublisher) types() []models.MessageType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.MessageType, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.Type
	}
	return out
}

// blockingRunner holds RunBatch until release is closed
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func (r *blockingRunner) RunBatch(ctx context.Context, catalog []models.CatalogEntry, _ fetcher.ProgressFunc, _ ...fetcher.RunOption) (*models.BatchResult, error) {
	close(r.started)
	select {
	case <-r.release:
	case <-ctx.Done():
		return models.NewBatchResult(time.Now(), len(catalog)), ctx.Err()
	}
	return models.NewBatchResult(time.Now(), len(catalog)), nil
}

func testCatalog() []models.CatalogEntry {
	return []models.CatalogEntry{
		{Building: "A", Room: "101", RemoteID: "r1"},
		{Building: "A", Room: "102", RemoteID: "r2"},
		{Building: "B", Room: "201", RemoteID: "r3"},
	}
}

func staticCatalog(entries []models.CatalogEntry) CatalogFunc {
	return func() ([]models.CatalogEntry, error) { return entries, nil }
}

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "collector.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestFetcher(store fetcher.ReadingWriter, values map[string]string) *fetcher.Fetcher {
	cfg := fetcher.DefaultConfig()
	cfg.Workers = 4
	cfg.BatchCooldown = 0
	cfg.MaxJitter = 0
	return fetcher.New(tableSource{values: values}, store, cfg, zerolog.Nop())
}

// TestService_EndToEnd fetches three rooms, one failing, and reads the
// latest snapshot back through the resolver.
func TestService_EndToEnd(t *testing.T) {
	store := newTestStore(t)
	f := newTestFetcher(store, map[string]string{"A-101": "12.5", "B-201": "3.0"})
	pub := &recordingPublisher{}

	svc := NewService(f, staticCatalog(testCatalog()), zerolog.Nop())
	svc.SetPublisher(pub)
	defer svc.Close()

	result, err := svc.Run(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Total != 3 || result.Succeeded != 2 || result.Failed != 1 {
		t.Errorf("result = total %d succeeded %d failed %d, want 3/2/1", result.Total, result.Succeeded, result.Failed)
	}
	if svc.LastResult() != result {
		t.Error("LastResult does not return the finished batch")
	}

	snap, err := history.NewResolver(store, time.UTC, zerolog.Nop()).Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	var got []string
	for _, r := range snap.Readings {
		got = append(got, r.Key().String()+"="+r.Value.String())
	}
	want := []string{"B-201=3", "A-101=12.5"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("latest snapshot = %v, want %v", got, want)
	}

	runs, err := store.ListRuns(context.Background(), 1)
	if err != nil || len(runs) != 1 || runs[0].Description != TriggerManual {
		t.Errorf("ListRuns = %+v, %v; want one %q run", runs, err, TriggerManual)
	}

	types := pub.types()
	if len(types) < 2 || types[0] != models.MessageTypeBatchStarted || types[len(types)-1] != models.MessageTypeBatchDone {
		t.Errorf("published types = %v, want batch_started ... batch_done", types)
	}

	var done models.BatchDoneMessage
	if err := pub.msgs[len(pub.msgs)-1].UnmarshalPayload(&done); err != nil {
		t.Fatalf("UnmarshalPayload failed: %v", err)
	}
	if done.Succeeded != 2 || done.Failed != 1 || done.Cancelled {
		t.Errorf("batch_done payload = %+v", done)
	}
}

func TestService_SingleFlight(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(runner, staticCatalog(testCatalog()), zerolog.Nop())
	defer svc.Close()

	if err := svc.Trigger(TriggerManual); err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	<-runner.started

	if !svc.Running() {
		t.Error("Running() = false during batch")
	}
	if err := svc.Trigger(TriggerManual); !errors.Is(err, ErrBatchRunning) {
		t.Errorf("second Trigger error = %v, want ErrBatchRunning", err)
	}
	if _, err := svc.Run(context.Background(), TriggerScheduled); !errors.Is(err, ErrBatchRunning) {
		t.Errorf("Run during batch error = %v, want ErrBatchRunning", err)
	}

	close(runner.release)
	deadline := time.Now().Add(2 * time.Second)
	for svc.Running() {
		if time.Now().After(deadline) {
			t.Fatal("batch did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestService_CloseCancelsBackgroundBatch(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(runner, staticCatalog(testCatalog()), zerolog.Nop())

	if err := svc.Trigger(TriggerManual); err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	<-runner.started
	svc.Close()

	if svc.Running() {
		t.Error("Running() = true after Close")
	}
	if err := svc.Trigger(TriggerManual); err == nil {
		t.Error("Trigger after Close succeeded")
	}
}

func TestService_InvalidatesCache(t *testing.T) {
	store := newTestStore(t)
	f := newTestFetcher(store, map[string]string{"A-101": "1"})
	layer := cache.NewLayer(cache.NewMemoryClient(), zerolog.Nop())
	ctx := context.Background()

	warm := func(key string) {
		if _, err := cache.WithCache(ctx, layer, key, time.Hour, func(context.Context) (int, error) { return 1, nil }); err != nil {
			t.Fatalf("WithCache(%q) failed: %v", key, err)
		}
	}
	for _, op := range cache.ReadPathOps {
		warm(cache.Key(op, "x"))
	}
	warm(cache.Key("unrelated"))

	svc := NewService(f, staticCatalog(testCatalog()[:1]), zerolog.Nop())
	svc.SetInvalidator(layer)
	defer svc.Close()

	if _, err := svc.Run(ctx, TriggerManual); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// a recompute means the entry was cleared
	recomputed := func(key string) bool {
		called := false
		cache.WithCache(ctx, layer, key, time.Hour, func(context.Context) (int, error) {
			called = true
			return 2, nil
		})
		return called
	}
	for _, op := range cache.ReadPathOps {
		if !recomputed(cache.Key(op, "x")) {
			t.Errorf("entry for %q survived the batch", op)
		}
	}
	if recomputed(cache.Key("unrelated")) {
		t.Error("unrelated entry was cleared")
	}
}

func TestService_EmptyCatalog(t *testing.T) {
	store := newTestStore(t)
	f := newTestFetcher(store, nil)
	pub := &recordingPublisher{}
	svc := NewService(f, staticCatalog(nil), zerolog.Nop())
	svc.SetPublisher(pub)
	defer svc.Close()

	result, err := svc.Run(context.Background(), TriggerManual)
	if !errors.Is(err, fetcher.ErrEmptyCatalog) {
		t.Fatalf("Run error = %v, want ErrEmptyCatalog", err)
	}
	if result == nil || result.Total != 0 {
		t.Errorf("result = %+v, want Total 0", result)
	}
	if svc.LastResult() != nil {
		t.Error("empty batch recorded as last result")
	}
	types := pub.types()
	if types[len(types)-1] != models.MessageTypeError {
		t.Errorf("last message = %q, want error", types[len(types)-1])
	}
}

func TestService_CatalogError(t *testing.T) {
	boom := errors.New("catalog missing")
	svc := NewService(&blockingRunner{}, func() ([]models.CatalogEntry, error) { return nil, boom }, zerolog.Nop())
	defer svc.Close()

	if _, err := svc.Run(context.Background(), TriggerManual); !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want %v", err, boom)
	}
	if svc.Running() {
		t.Error("Running() = true after failed run")
	}
}

func TestScheduler_RunsUntilCancelled(t *testing.T) {
	store := newTestStore(t)
	f := newTestFetcher(store, map[string]string{"A-101": "1"})
	svc := NewService(f, staticCatalog(testCatalog()[:1]), zerolog.Nop())
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sched := NewScheduler(svc, 20*time.Millisecond, zerolog.Nop())
	errCh := make(chan error, 1)
	go func() { errCh <- sched.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		runs, err := store.ListRuns(context.Background(), 10)
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(runs) >= 2 {
			if runs[0].Description != TriggerScheduled {
				t.Errorf("run description = %q, want %q", runs[0].Description, TriggerScheduled)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("scheduler recorded %d runs, want at least 2", len(runs))
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Start returned %v, want context.Canceled", err)
	}
}

// instantRunner finishes every batch as soon as it starts
type instantRunner struct{}

func (instantRunner) RunBatch(_ context.Context, catalog []models.CatalogEntry, _ fetcher.ProgressFunc, _ ...fetcher.RunOption) (*models.BatchResult, error) {
	return models.NewBatchResult(time.Now(), len(catalog)), nil
}

func TestService_TriggerRacingClose(t *testing.T) {
	for i := 0; i < 50; i++ {
		svc := NewService(instantRunner{}, staticCatalog(testCatalog()), zerolog.Nop())

		var wg sync.WaitGroup
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for k := 0; k < 20; k++ {
					err := svc.Trigger(TriggerManual)
					if err != nil && !errors.Is(err, ErrBatchRunning) && !errors.Is(err, ErrServiceClosed) {
						t.Errorf("Trigger error = %v", err)
					}
				}
			}()
		}

		closed := make(chan struct{})
		go func() {
			svc.Close()
			close(closed)
		}()

		wg.Wait()
		select {
		case <-closed:
		case <-time.After(2 * time.Second):
			t.Fatal("Close did not return")
		}

		if err := svc.Trigger(TriggerManual); !errors.Is(err, ErrServiceClosed) {
			t.Fatalf("Trigger after Close error = %v, want ErrServiceClosed", err)
		}
		if svc.Running() {
			t.Fatal("Running() = true after Close")
		}
	}
}
