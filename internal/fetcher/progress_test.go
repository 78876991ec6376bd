package fetcher

import (
	"testing"
	"time"

	"github.com/afroash/room-balance-monitor/internal/models"
)

func TestProgressReporter_SlowConsumer(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var delivered []int

	r := newProgressReporter(func(p models.Progress) {
		if len(delivered) == 0 {
			close(started)
			<-release
		}
		delivered = append(delivered, p.Completed)
	}, 1)

	r.send(models.Progress{Total: 10, Completed: 1})
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never received the first event")
	}

	// consumer is stuck: one event fits in the buffer, the rest are dropped
	for i := 2; i <= 9; i++ {
		r.send(models.Progress{Total: 10, Completed: i})
	}
	if got := r.dropped.Load(); got != 7 {
		t.Errorf("dropped = %d, want 7", got)
	}

	close(release)
	r.finish(models.Progress{Total: 10, Completed: 10})

	want := []int{1, 2, 10}
	if len(delivered) != len(want) {
		t.Fatalf("delivered = %v, want %v", delivered, want)
	}
	for i := range want {
		if delivered[i] != want[i] {
			t.Errorf("delivered[%d] = %d, want %d", i, delivered[i], want[i])
		}
	}
}

func TestProgressReporter_SkipsStaleEvents(t *testing.T) {
	var delivered []int
	r := newProgressReporter(func(p models.Progress) {
		delivered = append(delivered, p.Completed)
	}, 8)

	for _, c := range []int{1, 3, 2, 4} {
		r.send(models.Progress{Total: 5, Completed: c})
	}
	r.finish(models.Progress{Total: 5, Completed: 5})

	want := []int{1, 3, 4, 5}
	if len(delivered) != len(want) {
		t.Fatalf("delivered = %v, want %v", delivered, want)
	}
	for i := range want {
		if delivered[i] != want[i] {
			t.Errorf("delivered[%d] = %d, want %d", i, delivered[i], want[i])
		}
	}
}

func TestProgressReporter_NilFunc(t *testing.T) {
	r := newProgressReporter(nil, 4)
	r.send(models.Progress{Completed: 1})
	r.finish(models.Progress{Completed: 1})
	if r.dropped.Load() != 0 {
		t.Errorf("dropped = %d, want 0 without a consumer", r.dropped.Load())
	}
}
