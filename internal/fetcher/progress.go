package fetcher

import (
	"sync/atomic"

	"github.com/afroash/room-balance-monitor/internal/models"
)

// progressReporter decouples workers from the progress consumer. Workers
// never block on send; when the buffer is full the event is dropped and the
// next one carries the newer count. Stale events that arrive out of order
// are skipped so the consumer only ever sees Completed increase.
type progressReporter struct {
	fn      ProgressFunc
	ch      chan models.Progress
	done    chan struct{}
	dropped atomic.Int64
}

func newProgressReporter(fn ProgressFunc, buffer int) *progressReporter {
	r := &progressReporter{fn: fn}
	if fn == nil {
		return r
	}
	r.ch = make(chan models.Progress, buffer)
	r.done = make(chan struct{})
	go r.loop()
	return r
}

func (r *progressReporter) loop() {
	defer close(r.done)
	last := -1
	for p := range r.ch {
		if p.Completed < last {
			continue
		}
		last = p.Completed
		r.fn(p)
	}
}

func (r *progressReporter) send(p models.Progress) {
	if r.ch == nil {
		return
	}
	select {
	case r.ch <- p:
	default:
		r.dropped.Add(1)
	}
}

// finish delivers the final event, which is never dropped, and waits for
// the consumer to drain
func (r *progressReporter) finish(p models.Progress) {
	if r.ch == nil {
		return
	}
	r.ch <- p
	close(r.ch)
	<-r.done
}
