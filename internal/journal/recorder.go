package journal

import (
	"context"
	"sync/atomic"
	"time"

	"bgqueue/internal/background"
	"bgqueue/internal/eventbus"
	"bgqueue/pkg/logx"
)

const appendTimeout = 2 * time.Second

// Recorder appends every background.report event to a Store.
type Recorder struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger

	written atomic.Uint64
	failed  atomic.Uint64
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	return &Recorder{store: store, bus: bus, log: log.With(logx.String("comp", "journal"))}
}

// Run consumes reports until ctx is done. Write failures are logged, not returned.
func (r *Recorder) Run(ctx context.Context) error {
	ch, unsub := r.bus.Subscribe(16, eventbus.BackgroundReport)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			rep, ok := ev.Data.(background.Report)
			if !ok {
				continue
			}
			r.record(ctx, rep)
		}
	}
}

func (r *Recorder) record(ctx context.Context, rep background.Report) {
	actx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()
	if err := r.store.Append(actx, RecordFromReport(rep)); err != nil {
		r.failed.Add(1)
		r.log.Warn("journal append failed", logx.Err(err))
		return
	}
	r.written.Add(1)
}

func (r *Recorder) Written() uint64 { return r.written.Load() }
func (r *Recorder) Failed() uint64  { return r.failed.Load() }
