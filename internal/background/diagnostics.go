package background

import (
	"runtime"
	"time"

	"bgqueue/internal/eventbus"
	"bgqueue/internal/runtime/supervisor"
	"bgqueue/pkg/logx"
)

// Band classifies the peak queue depth against capacity.
type Band string

const (
	BandLow    Band = "low"
	BandMedium Band = "medium"
	BandHigh   Band = "high"
)

// BandFor: peak <= cap/2 is low, peak <= cap/2+cap/4 is medium, anything above is high.
func BandFor(peak, capacity int) Band {
	half := capacity >> 1
	switch {
	case peak <= half:
		return BandLow
	case peak <= half+(capacity>>2):
		return BandMedium
	default:
		return BandHigh
	}
}

// Level is the log level a report in this band is written at.
func (b Band) Level() logx.Level {
	switch b {
	case BandLow:
		return logx.LevelInfo
	case BandMedium:
		return logx.LevelWarn
	default:
		return logx.LevelError
	}
}

// Report is a point-in-time view of the queue, the worker and the runtime.
type Report struct {
	At          time.Time `json:"at"`
	Pending     int       `json:"pending"`
	Peak        int       `json:"peak"`
	Capacity    int       `json:"capacity"`
	Band        Band      `json:"band"`
	Healthy     bool      `json:"healthy"`
	WorkerState string    `json:"worker_state"`
	WorkerErr   string    `json:"worker_err,omitempty"`
	Goroutines  int       `json:"goroutines"`
	HeapInuse   uint64    `json:"heap_inuse"`
	NumGC       uint32    `json:"num_gc"`
	Stats       Stats     `json:"stats"`

	Worker *supervisor.GoroutineStats `json:"worker,omitempty"`
}

type statsSource interface {
	Stats(name string) (supervisor.GoroutineStats, bool)
}

// Snapshot builds a Report on the calling goroutine.
func (s *Scheduler) Snapshot() Report {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	peak := s.Peak()
	r := Report{
		At:          time.Now(),
		Pending:     s.Pending(),
		Peak:        peak,
		Capacity:    s.Capacity(),
		Band:        BandFor(peak, s.Capacity()),
		Healthy:     s.Healthy(),
		WorkerState: s.WorkerState().String(),
		Goroutines:  runtime.NumGoroutine(),
		HeapInuse:   ms.HeapInuse,
		NumGC:       ms.NumGC,
		Stats:       s.Stats(),
	}
	if err := s.WorkerErr(); err != nil {
		r.WorkerErr = err.Error()
	}
	if src, ok := s.runner.(statsSource); ok {
		if st, ok := src.Stats(workerName); ok {
			r.Worker = &st
		}
	}
	return r
}

// Diagnostics queues a task named "diag" that logs a Report at the level of its
// peak band and publishes it as background.report. The report runs in FIFO
// order with everything else, so it is subject to the same admission rules.
func (s *Scheduler) Diagnostics() error {
	return s.Schedule(func(arg any) { arg.(*Scheduler).report() }, diagTaskName, s, nil)
}

func (s *Scheduler) report() {
	r := s.Snapshot()
	fields := []logx.Field{
		logx.Int("pending", r.Pending),
		logx.Int("peak", r.Peak),
		logx.Int("queue_cap", r.Capacity),
		logx.String("band", string(r.Band)),
		logx.Bool("healthy", r.Healthy),
		logx.String("worker_state", r.WorkerState),
		logx.Int("goroutines", r.Goroutines),
		logx.Uint64("heap_inuse", r.HeapInuse),
		logx.Any("stats", r.Stats),
	}
	if r.Worker != nil {
		fields = append(fields,
			logx.Duration("worker_runtime", r.Worker.TotalRuntime),
			logx.Bool("worker_pinned", r.Worker.Pinned),
		)
	}
	s.log.Log(r.Band.Level(), "background queue report", fields...)
	s.bus.Publish(eventbus.Event{Type: eventbus.BackgroundReport, Data: r})
}
