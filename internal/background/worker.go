package background

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"bgqueue/internal/eventbus"
	"bgqueue/internal/tracing"
	"bgqueue/pkg/logx"
)

// WorkerState is what the worker loop is doing right now.
type WorkerState int32

const (
	StateSleeping WorkerState = iota
	StateDraining
	StateGone
)

func (s WorkerState) String() string {
	switch s {
	case StateSleeping:
		return "sleeping"
	case StateDraining:
		return "draining"
	default:
		return "gone"
	}
}

func (s *Scheduler) WorkerState() WorkerState {
	if !s.Healthy() {
		return StateGone
	}
	return WorkerState(s.state.Load())
}

// run is the worker goroutine body. It returns nil on shutdown and
// ErrWorkerExited if the loop ever ends without one.
func (s *Scheduler) run(ctx context.Context, h *workerHandle) (err error) {
	defer close(s.done)
	defer func() {
		s.worker.CompareAndSwap(h, nil)
		if s.stopping(ctx) {
			return
		}
		exitErr := err
		if exitErr == nil {
			exitErr = ErrWorkerExited
		}
		s.setWorkerErr(exitErr)
		s.log.Error("background worker loop exited", logx.Err(exitErr), logx.Int("pending", s.store.Size()))
		s.bus.Publish(eventbus.Event{Type: eventbus.BackgroundWorkerExit, Data: TaskEvent{Name: h.name, Err: exitErr.Error()}})
	}()

	for {
		s.state.Store(int32(StateSleeping))
		select {
		case <-ctx.Done():
			return nil
		case <-s.stop:
			return nil
		case <-s.wake:
		}

		s.state.Store(int32(StateDraining))
		for !s.stopping(ctx) && s.store.ConsumeFront(func(e *entry) { s.execute(ctx, e) }) {
		}
	}
}

func (s *Scheduler) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// execute runs one detached entry, then releases its resource.
func (s *Scheduler) execute(ctx context.Context, e *entry) {
	start := time.Now()
	_, span := tracing.StartTask(ctx, e.name, s.store.Size())

	err := s.invoke(e)
	s.release(e)
	span.End(err)

	elapsed := time.Since(start)
	ev := TaskEvent{Name: e.name, QueueDelay: start.Sub(e.enqueuedAt), Duration: elapsed}
	s.executed.Add(1)
	if err != nil {
		s.panicked.Add(1)
		ev.Err = err.Error()
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskPanicked, Data: ev})
		return
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskFinished, Data: ev})
	if s.cfg.LogCompleted {
		s.log.Debug("background task completed",
			logx.String("task", e.name),
			logx.Duration("queue_delay", ev.QueueDelay),
			logx.Duration("duration", elapsed),
		)
	}
}

func (s *Scheduler) invoke(e *entry) (err error) {
	if e.kind == actionNone {
		s.log.Warn("background task has no action, skipped", logx.String("task", e.name))
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q panicked: %v", e.name, r)
			s.log.Error("background task panicked",
				logx.String("task", e.name),
				logx.String("kind", e.kind.String()),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	e.run()
	return nil
}
