package background

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"bgqueue/internal/eventbus"
	"bgqueue/internal/runtime/supervisor"
	"bgqueue/internal/slots"
	"bgqueue/pkg/logx"
)

// Stats are monotonic counters since construction.
type Stats struct {
	Scheduled uint64 `json:"scheduled"`
	Executed  uint64 `json:"executed"`
	Dropped   uint64 `json:"dropped"`
	Rejected  uint64 `json:"rejected"`
	Cancelled uint64 `json:"cancelled"`
	Panicked  uint64 `json:"panicked"`
}

// TaskEvent is the Data of task.* events.
type TaskEvent struct {
	Name       string        `json:"name"`
	QueueDelay time.Duration `json:"queue_delay,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Count      int           `json:"count,omitempty"`
	Err        string        `json:"err,omitempty"`
}

type workerHandle struct {
	name      string
	startedAt time.Time
}

// Scheduler owns the queue and its single worker.
type Scheduler struct {
	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus
	runner Runner
	sup    *supervisor.Supervisor // non-nil when the scheduler owns its runner

	store *slots.Store[entry]
	wake  chan struct{}
	stop  chan struct{}
	done  chan struct{}

	worker    atomic.Pointer[workerHandle]
	state     atomic.Int32
	peak      atomic.Int64
	started   bool
	errMu     sync.Mutex
	workerErr error

	dropWarn *rate.Limiter

	scheduled atomic.Uint64
	executed  atomic.Uint64
	dropped   atomic.Uint64
	rejected  atomic.Uint64
	cancelled atomic.Uint64
	panicked  atomic.Uint64

	closeMu   sync.RWMutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// New builds the queue and starts the worker.
//
// A worker that cannot be started is logged and recorded (see WorkerErr); the
// scheduler still accepts tasks but nothing drains them.
func New(cfg Config, opts ...Option) *Scheduler {
	cfg = cfg.withDefaults()
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.bus == nil {
		o.bus = eventbus.Nop{}
	}

	s := &Scheduler{
		cfg:      cfg,
		log:      o.log.With(logx.String("comp", "background")),
		bus:      o.bus,
		runner:   o.runner,
		store:    slots.New[entry](cfg.Capacity),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		dropWarn: rate.NewLimiter(rate.Every(cfg.DropWarnEvery), 1),
	}
	if s.runner == nil {
		s.sup = supervisor.New(context.Background(), supervisor.WithLogger(s.log))
		s.runner = s.sup
	}
	s.startWorker()
	return s
}

func (s *Scheduler) startWorker() {
	h := &workerHandle{name: workerName, startedAt: time.Now()}
	s.worker.Store(h)

	var spawnOpts []supervisor.SpawnOption
	if s.cfg.PinThread {
		spawnOpts = append(spawnOpts, supervisor.WithLockOSThread())
	}
	if err := s.runner.Spawn(workerName, func(ctx context.Context) error {
		return s.run(ctx, h)
	}, spawnOpts...); err != nil {
		s.worker.CompareAndSwap(h, nil)
		s.setWorkerErr(fmt.Errorf("%w: %w", ErrWorkerCreation, err))
		s.log.Error("background worker creation failed", logx.Err(err), logx.Int("queue_cap", s.cfg.Capacity))
		return
	}
	s.started = true
	s.log.Info("background scheduler started",
		logx.Int("queue_cap", s.cfg.Capacity),
		logx.Bool("pinned", s.cfg.PinThread),
		logx.Bool("capture", s.cfg.Capabilities.Capture),
		logx.Bool("no_arg", s.cfg.Capabilities.NoArg),
	)
}

// Schedule submits a raw task. fn runs later on the worker with arg; release, if
// set together with a non-nil arg, runs exactly once after fn or when the task
// is discarded. On ErrQueueFull release is not called.
func (s *Scheduler) Schedule(fn RawFunc, name string, arg any, release ReleaseFunc) error {
	if fn == nil {
		return s.reject(name, ErrNilAction)
	}
	return s.admit(name, func(e *entry) {
		e.kind = actionRaw
		e.raw = fn
		e.arg = arg
		e.res = newResource(arg, release)
	})
}

// ScheduleWithArg submits a capturing task that takes an argument.
// Ownership of arg follows the same rules as Schedule.
func (s *Scheduler) ScheduleWithArg(fn func(arg any), name string, arg any, release ReleaseFunc) error {
	if fn == nil {
		return s.reject(name, ErrNilAction)
	}
	if !s.cfg.Capabilities.Capture {
		return s.reject(name, ErrCapabilityDisabled)
	}
	return s.admit(name, func(e *entry) {
		e.kind = actionClosure
		e.fn = func() { fn(arg) }
		e.res = newResource(arg, release)
	})
}

// ScheduleFunc submits a closure. Its captured state is its own business.
func (s *Scheduler) ScheduleFunc(fn func(), name string) error {
	if fn == nil {
		return s.reject(name, ErrNilAction)
	}
	if !s.cfg.Capabilities.Capture || !s.cfg.Capabilities.NoArg {
		return s.reject(name, ErrCapabilityDisabled)
	}
	return s.admit(name, func(e *entry) {
		e.kind = actionClosure
		e.fn = fn
	})
}

func (s *Scheduler) reject(name string, err error) error {
	s.rejected.Add(1)
	s.log.Warn("background task rejected", logx.String("task", TruncateName(name)), logx.Err(err))
	return err
}

func (s *Scheduler) admit(name string, build func(e *entry)) error {
	name = TruncateName(name)
	now := time.Now()

	s.closeMu.RLock()
	if s.closed {
		s.closeMu.RUnlock()
		return ErrClosed
	}
	ok := s.store.Construct(func(e *entry) {
		build(e)
		e.name = name
		e.enqueuedAt = now
	})
	depth := s.store.Size()
	s.closeMu.RUnlock()

	if !ok {
		n := s.dropped.Add(1)
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskDropped, Data: TaskEvent{Name: name}})
		if s.dropWarn.Allow() {
			s.log.Warn("background queue full, task dropped",
				logx.String("task", name),
				logx.Int("queue_cap", s.cfg.Capacity),
				logx.Uint64("dropped_total", n),
			)
		}
		return fmt.Errorf("%w (capacity %d)", ErrQueueFull, s.cfg.Capacity)
	}

	s.scheduled.Add(1)
	s.notePeak(depth)
	s.Wake()
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskScheduled, Data: TaskEvent{Name: name}})
	return nil
}

func (s *Scheduler) notePeak(depth int) {
	d := int64(depth)
	for {
		cur := s.peak.Load()
		if d <= cur || s.peak.CompareAndSwap(cur, d) {
			return
		}
	}
}

// Wake nudges the worker to look at the queue. Signals coalesce; it never blocks.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cancel removes every pending task whose name equals name after truncation and
// returns how many were removed. An empty name removes all pending tasks.
// A task the worker already started is not affected.
func (s *Scheduler) Cancel(name string) int {
	var n int
	if name == "" {
		n = s.store.Clear(s.discard)
	} else {
		name = TruncateName(name)
		n = s.store.RemoveIf(func(e *entry) bool { return e.name == name }, s.discard)
	}
	if n > 0 {
		s.cancelled.Add(uint64(n))
		s.log.Debug("background tasks cancelled", logx.String("task", name), logx.Int("count", n))
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskCancelled, Data: TaskEvent{Name: name, Count: n}})
	}
	return n
}

func (s *Scheduler) CancelAll() int { return s.Cancel("") }

// discard releases the resource of an entry that will never run.
func (s *Scheduler) discard(e *entry) {
	s.release(e)
}

func (s *Scheduler) release(e *entry) {
	call := e.res.take()
	if call == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("background task release panicked",
				logx.String("task", e.name),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	call()
}

func (s *Scheduler) Pending() int  { return s.store.Size() }
func (s *Scheduler) Capacity() int { return s.store.Cap() }

// Peak is the highest queue depth observed right after an admission.
func (s *Scheduler) Peak() int { return int(s.peak.Load()) }

// Healthy reports whether a worker goroutine is alive.
func (s *Scheduler) Healthy() bool { return s.worker.Load() != nil }

// WorkerErr returns why the worker is gone: ErrWorkerCreation or ErrWorkerExited (wrapped).
func (s *Scheduler) WorkerErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.workerErr
}

func (s *Scheduler) setWorkerErr(err error) {
	s.errMu.Lock()
	s.workerErr = err
	s.errMu.Unlock()
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Scheduled: s.scheduled.Load(),
		Executed:  s.executed.Load(),
		Dropped:   s.dropped.Load(),
		Rejected:  s.rejected.Load(),
		Cancelled: s.cancelled.Load(),
		Panicked:  s.panicked.Load(),
	}
}

// Close stops admission, stops the worker and releases every task still queued.
// ctx bounds the wait for a task that is currently running. Close is idempotent.
func (s *Scheduler) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeMu.Lock()
		s.closed = true
		s.closeMu.Unlock()

		close(s.stop)
		if s.started {
			select {
			case <-s.done:
			case <-ctx.Done():
				s.closeErr = fmt.Errorf("background: waiting for worker: %w", ctx.Err())
			}
		}
		if s.sup != nil {
			s.sup.Cancel()
		}

		n := s.store.Clear(s.discard)
		s.log.Info("background scheduler closed", logx.Int("discarded", n), logx.Any("stats", s.Stats()))
	})
	return s.closeErr
}
