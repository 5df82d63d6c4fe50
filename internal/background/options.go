package background

import (
	"context"
	"time"

	"bgqueue/internal/eventbus"
	"bgqueue/internal/runtime/supervisor"
	"bgqueue/pkg/logx"
)

const (
	DefaultCapacity      = 32
	DefaultDropWarnEvery = 5 * time.Second

	workerName   = "background.worker"
	diagTaskName = "diag"
)

// Capabilities toggles the optional submission forms.
type Capabilities struct {
	// Capture enables ScheduleWithArg and ScheduleFunc.
	Capture bool
	// NoArg enables ScheduleFunc. It has no effect without Capture.
	NoArg bool
}

type Config struct {
	Capacity     int
	Capabilities Capabilities

	// PinThread locks the worker goroutine to its own OS thread.
	PinThread bool
	// LogCompleted logs every finished task at debug level with its timings.
	LogCompleted bool
	// DropWarnEvery throttles the queue-full warning.
	DropWarnEvery time.Duration
}

// DefaultConfig enables every submission form.
func DefaultConfig() Config {
	return Config{
		Capacity:      DefaultCapacity,
		Capabilities:  Capabilities{Capture: true, NoArg: true},
		DropWarnEvery: DefaultDropWarnEvery,
	}
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.DropWarnEvery <= 0 {
		c.DropWarnEvery = DefaultDropWarnEvery
	}
	return c
}

// Runner starts the worker goroutine. *supervisor.Supervisor satisfies it.
type Runner interface {
	Spawn(name string, fn func(ctx context.Context) error, opts ...supervisor.SpawnOption) error
}

type Option func(*options)

type options struct {
	log    logx.Logger
	bus    eventbus.Bus
	runner Runner
}

func WithLogger(log logx.Logger) Option { return func(o *options) { o.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(o *options) { o.bus = bus } }

// WithRunner spawns the worker through r instead of a private supervisor.
// The caller keeps ownership of r and stops it after Close.
func WithRunner(r Runner) Option { return func(o *options) { o.runner = r } }
