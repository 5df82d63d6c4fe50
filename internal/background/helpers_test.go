package background

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bgqueue/internal/runtime/supervisor"
)

// manualRunner captures the worker body instead of running it, so tests can fill
// the queue before anything drains it.
type manualRunner struct {
	mu     sync.Mutex
	fn     func(ctx context.Context) error
	err    error
	pinned bool
}

func (r *manualRunner) Spawn(name string, fn func(ctx context.Context) error, opts ...supervisor.SpawnOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.fn = fn
	r.pinned = len(opts) > 0
	return nil
}

func (r *manualRunner) start(t *testing.T) {
	t.Helper()
	r.mu.Lock()
	fn := r.fn
	r.mu.Unlock()
	require.NotNil(t, fn, "worker was not spawned")
	go func() { _ = fn(context.Background()) }()
}

func newManual(t *testing.T, capacity int, opts ...Option) (*Scheduler, *manualRunner) {
	t.Helper()
	r := &manualRunner{}
	cfg := DefaultConfig()
	cfg.Capacity = capacity
	s := New(cfg, append([]Option{WithRunner(r)}, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s, r
}

func newRunning(t *testing.T, capacity int, opts ...Option) *Scheduler {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Capacity = capacity
	s := New(cfg, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

// recorder collects task names in execution order.
type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) task(name string) func() {
	return func() {
		r.mu.Lock()
		r.names = append(r.names, name)
		r.mu.Unlock()
	}
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
