package diagsched

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bgqueue/pkg/logx"
)

type blockingTrigger struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingTrigger) Diagnostics() error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return nil
}

type countingTrigger struct {
	n   atomic.Int32
	err error
}

func (c *countingTrigger) Diagnostics() error {
	c.n.Add(1)
	return c.err
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in       string
		kind     SpecKind
		cron     string
		every    time.Duration
		wantsErr bool
	}{
		{in: "*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *"},
		{in: "@hourly", kind: SpecCron, cron: "@hourly"},
		{in: "cron:0 0 * * *", kind: SpecCron, cron: "0 0 * * *"},
		{in: "30s", kind: SpecInterval, every: 30 * time.Second},
		{in: "every: 2m", kind: SpecInterval, every: 2 * time.Minute},
		{in: "01:30", kind: SpecInterval, every: 90 * time.Minute},
		{in: "", wantsErr: true},
		{in: "00:00", wantsErr: true},
		{in: "00:75", wantsErr: true},
		{in: "-1s", wantsErr: true},
		{in: "often", wantsErr: true},
		{in: "cron:", wantsErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSchedule(tt.in)
			if tt.wantsErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.cron, got.Cron)
			assert.Equal(t, tt.every, got.Every)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &countingTrigger{}, logx.Nop())
	assert.NoError(t, s.Validate(Config{}))
	assert.NoError(t, s.Validate(Config{Schedule: "0 */2 * * * *"}))
	assert.Error(t, s.Validate(Config{Schedule: "61 * * * *"}))
	assert.Error(t, s.Validate(Config{Schedule: "1m", Timezone: "Mars/Olympus"}))
}

func TestIntervalFires(t *testing.T) {
	t.Parallel()
	trig := &countingTrigger{}
	s := New(Config{Schedule: "1s"}, trig, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop(context.Background()) })

	assert.Equal(t, "every 1s", s.Stats().Schedule)
	require.Eventually(t, func() bool { return trig.n.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, s.Stats().Fired, uint64(1))
}

func TestEmptyScheduleIsIdle(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &countingTrigger{}, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	assert.Empty(t, s.Stats().Schedule)
	s.Stop(context.Background())
}

func TestApplyStartsAfterEnable(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &countingTrigger{}, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop(context.Background()) })

	require.NoError(t, s.Apply(context.Background(), Config{Schedule: "@every 1h"}))
	st := s.Stats()
	assert.Equal(t, "@every 1h", st.Schedule)
	assert.False(t, st.Next.IsZero())

	require.NoError(t, s.Apply(context.Background(), Config{}))
	assert.Empty(t, s.Stats().Schedule)
}

func TestStopDuringApplyIsNotUndone(t *testing.T) {
	t.Parallel()
	trig := &blockingTrigger{entered: make(chan struct{}), release: make(chan struct{})}
	s := New(Config{Schedule: "1s"}, trig, logx.Nop())
	require.NoError(t, s.Start(context.Background()))

	select {
	case <-trig.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("trigger did not fire")
	}

	applied := make(chan error, 1)
	go func() { applied <- s.Apply(context.Background(), Config{Schedule: "@every 1h"}) }()
	// Apply has taken the old cron and is draining the running job.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.cfg.Schedule == "@every 1h"
	}, time.Second, 5*time.Millisecond)

	s.Stop(context.Background())
	close(trig.release)
	require.NoError(t, <-applied)

	assert.Empty(t, s.Stats().Schedule)
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.False(t, s.started)
	assert.Nil(t, s.c)
}

func TestStartHonorsDoneContext(t *testing.T) {
	t.Parallel()
	s := New(Config{Schedule: "1s"}, &countingTrigger{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Start(ctx), context.Canceled)
	assert.Empty(t, s.Stats().Schedule)
}

func TestRunNowCountsFailures(t *testing.T) {
	t.Parallel()
	trig := &countingTrigger{err: errors.New("queue full")}
	s := New(Config{}, trig, logx.Nop())
	assert.Error(t, s.RunNow())
	st := s.Stats()
	assert.Equal(t, uint64(1), st.Fired)
	assert.Equal(t, uint64(1), st.Failed)
}
