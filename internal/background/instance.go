package background

import (
	"context"
	"sync"
)

var (
	instMu   sync.Mutex
	instCfg  *Config
	instOpts []Option
	inst     *Scheduler
)

// Configure sets the config and options of the process-wide Scheduler.
// It must run before the first Instance call.
func Configure(cfg Config, opts ...Option) error {
	instMu.Lock()
	defer instMu.Unlock()
	if inst != nil {
		return ErrAlreadyInitialized
	}
	instCfg = &cfg
	instOpts = append([]Option(nil), opts...)
	return nil
}

// Instance returns the process-wide Scheduler, creating it on first use.
func Instance() *Scheduler {
	instMu.Lock()
	defer instMu.Unlock()
	if inst == nil {
		cfg := DefaultConfig()
		if instCfg != nil {
			cfg = *instCfg
		}
		inst = New(cfg, instOpts...)
	}
	return inst
}

// Shutdown closes the process-wide Scheduler if it was ever created.
func Shutdown(ctx context.Context) error {
	instMu.Lock()
	s := inst
	instMu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close(ctx)
}
