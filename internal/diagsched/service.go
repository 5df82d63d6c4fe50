// Package diagsched triggers background queue diagnostics on a cron or interval schedule.
package diagsched

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"bgqueue/pkg/logx"
)

// Trigger queues one diagnostics report. *background.Scheduler satisfies it.
type Trigger interface {
	Diagnostics() error
}

type Config struct {
	Schedule string
	Timezone string
}

type Stats struct {
	Fired    uint64    `json:"fired"`
	Failed   uint64    `json:"failed"`
	Schedule string    `json:"schedule,omitempty"`
	Next     time.Time `json:"next,omitempty"`
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	log    logx.Logger
	trig   Trigger
	parser cron.Parser
	c      *cron.Cron
	entry  cron.EntryID
	spec   Spec
	// started is set by Start so Apply knows whether to (re)start.
	started bool

	fired  atomic.Uint64
	failed atomic.Uint64
}

func New(cfg Config, trig Trigger, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:  cfg,
		log:  log.With(logx.String("comp", "diagsched")),
		trig: trig,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Validate reports whether cfg would start cleanly. Empty schedules are valid (disabled).
func (s *Service) Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Schedule) == "" {
		return nil
	}
	spec, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return err
	}
	if spec.Kind == SpecCron {
		if _, err := s.parser.Parse(spec.Cron); err != nil {
			return fmt.Errorf("cron %q: %w", spec.Cron, err)
		}
	}
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return err
		}
	}
	return nil
}

// Start begins triggering. An empty schedule leaves the service idle.
// It fails without starting when ctx is already done.
func (s *Service) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return s.startLocked()
}

func (s *Service) startLocked() error {
	if s.c != nil {
		return nil
	}
	if strings.TrimSpace(s.cfg.Schedule) == "" {
		s.log.Debug("periodic diagnostics disabled")
		return nil
	}
	spec, err := ParseSchedule(s.cfg.Schedule)
	if err != nil {
		return err
	}
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return fmt.Errorf("timezone %q: %w", tz, err)
		}
	}

	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	var id cron.EntryID
	if spec.Kind == SpecInterval {
		id = c.Schedule(cron.Every(spec.Every), cron.FuncJob(s.fire))
	} else if id, err = c.AddFunc(spec.Cron, s.fire); err != nil {
		return fmt.Errorf("cron %q: %w", spec.Cron, err)
	}
	c.Start()
	s.c, s.entry, s.spec = c, id, spec
	s.log.Info("periodic diagnostics started", logx.String("schedule", spec.String()), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.started = false
	s.mu.Unlock()
	s.wait(ctx, c)
}

func (s *Service) wait(ctx context.Context, c *cron.Cron) {
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Debug("periodic diagnostics stopped")
}

// Apply swaps in cfg, restarting the trigger when the schedule or timezone changed.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	if strings.TrimSpace(cfg.Schedule) == strings.TrimSpace(s.cfg.Schedule) &&
		strings.TrimSpace(cfg.Timezone) == strings.TrimSpace(s.cfg.Timezone) {
		s.mu.Unlock()
		return nil
	}
	old := s.c
	s.c = nil
	s.cfg = cfg
	s.mu.Unlock()

	s.wait(ctx, old)

	// A Stop that ran while the old cron drained wins.
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	return s.startLocked()
}

// RunNow triggers one report outside the schedule.
func (s *Service) RunNow() error {
	return s.trigger()
}

func (s *Service) fire() { _ = s.trigger() }

func (s *Service) trigger() error {
	s.fired.Add(1)
	err := s.trig.Diagnostics()
	if err != nil {
		s.failed.Add(1)
		s.log.Warn("diagnostics trigger rejected", logx.Err(err))
	}
	return err
}

func (s *Service) Stats() Stats {
	st := Stats{Fired: s.fired.Load(), Failed: s.failed.Load()}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		st.Schedule = s.spec.String()
		st.Next = s.c.Entry(s.entry).Next
	}
	return st
}
