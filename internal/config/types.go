package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the daemon configuration. File values are read first (JSON or YAML),
// then BGQ_-prefixed environment variables override whatever they set.
type Config struct {
	Background  BackgroundConfig  `json:"background" envPrefix:"BACKGROUND_"`
	Diagnostics DiagnosticsConfig `json:"diagnostics" envPrefix:"DIAGNOSTICS_"`
	Logging     LoggingConfig     `json:"logging" envPrefix:"LOG_"`
	Debug       DebugConfig       `json:"debug,omitempty" envPrefix:"DEBUG_"`
	Tracing     TracingConfig     `json:"tracing,omitempty" envPrefix:"TRACING_"`
}

// BackgroundConfig sizes the queue and picks the enabled task forms.
//
// Capacity and the capability flags are read once at startup; changing them in a
// running process has no effect until restart.
//
// Defaults (when fields are omitted/zero):
//   - capacity: 32
//   - capture: true
//   - no_arg: true
//   - drop_warn_every: "5s"
type BackgroundConfig struct {
	Capacity int `json:"capacity,omitempty" env:"CAPACITY"`

	// Pointers so that an omitted flag can default to enabled.
	Capture *bool `json:"capture,omitempty" env:"CAPTURE"`
	NoArg   *bool `json:"no_arg,omitempty" env:"NO_ARG"`

	PinThread     bool   `json:"pin_thread,omitempty" env:"PIN_THREAD"`
	LogCompleted  bool   `json:"log_completed,omitempty" env:"LOG_COMPLETED"`
	DropWarnEvery string `json:"drop_warn_every,omitempty" env:"DROP_WARN_EVERY"`
}

func (c BackgroundConfig) CaptureEnabled() bool { return c.Capture == nil || *c.Capture }
func (c BackgroundConfig) NoArgEnabled() bool   { return c.NoArg == nil || *c.NoArg }

type DiagnosticsConfig struct {
	// Schedule triggers periodic reports. Accepts cron expressions (5 or 6 fields),
	// descriptors like "@every 1m", or a bare Go duration ("30s"). Empty disables it.
	Schedule string `json:"schedule,omitempty" env:"SCHEDULE"`
	// Timezone for cron schedules (IANA name). Empty means local time.
	Timezone string        `json:"timezone,omitempty" env:"TIMEZONE"`
	Journal  JournalConfig `json:"journal,omitempty" envPrefix:"JOURNAL_"`
}

// JournalConfig stores diagnostics reports.
//
// Driver is one of: "none" (default), "file" (JSON lines) or "sqlite".
type JournalConfig struct {
	Driver      string `json:"driver,omitempty" env:"DRIVER"`
	Path        string `json:"path,omitempty" env:"PATH"`
	BusyTimeout string `json:"busy_timeout,omitempty" env:"BUSY_TIMEOUT"`
}

type LoggingConfig struct {
	Level   string        `json:"level" env:"LEVEL"`
	Console bool          `json:"console" env:"CONSOLE"`
	File    LogFileConfig `json:"file" envPrefix:"FILE_"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled" env:"ENABLED"`
	Path    string `json:"path" env:"PATH"`
}

// DebugConfig controls the optional debug HTTP server (pprof + queue snapshot).
//
// Security:
//   - Prefer binding to loopback (127.0.0.1:6060).
//   - If binding to a non-loopback address, set Token or AllowInsecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled,omitempty" env:"ENABLED"`
	Addr          string `json:"addr,omitempty" env:"ADDR"`
	Prefix        string `json:"prefix,omitempty" env:"PREFIX"`
	Token         string `json:"token,omitempty" env:"TOKEN"`
	AllowInsecure bool   `json:"allow_insecure,omitempty" env:"ALLOW_INSECURE"`
}

// TracingConfig enables one OpenTelemetry span per executed task.
// Output is a file path; empty writes spans to stdout.
type TracingConfig struct {
	Enabled bool   `json:"enabled,omitempty" env:"ENABLED"`
	Output  string `json:"output,omitempty" env:"OUTPUT"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
	}
}

var validJournalDrivers = map[string]struct{}{"": {}, "none": {}, "file": {}, "sqlite": {}}

// Validate checks values that the file decoder cannot.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if c.Background.Capacity < 0 {
		errs = append(errs, fmt.Errorf("background.capacity: must be >= 0, got %d", c.Background.Capacity))
	}
	if _, err := ParseDurationField("background.drop_warn_every", c.Background.DropWarnEvery); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("diagnostics.journal.busy_timeout", c.Diagnostics.Journal.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if tz := strings.TrimSpace(c.Diagnostics.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("diagnostics.timezone: %w", err))
		}
	}
	drv := strings.ToLower(strings.TrimSpace(c.Diagnostics.Journal.Driver))
	if _, ok := validJournalDrivers[drv]; !ok {
		errs = append(errs, fmt.Errorf("diagnostics.journal.driver: unknown driver %q", c.Diagnostics.Journal.Driver))
	}
	if c.Debug.Enabled && strings.TrimSpace(c.Debug.Addr) == "" {
		errs = append(errs, errors.New("debug.addr: required when debug is enabled"))
	}
	return errors.Join(errs...)
}
