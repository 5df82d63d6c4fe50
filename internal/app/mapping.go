package app

import (
	"time"

	"bgqueue/internal/background"
	"bgqueue/internal/config"
	"bgqueue/internal/debugsrv"
	"bgqueue/internal/diagsched"
	"bgqueue/internal/journal"
	"bgqueue/pkg/logx"
)

func mapBackgroundConfig(cfg *config.Config) (background.Config, error) {
	bc := cfg.Background
	every, err := config.ParseDurationOrDefault("background.drop_warn_every", bc.DropWarnEvery, background.DefaultDropWarnEvery)
	if err != nil {
		return background.Config{}, err
	}
	return background.Config{
		Capacity: bc.Capacity,
		Capabilities: background.Capabilities{
			Capture: bc.CaptureEnabled(),
			NoArg:   bc.NoArgEnabled(),
		},
		PinThread:     bc.PinThread,
		LogCompleted:  bc.LogCompleted,
		DropWarnEvery: every,
	}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapJournalConfig(cfg *config.Config) (journal.Config, error) {
	jc := cfg.Diagnostics.Journal
	busy, err := config.ParseDurationOrDefault("diagnostics.journal.busy_timeout", jc.BusyTimeout, 5*time.Second)
	if err != nil {
		return journal.Config{}, err
	}
	return journal.Config{Driver: jc.Driver, Path: jc.Path, BusyTimeout: busy}, nil
}

func mapDiagConfig(cfg *config.Config) diagsched.Config {
	return diagsched.Config{
		Schedule: cfg.Diagnostics.Schedule,
		Timezone: cfg.Diagnostics.Timezone,
	}
}

func mapDebugConfig(cfg *config.Config) debugsrv.Config {
	d := cfg.Debug
	return debugsrv.Config{
		Enabled:       d.Enabled,
		Addr:          d.Addr,
		Prefix:        d.Prefix,
		Token:         d.Token,
		AllowInsecure: d.AllowInsecure,
	}
}
