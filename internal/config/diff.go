package config

import (
	"sort"
	"strings"

	"bgqueue/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe structured fields
// for logging them. Secrets (debug.token) are reported as set/unset only.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	ob, nb := oldCfg.Background, newCfg.Background
	if ob.Capacity != nb.Capacity ||
		ob.CaptureEnabled() != nb.CaptureEnabled() ||
		ob.NoArgEnabled() != nb.NoArgEnabled() ||
		ob.PinThread != nb.PinThread ||
		ob.LogCompleted != nb.LogCompleted ||
		strings.TrimSpace(ob.DropWarnEvery) != strings.TrimSpace(nb.DropWarnEvery) {
		changed = append(changed, "background")
		attrs = append(attrs,
			logx.Int("background.capacity", nb.Capacity),
			logx.Bool("background.capture", nb.CaptureEnabled()),
			logx.Bool("background.no_arg", nb.NoArgEnabled()),
			logx.Bool("background.pin_thread", nb.PinThread),
			logx.Bool("background.log_completed", nb.LogCompleted),
		)
	}

	od, nd := oldCfg.Diagnostics, newCfg.Diagnostics
	if od != nd {
		changed = append(changed, "diagnostics")
		attrs = append(attrs,
			logx.String("diagnostics.schedule", strings.TrimSpace(nd.Schedule)),
			logx.String("diagnostics.timezone", strings.TrimSpace(nd.Timezone)),
			logx.String("diagnostics.journal.driver", strings.TrimSpace(nd.Journal.Driver)),
			logx.Bool("diagnostics.journal.path_set", strings.TrimSpace(nd.Journal.Path) != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newCfg.Debug.Addr)),
			logx.String("debug.prefix", strings.TrimSpace(newCfg.Debug.Prefix)),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
		)
	}

	if oldCfg.Tracing != newCfg.Tracing {
		changed = append(changed, "tracing")
		attrs = append(attrs, logx.Bool("tracing.enabled", newCfg.Tracing.Enabled))
	}

	sort.Strings(changed)
	return changed, attrs
}

// StartupOnly lists the changed fields that only take effect after a restart.
func StartupOnly(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	ob, nb := oldCfg.Background, newCfg.Background
	if ob.Capacity != nb.Capacity {
		out = append(out, "background.capacity")
	}
	if ob.CaptureEnabled() != nb.CaptureEnabled() {
		out = append(out, "background.capture")
	}
	if ob.NoArgEnabled() != nb.NoArgEnabled() {
		out = append(out, "background.no_arg")
	}
	if ob.PinThread != nb.PinThread {
		out = append(out, "background.pin_thread")
	}
	if ob.LogCompleted != nb.LogCompleted {
		out = append(out, "background.log_completed")
	}
	if strings.TrimSpace(ob.DropWarnEvery) != strings.TrimSpace(nb.DropWarnEvery) {
		out = append(out, "background.drop_warn_every")
	}
	if oldCfg.Diagnostics.Journal != newCfg.Diagnostics.Journal {
		out = append(out, "diagnostics.journal")
	}
	if oldCfg.Tracing != newCfg.Tracing {
		out = append(out, "tracing")
	}
	return out
}
