package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"bgqueue/pkg/logx"
)

// notifier sends sd_notify states. It reports false when no notify socket is set.
type notifier func(state string) (bool, error)

func systemdNotify(state string) (bool, error) { return daemon.SdNotify(false, state) }

func (a *App) sdNotify(state string) {
	if a.notify == nil {
		return
	}
	sent, err := a.notify(state)
	if err != nil {
		a.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("sd_notify", logx.String("state", state))
	}
}

// watchdogLoop pings systemd at half the configured interval while the
// background worker is alive. A dead worker stops the pings so systemd restarts us.
func (a *App) watchdogLoop(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog misconfigured", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	a.runWatchdog(ctx, interval/2)
}

func (a *App) runWatchdog(ctx context.Context, every time.Duration) {
	a.log.Info("systemd watchdog enabled", logx.Duration("every", every))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !a.queue.Healthy() {
				a.log.Error("background worker down; withholding watchdog ping", logx.Err(a.queue.WorkerErr()))
				continue
			}
			a.sdNotify(daemon.SdNotifyWatchdog)
		}
	}
}
