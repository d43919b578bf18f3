// Package systemd integrates with the service manager when the process
// runs under it: readiness notification and watchdog keep-alives. All
// calls are no-ops outside systemd (NOTIFY_SOCKET unset).
package systemd

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady tells systemd the service finished starting up.
func NotifyReady() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

// NotifyStopping tells systemd a shutdown is in progress.
func NotifyStopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// NotifyStatus updates the free-text status line shown by systemctl.
func NotifyStatus(status string) {
	_, _ = daemon.SdNotify(false, "STATUS="+status)
}

// RunWatchdog sends keep-alives at half the configured WatchdogSec
// interval until ctx is canceled. Returns immediately when no watchdog
// is configured for the unit.
func RunWatchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return fmt.Errorf("watchdog query: %w", err)
	}
	if interval == 0 {
		return nil
	}

	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
