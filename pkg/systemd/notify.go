// Package systemd speaks the sd_notify protocol: readiness, stopping and
// watchdog keep-alives. Every call is a no-op outside a systemd unit.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "ebbinghaus/pkg/logx"
)

type Notifier struct {
	enabled bool
	log     logx.Logger
}

func NewNotifier(enabled bool, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{enabled: enabled, log: log.With(logx.String("comp", "systemd"))}
}

func (n *Notifier) Ready() bool    { return n.send(daemon.SdNotifyReady) }
func (n *Notifier) Stopping() bool { return n.send(daemon.SdNotifyStopping) }
func (n *Notifier) Status(msg string) bool {
	return n.send("STATUS=" + msg)
}

func (n *Notifier) send(state string) bool {
	if n == nil || !n.enabled {
		return false
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	return sent
}

// Watchdog pings systemd at half the unit's WatchdogSec until ctx ends.
// healthy, when set, must pass for a ping to be sent, so a wedged store makes
// systemd restart the unit. It returns at once when no watchdog is configured.
func (n *Notifier) Watchdog(ctx context.Context, healthy func(context.Context) error) error {
	if n == nil || !n.enabled {
		return nil
	}
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return err
	}
	if every <= 0 {
		return nil
	}
	every /= 2
	n.log.Debug("watchdog enabled", logx.Duration("interval", every))

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		if healthy != nil {
			hctx, cancel := context.WithTimeout(ctx, every)
			err := healthy(hctx)
			cancel()
			if err != nil {
				n.log.Warn("health check failed; skipping watchdog ping", logx.Err(err))
				continue
			}
		}
		n.send(daemon.SdNotifyWatchdog)
	}
}
