package app

import (
	"context"
	"strings"

	"ebbinghaus/internal/config"
	"ebbinghaus/internal/eventbus"
	logx "ebbinghaus/pkg/logx"
)

// reloadLoop applies published configs. Bursts are coalesced to the newest.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	applied := a.cfgm.Get()
	for {
		var next *config.Config
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			next = cfg
		}
	drain:
		for {
			select {
			case newer, ok := <-sub:
				if !ok {
					break drain
				}
				next = newer
			default:
				break drain
			}
		}
		if next == nil {
			continue
		}
		a.apply(applied, next)
		applied = next
	}
}

// apply pushes the live sections of next into running services. Sections
// that need a restart are only reported.
func (a *App) apply(prev, next *config.Config) {
	ch := config.Summarize(prev, next)
	if ch.Empty() {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Debug("config change summary", fields...)

	a.logs.Apply(loggingConfig(next))

	if sc, err := schedulerConfig(next); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(sc)
	}

	if nc, err := notifierConfig(next); err != nil {
		a.log.Warn("invalid mail config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(nc)
	}

	if pc, err := pprofConfig(next); err != nil {
		a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
	} else {
		a.prof.Reconfigure(context.Background(), pc)
	}

	if len(ch.Restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(ch.Restart, ",")))
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: ch.Sections})
	a.log.Info("config applied", logx.String("changed", strings.Join(ch.Sections, ",")))
}
