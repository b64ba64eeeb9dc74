package config

import (
	"reflect"
	"sort"
	"strings"

	logx "ebbinghaus/pkg/logx"
)

// Change describes what a reload touched.
type Change struct {
	// Sections lists every top-level section that differs.
	Sections []string
	// Restart lists the keys whose new value only takes effect after a restart.
	Restart []string
	// Fields are safe to log: secrets are reported as set/unset only.
	Fields []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Summarize compares two configs section by section.
func Summarize(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	section := func(name string, restart bool, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, name)
		if restart {
			ch.Restart = append(ch.Restart, name)
		}
		ch.Fields = append(ch.Fields, fields...)
	}

	if o, n := oldCfg.Server, newCfg.Server; o != n {
		section("server", true,
			logx.Bool("server.enabled", n.Enabled),
			logx.String("server.addr", n.Addr),
		)
	}
	if o, n := oldCfg.Logging, newCfg.Logging; o != n {
		section("logging", false,
			logx.String("logging.level", n.Level),
			logx.Bool("logging.console", n.Console),
			logx.Bool("logging.file_enabled", n.File.Enabled),
		)
	}
	if o, n := oldCfg.Scheduler, newCfg.Scheduler; o != n {
		section("scheduler", false,
			logx.Bool("scheduler.enabled", n.Enabled),
			logx.String("scheduler.tick", n.Tick),
			logx.Int("scheduler.workers", n.Workers),
			logx.String("scheduler.timezone", n.Timezone),
		)
	}
	if !reflect.DeepEqual(oldCfg.Phases, newCfg.Phases) {
		// The live table is loaded from storage once.
		section("phases", true, logx.Int("phases.sequence_len", len(newCfg.Phases.Sequence)))
	}
	if o, n := oldCfg.Storage, newCfg.Storage; o != n {
		section("storage", true,
			logx.String("storage.driver", n.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(n.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(n.DSN) != ""),
		)
	}
	if o, n := oldCfg.Mail, newCfg.Mail; o != n {
		// Send policy is applied live; the transport itself is built once.
		live := o
		live.RatePerSec, live.Timeout, live.History = n.RatePerSec, n.Timeout, n.History
		section("mail", live != n,
			logx.String("mail.transport", n.Transport),
			logx.String("mail.host", n.Host),
			logx.Int("mail.rate_per_sec", n.RatePerSec),
			logx.Bool("mail.username_set", n.Username != ""),
			logx.Bool("mail.password_set", n.Password != ""),
		)
	}
	if o, n := oldCfg.Cache, newCfg.Cache; o != n {
		section("cache", true,
			logx.Bool("cache.redis", strings.TrimSpace(n.RedisAddr) != ""),
			logx.Bool("cache.password_set", n.RedisPassword != ""),
		)
	}
	if o, n := oldCfg.Systemd, newCfg.Systemd; o != n {
		section("systemd", true, logx.Bool("systemd.notify", n.Notify))
	}
	if o, n := oldCfg.Pprof, newCfg.Pprof; o != n {
		section("pprof", false,
			logx.Bool("pprof.enabled", n.Enabled),
			logx.String("pprof.addr", n.Addr),
			logx.Bool("pprof.token_set", n.Token != ""),
		)
	}

	sort.Strings(ch.Sections)
	sort.Strings(ch.Restart)
	return ch
}
