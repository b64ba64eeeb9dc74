package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strings"

	"ebbinghaus/internal/phase"
)

// Validate checks what can be checked without opening anything. Service
// specific checks (tick spec, timezone) run in the validator installed by the
// app.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if c.Server.Enabled {
		if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
			add(fmt.Errorf("server.addr: %w", err))
		}
		if c.Server.BodyLimit <= 0 {
			add(errors.New("server.body_limit: must be > 0"))
		}
	}
	dur("server.read_timeout", c.Server.ReadTimeout)
	dur("server.write_timeout", c.Server.WriteTimeout)
	dur("server.shutdown_timeout", c.Server.ShutdownTimeout)

	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		add(fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}

	if c.Scheduler.Workers < 0 {
		add(errors.New("scheduler.workers: must be >= 0"))
	}
	if c.Scheduler.HistorySize < 0 {
		add(errors.New("scheduler.history_size: must be >= 0"))
	}
	dur("scheduler.delivery_timeout", c.Scheduler.DeliveryTimeout)
	dur("scheduler.update_timeout", c.Scheduler.UpdateTimeout)

	if c.Phases.SeedIfEmpty {
		if _, err := c.Phases.List(); err != nil {
			add(err)
		}
	}

	switch c.Storage.Driver {
	case "", "memory":
	case "sqlite":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add(errors.New("storage.path: required for sqlite"))
		}
	case "postgres", "mysql":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			add(fmt.Errorf("storage.dsn: required for %s (or set %s)", c.Storage.Driver, EnvDatabaseDSN))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	dur("storage.busy_timeout", c.Storage.BusyTimeout)
	if c.Storage.MaxConns < 0 || c.Storage.MinConns < 0 || (c.Storage.MaxConns > 0 && c.Storage.MinConns > c.Storage.MaxConns) {
		add(errors.New("storage: need 0 <= min_conns <= max_conns"))
	}
	if c.Storage.MaxConns > math.MaxInt32 || c.Storage.MinConns > math.MaxInt32 {
		add(fmt.Errorf("storage: pool size above %d", math.MaxInt32))
	}

	switch c.Mail.Transport {
	case "smtp":
		if strings.TrimSpace(c.Mail.Host) == "" {
			add(errors.New("mail.host: required for smtp"))
		}
		if c.Mail.Port <= 0 || c.Mail.Port > 65535 {
			add(fmt.Errorf("mail.port: out of range: %d", c.Mail.Port))
		}
		if strings.TrimSpace(c.Mail.From) == "" {
			add(errors.New("mail.from: required for smtp"))
		}
	case "log", "":
	default:
		add(fmt.Errorf("mail.transport: unknown transport %q", c.Mail.Transport))
	}
	switch c.Mail.TLS {
	case "", "mandatory", "opportunistic", "none", "ssl":
	default:
		add(fmt.Errorf("mail.tls: unknown policy %q", c.Mail.TLS))
	}
	if c.Mail.RatePerSec < 0 {
		add(errors.New("mail.rate_per_sec: must be >= 0"))
	}
	dur("mail.timeout", c.Mail.Timeout)

	if c.Cache.RedisDB < 0 {
		add(errors.New("cache.redis_db: must be >= 0"))
	}
	if c.Cache.MaxEntries < 0 {
		add(errors.New("cache.max_entries: must be >= 0"))
	}

	if c.Pprof.Enabled {
		if _, _, err := net.SplitHostPort(c.Pprof.Addr); err != nil {
			add(fmt.Errorf("pprof.addr: %w", err))
		}
	}
	dur("pprof.read_timeout", c.Pprof.ReadTimeout)
	dur("pprof.write_timeout", c.Pprof.WriteTimeout)

	return errors.Join(errs...)
}

// List converts the configured sequence and validates it as a phase table.
func (p PhasesConfig) List() ([]phase.Phase, error) {
	out := make([]phase.Phase, 0, len(p.Sequence))
	for i, e := range p.Sequence {
		raw := strings.TrimSpace(e.Wait)
		if raw == "" {
			return nil, fmt.Errorf("phases.sequence[%d].wait: required", i)
		}
		// Negative waits are left to phase.New so they surface as phase.ErrNegativeWait.
		w, err := parseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("phases.sequence[%d].wait: invalid duration %q: %w", i, e.Wait, err)
		}
		out = append(out, phase.Phase{Number: e.Number, Wait: w})
	}
	if _, err := phase.New(out); err != nil {
		return nil, fmt.Errorf("phases.sequence: %w", err)
	}
	return out, nil
}
