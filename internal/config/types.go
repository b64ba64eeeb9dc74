package config

import (
	"strings"

	"ebbinghaus/internal/phase"
)

// Config is the on-disk configuration. Durations are Go duration strings so
// every supported format (JSON, YAML, TOML) spells them the same way.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Phases    PhasesConfig    `json:"phases"`
	Storage   StorageConfig   `json:"storage"`
	Mail      MailConfig      `json:"mail"`
	Cache     CacheConfig     `json:"cache"`
	Systemd   SystemdConfig   `json:"systemd"`
	Pprof     PprofConfig     `json:"pprof"`
}

type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Addr            string `json:"addr"`
	BodyLimit       int64  `json:"body_limit"`
	ReadTimeout     string `json:"read_timeout"`
	WriteTimeout    string `json:"write_timeout"`
	ShutdownTimeout string `json:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type SchedulerConfig struct {
	Enabled         bool   `json:"enabled"`
	Tick            string `json:"tick"`
	RunOnStart      bool   `json:"run_on_start"`
	Workers         int    `json:"workers"`
	DeliveryTimeout string `json:"delivery_timeout"`
	UpdateTimeout   string `json:"update_timeout"`
	Timezone        string `json:"timezone"`
	HistorySize     int    `json:"history_size"`
}

// PhasesConfig controls seeding of the phase table. The live table always
// comes from storage; Sequence is only written when the store has none.
type PhasesConfig struct {
	SeedIfEmpty bool         `json:"seed_if_empty"`
	Sequence    []PhaseEntry `json:"sequence"`
}

type PhaseEntry struct {
	Number int    `json:"number"`
	Wait   string `json:"wait"`
}

type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	DSN         string `json:"dsn"`
	BusyTimeout string `json:"busy_timeout"`
	// 0 leaves the pool size to the DSN or the driver default.
	MaxConns int `json:"max_conns"`
	MinConns int `json:"min_conns"`
}

type MailConfig struct {
	Transport  string `json:"transport"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	From       string `json:"from"`
	TLS        string `json:"tls"`
	RatePerSec int    `json:"rate_per_sec"`
	Timeout    string `json:"timeout"`
	History    int    `json:"history"`
}

type CacheConfig struct {
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	Key           string `json:"key"`
	MaxEntries    int    `json:"max_entries"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}

// PprofConfig configures the optional profiling listener. A non-loopback
// Addr needs Token or AllowInsecure.
type PprofConfig struct {
	Enabled              bool   `json:"enabled"`
	Addr                 string `json:"addr"`
	Prefix               string `json:"prefix"`
	Token                string `json:"token"`
	AllowInsecure        bool   `json:"allow_insecure"`
	ReadTimeout          string `json:"read_timeout"`
	WriteTimeout         string `json:"write_timeout"`
	MutexProfileFraction int    `json:"mutex_profile_fraction"`
	BlockProfileRate     int    `json:"block_profile_rate"`
}

// Default is the configuration a missing key falls back to. Parse decodes on
// top of it, so a file only needs the keys it changes.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled:         true,
			Addr:            "0.0.0.0:8080",
			BodyLimit:       4096,
			ReadTimeout:     "10s",
			WriteTimeout:    "10s",
			ShutdownTimeout: "5s",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    LoggingFileConfig{Path: "./ebbinghaus.log"},
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			Tick:            "2s",
			Workers:         4,
			DeliveryTimeout: "30s",
			UpdateTimeout:   "5s",
			HistorySize:     50,
		},
		Phases: PhasesConfig{
			SeedIfEmpty: true,
			Sequence:    Sequence(phase.Default()),
		},
		Storage: StorageConfig{
			Driver:      "sqlite",
			Path:        "./data/ebbinghaus.db",
			BusyTimeout: "1s",
		},
		Mail: MailConfig{
			Transport:  "log",
			Host:       "smtp.gmail.com",
			Port:       587,
			TLS:        "mandatory",
			RatePerSec: 5,
			Timeout:    "15s",
			History:    100,
		},
		Cache: CacheConfig{
			Key:        "ebbinghaus:deliveries",
			MaxEntries: 1000,
		},
		Systemd: SystemdConfig{Notify: true},
		Pprof:   PprofConfig{
			Addr:   "127.0.0.1:6060",
			Prefix: "/debug/pprof/",
		},
	}
}

// Sequence renders phases as config entries.
func Sequence(phases []phase.Phase) []PhaseEntry {
	out := make([]PhaseEntry, 0, len(phases))
	for _, p := range phases {
		out = append(out, PhaseEntry{Number: p.Number, Wait: p.Wait.String()})
	}
	return out
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Phases.Sequence = append([]PhaseEntry(nil), c.Phases.Sequence...)
	return &cp
}

func (c *Config) normalize() {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Mail.Transport = strings.ToLower(strings.TrimSpace(c.Mail.Transport))
	c.Mail.TLS = strings.ToLower(strings.TrimSpace(c.Mail.TLS))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Scheduler.Tick = strings.TrimSpace(c.Scheduler.Tick)
	c.Scheduler.Timezone = strings.TrimSpace(c.Scheduler.Timezone)
}
