package app

import (
	"context"
	"time"

	"ebbinghaus/internal/api"
	"ebbinghaus/internal/cache"
	"ebbinghaus/internal/config"
	"ebbinghaus/internal/notifier"
	"ebbinghaus/internal/observability/pprof"
	"ebbinghaus/internal/scheduler"
	"ebbinghaus/internal/storage"
	logx "ebbinghaus/pkg/logx"
)

func loggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func storageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      sc.Driver,
		Path:        sc.Path,
		DSN:         sc.DSN,
		BusyTimeout: busy,
		MaxConns:    sc.MaxConns,
		MinConns:    sc.MinConns,
	}, nil
}

func schedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	delivery, err := config.ParseDurationOrDefault("scheduler.delivery_timeout", sc.DeliveryTimeout, scheduler.DefaultDeliveryTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	update, err := config.ParseDurationOrDefault("scheduler.update_timeout", sc.UpdateTimeout, scheduler.DefaultUpdateTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	out := scheduler.Config{
		Enabled:         sc.Enabled,
		Tick:            sc.Tick,
		RunOnStart:      sc.RunOnStart,
		Workers:         sc.Workers,
		DeliveryTimeout: delivery,
		UpdateTimeout:   update,
		Timezone:        sc.Timezone,
		HistorySize:     sc.HistorySize,
	}
	return out, out.Validate()
}

func notifierConfig(cfg *config.Config) (notifier.Config, error) {
	mc := cfg.Mail
	timeout, err := config.ParseDurationField("mail.timeout", mc.Timeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Transport:   mc.Transport,
		Host:        mc.Host,
		Port:        mc.Port,
		Username:    mc.Username,
		Password:    mc.Password,
		From:        mc.From,
		TLS:         mc.TLS,
		RatePerSec:  mc.RatePerSec,
		Timeout:     timeout,
		HistorySize: mc.History,
	}, nil
}

func cacheConfig(cfg *config.Config) cache.Config {
	return cache.Config{
		RedisAddr:     cfg.Cache.RedisAddr,
		RedisPassword: cfg.Cache.RedisPassword,
		RedisDB:       cfg.Cache.RedisDB,
		Key:           cfg.Cache.Key,
		MaxEntries:    cfg.Cache.MaxEntries,
	}
}

func apiConfig(cfg *config.Config) (api.Config, error) {
	sc := cfg.Server
	var (
		out = api.Config{Addr: sc.Addr, BodyLimit: sc.BodyLimit}
		err error
	)
	if out.ReadTimeout, err = config.ParseDurationOrDefault("server.read_timeout", sc.ReadTimeout, 10*time.Second); err != nil {
		return api.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationOrDefault("server.write_timeout", sc.WriteTimeout, 10*time.Second); err != nil {
		return api.Config{}, err
	}
	if out.ShutdownTimeout, err = config.ParseDurationOrDefault("server.shutdown_timeout", sc.ShutdownTimeout, 5*time.Second); err != nil {
		return api.Config{}, err
	}
	return out, nil
}

func pprofConfig(cfg *config.Config) (pprof.Config, error) {
	pc := cfg.Pprof
	out := pprof.Config{
		Enabled:              pc.Enabled,
		Addr:                 pc.Addr,
		Prefix:               pc.Prefix,
		Token:                pc.Token,
		AllowInsecure:        pc.AllowInsecure,
		MutexProfileFraction: pc.MutexProfileFraction,
		BlockProfileRate:     pc.BlockProfileRate,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationField("pprof.read_timeout", pc.ReadTimeout); err != nil {
		return pprof.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("pprof.write_timeout", pc.WriteTimeout); err != nil {
		return pprof.Config{}, err
	}
	if out.Enabled {
		if err := pprof.CheckBind(out); err != nil {
			return pprof.Config{}, err
		}
	}
	return out, nil
}

// Validate runs every mapping so a reload is rejected before anything
// applies it.
func Validate(_ context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := storageConfig(cfg); err != nil {
		return err
	}
	if _, err := schedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := notifierConfig(cfg); err != nil {
		return err
	}
	if _, err := pprofConfig(cfg); err != nil {
		return err
	}
	_, err := apiConfig(cfg)
	return err
}
