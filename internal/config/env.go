package config

import (
	"os"
	"strings"
)

// Secrets can be kept out of the file. A set, non-empty variable wins over
// the file value.
const (
	EnvDatabaseDSN   = "EBBINGHAUS_DATABASE_DSN"
	EnvSMTPUsername  = "EBBINGHAUS_SMTP_USERNAME"
	EnvSMTPPassword  = "EBBINGHAUS_SMTP_PASSWORD"
	EnvRedisPassword = "EBBINGHAUS_REDIS_PASSWORD"
	EnvPprofToken    = "EBBINGHAUS_PPROF_TOKEN"
)

func applyEnv(c *Config, lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	set(&c.Storage.DSN, EnvDatabaseDSN)
	set(&c.Mail.Username, EnvSMTPUsername)
	set(&c.Mail.Password, EnvSMTPPassword)
	set(&c.Cache.RedisPassword, EnvRedisPassword)
	set(&c.Pprof.Token, EnvPprofToken)
}
