package storage

import (
	"context"
	"fmt"
	"strings"

	logx "ebbinghaus/pkg/logx"
)

// Open initializes the configured store and applies its schema.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"))

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory", "mem":
		log.Info("storage opened", logx.String("driver", "memory"))
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pg":
		return openPostgres(ctx, cfg, log)
	case "mysql", "mariadb":
		return openMySQL(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", ErrStore, driver)
	}
}
