package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	logx "ebbinghaus/pkg/logx"
)

func openMySQL(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("%w: mysql dsn is required", ErrStore)
	}
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, wrap("parse dsn", err)
	}
	// UpdateSchedule reads RowsAffected as "row exists"; by default mysql
	// only counts rows whose values changed.
	mc.ClientFoundRows = true
	if mc.Timeout == 0 {
		mc.Timeout = 5 * time.Second
	}

	conn, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, wrap("connect", err)
	}
	db := sql.OpenDB(conn)

	maxConns, minConns := defaultPGMaxConns, defaultPGMinConns
	if cfg.MaxConns > 0 {
		maxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		minConns = cfg.MinConns
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(min(minConns, maxConns))
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, wrap("ping", err)
	}

	st := &sqlStore{db: db, log: log, driver: "mysql"}
	if err := st.migrate(ctx, "migrations/mysql.sql"); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", "mysql"), logx.String("addr", mc.Addr), logx.String("db", mc.DBName))
	return st, nil
}
