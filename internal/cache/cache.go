// Package cache keeps a log of recent successful deliveries for the
// /deliveries endpoint. It is an observer of the scheduler, never a source
// of truth: schedule state lives in storage.
package cache

import (
	"context"
	"math"
	"strings"
	"time"

	logx "ebbinghaus/pkg/logx"
)

type Delivery struct {
	ScheduleID int64     `json:"schedule_id"`
	ReminderID int64     `json:"reminder_id"`
	Phase      int       `json:"phase"`
	At         time.Time `json:"at"`
}

// DeliveryLog is ordered newest first.
type DeliveryLog interface {
	Record(ctx context.Context, d Delivery) error
	// Recent returns page (1-based) of size pageSize and the total count.
	Recent(ctx context.Context, page, pageSize int) ([]Delivery, int64, error)
	Close() error
}

type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Key           string
	MaxEntries    int
}

const (
	defaultKey        = "ebbinghaus:deliveries"
	defaultMaxEntries = 10000
	defaultPageSize   = 20
)

// Open returns a Redis-backed log when RedisAddr is set, an in-memory one otherwise.
func Open(ctx context.Context, cfg Config, log logx.Logger) (DeliveryLog, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "cache"))
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	if strings.TrimSpace(cfg.Key) == "" {
		cfg.Key = defaultKey
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		log.Info("delivery log in memory", logx.Int("max_entries", cfg.MaxEntries))
		return NewMemory(cfg.MaxEntries), nil
	}
	return openRedis(ctx, cfg, log)
}

// MaxPage is the largest page number whose offset fits in an int.
func MaxPage(pageSize int) int {
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	return math.MaxInt / pageSize
}

// pageBounds returns the inclusive rank range of a page. ok is false when
// the page lies beyond any representable offset.
func pageBounds(page, pageSize int) (start, stop int, ok bool) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if page > MaxPage(pageSize) {
		return 0, 0, false
	}
	start = (page - 1) * pageSize
	return start, start + pageSize - 1, true
}
