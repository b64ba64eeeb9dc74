package scheduler

import (
	"fmt"
	"strings"
	"time"

	"ebbinghaus/internal/cache"
	"ebbinghaus/internal/clock"
	"ebbinghaus/internal/eventbus"
	"ebbinghaus/internal/notifier"
	"ebbinghaus/internal/phase"
	"ebbinghaus/internal/storage"
	logx "ebbinghaus/pkg/logx"
)

const (
	DefaultTick            = "2s"
	DefaultWorkers         = 4
	DefaultDeliveryTimeout = 30 * time.Second
	DefaultUpdateTimeout   = 5 * time.Second
	DefaultHistorySize     = 50
)

// Config controls the sweep trigger and its concurrency.
type Config struct {
	Enabled         bool
	Tick            string
	RunOnStart      bool
	Workers         int
	DeliveryTimeout time.Duration
	UpdateTimeout   time.Duration
	Timezone        string // IANA name; only affects cron expressions
	HistorySize     int
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Tick) == "" {
		c.Tick = DefaultTick
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if c.UpdateTimeout <= 0 {
		c.UpdateTimeout = DefaultUpdateTimeout
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	return c
}

// Validate checks what Apply would otherwise reject at runtime.
func (c Config) Validate() error {
	c = c.withDefaults()
	if _, err := ParseSchedule(c.Tick); err != nil {
		return err
	}
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("timezone %q: %w", tz, err)
		}
	}
	return nil
}

// Deps are the collaborators of a sweep. Deliveries and Bus are optional.
type Deps struct {
	Phases     *phase.Table
	Store      storage.ReminderStore
	Notifier   notifier.Notifier
	Clock      clock.Clock
	Deliveries cache.DeliveryLog
	Bus        eventbus.Bus
	Log        logx.Logger
}

// Report summarizes one tick.
type Report struct {
	TickID         string        `json:"tick_id"`
	At             time.Time     `json:"at"`
	Due            int           `json:"due"`
	Delivered      int           `json:"delivered"`
	Advanced       int           `json:"advanced"`
	Completed      int           `json:"completed"`
	DeliveryFailed int           `json:"delivery_failed"`
	UpdateFailed   int           `json:"update_failed"`
	Skipped        int           `json:"skipped"`
	Took           time.Duration `json:"took"`
	Error          string        `json:"error,omitempty"`
}

type Snapshot struct {
	Enabled  bool          `json:"enabled"`
	Running  bool          `json:"running"`
	Tick     string        `json:"tick"`
	Workers  int           `json:"workers"`
	Timezone string        `json:"timezone"`
	Phases   int           `json:"phases"`
	Next     time.Time     `json:"next,omitempty"`
	Prev     time.Time     `json:"prev,omitempty"`
	Ticks    uint64        `json:"ticks"`
	Failures uint64        `json:"failures"`
	Last     *Report       `json:"last,omitempty"`
	History  []Report      `json:"history"`
	Uptime   time.Duration `json:"uptime"`
}

// CompletedEvent is the payload of scheduler.completed.
type CompletedEvent struct {
	ScheduleID int64 `json:"schedule_id"`
	ReminderID int64 `json:"reminder_id"`
	Phase      int   `json:"phase"`
}

type outcome int

const (
	outcomeAdvanced outcome = iota
	outcomeCompleted
	outcomeDeliveryFailed
	outcomeUpdateFailed
	outcomeSkipped
)

func (r *Report) add(o outcome) {
	switch o {
	case outcomeAdvanced:
		r.Delivered++
		r.Advanced++
	case outcomeCompleted:
		r.Delivered++
		r.Completed++
	case outcomeDeliveryFailed:
		r.DeliveryFailed++
	case outcomeUpdateFailed:
		r.Delivered++
		r.UpdateFailed++
	default:
		r.Skipped++
	}
}
