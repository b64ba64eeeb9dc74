package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ebbinghaus/internal/domain"
	"ebbinghaus/internal/phase"
)

var (
	ErrStore    = errors.New("store error")
	ErrNotFound = errors.New("not found")

	errClosed = errors.New("store closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory" (also used when Driver is empty)
//   - "sqlite": database file at Path
//   - "postgres", "mysql": connection string in DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int           // postgres/mysql pool size; 0 means default
	MinConns    int
}

// ReminderStore is what the scheduler needs from persistence.
type ReminderStore interface {
	// ListDueSchedules returns every schedule with next_run present and at or
	// before asOf. Order is unspecified.
	ListDueSchedules(ctx context.Context, asOf time.Time) ([]domain.ScheduleWithContext, error)
	// UpdateSchedule writes phase and next_run in a single statement.
	UpdateSchedule(ctx context.Context, id int64, phaseNumber int, nextRun *time.Time) error
	LoadPhases(ctx context.Context) ([]phase.Phase, error)
}

// Store is the full persistence API used by the service.
type Store interface {
	ReminderStore

	// SeedPhases replaces the stored phase sequence.
	SeedPhases(ctx context.Context, phases []phase.Phase) error
	CreateUser(ctx context.Context, email string) (domain.User, error)
	GetUser(ctx context.Context, id int64) (domain.User, error)
	// CreateReminder inserts the reminder and its initial schedule atomically.
	// s.ReminderID is ignored and filled from the new reminder.
	CreateReminder(ctx context.Context, r domain.Reminder, s domain.Schedule) (domain.Reminder, domain.Schedule, error)
	GetSchedule(ctx context.Context, reminderID int64) (domain.Schedule, error)
	Ping(ctx context.Context) error
	Close() error
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStore) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}

func notFound(op, what string, id int64) error {
	return fmt.Errorf("%w: %s: %s %d %w", ErrStore, op, what, id, ErrNotFound)
}

func unixPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timePtr(sec *int64) *time.Time {
	if sec == nil {
		return nil
	}
	t := time.Unix(*sec, 0).UTC()
	return &t
}

func secondsOf(d time.Duration) int64 { return int64(d / time.Second) }
