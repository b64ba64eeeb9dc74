package domain

import (
	"errors"
	"fmt"
	"time"

	"ebbinghaus/internal/phase"
)

var ErrTerminal = errors.New("schedule is terminal")

// Transition is the schedule state after a confirmed delivery.
type Transition struct {
	PhaseNumber int
	NextRun     *time.Time
	// Completed is set when the phase table has no further stage.
	Completed bool
}

// NewSchedule is the initial state of a freshly created reminder.
func NewSchedule(reminderID int64, table *phase.Table, now time.Time) Schedule {
	t := now
	return Schedule{ReminderID: reminderID, PhaseNumber: table.First(), NextRun: &t}
}

// Advance moves s one phase forward. The wait of the next phase is added to
// the previous next_run, not to the current time, so late ticks do not drift.
func Advance(s Schedule, table *phase.Table) (Transition, error) {
	if s.Terminal() {
		return Transition{}, fmt.Errorf("%w: schedule %d", ErrTerminal, s.ID)
	}
	next := s.PhaseNumber + 1
	ph, ok := table.Get(next)
	if !ok {
		return Transition{PhaseNumber: next, Completed: true}, nil
	}
	at := s.NextRun.Add(ph.Wait)
	return Transition{PhaseNumber: next, NextRun: &at}, nil
}

// Apply returns s with the transition applied.
func (tr Transition) Apply(s Schedule) Schedule {
	s.PhaseNumber = tr.PhaseNumber
	s.NextRun = tr.NextRun
	return s
}
