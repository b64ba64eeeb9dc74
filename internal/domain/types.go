// Package domain holds the reminder data model and the schedule state machine.
package domain

import "time"

type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// Reminder is immutable once created.
type Reminder struct {
	ID     int64   `json:"id"`
	UserID int64   `json:"user_id"`
	Topic  *string `json:"topic"`
	Text   string  `json:"text"`
}

// Schedule tracks one reminder's progress through the phase table.
// A nil NextRun means the sequence is complete.
type Schedule struct {
	ID          int64      `json:"id"`
	ReminderID  int64      `json:"reminder_id"`
	PhaseNumber int        `json:"phase_number"`
	NextRun     *time.Time `json:"next_run"`
}

func (s Schedule) Terminal() bool { return s.NextRun == nil }

// Due reports whether s should be selected by a sweep at asOf.
func (s Schedule) Due(asOf time.Time) bool {
	return s.NextRun != nil && !s.NextRun.After(asOf)
}

// ScheduleWithContext is one row of the due query: the schedule plus what is
// needed to deliver it.
type ScheduleWithContext struct {
	Schedule Schedule
	Reminder Reminder
	User     User
}

// TopicOrEmpty is the mail subject for a reminder.
func (r Reminder) TopicOrEmpty() string {
	if r.Topic == nil {
		return ""
	}
	return *r.Topic
}
