package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"ebbinghaus/internal/domain"
	"ebbinghaus/internal/phase"
)

// Memory is a process-local Store. It is safe for concurrent use.
type Memory struct {
	mu sync.RWMutex

	users     map[int64]domain.User
	reminders map[int64]domain.Reminder
	schedules map[int64]domain.Schedule // by schedule id
	byRem     map[int64]int64           // reminder id -> schedule id
	phases    []phase.Phase

	nextUser, nextReminder, nextSchedule int64
	closed                               bool
}

func NewMemory() *Memory {
	return &Memory{
		users:     map[int64]domain.User{},
		reminders: map[int64]domain.Reminder{},
		schedules: map[int64]domain.Schedule{},
		byRem:     map[int64]int64{},
	}
}

func (m *Memory) check(op string) error {
	if m.closed {
		return wrap(op, errClosed)
	}
	return nil
}

func (m *Memory) ListDueSchedules(ctx context.Context, asOf time.Time) ([]domain.ScheduleWithContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap("list due", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("list due"); err != nil {
		return nil, err
	}

	out := make([]domain.ScheduleWithContext, 0)
	for _, s := range m.schedules {
		if !s.Due(asOf) {
			continue
		}
		r := m.reminders[s.ReminderID]
		out = append(out, domain.ScheduleWithContext{
			Schedule: copySchedule(s),
			Reminder: r,
			User:     m.users[r.UserID],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Schedule.ID < out[j].Schedule.ID })
	return out, nil
}

func (m *Memory) UpdateSchedule(ctx context.Context, id int64, phaseNumber int, nextRun *time.Time) error {
	if err := ctx.Err(); err != nil {
		return wrap("update schedule", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("update schedule"); err != nil {
		return err
	}
	s, ok := m.schedules[id]
	if !ok {
		return notFound("update schedule", "schedule", id)
	}
	s.PhaseNumber = phaseNumber
	s.NextRun = copyTime(nextRun)
	m.schedules[id] = s
	return nil
}

func (m *Memory) LoadPhases(ctx context.Context) ([]phase.Phase, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap("load phases", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("load phases"); err != nil {
		return nil, err
	}
	return append([]phase.Phase(nil), m.phases...), nil
}

func (m *Memory) SeedPhases(ctx context.Context, phases []phase.Phase) error {
	if err := ctx.Err(); err != nil {
		return wrap("seed phases", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("seed phases"); err != nil {
		return err
	}
	m.phases = append([]phase.Phase(nil), phases...)
	return nil
}

func (m *Memory) CreateUser(ctx context.Context, email string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, wrap("create user", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("create user"); err != nil {
		return domain.User{}, err
	}
	m.nextUser++
	u := domain.User{ID: m.nextUser, Email: email}
	m.users[u.ID] = u
	return u, nil
}

func (m *Memory) GetUser(ctx context.Context, id int64) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, wrap("get user", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("get user"); err != nil {
		return domain.User{}, err
	}
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, notFound("get user", "user", id)
	}
	return u, nil
}

func (m *Memory) CreateReminder(ctx context.Context, r domain.Reminder, s domain.Schedule) (domain.Reminder, domain.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return domain.Reminder{}, domain.Schedule{}, wrap("create reminder", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("create reminder"); err != nil {
		return domain.Reminder{}, domain.Schedule{}, err
	}
	if _, ok := m.users[r.UserID]; !ok {
		return domain.Reminder{}, domain.Schedule{}, notFound("create reminder", "user", r.UserID)
	}

	m.nextReminder++
	r.ID = m.nextReminder
	if r.Topic != nil {
		t := *r.Topic
		r.Topic = &t
	}
	m.reminders[r.ID] = r

	m.nextSchedule++
	s.ID = m.nextSchedule
	s.ReminderID = r.ID
	s.NextRun = copyTime(s.NextRun)
	m.schedules[s.ID] = s
	m.byRem[r.ID] = s.ID
	return r, copySchedule(s), nil
}

func (m *Memory) GetSchedule(ctx context.Context, reminderID int64) (domain.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return domain.Schedule{}, wrap("get schedule", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("get schedule"); err != nil {
		return domain.Schedule{}, err
	}
	id, ok := m.byRem[reminderID]
	if !ok {
		return domain.Schedule{}, notFound("get schedule", "reminder", reminderID)
	}
	return copySchedule(m.schedules[id]), nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.check("ping")
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copySchedule(s domain.Schedule) domain.Schedule {
	s.NextRun = copyTime(s.NextRun)
	return s
}
