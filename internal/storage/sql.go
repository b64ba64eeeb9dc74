package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"ebbinghaus/internal/domain"
	"ebbinghaus/internal/phase"
	logx "ebbinghaus/pkg/logx"
)

// sqlStore is the database/sql implementation shared by sqlite and mysql.
// Both accept "?" placeholders and report LastInsertId.
type sqlStore struct {
	db     *sql.DB
	log    logx.Logger
	driver string
}

// migrate runs an embedded schema one statement at a time; the mysql driver
// rejects multi-statement Exec by default.
func (s *sqlStore) migrate(ctx context.Context, file string) error {
	b, err := migrationsFS.ReadFile(file)
	if err != nil {
		return wrap("migrate", err)
	}
	for _, stmt := range splitStatements(string(b)) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return wrap("migrate", err)
		}
	}
	return nil
}

func splitStatements(script string) []string {
	var out []string
	for _, raw := range strings.Split(script, ";") {
		stmt := strings.TrimSpace(raw)
		if stmt == "" || commentOnly(stmt) {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

func commentOnly(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.log.Debug("storage closed", logx.String("driver", s.driver), logx.Err(err))
	return wrap("close", err)
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return wrap("ping", s.db.PingContext(ctx))
}

func (s *sqlStore) ListDueSchedules(ctx context.Context, asOf time.Time) ([]domain.ScheduleWithContext, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.memory_id, s.phase_number, s.next_run, m.user_id, m.topic, m.text, u.email
		 FROM schedules s
		 JOIN memories m ON m.id = s.memory_id
		 JOIN users u ON u.id = m.user_id
		 WHERE s.next_run IS NOT NULL AND s.next_run <= ?`,
		asOf.Unix(),
	)
	if err != nil {
		return nil, wrap("list due", err)
	}
	defer rows.Close()

	out := make([]domain.ScheduleWithContext, 0)
	for rows.Next() {
		var (
			row     domain.ScheduleWithContext
			nextRun sql.NullInt64
			topic   sql.NullString
		)
		if err := rows.Scan(&row.Schedule.ID, &row.Schedule.ReminderID, &row.Schedule.PhaseNumber, &nextRun,
			&row.Reminder.UserID, &topic, &row.Reminder.Text, &row.User.Email); err != nil {
			return nil, wrap("list due", err)
		}
		row.Schedule.NextRun = nullTime(nextRun)
		row.Reminder.ID = row.Schedule.ReminderID
		row.Reminder.Topic = nullString(topic)
		row.User.ID = row.Reminder.UserID
		out = append(out, row)
	}
	return out, wrap("list due", rows.Err())
}

func (s *sqlStore) UpdateSchedule(ctx context.Context, id int64, phaseNumber int, nextRun *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET phase_number = ?, next_run = ? WHERE id = ?`,
		phaseNumber, unixPtr(nextRun), id,
	)
	if err != nil {
		return wrap("update schedule", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("update schedule", err)
	}
	if n == 0 {
		return notFound("update schedule", "schedule", id)
	}
	return nil
}

func (s *sqlStore) LoadPhases(ctx context.Context) ([]phase.Phase, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT phase_number, seconds_to_wait FROM phases ORDER BY phase_number`)
	if err != nil {
		return nil, wrap("load phases", err)
	}
	defer rows.Close()

	out := make([]phase.Phase, 0)
	for rows.Next() {
		var (
			n    int
			wait int64
		)
		if err := rows.Scan(&n, &wait); err != nil {
			return nil, wrap("load phases", err)
		}
		out = append(out, phase.Phase{Number: n, Wait: time.Duration(wait) * time.Second})
	}
	return out, wrap("load phases", rows.Err())
}

func (s *sqlStore) SeedPhases(ctx context.Context, phases []phase.Phase) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("seed phases", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM phases`); err != nil {
		return wrap("seed phases", err)
	}
	for _, ph := range phases {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO phases(phase_number, seconds_to_wait) VALUES(?, ?)`,
			ph.Number, secondsOf(ph.Wait),
		); err != nil {
			return wrap("seed phases", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return wrap("seed phases", err)
	}
	return nil
}

func (s *sqlStore) CreateUser(ctx context.Context, email string) (domain.User, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO users(email) VALUES(?)`, email)
	if err != nil {
		return domain.User{}, wrap("create user", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.User{}, wrap("create user", err)
	}
	return domain.User{ID: id, Email: email}, nil
}

func (s *sqlStore) GetUser(ctx context.Context, id int64) (domain.User, error) {
	u := domain.User{ID: id}
	err := s.db.QueryRowContext(ctx, `SELECT email FROM users WHERE id = ?`, id).Scan(&u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, notFound("get user", "user", id)
	}
	if err != nil {
		return domain.User{}, wrap("get user", err)
	}
	return u, nil
}

func (s *sqlStore) CreateReminder(ctx context.Context, r domain.Reminder, sc domain.Schedule) (_ domain.Reminder, _ domain.Schedule, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Reminder{}, domain.Schedule{}, wrap("create reminder", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, r.UserID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Reminder{}, domain.Schedule{}, notFound("create reminder", "user", r.UserID)
	}
	if err != nil {
		return domain.Reminder{}, domain.Schedule{}, wrap("create reminder", err)
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO memories(user_id, topic, text) VALUES(?, ?, ?)`,
		r.UserID, strPtr(r.Topic), r.Text)
	if err != nil {
		return domain.Reminder{}, domain.Schedule{}, wrap("create reminder", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return domain.Reminder{}, domain.Schedule{}, wrap("create reminder", err)
	}

	sc.ReminderID = r.ID
	res, err = tx.ExecContext(ctx, `INSERT INTO schedules(memory_id, phase_number, next_run) VALUES(?, ?, ?)`,
		sc.ReminderID, sc.PhaseNumber, unixPtr(sc.NextRun))
	if err != nil {
		return domain.Reminder{}, domain.Schedule{}, wrap("create reminder", err)
	}
	if sc.ID, err = res.LastInsertId(); err != nil {
		return domain.Reminder{}, domain.Schedule{}, wrap("create reminder", err)
	}
	if err = tx.Commit(); err != nil {
		return domain.Reminder{}, domain.Schedule{}, wrap("create reminder", err)
	}
	return r, sc, nil
}

func (s *sqlStore) GetSchedule(ctx context.Context, reminderID int64) (domain.Schedule, error) {
	var (
		sc      domain.Schedule
		nextRun sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, memory_id, phase_number, next_run FROM schedules WHERE memory_id = ?`, reminderID,
	).Scan(&sc.ID, &sc.ReminderID, &sc.PhaseNumber, &nextRun)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Schedule{}, notFound("get schedule", "reminder", reminderID)
	}
	if err != nil {
		return domain.Schedule{}, wrap("get schedule", err)
	}
	sc.NextRun = nullTime(nextRun)
	return sc, nil
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	return timePtr(&v.Int64)
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func strPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
