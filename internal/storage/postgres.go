package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ebbinghaus/internal/domain"
	"ebbinghaus/internal/phase"
	logx "ebbinghaus/pkg/logx"
)

const (
	defaultPGMaxConns = 30
	defaultPGMinConns = 5
)

type pgStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres dsn is required", ErrStore)
	}
	pcfg, err := pgPoolConfig(dsn, cfg.MaxConns, cfg.MinConns)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, wrap("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrap("ping", err)
	}

	st := &pgStore{pool: pool, log: log}
	if err := st.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", "postgres"), logx.Int("max_conns", int(pcfg.MaxConns)))
	return st, nil
}

var (
	reDSNMaxConns     = regexp.MustCompile(`(^|[?&\s])pool_max_conns\s*=`)
	reDSNMinConns     = regexp.MustCompile(`(^|[?&\s])pool_min_conns\s*=`)
	reDSNConnLifetime = regexp.MustCompile(`(^|[?&\s])pool_max_conn_lifetime\s*=`)
	reDSNConnIdle     = regexp.MustCompile(`(^|[?&\s])pool_max_conn_idle_time\s*=`)
)

// pgPoolConfig parses dsn and sizes the pool. Explicit maxConns/minConns win,
// then pool_* settings in the DSN, then the package defaults.
func pgPoolConfig(dsn string, maxConns, minConns int) (*pgxpool.Config, error) {
	if maxConns > math.MaxInt32 || minConns > math.MaxInt32 {
		return nil, fmt.Errorf("%w: pool size out of range (max %d, min %d)", ErrStore, maxConns, minConns)
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, wrap("parse dsn", err)
	}

	switch {
	case maxConns > 0:
		pcfg.MaxConns = int32(maxConns)
	case !reDSNMaxConns.MatchString(dsn):
		pcfg.MaxConns = defaultPGMaxConns
	}
	switch {
	case minConns > 0:
		pcfg.MinConns = int32(minConns)
	case !reDSNMinConns.MatchString(dsn):
		pcfg.MinConns = defaultPGMinConns
	}
	if pcfg.MinConns > pcfg.MaxConns {
		pcfg.MinConns = pcfg.MaxConns
	}
	if !reDSNConnLifetime.MatchString(dsn) {
		pcfg.MaxConnLifetime = time.Hour
	}
	if !reDSNConnIdle.MatchString(dsn) {
		pcfg.MaxConnIdleTime = 30 * time.Minute
	}
	return pcfg, nil
}

func (s *pgStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/postgres.sql")
	if err != nil {
		return wrap("migrate", err)
	}
	_, err = s.pool.Exec(ctx, string(b))
	return wrap("migrate", err)
}

func (s *pgStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *pgStore) Ping(ctx context.Context) error {
	return wrap("ping", s.pool.Ping(ctx))
}

func (s *pgStore) ListDueSchedules(ctx context.Context, asOf time.Time) ([]domain.ScheduleWithContext, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT s.id, s.memory_id, s.phase_number, s.next_run, m.user_id, m.topic, m.text, u.email
		 FROM schedules s
		 JOIN memories m ON m.id = s.memory_id
		 JOIN users u ON u.id = m.user_id
		 WHERE s.next_run IS NOT NULL AND s.next_run <= $1`,
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
			nextRun *int64
		)
		if err := rows.Scan(&row.Schedule.ID, &row.Schedule.ReminderID, &row.Schedule.PhaseNumber, &nextRun,
			&row.Reminder.UserID, &row.Reminder.Topic, &row.Reminder.Text, &row.User.Email); err != nil {
			return nil, wrap("list due", err)
		}
		row.Schedule.NextRun = timePtr(nextRun)
		row.Reminder.ID = row.Schedule.ReminderID
		row.User.ID = row.Reminder.UserID
		out = append(out, row)
	}
	return out, wrap("list due", rows.Err())
}

func (s *pgStore) UpdateSchedule(ctx context.Context, id int64, phaseNumber int, nextRun *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE schedules SET phase_number = $1, next_run = $2 WHERE id = $3`,
		phaseNumber, unixPtr(nextRun), id,
	)
	if err != nil {
		return wrap("update schedule", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("update schedule", "schedule", id)
	}
	return nil
}

func (s *pgStore) LoadPhases(ctx context.Context) ([]phase.Phase, error) {
	rows, err := s.pool.Query(ctx, `SELECT phase_number, seconds_to_wait FROM phases ORDER BY phase_number`)
	if err != nil {
		return nil, wrap("load phases", err)
	}
	defer rows.Close()

	out := make([]phase.Phase, 0)
	for rows.Next() {
		var (
			n    int32
			wait int64
		)
		if err := rows.Scan(&n, &wait); err != nil {
			return nil, wrap("load phases", err)
		}
		out = append(out, phase.Phase{Number: int(n), Wait: time.Duration(wait) * time.Second})
	}
	return out, wrap("load phases", rows.Err())
}

func (s *pgStore) SeedPhases(ctx context.Context, phases []phase.Phase) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM phases`); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, ph := range phases {
			batch.Queue(`INSERT INTO phases(phase_number, seconds_to_wait) VALUES($1, $2)`, ph.Number, secondsOf(ph.Wait))
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	return wrap("seed phases", err)
}

func (s *pgStore) CreateUser(ctx context.Context, email string) (domain.User, error) {
	u := domain.User{Email: email}
	if err := s.pool.QueryRow(ctx, `INSERT INTO users(email) VALUES($1) RETURNING id`, email).Scan(&u.ID); err != nil {
		return domain.User{}, wrap("create user", err)
	}
	return u, nil
}

func (s *pgStore) GetUser(ctx context.Context, id int64) (domain.User, error) {
	u := domain.User{ID: id}
	err := s.pool.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, id).Scan(&u.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, notFound("get user", "user", id)
	}
	if err != nil {
		return domain.User{}, wrap("get user", err)
	}
	return u, nil
}

func (s *pgStore) CreateReminder(ctx context.Context, r domain.Reminder, sc domain.Schedule) (domain.Reminder, domain.Schedule, error) {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var one int
		err := tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1`, r.UserID).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound("create reminder", "user", r.UserID)
		}
		if err != nil {
			return err
		}
		if err := tx.QueryRow(ctx,
			`INSERT INTO memories(user_id, topic, text) VALUES($1, $2, $3) RETURNING id`,
			r.UserID, r.Topic, r.Text,
		).Scan(&r.ID); err != nil {
			return err
		}
		sc.ReminderID = r.ID
		return tx.QueryRow(ctx,
			`INSERT INTO schedules(memory_id, phase_number, next_run) VALUES($1, $2, $3) RETURNING id`,
			sc.ReminderID, sc.PhaseNumber, unixPtr(sc.NextRun),
		).Scan(&sc.ID)
	})
	if err != nil {
		return domain.Reminder{}, domain.Schedule{}, wrap("create reminder", err)
	}
	return r, sc, nil
}

func (s *pgStore) GetSchedule(ctx context.Context, reminderID int64) (domain.Schedule, error) {
	var (
		sc      domain.Schedule
		nextRun *int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, memory_id, phase_number, next_run FROM schedules WHERE memory_id = $1`, reminderID,
	).Scan(&sc.ID, &sc.ReminderID, &sc.PhaseNumber, &nextRun)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Schedule{}, notFound("get schedule", "reminder", reminderID)
	}
	if err != nil {
		return domain.Schedule{}, wrap("get schedule", err)
	}
	sc.NextRun = timePtr(nextRun)
	return sc, nil
}
