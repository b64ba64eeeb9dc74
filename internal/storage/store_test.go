package storage

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ebbinghaus/internal/domain"
	"ebbinghaus/internal/phase"
	logx "ebbinghaus/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	sq, err := Open(ctx, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "db", "test.db")}, logx.Nop())
	require.NoError(t, err)

	mem, err := Open(ctx, Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = sq.Close()
		_ = mem.Close()
	})
	out := map[string]Store{"memory": mem, "sqlite": sq}

	// Server-backed drivers run only against a disposable database.
	for driver, env := range map[string]string{
		"postgres": "EBBINGHAUS_TEST_POSTGRES_DSN",
		"mysql":    "EBBINGHAUS_TEST_MYSQL_DSN",
	} {
		dsn := os.Getenv(env)
		if dsn == "" {
			continue
		}
		st, err := Open(ctx, Config{Driver: driver, DSN: dsn}, logx.Nop())
		require.NoError(t, err, driver)
		require.NoError(t, truncate(ctx, st), driver)
		t.Cleanup(func() { _ = st.Close() })
		out[driver] = st
	}
	return out
}

func truncate(ctx context.Context, st Store) error {
	switch s := st.(type) {
	case *pgStore:
		_, err := s.pool.Exec(ctx, `TRUNCATE schedules, memories, users, phases RESTART IDENTITY CASCADE`)
		return err
	case *sqlStore:
		for _, table := range []string{"schedules", "memories", "users", "phases"} {
			if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return err
			}
		}
	}
	return nil
}

func ts(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}

func TestStoreConformance(t *testing.T) {
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("phases round trip", func(t *testing.T) {
				in := []phase.Phase{{Number: 2, Wait: time.Hour}, {Number: 1, Wait: 0}}
				require.NoError(t, st.SeedPhases(ctx, in))
				got, err := st.LoadPhases(ctx)
				require.NoError(t, err)
				require.Len(t, got, 2)

				tbl, err := phase.New(got)
				require.NoError(t, err)
				ph, ok := tbl.Get(2)
				require.True(t, ok)
				assert.Equal(t, time.Hour, ph.Wait)

				// reseed replaces
				require.NoError(t, st.SeedPhases(ctx, phase.Default()))
				got, err = st.LoadPhases(ctx)
				require.NoError(t, err)
				assert.Len(t, got, len(phase.Default()))
			})

			t.Run("users", func(t *testing.T) {
				u, err := st.CreateUser(ctx, "ann@example.com")
				require.NoError(t, err)
				assert.NotZero(t, u.ID)

				got, err := st.GetUser(ctx, u.ID)
				require.NoError(t, err)
				assert.Equal(t, u, got)

				_, err = st.GetUser(ctx, u.ID+1000)
				assert.ErrorIs(t, err, ErrNotFound)
				assert.ErrorIs(t, err, ErrStore)
			})

			t.Run("due query and update", func(t *testing.T) {
				u, err := st.CreateUser(ctx, "bob@example.com")
				require.NoError(t, err)

				topic := "greek"
				r1, s1, err := st.CreateReminder(ctx,
					domain.Reminder{UserID: u.ID, Topic: &topic, Text: "alpha"},
					domain.Schedule{PhaseNumber: 1, NextRun: ts(100)})
				require.NoError(t, err)
				assert.Equal(t, r1.ID, s1.ReminderID)

				_, s2, err := st.CreateReminder(ctx,
					domain.Reminder{UserID: u.ID, Text: "beta"},
					domain.Schedule{PhaseNumber: 1, NextRun: ts(200)})
				require.NoError(t, err)

				due := dueFor(t, st, u.ID, 150)
				require.Len(t, due, 1)
				row := due[0]
				assert.Equal(t, s1.ID, row.Schedule.ID)
				assert.Equal(t, "alpha", row.Reminder.Text)
				require.NotNil(t, row.Reminder.Topic)
				assert.Equal(t, "greek", *row.Reminder.Topic)
				assert.Equal(t, "bob@example.com", row.User.Email)
				assert.Equal(t, int64(100), row.Schedule.NextRun.Unix())

				// boundary is inclusive
				assert.Len(t, dueFor(t, st, u.ID, 200), 2)

				require.NoError(t, st.UpdateSchedule(ctx, s1.ID, 2, ts(400)))
				got, err := st.GetSchedule(ctx, r1.ID)
				require.NoError(t, err)
				assert.Equal(t, 2, got.PhaseNumber)
				assert.Equal(t, int64(400), got.NextRun.Unix())

				// terminal schedules are never selected
				require.NoError(t, st.UpdateSchedule(ctx, s2.ID, 3, nil))
				got, err = st.GetSchedule(ctx, s2.ReminderID)
				require.NoError(t, err)
				assert.True(t, got.Terminal())
				assert.Len(t, dueFor(t, st, u.ID, 1<<40), 1)
			})

			t.Run("missing rows", func(t *testing.T) {
				err := st.UpdateSchedule(ctx, 99999, 2, ts(1))
				assert.ErrorIs(t, err, ErrNotFound)
				assert.ErrorIs(t, err, ErrStore)

				_, err = st.GetSchedule(ctx, 99999)
				assert.ErrorIs(t, err, ErrNotFound)

				_, _, err = st.CreateReminder(ctx, domain.Reminder{UserID: 99999, Text: "x"},
					domain.Schedule{PhaseNumber: 1, NextRun: ts(0)})
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("concurrent updates", func(t *testing.T) {
				u, err := st.CreateUser(ctx, "carol@example.com")
				require.NoError(t, err)
				ids := make([]int64, 0, 8)
				for i := 0; i < 8; i++ {
					_, sc, err := st.CreateReminder(ctx, domain.Reminder{UserID: u.ID, Text: "t"},
						domain.Schedule{PhaseNumber: 1, NextRun: ts(10)})
					require.NoError(t, err)
					ids = append(ids, sc.ID)
				}
				var wg sync.WaitGroup
				errs := make(chan error, len(ids))
				for _, id := range ids {
					wg.Add(1)
					go func(id int64) {
						defer wg.Done()
						errs <- st.UpdateSchedule(ctx, id, 2, ts(20))
					}(id)
				}
				wg.Wait()
				close(errs)
				for err := range errs {
					require.NoError(t, err)
				}
				assert.Len(t, dueFor(t, st, u.ID, 15), 0)
				assert.Len(t, dueFor(t, st, u.ID, 20), 8)
			})

			require.NoError(t, st.Ping(ctx))
		})
	}
}

// dueFor filters the due set to one user so subtests sharing a store stay independent.
func dueFor(t *testing.T, st Store, userID int64, asOf int64) []domain.ScheduleWithContext {
	t.Helper()
	rows, err := st.ListDueSchedules(context.Background(), time.Unix(asOf, 0))
	require.NoError(t, err)
	out := rows[:0:0]
	for _, r := range rows {
		if r.User.ID == userID {
			out = append(out, r)
		}
	}
	return out
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStore))
}

func TestOpenRequiresLocation(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "sqlite"}, logx.Nop())
	assert.ErrorIs(t, err, ErrStore)
	_, err = Open(context.Background(), Config{Driver: "postgres"}, logx.Nop())
	assert.ErrorIs(t, err, ErrStore)
	_, err = Open(context.Background(), Config{Driver: "mysql"}, logx.Nop())
	assert.ErrorIs(t, err, ErrStore)
	_, err = Open(context.Background(), Config{Driver: "mysql", DSN: "not a dsn"}, logx.Nop())
	assert.ErrorIs(t, err, ErrStore)
}

func TestPostgresPoolConfig(t *testing.T) {
	tests := []struct {
		name     string
		dsn      string
		max, min int
		wantMax  int32
		wantMin  int32
	}{
		{name: "defaults", dsn: "postgres://u:p@localhost:5432/app", wantMax: defaultPGMaxConns, wantMin: defaultPGMinConns},
		{name: "url params kept", dsn: "postgres://u:p@localhost:5432/app?pool_max_conns=7&pool_min_conns=2", wantMax: 7, wantMin: 2},
		{name: "keyword params kept", dsn: "host=localhost dbname=app pool_max_conns=3", wantMax: 3, wantMin: 3},
		{name: "explicit wins", dsn: "postgres://localhost/app?pool_max_conns=7", max: 12, min: 4, wantMax: 12, wantMin: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcfg, err := pgPoolConfig(tt.dsn, tt.max, tt.min)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMax, pcfg.MaxConns)
			assert.Equal(t, tt.wantMin, pcfg.MinConns)
		})
	}

	_, err := pgPoolConfig("postgres://localhost/app", math.MaxInt32+1, 0)
	assert.ErrorIs(t, err, ErrStore)
}

func TestSplitStatements(t *testing.T) {
	script := `-- header
CREATE TABLE a (id INT);

-- only a comment;
CREATE TABLE b (id INT);
`
	assert.Equal(t, []string{"-- header\nCREATE TABLE a (id INT)", "CREATE TABLE b (id INT)"}, splitStatements(script))

	b, err := migrationsFS.ReadFile("migrations/mysql.sql")
	require.NoError(t, err)
	assert.Len(t, splitStatements(string(b)), 4)
}

func TestMemoryClosed(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())
	_, err := m.ListDueSchedules(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrStore)
	assert.Error(t, m.Ping(context.Background()))
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	u, err := m.CreateUser(ctx, "d@example.com")
	require.NoError(t, err)
	_, sc, err := m.CreateReminder(ctx, domain.Reminder{UserID: u.ID, Text: "x"}, domain.Schedule{PhaseNumber: 1, NextRun: ts(5)})
	require.NoError(t, err)

	rows, err := m.ListDueSchedules(ctx, time.Unix(5, 0))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	*rows[0].Schedule.NextRun = time.Unix(999, 0)

	got, err := m.GetSchedule(ctx, sc.ReminderID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.NextRun.Unix())
}

func TestSQLitePragmas(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "p.db"), BusyTimeout: 1500 * time.Millisecond}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	db := st.(*sqlStore).db
	var fk, busy int
	var mode string
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy))
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, 1, fk)
	assert.Equal(t, 1500, busy)
	assert.Equal(t, "wal", mode)
}
