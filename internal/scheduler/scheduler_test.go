package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ebbinghaus/internal/cache"
	"ebbinghaus/internal/clock"
	"ebbinghaus/internal/domain"
	"ebbinghaus/internal/eventbus"
	"ebbinghaus/internal/phase"
	"ebbinghaus/internal/storage"
)

// scriptedNotifier fails deliveries to addresses listed in fail and records
// every attempt.
type scriptedNotifier struct {
	mu       sync.Mutex
	fail     map[string]bool
	calls    []string
	onCall   func(ctx context.Context) error
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (n *scriptedNotifier) Deliver(ctx context.Context, address string, topic *string, text string) error {
	cur := n.inFlight.Add(1)
	defer n.inFlight.Add(-1)
	for {
		seen := n.maxSeen.Load()
		if cur <= seen || n.maxSeen.CompareAndSwap(seen, cur) {
			break
		}
	}

	n.mu.Lock()
	n.calls = append(n.calls, address)
	fail := n.fail[address]
	hook := n.onCall
	n.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}
	if fail {
		return errors.New("mailbox unavailable")
	}
	return nil
}

func (n *scriptedNotifier) setFail(address string, fail bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail == nil {
		n.fail = map[string]bool{}
	}
	n.fail[address] = fail
}

func (n *scriptedNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

// hookedStore lets tests break individual store calls.
type hookedStore struct {
	*storage.Memory
	listErr   error
	updateErr func(ctx context.Context, id int64) error
}

func (h *hookedStore) ListDueSchedules(ctx context.Context, asOf time.Time) ([]domain.ScheduleWithContext, error) {
	if h.listErr != nil {
		return nil, h.listErr
	}
	return h.Memory.ListDueSchedules(ctx, asOf)
}

func (h *hookedStore) UpdateSchedule(ctx context.Context, id int64, p int, next *time.Time) error {
	if h.updateErr != nil {
		if err := h.updateErr(ctx, id); err != nil {
			return err
		}
	}
	return h.Memory.UpdateSchedule(ctx, id, p, next)
}

type fixture struct {
	store *hookedStore
	clk   *clock.Fake
	note  *scriptedNotifier
	log   *cache.Memory
	bus   eventbus.Bus
	tbl   *phase.Table
	svc   *Service
}

func newFixture(t *testing.T, cfg Config, phases ...phase.Phase) *fixture {
	t.Helper()
	tbl, err := phase.New(phases)
	require.NoError(t, err)

	f := &fixture{
		store: &hookedStore{Memory: storage.NewMemory()},
		clk:   clock.NewFake(time.Unix(0, 0).UTC()),
		note:  &scriptedNotifier{},
		log:   cache.NewMemory(100),
		bus:   eventbus.New(),
		tbl:   tbl,
	}
	f.svc, err = New(cfg, Deps{
		Phases:     tbl,
		Store:      f.store,
		Notifier:   f.note,
		Clock:      f.clk,
		Deliveries: f.log,
		Bus:        f.bus,
	})
	require.NoError(t, err)
	return f
}

// addReminder creates a user and a reminder due now.
func (f *fixture) addReminder(t *testing.T, email string) domain.Schedule {
	t.Helper()
	ctx := context.Background()
	u, err := f.store.CreateUser(ctx, email)
	require.NoError(t, err)
	_, sc, err := f.store.CreateReminder(ctx, domain.Reminder{UserID: u.ID, Text: "remember " + email},
		domain.NewSchedule(0, f.tbl, f.clk.Now()))
	require.NoError(t, err)
	return sc
}

func (f *fixture) schedule(t *testing.T, reminderID int64) domain.Schedule {
	t.Helper()
	sc, err := f.store.GetSchedule(context.Background(), reminderID)
	require.NoError(t, err)
	return sc
}

func (f *fixture) tickAt(t *testing.T, sec int64) Report {
	t.Helper()
	f.clk.Set(time.Unix(sec, 0).UTC())
	rep, err := f.svc.Tick(context.Background())
	require.NoError(t, err)
	return rep
}

func assertState(t *testing.T, sc domain.Schedule, wantPhase int, wantNext *int64) {
	t.Helper()
	assert.Equal(t, wantPhase, sc.PhaseNumber)
	if wantNext == nil {
		assert.Nil(t, sc.NextRun)
		return
	}
	require.NotNil(t, sc.NextRun)
	assert.Equal(t, *wantNext, sc.NextRun.Unix())
}

func i64(v int64) *int64 { return &v }

func TestLifecycleToTerminal(t *testing.T) {
	f := newFixture(t, Config{}, phase.Phase{Number: 1, Wait: 0}, phase.Phase{Number: 2, Wait: 60 * time.Second})
	sc := f.addReminder(t, "ann@example.com")
	assertState(t, f.schedule(t, sc.ReminderID), 1, i64(0))

	rep := f.tickAt(t, 0)
	assert.Equal(t, 1, rep.Due)
	assert.Equal(t, 1, rep.Advanced)
	assertState(t, f.schedule(t, sc.ReminderID), 2, i64(60))

	rep = f.tickAt(t, 30)
	assert.Equal(t, 0, rep.Due)

	rep = f.tickAt(t, 60)
	assert.Equal(t, 1, rep.Completed)
	assertState(t, f.schedule(t, sc.ReminderID), 3, nil)

	rep = f.tickAt(t, 3660)
	assert.Equal(t, 0, rep.Due)
	assert.Equal(t, 2, f.note.callCount())

	recent, total, err := f.log.Recent(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, 2, recent[0].Phase)
	assert.Equal(t, 1, recent[1].Phase)
}

// A phase's wait is the delay to enter it, so with {1:60s, 2:3600s} the
// second delivery lands at 3600s, not 60s. Phase 1's wait is never used once
// the schedule exists.
func TestNextPhaseWaitIsAddedToPriorNextRun(t *testing.T) {
	f := newFixture(t, Config{}, phase.Phase{Number: 1, Wait: 60 * time.Second}, phase.Phase{Number: 2, Wait: 3600 * time.Second})
	sc := f.addReminder(t, "bob@example.com")

	f.tickAt(t, 0)
	assertState(t, f.schedule(t, sc.ReminderID), 2, i64(3600))

	assert.Equal(t, 0, f.tickAt(t, 3599).Due)
	assert.Equal(t, 1, f.tickAt(t, 3600).Completed)
	assertState(t, f.schedule(t, sc.ReminderID), 3, nil)
}

func TestLateTickDoesNotDrift(t *testing.T) {
	f := newFixture(t, Config{}, phase.Phase{Number: 1}, phase.Phase{Number: 2, Wait: time.Minute}, phase.Phase{Number: 3, Wait: time.Hour})
	sc := f.addReminder(t, "carol@example.com")

	f.tickAt(t, 45) // late by 45s
	assertState(t, f.schedule(t, sc.ReminderID), 2, i64(60))

	f.tickAt(t, 100)
	assertState(t, f.schedule(t, sc.ReminderID), 3, i64(3660))
}

func TestDeliveryFailureLeavesScheduleDue(t *testing.T) {
	f := newFixture(t, Config{}, phase.Phase{Number: 1}, phase.Phase{Number: 2, Wait: 60 * time.Second})
	sc := f.addReminder(t, "dave@example.com")
	f.tickAt(t, 0)
	assertState(t, f.schedule(t, sc.ReminderID), 2, i64(60))

	f.note.setFail("dave@example.com", true)
	rep := f.tickAt(t, 60)
	assert.Equal(t, 1, rep.DeliveryFailed)
	assert.Equal(t, 0, rep.Delivered)
	assertState(t, f.schedule(t, sc.ReminderID), 2, i64(60))

	f.note.setFail("dave@example.com", false)
	rep = f.tickAt(t, 61)
	assert.Equal(t, 1, rep.Due)
	assert.Equal(t, 1, rep.Completed)
	assertState(t, f.schedule(t, sc.ReminderID), 3, nil)
}

func TestFailuresAreIsolatedPerSchedule(t *testing.T) {
	f := newFixture(t, Config{Workers: 3}, phase.Phase{Number: 1}, phase.Phase{Number: 2, Wait: time.Minute})
	ok := f.addReminder(t, "ok@example.com")
	bad := f.addReminder(t, "bad@example.com")
	unsaved := f.addReminder(t, "unsaved@example.com")

	f.note.setFail("bad@example.com", true)
	f.store.updateErr = func(_ context.Context, id int64) error {
		if id == unsaved.ID {
			return errors.New("disk full")
		}
		return nil
	}

	rep := f.tickAt(t, 0)
	assert.Equal(t, 3, rep.Due)
	assert.Equal(t, 2, rep.Delivered)
	assert.Equal(t, 1, rep.Advanced)
	assert.Equal(t, 1, rep.DeliveryFailed)
	assert.Equal(t, 1, rep.UpdateFailed)
	assert.Empty(t, rep.Error)

	assertState(t, f.schedule(t, ok.ReminderID), 2, i64(60))
	assertState(t, f.schedule(t, bad.ReminderID), 1, i64(0))
	assertState(t, f.schedule(t, unsaved.ReminderID), 1, i64(0))
}

func TestTickLevelFailures(t *testing.T) {
	f := newFixture(t, Config{}, phase.Phase{Number: 1})
	f.addReminder(t, "eve@example.com")

	f.store.listErr = errors.Join(storage.ErrStore, errors.New("connection refused"))
	_, err := f.svc.Tick(context.Background())
	assert.ErrorIs(t, err, storage.ErrStore)
	assert.Equal(t, 0, f.note.callCount())

	f.store.listErr = nil
	f.clk.Set(time.Time{})
	rep, err := f.svc.Tick(context.Background())
	assert.ErrorIs(t, err, clock.ErrClock)
	assert.NotEmpty(t, rep.Error)

	rep = f.tickAt(t, 0)
	assert.Equal(t, 1, rep.Completed)

	snap := f.svc.Snapshot()
	assert.Equal(t, uint64(3), snap.Ticks)
	assert.Equal(t, uint64(2), snap.Failures)
	require.NotNil(t, snap.Last)
	assert.Equal(t, rep.TickID, snap.Last.TickID)
}

func TestWorkersBoundConcurrency(t *testing.T) {
	f := newFixture(t, Config{Workers: 3}, phase.Phase{Number: 1}, phase.Phase{Number: 2, Wait: time.Hour})
	for i := 0; i < 12; i++ {
		f.addReminder(t, "user"+string(rune('a'+i))+"@example.com")
	}
	f.note.onCall = func(context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	}

	rep := f.tickAt(t, 0)
	assert.Equal(t, 12, rep.Advanced)
	assert.LessOrEqual(t, f.note.maxSeen.Load(), int32(3))
	assert.GreaterOrEqual(t, f.note.maxSeen.Load(), int32(1))
}

func TestUpdateSurvivesCancellationAfterDelivery(t *testing.T) {
	f := newFixture(t, Config{Workers: 1}, phase.Phase{Number: 1}, phase.Phase{Number: 2, Wait: time.Minute})
	sc := f.addReminder(t, "frank@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.note.onCall = func(context.Context) error {
		cancel() // shutdown arrives right after the mail went out
		return nil
	}
	f.store.updateErr = func(ctx context.Context, _ int64) error { return ctx.Err() }

	rep, err := f.svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Advanced)
	assertState(t, f.schedule(t, sc.ReminderID), 2, i64(60))
}

func TestCancelledSweepSkipsRemaining(t *testing.T) {
	f := newFixture(t, Config{Workers: 1}, phase.Phase{Number: 1}, phase.Phase{Number: 2, Wait: time.Minute})
	for _, e := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		f.addReminder(t, e)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.note.onCall = func(context.Context) error {
		cancel()
		return nil
	}

	rep, err := f.svc.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Due)
	assert.Equal(t, 1, rep.Delivered)
	assert.Equal(t, 2, rep.Skipped)
}

func TestCompletedEventPublished(t *testing.T) {
	f := newFixture(t, Config{}, phase.Phase{Number: 1})
	events, unsub := f.bus.Subscribe(8, "scheduler.completed")
	defer unsub()
	sc := f.addReminder(t, "gina@example.com")

	f.tickAt(t, 0)
	require.Len(t, events, 1)
	e := <-events
	data, ok := e.Data.(CompletedEvent)
	require.True(t, ok)
	assert.Equal(t, sc.ID, data.ScheduleID)
}

func TestTriggerSkipsWhileTickRunning(t *testing.T) {
	f := newFixture(t, Config{Enabled: false}, phase.Phase{Number: 1})
	f.addReminder(t, "hank@example.com")
	f.svc.Start(context.Background())
	defer func() { _ = f.svc.Stop(context.Background()) }()

	release := make(chan struct{})
	entered := make(chan struct{})
	f.note.onCall = func(context.Context) error {
		close(entered)
		<-release
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.svc.Tick(context.Background())
	}()
	<-entered

	f.svc.runTick() // must not block or start a second sweep
	close(release)
	<-done

	assert.Equal(t, uint64(1), f.svc.Snapshot().Ticks)
	assert.Equal(t, 1, f.note.callCount())
}

func TestStartStopWithCron(t *testing.T) {
	f := newFixture(t, Config{Enabled: true, Tick: "1s", RunOnStart: true}, phase.Phase{Number: 1}, phase.Phase{Number: 2, Wait: time.Hour})
	sc := f.addReminder(t, "ivy@example.com")

	f.svc.Start(context.Background())
	f.svc.Start(context.Background()) // idempotent
	require.Eventually(t, func() bool {
		return f.schedule(t, sc.ReminderID).PhaseNumber == 2
	}, 3*time.Second, 10*time.Millisecond)

	snap := f.svc.Snapshot()
	assert.True(t, snap.Running)
	assert.Equal(t, 2, snap.Phases)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.svc.Stop(ctx))
	require.NoError(t, f.svc.Stop(ctx))
	assert.False(t, f.svc.Snapshot().Running)
}

func TestStopAbandonsStuckTickAtDeadline(t *testing.T) {
	f := newFixture(t, Config{Enabled: false}, phase.Phase{Number: 1}, phase.Phase{Number: 2, Wait: time.Minute})
	sc := f.addReminder(t, "jack@example.com")
	f.note.onCall = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	f.svc.Start(context.Background())

	// drive a trigger-style tick through the run context
	f.svc.mu.Lock()
	runCtx := f.svc.runCtx
	f.svc.mu.Unlock()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.svc.Tick(runCtx)
	}()
	require.Eventually(t, func() bool { return f.note.callCount() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.svc.Stop(ctx), context.DeadlineExceeded)
	<-done

	assertState(t, f.schedule(t, sc.ReminderID), 1, i64(0))
}

func TestApply(t *testing.T) {
	f := newFixture(t, Config{Enabled: true, Tick: "1h"}, phase.Phase{Number: 1})
	f.svc.Start(context.Background())
	defer func() { _ = f.svc.Stop(context.Background()) }()

	f.svc.Apply(Config{Enabled: true, Tick: "30m", Workers: 9})
	cfg := f.svc.Config()
	assert.Equal(t, "30m", cfg.Tick)
	assert.Equal(t, 9, cfg.Workers)
	assert.True(t, f.svc.Snapshot().Running)

	f.svc.Apply(Config{Enabled: true, Tick: "100ms"})
	assert.Equal(t, "30m", f.svc.Config().Tick)

	f.svc.Apply(Config{Enabled: false, Tick: "30m"})
	assert.False(t, f.svc.Snapshot().Running)
	assert.False(t, f.svc.Enabled())

	f.svc.Apply(Config{Enabled: true, Tick: "30m"})
	assert.True(t, f.svc.Snapshot().Running)
}

func TestNewValidatesDeps(t *testing.T) {
	tbl, err := phase.New([]phase.Phase{{Number: 1}})
	require.NoError(t, err)

	_, err = New(Config{}, Deps{Store: storage.NewMemory(), Notifier: &scriptedNotifier{}})
	assert.Error(t, err)
	_, err = New(Config{}, Deps{Phases: tbl, Notifier: &scriptedNotifier{}})
	assert.Error(t, err)
	_, err = New(Config{}, Deps{Phases: tbl, Store: storage.NewMemory()})
	assert.Error(t, err)
	_, err = New(Config{Tick: "nope"}, Deps{Phases: tbl, Store: storage.NewMemory(), Notifier: &scriptedNotifier{}})
	assert.Error(t, err)

	s, err := New(Config{}, Deps{Phases: tbl, Store: storage.NewMemory(), Notifier: &scriptedNotifier{}})
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkers, s.Config().Workers)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.NoError(t, Config{Tick: "*/2 * * * * *", Timezone: "UTC"}.Validate())
	assert.Error(t, Config{Tick: "0.5s"}.Validate())
	assert.Error(t, Config{Timezone: "Mars/Olympus"}.Validate())
}
