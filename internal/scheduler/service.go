package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ebbinghaus/internal/clock"
	"ebbinghaus/internal/eventbus"
	logx "ebbinghaus/pkg/logx"
)

// Service owns the tick trigger. Its phase table and collaborators are fixed
// at construction; only the trigger and concurrency settings change via Apply.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	spec    ParsedSpec
	loc     *time.Location
	c       *cron.Cron
	entry   cron.EntryID
	started time.Time

	// runCtx is non-nil between Start and Stop. Ticks started by the trigger
	// use it; Stop cancels it only when its deadline runs out.
	runCtx    context.Context
	cancelRun context.CancelFunc

	// tickMu serializes sweeps.
	tickMu sync.Mutex

	deps Deps
	log  logx.Logger

	hmu      sync.Mutex
	history  []Report
	ticks    uint64
	failures uint64
}

func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Phases == nil || deps.Phases.Len() == 0 {
		return nil, errors.New("scheduler: phase table required")
	}
	if deps.Store == nil {
		return nil, errors.New("scheduler: store required")
	}
	if deps.Notifier == nil {
		return nil, errors.New("scheduler: notifier required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop{}
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}

	cfg = cfg.withDefaults()
	spec, err := ParseSchedule(cfg.Tick)
	if err != nil {
		return nil, err
	}
	log := deps.Log.With(logx.String("comp", "scheduler"))
	return &Service{cfg: cfg, spec: spec, deps: deps, log: log}, nil
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Start begins triggering ticks. It is a no-op when already started. When
// the config is disabled the service is started but idle until Apply
// enables it.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return
	}
	s.runCtx, s.cancelRun = context.WithCancel(ctx)
	s.started = time.Now()

	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}
	s.startCronLocked()
	if s.cfg.RunOnStart {
		go s.runTick()
	}
}

// Stop stops triggering and waits for an in-flight tick until ctx is done.
// On deadline the tick's deliveries are cancelled; schedule updates already
// issued run to completion.
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	if s.runCtx == nil {
		s.mu.Unlock()
		return nil
	}
	c := s.c
	cancel := s.cancelRun
	s.c, s.runCtx, s.cancelRun = nil, nil, nil
	s.mu.Unlock()

	if c != nil {
		c.Stop()
	}

	idle := make(chan struct{})
	go func() {
		s.tickMu.Lock()
		s.tickMu.Unlock()
		close(idle)
	}()

	var err error
	select {
	case <-idle:
	case <-ctx.Done():
		err = ctx.Err()
		s.log.Warn("in-flight tick abandoned", logx.Err(err))
	}
	cancel()
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	return err
}

// Apply swaps the trigger and worker settings. An invalid tick spec keeps
// the previous one.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	spec, err := ParseSchedule(cfg.Tick)
	if err != nil {
		s.log.Warn("invalid tick spec; keeping previous", logx.String("tick", cfg.Tick), logx.Err(err))
		cfg.Tick = s.Config().Tick
		spec, _ = ParseSchedule(cfg.Tick)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cfg
	s.cfg = cfg
	s.spec = spec

	if s.runCtx == nil {
		return
	}
	retrigger := prev.Tick != cfg.Tick || strings.TrimSpace(prev.Timezone) != strings.TrimSpace(cfg.Timezone)
	switch {
	case !cfg.Enabled && s.c != nil:
		old := s.c
		s.c = nil
		go old.Stop()
		s.log.Info("scheduler disabled")
	case cfg.Enabled && s.c == nil:
		s.startCronLocked()
	case cfg.Enabled && retrigger:
		old := s.c
		s.startCronLocked()
		// a tick still running under the old trigger keeps tickMu;
		// the new trigger skips until it finishes
		go old.Stop()
	}
}

func (s *Service) startCronLocked() {
	sched, err := s.spec.Schedule()
	if err != nil {
		s.log.Error("tick spec rejected", logx.String("tick", s.cfg.Tick), logx.Err(err))
		return
	}
	loc := s.loadLocationLocked()
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.entry = c.Schedule(sched, cron.FuncJob(s.runTick))
	c.Start()
	s.c = c
	s.loc = loc
	s.log.Info("scheduler started",
		logx.String("tick", s.spec.String()),
		logx.String("tz", loc.String()),
		logx.Int("workers", s.cfg.Workers),
		logx.Int("phases", s.deps.Phases.Len()),
	)
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// runTick is the trigger's job. It skips when a sweep is already running.
func (s *Service) runTick() {
	s.mu.Lock()
	ctx := s.runCtx
	if ctx == nil || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	if !s.tickMu.TryLock() {
		s.mu.Unlock()
		s.log.Debug("previous tick still running; skipped")
		return
	}
	s.mu.Unlock()
	defer s.tickMu.Unlock()

	_, _ = s.tick(ctx)
}

// Tick runs one sweep now, waiting for any running sweep first. Per-schedule
// failures are counted in the report; the error is set only when the clock
// or the due query failed.
func (s *Service) Tick(ctx context.Context) (Report, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	return s.tick(ctx)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	c := s.c
	entry := s.entry
	running := s.runCtx != nil
	started := s.started
	loc := s.loc
	s.mu.Unlock()

	snap := Snapshot{
		Enabled:  cfg.Enabled,
		Running:  running && c != nil,
		Tick:     cfg.Tick,
		Workers:  cfg.Workers,
		Timezone: cfg.Timezone,
		Phases:   s.deps.Phases.Len(),
	}
	if snap.Timezone == "" && loc != nil {
		snap.Timezone = loc.String()
	}
	if running {
		snap.Uptime = time.Since(started)
	}
	if c != nil {
		e := c.Entry(entry)
		snap.Next, snap.Prev = e.Next, e.Prev
	}

	s.hmu.Lock()
	snap.Ticks = s.ticks
	snap.Failures = s.failures
	snap.History = append([]Report(nil), s.history...)
	s.hmu.Unlock()
	if n := len(snap.History); n > 0 {
		last := snap.History[n-1]
		snap.Last = &last
	}
	return snap
}

func (s *Service) record(r Report, failed bool, max int) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.ticks++
	if failed {
		s.failures++
	}
	s.history = append(s.history, r)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
}
