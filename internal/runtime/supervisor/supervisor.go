// Package supervisor owns the service's long-running goroutines: they are
// named, panic-safe, optionally restarted with backoff, and stopped together.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	logx "ebbinghaus/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	wg          sync.WaitGroup
	errOnce     sync.Once
	firstErr    error
	cancelOnErr bool

	mu    sync.Mutex
	tasks map[string]*TaskStats
}

// TaskStats is a best-effort view of one named goroutine.
type TaskStats struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	Starts    int       `json:"starts"`
	Panics    int       `json:"panics"`
	LastStart time.Time `json:"last_start"`
	LastErr   string    `json:"last_err,omitempty"`
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError stops every goroutine after the first failure.
func WithCancelOnError(on bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = on }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop(), tasks: map[string]*TaskStats{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Err returns the first failure of any goroutine.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

func (s *Supervisor) setErr(err error) {
	s.errOnce.Do(func() {
		s.mu.Lock()
		s.firstErr = err
		s.mu.Unlock()
		if s.cancelOnErr {
			s.log.Error("fatal goroutine error; stopping", logx.Err(err))
			s.cancel()
		}
	})
}

// Go runs fn once. A returned error (other than cancellation) or a panic is
// recorded and logged; it does not stop other goroutines.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.run(name, fn); err != nil {
			s.setErr(err)
		}
	}()
}

// Go0 is Go for functions without an error result.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

func (s *Supervisor) run(name string, fn func(ctx context.Context) error) (err error) {
	s.note(name, func(t *TaskStats) {
		t.Running = true
		t.Starts++
		t.LastStart = time.Now()
	})
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			s.note(name, func(t *TaskStats) { t.Panics++ })
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
		s.note(name, func(t *TaskStats) {
			t.Running = false
			if err != nil {
				t.LastErr = err.Error()
			}
		})
	}()

	s.log.Debug("goroutine started", logx.String("name", name))
	err = fn(s.ctx)
	if err != nil && (errors.Is(err, context.Canceled) || s.ctx.Err() != nil) {
		err = nil
	}
	if err != nil {
		err = fmt.Errorf("%s: %w", name, err)
	}
	s.log.Debug("goroutine stopped", logx.String("name", name), logx.Err(err))
	return err
}

type restartCfg struct {
	min, max    time.Duration
	maxRestarts int
}

type RestartOption func(*restartCfg)

// WithBackoff sets the exponential backoff window between restarts.
func WithBackoff(min, max time.Duration) RestartOption {
	return func(c *restartCfg) {
		if min > 0 {
			c.min = min
		}
		if max > 0 {
			c.max = max
		}
	}
}

// WithMaxRestarts gives up after n failed runs; 0 means never.
func WithMaxRestarts(n int) RestartOption {
	return func(c *restartCfg) { c.maxRestarts = n }
}

// GoRestart keeps fn running until the supervisor stops. A clean return ends
// it; an error or panic restarts it after a jittered backoff.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	cfg := restartCfg{min: 250 * time.Millisecond, max: 30 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.max < cfg.min {
		cfg.max = cfg.min
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		backoff := cfg.min
		for failures := 0; ; {
			started := time.Now()
			err := s.run(name, fn)
			if err == nil || s.ctx.Err() != nil {
				return
			}
			failures++
			if cfg.maxRestarts > 0 && failures > cfg.maxRestarts {
				s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("failures", failures), logx.Err(err))
				s.setErr(err)
				return
			}
			if time.Since(started) >= 30*time.Second {
				backoff = cfg.min
			}
			wait := backoff + rand.N(backoff/5+1)
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			backoff = min(backoff*2, cfg.max)
		}
	}()
}

// Stop cancels every goroutine and waits for them up to ctx's deadline.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot lists tasks, running ones first.
func (s *Supervisor) Snapshot() []TaskStats {
	s.mu.Lock()
	out := make([]TaskStats, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Running != out[j].Running {
			return out[i].Running
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *Supervisor) note(name string, fn func(*TaskStats)) {
	s.mu.Lock()
	t := s.tasks[name]
	if t == nil {
		t = &TaskStats{Name: name}
		s.tasks[name] = t
	}
	fn(t)
	s.mu.Unlock()
}
