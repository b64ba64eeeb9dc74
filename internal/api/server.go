// Package api is the HTTP surface: user and reminder creation plus read-only
// views of the scheduler and the delivery log.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"ebbinghaus/internal/cache"
	"ebbinghaus/internal/clock"
	"ebbinghaus/internal/phase"
	"ebbinghaus/internal/scheduler"
	"ebbinghaus/internal/storage"
	logx "ebbinghaus/pkg/logx"
)

const (
	DefaultAddr      = "0.0.0.0:8080"
	DefaultBodyLimit = 4096
)

type Config struct {
	Addr            string
	BodyLimit       int64
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.BodyLimit <= 0 {
		c.BodyLimit = DefaultBodyLimit
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	return c
}

// SchedulerView is the part of the scheduler the API reports on.
type SchedulerView interface {
	Snapshot() scheduler.Snapshot
}

// Deps are the handlers' collaborators. Scheduler and Deliveries are optional.
type Deps struct {
	Store      storage.Store
	Phases     *phase.Table
	Clock      clock.Clock
	Scheduler  SchedulerView
	Deliveries cache.DeliveryLog
	Log        logx.Logger
}

type Server struct {
	cfg    Config
	log    logx.Logger
	router *gin.Engine

	mu   sync.Mutex
	addr string
}

func New(cfg Config, deps Deps) *Server {
	cfg = cfg.withDefaults()
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	deps.Log = deps.Log.With(logx.String("comp", "api"))
	return &Server{cfg: cfg, log: deps.Log, router: NewRouter(cfg, deps)}
}

func (s *Server) Handler() http.Handler { return s.router }

// Addr is the bound address once Run is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run listens and serves until ctx ends, then shuts down gracefully within
// ShutdownTimeout. A listen or serve failure is returned.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Info("http server listening", logx.String("addr", s.addr))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		s.log.Warn("http shutdown incomplete", logx.Err(err))
		_ = srv.Close()
	}
	<-errc
	s.log.Info("http server stopped")
	return nil
}
