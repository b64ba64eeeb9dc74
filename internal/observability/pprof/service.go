// Package pprof serves net/http/pprof on a separate, loopback-first listener.
package pprof

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"ebbinghaus/internal/runtime/supervisor"
	logx "ebbinghaus/pkg/logx"
)

// ErrInsecureBind is returned when a non-loopback address is configured
// without a token and without AllowInsecure.
var ErrInsecureBind = errors.New("pprof: non-loopback addr requires token or allow_insecure")

// Config controls the optional profiling server.
type Config struct {
	Enabled       bool
	Addr          string
	Prefix        string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	MutexProfileFraction int
	BlockProfileRate     int
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = "127.0.0.1:6060"
	}
	c.Prefix = normalizePrefix(c.Prefix)
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	// Profiles stream for their full duration.
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 60 * time.Second
	}
	return c
}

// CheckBind reports whether cfg may be served.
func CheckBind(cfg Config) error {
	cfg = cfg.withDefaults()
	if cfg.Token == "" && !cfg.AllowInsecure && !isLoopbackAddr(cfg.Addr) {
		return ErrInsecureBind
	}
	return nil
}

type Service struct {
	mu   sync.Mutex
	log  logx.Logger
	cfg  Config
	sup  *supervisor.Supervisor
	addr string
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), log: log.With(logx.String("comp", "pprof"))}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr is the bound address, empty while not listening.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Reconfigure applies cfg, starting, stopping or restarting the server as
// needed. Profile rates are applied even when the server is disabled.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	applyRuntimeRates(cfg)

	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			_ = s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case prev.Addr != cfg.Addr || prev.Prefix != cfg.Prefix || prev.Token != cfg.Token ||
		prev.AllowInsecure != cfg.AllowInsecure ||
		prev.ReadTimeout != cfg.ReadTimeout || prev.WriteTimeout != cfg.WriteTimeout:
		_ = s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start is a no-op when disabled or already running. The server lives under
// its own supervisor so a failing bind never stops the service.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	applyRuntimeRates(s.cfg)
	s.sup = supervisor.New(context.WithoutCancel(ctx), supervisor.WithLogger(s.log))
	s.sup.GoRestart("pprof.http", s.serveOnce,
		supervisor.WithBackoff(500*time.Millisecond, 10*time.Second),
		supervisor.WithMaxRestarts(5),
	)
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("pprof stopped")
	return err
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if err := CheckBind(cfg); err != nil {
		s.log.Error("pprof refused to start", logx.String("addr", cfg.Addr), logx.Err(err))
		return err
	}
	if cfg.Token == "" && !isLoopbackAddr(cfg.Addr) {
		s.log.Warn("pprof running without token on non-loopback addr", logx.String("addr", cfg.Addr))
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      Handler(cfg),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.addr = ""
		s.mu.Unlock()
	}()
	s.log.Info("pprof started", logx.String("addr", ln.Addr().String()), logx.String("prefix", cfg.Prefix), logx.Bool("token_set", cfg.Token != ""))

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		<-errc
		return nil
	}
}

// Handler mounts the profiling endpoints under cfg.Prefix.
func Handler(cfg Config) http.Handler {
	cfg = cfg.withDefaults()
	r := gin.New()
	r.Use(gin.Recovery(), tokenAuth(cfg.Token))

	base := strings.TrimSuffix(cfg.Prefix, "/")
	if base != "" {
		r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	}
	serve := dispatch()
	r.GET(base+"/*name", serve)
	r.POST(base+"/*name", serve)
	return r
}

func dispatch() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := strings.TrimPrefix(c.Param("name"), "/")
		switch name {
		case "cmdline":
			hpprof.Cmdline(c.Writer, c.Request)
		case "profile":
			hpprof.Profile(c.Writer, c.Request)
		case "symbol":
			hpprof.Symbol(c.Writer, c.Request)
		case "trace":
			hpprof.Trace(c.Writer, c.Request)
		default:
			// hpprof.Index only knows /debug/pprof/.
			r := c.Request.Clone(c.Request.Context())
			r.URL.Path = "/debug/pprof/" + name
			hpprof.Index(c.Writer, r)
		}
	}
}

// tokenAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func tokenAuth(token string) gin.HandlerFunc {
	tok := strings.TrimSpace(token)
	return func(c *gin.Context) {
		if tok == "" {
			c.Next()
			return
		}
		got := c.Query("token")
		if got == "" {
			if ah, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
				got = strings.TrimSpace(ah)
			}
		}
		if got != tok {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

func applyRuntimeRates(cfg Config) {
	if cfg.MutexProfileFraction >= 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate >= 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = "/debug/pprof/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil || h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
