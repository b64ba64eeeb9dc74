package notifier

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ebbinghaus/internal/eventbus"
	logx "ebbinghaus/pkg/logx"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultRatePerSec  = 5
	defaultHistorySize = 200
)

// Service implements Notifier over a Transport. It is safe for concurrent use.
type Service struct {
	mu        sync.Mutex
	cfg       Config
	limiter   *rate.Limiter
	transport Transport
	stopped   bool

	log logx.Logger
	bus eventbus.Bus

	hmu     sync.Mutex
	history []HistoryItem
}

// New builds the transport named by cfg.Transport.
func New(cfg Config, log logx.Logger, bus eventbus.Bus) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "notifier"))

	var tr Transport
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case "", "smtp":
		st, err := newSMTP(cfg)
		if err != nil {
			return nil, fmt.Errorf("notifier: %w", err)
		}
		tr = st
	case "log":
		tr = logTransport{log: log}
	default:
		return nil, fmt.Errorf("notifier: unknown transport %q", cfg.Transport)
	}
	return NewWithTransport(cfg, tr, log, bus), nil
}

// NewWithTransport wraps an existing transport.
func NewWithTransport(cfg Config, tr Transport, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{transport: tr, log: log, bus: bus}
	s.applyLocked(cfg)
	return s
}

// Apply updates the send policy. Transport settings need a restart.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) TransportName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		return ""
	}
	return s.transport.Name()
}

// Deliver sends text to address. The subject is the topic, or empty.
func (s *Service) Deliver(ctx context.Context, address string, topic *string, text string) error {
	s.mu.Lock()
	if s.stopped || s.transport == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrDelivery, ErrStopped)
	}
	cfg := s.cfg
	lim := s.limiter
	tr := s.transport
	s.mu.Unlock()

	m := Message{From: cfg.From, To: strings.TrimSpace(address), Body: text}
	if topic != nil {
		m.Subject = *topic
	}
	if m.To == "" {
		return s.fail(tr, m, 0, fmt.Errorf("empty address"))
	}

	if err := lim.Wait(ctx); err != nil {
		return s.fail(tr, m, 0, err)
	}

	start := time.Now()
	sendCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	err := tr.Send(sendCtx, m)
	cancel()
	took := time.Since(start)
	if err != nil {
		return s.fail(tr, m, took, err)
	}

	s.record(HistoryItem{At: time.Now(), To: m.To, Subject: m.Subject}, cfg.HistorySize)
	s.bus.Publish(eventbus.Event{Type: eventbus.NotifierSent, Data: DeliveryEvent{Transport: tr.Name(), To: m.To, Took: took}})
	s.log.Debug("delivered", logx.String("to", m.To), logx.Duration("took", took))
	return nil
}

func (s *Service) fail(tr Transport, m Message, took time.Duration, err error) error {
	s.record(HistoryItem{At: time.Now(), To: m.To, Subject: m.Subject, Error: err.Error()}, s.Config().HistorySize)
	s.bus.Publish(eventbus.Event{Type: eventbus.NotifierFailed, Data: DeliveryEvent{Transport: tr.Name(), To: m.To, Took: took, Error: err.Error()}})
	s.log.Warn("delivery failed", logx.String("to", m.To), logx.Err(err))
	return fmt.Errorf("%w: %s: %w", ErrDelivery, m.To, err)
}

func (s *Service) record(item HistoryItem, max int) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

// History returns recent attempts, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

// Stop refuses further deliveries and closes the transport.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	tr := s.transport
	s.mu.Unlock()
	if tr == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- tr.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
