package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

const defaultFilePath = "./ebbinghaus.log"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

var globals sync.Once

func setGlobals() {
	globals.Do(func() {
		zerolog.TimeFieldFormat = timeFormat
		zerolog.ErrorFieldName = "err"
		zerolog.CallerMarshalFunc = func(_ uintptr, file string, line int) string {
			return filepath.Base(file) + ":" + strconv.Itoa(line)
		}
	})
}

// Service owns the sinks. Apply rebuilds the root logger and swaps it in
// atomically; loggers handed out earlier pick it up on their next event.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu       sync.Mutex
	file     *os.File
	filePath string
}

// New applies cfg and returns the service with its root logger.
func New(cfg Config) (*Service, Logger) {
	setGlobals()
	s := &Service{}
	s.Apply(cfg)
	return s, Logger{src: s}
}

func (s *Service) current() *zerolog.Logger { return s.root.Load() }

func (s *Service) Logger() Logger { return Logger{src: s} }

// Apply is safe to call concurrently with logging. The log file is reopened
// only when its path changes.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}

	var stale *os.File
	path := strings.TrimSpace(cfg.File.Path)
	if path == "" {
		path = defaultFilePath
	}
	switch {
	case !cfg.File.Enabled:
		stale, s.file, s.filePath = s.file, nil, ""
	case s.file != nil && s.filePath == path:
		sinks = append(sinks, zerolog.SyncWriter(s.file))
	default:
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %q: %v\n", path, err)
			stale, s.file, s.filePath = s.file, nil, ""
			break
		}
		stale, s.file, s.filePath = s.file, f, path
		sinks = append(sinks, zerolog.SyncWriter(f))
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(ParseLevel(cfg.Level)).
		With().Timestamp().Logger()
	s.root.Store(&zl)

	if stale != nil {
		_ = stale.Close()
	}
}

// Close releases the log file. Console output keeps working.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file, s.filePath = nil, ""
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}

// ParseLevel maps a config level to zerolog's; unknown or empty is info.
func ParseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
