// Package logging provides component loggers for memochat. Every logger in a
// process appends JSON lines to one file, ~/.memochat/logs/<run-id>-memochat.log.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Environment variables read when the first logger is created.
const (
	EnvLogDir   = "MEMOCHAT_LOG_DIR"
	EnvLogLevel = "MEMOCHAT_LOG_LEVEL"
)

// sink is the log file shared by every logger of the process.
type sink struct {
	once sync.Once
	mu   sync.Mutex

	dir  string
	path string
	file *os.File
	out  detachableWriter
	err  error
}

// detachableWriter is the writer file loggers hold. Until a file is attached,
// and after it is detached, writes are discarded.
type detachableWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (d *detachableWriter) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.w == nil {
		return len(p), nil
	}
	return d.w.Write(p)
}

func (d *detachableWriter) attach(w io.Writer) {
	d.mu.Lock()
	d.w = w
	d.mu.Unlock()
}

var (
	runID  = uuid.New().String()
	shared sink
)

func (s *sink) open() error {
	s.once.Do(func() {
		dir, err := logDirectory()
		if err != nil {
			s.err = err
			return
		}
		s.dir = dir
		s.path = filepath.Join(dir, runID+"-memochat.log")

		file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			s.err = fmt.Errorf("failed to open log file: %w", err)
			return
		}
		s.mu.Lock()
		s.file = file
		s.mu.Unlock()
		s.out.attach(file)
	})
	return s.err
}

// logger returns a logger writing through s. s must be open.
func (s *sink) logger(component string) *Logger {
	return &Logger{
		component: component,
		zl:        newZerolog(&s.out, component),
		path:      s.path,
	}
}

func (s *sink) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	s.out.attach(io.Discard)
	err := s.file.Close()
	s.file = nil
	return err
}

func logDirectory() (string, error) {
	dir := os.Getenv(EnvLogDir)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".memochat", "logs")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	return dir, nil
}

// minLevel reads EnvLogLevel. Unset or unknown values log everything.
func minLevel() zerolog.Level {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(EnvLogLevel)))
	if raw == "" {
		return zerolog.DebugLevel
	}
	lvl, err := zerolog.ParseLevel(raw)
	if err != nil {
		return zerolog.DebugLevel
	}
	return lvl
}

// Logger writes messages tagged with a component name.
type Logger struct {
	component string
	zl        zerolog.Logger
	path      string
}

// NewLogger returns a logger for component writing to the shared log file.
//
// If the file cannot be opened the logger writes to stderr instead and the
// error is returned alongside it, so callers can keep the logger and carry on.
func NewLogger(component string) (*Logger, error) {
	if err := shared.open(); err != nil {
		return newFallbackLogger(component, err), err
	}
	return shared.logger(component), nil
}

func newFallbackLogger(component string, err error) *Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	l := &Logger{component: component, zl: newZerolog(out, component)}
	l.Warnf("File logging unavailable, using stderr: %v", err)
	return l
}

// Nop returns a logger that discards everything.
func Nop(component string) *Logger {
	return &Logger{component: component, zl: zerolog.Nop()}
}

func newZerolog(w io.Writer, component string) zerolog.Logger {
	return zerolog.New(w).Level(minLevel()).With().
		Timestamp().
		Str("component", component).
		Str("run_id", runID).
		Logger()
}

// With returns a child logger that adds key=value to every entry.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{
		component: l.component,
		zl:        l.zl.With().Interface(key, value).Logger(),
		path:      l.path,
	}
}

func (l *Logger) Debugf(format string, v ...any) { l.zl.Debug().Msgf(format, v...) }
func (l *Logger) Infof(format string, v ...any)  { l.zl.Info().Msgf(format, v...) }
func (l *Logger) Warnf(format string, v ...any)  { l.zl.Warn().Msgf(format, v...) }
func (l *Logger) Errorf(format string, v ...any) { l.zl.Error().Msgf(format, v...) }

// Component returns the component name.
func (l *Logger) Component() string { return l.component }

// LogPath returns the log file, or "" for stderr and Nop loggers.
func (l *Logger) LogPath() string { return l.path }

// RunID identifies this process in log entries.
func RunID() string { return runID }

// Dir returns the log directory, creating it if needed.
func Dir() (string, error) {
	if err := shared.open(); err != nil {
		return "", err
	}
	return shared.dir, nil
}

// Close closes the shared log file. File loggers discard every later entry,
// including loggers created after Close. Safe to call more than once.
func Close() error {
	return shared.close()
}
