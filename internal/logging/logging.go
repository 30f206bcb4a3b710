// Package logging builds the per-run loggers handed to every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options configures a Session.
type Options struct {
	// Dir receives one log file per run; empty disables the file.
	Dir string
	// Name prefixes the log file name, usually the command name.
	Name  string
	Level string
	// Console defaults to stderr. Use io.Discard to silence it.
	Console io.Writer
	// Extra writers receive plain-text lines, e.g. the desktop activity log.
	Extra []io.Writer
	Now   func() time.Time
}

// Session is one run's logger plus the file it writes to.
type Session struct {
	Logger zerolog.Logger
	RunID  string
	Path   string
	file   *os.File
}

// FileName returns the log file name for a run started at t.
func FileName(name string, t time.Time) string {
	return fmt.Sprintf("%s_%s.log", name, t.Format("20060102_150405"))
}

// New opens the run's log file and returns a logger writing to the console,
// the file and any extra writers.
func New(opts Options) (*Session, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", opts.Level, err)
		}
		level = l
	}
	if opts.Name == "" {
		opts.Name = "setforge"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	s := &Session{RunID: uuid.NewString()}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: console, TimeFormat: time.Kitchen}}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		s.Path = filepath.Join(opts.Dir, FileName(opts.Name, opts.Now()))
		f, err := os.OpenFile(s.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		s.file = f
		writers = append(writers, plain(f))
	}
	for _, w := range opts.Extra {
		writers = append(writers, plain(w))
	}

	s.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("run_id", s.RunID).
		Logger()
	if s.Path != "" {
		s.Logger.Info().Str("path", s.Path).Msg("logging to file")
	}
	return s, nil
}

func plain(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: "2006-01-02 15:04:05"}
}

// Close flushes and closes the log file.
func (s *Session) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
