// Package logger configures the zerolog logger shared by every swarm component.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration
type Config struct {
	Level     string    // debug, info, warn, error
	File      string    // optional log file, appended to
	Console   bool      // write to Out
	Pretty    bool      // human readable console output
	Redaction bool      // mask provider credentials
	Out       io.Writer // console destination, stdout when nil
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
	}
}

// Logger is the process logger. Its level is the zerolog global level, so
// component loggers handed out before a SetLevel call follow the change.
type Logger struct {
	zl       zerolog.Logger
	file     *os.File
	redactor *Redactor
}

// New creates a logger and installs it as the global zerolog logger
func New(cfg Config) (*Logger, error) {
	sink, file, err := openSinks(cfg)
	if err != nil {
		return nil, err
	}

	l := &Logger{file: file}
	if cfg.Redaction {
		l.redactor = NewRedactor()
		sink = l.redactor.Wrap(sink)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	l.zl = zerolog.New(sink).With().Timestamp().Logger()
	log.Logger = l.zl

	return l, nil
}

func parseLevel(level string) zerolog.Level {
	if level == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// openSinks combines the console and file destinations. With neither
// configured the console is used anyway.
func openSinks(cfg Config) (io.Writer, *os.File, error) {
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	if cfg.File == "" {
		return out, nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	if !cfg.Console {
		return file, file, nil
	}
	return zerolog.MultiLevelWriter(out, file), file, nil
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// SetLevel changes the minimum level of every logger in the process
func (l *Logger) SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

// Level returns the current minimum level
func (l *Logger) Level() zerolog.Level {
	return zerolog.GlobalLevel()
}

func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

// With creates a child logger context
func (l *Logger) With() zerolog.Context {
	return l.zl.With()
}

// Component returns a child logger tagged with the component name
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zl.With().Str("component", name).Logger()
}

// GetZerolog returns the underlying zerolog.Logger
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.zl
}
