package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration
type Config struct {
	Level       string `json:"level"`
	Output      string `json:"output"` // "stdout", "stderr", or file path
	Component   string `json:"component"`
	IncludeFile bool   `json:"include_file"` // Include file and line number
	JSONFormat  bool   `json:"json_format"`  // Output as JSON

	// File rotation, used only when Output is a path
	MaxSizeMB  int  `json:"max_size_mb"`
	MaxBackups int  `json:"max_backups"`
	MaxAgeDays int  `json:"max_age_days"`
	Compress   bool `json:"compress"`
}

var (
	defaultLogger zerolog.Logger
	defaultMu     sync.RWMutex
	once          sync.Once
)

// ParseLevel converts a string to a zerolog level, INFO when unknown
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	case "DISABLED", "OFF":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// New creates a logger with the given configuration. The returned closer
// releases the log file, if any; it is a no-op for stdout and stderr.
func New(cfg *Config) (zerolog.Logger, io.Closer) {
	var (
		output io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)

	switch cfg.Output {
	case "", "stdout":
	case "stderr":
		output = os.Stderr
	default:
		file := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		output = file
		closer = file
	}

	return NewWithWriter(cfg, output), closer
}

// NewWithWriter builds the logger on an arbitrary writer
func NewWithWriter(cfg *Config, output io.Writer) zerolog.Logger {
	if !cfg.JSONFormat {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339, NoColor: !isTerminal(output)}
	}

	ctx := zerolog.New(output).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp()
	if cfg.Component != "" {
		ctx = ctx.Str("component", cfg.Component)
	}
	if cfg.IncludeFile {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// Default returns the default logger instance
func Default() zerolog.Logger {
	once.Do(func() {
		defaultMu.Lock()
		defaultLogger = NewWithWriter(&Config{
			Level:      "INFO",
			Component:  "app",
			JSONFormat: true,
		}, os.Stdout)
		defaultMu.Unlock()
	})
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(l zerolog.Logger) {
	once.Do(func() {})
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// WithComponent returns the default logger tagged with component
func WithComponent(component string) zerolog.Logger {
	return Default().With().Str("component", component).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
