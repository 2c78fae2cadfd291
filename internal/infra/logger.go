package infra

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger constructs the process logger. Development gets a console writer
// at debug level; everything else logs JSON to stdout. A non-empty level
// overrides the environment default.
func NewLogger(appEnv, level string) zerolog.Logger {
	return NewLoggerTo(os.Stdout, appEnv, level)
}

// NewLoggerTo is NewLogger writing to w.
func NewLoggerTo(w io.Writer, appEnv, level string) zerolog.Logger {
	lvl := zerolog.InfoLevel
	if appEnv == "development" {
		lvl = zerolog.DebugLevel
	}
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil && level != "" {
		lvl = parsed
	}

	logger := zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339})
	}

	return logger
}

// DiscardLogger returns a logger that drops everything, for components built
// without one.
func DiscardLogger() *Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// Logger aliases zerolog.Logger so packages can accept a logger without
// importing the module directly.
type Logger = zerolog.Logger
