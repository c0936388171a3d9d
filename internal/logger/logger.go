// Package logger builds the zerolog logger shared by all components.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates a logger writing to stderr.
func New(debug bool) zerolog.Logger {
	return NewWithWriter(debug, os.Stderr)
}

// NewWithWriter creates a logger writing JSON lines to w. Debug enables
// debug-level output; otherwise only info and above are emitted.
func NewWithWriter(debug bool, w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// Console creates a human-readable logger for interactive CLI commands.
func Console(debug bool) zerolog.Logger {
	return NewWithWriter(debug, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
