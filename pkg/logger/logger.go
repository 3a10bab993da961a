package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const serviceName = "loventia-chat"

// New builds the process logger. Development gets a human readable console
// writer, every other environment gets JSON lines on stdout.
func New(development bool, level string) zerolog.Logger {
	return NewWithWriter(development, level, os.Stdout)
}

func NewWithWriter(development bool, level string, out io.Writer) zerolog.Logger {
	var w io.Writer = out
	if development {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(w).Level(lvl).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// WithUserID returns a child logger tagged with the user id.
func WithUserID(log zerolog.Logger, userID string) zerolog.Logger {
	return log.With().Str("user_id", userID).Logger()
}
