package db

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

var ErrBadgerPathRequired = errors.New("badger path required (set BADGER_PATH)")

// OpenBadger opens the embedded store at path, routing badger's own logging
// through log.
func OpenBadger(path string, log zerolog.Logger) (*badger.DB, error) {
	if path == "" {
		return nil, ErrBadgerPathRequired
	}

	opts := badger.DefaultOptions(path).
		WithLogger(badgerLogger{log: log.With().Str("component", "badger").Logger()})
	if log.GetLevel() <= zerolog.DebugLevel {
		opts = opts.WithLoggingLevel(badger.DEBUG)
	} else {
		opts = opts.WithLoggingLevel(badger.WARNING)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return db, nil
}

// badgerLogger adapts zerolog to badger.Logger.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}
