// Package logging sets up the structured logger used in place of the
// original's merr.h info/warning/error/die helpers.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a console logger. When quiet is true, info-level messages are
// suppressed, mirroring merr_suppress(s_info) under --quiet.
func New(quiet bool) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	level := zerolog.InfoLevel
	if quiet {
		level = zerolog.WarnLevel
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Fatal logs err at error level and exits with the given status, the
// analogue of the original's die(status, fmt, ...).
func Fatal(log zerolog.Logger, status int, msg string) {
	log.Error().Msg(msg)
	os.Exit(status)
}
