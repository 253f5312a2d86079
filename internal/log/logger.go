// Package log builds the zerolog loggers used across the daemon and the
// terminal client.
package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a console-formatted zerolog logger writing to stdout, with
// the given level string (debug, info, warn, error).
func New(level string) *zerolog.Logger {
	return NewTo(os.Stdout, level)
}

// NewTo builds a console-formatted zerolog logger writing to w. The
// terminal client uses this to log to a file instead of stdout, since
// stdout is occupied by the chat view.
func NewTo(w io.Writer, level string) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    w != os.Stdout,
	}

	logger := zerolog.New(output).Level(parseLevel(level)).With().Timestamp().Logger()
	return &logger
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
