// Package connlog configures the zerolog logger a Connection logs
// through. Grounded on
// saidutt46-Switchboard-Gateway/internal/logging.Setup: a level plus a
// console-vs-json format switch, installed by the caller rather than
// mandated by this core.
package connlog

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing to w (os.Stderr if nil). format is
// "console" for human-readable colorized output or "json" (the default)
// for structured output suited to log aggregation. level is parsed with
// zerolog.ParseLevel; an invalid level falls back to InfoLevel.
func New(level, format string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var output io.Writer = w
	if strings.EqualFold(format, "console") {
		output = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	return zerolog.New(output).Level(lvl).With().Timestamp().Logger()
}
