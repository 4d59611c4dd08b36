// Package logging builds the zerolog loggers used by the command line tools.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Options selects the output format and verbosity.
type Options struct {
	// Pretty writes human-readable console output instead of JSON.
	Pretty bool
	Debug  bool
	Out    io.Writer
}

// New returns a root logger with timestamps.
func New(opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if opts.Pretty {
		// ConsoleWriter prettifies output; it is slower than raw JSON.
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
