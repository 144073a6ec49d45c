// Package logging builds the structured logger the CLI hands to the
// solver. It wraps zerolog rather than introducing a bespoke logging type:
// a solver.State whose logger is never configured keeps zerolog.Nop(), so
// logging costs nothing when unset.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New returns a human-readable console logger writing to w at the given
// minimum level. Intended for CLI use; library code should accept a
// zerolog.Logger from its caller instead of constructing one.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	return zerolog.New(console).Level(level).With().Timestamp().Logger()
}

// Default returns a console logger at info level writing to stderr.
func Default() zerolog.Logger {
	return New(os.Stderr, zerolog.InfoLevel)
}

// Nop returns a logger that discards everything, the zero-cost default for
// library types that accept an optional logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
