package log

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"triarb/internal/config"
)

type Logger = zerolog.Logger

// NewLogger builds the process logger from the logging section of the config.
func NewLogger(cfg config.Config) Logger {
	var out io.Writer = os.Stderr
	if cfg.Logging.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	return New(out, cfg.Logging.Level)
}

// New writes to out at the given level; unknown levels fall back to info.
func New(out io.Writer, level string) Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(out).With().Timestamp().Logger().Level(lvl)
}

// Component tags every event with the emitting subsystem.
func Component(l Logger, name string) Logger {
	return l.With().Str("component", name).Logger()
}

// Nop discards everything; handy in tests.
func Nop() Logger { return zerolog.Nop() }
