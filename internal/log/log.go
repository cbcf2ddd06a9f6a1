package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

var (
	// L is the shared logger (use log.L.Info().Msg("hi"))
	L zerolog.Logger
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	L = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// SetLevel sets the minimum level of the shared logger.
func SetLevel(level zerolog.Level) {
	L = L.Level(level)
}

// SetOutput redirects the shared logger, keeping its level.
func SetOutput(w io.Writer) {
	level := L.GetLevel()
	L = zerolog.New(w).With().Timestamp().Logger().Level(level)
}

// With starts a child logger context.
func With() zerolog.Context { return L.With() }

func Debug() *zerolog.Event { return L.Debug() }
func Info() *zerolog.Event  { return L.Info() }
func Warn() *zerolog.Event  { return L.Warn() }
func Error() *zerolog.Event { return L.Error() }
