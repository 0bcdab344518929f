package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the process-wide logger. Components receive derived loggers via
// With(), never this value directly.
var Log = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init configures the process logger.
func Init(level string, pretty bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if pretty {
		ctx = ctx.Caller()
	}
	Log = ctx.Logger().Level(parseLevel(level))
}

// With returns a child logger tagged with the component name.
func With(component string) zerolog.Logger {
	return Log.With().Str("component", component).Logger()
}

func parseLevel(level string) zerolog.Level {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return parsed
}
