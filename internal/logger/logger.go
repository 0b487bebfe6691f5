package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Setup initializes the global zerolog logger based on environment configuration.
//   - level: log level string (trace, debug, info, warn, error, fatal, panic)
//   - format: "json" for production, "pretty" for human-readable dev output,
//     "auto" for pretty output only when stdout is a terminal
//
// Returns the configured logger instance.
func Setup(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	return zerolog.New(Writer(format, os.Stdout)).
		With().
		Timestamp().
		Caller().
		Logger()
}

// Writer picks the output encoding for format on out.
func Writer(format string, out *os.File) io.Writer {
	pretty := format == "pretty"
	if format == "auto" {
		pretty = term.IsTerminal(int(out.Fd()))
	}
	if pretty {
		return zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}
	return out
}
