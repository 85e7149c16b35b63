// Package logger provides a structured zerolog logger for nodeagent.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// ParseLevel maps a configured level to zerolog. Besides the names it accepts
// the numeric forms 0 (warn), 1 (info) and 2 (debug). Unknown values
// fall back to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "2":
		return zerolog.DebugLevel
	case "info", "1":
		return zerolog.InfoLevel
	case "warn", "warning", "0":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init creates the process logger on stderr. Output is human-readable when
// stderr is a terminal and JSON otherwise, e.g. under systemd.
func Init(level string) zerolog.Logger {
	return New(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), level)
}

// New creates a logger writing to w.
func New(w io.Writer, console bool, level string) zerolog.Logger {
	if console {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}
	return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}
