// Package logs exposes info, warning and error loggers.
package logs

import (
	"io"
	"log"
	"os"
)

var (
	// Info logger for non-error messages.
	Info *log.Logger
	// Warn logger for recoverable problems.
	Warn *log.Logger
	// Err logger for errors.
	Err *log.Logger
)

// Init initializes the loggers.
func Init(out io.Writer, flags int) {
	if out == nil {
		out = os.Stderr
	}
	Info = log.New(out, "I", flags)
	Warn = log.New(out, "W", flags)
	Err = log.New(out, "E", flags)
}

func init() {
	// Default initialization so the loggers are usable from tests without
	// explicit setup. Main re-initializes with configured flags.
	Init(os.Stderr, log.LstdFlags)
}
