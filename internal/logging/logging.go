// Package logging builds the structured loggers envex components share.
package logging

import (
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// Prefix is printed before every message.
const Prefix = "envex"

// New returns a logger writing to w at level. Timestamps are only reported
// at debug level, where ordering across index requests matters.
func New(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Prefix:          Prefix,
		Level:           level,
		ReportTimestamp: level <= log.DebugLevel,
		TimeFormat:      time.TimeOnly,
	})
}
