// Package logging builds the slog loggers used by the command line tools.
//
// Output goes through charmbracelet/log, which implements slog.Handler, so
// packages below cmd/ only ever see *slog.Logger.
package logging

import (
	"io"
	"log/slog"

	"github.com/charmbracelet/log"
)

// New returns a logger writing timestamped lines to w. Verbose enables debug
// output; otherwise only info and above is shown.
func New(w io.Writer, app string, verbose bool) *slog.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	handler := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
		Prefix:          app,
	})
	return slog.New(handler)
}
