// Package logging builds the slog loggers used across syncer. Records are rendered
// by charmbracelet/log, which implements slog.Handler, so packages only ever see a
// *slog.Logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	charm "github.com/charmbracelet/log"
)

// New returns a logger writing to w at the given level ("debug", "info", "warn",
// "error") in the given format ("text", "json" or "logfmt"). An empty level or
// format selects info and text.
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	if level == "" {
		level = "info"
	}
	lvl, err := charm.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var formatter charm.Formatter
	switch strings.ToLower(format) {
	case "", "text":
		formatter = charm.TextFormatter
	case "json":
		formatter = charm.JSONFormatter
	case "logfmt":
		formatter = charm.LogfmtFormatter
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}

	handler := charm.NewWithOptions(w, charm.Options{
		Level:           lvl,
		Formatter:       formatter,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	return slog.New(handler), nil
}

// Discard returns a logger that drops everything, for use when a component is
// constructed without one.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
