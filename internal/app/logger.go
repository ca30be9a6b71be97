package app

import (
	"io"
	"log/slog"

	"github.com/charmbracelet/log"
)

// newLogger creates and configures a new slog.Logger instance. It does not
// set the global logger, allowing for isolated logger instances. The json
// format uses the standard handler; text and logfmt go through
// charmbracelet/log.
func newLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	var level slog.Level
	var charmLevel log.Level
	switch levelStr {
	case "debug":
		level, charmLevel = slog.LevelDebug, log.DebugLevel
	case "warn":
		level, charmLevel = slog.LevelWarn, log.WarnLevel
	case "error":
		level, charmLevel = slog.LevelError, log.ErrorLevel
	default:
		level, charmLevel = slog.LevelInfo, log.InfoLevel
	}

	if formatStr == "json" {
		return slog.New(slog.NewJSONHandler(outW, &slog.HandlerOptions{Level: level}))
	}

	formatter := log.TextFormatter
	if formatStr == "logfmt" {
		formatter = log.LogfmtFormatter
	}
	handler := log.NewWithOptions(outW, log.Options{
		Level:           charmLevel,
		Formatter:       formatter,
		ReportTimestamp: true,
	})
	return slog.New(handler)
}
