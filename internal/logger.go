package internal

import (
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
)

// newLogger builds the application logger for the configured format.
func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	var handler slog.Handler
	switch format {
	case LogFormatText:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	case LogFormatPretty:
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
		})
	default:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
