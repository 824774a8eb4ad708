// Package observability provides structured logging and prometheus metrics
// for the gateway.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Keys whose values are redacted before a record is written.
var sensitiveKeys = map[string]bool{
	"api_key":       true,
	"authorization": true,
	"token":         true,
	"secret":        true,
	"password":      true,
}

// NewLogger builds a slog.Logger with the given level ("debug", "info",
// "warn", "error") and format ("json" or "text"). JSON is the production
// default; text is for local runs.
func NewLogger(level, format string, out io.Writer) *slog.Logger {
	if out == nil {
		out = os.Stdout
	}

	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: redactAttr,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler)
}

func redactAttr(groups []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}
