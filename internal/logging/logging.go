// Package logging configures the process-wide slog logger. All log output
// passes through a redacting handler so PII values never reach log sinks.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Output formats.
const (
	FormatJSON   = "json"
	FormatPretty = "pretty"
)

// sensitiveKeys are attribute keys whose values are masked before emission.
// Placeholder mappings and extracted text must never appear in logs.
var sensitiveKeys = map[string]bool{
	"text":     true,
	"value":    true,
	"original": true,
	"mapping":  true,
	"body":     true,
}

// Setup installs the default logger. format is "json" for production or
// "pretty" for colorized development output; level accepts debug, info,
// warn, error.
func Setup(format, level string) *slog.Logger {
	var handler slog.Handler
	switch format {
	case FormatPretty:
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      parseLevel(level),
			TimeFormat: time.TimeOnly,
		})
	default:
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLevel(level),
		})
	}

	logger := slog.New(&redactingHandler{inner: handler})
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
