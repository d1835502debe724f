package logging

import (
	"log/slog"
	"os"
)

// New builds the service-wide structured logger. Output is JSON on stdout so
// journald or a log shipper can pick it up unchanged.
func New(level, hostID string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})

	logger := slog.New(handler).With(
		"service", "custodian",
		"host_id", hostID,
	)
	slog.SetDefault(logger)

	return logger
}

// parseLevel parses a log level string.
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
