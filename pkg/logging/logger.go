package logging

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogger installs a JSON logger at the given level as the process
// default and returns it. Source locations are attached to every record.
func InitLogger(level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	}))
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a config string to a slog level. Unknown values fall back to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewComponentLogger creates a component-specific logger with context.
// It adds the component name to all log messages for better traceability.
func NewComponentLogger(base *slog.Logger, component string) *slog.Logger {
	return base.With(
		slog.String("component", component),
	)
}

// NewSessionLogger scopes a logger to a single call session. The call id is the
// external correlation id (the telephony call SID when one exists), never a
// synthesized one.
func NewSessionLogger(base *slog.Logger, callID, traceID string) *slog.Logger {
	attrs := []any{slog.String("call_id", callID)}
	if traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	return base.With(attrs...)
}
