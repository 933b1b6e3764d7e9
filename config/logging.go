package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/davidmey/tern/errors"
)

// LevelTrace sits below slog.LevelDebug and is reserved for wire-level
// payload logging (full request/response bodies). The value -8 follows the
// convention other Go projects use when extending slog downward.
const LevelTrace = slog.Level(-8)

// ParseLogLevel converts a case-insensitive string to an slog.Level.
// An empty string means Info.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.New("unknown log level %q (valid: trace, debug, info, warn, error)", s)
	}
}

// NewLogger builds the process logger. Output goes to stderr: stdout belongs
// to the conversation.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	}))
}

// replaceLevelNames renders LevelTrace as "TRACE" instead of slog's
// default "DEBUG-4".
func replaceLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}
