package util

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger builds a JSON logger at the named level ("error", "warn", "info"
// or "debug"; anything else means info). Pass it to amt.UseLogger, or install
// it with slog.SetDefault to cover the block stores too.
func NewLogger(level string, writer io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "error":
		lvl = slog.LevelError
	case "warn":
		lvl = slog.LevelWarn
	case "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: lvl,
	}))
}
