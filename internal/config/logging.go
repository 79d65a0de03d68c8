package config

import (
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
)

// NewLogger builds an slog.Logger from a LoggingConfig, following the
// teacher's buildLogger: text handler on a terminal, JSON handler
// otherwise or when explicitly configured, writing to stderr so stdout
// stays free for future scripting/JSON-RPC use.
func NewLogger(cfg LoggingConfig) *slog.Logger {
	level := slog.LevelInfo

	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	format := cfg.Format
	if format == "" {
		if isatty.IsTerminal(os.Stderr.Fd()) {
			format = "text"
		} else {
			format = "json"
		}
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
