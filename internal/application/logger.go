package application

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"thirdcoast.systems/certify/internal/config"
)

// InitLogger installs the process-wide slog handler.
func InitLogger(conf config.Config) *slog.Logger {
	logger := newLogger(os.Stderr, conf.LogFormat, conf.LogLevel)
	slog.SetDefault(logger)
	return logger
}

func newLogger(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
