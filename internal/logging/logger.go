package logging

import (
	"log/slog"
	"strings"

	"github.com/sirupsen/logrus"
)

// NewServiceLogger builds the process-wide logrus logger the services
// layer runs on. Development keeps the human-readable text format;
// every other environment emits JSON for log ingestion.
func NewServiceLogger(level, environment string) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(ParseLevel(level))
	if strings.EqualFold(environment, "development") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

// ParseLevel maps a configured level string onto logrus. Empty or
// unknown strings fall back to info so a config typo never silences
// the process.
func ParseLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}

// slogLevel maps the same level strings onto slog for the OTLP log
// pipeline, which runs on slog instead of logrus.
func slogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
