package config

import (
	"os"

	"github.com/mpapenbr/racestart-manager-go/log"
)

func parseLogLevel(l string, defaultVal log.Level) log.Level {
	level, err := log.ParseLevel(l)
	if err != nil {
		return defaultVal
	}
	return level
}

// NewLogger creates a logger according to LogFormat, the given level and LogFilter.
func NewLogger(level string) *log.Logger {
	opts := []log.Option{log.WithCaller(true), log.AddCallerSkip(1)}
	if LogFilter != "" {
		opts = append(opts, log.WithFilter(LogFilter))
	}
	if LogFormat == "json" {
		return log.New(os.Stderr, parseLogLevel(level, log.InfoLevel), opts...)
	}
	return log.DevLogger(os.Stderr, parseLogLevel(level, log.DebugLevel), opts...)
}

// SetupLogger creates the application logger and installs it as default.
func SetupLogger() *log.Logger {
	logger := NewLogger(LogLevel)
	log.ResetDefault(logger)
	return logger
}
