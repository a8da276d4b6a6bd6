package logging

import (
	"log/slog"
	"os"
)

/**
 * Represents a log format.
 */
type LogFormat int

/**
 * Supported log formats.
 */
const (
	LogText LogFormat = iota
	LogJSON
)

/**
 * Logger options.
 */
type LoggerOpts struct {
	LogLevel  slog.Level
	LogFormat LogFormat
}

/**
 * The global logger instance.
 */
var Log *slog.Logger

/**
 * Creates a global structured logger, reused across calls.
 * @param opts the logger options.
 * @return the created logger instance.
 */
func CreateLogger(opts *LoggerOpts) *slog.Logger {
	var logHandler slog.Handler

	if Log != nil {
		return Log
	}

	handlerOpts := &slog.HandlerOptions{
		Level: opts.LogLevel,
	}

	// Choose the log format.
	if opts.LogFormat == LogText {
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	} else {
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	}

	// Create a new structured logger.
	logger := slog.New(logHandler)

	// Add context fields.
	Log = logger.With(
		slog.Int("pid", os.Getpid()),
	)

	// Set as the default logger.
	slog.SetDefault(Log)

	return Log
}

/**
 * ParseLogLevel parses a log level from a string.
 */
func ParseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelError, &unknownLogSetting{kind: "log level", value: s}
	}
}

/**
 * ParseLogFormat parses a log format from a string.
 */
func ParseLogFormat(s string) (LogFormat, error) {
	switch s {
	case "text":
		return LogText, nil
	case "json":
		return LogJSON, nil
	default:
		return LogText, &unknownLogSetting{kind: "log format", value: s}
	}
}

type unknownLogSetting struct {
	kind  string
	value string
}

func (e *unknownLogSetting) Error() string {
	return "unknown " + e.kind + ": " + e.value
}
