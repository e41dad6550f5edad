package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultLogFile is where Init writes. The REPL owns stdout, so logs go to a file.
const DefaultLogFile = "polychat.log"

// Init initializes the file logger, writing to polychat.log in the current directory.
// It should be called once at application startup.
// Log level can be configured via LOG_LEVEL environment variable (debug, info, warn, error).
func Init() (zerolog.Logger, error) {
	return InitWithOptions(DefaultLogFile, false)
}

// InitWithOptions initializes the logger with the specified options.
// If logFile is empty, logs to stderr.
// If pretty is true, uses ConsoleWriter for human-readable output (only valid when logFile is empty).
func InitWithOptions(logFile string, pretty bool) (zerolog.Logger, error) {
	level := parseLogLevel(os.Getenv("LOG_LEVEL"))

	var log zerolog.Logger
	switch {
	case logFile != "":
		//nolint:gosec // G304: User-specified log file path is intentional
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		log = New(file, level)
		log.Info().Str("path", logFile).Str("level", level.String()).Msg("Logger initialized")
	case pretty:
		log = New(zerolog.ConsoleWriter{Out: os.Stderr}, level)
		log.Info().Str("output", "stderr").Str("format", "pretty").Str("level", level.String()).Msg("Logger initialized")
	default:
		log = New(os.Stderr, level)
		log.Info().Str("output", "stderr").Str("level", level.String()).Msg("Logger initialized")
	}

	return log, nil
}

// New creates a timestamped JSON logger writing to w.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}
