// Package logging provides structured logging configuration using
// zerolog. Every component takes its logger by value so callers decide
// output, level, and context fields.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache operations (hit/miss, key, TTL)
//   - Individual provider calls and retry delays
//   - Limiter admissions and waits
//
// Info: Normal operation events
//   - Batch fetch summaries
//   - Circuit recovery (half-open probe succeeded)
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts on transient provider errors
//   - Cache unavailability (degraded to live fetch)
//   - Rate-limited rejections in non-blocking mode
//
// Error: Error conditions requiring attention
//   - Fetches that exhausted retries
//   - Circuit opened (provider considered down)
//   - Configuration errors
//
// Context Fields:
//   - key: Request identity (symbol, granularity, range)
//   - symbol: Ticker symbol
//   - error_kind: Error taxonomy value (transient, fatal, rate_limited, ...)
//   - attempt: Retry attempt number
//   - state: Circuit state after a transition
//   - duration: Fetch or batch duration
//   - ttl: Cache entry TTL
