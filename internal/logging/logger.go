// Package logging wraps the standard library slog with environment-aware
// configuration and the structured fields the correlation engine logs with.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Environment represents the deployment environment.
type Environment string

// Valid deployment environments.
const (
	Development Environment = "development"
	Production  Environment = "production"
	Test        Environment = "test"
)

// String returns the string representation of the environment.
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is one of the defined valid environments.
func (e Environment) IsValid() bool {
	switch e {
	case Development, Production, Test:
		return true
	default:
		return false
	}
}

// Config holds the configuration for the logger.
type Config struct {
	Environment Environment `json:"environment"`
	Level       slog.Level  `json:"level"`
	Output      io.Writer   `json:"-"`
	AddSource   bool        `json:"add_source"`
}

// Logger wraps slog.Logger with the field helpers used across the engine.
type Logger struct {
	*slog.Logger
	config Config
}

// DefaultConfig returns a default configuration based on the environment.
func DefaultConfig(env Environment) Config {
	config := Config{
		Environment: env,
		Level:       slog.LevelInfo,
		Output:      os.Stdout,
		AddSource:   false,
	}

	switch env {
	case Development:
		config.Level = slog.LevelDebug
		config.AddSource = true
	case Production:
		config.Level = slog.LevelInfo
		config.AddSource = false
	case Test:
		config.Level = slog.LevelWarn
		config.AddSource = false
	}

	return config
}

// NewLogger creates a structured logger with the given configuration.
//
// Development gets text output at debug level with source locations;
// production and test get JSON output for machine parsing, with test
// raised to warn level to keep suite output quiet.
func NewLogger(config Config) (*Logger, error) {
	if !config.Environment.IsValid() {
		return nil, fmt.Errorf("invalid environment: %s", config.Environment)
	}

	if config.Output == nil {
		config.Output = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     config.Level,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	switch config.Environment {
	case Development:
		handler = slog.NewTextHandler(config.Output, handlerOpts)
	case Production, Test:
		handler = slog.NewJSONHandler(config.Output, handlerOpts)
	}

	return &Logger{
		Logger: slog.New(handler),
		config: config,
	}, nil
}

// NewFromEnvironment creates a logger from environment variables.
//
//   - QUELL_ENV: deployment environment (development, production, test)
//   - QUELL_LOG_LEVEL: log level (debug, info, warn, error)
//   - QUELL_LOG_ADD_SOURCE: include source locations (true, false)
//
// Unset variables fall back to the development defaults.
func NewFromEnvironment() (*Logger, error) {
	env := Development
	if envVar := os.Getenv("QUELL_ENV"); envVar != "" {
		env = Environment(strings.ToLower(envVar))
	}

	config := DefaultConfig(env)

	if levelVar := os.Getenv("QUELL_LOG_LEVEL"); levelVar != "" {
		level, err := parseLogLevel(levelVar)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		config.Level = level
	}

	if sourceVar := os.Getenv("QUELL_LOG_ADD_SOURCE"); sourceVar != "" {
		config.AddSource = strings.ToLower(sourceVar) == "true"
	}

	return NewLogger(config)
}

// parseLogLevel converts a string to slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", level)
	}
}

// WithFields returns a new logger carrying additional structured fields.
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
		config: l.config,
	}
}

// WithGroupID returns a new logger with a group ID field. Correlation
// decisions are audited by group, so every group mutation logs through
// this.
func (l *Logger) WithGroupID(groupID string) *Logger {
	return l.WithFields("group_id", groupID)
}

// WithAlertID returns a new logger with an alert ID field.
func (l *Logger) WithAlertID(alertID string) *Logger {
	return l.WithFields("alert_id", alertID)
}

// WithError returns a new logger with an error field.
func (l *Logger) WithError(err error) *Logger {
	return l.WithFields("error", err.Error())
}

// WithDuration returns a new logger with a duration field in milliseconds.
func (l *Logger) WithDuration(duration time.Duration) *Logger {
	return l.WithFields("duration_ms", duration.Milliseconds())
}

// GetConfig returns the logger's configuration.
func (l *Logger) GetConfig() Config {
	return l.config
}
