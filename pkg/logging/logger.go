// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-superkey.
//
// go-superkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package logging provides the structured logger shared by the key custodian,
// the credential envelope and the key stores.
package logging

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	glogger "github.com/google/logger"
)

// Format selects the slog handler used for output.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config controls logger construction.
type Config struct {
	// Debug enables debug level output
	Debug bool

	// Format is text (default) or json
	Format Format

	// Output defaults to os.Stderr
	Output io.Writer

	// SystemLog mirrors warnings and errors to the system log
	// (syslog on unix, the event log on windows).
	SystemLog bool

	// Name is the system log identifier. Defaults to "superkey".
	Name string
}

// Logger provides logging functionality for key custody and envelope operations
type Logger struct {
	logger *slog.Logger
	syslog *glogger.Logger
	debug  bool
}

// NewLogger creates a new text logger writing to stderr
func NewLogger(debug bool) *Logger {
	return New(&Config{Debug: debug})
}

// New creates a logger from the given configuration. A nil config
// yields the default logger.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = &Config{}
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == FormatJSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	l := &Logger{
		logger: slog.New(handler),
		debug:  cfg.Debug,
	}
	if cfg.SystemLog {
		name := cfg.Name
		if name == "" {
			name = "superkey"
		}
		l.syslog = glogger.Init(name, cfg.Debug, true, io.Discard)
	}
	return l
}

// ParseFormat maps a configuration string to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", string(FormatText):
		return FormatText, nil
	case string(FormatJSON):
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("logging: unknown format %q", s)
	}
}

// With returns a logger that adds the given attributes to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		logger: l.logger.With(args...),
		syslog: l.syslog,
		debug:  l.debug,
	}
}

// Info logs an informational message
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

// Infof logs a formatted informational message
func (l *Logger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...any) {
	if l.debug {
		l.logger.Debug(msg, args...)
	}
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...any) {
	if l.debug {
		l.logger.Debug(fmt.Sprintf(format, args...))
	}
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
	if l.syslog != nil {
		l.syslog.Warning(msg)
	}
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...any) {
	l.Warn(fmt.Sprintf(format, args...))
}

// Error logs an error
func (l *Logger) Error(err error, args ...any) {
	l.logger.Error(err.Error(), args...)
	if l.syslog != nil {
		l.syslog.Error(err.Error())
	}
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.logger.Error(msg)
	if l.syslog != nil {
		l.syslog.Error(msg)
	}
}

// FatalError logs a fatal error and exits
func (l *Logger) FatalError(err error) {
	log.Fatal(err)
}

// MaybeError logs an error if it's not nil
func (l *Logger) MaybeError(err error) {
	if err != nil {
		l.Error(err)
	}
}

// Close releases the system log handle, if any.
func (l *Logger) Close() {
	if l.syslog != nil {
		l.syslog.Close()
	}
}

// DefaultLogger returns a default logger instance with debug=false
func DefaultLogger() *Logger {
	return NewLogger(false)
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return New(&Config{Output: io.Discard})
}
