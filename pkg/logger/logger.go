// Package logger holds the process-wide zerolog logger used by every editorbridge component.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Log is the global logger instance
var Log zerolog.Logger

func init() {
	// Default to JSON output for production
	Log = zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()

	// Pretty print for development if requested
	if os.Getenv("APP_ENV") != "production" {
		Log = Log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// Options tunes the global logger after start-up.
type Options struct {
	// Level is a zerolog level name ("trace", "debug", "info", ...). Empty keeps the current level.
	Level string

	// File, when set, receives a JSON copy of every entry. Parent directories are created.
	File string
}

// Configure applies opts to the global logger. The returned closer releases the log file, if any.
func Configure(opts Options) (io.Closer, error) {
	if opts.Level != "" {
		level, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		Log = Log.Level(level)
	}
	if opts.File == "" {
		return nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	var console io.Writer = os.Stdout
	if os.Getenv("APP_ENV") != "production" {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	Log = Log.Output(zerolog.MultiLevelWriter(console, f))
	return f, nil
}

// Component returns a child of the global logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return Log.With().Str("component", name).Logger()
}

// GetLogger returns the global logger instance
func GetLogger() zerolog.Logger {
	return Log
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
