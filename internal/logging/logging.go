// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options control where logs go.
type Options struct {
	// Verbose is the -v count: 0 is info, 1 and above is debug.
	Verbose int
	// File, when set, receives a copy of every record and is rotated.
	File string
	// Stderr overrides os.Stderr, for tests.
	Stderr io.Writer
}

// Level maps a verbose count to a slog level.
func Level(verbose int) slog.Level {
	if verbose >= 1 {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// Setup installs the default logger and returns a closer for the log file.
func Setup(opts Options) io.Closer {
	logger, closer := New(opts)
	slog.SetDefault(logger)
	return closer
}

// New builds a text logger writing to stderr and, optionally, a rotating
// file.
func New(opts Options) (*slog.Logger, io.Closer) {
	var out io.Writer = os.Stderr
	if opts.Stderr != nil {
		out = opts.Stderr
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
		out = io.MultiWriter(out, file)
		closer = file
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: Level(opts.Verbose),
	})
	return slog.New(handler), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
