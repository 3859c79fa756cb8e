// Package logging sets up the agent's structured logger.
//
// Logs are JSON lines written through lumberjack for rotation. When
// running attached to a terminal, logs are tee'd to stderr as well.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	// FilePath is where rotated JSON log lines are written. Empty
	// disables the file sink (stderr only).
	FilePath string
	// Interactive tees logs to stderr in addition to FilePath. Set
	// this when the process has a controlling terminal.
	Interactive bool
	// Level is the minimum level to emit.
	Level slog.Level
}

// New builds a *slog.Logger per Options. The returned closer must be
// called on shutdown to flush and release the rotated log file.
func New(opts Options) (*slog.Logger, func() error) {
	var writers []io.Writer
	var closer func() error = func() error { return nil }

	if opts.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		writers = append(writers, lj)
		closer = lj.Close
	}
	if opts.Interactive || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	var out io.Writer
	switch len(writers) {
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: opts.Level})
	return slog.New(handler), closer
}

type ctxKey struct{}

// Into returns a context carrying logger, retrievable with From.
func Into(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// From returns the logger stashed in ctx by Into, or slog.Default() if
// none was stashed.
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
