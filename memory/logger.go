package memory

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with memvec operation helpers.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger; a nil handler logs text at Info to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewFormatLogger creates a Logger writing format ("text" or "json") to w.
func NewFormatLogger(w io.Writer, format string, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return &Logger{Logger: slog.New(slog.NewJSONHandler(w, opts))}
	}
	return &Logger{Logger: slog.New(slog.NewTextHandler(w, opts))}
}

// NoopLogger discards everything.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(1000)}))}
}

// WithBackend tags every entry with the backend name.
func (l *Logger) WithBackend(name string) *Logger {
	return &Logger{Logger: l.Logger.With("backend", name)}
}

func (l *Logger) LogOpen(ctx context.Context, model string, dimension, indexed int, took time.Duration) {
	l.InfoContext(ctx, "memory store opened",
		"model", model,
		"dimension", dimension,
		"indexed", indexed,
		"took", took,
	)
}

func (l *Logger) LogStore(ctx context.Context, id string, duplicate bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "store failed", "error", err)
		return
	}
	l.DebugContext(ctx, "store completed", "id", id, "duplicate", duplicate)
}

func (l *Logger) LogSearch(ctx context.Context, k, candidates, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed", "k", k, "error", err)
		return
	}
	l.DebugContext(ctx, "search completed",
		"k", k,
		"candidates", candidates,
		"results", results,
	)
}

func (l *Logger) LogUpdate(ctx context.Context, id string, err error) {
	if err != nil {
		l.WarnContext(ctx, "update failed", "id", id, "error", err)
		return
	}
	l.DebugContext(ctx, "update completed", "id", id)
}

func (l *Logger) LogDelete(ctx context.Context, id string, changed bool, err error) {
	if err != nil {
		l.WarnContext(ctx, "delete failed", "id", id, "error", err)
		return
	}
	l.DebugContext(ctx, "delete completed", "id", id, "changed", changed)
}

func (l *Logger) LogRestore(ctx context.Context, id string, changed bool, err error) {
	if err != nil {
		l.WarnContext(ctx, "restore failed", "id", id, "error", err)
		return
	}
	l.DebugContext(ctx, "restore completed", "id", id, "changed", changed)
}

func (l *Logger) LogCompact(ctx context.Context, removed int, pruned int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "compact failed", "error", err)
		return
	}
	l.InfoContext(ctx, "compact completed", "removed", removed, "log_pruned", pruned)
}

// LogRetry records a transient read failure about to be retried.
func (l *Logger) LogRetry(ctx context.Context, op string, err error) {
	l.WarnContext(ctx, "retrying read after transient error", "op", op, "error", err)
}

func (l *Logger) LogReindex(ctx context.Context, indexed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "reindex failed", "error", err)
		return
	}
	l.InfoContext(ctx, "reindex completed", "indexed", indexed)
}
