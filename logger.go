package mmvar

import (
	"context"
	"errors"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with mmvar-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithPath adds the variable file path to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// WithName adds a variable name field to the logger.
func (l *Logger) WithName(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("name", name),
	}
}

// WithHandle adds the slot and generation of a handle to the logger.
func (l *Logger) WithHandle(h Handle) *Logger {
	return &Logger{
		Logger: l.Logger.With("slot", h.slot, "gen", h.gen),
	}
}

// result logs a completed operation: Debug on success, Error for
// corruption, Warn for every other failure.
func (l *Logger) result(ctx context.Context, msg string, err error, attrs ...any) {
	switch {
	case err == nil:
		l.DebugContext(ctx, msg+" completed", attrs...)
	case isCorruption(err):
		l.ErrorContext(ctx, msg+" failed", append(attrs, "error", err)...)
	default:
		l.WarnContext(ctx, msg+" failed", append(attrs, "error", err)...)
	}
}

// LogOpen logs opening a variable file.
func (l *Logger) LogOpen(ctx context.Context, path string, created bool, mappedSize uint64, err error) {
	if err != nil {
		l.result(ctx, "open", err, "path", path)
		return
	}
	l.InfoContext(ctx, "store opened",
		"path", path,
		"created", created,
		"mapped_size", mappedSize,
	)
}

// LogDefine logs a define operation.
func (l *Logger) LogDefine(ctx context.Context, name string, typ Type, size int, err error) {
	l.result(ctx, "define", err, "name", name, "type", typ, "size", size)
}

// LogWrite logs a write operation.
func (l *Logger) LogWrite(ctx context.Context, h Handle, size int, err error) {
	l.result(ctx, "write", err, "slot", h.slot, "type", h.typ, "size", size)
}

// LogRemove logs a remove operation.
func (l *Logger) LogRemove(ctx context.Context, h Handle, err error) {
	l.result(ctx, "remove", err, "slot", h.slot)
}

// LogFree logs the release of a variable's storage.
func (l *Logger) LogFree(ctx context.Context, h Handle, err error) {
	l.result(ctx, "free", err, "slot", h.slot)
}

// LogGrow logs growth of the mapping.
func (l *Logger) LogGrow(ctx context.Context, oldSize, newSize uint64) {
	l.InfoContext(ctx, "mapping grown",
		"old_size", oldSize,
		"new_size", newSize,
	)
}

// LogCorruption logs the error that made a store unusable.
func (l *Logger) LogCorruption(ctx context.Context, err error) {
	attrs := []any{"error", err}
	var ce *CorruptionError
	if errors.As(err, &ce) {
		attrs = append(attrs, "offset", ce.Offset, "reason", ce.Reason)
	}
	l.ErrorContext(ctx, "store marked broken", attrs...)
}

// LogReclaim logs a reclaim pass.
func (l *Logger) LogReclaim(ctx context.Context, chunks int, err error) {
	if err != nil {
		l.result(ctx, "reclaim", err)
		return
	}
	if chunks > 0 {
		l.WarnContext(ctx, "reclaimed unreferenced chunks", "chunks", chunks)
		return
	}
	l.DebugContext(ctx, "reclaim found no unreferenced chunks")
}

// LogSnapshot logs a snapshot export.
func (l *Logger) LogSnapshot(ctx context.Context, name string, info SnapshotInfo, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"snapshot", name,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "snapshot saved",
		"snapshot", name,
		"compression", info.Compression,
		"raw_size", info.RawSize,
		"stored_size", info.StoredSize,
		"duration", info.Duration,
	)
}

// LogRestore logs a snapshot restore.
func (l *Logger) LogRestore(ctx context.Context, name, path string, info SnapshotInfo, err error) {
	if err != nil {
		l.ErrorContext(ctx, "restore failed",
			"snapshot", name,
			"path", path,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "snapshot restored",
		"snapshot", name,
		"path", path,
		"raw_size", info.RawSize,
		"duration", info.Duration,
	)
}
