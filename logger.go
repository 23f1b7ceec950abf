package olapgo

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with storage-engine specific helpers, keeping
// field names consistent across the tablet's operations.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. A nil handler falls
// back to a text handler on stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger emitting JSON records at the given level.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger emitting human-readable text at the given
// level.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // unreachable level
	}))}
}

// WithTablet tags the logger with a tablet id.
func (l *Logger) WithTablet(id uint64) *Logger {
	return &Logger{Logger: l.Logger.With("tablet_id", id)}
}

// LogPublish logs a rowset publication.
func (l *Logger) LogPublish(ctx context.Context, rowsetID uint64, version string, rows uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "publish failed",
			"rowset_id", rowsetID,
			"version", version,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "rowset published",
			"rowset_id", rowsetID,
			"version", version,
			"rows", rows,
		)
	}
}

// LogCompaction logs a compaction cycle.
func (l *Logger) LogCompaction(ctx context.Context, inputs int, version string, rows uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "compaction failed",
			"inputs", inputs,
			"version", version,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "compaction completed",
			"inputs", inputs,
			"version", version,
			"rows", rows,
		)
	}
}

// LogRemove logs a rowset removal.
func (l *Logger) LogRemove(ctx context.Context, rowsetID uint64, err error) {
	if err != nil {
		l.WarnContext(ctx, "rowset removal incomplete",
			"rowset_id", rowsetID,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "rowset removed",
			"rowset_id", rowsetID,
		)
	}
}

// LogBackup logs a backup or restore transfer.
func (l *Logger) LogBackup(ctx context.Context, op string, files int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "backup transfer failed",
			"op", op,
			"files", files,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "backup transfer completed",
			"op", op,
			"files", files,
		)
	}
}
