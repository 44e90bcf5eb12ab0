package logging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SlowQueryThreshold is the duration above which queries are logged at warn.
const SlowQueryThreshold = 500 * time.Millisecond

// GormLogger routes GORM logs through slog.
type GormLogger struct {
	logger   *slog.Logger
	LogLevel gormlogger.LogLevel
}

// NewGormLogger creates a GORM logger writing to l (slog.Default when nil).
func NewGormLogger(l *slog.Logger) *GormLogger {
	if l == nil {
		l = slog.Default()
	}
	return &GormLogger{logger: l, LogLevel: gormlogger.Warn}
}

// LogMode implements gormlogger.Interface.
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.LogLevel = level
	return &clone
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Info {
		l.logger.InfoContext(ctx, msg, slog.Any("data", data))
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Warn {
		l.logger.WarnContext(ctx, msg, slog.Any("data", data))
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Error {
		l.logger.ErrorContext(ctx, msg, slog.Any("data", data))
	}
}

// Trace logs a finished SQL statement.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	attrs := []any{
		slog.String("sql", sql),
		slog.Int64("rows", rows),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.LogLevel >= gormlogger.Error:
		l.logger.ErrorContext(ctx, "sql failed", append(attrs, slog.String("error", err.Error()))...)
	case elapsed > SlowQueryThreshold && l.LogLevel >= gormlogger.Warn:
		l.logger.WarnContext(ctx, "slow sql", attrs...)
	case l.LogLevel >= gormlogger.Info:
		l.logger.DebugContext(ctx, "sql", attrs...)
	}
}
