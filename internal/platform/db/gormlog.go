package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// slowQueryThreshold marks traced statements worth a warning.
const slowQueryThreshold = 200 * time.Millisecond

// gormLogger routes gorm's statement log into slog. Record-not-found is a
// normal lookup outcome and is never logged as an error.
type gormLogger struct {
	logger *slog.Logger
	level  gormlogger.LogLevel
	slow   time.Duration
}

func newGormLogger(logger *slog.Logger) *gormLogger {
	return &gormLogger{logger: logger, level: gormlogger.Warn, slow: slowQueryThreshold}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.level = level
	return &next
}

func (l *gormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		l.logger.InfoContext(ctx, fmt.Sprintf(msg, args...), l.attrs("gorm_info")...)
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.logger.WarnContext(ctx, fmt.Sprintf(msg, args...), l.attrs("gorm_warn")...)
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		l.logger.ErrorContext(ctx, fmt.Sprintf(msg, args...), l.attrs("gorm_error")...)
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		sql, rows := fc()
		l.logger.ErrorContext(ctx, "gorm query failed",
			append(l.attrs("gorm_query_failed"), "sql", sql, "rows", rows, "elapsed_ms", elapsed.Milliseconds(), "error", err)...)
	case l.slow > 0 && elapsed > l.slow && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.logger.WarnContext(ctx, "gorm slow query",
			append(l.attrs("gorm_slow_query"), "sql", sql, "rows", rows, "elapsed_ms", elapsed.Milliseconds())...)
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.logger.DebugContext(ctx, "gorm query",
			append(l.attrs("gorm_query"), "sql", sql, "rows", rows, "elapsed_ms", elapsed.Milliseconds())...)
	}
}

func (l *gormLogger) attrs(event string) []any {
	return []any{"event", event, "module", "internal/platform/db", "layer", "platform"}
}
