package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/logger"
	"github.com/prasantk47/governexplus-sub004/internal/metrics"

	"go.uber.org/zap"
	gormLogger "gorm.io/gorm/logger"
)

// sqlLogger 把 GORM 日志转到 zap，并统计慢查询和失败的 SQL
type sqlLogger struct {
	log   *zap.Logger
	level gormLogger.LogLevel
	slow  time.Duration
}

// newSQLLogger 按应用日志级别决定 SQL 日志详细程度
func newSQLLogger(log *zap.Logger, appLevel string, slow time.Duration) *sqlLogger {
	return &sqlLogger{log: log, level: sqlLogLevel(appLevel), slow: slow}
}

func sqlLogLevel(appLevel string) gormLogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(appLevel)) {
	case "debug":
		return gormLogger.Info
	case "error":
		return gormLogger.Error
	case "silent", "off":
		return gormLogger.Silent
	default:
		return gormLogger.Warn
	}
}

func (l *sqlLogger) LogMode(level gormLogger.LogLevel) gormLogger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *sqlLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormLogger.Info {
		logger.WithContext(ctx, l.log).Info(fmt.Sprintf(msg, data...))
	}
}

func (l *sqlLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormLogger.Warn {
		logger.WithContext(ctx, l.log).Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *sqlLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormLogger.Error {
		logger.WithContext(ctx, l.log).Error(fmt.Sprintf(msg, data...))
	}
}

// Trace 记录每条 SQL；记录不存在属于正常的查询结果，不计为失败
func (l *sqlLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gormLogger.ErrRecordNotFound)
	slow := l.slow > 0 && elapsed > l.slow

	switch {
	case failed:
		metrics.DBQueries.WithLabelValues("error").Inc()
	case slow:
		metrics.DBQueries.WithLabelValues("slow").Inc()
	default:
		metrics.DBQueries.WithLabelValues("ok").Inc()
	}

	if l.level <= gormLogger.Silent {
		return
	}

	sql, rows := fc()
	log := logger.WithContext(ctx, l.log).With(
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", sql),
	)
	switch {
	case failed && l.level >= gormLogger.Error:
		log.Error("SQL 执行失败", zap.Error(err))
	case slow && l.level >= gormLogger.Warn:
		log.Warn("慢查询")
	case l.level >= gormLogger.Info:
		log.Debug("SQL")
	}
}
