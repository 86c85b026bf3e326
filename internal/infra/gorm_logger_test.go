package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	gormLogger "gorm.io/gorm/logger"
)

func TestSQLLogLevel(t *testing.T) {
	assert.Equal(t, gormLogger.Info, sqlLogLevel("DEBUG"))
	assert.Equal(t, gormLogger.Warn, sqlLogLevel("info"))
	assert.Equal(t, gormLogger.Error, sqlLogLevel("error"))
	assert.Equal(t, gormLogger.Silent, sqlLogLevel("off"))
}

func TestSQLLoggerTrace(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := newSQLLogger(zap.New(core), "info", 50*time.Millisecond)
	sql := func() (string, int64) { return "SELECT 1", 1 }
	ctx := context.Background()

	l.Trace(ctx, time.Now(), sql, nil)
	assert.Zero(t, logs.Len())

	l.Trace(ctx, time.Now(), sql, gormLogger.ErrRecordNotFound)
	assert.Zero(t, logs.Len())

	l.Trace(ctx, time.Now().Add(-time.Second), sql, nil)
	assert.Equal(t, 1, logs.FilterMessage("慢查询").Len())

	l.Trace(ctx, time.Now(), sql, errors.New("boom"))
	assert.Equal(t, 1, logs.FilterMessage("SQL 执行失败").Len())

	verbose := l.LogMode(gormLogger.Info)
	verbose.Trace(ctx, time.Now(), sql, nil)
	assert.Equal(t, 1, logs.FilterMessage("SQL").Len())
}
