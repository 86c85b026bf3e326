package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/scheduler"
	"github.com/prasantk47/governexplus-sub004/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestMuxRoutesRegisteredKinds(t *testing.T) {
	reg := scheduler.NewRegistry()
	var got []string
	reg.Register(scheduler.KindSessionExpire, func(_ context.Context, id string) error {
		got = append(got, "expire:"+id)
		return nil
	})
	reg.Register(scheduler.KindReviewSLA, func(_ context.Context, id string) error {
		got = append(got, "sla:"+id)
		return nil
	})
	mux := NewMux(reg, zaptest.NewLogger(t))

	for _, tc := range []struct{ kind, subject string }{
		{tasks.TypeSessionExpire, "FFS-1"},
		{tasks.TypeReviewSLA, "FFV-1"},
	} {
		payload, err := json.Marshal(tasks.TimerPayload{SubjectID: tc.subject, RunAt: time.Now()})
		require.NoError(t, err)
		require.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask(tc.kind, payload)))
	}
	require.Equal(t, []string{"expire:FFS-1", "sla:FFV-1"}, got)

	// 未注册的类型由 ServeMux 返回错误
	payload, err := json.Marshal(tasks.TimerPayload{SubjectID: "live-monitor"})
	require.NoError(t, err)
	require.Error(t, mux.ProcessTask(context.Background(), asynq.NewTask(tasks.TypeMonitorSweep, payload)))
}

func TestFailureLoggerSeparatesExhaustedRetries(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := failureLogger(zap.New(core))

	payload, err := json.Marshal(tasks.TimerPayload{SubjectID: "FFS-9"})
	require.NoError(t, err)
	task := asynq.NewTask(tasks.TypeSessionExpire, payload)

	// 测试上下文中没有重试元数据，计数均为 0，视为重试耗尽
	handler.HandleError(context.Background(), task, errors.New("db down"))
	entries := logs.FilterMessage("定时任务重试耗尽").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "FFS-9", entries[0].ContextMap()["subject_id"])
}
