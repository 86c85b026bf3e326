package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prasantk47/governexplus-sub004/internal/metrics"
	"github.com/prasantk47/governexplus-sub004/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Dispatcher 按任务类型执行定时任务，由 scheduler.Registry 实现
type Dispatcher interface {
	Dispatch(ctx context.Context, kind, subjectID string) error
}

type TimerHandler struct {
	dispatcher Dispatcher
	logger     *zap.Logger
}

func NewTimerHandler(dispatcher Dispatcher, logger *zap.Logger) *TimerHandler {
	return &TimerHandler{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// HandleTimer 解析载荷后交给注册的处理函数；处理函数自行复查状态，重复投递是安全的
func (h *TimerHandler) HandleTimer(ctx context.Context, t *asynq.Task) error {
	var p tasks.TimerPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		metrics.TimerFirings.WithLabelValues(t.Type(), "invalid").Inc()
		return fmt.Errorf("json unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if p.SubjectID == "" {
		metrics.TimerFirings.WithLabelValues(t.Type(), "invalid").Inc()
		return fmt.Errorf("missing subject id: %w", asynq.SkipRetry)
	}

	h.logger.Debug("执行定时任务",
		zap.String("type", t.Type()),
		zap.String("subject_id", p.SubjectID),
		zap.Time("run_at", p.RunAt),
	)

	if err := h.dispatcher.Dispatch(ctx, t.Type(), p.SubjectID); err != nil {
		metrics.TimerFirings.WithLabelValues(t.Type(), "error").Inc()
		h.logger.Error("定时任务执行失败",
			zap.String("type", t.Type()),
			zap.String("subject_id", p.SubjectID),
			zap.Error(err),
		)
		return err
	}
	metrics.TimerFirings.WithLabelValues(t.Type(), "ok").Inc()
	return nil
}
