package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/infra/queue"
	"github.com/prasantk47/governexplus-sub004/internal/logger"

	"go.uber.org/zap"
)

// Queue 基于 asynq 的持久化调度器，进程重启后定时任务不丢失
//
// 取消依赖本进程记录的任务 ID；重启后遗留的旧任务仍会触发，由处理函数的状态复查兜底。
type Queue struct {
	client queue.Client
	logger *zap.Logger

	mu  sync.Mutex
	ids map[string]string
}

// NewQueue 创建持久化调度器
func NewQueue(client queue.Client, l *zap.Logger) *Queue {
	if l == nil {
		l = logger.Get()
	}
	return &Queue{client: client, logger: l, ids: make(map[string]string)}
}

// Schedule 入队定时任务并撤销同键旧任务
func (q *Queue) Schedule(ctx context.Context, kind, subjectID string, runAt time.Time) error {
	id, err := q.client.EnqueueTimer(ctx, kind, subjectID, runAt)
	if err != nil {
		return err
	}

	key := timerKey(kind, subjectID)
	q.mu.Lock()
	prev := q.ids[key]
	q.ids[key] = id
	q.mu.Unlock()

	if prev != "" && prev != id {
		if err := q.client.CancelTimer(ctx, kind, prev); err != nil {
			q.logger.Warn("撤销旧定时任务失败", zap.String("task_id", prev), zap.Error(err))
		}
	}
	return nil
}

// Cancel 撤销任务
func (q *Queue) Cancel(ctx context.Context, kind, subjectID string) {
	key := timerKey(kind, subjectID)
	q.mu.Lock()
	id := q.ids[key]
	delete(q.ids, key)
	q.mu.Unlock()

	if id == "" {
		return
	}
	if err := q.client.CancelTimer(ctx, kind, id); err != nil {
		q.logger.Warn("撤销定时任务失败", zap.String("task_id", id), zap.Error(err))
	}
}
