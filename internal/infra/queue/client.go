package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// 定时任务按紧急程度分队列
const (
	QueueCritical = "critical"
	QueueHigh     = "high"
	QueueDefault  = "default"
)

// Client 定时任务队列客户端接口
type Client interface {
	EnqueueTimer(ctx context.Context, kind, subjectID string, runAt time.Time) (string, error)
	CancelTimer(ctx context.Context, kind, taskID string) error
	Stats(ctx context.Context) (map[string]*QueueStats, error)
	Close() error
}

// QueueStats 队列统计
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Scheduled int    `json:"scheduled"`
	Active    int    `json:"active"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

type asynqClient struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewClient 创建定时任务客户端
func NewClient(opt asynq.RedisConnOpt) Client {
	return &asynqClient{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
	}
}

// TaskID 同一主体同一触发时间只入队一次
func TaskID(kind, subjectID string, runAt time.Time) string {
	return fmt.Sprintf("%s:%s:%d", kind, subjectID, runAt.UnixNano())
}

// QueueFor 任务类型对应的队列
func QueueFor(kind string) string {
	switch kind {
	case tasks.TypeSessionExpire:
		return QueueCritical
	case tasks.TypeReviewSLA:
		return QueueHigh
	default:
		return QueueDefault
	}
}

// ServerQueues worker 侧队列权重
func ServerQueues() map[string]int {
	return map[string]int{
		QueueCritical: 6,
		QueueHigh:     3,
		QueueDefault:  1,
	}
}

func (c *asynqClient) EnqueueTimer(ctx context.Context, kind, subjectID string, runAt time.Time) (string, error) {
	payload, err := json.Marshal(tasks.TimerPayload{SubjectID: subjectID, RunAt: runAt})
	if err != nil {
		return "", fmt.Errorf("marshal payload failed: %w", err)
	}

	id := TaskID(kind, subjectID, runAt)
	task := asynq.NewTask(kind, payload)

	err = c.enqueue(ctx, task, kind, id, runAt)
	if errors.Is(err, asynq.ErrTaskIDConflict) && c.occupiedBySpentTask(kind, id) {
		// 同键任务正在执行或已完成（提前触发后重新安排），换用新 ID 才能再次入队
		id = RearmTaskID(id, time.Now())
		err = c.enqueue(ctx, task, kind, id, runAt)
	}
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return "", fmt.Errorf("enqueue task failed: %w", err)
	}
	return id, nil
}

// RearmTaskID 重新安排同一触发时间时使用的任务 ID
func RearmTaskID(id string, at time.Time) string {
	return fmt.Sprintf("%s:rearm-%d", id, at.UnixNano())
}

func (c *asynqClient) enqueue(ctx context.Context, task *asynq.Task, kind, id string, runAt time.Time) error {
	// 处理器会重新读取状态，重复投递是安全的，因此允许重试
	_, err := c.client.EnqueueContext(ctx, task,
		asynq.TaskID(id),
		asynq.ProcessAt(runAt),
		asynq.Queue(QueueFor(kind)),
		asynq.MaxRetry(5),
		asynq.Timeout(time.Minute),
		asynq.Retention(24*time.Hour),
	)
	return err
}

// occupiedBySpentTask 占用该 ID 的任务已不会再触发
func (c *asynqClient) occupiedBySpentTask(kind, id string) bool {
	info, err := c.inspector.GetTaskInfo(QueueFor(kind), id)
	if err != nil {
		return false
	}
	return spentState(info.State)
}

func spentState(state asynq.TaskState) bool {
	return state == asynq.TaskStateActive || state == asynq.TaskStateCompleted
}

func (c *asynqClient) CancelTimer(_ context.Context, kind, taskID string) error {
	// 正在执行的任务无法删除，也不会再触发
	if c.occupiedBySpentTask(kind, taskID) {
		return nil
	}
	err := c.inspector.DeleteTask(QueueFor(kind), taskID)
	if err != nil && !errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
		return fmt.Errorf("delete task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) Stats(_ context.Context) (map[string]*QueueStats, error) {
	stats := make(map[string]*QueueStats)
	for q := range ServerQueues() {
		info, err := c.inspector.GetQueueInfo(q)
		if err != nil {
			if errors.Is(err, asynq.ErrQueueNotFound) {
				continue
			}
			return nil, fmt.Errorf("get queue info failed: %w", err)
		}
		stats[q] = &QueueStats{
			Queue:     q,
			Pending:   info.Pending,
			Scheduled: info.Scheduled,
			Active:    info.Active,
			Retry:     info.Retry,
			Archived:  info.Archived,
		}
	}
	return stats, nil
}

func (c *asynqClient) Close() error {
	if err := c.inspector.Close(); err != nil {
		return err
	}
	return c.client.Close()
}
