// Package scheduler 统一调度会话到期、复核 SLA 与监控巡检等定时任务。
//
// 定时器只负责“到点提醒”，真正的状态变更由注册的 Handler 调用与用户操作相同的
// 受保护状态迁移函数完成；Handler 必须在触发时重新读取状态，过期或已被改期的
// 触发应当静默返回。
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/worker/tasks"
)

// 定时任务类型
const (
	KindSessionExpire = tasks.TypeSessionExpire
	KindReviewSLA     = tasks.TypeReviewSLA
	KindMonitorSweep  = tasks.TypeMonitorSweep
)

// Handler 定时任务处理函数
type Handler func(ctx context.Context, subjectID string) error

// Scheduler 定时任务调度器
type Scheduler interface {
	// Schedule 为 (kind, subjectID) 安排一次触发，已有的同键触发被替换
	Schedule(ctx context.Context, kind, subjectID string, runAt time.Time) error
	// Cancel 取消尚未触发的任务，尽力而为
	Cancel(ctx context.Context, kind, subjectID string)
}

// Recorder 接收每次分发的结果
type Recorder interface {
	RecordFiring(kind, subjectID string, duration time.Duration, err error)
}

// Registry 任务类型到处理函数的映射，本地调度器和 asynq worker 共用
type Registry struct {
	mu        sync.RWMutex
	handlers  map[string]Handler
	recorders []Recorder
}

// NewRegistry 创建处理函数注册表
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register 注册处理函数
func (r *Registry) Register(kind string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// AddRecorder 追加分发结果接收方
func (r *Registry) AddRecorder(rec Recorder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorders = append(r.recorders, rec)
}

// Kinds 已注册的任务类型
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

// Dispatch 执行任务
func (r *Registry) Dispatch(ctx context.Context, kind, subjectID string) error {
	r.mu.RLock()
	h, ok := r.handlers[kind]
	recorders := r.recorders
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("未注册的定时任务类型: %s", kind)
	}

	start := time.Now()
	err := h(ctx, subjectID)
	for _, rec := range recorders {
		rec.RecordFiring(kind, subjectID, time.Since(start), err)
	}
	return err
}

func timerKey(kind, subjectID string) string {
	return kind + "|" + subjectID
}
