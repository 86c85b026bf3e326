package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/logger"
	"github.com/prasantk47/governexplus-sub004/internal/metrics"

	"go.uber.org/zap"
)

// Local 进程内调度器，每个任务一个 time.AfterFunc
//
// 每次 Schedule 递增代号，回调触发时代号不匹配说明已被改期或取消，直接丢弃。
type Local struct {
	registry *Registry
	logger   *zap.Logger

	mu     sync.Mutex
	timers map[string]*localTimer
	seq    uint64
	closed bool
	wg     sync.WaitGroup
}

type localTimer struct {
	gen   uint64
	timer *time.Timer
}

// LocalOption 配置项
type LocalOption func(*Local)

// WithLogger 设置日志
func WithLogger(l *zap.Logger) LocalOption {
	return func(s *Local) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewLocal 创建进程内调度器
func NewLocal(registry *Registry, opts ...LocalOption) *Local {
	s := &Local{
		registry: registry,
		logger:   logger.Get(),
		timers:   make(map[string]*localTimer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule 安排触发，runAt 已过去时立即触发
func (s *Local) Schedule(_ context.Context, kind, subjectID string, runAt time.Time) error {
	key := timerKey(kind, subjectID)
	delay := time.Until(runAt)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if prev, ok := s.timers[key]; ok {
		prev.timer.Stop()
	}
	s.seq++
	gen := s.seq
	s.timers[key] = &localTimer{
		gen:   gen,
		timer: time.AfterFunc(delay, func() { s.fire(kind, subjectID, gen) }),
	}
	return nil
}

// Cancel 取消任务
func (s *Local) Cancel(_ context.Context, kind, subjectID string) {
	key := timerKey(kind, subjectID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.timer.Stop()
		delete(s.timers, key)
	}
}

// Pending 尚未触发的任务数
func (s *Local) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop 停止所有定时器并等待正在执行的回调
func (s *Local) Stop() {
	s.mu.Lock()
	s.closed = true
	for key, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Local) fire(kind, subjectID string, gen uint64) {
	key := timerKey(kind, subjectID)

	s.mu.Lock()
	t, ok := s.timers[key]
	if s.closed || !ok || t.gen != gen {
		s.mu.Unlock()
		metrics.TimerFirings.WithLabelValues(kind, "stale").Inc()
		return
	}
	delete(s.timers, key)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if err := s.registry.Dispatch(context.Background(), kind, subjectID); err != nil {
		metrics.TimerFirings.WithLabelValues(kind, "error").Inc()
		s.logger.Error("定时任务执行失败",
			zap.String("kind", kind),
			zap.String("subject_id", subjectID),
			zap.Error(err),
		)
		return
	}
	metrics.TimerFirings.WithLabelValues(kind, "ok").Inc()
}
