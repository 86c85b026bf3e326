package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// FiringStatus 定时任务执行结果
type FiringStatus string

const (
	FiringOK    FiringStatus = "ok"
	FiringError FiringStatus = "error"
)

// FiringEntry 一次定时任务触发
type FiringEntry struct {
	Kind      string        `json:"kind"`
	Queue     string        `json:"queue"`
	SubjectID string        `json:"subjectId"`
	Status    FiringStatus  `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	FiredAt   time.Time     `json:"firedAt"`
}

// StatsSource 队列积压统计，本地调度模式下为空
type StatsSource interface {
	Stats(ctx context.Context) (map[string]*QueueStats, error)
}

// TimerView 定时任务运行视图：队列积压与最近触发历史
type TimerView struct {
	stats       StatsSource
	historySize int
	now         func() time.Time

	mu      sync.RWMutex
	history []FiringEntry
}

// NewTimerView 创建视图
func NewTimerView(historySize int, stats StatsSource) *TimerView {
	if historySize <= 0 {
		historySize = 1000
	}
	return &TimerView{
		stats:       stats,
		historySize: historySize,
		now:         time.Now,
		history:     make([]FiringEntry, 0, historySize),
	}
}

// RecordFiring 记录一次触发，由调度注册表在每次分发后调用
func (v *TimerView) RecordFiring(kind, subjectID string, duration time.Duration, err error) {
	entry := FiringEntry{
		Kind:      kind,
		Queue:     QueueFor(kind),
		SubjectID: subjectID,
		Status:    FiringOK,
		Duration:  duration,
		FiredAt:   v.now(),
	}
	if err != nil {
		entry.Status = FiringError
		entry.Error = err.Error()
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.history = append(v.history, entry)
	if len(v.history) > v.historySize {
		v.history = v.history[len(v.history)-v.historySize:]
	}
}

// History 最近的触发记录，最新的在前
func (v *TimerView) History(limit int) []FiringEntry {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if limit <= 0 || limit > len(v.history) {
		limit = len(v.history)
	}
	result := make([]FiringEntry, limit)
	copy(result, v.history[len(v.history)-limit:])
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}

// Throughput 窗口内的触发统计
type Throughput struct {
	Window         time.Duration    `json:"window"`
	Total          int64            `json:"total"`
	Failed         int64            `json:"failed"`
	FiringsPerHour float64          `json:"firingsPerHour"`
	AvgDuration    time.Duration    `json:"avgDuration"`
	ByKind         map[string]int64 `json:"byKind"`
}

// Throughput 统计最近 window 内的触发
func (v *TimerView) Throughput(window time.Duration) *Throughput {
	v.mu.RLock()
	defer v.mu.RUnlock()

	cutoff := v.now().Add(-window)
	t := &Throughput{Window: window, ByKind: make(map[string]int64)}
	var total time.Duration
	for _, e := range v.history {
		if e.FiredAt.Before(cutoff) {
			continue
		}
		t.Total++
		t.ByKind[e.Kind]++
		if e.Status == FiringError {
			t.Failed++
		}
		total += e.Duration
	}
	if t.Total > 0 {
		t.AvgDuration = total / time.Duration(t.Total)
		t.FiringsPerHour = float64(t.Total) / window.Hours()
	}
	return t
}

// Overview 总览
type Overview struct {
	Queues         []QueueStats  `json:"queues"`
	TotalScheduled int           `json:"totalScheduled"`
	TotalRetry     int           `json:"totalRetry"`
	TotalArchived  int           `json:"totalArchived"`
	LastHour       *Throughput   `json:"lastHour"`
	Recent         []FiringEntry `json:"recent"`
	Timestamp      time.Time     `json:"timestamp"`
}

// Overview 汇总队列积压与最近一小时的触发情况
func (v *TimerView) Overview(ctx context.Context) (*Overview, error) {
	o := &Overview{
		Queues:    []QueueStats{},
		LastHour:  v.Throughput(time.Hour),
		Recent:    v.History(20),
		Timestamp: v.now(),
	}
	if v.stats == nil {
		return o, nil
	}

	stats, err := v.stats.Stats(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range stats {
		o.Queues = append(o.Queues, *s)
		o.TotalScheduled += s.Scheduled
		o.TotalRetry += s.Retry
		o.TotalArchived += s.Archived
	}
	sort.Slice(o.Queues, func(i, j int) bool { return o.Queues[i].Queue < o.Queues[j].Queue })
	return o, nil
}
