// Package fftest 提供紧急访问组件测试共用的内存数据库、可控时钟与记录型替身。
package fftest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/audit"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter"
	"github.com/prasantk47/governexplus-sub004/internal/scheduler"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// OpenDB 打开按测试名隔离的内存 SQLite 并完成迁移
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(append(firefighter.Models(), &audit.Entry{})...))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// Clock 可手动推进的时钟
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock 创建时钟
func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

// Now 当前时间
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 推进时间
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set 设置时间
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Job 已安排的定时任务
type Job struct {
	Kind      string
	SubjectID string
	RunAt     time.Time
}

// Scheduler 手动触发的调度器，记录每次安排与取消
type Scheduler struct {
	Registry *scheduler.Registry

	mu        sync.Mutex
	pending   map[string]Job
	scheduled []Job
	cancelled []Job
}

// NewScheduler 创建手动调度器
func NewScheduler() *Scheduler {
	return &Scheduler{Registry: scheduler.NewRegistry(), pending: make(map[string]Job)}
}

// Schedule 记录任务
func (s *Scheduler) Schedule(_ context.Context, kind, subjectID string, runAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := Job{Kind: kind, SubjectID: subjectID, RunAt: runAt}
	s.pending[kind+"|"+subjectID] = job
	s.scheduled = append(s.scheduled, job)
	return nil
}

// Cancel 取消任务
func (s *Scheduler) Cancel(_ context.Context, kind, subjectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := kind + "|" + subjectID
	if job, ok := s.pending[key]; ok {
		s.cancelled = append(s.cancelled, job)
		delete(s.pending, key)
	}
}

// Pending 查询尚未触发的任务
func (s *Scheduler) Pending(kind, subjectID string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.pending[kind+"|"+subjectID]
	return job, ok
}

// Scheduled 全部安排记录
func (s *Scheduler) Scheduled() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Job(nil), s.scheduled...)
}

// Fire 触发任务；无论是否仍在等待都会执行，用于模拟取消后仍然触发的竞态
func (s *Scheduler) Fire(ctx context.Context, kind, subjectID string) error {
	s.mu.Lock()
	delete(s.pending, kind+"|"+subjectID)
	s.mu.Unlock()
	return s.Registry.Dispatch(ctx, kind, subjectID)
}

// Message 记录的通知
type Message struct {
	Recipient string
	Subject   string
	Body      string
}

// Notifier 记录型通知器
type Notifier struct {
	mu       sync.Mutex
	messages []Message
}

// Notify 记录通知
func (n *Notifier) Notify(_ context.Context, recipient, subject, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, Message{Recipient: recipient, Subject: subject, Body: body})
}

// Messages 全部通知
func (n *Notifier) Messages() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.messages...)
}

// To 发给指定接收者的通知
func (n *Notifier) To(recipient string) []Message {
	var out []Message
	for _, m := range n.Messages() {
		if m.Recipient == recipient {
			out = append(out, m)
		}
	}
	return out
}

// AuditEvent 记录的审计事件
type AuditEvent struct {
	Event     string
	SubjectID string
	Actor     string
	Details   map[string]any
}

// Audit 记录型审计
type Audit struct {
	mu     sync.Mutex
	events []AuditEvent
}

// Record 记录事件
func (a *Audit) Record(_ context.Context, event, subjectID, actor string, details map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, AuditEvent{Event: event, SubjectID: subjectID, Actor: actor, Details: details})
}

// Count 指定事件出现次数
func (a *Audit) Count(event string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

// Events 全部事件
func (a *Audit) Events() []AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AuditEvent(nil), a.events...)
}
