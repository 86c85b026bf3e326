package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/logger"
	"github.com/prasantk47/governexplus-sub004/pkg/canonical"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entry 审计轨迹条目，每条的 Hash 覆盖自身内容与前一条的 Hash
type Entry struct {
	Seq        int64             `json:"seq" gorm:"primaryKey;autoIncrement"`
	Event      string            `json:"event" gorm:"size:64;not null;index"`
	Category   EventCategory     `json:"category" gorm:"size:32;not null"`
	SubjectID  string            `json:"subjectId" gorm:"size:64;not null;index"`
	Actor      string            `json:"actor" gorm:"size:128"`
	Details    datatypes.JSONMap `json:"details,omitempty"`
	OccurredAt time.Time         `json:"occurredAt" gorm:"not null"`
	PrevHash   string            `json:"prevHash" gorm:"size:64"`
	Hash       string            `json:"hash" gorm:"size:64;not null;uniqueIndex"`
}

// TableName 表名
func (Entry) TableName() string { return "ff_audit_trail" }

// Filter 查询条件
type Filter struct {
	SubjectID string
	Event     string
	From      *time.Time
	To        *time.Time
	Limit     int
}

// VerifyResult 完整性校验结果
type VerifyResult struct {
	Entries  int    `json:"entries"`
	Valid    bool   `json:"valid"`
	BrokenAt int64  `json:"brokenAt,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Trail 只追加的哈希链审计轨迹
//
// 追加在进程内串行化；多实例部署时由数据库的 hash 唯一索引发现分叉。
type Trail struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// Option 配置项
type Option func(*Trail)

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(t *Trail) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithClock 设置时间源
func WithClock(now func() time.Time) Option {
	return func(t *Trail) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTrail 创建审计轨迹
func NewTrail(db *gorm.DB, opts ...Option) *Trail {
	t := &Trail{
		db:     db,
		logger: logger.Get(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record 写入审计事件，失败只记录日志，不影响业务流程
func (t *Trail) Record(ctx context.Context, event, subjectID, actor string, details map[string]any) {
	if _, err := t.Append(ctx, event, subjectID, actor, details); err != nil {
		logger.WithContext(ctx, t.logger).Error("写入审计轨迹失败",
			zap.String("event", event),
			zap.String("subject_id", subjectID),
			zap.Error(err),
		)
	}
}

// Append 写入审计事件并返回条目
func (t *Trail) Append(ctx context.Context, event, subjectID, actor string, details map[string]any) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if details == nil {
		details = map[string]any{}
	}
	entry := &Entry{
		Event:      event,
		Category:   GetEventCategory(event),
		SubjectID:  subjectID,
		Actor:      actor,
		Details:    datatypes.JSONMap(details),
		OccurredAt: t.now().UTC().Truncate(time.Microsecond),
	}

	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last Entry
		err := tx.Order("seq DESC").Limit(1).Take(&last).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			entry.PrevHash = ""
		case err != nil:
			return fmt.Errorf("读取审计链尾失败: %w", err)
		default:
			entry.PrevHash = last.Hash
		}

		hash, err := entryHash(entry)
		if err != nil {
			return err
		}
		entry.Hash = hash
		return tx.Create(entry).Error
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Query 查询审计条目，按写入顺序返回
func (t *Trail) Query(ctx context.Context, f Filter) ([]Entry, error) {
	q := t.db.WithContext(ctx).Model(&Entry{})
	if f.SubjectID != "" {
		q = q.Where("subject_id = ?", f.SubjectID)
	}
	if f.Event != "" {
		q = q.Where("event = ?", f.Event)
	}
	if f.From != nil {
		q = q.Where("occurred_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("occurred_at <= ?", *f.To)
	}
	limit := f.Limit
	if limit <= 0 || limit > 10000 {
		limit = 10000
	}

	var entries []Entry
	if err := q.Order("seq ASC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("查询审计轨迹失败: %w", err)
	}
	return entries, nil
}

// Verify 从头重算整条哈希链
func (t *Trail) Verify(ctx context.Context) (*VerifyResult, error) {
	var entries []Entry
	if err := t.db.WithContext(ctx).Order("seq ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("读取审计轨迹失败: %w", err)
	}

	res := &VerifyResult{Entries: len(entries), Valid: true}
	prev := ""
	for i := range entries {
		e := &entries[i]
		if e.PrevHash != prev {
			res.Valid, res.BrokenAt, res.Reason = false, e.Seq, "前序哈希不匹配"
			return res, nil
		}
		hash, err := entryHash(e)
		if err != nil {
			return nil, err
		}
		if hash != e.Hash {
			res.Valid, res.BrokenAt, res.Reason = false, e.Seq, "内容哈希不匹配"
			return res, nil
		}
		prev = e.Hash
	}
	return res, nil
}

func entryHash(e *Entry) (string, error) {
	hash, _, err := canonical.Hash(map[string]any{
		"event":       e.Event,
		"subject_id":  e.SubjectID,
		"actor":       e.Actor,
		"details":     map[string]any(e.Details),
		"occurred_at": e.OccurredAt.UTC().Format(time.RFC3339Nano),
		"prev_hash":   e.PrevHash,
	})
	if err != nil {
		return "", fmt.Errorf("计算审计哈希失败: %w", err)
	}
	return hash, nil
}
