// Package evidence 将一次紧急访问的请求、审批、会话、活动与复核汇编为带内容哈希的证据包。
package evidence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/firefighter"
	"github.com/prasantk47/governexplus-sub004/internal/logger"
	"github.com/prasantk47/governexplus-sub004/pkg/canonical"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PendingReview 尚未创建复核时的占位
type PendingReview struct {
	Status firefighter.ReviewStatus `json:"status"`
}

// Body 参与哈希的证据内容
type Body struct {
	SessionID  string                        `json:"sessionId"`
	Request    *firefighter.Request          `json:"request"`
	Approvals  []firefighter.RequestApproval `json:"approvals"`
	Session    *firefighter.Session          `json:"session"`
	Extensions []firefighter.SessionExtension `json:"extensions"`
	Activities []firefighter.ActivityRecord  `json:"activities"`
	Alerts     []firefighter.Alert           `json:"alerts"`
	// Review 为 *firefighter.ControllerReview 或 PendingReview
	Review any `json:"review"`
}

// Evidence 证据包；GeneratedAt 不参与哈希
type Evidence struct {
	Body
	GeneratedAt   time.Time `json:"generatedAt"`
	IntegrityHash string    `json:"integrityHash"`
}

// Compiler 证据汇编器，只读
type Compiler struct {
	db     *gorm.DB
	now    firefighter.Clock
	logger *zap.Logger
	tracer trace.Tracer
}

// Option 配置项
type Option func(*Compiler)

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(c *Compiler) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock 设置时间源
func WithClock(now firefighter.Clock) Option {
	return func(c *Compiler) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCompiler 创建证据汇编器
func NewCompiler(db *gorm.DB, opts ...Option) *Compiler {
	c := &Compiler{
		db:     db,
		now:    firefighter.SystemClock,
		logger: logger.Get(),
		tracer: otel.Tracer("github.com/prasantk47/governexplus-sub004/internal/firefighter/evidence"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile 汇编会话证据；只有会话不存在时返回 NotFound
func (c *Compiler) Compile(ctx context.Context, sessionID string) (ev *Evidence, err error) {
	ctx, span := c.tracer.Start(ctx, "evidence.Compile")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("session_id", sessionID))

	db := c.db.WithContext(ctx)
	var session firefighter.Session
	if err := db.Where("id = ?", sessionID).Take(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, firefighter.NotFoundf("会话 %s 不存在", sessionID)
		}
		return nil, fmt.Errorf("查询会话失败: %w", err)
	}

	body := Body{
		SessionID:  session.ID,
		Session:    &session,
		Approvals:  []firefighter.RequestApproval{},
		Extensions: []firefighter.SessionExtension{},
		Activities: []firefighter.ActivityRecord{},
		Alerts:     []firefighter.Alert{},
		Review:     PendingReview{Status: firefighter.ReviewPending},
	}

	var req firefighter.Request
	err = db.Where("id = ?", session.RequestID).Take(&req).Error
	switch {
	case err == nil:
		body.Request = &req
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.logger.Warn("证据汇编时请求不存在", zap.String("session_id", sessionID), zap.String("request_id", session.RequestID))
	default:
		return nil, fmt.Errorf("查询请求失败: %w", err)
	}

	if err := db.Where("request_id = ?", session.RequestID).Order("decided_at ASC, id ASC").Find(&body.Approvals).Error; err != nil {
		return nil, fmt.Errorf("查询审批记录失败: %w", err)
	}
	if err := db.Where("session_id = ?", sessionID).Order("sequence ASC").Find(&body.Extensions).Error; err != nil {
		return nil, fmt.Errorf("查询延期记录失败: %w", err)
	}
	if err := db.Where("session_id = ?", sessionID).Order("occurred_at ASC, id ASC").Find(&body.Activities).Error; err != nil {
		return nil, fmt.Errorf("查询活动记录失败: %w", err)
	}
	if err := db.Where("session_id = ?", sessionID).Order("raised_at ASC, id ASC").Find(&body.Alerts).Error; err != nil {
		return nil, fmt.Errorf("查询告警失败: %w", err)
	}

	var review firefighter.ControllerReview
	err = db.Where("session_id = ?", sessionID).Take(&review).Error
	switch {
	case err == nil:
		body.Review = &review
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("查询复核失败: %w", err)
	}

	hash, _, err := canonical.Hash(body)
	if err != nil {
		return nil, fmt.Errorf("计算证据哈希失败: %w", err)
	}
	span.SetAttributes(
		attribute.Int("activities", len(body.Activities)),
		attribute.String("integrity_hash", hash),
	)
	return &Evidence{Body: body, GeneratedAt: c.now(), IntegrityHash: hash}, nil
}

// Verify 重新计算证据内容哈希并与包内哈希比较
func Verify(ev *Evidence) (bool, error) {
	hash, _, err := canonical.Hash(ev.Body)
	if err != nil {
		return false, err
	}
	return hash == ev.IntegrityHash, nil
}
