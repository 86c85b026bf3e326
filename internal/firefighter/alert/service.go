// Package alert 持久化监控告警并推送给在线的安全人员。
package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/prasantk47/governexplus-sub004/internal/audit"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter"
	"github.com/prasantk47/governexplus-sub004/internal/logger"
	"github.com/prasantk47/governexplus-sub004/internal/metrics"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Broadcaster 实时推送通道
type Broadcaster interface {
	Broadcast(payload any) error
}

// Event 推送给看板的告警消息
type Event struct {
	Type  string             `json:"type"`
	Alert *firefighter.Alert `json:"alert"`
}

// Observer 关注告警产生与确认
type Observer interface {
	AlertRaised(a *firefighter.Alert)
	AlertAcknowledged(a *firefighter.Alert)
}

// Service 告警服务
type Service struct {
	db           *gorm.DB
	broadcaster  Broadcaster
	observers    []Observer
	notifier     firefighter.Notifier
	audit        firefighter.AuditRecorder
	securityTeam string
	now          firefighter.Clock
	logger       *zap.Logger
}

// Option 配置项
type Option func(*Service)

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock 设置时间源
func WithClock(now firefighter.Clock) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBroadcaster 设置实时推送
func WithBroadcaster(b Broadcaster) Option {
	return func(s *Service) { s.broadcaster = b }
}

// WithNotifier 高危告警通知安全团队
func WithNotifier(n firefighter.Notifier, securityTeam string) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
		if securityTeam != "" {
			s.securityTeam = securityTeam
		}
	}
}

// WithAuditRecorder 设置审计记录器
func WithAuditRecorder(a firefighter.AuditRecorder) Option {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

// NewService 创建告警服务
func NewService(db *gorm.DB, opts ...Option) *Service {
	s := &Service{
		db:           db,
		notifier:     firefighter.NopNotifier{},
		audit:        firefighter.NopAuditRecorder{},
		securityTeam: "security-operations",
		now:          firefighter.SystemClock,
		logger:       logger.Get(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddObserver 注册观察者，需在服务开始处理请求前调用
func (s *Service) AddObserver(o Observer) {
	if o != nil {
		s.observers = append(s.observers, o)
	}
}

// Raise 保存告警并推送；高危及以上通知安全团队
func (s *Service) Raise(ctx context.Context, in firefighter.AlertInput) (*firefighter.Alert, error) {
	if in.Type == "" {
		return nil, firefighter.Validationf("告警类型不能为空")
	}
	if in.Severity == "" {
		in.Severity = firefighter.SeverityMedium
	}
	now := s.now()
	a := &firefighter.Alert{
		ID:            firefighter.NewID(firefighter.PrefixAlert, now),
		Type:          in.Type,
		Severity:      in.Severity,
		SessionID:     in.SessionID,
		UserID:        in.UserID,
		TargetAccount: in.TargetAccount,
		Message:       in.Message,
		RaisedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return nil, fmt.Errorf("保存告警失败: %w", err)
	}
	metrics.AlertsRaised.WithLabelValues(string(a.Type), string(a.Severity)).Inc()

	log := logger.WithContext(ctx, s.logger).With(
		zap.String("alert_id", a.ID),
		zap.String("type", string(a.Type)),
		zap.String("severity", string(a.Severity)),
		zap.String("session_id", a.SessionID),
	)
	for _, o := range s.observers {
		o.AlertRaised(a)
	}
	if s.broadcaster != nil {
		if err := s.broadcaster.Broadcast(Event{Type: "alert", Alert: a}); err != nil {
			log.Warn("推送告警失败", zap.Error(err))
		}
	}
	if a.Severity == firefighter.SeverityHigh || a.Severity == firefighter.SeverityCritical {
		s.notifier.Notify(ctx, s.securityTeam, fmt.Sprintf("[%s] %s", a.Severity, a.Type),
			fmt.Sprintf("会话 %s（账号 %s，用户 %s）：%s", a.SessionID, a.TargetAccount, a.UserID, a.Message))
	}
	log.Warn("产生监控告警", zap.String("message", a.Message))
	return a, nil
}

// Acknowledge 确认告警，重复确认返回冲突
func (s *Service) Acknowledge(ctx context.Context, alertID, by string) (*firefighter.Alert, error) {
	if by == "" {
		return nil, firefighter.Validationf("确认人不能为空")
	}
	a, err := s.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if a.Acknowledged {
		return nil, firefighter.Conflictf("告警 %s 已由 %s 确认", a.ID, a.AcknowledgedBy)
	}
	now := s.now()
	res := s.db.WithContext(ctx).Model(&firefighter.Alert{}).
		Where("id = ? AND acknowledged = ?", a.ID, false).
		Updates(map[string]any{
			"acknowledged":    true,
			"acknowledged_by": by,
			"acknowledged_at": now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("确认告警失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, firefighter.Conflictf("告警 %s 已被确认", a.ID)
	}
	a.Acknowledged = true
	a.AcknowledgedBy = by
	a.AcknowledgedAt = &now
	for _, o := range s.observers {
		o.AlertAcknowledged(a)
	}
	if s.broadcaster != nil {
		_ = s.broadcaster.Broadcast(Event{Type: "alert_acknowledged", Alert: a})
	}

	s.audit.Record(ctx, audit.EventAlertAcknowledged, a.ID, by, map[string]any{
		"type":       string(a.Type),
		"session_id": a.SessionID,
	})
	return a, nil
}

// Get 查询告警
func (s *Service) Get(ctx context.Context, alertID string) (*firefighter.Alert, error) {
	var a firefighter.Alert
	err := s.db.WithContext(ctx).Where("id = ?", alertID).Take(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, firefighter.NotFoundf("告警 %s 不存在", alertID)
	}
	if err != nil {
		return nil, fmt.Errorf("查询告警失败: %w", err)
	}
	return &a, nil
}

// ListBySession 会话的全部告警
func (s *Service) ListBySession(ctx context.Context, sessionID string) ([]firefighter.Alert, error) {
	var alerts []firefighter.Alert
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("raised_at ASC, id ASC").
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("查询告警失败: %w", err)
	}
	return alerts, nil
}

// ListOpen 未确认的告警，最新的在前
func (s *Service) ListOpen(ctx context.Context, limit int) ([]firefighter.Alert, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var alerts []firefighter.Alert
	err := s.db.WithContext(ctx).
		Where("acknowledged = ?", false).
		Order("raised_at DESC").
		Limit(limit).
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("查询告警失败: %w", err)
	}
	return alerts, nil
}

// CountOpen 会话未确认告警数
func (s *Service) CountOpen(ctx context.Context, sessionID string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&firefighter.Alert{}).
		Where("session_id = ? AND acknowledged = ?", sessionID, false).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("统计告警失败: %w", err)
	}
	return int(n), nil
}
