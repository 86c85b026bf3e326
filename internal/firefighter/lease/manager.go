// Package lease 管理紧急访问会话的租约：创建、延期、结束、到期与撤销。
//
// 会话状态机 ACTIVE → COMPLETED | EXPIRED | REVOKED，终态不可逆。所有迁移
// 都经过同一个按会话加锁的受保护函数，到期定时器只是这个函数的另一个调用方。
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/audit"
	"github.com/prasantk47/governexplus-sub004/internal/connector"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter"
	"github.com/prasantk47/governexplus-sub004/internal/infra"
	"github.com/prasantk47/governexplus-sub004/internal/logger"
	"github.com/prasantk47/governexplus-sub004/internal/scheduler"
	"github.com/prasantk47/governexplus-sub004/internal/security"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 默认延期限制
const (
	DefaultMaxExtensions       = 2
	DefaultMaxExtensionMinutes = 120
)

// Manager 会话租约管理器
type Manager struct {
	db        *gorm.DB
	connector connector.TargetConnector
	cipher    *security.Cipher
	reasons   firefighter.Catalog

	accounts  infra.AccountLocker
	sessions  *infra.LocalLocker
	scheduler scheduler.Scheduler
	alerts    firefighter.AlertRaiser
	reviews   firefighter.ReviewTrigger
	observers []firefighter.SessionObserver
	notifier  firefighter.Notifier
	audit     firefighter.AuditRecorder

	maxExtensions       int
	maxExtensionMinutes int
	securityTeam        string

	now    firefighter.Clock
	logger *zap.Logger
	tracer trace.Tracer
}

// Option 配置项
type Option func(*Manager)

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock 设置时间源
func WithClock(now firefighter.Clock) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithAccountLocker 设置账号锁（多实例部署使用 Redis 实现）
func WithAccountLocker(l infra.AccountLocker) Option {
	return func(m *Manager) {
		if l != nil {
			m.accounts = l
		}
	}
}

// WithScheduler 设置到期定时器调度器
func WithScheduler(s scheduler.Scheduler) Option {
	return func(m *Manager) { m.scheduler = s }
}

// WithAlertRaiser 设置告警服务
func WithAlertRaiser(a firefighter.AlertRaiser) Option {
	return func(m *Manager) { m.alerts = a }
}

// WithReviewTrigger 设置会话结束后的复核触发器
func WithReviewTrigger(r firefighter.ReviewTrigger) Option {
	return func(m *Manager) { m.reviews = r }
}

// WithObserver 追加会话观察者
func WithObserver(o firefighter.SessionObserver) Option {
	return func(m *Manager) {
		if o != nil {
			m.observers = append(m.observers, o)
		}
	}
}

// WithNotifier 设置通知器
func WithNotifier(n firefighter.Notifier) Option {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithAuditRecorder 设置审计记录器
func WithAuditRecorder(a firefighter.AuditRecorder) Option {
	return func(m *Manager) {
		if a != nil {
			m.audit = a
		}
	}
}

// WithExtensionLimits 设置延期次数与单次延期上限
func WithExtensionLimits(maxExtensions, maxMinutes int) Option {
	return func(m *Manager) {
		if maxExtensions > 0 {
			m.maxExtensions = maxExtensions
		}
		if maxMinutes > 0 {
			m.maxExtensionMinutes = maxMinutes
		}
	}
}

// WithSecurityTeam 撤销通知的接收方
func WithSecurityTeam(team string) Option {
	return func(m *Manager) {
		if team != "" {
			m.securityTeam = team
		}
	}
}

// NewManager 创建会话租约管理器
func NewManager(db *gorm.DB, conn connector.TargetConnector, cipher *security.Cipher, reasons firefighter.Catalog, opts ...Option) *Manager {
	m := &Manager{
		db:                  db,
		connector:           conn,
		cipher:              cipher,
		reasons:             reasons,
		accounts:            infra.NewLocalLocker(),
		sessions:            infra.NewLocalLocker(),
		notifier:            firefighter.NopNotifier{},
		audit:               firefighter.NopAuditRecorder{},
		maxExtensions:       DefaultMaxExtensions,
		maxExtensionMinutes: DefaultMaxExtensionMinutes,
		securityTeam:        "security-operations",
		now:                 firefighter.SystemClock,
		logger:              logger.Get(),
		tracer:              otel.Tracer("github.com/prasantk47/governexplus-sub004/internal/firefighter/lease"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterHandlers 注册到期定时任务处理函数
func (m *Manager) RegisterHandlers(reg *scheduler.Registry) {
	reg.Register(scheduler.KindSessionExpire, func(ctx context.Context, sessionID string) error {
		_, err := m.Expire(ctx, sessionID)
		return err
	})
}

// Get 查询会话
func (m *Manager) Get(ctx context.Context, sessionID string) (*firefighter.Session, error) {
	return m.load(m.db.WithContext(ctx), sessionID)
}

// ListActive 查询全部活跃会话，按到期时间排序
func (m *Manager) ListActive(ctx context.Context) ([]firefighter.Session, error) {
	var sessions []firefighter.Session
	err := m.db.WithContext(ctx).
		Where("status = ?", firefighter.SessionActive).
		Order("end_time ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("查询活跃会话失败: %w", err)
	}
	return sessions, nil
}

// ListByRequester 查询某人的会话，最新的在前
func (m *Manager) ListByRequester(ctx context.Context, requesterID string, limit int) ([]firefighter.Session, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var sessions []firefighter.Session
	err := m.db.WithContext(ctx).
		Where("requester_id = ?", requesterID).
		Order("start_time DESC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("查询会话失败: %w", err)
	}
	return sessions, nil
}

// Extensions 会话的延期历史
func (m *Manager) Extensions(ctx context.Context, sessionID string) ([]firefighter.SessionExtension, error) {
	var exts []firefighter.SessionExtension
	err := m.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sequence ASC").
		Find(&exts).Error
	if err != nil {
		return nil, fmt.Errorf("查询延期历史失败: %w", err)
	}
	return exts, nil
}

// ActiveForAccount 账号当前的活跃会话，没有时返回 nil
func (m *Manager) ActiveForAccount(ctx context.Context, account string) (*firefighter.Session, error) {
	var lease firefighter.AccountLease
	err := m.db.WithContext(ctx).Where("target_account = ?", account).Take(&lease).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询账号占用失败: %w", err)
	}
	return m.Get(ctx, lease.SessionID)
}

// GetCredentials 申请人在会话活跃期间取回一次性凭证
func (m *Manager) GetCredentials(ctx context.Context, sessionID, callerID string) (string, error) {
	s, err := m.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if callerID != s.RequesterID {
		return "", firefighter.Permissionf("只有申请人可以获取会话 %s 的凭证", sessionID)
	}
	if s.Status != firefighter.SessionActive {
		return "", firefighter.InvalidStatef("会话 %s 状态为 %s，凭证不可用", sessionID, s.Status)
	}
	secret, err := m.cipher.Open(s.CredentialCipher, s.ID)
	if err != nil {
		return "", fmt.Errorf("解封凭证失败: %w", err)
	}
	m.audit.Record(ctx, audit.EventCredentialViewed, s.ID, callerID, nil)
	return secret, nil
}

func (m *Manager) load(db *gorm.DB, sessionID string) (*firefighter.Session, error) {
	var s firefighter.Session
	err := db.Where("id = ?", sessionID).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, firefighter.NotFoundf("会话 %s 不存在", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("查询会话失败: %w", err)
	}
	return &s, nil
}

func (m *Manager) logWith(ctx context.Context, s *firefighter.Session) *zap.Logger {
	return logger.WithContext(ctx, m.logger).With(
		zap.String("session_id", s.ID),
		zap.String("account", s.TargetAccount),
	)
}

func minutesOf(d time.Duration) int {
	return int(d / time.Minute)
}
