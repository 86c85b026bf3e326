// Package review 管理会话结束后的控制人复核与 SLA 升级。
package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/audit"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter"
	"github.com/prasantk47/governexplus-sub004/internal/infra"
	"github.com/prasantk47/governexplus-sub004/internal/logger"
	"github.com/prasantk47/governexplus-sub004/internal/metrics"
	"github.com/prasantk47/governexplus-sub004/internal/scheduler"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultReviewSLA 原因代码缺失时使用
const DefaultReviewSLA = 24 * time.Hour

// Config 复核配置
type Config struct {
	DefaultController string
	// Controllers 特权账号到控制人的映射，键不区分大小写
	Controllers      map[string]string
	EscalationTarget string
}

// Scheduler 控制人复核调度器
type Scheduler struct {
	db      *gorm.DB
	reasons firefighter.Catalog
	cfg     Config

	timers   scheduler.Scheduler
	reviews  *infra.LocalLocker
	notifier firefighter.Notifier
	audit    firefighter.AuditRecorder
	now      firefighter.Clock
	logger   *zap.Logger
}

// Option 配置项
type Option func(*Scheduler)

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock 设置时间源
func WithClock(now firefighter.Clock) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTimers 设置 SLA 定时器调度器
func WithTimers(t scheduler.Scheduler) Option {
	return func(s *Scheduler) { s.timers = t }
}

// WithNotifier 设置通知器
func WithNotifier(n firefighter.Notifier) Option {
	return func(s *Scheduler) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithAuditRecorder 设置审计记录器
func WithAuditRecorder(a firefighter.AuditRecorder) Option {
	return func(s *Scheduler) {
		if a != nil {
			s.audit = a
		}
	}
}

// NewScheduler 创建复核调度器
func NewScheduler(db *gorm.DB, reasons firefighter.Catalog, cfg Config, opts ...Option) *Scheduler {
	controllers := make(map[string]string, len(cfg.Controllers))
	for account, controller := range cfg.Controllers {
		controllers[strings.ToLower(account)] = controller
	}
	cfg.Controllers = controllers
	if cfg.DefaultController == "" {
		cfg.DefaultController = "ff-controller"
	}
	if cfg.EscalationTarget == "" {
		cfg.EscalationTarget = "grc-escalations"
	}

	s := &Scheduler{
		db:       db,
		reasons:  reasons,
		cfg:      cfg,
		reviews:  infra.NewLocalLocker(),
		notifier: firefighter.NopNotifier{},
		audit:    firefighter.NopAuditRecorder{},
		now:      firefighter.SystemClock,
		logger:   logger.Get(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ControllerFor 特权账号对应的控制人
func (s *Scheduler) ControllerFor(account string) string {
	if c, ok := s.cfg.Controllers[strings.ToLower(account)]; ok && c != "" {
		return c
	}
	return s.cfg.DefaultController
}

// OnSessionEnded 为已结束的会话创建复核，重复调用返回已有复核
func (s *Scheduler) OnSessionEnded(ctx context.Context, session *firefighter.Session) (*firefighter.ControllerReview, error) {
	if !session.Status.Terminal() {
		return nil, firefighter.InvalidStatef("会话 %s 尚未结束，不能创建复核", session.ID)
	}
	if existing, err := s.GetBySession(ctx, session.ID); err == nil {
		return existing, nil
	} else if firefighter.KindOf(err) != firefighter.KindNotFound {
		return nil, err
	}

	now := s.now()
	endedAt := now
	if session.EndedAt != nil {
		endedAt = *session.EndedAt
	}
	sla := DefaultReviewSLA
	if rc, ok := s.reasons.Lookup(session.ReasonCode); ok {
		sla = rc.ReviewSLA()
	}

	r := &firefighter.ControllerReview{
		ID:                 firefighter.NewID(firefighter.PrefixReview, now),
		SessionID:          session.ID,
		ControllerID:       s.ControllerFor(session.TargetAccount),
		SLADeadline:        endedAt.Add(sla),
		Status:             firefighter.ReviewPending,
		FlaggedActivityIDs: datatypes.JSONSlice[string]{},
		CreatedAt:          now,
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.GetBySession(ctx, session.ID)
		}
		return nil, fmt.Errorf("保存复核失败: %w", err)
	}

	s.scheduleSLA(ctx, r)
	metrics.ReviewsCreated.Inc()
	s.audit.Record(ctx, audit.EventReviewCreated, r.ID, "system", map[string]any{
		"session_id":    session.ID,
		"controller_id": r.ControllerID,
		"sla_deadline":  r.SLADeadline.Format(time.RFC3339),
	})
	s.notifier.Notify(ctx, r.ControllerID, "待复核的紧急访问会话",
		fmt.Sprintf("会话 %s（账号 %s，申请人 %s）已结束，请在 %s 前完成复核。复核编号 %s",
			session.ID, session.TargetAccount, session.RequesterID, r.SLADeadline.Format(time.RFC3339), r.ID))

	logger.WithContext(ctx, s.logger).Info("已创建控制人复核",
		zap.String("review_id", r.ID),
		zap.String("session_id", session.ID),
		zap.String("controller", r.ControllerID),
		zap.Time("sla_deadline", r.SLADeadline),
	)
	return r, nil
}

// StartReview 控制人开始复核；已升级的复核也可以开始
func (s *Scheduler) StartReview(ctx context.Context, reviewID, controllerID string) (*firefighter.ControllerReview, error) {
	unlock, err := s.reviews.Lock(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	r, err := s.Get(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if r.ControllerID != controllerID {
		return nil, firefighter.Permissionf("复核 %s 未分配给 %s", r.ID, controllerID)
	}
	if r.Status != firefighter.ReviewPending && r.Status != firefighter.ReviewEscalated {
		return nil, firefighter.InvalidStatef("复核 %s 状态为 %s，不能开始", r.ID, r.Status)
	}

	now := s.now()
	err = s.db.WithContext(ctx).Model(r).Updates(map[string]any{
		"status":     firefighter.ReviewInProgress,
		"started_at": now,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("更新复核状态失败: %w", err)
	}
	r.Status = firefighter.ReviewInProgress
	r.StartedAt = &now

	if s.timers != nil {
		s.timers.Cancel(ctx, scheduler.KindReviewSLA, r.ID)
	}
	s.audit.Record(ctx, audit.EventReviewStarted, r.ID, controllerID, map[string]any{"session_id": r.SessionID})
	return r, nil
}

// Outcome 复核结论
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeFlagged  Outcome = "flagged"
)

// CompleteInput 完成复核参数
type CompleteInput struct {
	Outcome            Outcome  `json:"outcome"`
	Findings           string   `json:"findings"`
	FlaggedActivityIDs []string `json:"flaggedActivityIds"`
}

// CompleteReview 控制人给出复核结论
func (s *Scheduler) CompleteReview(ctx context.Context, reviewID, controllerID string, in CompleteInput) (*firefighter.ControllerReview, error) {
	unlock, err := s.reviews.Lock(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	r, err := s.Get(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if r.ControllerID != controllerID {
		return nil, firefighter.Permissionf("复核 %s 未分配给 %s", r.ID, controllerID)
	}
	if r.Status != firefighter.ReviewInProgress {
		return nil, firefighter.InvalidStatef("复核 %s 状态为 %s，需先开始复核", r.ID, r.Status)
	}

	var status firefighter.ReviewStatus
	switch in.Outcome {
	case OutcomeApproved:
		if len(in.FlaggedActivityIDs) > 0 {
			return nil, firefighter.Validationf("通过的复核不能标记可疑操作")
		}
		status = firefighter.ReviewApproved
	case OutcomeFlagged:
		if strings.TrimSpace(in.Findings) == "" {
			return nil, firefighter.Validationf("标记可疑时必须填写复核意见")
		}
		status = firefighter.ReviewFlagged
	default:
		return nil, firefighter.Validationf("无效的复核结论: %s", in.Outcome)
	}

	flagged := datatypes.JSONSlice[string]{}
	if len(in.FlaggedActivityIDs) > 0 {
		if err := s.checkActivities(ctx, r.SessionID, in.FlaggedActivityIDs); err != nil {
			return nil, err
		}
		flagged = append(flagged, in.FlaggedActivityIDs...)
	}

	now := s.now()
	err = s.db.WithContext(ctx).Model(r).Updates(map[string]any{
		"status":               status,
		"findings":             in.Findings,
		"flagged_activity_ids": flagged,
		"completed_at":         now,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("保存复核结论失败: %w", err)
	}
	r.Status = status
	r.Findings = in.Findings
	r.FlaggedActivityIDs = flagged
	r.CompletedAt = &now

	metrics.ReviewsCompleted.WithLabelValues(string(in.Outcome)).Inc()
	s.audit.Record(ctx, audit.EventReviewCompleted, r.ID, controllerID, map[string]any{
		"session_id": r.SessionID,
		"outcome":    string(in.Outcome),
		"flagged":    []string(flagged),
	})
	if status == firefighter.ReviewFlagged {
		s.notifier.Notify(ctx, s.cfg.EscalationTarget, "紧急访问复核发现问题",
			fmt.Sprintf("复核 %s（会话 %s）被标记：%s", r.ID, r.SessionID, in.Findings))
	}
	logger.WithContext(ctx, s.logger).Info("控制人复核已完成",
		zap.String("review_id", r.ID),
		zap.String("outcome", string(in.Outcome)),
	)
	return r, nil
}

func (s *Scheduler) checkActivities(ctx context.Context, sessionID string, ids []string) error {
	var n int64
	err := s.db.WithContext(ctx).Model(&firefighter.ActivityRecord{}).
		Where("session_id = ? AND id IN ?", sessionID, ids).
		Count(&n).Error
	if err != nil {
		return fmt.Errorf("查询活动记录失败: %w", err)
	}
	if int(n) != len(ids) {
		return firefighter.Validationf("标记的活动不属于会话 %s", sessionID)
	}
	return nil
}

// CheckSLA SLA 定时器回调；复核仍待处理且已超时时升级，且只升级一次
func (s *Scheduler) CheckSLA(ctx context.Context, reviewID string) (bool, error) {
	unlock, err := s.reviews.Lock(ctx, reviewID)
	if err != nil {
		return false, err
	}
	defer unlock()

	r, err := s.Get(ctx, reviewID)
	if firefighter.KindOf(err) == firefighter.KindNotFound {
		s.logger.Warn("SLA 定时器对应的复核不存在", zap.String("review_id", reviewID))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	now := s.now()
	if r.Status != firefighter.ReviewPending {
		return false, nil
	}
	if now.Before(r.SLADeadline) {
		// 提前触发，重新安排到截止时间
		metrics.TimerFirings.WithLabelValues(scheduler.KindReviewSLA, "early").Inc()
		s.logger.Info("复核 SLA 定时器提前触发，重新安排",
			zap.String("review_id", r.ID),
			zap.Time("sla_deadline", r.SLADeadline),
		)
		s.scheduleSLA(ctx, r)
		return false, nil
	}

	res := s.db.WithContext(ctx).Model(&firefighter.ControllerReview{}).
		Where("id = ? AND status = ?", r.ID, firefighter.ReviewPending).
		Updates(map[string]any{
			"status":       firefighter.ReviewEscalated,
			"escalated_at": now,
			"escalated_to": s.cfg.EscalationTarget,
		})
	if res.Error != nil {
		return false, fmt.Errorf("升级复核失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	metrics.ReviewEscalations.Inc()
	s.audit.Record(ctx, audit.EventReviewEscalated, r.ID, "system", map[string]any{
		"session_id":    r.SessionID,
		"controller_id": r.ControllerID,
		"escalated_to":  s.cfg.EscalationTarget,
		"sla_deadline":  r.SLADeadline.Format(time.RFC3339),
	})
	s.notifier.Notify(ctx, s.cfg.EscalationTarget, "紧急访问复核超时升级",
		fmt.Sprintf("复核 %s（会话 %s，控制人 %s）已超过 SLA %s",
			r.ID, r.SessionID, r.ControllerID, r.SLADeadline.Format(time.RFC3339)))

	logger.WithContext(ctx, s.logger).Warn("控制人复核超时，已升级",
		zap.String("review_id", r.ID),
		zap.String("controller", r.ControllerID),
		zap.String("escalated_to", s.cfg.EscalationTarget),
	)
	return true, nil
}

// Get 查询复核
func (s *Scheduler) Get(ctx context.Context, reviewID string) (*firefighter.ControllerReview, error) {
	return s.take(ctx, "id = ?", reviewID)
}

// GetBySession 查询会话的复核
func (s *Scheduler) GetBySession(ctx context.Context, sessionID string) (*firefighter.ControllerReview, error) {
	return s.take(ctx, "session_id = ?", sessionID)
}

func (s *Scheduler) take(ctx context.Context, cond, arg string) (*firefighter.ControllerReview, error) {
	var r firefighter.ControllerReview
	err := s.db.WithContext(ctx).Where(cond, arg).Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, firefighter.NotFoundf("复核 %s 不存在", arg)
	}
	if err != nil {
		return nil, fmt.Errorf("查询复核失败: %w", err)
	}
	return &r, nil
}

// ListByController 控制人名下的复核；status 为空时返回全部
func (s *Scheduler) ListByController(ctx context.Context, controllerID string, status firefighter.ReviewStatus) ([]firefighter.ControllerReview, error) {
	q := s.db.WithContext(ctx).Where("controller_id = ?", controllerID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var reviews []firefighter.ControllerReview
	if err := q.Order("sla_deadline ASC").Find(&reviews).Error; err != nil {
		return nil, fmt.Errorf("查询复核失败: %w", err)
	}
	return reviews, nil
}

// Recover 为待处理复核重新安排 SLA 检查，已超时的立即检查
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	var pending []firefighter.ControllerReview
	err := s.db.WithContext(ctx).
		Where("status = ?", firefighter.ReviewPending).
		Find(&pending).Error
	if err != nil {
		return 0, fmt.Errorf("查询待处理复核失败: %w", err)
	}
	now := s.now()
	for i := range pending {
		r := &pending[i]
		if !now.Before(r.SLADeadline) {
			if _, err := s.CheckSLA(ctx, r.ID); err != nil {
				s.logger.Error("恢复时检查复核 SLA 失败", zap.String("review_id", r.ID), zap.Error(err))
			}
			continue
		}
		s.scheduleSLA(ctx, r)
	}
	return len(pending), nil
}

// RegisterHandlers 注册 SLA 定时任务
func (s *Scheduler) RegisterHandlers(reg *scheduler.Registry) {
	reg.Register(scheduler.KindReviewSLA, func(ctx context.Context, reviewID string) error {
		_, err := s.CheckSLA(ctx, reviewID)
		return err
	})
}

func (s *Scheduler) scheduleSLA(ctx context.Context, r *firefighter.ControllerReview) {
	if s.timers == nil {
		return
	}
	if err := s.timers.Schedule(ctx, scheduler.KindReviewSLA, r.ID, r.SLADeadline); err != nil {
		s.logger.Error("安排复核 SLA 定时器失败", zap.String("review_id", r.ID), zap.Error(err))
	}
}
