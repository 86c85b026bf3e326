// Package approval 负责紧急访问请求的提交、审批路由与审批决定。
package approval

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

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 审批决定
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// DefaultApprovalSLA 原因代码未配置审批时限时使用
const DefaultApprovalSLA = 4 * time.Hour

// SessionService 会话开通与账号占用查询
type SessionService interface {
	firefighter.SessionStarter
	ActiveForAccount(ctx context.Context, account string) (*firefighter.Session, error)
}

// Config 路由器配置
type Config struct {
	DualApprovalThreshold int
	DualApprovalRule      string
	ApprovalSLA           time.Duration
	RequiresReviewDefault bool
	AllowReviewOverride   bool
	// Approvers 审批角色到审批人标识的映射
	Approvers map[string][]string
}

// Router 审批路由器
type Router struct {
	db       *gorm.DB
	reasons  firefighter.Catalog
	sessions SessionService
	rule     *DualApprovalRule
	cfg      Config

	accounts infra.AccountLocker
	requests *infra.LocalLocker
	notifier firefighter.Notifier
	audit    firefighter.AuditRecorder
	now      firefighter.Clock
	logger   *zap.Logger
}

// Option 配置项
type Option func(*Router)

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock 设置时间源
func WithClock(now firefighter.Clock) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// WithAccountLocker 设置账号锁，应与会话管理器共用同一实例
func WithAccountLocker(l infra.AccountLocker) Option {
	return func(r *Router) {
		if l != nil {
			r.accounts = l
		}
	}
}

// WithNotifier 设置通知器
func WithNotifier(n firefighter.Notifier) Option {
	return func(r *Router) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithAuditRecorder 设置审计记录器
func WithAuditRecorder(a firefighter.AuditRecorder) Option {
	return func(r *Router) {
		if a != nil {
			r.audit = a
		}
	}
}

// NewRouter 创建审批路由器
func NewRouter(db *gorm.DB, reasons firefighter.Catalog, sessions SessionService, cfg Config, opts ...Option) (*Router, error) {
	rule, err := NewDualApprovalRule(cfg.DualApprovalRule, cfg.DualApprovalThreshold)
	if err != nil {
		return nil, err
	}
	if cfg.ApprovalSLA <= 0 {
		cfg.ApprovalSLA = DefaultApprovalSLA
	}
	approvers := make(map[string][]string, len(cfg.Approvers))
	for role, ids := range cfg.Approvers {
		approvers[strings.ToLower(role)] = ids
	}
	cfg.Approvers = approvers

	r := &Router{
		db:       db,
		reasons:  reasons,
		sessions: sessions,
		rule:     rule,
		cfg:      cfg,
		accounts: infra.NewLocalLocker(),
		requests: infra.NewLocalLocker(),
		notifier: firefighter.NopNotifier{},
		audit:    firefighter.NopAuditRecorder{},
		now:      firefighter.SystemClock,
		logger:   logger.Get(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// SubmitInput 提交请求参数
type SubmitInput struct {
	RequesterID      string               `json:"requesterId"`
	TargetAccount    string               `json:"targetAccount"`
	ReasonCode       string               `json:"reasonCode"`
	Justification    string               `json:"justification"`
	TicketRef        string               `json:"ticketRef"`
	RequestedMinutes int                  `json:"requestedMinutes"`
	Priority         firefighter.Priority `json:"priority"`
}

// Submit 校验并提交紧急访问请求
func (r *Router) Submit(ctx context.Context, in SubmitInput) (*firefighter.Request, error) {
	in.RequesterID = strings.TrimSpace(in.RequesterID)
	in.TargetAccount = strings.TrimSpace(in.TargetAccount)
	if in.RequesterID == "" {
		return nil, firefighter.Validationf("申请人不能为空")
	}
	if in.TargetAccount == "" {
		return nil, firefighter.Validationf("目标账号不能为空")
	}
	rc, ok := r.reasons.Lookup(in.ReasonCode)
	if !ok {
		return nil, firefighter.Validationf("未知的原因代码: %s", in.ReasonCode)
	}
	if rc.RequiresTicket && strings.TrimSpace(in.TicketRef) == "" {
		return nil, firefighter.Validationf("原因代码 %s 要求填写工单号", rc.Code)
	}
	if rc.RequiresJustification && strings.TrimSpace(in.Justification) == "" {
		return nil, firefighter.Validationf("原因代码 %s 要求填写申请理由", rc.Code)
	}
	if in.RequestedMinutes <= 0 {
		return nil, firefighter.Validationf("申请时长必须大于 0")
	}
	if in.Priority == "" {
		in.Priority = firefighter.PriorityMedium
	}
	if !in.Priority.Valid() {
		return nil, firefighter.Validationf("无效的优先级: %s", in.Priority)
	}

	approvers, err := r.resolveApprovers(rc.ApprovalChain)
	if err != nil {
		return nil, err
	}

	now := r.now()
	risk := firefighter.AssessRequestRisk(in.Priority, time.Duration(in.RequestedMinutes)*time.Minute, now)
	dual, err := r.rule.Requires(RuleInput{
		RiskScore:        risk,
		ChainLength:      len(rc.ApprovalChain),
		Priority:         string(in.Priority),
		RequestedMinutes: in.RequestedMinutes,
	})
	if err != nil {
		return nil, err
	}
	if dual && len(approvers) < 2 {
		return nil, firefighter.Validationf("原因代码 %s 需要双人审批，但只配置了 %d 名审批人", rc.Code, len(approvers))
	}

	sla := r.cfg.ApprovalSLA
	if rc.ApprovalSLAHours > 0 {
		sla = time.Duration(rc.ApprovalSLAHours) * time.Hour
	}

	req := &firefighter.Request{
		ID:                   firefighter.NewID(firefighter.PrefixRequest, now),
		RequesterID:          in.RequesterID,
		TargetAccount:        in.TargetAccount,
		ReasonCode:           rc.Code,
		Justification:        in.Justification,
		TicketRef:            in.TicketRef,
		RequestedMinutes:     in.RequestedMinutes,
		Priority:             in.Priority,
		ApprovalChain:        datatypes.JSONSlice[string](append([]string{}, rc.ApprovalChain...)),
		Approvers:            datatypes.JSONSlice[string](approvers),
		RiskScore:            risk,
		RequiresDualApproval: dual,
		RequiresReview:       rc.ReviewRequired(r.cfg.RequiresReviewDefault),
		Status:               firefighter.RequestPendingApproval,
		SubmittedAt:          now,
		ApprovalDeadline:     now.Add(sla),
	}

	unlock, err := r.accounts.Lock(ctx, in.TargetAccount)
	if err != nil {
		return nil, fmt.Errorf("获取账号锁失败: %w", err)
	}
	defer unlock()

	active, err := r.sessions.ActiveForAccount(ctx, in.TargetAccount)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, firefighter.Conflictf("账号 %s 已存在活跃会话 %s", in.TargetAccount, active.ID)
	}
	var pending int64
	err = r.db.WithContext(ctx).Model(&firefighter.Request{}).
		Where("target_account = ? AND status = ?", in.TargetAccount, firefighter.RequestPendingApproval).
		Count(&pending).Error
	if err != nil {
		return nil, fmt.Errorf("查询待审批请求失败: %w", err)
	}
	if pending > 0 {
		return nil, firefighter.Conflictf("账号 %s 已有待审批的请求", in.TargetAccount)
	}

	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return nil, fmt.Errorf("保存请求失败: %w", err)
	}

	metrics.RequestsSubmitted.WithLabelValues(req.ReasonCode, string(req.Priority)).Inc()
	metrics.RequestRiskScore.Observe(float64(risk))
	r.audit.Record(ctx, audit.EventRequestSubmitted, req.ID, req.RequesterID, map[string]any{
		"target_account":         req.TargetAccount,
		"reason_code":            req.ReasonCode,
		"ticket_ref":             req.TicketRef,
		"requested_minutes":      req.RequestedMinutes,
		"priority":               string(req.Priority),
		"risk_score":             risk,
		"requires_dual_approval": dual,
		"approvers":              []string(req.Approvers),
	})
	for _, approver := range approvers {
		r.notifier.Notify(ctx, approver, "待审批的紧急访问请求",
			fmt.Sprintf("%s 申请账号 %s（%s，风险 %d），请在 %s 前处理。请求编号 %s",
				req.RequesterID, req.TargetAccount, req.ReasonCode, risk,
				req.ApprovalDeadline.Format(time.RFC3339), req.ID))
	}

	logger.WithContext(ctx, r.logger).Info("紧急访问请求已提交",
		zap.String("request_id", req.ID),
		zap.String("account", req.TargetAccount),
		zap.String("reason_code", req.ReasonCode),
		zap.Int("risk_score", risk),
		zap.Bool("dual_approval", dual),
	)
	return req, nil
}

// resolveApprovers 把审批链角色解析为去重后的审批人
func (r *Router) resolveApprovers(chain []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, role := range chain {
		ids := r.cfg.Approvers[strings.ToLower(role)]
		if len(ids) == 0 {
			return nil, firefighter.Validationf("审批角色 %s 未配置审批人", role)
		}
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out, nil
}

// Decision 审批决定参数
type Decision struct {
	ApproverID string `json:"approverId"`
	Comment    string `json:"comment"`
	// RequireReview 审批人要求事后复核；只能打开，不能关闭
	RequireReview bool `json:"requireReview"`
}

// Approve 记录审批通过；审批人数满足后开通会话
//
// 双人审批时第一份同意只记录决定，返回的会话为 nil。开通失败时本次同意被撤回，
// 请求回到待审批状态。
func (r *Router) Approve(ctx context.Context, requestID string, d Decision) (*firefighter.Request, *firefighter.Session, error) {
	unlock, err := r.requests.Lock(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	req, err := r.Get(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if err := r.checkDecider(ctx, req, d.ApproverID); err != nil {
		return nil, nil, err
	}

	now := r.now()
	decision := &firefighter.RequestApproval{
		ID:         firefighter.NewID(firefighter.PrefixDecision, now),
		RequestID:  req.ID,
		ApproverID: d.ApproverID,
		Decision:   DecisionApproved,
		Comment:    d.Comment,
		DecidedAt:  now,
	}
	overrideReview := d.RequireReview && r.cfg.AllowReviewOverride && !req.RequiresReview
	// 决定与复核要求一起落库，复核要求不能因写入失败而丢失
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(decision).Error; err != nil {
			return fmt.Errorf("保存审批决定失败: %w", err)
		}
		if !overrideReview {
			return nil
		}
		if err := tx.Model(&firefighter.Request{}).Where("id = ?", req.ID).Update("requires_review", true).Error; err != nil {
			return fmt.Errorf("保存复核要求失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if overrideReview {
		req.RequiresReview = true
	}

	var approvals int64
	err = r.db.WithContext(ctx).Model(&firefighter.RequestApproval{}).
		Where("request_id = ? AND decision = ?", req.ID, DecisionApproved).
		Count(&approvals).Error
	if err != nil {
		return nil, nil, fmt.Errorf("统计审批决定失败: %w", err)
	}
	log := logger.WithContext(ctx, r.logger).With(
		zap.String("request_id", req.ID),
		zap.String("approver", d.ApproverID),
	)

	if approvals < int64(r.required(req)) {
		metrics.ApprovalDecisions.WithLabelValues("partial").Inc()
		r.audit.Record(ctx, audit.EventRequestApproved, req.ID, d.ApproverID, map[string]any{
			"partial":   true,
			"approvals": approvals,
			"comment":   d.Comment,
		})
		log.Info("已记录第一份审批，等待第二审批人")
		return req, nil, nil
	}

	req.Status = firefighter.RequestApproved
	req.DecidedAt = &now
	err = r.db.WithContext(ctx).Model(req).Updates(map[string]any{
		"status":          req.Status,
		"decided_at":      now,
		"requires_review": req.RequiresReview,
	}).Error
	if err != nil {
		return nil, nil, fmt.Errorf("更新请求状态失败: %w", err)
	}

	session, err := r.sessions.StartSession(ctx, req)
	if err != nil {
		log.Error("开通会话失败，回滚审批", zap.Error(err))
		r.rollback(ctx, req, decision, err)
		return nil, nil, err
	}

	req.SessionID = session.ID
	if err := r.db.WithContext(ctx).Model(req).Update("session_id", session.ID).Error; err != nil {
		log.Warn("回写会话编号失败", zap.String("session_id", session.ID), zap.Error(err))
	}

	metrics.ApprovalDecisions.WithLabelValues(DecisionApproved).Inc()
	r.audit.Record(ctx, audit.EventRequestApproved, req.ID, d.ApproverID, map[string]any{
		"approvals":       approvals,
		"comment":         d.Comment,
		"session_id":      session.ID,
		"requires_review": req.RequiresReview,
	})
	r.notifier.Notify(ctx, req.RequesterID, "紧急访问请求已批准",
		fmt.Sprintf("请求 %s 已由 %s 批准，会话 %s", req.ID, d.ApproverID, session.ID))

	log.Info("紧急访问请求已批准", zap.String("session_id", session.ID))
	return req, session, nil
}

func (r *Router) required(req *firefighter.Request) int {
	if req.RequiresDualApproval {
		return 2
	}
	return 1
}

func (r *Router) rollback(ctx context.Context, req *firefighter.Request, decision *firefighter.RequestApproval, cause error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(decision).Error; err != nil {
			return err
		}
		return tx.Model(req).Updates(map[string]any{
			"status":     firefighter.RequestPendingApproval,
			"decided_at": nil,
		}).Error
	})
	if err != nil {
		logger.WithContext(ctx, r.logger).Error("回滚审批失败",
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
	}
	req.Status = firefighter.RequestPendingApproval
	req.DecidedAt = nil

	metrics.ApprovalDecisions.WithLabelValues("rolled_back").Inc()
	r.audit.Record(ctx, audit.EventRequestRolledBack, req.ID, decision.ApproverID, map[string]any{
		"error": cause.Error(),
		"kind":  string(firefighter.KindOf(cause)),
	})
}

// Reject 拒绝请求，终态
func (r *Router) Reject(ctx context.Context, requestID, approverID, reason string) (*firefighter.Request, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, firefighter.Validationf("拒绝原因不能为空")
	}
	unlock, err := r.requests.Lock(ctx, requestID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	req, err := r.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := r.checkDecider(ctx, req, approverID); err != nil {
		return nil, err
	}

	now := r.now()
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		decision := &firefighter.RequestApproval{
			ID:         firefighter.NewID(firefighter.PrefixDecision, now),
			RequestID:  req.ID,
			ApproverID: approverID,
			Decision:   DecisionRejected,
			Comment:    reason,
			DecidedAt:  now,
		}
		if err := tx.Create(decision).Error; err != nil {
			return err
		}
		return tx.Model(req).Updates(map[string]any{
			"status":           firefighter.RequestRejected,
			"decided_at":       now,
			"rejection_reason": reason,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("保存拒绝决定失败: %w", err)
	}
	req.Status = firefighter.RequestRejected
	req.DecidedAt = &now
	req.RejectionReason = reason

	metrics.ApprovalDecisions.WithLabelValues(DecisionRejected).Inc()
	r.audit.Record(ctx, audit.EventRequestRejected, req.ID, approverID, map[string]any{"reason": reason})
	r.notifier.Notify(ctx, req.RequesterID, "紧急访问请求被拒绝",
		fmt.Sprintf("请求 %s 被 %s 拒绝：%s", req.ID, approverID, reason))

	logger.WithContext(ctx, r.logger).Info("紧急访问请求已拒绝",
		zap.String("request_id", req.ID),
		zap.String("approver", approverID),
	)
	return req, nil
}

// checkDecider 校验请求状态与审批人资格
func (r *Router) checkDecider(ctx context.Context, req *firefighter.Request, approverID string) error {
	if req.Status != firefighter.RequestPendingApproval {
		return firefighter.InvalidStatef("请求 %s 状态为 %s，不能审批", req.ID, req.Status)
	}
	if !contains(req.Approvers, approverID) {
		return firefighter.Permissionf("%s 不是请求 %s 的审批人", approverID, req.ID)
	}
	if approverID == req.RequesterID {
		return firefighter.Permissionf("申请人不能审批自己的请求")
	}
	var decided int64
	err := r.db.WithContext(ctx).Model(&firefighter.RequestApproval{}).
		Where("request_id = ? AND approver_id = ?", req.ID, approverID).
		Count(&decided).Error
	if err != nil {
		return fmt.Errorf("查询审批决定失败: %w", err)
	}
	if decided > 0 {
		return firefighter.Conflictf("%s 已对请求 %s 做出决定", approverID, req.ID)
	}
	return nil
}

// Get 查询请求
func (r *Router) Get(ctx context.Context, requestID string) (*firefighter.Request, error) {
	var req firefighter.Request
	err := r.db.WithContext(ctx).Where("id = ?", requestID).Take(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, firefighter.NotFoundf("请求 %s 不存在", requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("查询请求失败: %w", err)
	}
	return &req, nil
}

// Decisions 请求的审批决定，按时间排序
func (r *Router) Decisions(ctx context.Context, requestID string) ([]firefighter.RequestApproval, error) {
	var decisions []firefighter.RequestApproval
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("decided_at ASC").
		Find(&decisions).Error
	if err != nil {
		return nil, fmt.Errorf("查询审批决定失败: %w", err)
	}
	return decisions, nil
}

// ListPending 审批人名下的待审批请求；approverID 为空时返回全部
func (r *Router) ListPending(ctx context.Context, approverID string) ([]firefighter.Request, error) {
	var all []firefighter.Request
	err := r.db.WithContext(ctx).
		Where("status = ?", firefighter.RequestPendingApproval).
		Order("submitted_at ASC").
		Find(&all).Error
	if err != nil {
		return nil, fmt.Errorf("查询待审批请求失败: %w", err)
	}
	if approverID == "" {
		return all, nil
	}
	out := all[:0]
	for _, req := range all {
		if contains(req.Approvers, approverID) {
			out = append(out, req)
		}
	}
	return out, nil
}

// RemindOverdue 对超过审批时限的请求提醒审批人，每个请求只提醒一次
func (r *Router) RemindOverdue(ctx context.Context) (int, error) {
	now := r.now()
	var overdue []firefighter.Request
	err := r.db.WithContext(ctx).
		Where("status = ? AND approval_deadline < ? AND reminder_sent_at IS NULL", firefighter.RequestPendingApproval, now).
		Find(&overdue).Error
	if err != nil {
		return 0, fmt.Errorf("查询超时请求失败: %w", err)
	}

	reminded := 0
	for i := range overdue {
		req := &overdue[i]
		res := r.db.WithContext(ctx).Model(&firefighter.Request{}).
			Where("id = ? AND reminder_sent_at IS NULL", req.ID).
			Update("reminder_sent_at", now)
		if res.Error != nil {
			r.logger.Warn("记录审批提醒失败", zap.String("request_id", req.ID), zap.Error(res.Error))
			continue
		}
		if res.RowsAffected == 0 {
			continue
		}
		for _, approver := range req.Approvers {
			r.notifier.Notify(ctx, approver, "紧急访问请求审批超时",
				fmt.Sprintf("请求 %s（账号 %s）已超过审批时限 %s，请尽快处理",
					req.ID, req.TargetAccount, req.ApprovalDeadline.Format(time.RFC3339)))
		}
		metrics.ApprovalReminders.Inc()
		r.audit.Record(ctx, audit.EventApprovalReminder, req.ID, "system", map[string]any{
			"deadline": req.ApprovalDeadline.Format(time.RFC3339),
		})
		reminded++
	}
	return reminded, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
