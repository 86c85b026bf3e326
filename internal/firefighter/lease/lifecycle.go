package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/audit"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter"
	"github.com/prasantk47/governexplus-sub004/internal/metrics"
	"github.com/prasantk47/governexplus-sub004/internal/scheduler"
	"github.com/prasantk47/governexplus-sub004/internal/security"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// credentialLength 一次性凭证长度
const credentialLength = 20

// StartSession 把已批准的请求转换为租约会话
//
// 开通顺序：解锁账号 → 设置临时凭证 → 落库（账号占用 + 会话）→ 安排到期定时器。
// 任何一步失败都不会留下会话；已解锁的账号会被重新锁定。
func (m *Manager) StartSession(ctx context.Context, req *firefighter.Request) (s *firefighter.Session, err error) {
	ctx, span := m.tracer.Start(ctx, "lease.StartSession")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(
		attribute.String("request_id", req.ID),
		attribute.String("account", req.TargetAccount),
	)

	rc, ok := m.reasons.Lookup(req.ReasonCode)
	if !ok {
		return nil, firefighter.Validationf("未知的原因代码: %s", req.ReasonCode)
	}
	if req.RequestedMinutes <= 0 {
		return nil, firefighter.Validationf("申请时长必须大于 0")
	}

	unlock, err := m.accounts.Lock(ctx, req.TargetAccount)
	if err != nil {
		return nil, fmt.Errorf("获取账号锁失败: %w", err)
	}
	defer unlock()

	if err := m.checkAccountFree(ctx, req); err != nil {
		return nil, err
	}

	now := m.now()
	duration := req.RequestedDuration()
	if limit := rc.MaxDuration(); duration > limit {
		duration = limit
	}

	s = &firefighter.Session{
		ID:              firefighter.NewID(firefighter.PrefixSession, now),
		RequestID:       req.ID,
		RequesterID:     req.RequesterID,
		TargetAccount:   req.TargetAccount,
		ReasonCode:      rc.Code,
		StartTime:       now,
		EndTime:         now.Add(duration),
		OriginalEndTime: now.Add(duration),
		MaxExtensions:   m.maxExtensions,
		Status:          firefighter.SessionActive,
		RequiresReview:  req.RequiresReview,
	}
	log := m.logWith(ctx, s)

	secret, err := security.GenerateCredential(credentialLength)
	if err != nil {
		return nil, fmt.Errorf("生成临时凭证失败: %w", err)
	}
	if s.CredentialCipher, err = m.cipher.Seal(secret, s.ID); err != nil {
		return nil, fmt.Errorf("封存临时凭证失败: %w", err)
	}

	if err := m.connector.Unlock(ctx, s.TargetAccount); err != nil {
		metrics.ProvisioningFailures.WithLabelValues("unlock").Inc()
		log.Error("解锁特权账号失败，回滚锁定", zap.Error(err))
		// 超时的解锁可能已在目标系统生效
		m.relock(ctx, s)
		return nil, fmt.Errorf("%w: 解锁账号 %s: %v", firefighter.ErrProvisioning, s.TargetAccount, err)
	}
	if err := m.connector.SetTemporaryCredential(ctx, s.TargetAccount, secret); err != nil {
		metrics.ProvisioningFailures.WithLabelValues("credential").Inc()
		log.Error("设置临时凭证失败，回滚解锁", zap.Error(err))
		m.relock(ctx, s)
		return nil, fmt.Errorf("%w: 设置临时凭证 %s: %v", firefighter.ErrProvisioning, s.TargetAccount, err)
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lease := &firefighter.AccountLease{TargetAccount: s.TargetAccount, SessionID: s.ID, AcquiredAt: now}
		if err := tx.Create(lease).Error; err != nil {
			return err
		}
		return tx.Create(s).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 另一个实例抢先占用了账号，账号归属对方会话，不能重新锁定
			log.Error("账号已被其他会话占用", zap.Error(err))
			return nil, firefighter.Conflictf("账号 %s 已存在活跃会话", s.TargetAccount)
		}
		log.Error("保存会话失败，回滚开通", zap.Error(err))
		m.relock(ctx, s)
		return nil, fmt.Errorf("保存会话失败: %w", err)
	}

	m.scheduleExpiry(ctx, s)

	metrics.SessionsActive.Inc()
	for _, o := range m.observers {
		o.SessionStarted(s)
	}
	m.audit.Record(ctx, audit.EventSessionCreated, s.ID, req.RequesterID, map[string]any{
		"request_id":        req.ID,
		"target_account":    s.TargetAccount,
		"reason_code":       s.ReasonCode,
		"requested_minutes": req.RequestedMinutes,
		"granted_minutes":   minutesOf(duration),
		"end_time":          s.EndTime.Format(time.RFC3339),
		"requires_review":   s.RequiresReview,
	})
	m.notifier.Notify(ctx, s.RequesterID, "紧急访问会话已开通",
		fmt.Sprintf("会话 %s 已开通，账号 %s 可用至 %s", s.ID, s.TargetAccount, s.EndTime.Format(time.RFC3339)))

	log.Info("紧急访问会话已开通",
		zap.String("request_id", req.ID),
		zap.Duration("duration", duration),
		zap.Time("end_time", s.EndTime),
	)
	return s, nil
}

func (m *Manager) checkAccountFree(ctx context.Context, req *firefighter.Request) error {
	db := m.db.WithContext(ctx)

	var leases int64
	if err := db.Model(&firefighter.AccountLease{}).Where("target_account = ?", req.TargetAccount).Count(&leases).Error; err != nil {
		return fmt.Errorf("查询账号占用失败: %w", err)
	}
	if leases > 0 {
		return firefighter.Conflictf("账号 %s 已存在活跃会话", req.TargetAccount)
	}

	var existing int64
	if err := db.Model(&firefighter.Session{}).Where("request_id = ?", req.ID).Count(&existing).Error; err != nil {
		return fmt.Errorf("查询会话失败: %w", err)
	}
	if existing > 0 {
		return firefighter.Conflictf("请求 %s 已开通过会话", req.ID)
	}
	return nil
}

// Extend 延长活跃会话的到期时间
func (m *Manager) Extend(ctx context.Context, sessionID string, minutes int, reason, actor string) (s *firefighter.Session, err error) {
	ctx, span := m.tracer.Start(ctx, "lease.Extend")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.String("session_id", sessionID), attribute.Int("minutes", minutes))

	if minutes <= 0 {
		return nil, firefighter.Validationf("延期时长必须大于 0")
	}

	unlock, err := m.sessions.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err = m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	if s.Status != firefighter.SessionActive {
		return nil, firefighter.InvalidStatef("会话 %s 状态为 %s，不能延期", s.ID, s.Status)
	}
	if !now.Before(s.EndTime) {
		return nil, firefighter.InvalidStatef("会话 %s 已到期，不能延期", s.ID)
	}
	if s.ExtensionCount >= s.MaxExtensions {
		return nil, firefighter.LimitExceededf("会话 %s 已延期 %d 次，达到上限", s.ID, s.ExtensionCount)
	}
	if minutes > m.maxExtensionMinutes {
		return nil, firefighter.LimitExceededf("单次延期不能超过 %d 分钟", m.maxExtensionMinutes)
	}

	ext := &firefighter.SessionExtension{
		ID:              firefighter.NewID(firefighter.PrefixExtension, now),
		SessionID:       s.ID,
		Sequence:        s.ExtensionCount + 1,
		PreviousEndTime: s.EndTime,
		NewEndTime:      s.EndTime.Add(time.Duration(minutes) * time.Minute),
		Minutes:         minutes,
		Reason:          reason,
		ExtendedBy:      actor,
		ExtendedAt:      now,
	}
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&firefighter.Session{}).
			Where("id = ? AND status = ? AND extension_count = ?", s.ID, firefighter.SessionActive, s.ExtensionCount).
			Updates(map[string]any{
				"end_time":        ext.NewEndTime,
				"extension_count": ext.Sequence,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return firefighter.InvalidStatef("会话 %s 状态已变化", s.ID)
		}
		return tx.Create(ext).Error
	})
	if err != nil {
		if firefighter.KindOf(err) == firefighter.KindInvalidState {
			return nil, err
		}
		return nil, fmt.Errorf("保存延期失败: %w", err)
	}
	s.EndTime = ext.NewEndTime
	s.ExtensionCount = ext.Sequence

	m.scheduleExpiry(ctx, s)

	metrics.SessionExtensions.Inc()
	for _, o := range m.observers {
		o.SessionExtended(s)
	}
	m.audit.Record(ctx, audit.EventSessionExtended, s.ID, actor, map[string]any{
		"sequence":          ext.Sequence,
		"minutes":           minutes,
		"previous_end_time": ext.PreviousEndTime.Format(time.RFC3339),
		"new_end_time":      ext.NewEndTime.Format(time.RFC3339),
		"reason":            reason,
	})
	m.logWith(ctx, s).Info("会话已延期",
		zap.Int("sequence", ext.Sequence),
		zap.Int("minutes", minutes),
		zap.Time("end_time", s.EndTime),
	)
	return s, nil
}

// End 申请人主动结束会话
func (m *Manager) End(ctx context.Context, sessionID, actor, reason string) (*firefighter.Session, error) {
	return m.terminate(ctx, sessionID, transition{
		status: firefighter.SessionCompleted,
		actor:  actor,
		reason: reason,
		authorize: func(s *firefighter.Session) error {
			if actor != s.RequesterID {
				return firefighter.Permissionf("只有申请人可以结束会话 %s", s.ID)
			}
			return nil
		},
	})
}

// Expire 到期定时器回调；会话已结束或已被延期时返回 (nil, nil)
func (m *Manager) Expire(ctx context.Context, sessionID string) (*firefighter.Session, error) {
	s, err := m.terminate(ctx, sessionID, transition{
		status: firefighter.SessionExpired,
		actor:  "system",
		reason: "租约到期",
		timer:  true,
	})
	if firefighter.KindOf(err) == firefighter.KindNotFound {
		m.logger.Warn("到期定时器对应的会话不存在", zap.String("session_id", sessionID))
		return nil, nil
	}
	return s, err
}

// Revoke 管理员紧急撤销会话
func (m *Manager) Revoke(ctx context.Context, sessionID, actor, reason string) (*firefighter.Session, error) {
	if actor == "" {
		return nil, firefighter.Validationf("撤销操作人不能为空")
	}
	if reason == "" {
		return nil, firefighter.Validationf("撤销原因不能为空")
	}
	return m.terminate(ctx, sessionID, transition{
		status: firefighter.SessionRevoked,
		actor:  actor,
		reason: reason,
	})
}

type transition struct {
	status    firefighter.SessionStatus
	actor     string
	reason    string
	timer     bool
	authorize func(s *firefighter.Session) error
}

// terminate 所有结束路径共用的受保护状态迁移
func (m *Manager) terminate(ctx context.Context, sessionID string, t transition) (s *firefighter.Session, err error) {
	ctx, span := m.tracer.Start(ctx, "lease.terminate")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("status", string(t.status)),
		attribute.Bool("timer", t.timer),
	)

	unlock, err := m.sessions.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err = m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := m.now()

	if s.Status.Terminal() {
		if t.timer {
			metrics.TimerFirings.WithLabelValues(scheduler.KindSessionExpire, "stale").Inc()
			return nil, nil
		}
		return nil, firefighter.InvalidStatef("会话 %s 已处于终态 %s", s.ID, s.Status)
	}
	if t.timer && now.Before(s.EndTime) {
		// 提前触发（时钟回拨、会话已延期）：按当前到期时间重新安排，会话仍须在 end_time 结束
		metrics.TimerFirings.WithLabelValues(scheduler.KindSessionExpire, "early").Inc()
		m.logWith(ctx, s).Info("到期定时器提前触发，重新安排",
			zap.Time("end_time", s.EndTime),
			zap.Duration("remaining", s.EndTime.Sub(now)),
		)
		m.scheduleExpiry(ctx, s)
		return nil, nil
	}
	if t.authorize != nil {
		if err := t.authorize(s); err != nil {
			return nil, err
		}
	}

	log := m.logWith(ctx, s)
	if err := m.connector.Lock(ctx, s.TargetAccount); err != nil {
		metrics.ProvisioningFailures.WithLabelValues("lock").Inc()
		log.Error("锁定特权账号失败，需要人工处理", zap.Error(err))
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&firefighter.Session{}).
			Where("id = ? AND status = ?", s.ID, firefighter.SessionActive).
			Updates(map[string]any{
				"status":     t.status,
				"ended_at":   now,
				"ended_by":   t.actor,
				"end_reason": t.reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return firefighter.InvalidStatef("会话 %s 状态已变化", s.ID)
		}
		return tx.Where("target_account = ? AND session_id = ?", s.TargetAccount, s.ID).
			Delete(&firefighter.AccountLease{}).Error
	})
	if err != nil {
		if firefighter.KindOf(err) == firefighter.KindInvalidState {
			return nil, err
		}
		return nil, fmt.Errorf("保存会话终态失败: %w", err)
	}
	s.Status = t.status
	s.EndedAt = &now
	s.EndedBy = t.actor
	s.EndReason = t.reason

	if m.scheduler != nil && !t.timer {
		m.scheduler.Cancel(ctx, scheduler.KindSessionExpire, s.ID)
	}

	metrics.SessionsActive.Dec()
	metrics.SessionsEnded.WithLabelValues(string(t.status)).Inc()
	for _, o := range m.observers {
		o.SessionEnded(s)
	}
	m.audit.Record(ctx, endEvent(t.status), s.ID, t.actor, map[string]any{
		"target_account":   s.TargetAccount,
		"reason":           t.reason,
		"end_time":         s.EndTime.Format(time.RFC3339),
		"activity_count":   s.ActivityCount,
		"restricted_count": s.RestrictedActivityCount,
	})

	if t.status == firefighter.SessionRevoked {
		m.raiseRevoked(ctx, s)
	}
	if s.RequiresReview && m.reviews != nil {
		m.triggerReview(ctx, s)
	}

	m.notifier.Notify(ctx, s.RequesterID, "紧急访问会话已结束",
		fmt.Sprintf("会话 %s 已结束（%s）：%s", s.ID, s.Status, t.reason))

	log.Info("紧急访问会话已结束",
		zap.String("status", string(s.Status)),
		zap.String("ended_by", t.actor),
	)
	return s, nil
}

func (m *Manager) raiseRevoked(ctx context.Context, s *firefighter.Session) {
	if m.alerts != nil {
		_, err := m.alerts.Raise(ctx, firefighter.AlertInput{
			Type:          firefighter.AlertSessionRevoked,
			Severity:      firefighter.SeverityCritical,
			SessionID:     s.ID,
			UserID:        s.RequesterID,
			TargetAccount: s.TargetAccount,
			Message:       fmt.Sprintf("会话被 %s 撤销：%s", s.EndedBy, s.EndReason),
		})
		if err != nil {
			m.logWith(ctx, s).Warn("撤销告警写入失败", zap.Error(err))
		}
	}
	m.notifier.Notify(ctx, m.securityTeam, "紧急访问会话被撤销",
		fmt.Sprintf("会话 %s（账号 %s，申请人 %s）已被 %s 撤销：%s",
			s.ID, s.TargetAccount, s.RequesterID, s.EndedBy, s.EndReason))
}

func (m *Manager) triggerReview(ctx context.Context, s *firefighter.Session) {
	review, err := m.reviews.OnSessionEnded(ctx, s)
	if err != nil {
		m.logWith(ctx, s).Error("创建控制人复核失败", zap.Error(err))
		return
	}
	if review == nil {
		return
	}
	s.ReviewID = review.ID
	err = m.db.WithContext(ctx).Model(&firefighter.Session{}).
		Where("id = ?", s.ID).
		Update("review_id", review.ID).Error
	if err != nil {
		m.logWith(ctx, s).Warn("回写复核编号失败", zap.String("review_id", review.ID), zap.Error(err))
	}
}

// Recover 启动时为活跃会话重新安排到期定时器，已过期的立即结束
func (m *Manager) Recover(ctx context.Context) (int, error) {
	sessions, err := m.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	now := m.now()
	expired := 0
	for i := range sessions {
		s := &sessions[i]
		if !now.Before(s.EndTime) {
			if _, err := m.Expire(ctx, s.ID); err != nil {
				m.logWith(ctx, s).Error("恢复时结束过期会话失败", zap.Error(err))
				continue
			}
			expired++
			continue
		}
		m.scheduleExpiry(ctx, s)
		for _, o := range m.observers {
			o.SessionStarted(s)
		}
	}
	metrics.SessionsActive.Set(float64(len(sessions) - expired))
	m.logger.Info("会话定时器恢复完成",
		zap.Int("active", len(sessions)-expired),
		zap.Int("expired", expired),
	)
	return len(sessions), nil
}

func (m *Manager) scheduleExpiry(ctx context.Context, s *firefighter.Session) {
	if m.scheduler == nil {
		return
	}
	if err := m.scheduler.Schedule(ctx, scheduler.KindSessionExpire, s.ID, s.EndTime); err != nil {
		// 监控巡检会兜底发现未关闭的过期会话
		m.logWith(ctx, s).Error("安排到期定时器失败", zap.Error(err))
	}
}

func (m *Manager) relock(ctx context.Context, s *firefighter.Session) {
	if err := m.connector.Lock(ctx, s.TargetAccount); err != nil {
		metrics.ProvisioningFailures.WithLabelValues("relock").Inc()
		m.logWith(ctx, s).Error("回滚锁定账号失败，需要人工处理", zap.Error(err))
	}
}

func endEvent(status firefighter.SessionStatus) string {
	switch status {
	case firefighter.SessionExpired:
		return audit.EventSessionExpired
	case firefighter.SessionRevoked:
		return audit.EventSessionRevoked
	default:
		return audit.EventSessionCompleted
	}
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
