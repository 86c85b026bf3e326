// Package activity 记录紧急访问会话中的操作，并按受限操作与敏感对象清单分类。
package activity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/audit"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter"
	"github.com/prasantk47/governexplus-sub004/internal/logger"
	"github.com/prasantk47/governexplus-sub004/internal/metrics"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Store 活动记录存储，由会话租约管理器实现
type Store interface {
	RecordActivity(ctx context.Context, rec *firefighter.ActivityRecord) (*firefighter.Session, error)
	Activities(ctx context.Context, sessionID string) ([]firefighter.ActivityRecord, error)
}

// 视为变更类的操作类型
var changeActionTypes = map[string]struct{}{
	"CREATE":  {},
	"UPDATE":  {},
	"MODIFY":  {},
	"DELETE":  {},
	"EXECUTE": {},
	"CONFIG":  {},
}

// Classification 分类结果
type Classification struct {
	IsSensitive  bool                  `json:"isSensitive"`
	IsRestricted bool                  `json:"isRestricted"`
	RiskLevel    firefighter.RiskLevel `json:"riskLevel"`
}

// Classifier 基于静态清单的活动分类器
type Classifier struct {
	actions *firefighter.ActionCatalog
}

// NewClassifier 创建分类器
func NewClassifier(actions *firefighter.ActionCatalog) *Classifier {
	return &Classifier{actions: actions}
}

// Classify 受限操作强制视为敏感；风险级别依次为 critical、high、medium、low
func (c *Classifier) Classify(actionCode, actionType, targetObject string) Classification {
	restricted := c.actions.IsRestricted(actionCode)
	sensitive := restricted || c.actions.IsSensitiveObject(targetObject)

	level := firefighter.RiskLow
	switch {
	case restricted:
		level = firefighter.RiskCritical
	case sensitive:
		level = firefighter.RiskHigh
	default:
		if _, ok := changeActionTypes[strings.ToUpper(strings.TrimSpace(actionType))]; ok {
			level = firefighter.RiskMedium
		}
	}
	return Classification{IsSensitive: sensitive, IsRestricted: restricted, RiskLevel: level}
}

// Input 一条待记录的操作
type Input struct {
	SessionID    string         `json:"sessionId"`
	ActionCode   string         `json:"actionCode"`
	ActionType   string         `json:"actionType"`
	TargetObject string         `json:"targetObject"`
	Description  string         `json:"description"`
	OccurredAt   time.Time      `json:"occurredAt"`
	Details      map[string]any `json:"details,omitempty"`
}

// Logger 活动记录器
type Logger struct {
	store      Store
	classifier *Classifier
	alerts     firefighter.AlertRaiser
	observers  []firefighter.ActivityObserver
	audit      firefighter.AuditRecorder
	logger     *zap.Logger
}

// Option 配置项
type Option func(*Logger)

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(a *Logger) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithAlertRaiser 设置告警服务
func WithAlertRaiser(r firefighter.AlertRaiser) Option {
	return func(a *Logger) { a.alerts = r }
}

// WithObserver 追加活动观察者
func WithObserver(o firefighter.ActivityObserver) Option {
	return func(a *Logger) {
		if o != nil {
			a.observers = append(a.observers, o)
		}
	}
}

// WithAuditRecorder 设置审计记录器
func WithAuditRecorder(r firefighter.AuditRecorder) Option {
	return func(a *Logger) {
		if r != nil {
			a.audit = r
		}
	}
}

// NewLogger 创建活动记录器
func NewLogger(store Store, actions *firefighter.ActionCatalog, opts ...Option) *Logger {
	a := &Logger{
		store:      store,
		classifier: NewClassifier(actions),
		audit:      firefighter.NopAuditRecorder{},
		logger:     logger.Get(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Log 记录一条操作；受限操作同步产生一条高危告警
//
// 记录不校验时间顺序也不去重，调用方传入的敏感标记不参与分类。
func (a *Logger) Log(ctx context.Context, in Input) (*firefighter.ActivityRecord, error) {
	if strings.TrimSpace(in.SessionID) == "" {
		return nil, firefighter.Validationf("会话编号不能为空")
	}
	if strings.TrimSpace(in.ActionCode) == "" {
		return nil, firefighter.Validationf("操作码不能为空")
	}

	c := a.classifier.Classify(in.ActionCode, in.ActionType, in.TargetObject)
	details := datatypes.JSONMap{}
	for k, v := range in.Details {
		details[k] = v
	}
	rec := &firefighter.ActivityRecord{
		SessionID:    in.SessionID,
		ActionCode:   strings.ToUpper(strings.TrimSpace(in.ActionCode)),
		ActionType:   in.ActionType,
		TargetObject: in.TargetObject,
		Description:  in.Description,
		OccurredAt:   in.OccurredAt,
		IsSensitive:  c.IsSensitive,
		IsRestricted: c.IsRestricted,
		RiskLevel:    c.RiskLevel,
		Details:      details,
	}

	s, err := a.store.RecordActivity(ctx, rec)
	if err != nil {
		return nil, err
	}
	metrics.ActivitiesLogged.WithLabelValues(string(rec.RiskLevel)).Inc()

	log := logger.WithContext(ctx, a.logger).With(
		zap.String("session_id", s.ID),
		zap.String("activity_id", rec.ID),
		zap.String("action_code", rec.ActionCode),
	)
	if rec.IsRestricted {
		a.raiseRestricted(ctx, s, rec, log)
	}
	for _, o := range a.observers {
		o.ActivityRecorded(s, rec)
	}

	if rec.IsSensitive {
		log.Info("记录敏感操作",
			zap.String("target_object", rec.TargetObject),
			zap.String("risk_level", string(rec.RiskLevel)),
		)
	} else {
		log.Debug("记录操作")
	}
	return rec, nil
}

func (a *Logger) raiseRestricted(ctx context.Context, s *firefighter.Session, rec *firefighter.ActivityRecord, log *zap.Logger) {
	a.audit.Record(ctx, audit.EventRestrictedAction, s.ID, s.RequesterID, map[string]any{
		"activity_id":    rec.ID,
		"action_code":    rec.ActionCode,
		"target_object":  rec.TargetObject,
		"target_account": s.TargetAccount,
	})
	if a.alerts == nil {
		return
	}
	_, err := a.alerts.Raise(ctx, firefighter.AlertInput{
		Type:          firefighter.AlertRestrictedAction,
		Severity:      firefighter.SeverityHigh,
		SessionID:     s.ID,
		UserID:        s.RequesterID,
		TargetAccount: s.TargetAccount,
		Message:       fmt.Sprintf("执行受限操作 %s（对象 %s）", rec.ActionCode, rec.TargetObject),
	})
	if err != nil {
		log.Error("受限操作告警写入失败", zap.Error(err))
	}
}

// List 会话的全部活动记录
func (a *Logger) List(ctx context.Context, sessionID string) ([]firefighter.ActivityRecord, error) {
	return a.store.Activities(ctx, sessionID)
}

// Classify 仅分类不记录
func (a *Logger) Classify(actionCode, actionType, targetObject string) Classification {
	return a.classifier.Classify(actionCode, actionType, targetObject)
}
