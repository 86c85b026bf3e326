package firefighter

import "context"

// 组件之间的协作接口。各组件只依赖接口，便于在 wire 阶段组装和在测试中替换。

// SessionStarter 审批通过后把请求转换为租约会话
type SessionStarter interface {
	StartSession(ctx context.Context, req *Request) (*Session, error)
}

// SessionObserver 关注会话开始、延期与结束（实时监控）
type SessionObserver interface {
	SessionStarted(s *Session)
	SessionExtended(s *Session)
	SessionEnded(s *Session)
}

// ActivityObserver 关注活动记录（实时监控）
type ActivityObserver interface {
	ActivityRecorded(s *Session, rec *ActivityRecord)
}

// ReviewTrigger 会话结束后创建控制人复核
type ReviewTrigger interface {
	OnSessionEnded(ctx context.Context, s *Session) (*ControllerReview, error)
}

// AlertInput 告警输入
type AlertInput struct {
	Type          AlertType
	Severity      Severity
	SessionID     string
	UserID        string
	TargetAccount string
	Message       string
}

// AlertRaiser 产生告警
type AlertRaiser interface {
	Raise(ctx context.Context, in AlertInput) (*Alert, error)
}

// AuditRecorder 写入防篡改审计轨迹，失败不影响业务流程
type AuditRecorder interface {
	Record(ctx context.Context, event, subjectID, actor string, details map[string]any)
}

// Notifier 即发即弃通知
type Notifier interface {
	Notify(ctx context.Context, recipient, subject, body string)
}

// NopAuditRecorder 空实现
type NopAuditRecorder struct{}

// Record 忽略事件
func (NopAuditRecorder) Record(context.Context, string, string, string, map[string]any) {}

// NopNotifier 空实现
type NopNotifier struct{}

// Notify 忽略通知
func (NopNotifier) Notify(context.Context, string, string, string) {}
