package audit

// 请求与审批事件
const (
	EventRequestSubmitted  = "request.submitted"   // 提交紧急访问请求
	EventRequestApproved   = "request.approved"    // 审批通过
	EventRequestRejected   = "request.rejected"    // 审批拒绝
	EventRequestRolledBack = "request.rolled_back" // 开通失败，审批回滚
	EventApprovalReminder  = "request.reminder"    // 审批超时提醒
)

// 会话事件
const (
	EventSessionCreated   = "session.created"
	EventSessionExtended  = "session.extended"
	EventSessionCompleted = "session.completed"
	EventSessionExpired   = "session.expired"
	EventSessionRevoked   = "session.revoked"
	EventCredentialViewed = "session.credential_viewed"
)

// 活动与告警事件
const (
	EventRestrictedAction  = "activity.restricted" // 执行受限操作
	EventAlertAcknowledged = "alert.acknowledged"
)

// 复核与证据事件
const (
	EventReviewCreated   = "review.created"
	EventReviewStarted   = "review.started"
	EventReviewCompleted = "review.completed"
	EventReviewEscalated = "review.escalated"
	EventEvidenceExport  = "evidence.exported"
)

// EventCategory 事件分类
type EventCategory string

const (
	CategoryRequest  EventCategory = "request"
	CategorySession  EventCategory = "session"
	CategorySecurity EventCategory = "security"
	CategoryReview   EventCategory = "review"
	CategoryEvidence EventCategory = "evidence"
)

// GetEventCategory 获取事件分类
func GetEventCategory(event string) EventCategory {
	switch event {
	case EventRequestSubmitted, EventRequestApproved, EventRequestRejected,
		EventRequestRolledBack, EventApprovalReminder:
		return CategoryRequest

	case EventSessionCreated, EventSessionExtended, EventSessionCompleted, EventSessionExpired:
		return CategorySession

	case EventSessionRevoked, EventCredentialViewed, EventRestrictedAction, EventAlertAcknowledged:
		return CategorySecurity

	case EventReviewCreated, EventReviewStarted, EventReviewCompleted, EventReviewEscalated:
		return CategoryReview

	case EventEvidenceExport:
		return CategoryEvidence

	default:
		return CategorySession
	}
}
