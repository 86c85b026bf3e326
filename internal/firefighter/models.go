package firefighter

import (
	"time"

	"gorm.io/datatypes"
)

// Priority 请求优先级
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid 判断优先级是否合法
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// RequestStatus 请求生命周期: requested → pending_approval → approved|rejected
type RequestStatus string

const (
	RequestRequested       RequestStatus = "requested"
	RequestPendingApproval RequestStatus = "pending_approval"
	RequestApproved        RequestStatus = "approved"
	RequestRejected        RequestStatus = "rejected"
)

// SessionStatus 会话状态: ACTIVE → COMPLETED|EXPIRED|REVOKED
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionExpired   SessionStatus = "expired"
	SessionRevoked   SessionStatus = "revoked"
)

// Terminal 是否为终态
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionExpired || s == SessionRevoked
}

// ReviewStatus 复核状态: pending → in_progress → approved|flagged|escalated
type ReviewStatus string

const (
	ReviewPending    ReviewStatus = "pending"
	ReviewInProgress ReviewStatus = "in_progress"
	ReviewApproved   ReviewStatus = "approved"
	ReviewFlagged    ReviewStatus = "flagged"
	ReviewEscalated  ReviewStatus = "escalated"
)

// AlertType 告警类型
type AlertType string

const (
	AlertRestrictedAction AlertType = "RESTRICTED_ACTION"
	AlertSessionExpiring  AlertType = "SESSION_EXPIRING"
	AlertSessionExpired   AlertType = "SESSION_EXPIRED"
	AlertHighActivity     AlertType = "HIGH_ACTIVITY"
	AlertSessionRevoked   AlertType = "SESSION_REVOKED"
)

// Severity 告警严重级别
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RiskLevel 单条活动的风险级别
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Request 紧急访问请求，批准前由 ApprovalRouter 独占
type Request struct {
	ID            string `json:"id" gorm:"primaryKey;size:64"`
	RequesterID   string `json:"requesterId" gorm:"size:128;not null;index"`
	TargetAccount string `json:"targetAccount" gorm:"size:128;not null;index"`
	ReasonCode    string `json:"reasonCode" gorm:"size:64;not null"`
	Justification string `json:"justification" gorm:"type:text"`
	TicketRef     string `json:"ticketRef" gorm:"size:128"`

	RequestedMinutes int      `json:"requestedMinutes" gorm:"not null"`
	Priority         Priority `json:"priority" gorm:"size:16;not null"`

	ApprovalChain        datatypes.JSONSlice[string] `json:"approvalChain"`
	Approvers            datatypes.JSONSlice[string] `json:"approvers"`
	RiskScore            int                         `json:"riskScore"`
	RequiresDualApproval bool                        `json:"requiresDualApproval"`
	RequiresReview       bool                        `json:"requiresReview"`

	Status           RequestStatus `json:"status" gorm:"size:32;not null;index"`
	SubmittedAt      time.Time     `json:"submittedAt" gorm:"not null"`
	ApprovalDeadline time.Time     `json:"approvalDeadline"`
	DecidedAt        *time.Time    `json:"decidedAt,omitempty"`
	RejectionReason  string        `json:"rejectionReason,omitempty" gorm:"type:text"`
	SessionID        string        `json:"sessionId,omitempty" gorm:"size:64"`
	ReminderSentAt   *time.Time    `json:"reminderSentAt,omitempty"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TableName 表名
func (Request) TableName() string { return "ff_requests" }

// RequestedDuration 申请时长
func (r *Request) RequestedDuration() time.Duration {
	return time.Duration(r.RequestedMinutes) * time.Minute
}

// RequestApproval 单个审批人的决定
type RequestApproval struct {
	ID         string    `json:"id" gorm:"primaryKey;size:64"`
	RequestID  string    `json:"requestId" gorm:"size:64;not null;index"`
	ApproverID string    `json:"approverId" gorm:"size:128;not null"`
	Decision   string    `json:"decision" gorm:"size:16;not null"` // approved, rejected
	Comment    string    `json:"comment" gorm:"type:text"`
	DecidedAt  time.Time `json:"decidedAt" gorm:"not null"`
}

// TableName 表名
func (RequestApproval) TableName() string { return "ff_request_approvals" }

// Session 租约会话，仅由 SessionLeaseManager 变更
type Session struct {
	ID            string `json:"id" gorm:"primaryKey;size:64"`
	RequestID     string `json:"requestId" gorm:"size:64;not null;uniqueIndex"`
	RequesterID   string `json:"requesterId" gorm:"size:128;not null;index"`
	TargetAccount string `json:"targetAccount" gorm:"size:128;not null;index"`
	ReasonCode    string `json:"reasonCode" gorm:"size:64;not null"`

	StartTime       time.Time `json:"startTime" gorm:"not null"`
	EndTime         time.Time `json:"endTime" gorm:"not null;index"`
	OriginalEndTime time.Time `json:"originalEndTime" gorm:"not null"`
	ExtensionCount  int       `json:"extensionCount" gorm:"not null;default:0"`
	MaxExtensions   int       `json:"maxExtensions" gorm:"not null"`

	Status         SessionStatus `json:"status" gorm:"size:16;not null;index"`
	RequiresReview bool          `json:"requiresReview"`

	CredentialCipher []byte `json:"-"`

	ActivityCount           int        `json:"activityCount" gorm:"not null;default:0"`
	SensitiveActivityCount  int        `json:"sensitiveActivityCount" gorm:"not null;default:0"`
	RestrictedActivityCount int        `json:"restrictedActivityCount" gorm:"not null;default:0"`
	Restricted              bool       `json:"restricted"`
	LastActivityAt          *time.Time `json:"lastActivityAt,omitempty"`

	EndedAt   *time.Time `json:"endedAt,omitempty"`
	EndedBy   string     `json:"endedBy,omitempty" gorm:"size:128"`
	EndReason string     `json:"endReason,omitempty" gorm:"type:text"`
	ReviewID  string     `json:"reviewId,omitempty" gorm:"size:64"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TableName 表名
func (Session) TableName() string { return "ff_sessions" }

// Remaining 剩余时长
func (s *Session) Remaining(now time.Time) time.Duration {
	return s.EndTime.Sub(now)
}

// AccountLease 账号占用记录，主键保证每个特权账号至多一个活跃会话
type AccountLease struct {
	TargetAccount string    `gorm:"primaryKey;size:128"`
	SessionID     string    `gorm:"size:64;not null"`
	AcquiredAt    time.Time `gorm:"not null"`
}

// TableName 表名
func (AccountLease) TableName() string { return "ff_account_leases" }

// SessionExtension 延期历史，只追加
type SessionExtension struct {
	ID              string    `json:"id" gorm:"primaryKey;size:64"`
	SessionID       string    `json:"sessionId" gorm:"size:64;not null;index"`
	Sequence        int       `json:"sequence" gorm:"not null"`
	PreviousEndTime time.Time `json:"previousEndTime" gorm:"not null"`
	NewEndTime      time.Time `json:"newEndTime" gorm:"not null"`
	Minutes         int       `json:"minutes" gorm:"not null"`
	Reason          string    `json:"reason" gorm:"type:text"`
	ExtendedBy      string    `json:"extendedBy" gorm:"size:128"`
	ExtendedAt      time.Time `json:"extendedAt" gorm:"not null"`
}

// TableName 表名
func (SessionExtension) TableName() string { return "ff_session_extensions" }

// ActivityRecord 会话内的一条操作记录，只追加
type ActivityRecord struct {
	ID           string            `json:"id" gorm:"primaryKey;size:64"`
	SessionID    string            `json:"sessionId" gorm:"size:64;not null;index"`
	ActionCode   string            `json:"actionCode" gorm:"size:64;not null"`
	ActionType   string            `json:"actionType" gorm:"size:64"`
	TargetObject string            `json:"targetObject" gorm:"size:255"`
	Description  string            `json:"description" gorm:"type:text"`
	OccurredAt   time.Time         `json:"occurredAt" gorm:"not null;index"`
	LoggedAt     time.Time         `json:"loggedAt" gorm:"not null"`
	IsSensitive  bool              `json:"isSensitive"`
	IsRestricted bool              `json:"isRestricted"`
	RiskLevel    RiskLevel         `json:"riskLevel" gorm:"size:16"`
	Details      datatypes.JSONMap `json:"details,omitempty"`
}

// TableName 表名
func (ActivityRecord) TableName() string { return "ff_activity_records" }

// Alert 监控告警，生命周期独立于会话
type Alert struct {
	ID             string     `json:"id" gorm:"primaryKey;size:64"`
	Type           AlertType  `json:"type" gorm:"size:32;not null;index"`
	Severity       Severity   `json:"severity" gorm:"size:16;not null"`
	SessionID      string     `json:"sessionId" gorm:"size:64;index"`
	UserID         string     `json:"userId" gorm:"size:128"`
	TargetAccount  string     `json:"targetAccount" gorm:"size:128"`
	Message        string     `json:"message" gorm:"type:text"`
	RaisedAt       time.Time  `json:"raisedAt" gorm:"not null"`
	Acknowledged   bool       `json:"acknowledged" gorm:"index"`
	AcknowledgedBy string     `json:"acknowledgedBy,omitempty" gorm:"size:128"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
}

// TableName 表名
func (Alert) TableName() string { return "ff_alerts" }

// ControllerReview 会话结束后的事后复核，每个会话至多一条
type ControllerReview struct {
	ID                 string                      `json:"id" gorm:"primaryKey;size:64"`
	SessionID          string                      `json:"sessionId" gorm:"size:64;not null;uniqueIndex"`
	ControllerID       string                      `json:"controllerId" gorm:"size:128;not null;index"`
	SLADeadline        time.Time                   `json:"slaDeadline" gorm:"not null"`
	Status             ReviewStatus                `json:"status" gorm:"size:16;not null;index"`
	Findings           string                      `json:"findings,omitempty" gorm:"type:text"`
	FlaggedActivityIDs datatypes.JSONSlice[string] `json:"flaggedActivityIds,omitempty"`
	StartedAt          *time.Time                  `json:"startedAt,omitempty"`
	CompletedAt        *time.Time                  `json:"completedAt,omitempty"`
	EscalatedAt        *time.Time                  `json:"escalatedAt,omitempty"`
	EscalatedTo        string                      `json:"escalatedTo,omitempty" gorm:"size:128"`
	CreatedAt          time.Time                   `json:"createdAt" gorm:"not null"`
	UpdatedAt          time.Time                   `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TableName 表名
func (ControllerReview) TableName() string { return "ff_controller_reviews" }

// EvidenceRecord 证据导出登记，只追加
type EvidenceRecord struct {
	ID            string         `json:"id" gorm:"primaryKey;size:64"`
	SessionID     string         `json:"sessionId" gorm:"size:64;not null;index"`
	Format        string         `json:"format" gorm:"size:16;not null"`
	Filename      string         `json:"filename" gorm:"size:255"`
	IntegrityHash string         `json:"integrityHash" gorm:"size:64;not null"`
	Snapshot      datatypes.JSON `json:"snapshot"`
	GeneratedBy   string         `json:"generatedBy" gorm:"size:128"`
	GeneratedAt   time.Time      `json:"generatedAt" gorm:"not null"`
}

// TableName 表名
func (EvidenceRecord) TableName() string { return "ff_evidence_records" }

// Models 返回需要迁移的全部模型
func Models() []any {
	return []any{
		&Request{},
		&RequestApproval{},
		&Session{},
		&AccountLease{},
		&SessionExtension{},
		&ActivityRecord{},
		&Alert{},
		&ControllerReview{},
		&EvidenceRecord{},
	}
}
