package tasks

import "time"

// Task Types
const (
	TypeSessionExpire = "firefighter:session_expire"
	TypeReviewSLA     = "firefighter:review_sla"
	TypeMonitorSweep  = "firefighter:monitor_sweep"
)

// TimerPayload 定时任务载荷：到点后对 SubjectID 执行一次受保护的状态检查
type TimerPayload struct {
	SubjectID string    `json:"subject_id"`
	RunAt     time.Time `json:"run_at"`
}
