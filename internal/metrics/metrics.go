package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firefighter_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firefighter_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// 请求与审批指标
var (
	// RequestsSubmitted 提交的紧急访问请求
	RequestsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firefighter_requests_submitted_total",
			Help: "提交的紧急访问请求数",
		},
		[]string{"reason_code", "priority"},
	)

	// RequestRiskScore 请求风险分分布
	RequestRiskScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "firefighter_request_risk_score",
			Help:    "请求风险分分布",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	// ApprovalDecisions 审批决定
	ApprovalDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firefighter_approval_decisions_total",
			Help: "审批决定数",
		},
		[]string{"decision"}, // approved, rejected, rolled_back
	)

	// ApprovalReminders 审批超时提醒
	ApprovalReminders = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firefighter_approval_reminders_total",
			Help: "审批超时提醒次数",
		},
	)
)

// 会话指标
var (
	// SessionsActive 当前活跃会话
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "firefighter_sessions_active",
			Help: "当前活跃会话数",
		},
	)

	// SessionsEnded 会话结束
	SessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firefighter_sessions_ended_total",
			Help: "结束的会话数",
		},
		[]string{"status"}, // completed, expired, revoked
	)

	// SessionExtensions 会话延期
	SessionExtensions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firefighter_session_extensions_total",
			Help: "会话延期次数",
		},
	)

	// ProvisioningFailures 目标系统开通失败
	ProvisioningFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firefighter_provisioning_failures_total",
			Help: "目标系统连接器调用失败数",
		},
		[]string{"operation"}, // unlock, lock, set_credential
	)

	// ActivitiesLogged 活动记录
	ActivitiesLogged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firefighter_activities_logged_total",
			Help: "记录的会话活动数",
		},
		[]string{"risk_level"},
	)
)

// 告警与复核指标
var (
	// AlertsRaised 产生的告警
	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firefighter_alerts_raised_total",
			Help: "产生的告警数",
		},
		[]string{"type", "severity"},
	)

	// ReviewsCreated 创建的复核
	ReviewsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firefighter_reviews_created_total",
			Help: "创建的控制人复核数",
		},
	)

	// ReviewsCompleted 完成的复核
	ReviewsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firefighter_reviews_completed_total",
			Help: "完成的控制人复核数",
		},
		[]string{"outcome"},
	)

	// ReviewEscalations 复核超时升级
	ReviewEscalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firefighter_review_escalations_total",
			Help: "复核超时升级次数",
		},
	)

	// EvidenceExports 证据导出
	EvidenceExports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firefighter_evidence_exports_total",
			Help: "证据包导出次数",
		},
		[]string{"format"},
	)
)

// 定时器与通知指标
var (
	// TimerFirings 定时器触发
	TimerFirings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firefighter_timer_firings_total",
			Help: "定时器触发次数",
		},
		[]string{"kind", "result"}, // result: ok, error, stale
	)

	// NotificationsSent 通知投递
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firefighter_notifications_total",
			Help: "通知投递次数",
		},
		[]string{"channel", "status"},
	)
)

// 存储指标
var (
	// DBQueries 按结果统计的 SQL 执行次数
	DBQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firefighter_db_queries_total",
			Help: "SQL 执行次数",
		},
		[]string{"result"}, // result: ok, slow, error
	)
)
