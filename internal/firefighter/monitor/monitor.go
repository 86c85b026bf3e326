// Package monitor 实时跟踪活跃会话的操作频率、告警与剩余时间。
//
// 监控与租约管理器的到期定时器相互独立：巡检周期性执行，用于发现时钟偏差或
// 丢失事件导致未按时关闭的会话。风险分只用于看板排序，不参与任何拦截决策。
package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/firefighter"
	"github.com/prasantk47/governexplus-sub004/internal/logger"
	"github.com/prasantk47/governexplus-sub004/internal/scheduler"

	"go.uber.org/zap"
)

// SweepSubject 巡检任务的固定主体
const SweepSubject = "live-monitor"

// 风险分权重
const (
	weightRestricted   = 25
	weightSensitive    = 10
	weightRateBreach   = 20
	weightOpenAlert    = 5
	activityRateWindow = time.Hour
)

// Config 监控配置
type Config struct {
	ExpiryWarning         time.Duration
	HighActivityThreshold int
	Interval              time.Duration
}

func (c *Config) applyDefaults() {
	if c.ExpiryWarning <= 0 {
		c.ExpiryWarning = 15 * time.Minute
	}
	if c.HighActivityThreshold <= 0 {
		c.HighActivityThreshold = 50
	}
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
}

type tracked struct {
	sessionID     string
	requesterID   string
	targetAccount string
	startTime     time.Time
	endTime       time.Time

	activity   []time.Time
	total      int
	sensitive  int
	restricted int
	openAlerts map[string]struct{}

	warnedExpiring   bool
	alertedExpired   bool
	lastHighActivity time.Time
}

// SessionRisk 看板中的一行
type SessionRisk struct {
	SessionID          string    `json:"sessionId"`
	RequesterID        string    `json:"requesterId"`
	TargetAccount      string    `json:"targetAccount"`
	StartTime          time.Time `json:"startTime"`
	EndTime            time.Time `json:"endTime"`
	RemainingMinutes   int       `json:"remainingMinutes"`
	ActivityCount      int       `json:"activityCount"`
	ActivitiesLastHour int       `json:"activitiesLastHour"`
	SensitiveCount     int       `json:"sensitiveCount"`
	RestrictedCount    int       `json:"restrictedCount"`
	OpenAlerts         int       `json:"openAlerts"`
	RiskScore          int       `json:"riskScore"`
}

// Monitor 实时监控
type Monitor struct {
	mu       sync.Mutex
	sessions map[string]*tracked

	cfg       Config
	alerts    firefighter.AlertRaiser
	scheduler scheduler.Scheduler
	now       firefighter.Clock
	logger    *zap.Logger
}

// Option 配置项
type Option func(*Monitor)

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock 设置时间源
func WithClock(now firefighter.Clock) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithScheduler 设置巡检调度器
func WithScheduler(s scheduler.Scheduler) Option {
	return func(m *Monitor) { m.scheduler = s }
}

// New 创建监控
func New(alerts firefighter.AlertRaiser, cfg Config, opts ...Option) *Monitor {
	cfg.applyDefaults()
	m := &Monitor{
		sessions: make(map[string]*tracked),
		cfg:      cfg,
		alerts:   alerts,
		now:      firefighter.SystemClock,
		logger:   logger.Get(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SessionStarted 开始跟踪会话
func (m *Monitor) SessionStarted(s *firefighter.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return
	}
	m.sessions[s.ID] = &tracked{
		sessionID:     s.ID,
		requesterID:   s.RequesterID,
		targetAccount: s.TargetAccount,
		startTime:     s.StartTime,
		endTime:       s.EndTime,
		total:         s.ActivityCount,
		sensitive:     s.SensitiveActivityCount,
		restricted:    s.RestrictedActivityCount,
		openAlerts:    make(map[string]struct{}),
	}
}

// SessionExtended 更新到期时间；延期后重新允许即将到期提醒
func (m *Monitor) SessionExtended(s *firefighter.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.sessions[s.ID]
	if !ok {
		return
	}
	t.endTime = s.EndTime
	if s.EndTime.Sub(m.now()) > m.cfg.ExpiryWarning {
		t.warnedExpiring = false
	}
}

// SessionEnded 会话正常关闭后停止跟踪
func (m *Monitor) SessionEnded(s *firefighter.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s.ID)
}

// ActivityRecorded 记录一次操作
func (m *Monitor) ActivityRecorded(s *firefighter.Session, _ *firefighter.ActivityRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.sessions[s.ID]
	if !ok {
		return
	}
	now := m.now()
	t.activity = append(pruneWindow(t.activity, now), now)
	t.total = s.ActivityCount
	t.sensitive = s.SensitiveActivityCount
	t.restricted = s.RestrictedActivityCount
}

// AlertRaised 记录未确认告警
func (m *Monitor) AlertRaised(a *firefighter.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.sessions[a.SessionID]; ok && !a.Acknowledged {
		t.openAlerts[a.ID] = struct{}{}
	}
}

// AlertAcknowledged 告警确认后不再计入风险分
func (m *Monitor) AlertAcknowledged(a *firefighter.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.sessions[a.SessionID]; ok {
		delete(t.openAlerts, a.ID)
	}
}

// Tracked 当前跟踪的会话数
func (m *Monitor) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep 执行一次到期与操作频率巡检，返回本次产生的告警
func (m *Monitor) Sweep(ctx context.Context) []*firefighter.Alert {
	now := m.now()
	var pending []firefighter.AlertInput

	m.mu.Lock()
	for _, t := range m.sessions {
		remaining := t.endTime.Sub(now)
		switch {
		case remaining <= 0 && !t.alertedExpired:
			t.alertedExpired = true
			t.warnedExpiring = true
			pending = append(pending, t.alertInput(firefighter.AlertSessionExpired, firefighter.SeverityHigh,
				"会话已超过到期时间但仍未关闭"))
		case remaining > 0 && remaining <= m.cfg.ExpiryWarning && !t.warnedExpiring:
			t.warnedExpiring = true
			pending = append(pending, t.alertInput(firefighter.AlertSessionExpiring, firefighter.SeverityMedium,
				"会话将在 "+remaining.Round(time.Minute).String()+" 后到期"))
		}

		t.activity = pruneWindow(t.activity, now)
		if len(t.activity) >= m.cfg.HighActivityThreshold &&
			(t.lastHighActivity.IsZero() || now.Sub(t.lastHighActivity) >= activityRateWindow) {
			t.lastHighActivity = now
			pending = append(pending, t.alertInput(firefighter.AlertHighActivity, firefighter.SeverityMedium,
				"最近一小时操作次数达到阈值"))
		}
	}
	m.mu.Unlock()

	// 排序保证同一次巡检内告警顺序稳定
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].SessionID != pending[j].SessionID {
			return pending[i].SessionID < pending[j].SessionID
		}
		return pending[i].Type < pending[j].Type
	})

	raised := make([]*firefighter.Alert, 0, len(pending))
	for _, in := range pending {
		a, err := m.alerts.Raise(ctx, in)
		if err != nil {
			logger.WithContext(ctx, m.logger).Error("巡检告警写入失败",
				zap.String("session_id", in.SessionID),
				zap.String("type", string(in.Type)),
				zap.Error(err),
			)
			continue
		}
		raised = append(raised, a)
	}
	return raised
}

func (t *tracked) alertInput(typ firefighter.AlertType, sev firefighter.Severity, msg string) firefighter.AlertInput {
	return firefighter.AlertInput{
		Type:          typ,
		Severity:      sev,
		SessionID:     t.sessionID,
		UserID:        t.requesterID,
		TargetAccount: t.targetAccount,
		Message:       msg,
	}
}

// Dashboard 按风险分降序返回跟踪中的会话
func (m *Monitor) Dashboard() []SessionRisk {
	now := m.now()
	m.mu.Lock()
	rows := make([]SessionRisk, 0, len(m.sessions))
	for _, t := range m.sessions {
		t.activity = pruneWindow(t.activity, now)
		rows = append(rows, SessionRisk{
			SessionID:          t.sessionID,
			RequesterID:        t.requesterID,
			TargetAccount:      t.targetAccount,
			StartTime:          t.startTime,
			EndTime:            t.endTime,
			RemainingMinutes:   int(t.endTime.Sub(now) / time.Minute),
			ActivityCount:      t.total,
			ActivitiesLastHour: len(t.activity),
			SensitiveCount:     t.sensitive,
			RestrictedCount:    t.restricted,
			OpenAlerts:         len(t.openAlerts),
			RiskScore:          m.riskScore(t),
		})
	}
	m.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].RiskScore != rows[j].RiskScore {
			return rows[i].RiskScore > rows[j].RiskScore
		}
		return rows[i].SessionID < rows[j].SessionID
	})
	return rows
}

// riskScore 受限、敏感、频率超限与未确认告警的加权和，封顶 100
func (m *Monitor) riskScore(t *tracked) int {
	score := t.restricted*weightRestricted + t.sensitive*weightSensitive + len(t.openAlerts)*weightOpenAlert
	if len(t.activity) >= m.cfg.HighActivityThreshold {
		score += weightRateBreach
	}
	if score > 100 {
		return 100
	}
	return score
}

func pruneWindow(ts []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-activityRateWindow)
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

// RegisterHandlers 注册巡检任务
func (m *Monitor) RegisterHandlers(reg *scheduler.Registry) {
	reg.Register(scheduler.KindMonitorSweep, m.HandleSweep)
}

// Start 安排第一次巡检
func (m *Monitor) Start(ctx context.Context) error {
	if m.scheduler == nil {
		return nil
	}
	return m.scheduler.Schedule(ctx, scheduler.KindMonitorSweep, SweepSubject, m.now().Add(m.cfg.Interval))
}

// HandleSweep 执行巡检并安排下一次
func (m *Monitor) HandleSweep(ctx context.Context, _ string) error {
	raised := m.Sweep(ctx)
	if len(raised) > 0 {
		m.logger.Info("监控巡检完成", zap.Int("alerts", len(raised)), zap.Int("tracked", m.Tracked()))
	}
	if m.scheduler == nil {
		return nil
	}
	return m.scheduler.Schedule(ctx, scheduler.KindMonitorSweep, SweepSubject, m.now().Add(m.cfg.Interval))
}
