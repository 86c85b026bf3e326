package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/firefighter"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter/fftest"
	"github.com/prasantk47/governexplus-sub004/internal/scheduler"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var start = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

type fakeAlerts struct {
	mu     sync.Mutex
	seq    int
	raised []firefighter.AlertInput
}

func (f *fakeAlerts) Raise(_ context.Context, in firefighter.AlertInput) (*firefighter.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.raised = append(f.raised, in)
	return &firefighter.Alert{ID: string(in.Type) + "-" + in.SessionID, Type: in.Type, SessionID: in.SessionID}, nil
}

func (f *fakeAlerts) count(typ firefighter.AlertType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, in := range f.raised {
		if in.Type == typ {
			n++
		}
	}
	return n
}

func newTestMonitor(t *testing.T, threshold int) (*Monitor, *fakeAlerts, *fftest.Clock) {
	t.Helper()
	alerts := &fakeAlerts{}
	clock := fftest.NewClock(start)
	m := New(alerts, Config{ExpiryWarning: 15 * time.Minute, HighActivityThreshold: threshold},
		WithLogger(zaptest.NewLogger(t)),
		WithClock(clock.Now),
	)
	return m, alerts, clock
}

func session(id string, minutes int) *firefighter.Session {
	return &firefighter.Session{
		ID:            id,
		RequesterID:   "alice",
		TargetAccount: "ACCT-" + id,
		StartTime:     start,
		EndTime:       start.Add(time.Duration(minutes) * time.Minute),
		Status:        firefighter.SessionActive,
	}
}

func TestExpiringAlertFiresOnce(t *testing.T) {
	m, alerts, clock := newTestMonitor(t, 50)
	s := session("FFS-1", 60)
	m.SessionStarted(s)

	clock.Set(start.Add(30 * time.Minute))
	require.Empty(t, m.Sweep(context.Background()))

	clock.Set(start.Add(45 * time.Minute))
	require.Len(t, m.Sweep(context.Background()), 1)
	clock.Set(start.Add(50 * time.Minute))
	require.Empty(t, m.Sweep(context.Background()))
	require.Equal(t, 1, alerts.count(firefighter.AlertSessionExpiring))

	// 延期后再次接近到期时重新提醒
	s.EndTime = start.Add(120 * time.Minute)
	m.SessionExtended(s)
	clock.Set(start.Add(110 * time.Minute))
	m.Sweep(context.Background())
	require.Equal(t, 2, alerts.count(firefighter.AlertSessionExpiring))
}

func TestExpiredAlertDeduplicated(t *testing.T) {
	m, alerts, clock := newTestMonitor(t, 50)
	m.SessionStarted(session("FFS-1", 30))

	clock.Set(start.Add(31 * time.Minute))
	m.Sweep(context.Background())
	m.Sweep(context.Background())
	clock.Advance(10 * time.Minute)
	m.Sweep(context.Background())

	require.Equal(t, 1, alerts.count(firefighter.AlertSessionExpired))
	// 直接越过提醒窗口时不再补发即将到期提醒
	require.Zero(t, alerts.count(firefighter.AlertSessionExpiring))
}

func TestEndedSessionIsNotReported(t *testing.T) {
	m, alerts, clock := newTestMonitor(t, 50)
	s := session("FFS-1", 30)
	m.SessionStarted(s)
	m.SessionEnded(s)

	clock.Set(start.Add(2 * time.Hour))
	require.Empty(t, m.Sweep(context.Background()))
	require.Zero(t, alerts.count(firefighter.AlertSessionExpired))
	require.Zero(t, m.Tracked())
}

func TestHighActivityOncePerWindow(t *testing.T) {
	m, alerts, clock := newTestMonitor(t, 3)
	s := session("FFS-1", 240)
	m.SessionStarted(s)

	for i := 0; i < 3; i++ {
		clock.Advance(time.Minute)
		s.ActivityCount++
		m.ActivityRecorded(s, &firefighter.ActivityRecord{})
	}
	m.Sweep(context.Background())
	require.Equal(t, 1, alerts.count(firefighter.AlertHighActivity))

	for i := 0; i < 5; i++ {
		clock.Advance(time.Minute)
		m.ActivityRecorded(s, &firefighter.ActivityRecord{})
	}
	m.Sweep(context.Background())
	require.Equal(t, 1, alerts.count(firefighter.AlertHighActivity))

	// 一小时后窗口清空，需要重新达到阈值
	clock.Advance(61 * time.Minute)
	m.Sweep(context.Background())
	require.Equal(t, 1, alerts.count(firefighter.AlertHighActivity))
	for i := 0; i < 3; i++ {
		m.ActivityRecorded(s, &firefighter.ActivityRecord{})
	}
	m.Sweep(context.Background())
	require.Equal(t, 2, alerts.count(firefighter.AlertHighActivity))
}

func TestDashboardRanking(t *testing.T) {
	m, _, _ := newTestMonitor(t, 50)
	quiet := session("FFS-A", 60)
	noisy := session("FFS-B", 60)
	m.SessionStarted(quiet)
	m.SessionStarted(noisy)

	noisy.ActivityCount = 2
	noisy.SensitiveActivityCount = 2
	noisy.RestrictedActivityCount = 1
	m.ActivityRecorded(noisy, &firefighter.ActivityRecord{})
	m.AlertRaised(&firefighter.Alert{ID: "FFL-1", SessionID: noisy.ID})

	rows := m.Dashboard()
	require.Len(t, rows, 2)
	require.Equal(t, "FFS-B", rows[0].SessionID)
	require.Equal(t, 25+2*10+5, rows[0].RiskScore)
	require.Equal(t, 1, rows[0].OpenAlerts)
	require.Equal(t, 1, rows[0].ActivitiesLastHour)
	require.Equal(t, 60, rows[0].RemainingMinutes)
	require.Zero(t, rows[1].RiskScore)

	m.AlertAcknowledged(&firefighter.Alert{ID: "FFL-1", SessionID: noisy.ID})
	require.Equal(t, 45, m.Dashboard()[0].RiskScore)

	noisy.RestrictedActivityCount = 10
	m.ActivityRecorded(noisy, &firefighter.ActivityRecord{})
	require.Equal(t, 100, m.Dashboard()[0].RiskScore)
}

func TestHandleSweepReschedules(t *testing.T) {
	alerts := &fakeAlerts{}
	clock := fftest.NewClock(start)
	sched := fftest.NewScheduler()
	m := New(alerts, Config{Interval: 30 * time.Second}, WithClock(clock.Now), WithScheduler(sched))
	m.RegisterHandlers(sched.Registry)

	require.NoError(t, m.Start(context.Background()))
	job, ok := sched.Pending(scheduler.KindMonitorSweep, SweepSubject)
	require.True(t, ok)
	require.Equal(t, start.Add(30*time.Second), job.RunAt)

	clock.Advance(30 * time.Second)
	require.NoError(t, sched.Fire(context.Background(), scheduler.KindMonitorSweep, SweepSubject))
	job, ok = sched.Pending(scheduler.KindMonitorSweep, SweepSubject)
	require.True(t, ok)
	require.Equal(t, start.Add(time.Minute), job.RunAt)
}
