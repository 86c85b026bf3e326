package review_test

import (
	"context"
	"testing"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/audit"
	"github.com/prasantk47/governexplus-sub004/internal/connector"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter/fftest"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter/lease"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter/review"
	"github.com/prasantk47/governexplus-sub004/internal/scheduler"
	"github.com/prasantk47/governexplus-sub004/internal/security"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

var start = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

type env struct {
	db       *gorm.DB
	reviews  *review.Scheduler
	leases   *lease.Manager
	clock    *fftest.Clock
	sched    *fftest.Scheduler
	notifier *fftest.Notifier
	audit    *fftest.Audit
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cipher, err := security.NewCipher("review-test")
	require.NoError(t, err)
	reasons := firefighter.DefaultPolicy().Reasons

	e := &env{
		db:       fftest.OpenDB(t),
		clock:    fftest.NewClock(start),
		sched:    fftest.NewScheduler(),
		notifier: &fftest.Notifier{},
		audit:    &fftest.Audit{},
	}
	e.reviews = review.NewScheduler(e.db, reasons, review.Config{
		DefaultController: "ctl-default",
		Controllers:       map[string]string{"ff_fin_01": "ctl-finance"},
		EscalationTarget:  "grc-lead",
	},
		review.WithLogger(zaptest.NewLogger(t)),
		review.WithClock(e.clock.Now),
		review.WithTimers(e.sched),
		review.WithNotifier(e.notifier),
		review.WithAuditRecorder(e.audit),
	)
	e.leases = lease.NewManager(e.db, connector.NewMemoryConnector(), cipher, reasons,
		lease.WithLogger(zaptest.NewLogger(t)),
		lease.WithClock(e.clock.Now),
		lease.WithScheduler(e.sched),
		lease.WithReviewTrigger(e.reviews),
	)
	e.leases.RegisterHandlers(e.sched.Registry)
	e.reviews.RegisterHandlers(e.sched.Registry)
	return e
}

func (e *env) endedSession(t *testing.T, account, reason string) *firefighter.Session {
	t.Helper()
	ctx := context.Background()
	s, err := e.leases.StartSession(ctx, &firefighter.Request{
		ID:               firefighter.NewID(firefighter.PrefixRequest, e.clock.Now()),
		RequesterID:      "alice",
		TargetAccount:    account,
		ReasonCode:       reason,
		RequestedMinutes: 60,
		Status:           firefighter.RequestApproved,
		RequiresReview:   true,
	})
	require.NoError(t, err)
	e.clock.Advance(30 * time.Minute)
	ended, err := e.leases.End(ctx, s.ID, "alice", "done")
	require.NoError(t, err)
	return ended
}

func TestReviewCreatedOnSessionEnd(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.endedSession(t, "FF_FIN_01", "PERIOD_END")

	require.NotEmpty(t, s.ReviewID)
	r, err := e.reviews.GetBySession(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, s.ReviewID, r.ID)
	require.Equal(t, "ctl-finance", r.ControllerID)
	require.Equal(t, firefighter.ReviewPending, r.Status)
	require.True(t, r.SLADeadline.Equal(s.EndedAt.Add(72*time.Hour)))

	job, ok := e.sched.Pending(scheduler.KindReviewSLA, r.ID)
	require.True(t, ok)
	require.True(t, job.RunAt.Equal(r.SLADeadline))
	require.Len(t, e.notifier.To("ctl-finance"), 1)
	require.Equal(t, 1, e.audit.Count(audit.EventReviewCreated))

	// 重复调用返回同一条复核
	again, err := e.reviews.OnSessionEnded(ctx, s)
	require.NoError(t, err)
	require.Equal(t, r.ID, again.ID)
	require.Equal(t, 1, e.audit.Count(audit.EventReviewCreated))
}

func TestReviewRequiresEndedSession(t *testing.T) {
	e := newEnv(t)
	_, err := e.reviews.OnSessionEnded(context.Background(), &firefighter.Session{ID: "FFS-1", Status: firefighter.SessionActive})
	require.ErrorIs(t, err, firefighter.ErrInvalidState)
}

func TestExpiryCreatesExactlyOneReview(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s, err := e.leases.StartSession(ctx, &firefighter.Request{
		ID:               "FFR-expiry",
		RequesterID:      "alice",
		TargetAccount:    "FF_BASIS_01",
		ReasonCode:       "PROD_INCIDENT",
		RequestedMinutes: 60,
		Status:           firefighter.RequestApproved,
		RequiresReview:   true,
	})
	require.NoError(t, err)

	e.clock.Set(s.EndTime)
	require.NoError(t, e.sched.Fire(ctx, scheduler.KindSessionExpire, s.ID))
	require.NoError(t, e.sched.Fire(ctx, scheduler.KindSessionExpire, s.ID))

	var n int64
	require.NoError(t, e.db.Model(&firefighter.ControllerReview{}).Where("session_id = ?", s.ID).Count(&n).Error)
	require.EqualValues(t, 1, n)

	r, err := e.reviews.GetBySession(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, "ctl-default", r.ControllerID)
	require.True(t, r.SLADeadline.Equal(s.EndTime.Add(24*time.Hour)))
}

func TestSLAEscalatesOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.endedSession(t, "FF_BASIS_01", "PROD_INCIDENT")
	r, err := e.reviews.GetBySession(ctx, s.ID)
	require.NoError(t, err)

	// 截止前触发不升级
	escalated, err := e.reviews.CheckSLA(ctx, r.ID)
	require.NoError(t, err)
	require.False(t, escalated)

	e.clock.Set(r.SLADeadline.Add(time.Minute))
	require.NoError(t, e.sched.Fire(ctx, scheduler.KindReviewSLA, r.ID))
	require.NoError(t, e.sched.Fire(ctx, scheduler.KindReviewSLA, r.ID))

	got, err := e.reviews.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, firefighter.ReviewEscalated, got.Status)
	require.Equal(t, "grc-lead", got.EscalatedTo)
	require.NotNil(t, got.EscalatedAt)
	require.Equal(t, 1, e.audit.Count(audit.EventReviewEscalated))
	require.Len(t, e.notifier.To("grc-lead"), 1)

	// 升级后控制人仍可补做复核
	_, err = e.reviews.StartReview(ctx, r.ID, "ctl-default")
	require.NoError(t, err)
	done, err := e.reviews.CompleteReview(ctx, r.ID, "ctl-default", review.CompleteInput{Outcome: review.OutcomeApproved})
	require.NoError(t, err)
	require.Equal(t, firefighter.ReviewApproved, done.Status)
}

func TestEarlySLAFiringRearmsTimer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.endedSession(t, "FF_BASIS_01", "PROD_INCIDENT")
	r, err := e.reviews.GetBySession(ctx, s.ID)
	require.NoError(t, err)

	e.clock.Set(r.SLADeadline.Add(-time.Second))
	require.NoError(t, e.sched.Fire(ctx, scheduler.KindReviewSLA, r.ID))

	job, ok := e.sched.Pending(scheduler.KindReviewSLA, r.ID)
	require.True(t, ok, "提前触发后必须重新安排 SLA 定时器")
	require.True(t, job.RunAt.Equal(r.SLADeadline))
	got, err := e.reviews.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, firefighter.ReviewPending, got.Status)

	e.clock.Set(r.SLADeadline.Add(time.Minute))
	require.NoError(t, e.sched.Fire(ctx, scheduler.KindReviewSLA, r.ID))

	got, err = e.reviews.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, firefighter.ReviewEscalated, got.Status)
	require.Equal(t, 1, e.audit.Count(audit.EventReviewEscalated))
}

func TestCompletedReviewIsNotEscalated(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.endedSession(t, "FF_BASIS_01", "PROD_INCIDENT")
	r, err := e.reviews.GetBySession(ctx, s.ID)
	require.NoError(t, err)

	_, err = e.reviews.StartReview(ctx, r.ID, "ctl-default")
	require.NoError(t, err)
	_, ok := e.sched.Pending(scheduler.KindReviewSLA, r.ID)
	require.False(t, ok)

	_, err = e.reviews.CompleteReview(ctx, r.ID, "ctl-default", review.CompleteInput{Outcome: review.OutcomeApproved})
	require.NoError(t, err)

	// 已取消的定时器仍然触发
	e.clock.Set(r.SLADeadline.Add(time.Hour))
	require.NoError(t, e.sched.Fire(ctx, scheduler.KindReviewSLA, r.ID))

	got, err := e.reviews.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, firefighter.ReviewApproved, got.Status)
	require.Zero(t, e.audit.Count(audit.EventReviewEscalated))
}

func TestReviewPermissionsAndStates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.endedSession(t, "FF_BASIS_01", "PROD_INCIDENT")
	r, err := e.reviews.GetBySession(ctx, s.ID)
	require.NoError(t, err)

	_, err = e.reviews.StartReview(ctx, r.ID, "mallory")
	require.ErrorIs(t, err, firefighter.ErrPermission)

	_, err = e.reviews.CompleteReview(ctx, r.ID, "ctl-default", review.CompleteInput{Outcome: review.OutcomeApproved})
	require.ErrorIs(t, err, firefighter.ErrInvalidState)

	_, err = e.reviews.StartReview(ctx, r.ID, "ctl-default")
	require.NoError(t, err)
	_, err = e.reviews.StartReview(ctx, r.ID, "ctl-default")
	require.ErrorIs(t, err, firefighter.ErrInvalidState)

	_, err = e.reviews.CompleteReview(ctx, r.ID, "ctl-default", review.CompleteInput{Outcome: "maybe"})
	require.ErrorIs(t, err, firefighter.ErrValidation)
	_, err = e.reviews.CompleteReview(ctx, r.ID, "ctl-default", review.CompleteInput{Outcome: review.OutcomeFlagged})
	require.ErrorIs(t, err, firefighter.ErrValidation)
	_, err = e.reviews.CompleteReview(ctx, r.ID, "ctl-default", review.CompleteInput{
		Outcome:            review.OutcomeFlagged,
		Findings:           "unexpected change",
		FlaggedActivityIDs: []string{"FFA-other"},
	})
	require.ErrorIs(t, err, firefighter.ErrValidation)

	_, err = e.reviews.Get(ctx, "FFV-missing")
	require.ErrorIs(t, err, firefighter.ErrNotFound)
}

func TestFlaggedReviewNotifiesEscalationTarget(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s, err := e.leases.StartSession(ctx, &firefighter.Request{
		ID:               "FFR-flag",
		RequesterID:      "alice",
		TargetAccount:    "FF_BASIS_01",
		ReasonCode:       "PROD_INCIDENT",
		RequestedMinutes: 60,
		Status:           firefighter.RequestApproved,
		RequiresReview:   true,
	})
	require.NoError(t, err)
	s, err = e.leases.RecordActivity(ctx, &firefighter.ActivityRecord{
		SessionID:  s.ID,
		ActionCode: "SU01",
		RiskLevel:  firefighter.RiskCritical,
	})
	require.NoError(t, err)
	activities, err := e.leases.Activities(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, activities, 1)

	_, err = e.leases.End(ctx, s.ID, "alice", "done")
	require.NoError(t, err)
	r, err := e.reviews.GetBySession(ctx, s.ID)
	require.NoError(t, err)

	_, err = e.reviews.StartReview(ctx, r.ID, "ctl-default")
	require.NoError(t, err)
	done, err := e.reviews.CompleteReview(ctx, r.ID, "ctl-default", review.CompleteInput{
		Outcome:            review.OutcomeFlagged,
		Findings:           "user master change without ticket",
		FlaggedActivityIDs: []string{activities[0].ID},
	})
	require.NoError(t, err)
	require.Equal(t, firefighter.ReviewFlagged, done.Status)
	require.Equal(t, []string{activities[0].ID}, []string(done.FlaggedActivityIDs))
	require.Len(t, e.notifier.To("grc-lead"), 1)

	list, err := e.reviews.ListByController(ctx, "ctl-default", firefighter.ReviewFlagged)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestRecoverEscalatesOverdue(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	overdue := e.endedSession(t, "FF_SEC_01", "SECURITY_INCIDENT")
	fresh := e.endedSession(t, "FF_BASIS_01", "PROD_INCIDENT")

	e.clock.Set(start.Add(10 * time.Hour))
	n, err := e.reviews.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	r1, err := e.reviews.GetBySession(ctx, overdue.ID)
	require.NoError(t, err)
	require.Equal(t, firefighter.ReviewEscalated, r1.Status)
	r2, err := e.reviews.GetBySession(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, firefighter.ReviewPending, r2.Status)
}
