package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap/zaptest"
)

type fakeDispatcher struct {
	called  bool
	kind    string
	subject string
	retErr  error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, kind, subjectID string) error {
	f.called = true
	f.kind = kind
	f.subject = subjectID
	return f.retErr
}

func timerTask(t *testing.T, kind, subject string) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(tasks.TimerPayload{SubjectID: subject, RunAt: time.Now()})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return asynq.NewTask(kind, payload)
}

func TestTimerHandlerHandleTimer_Success(t *testing.T) {
	d := &fakeDispatcher{}
	h := NewTimerHandler(d, zaptest.NewLogger(t))
	if err := h.HandleTimer(context.Background(), timerTask(t, tasks.TypeSessionExpire, "FFS-1")); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !d.called || d.kind != tasks.TypeSessionExpire || d.subject != "FFS-1" {
		t.Fatalf("dispatcher not invoked correctly: called=%v kind=%s subject=%s", d.called, d.kind, d.subject)
	}
}

func TestTimerHandlerHandleTimer_DispatchError(t *testing.T) {
	expectedErr := errors.New("boom")
	d := &fakeDispatcher{retErr: expectedErr}
	h := NewTimerHandler(d, zaptest.NewLogger(t))
	err := h.HandleTimer(context.Background(), timerTask(t, tasks.TypeReviewSLA, "FFV-1"))
	if !errors.Is(err, expectedErr) {
		t.Fatalf("expected error %v, got %v", expectedErr, err)
	}
}

func TestTimerHandlerHandleTimer_InvalidPayload(t *testing.T) {
	d := &fakeDispatcher{}
	h := NewTimerHandler(d, zaptest.NewLogger(t))

	err := h.HandleTimer(context.Background(), asynq.NewTask(tasks.TypeSessionExpire, []byte("not-json")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for invalid payload, got %v", err)
	}
	err = h.HandleTimer(context.Background(), timerTask(t, tasks.TypeSessionExpire, ""))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for empty subject, got %v", err)
	}
	if d.called {
		t.Fatalf("dispatcher should not be called when payload invalid")
	}
}
