package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/infra/queue"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type firing struct {
	kind    string
	subject string
}

func recordingRegistry() (*Registry, chan firing) {
	ch := make(chan firing, 16)
	reg := NewRegistry()
	for _, kind := range []string{KindSessionExpire, KindReviewSLA} {
		kind := kind
		reg.Register(kind, func(ctx context.Context, subjectID string) error {
			ch <- firing{kind: kind, subject: subjectID}
			return nil
		})
	}
	return reg, ch
}

func TestRegistryDispatchUnknownKind(t *testing.T) {
	reg := NewRegistry()
	require.Error(t, reg.Dispatch(context.Background(), "nope", "x"))
	reg.Register("k", func(context.Context, string) error { return errors.New("boom") })
	require.EqualError(t, reg.Dispatch(context.Background(), "k", "x"), "boom")
	require.Equal(t, []string{"k"}, reg.Kinds())
}

func TestRegistryFeedsTimerView(t *testing.T) {
	reg := NewRegistry()
	view := queue.NewTimerView(10, nil)
	reg.AddRecorder(view)
	reg.Register(KindReviewSLA, func(context.Context, string) error { return errors.New("boom") })
	reg.Register(KindSessionExpire, func(context.Context, string) error { return nil })

	require.Error(t, reg.Dispatch(context.Background(), KindReviewSLA, "FFV-1"))
	require.NoError(t, reg.Dispatch(context.Background(), KindSessionExpire, "FFS-1"))

	history := view.History(0)
	require.Len(t, history, 2)
	require.Equal(t, "FFS-1", history[0].SubjectID)
	require.Equal(t, queue.FiringError, history[1].Status)
}

func TestLocalFiresAtRunAt(t *testing.T) {
	reg, ch := recordingRegistry()
	s := NewLocal(reg, WithLogger(zaptest.NewLogger(t)))
	defer s.Stop()

	require.NoError(t, s.Schedule(context.Background(), KindSessionExpire, "FFS-1", time.Now().Add(20*time.Millisecond)))
	require.Equal(t, 1, s.Pending())

	select {
	case f := <-ch:
		require.Equal(t, firing{KindSessionExpire, "FFS-1"}, f)
	case <-time.After(time.Second):
		t.Fatal("定时器未触发")
	}
	require.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestLocalPastRunAtFiresImmediately(t *testing.T) {
	reg, ch := recordingRegistry()
	s := NewLocal(reg)
	defer s.Stop()

	require.NoError(t, s.Schedule(context.Background(), KindReviewSLA, "FFV-1", time.Now().Add(-time.Hour)))
	select {
	case f := <-ch:
		require.Equal(t, "FFV-1", f.subject)
	case <-time.After(time.Second):
		t.Fatal("过期的定时器应立即触发")
	}
}

func TestLocalRescheduleReplacesTimer(t *testing.T) {
	reg, ch := recordingRegistry()
	s := NewLocal(reg)
	defer s.Stop()
	ctx := context.Background()

	require.NoError(t, s.Schedule(ctx, KindSessionExpire, "FFS-1", time.Now().Add(30*time.Millisecond)))
	require.NoError(t, s.Schedule(ctx, KindSessionExpire, "FFS-1", time.Now().Add(150*time.Millisecond)))
	require.Equal(t, 1, s.Pending())

	start := time.Now()
	select {
	case <-ch:
		require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("改期后的定时器未触发")
	}

	select {
	case f := <-ch:
		t.Fatalf("旧定时器不应再触发: %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLocalHandlerCanRearmItself(t *testing.T) {
	reg := NewRegistry()
	s := NewLocal(reg)
	defer s.Stop()
	ctx := context.Background()

	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})
	reg.Register(KindSessionExpire, func(ctx context.Context, subjectID string) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			// 首次触发视为提前到达，从处理函数内部重新安排
			return s.Schedule(ctx, KindSessionExpire, subjectID, time.Now().Add(20*time.Millisecond))
		}
		close(done)
		return nil
	})

	require.NoError(t, s.Schedule(ctx, KindSessionExpire, "FFS-1", time.Now()))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("处理函数内重新安排的定时器未触发")
	}
	require.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestLocalCancel(t *testing.T) {
	reg, ch := recordingRegistry()
	s := NewLocal(reg)
	defer s.Stop()
	ctx := context.Background()

	require.NoError(t, s.Schedule(ctx, KindSessionExpire, "FFS-1", time.Now().Add(30*time.Millisecond)))
	s.Cancel(ctx, KindSessionExpire, "FFS-1")
	s.Cancel(ctx, KindSessionExpire, "FFS-unknown")
	require.Equal(t, 0, s.Pending())

	select {
	case f := <-ch:
		t.Fatalf("已取消的定时器触发了: %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
}

type fakeQueueClient struct {
	mu        sync.Mutex
	enqueued  []string
	cancelled []string
}

func (f *fakeQueueClient) EnqueueTimer(_ context.Context, kind, subjectID string, runAt time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := queue.TaskID(kind, subjectID, runAt)
	f.enqueued = append(f.enqueued, id)
	return id, nil
}

func (f *fakeQueueClient) CancelTimer(_ context.Context, _ string, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, taskID)
	return nil
}

func (f *fakeQueueClient) Stats(context.Context) (map[string]*queue.QueueStats, error) {
	return nil, nil
}

func (f *fakeQueueClient) Close() error { return nil }

func TestQueueReschedulingCancelsPreviousTask(t *testing.T) {
	client := &fakeQueueClient{}
	q := NewQueue(client, zaptest.NewLogger(t))
	ctx := context.Background()
	first := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	require.NoError(t, q.Schedule(ctx, KindSessionExpire, "FFS-1", first))
	require.NoError(t, q.Schedule(ctx, KindSessionExpire, "FFS-1", second))
	require.Len(t, client.enqueued, 2)
	require.Equal(t, []string{queue.TaskID(KindSessionExpire, "FFS-1", first)}, client.cancelled)

	q.Cancel(ctx, KindSessionExpire, "FFS-1")
	require.Equal(t, queue.TaskID(KindSessionExpire, "FFS-1", second), client.cancelled[1])

	// 没有记录的任务不调用客户端
	q.Cancel(ctx, KindReviewSLA, "FFV-1")
	require.Len(t, client.cancelled, 2)
}
