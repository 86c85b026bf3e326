package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetWithoutInitReturnsNop(t *testing.T) {
	mu.Lock()
	prev := globalLogger
	globalLogger = nil
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		globalLogger = prev
		mu.Unlock()
	})

	require.NotPanics(t, func() { Get().Info("noop") })
}

func TestInitWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ff.log")
	require.NoError(t, Init("info", "json", path))

	ctx := WithActor(WithTraceID(context.Background(), "trace-1"), "user-1")
	WithContext(ctx, nil).Info("session opened", zap.String("session_id", "FFS-1"))
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	require.True(t, strings.Contains(out, `"trace_id":"trace-1"`))
	require.True(t, strings.Contains(out, `"actor":"user-1"`))
	require.True(t, strings.Contains(out, `"session_id":"FFS-1"`))
}

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	require.Empty(t, GetTraceID(ctx))
	require.Empty(t, GetActor(ctx))
	ctx = WithTraceID(ctx, "abc")
	require.Equal(t, "abc", GetTraceID(ctx))
}
