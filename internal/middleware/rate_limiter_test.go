package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(&RateLimiterConfig{RequestsPerMinute: 60, BurstSize: 2, IdleTTL: time.Minute, CleanupInterval: time.Hour})
	defer rl.Stop()
	now := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("bob"))

	// 每秒补充一个令牌
	now = now.Add(time.Second)
	assert.True(t, rl.Allow("alice"))

	now = now.Add(2 * time.Minute)
	rl.evictIdle()
	assert.Zero(t, rl.ActiveClients())
}

func TestRateLimitByEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(&RateLimiterConfig{RequestsPerMinute: 1, BurstSize: 1, IdleTTL: time.Minute, CleanupInterval: time.Hour})
	defer rl.Stop()

	r := gin.New()
	r.GET("/sessions/:id/credentials", func(c *gin.Context) {
		c.Set("user_id", c.GetHeader("X-User"))
		c.Next()
	}, RateLimitByEndpoint(rl), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	call := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/sessions/FFS-1/credentials", nil)
		req.Header.Set("X-User", user)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusNoContent, call("alice").Code)
	w := call("alice")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusNoContent, call("bob").Code)
}
