package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/auth"
	"github.com/prasantk47/governexplus-sub004/internal/config"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter/fftest"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Setenv("REDIS_ADDR", "")

	cfg := &config.Config{
		Server:      config.ServerConfig{Mode: "test"},
		Auth:        config.AuthConfig{JWTSecret: "setup-secret", Issuer: "firefighter-test"},
		Firefighter: config.DefaultFirefighterConfig(),
	}
	router, app, err := SetupRouter(fftest.OpenDB(t), cfg)
	require.NoError(t, err)
	t.Cleanup(app.Shutdown)

	get := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := get("/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.Equal(t, http.StatusOK, get("/ready", "").Code)
	assert.Equal(t, http.StatusOK, get("/metrics", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get("/api/v1/reason-codes", "").Code)

	jwtService := auth.NewJWTService("setup-secret", "firefighter-test", nil)
	user, err := jwtService.GenerateTokenPair("alice", nil)
	require.NoError(t, err)
	auditor, err := jwtService.GenerateTokenPair("aud1", []string{auth.RoleAuditor})
	require.NoError(t, err)

	w = get("/api/v1/reason-codes", user.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "PROD_INCIDENT")

	assert.Equal(t, http.StatusForbidden, get("/api/v1/audit/verify", user.AccessToken).Code)
	assert.Equal(t, http.StatusOK, get("/api/v1/audit/verify", auditor.AccessToken).Code)
}

func TestShutdownDeliversPendingNotifications(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Setenv("REDIS_ADDR", "")

	var delivered atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	cfg := &config.Config{
		Server:       config.ServerConfig{Mode: "test"},
		Auth:         config.AuthConfig{JWTSecret: "setup-secret", Issuer: "firefighter-test"},
		Firefighter:  config.DefaultFirefighterConfig(),
		Notification: config.NotificationConfig{Channel: "webhook", WebhookURL: hook.URL},
	}
	_, app, err := SetupRouter(fftest.OpenDB(t), cfg)
	require.NoError(t, err)

	app.notifier.Notify(context.Background(), "security-operations", "紧急访问会话被撤销", "FFS-1")
	app.Shutdown()

	assert.EqualValues(t, 1, delivered.Load())
	assert.Zero(t, app.notifier.Pending())
}

func TestNormalizeRedisConfig(t *testing.T) {
	t.Setenv("REDIS_ADDR", "cache.internal:6380")
	got := normalizeRedisConfig(config.RedisConfig{})
	assert.Equal(t, "standalone", got.Mode)
	assert.Equal(t, "cache.internal", got.Host)
	assert.Equal(t, 6380, got.Port)
	assert.Equal(t, 10, got.PoolSize)

	t.Setenv("REDIS_ADDR", "")
	t.Setenv("APP_REDIS_CLUSTER_ADDRS", "a:1, b:2")
	got = normalizeRedisConfig(config.RedisConfig{Mode: "Cluster"})
	assert.Equal(t, []string{"a:1", "b:2"}, got.ClusterAddrs)
	assert.Equal(t, "localhost", got.Host)
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"https://console.example.com"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://console.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://console.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Integrity-Hash")

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestReadinessReportsComponents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ready", ReadinessCheck(
		databaseProbe(fftest.OpenDB(t)),
		readinessProbe{name: "redis", check: func(context.Context) error { return errors.New("down") }},
	))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"not_ready","components":{"database":"ok","redis":"unavailable"}}`, w.Body.String())
}
