package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prasantk47/governexplus-sub004/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*gin.Engine, *auth.JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwtService := auth.NewJWTService("auth-handler-secret", "firefighter-test", nil)
	h := NewAuthHandler(jwtService)

	r := gin.New()
	r.POST("/auth/refresh", h.Refresh)
	r.POST("/auth/logout", auth.AuthMiddleware(jwtService), h.Logout)
	return r, jwtService
}

func post(r *gin.Engine, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRefresh(t *testing.T) {
	r, jwtService := setup(t)
	pair, err := jwtService.GenerateTokenPair("alice", []string{"approver"})
	require.NoError(t, err)

	w := post(r, "/auth/refresh", "", RefreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "access_token")

	// 访问令牌不能用于刷新
	w = post(r, "/auth/refresh", "", RefreshRequest{RefreshToken: pair.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(r, "/auth/refresh", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 刷新令牌只能使用一次
	w = post(r, "/auth/refresh", "", RefreshRequest{RefreshToken: pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogout(t *testing.T) {
	r, jwtService := setup(t)
	pair, err := jwtService.GenerateTokenPair("alice", nil)
	require.NoError(t, err)

	w := post(r, "/auth/logout", pair.AccessToken, map[string]string{"refresh_token": pair.RefreshToken})
	assert.Equal(t, http.StatusOK, w.Code)

	w = post(r, "/auth/logout", pair.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = post(r, "/auth/refresh", "", RefreshRequest{RefreshToken: pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(r, "/auth/logout", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
