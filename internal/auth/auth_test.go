package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(now time.Time) *JWTService {
	s := NewJWTService("test-secret", "firefighter-test", nil)
	s.now = func() time.Time { return now }
	return s
}

func TestTokenPairRoundTrip(t *testing.T) {
	now := time.Now()
	s := newTestService(now)

	pair, err := s.GenerateTokenPair("alice", []string{"approver"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)

	claims, err := s.ValidateToken(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, TokenTypeAccess, claims.TokenType)

	_, err = s.RefreshAccessToken(context.Background(), pair.AccessToken)
	require.ErrorIs(t, err, ErrWrongTokenType)
	refreshed, err := s.RefreshAccessToken(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)
}

func TestValidateTokenRejects(t *testing.T) {
	now := time.Now()
	s := newTestService(now)
	pair, err := s.GenerateTokenPair("alice", nil)
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		later := newTestService(now.Add(3 * time.Hour))
		_, err := later.ValidateToken(context.Background(), pair.AccessToken)
		assert.Error(t, err)
	})

	t.Run("wrong_secret", func(t *testing.T) {
		other := NewJWTService("another-secret", "firefighter-test", nil)
		_, err := other.ValidateToken(context.Background(), pair.AccessToken)
		assert.Error(t, err)
	})

	t.Run("wrong_issuer", func(t *testing.T) {
		other := NewJWTService("test-secret", "someone-else", nil)
		_, err := other.ValidateToken(context.Background(), pair.AccessToken)
		assert.Error(t, err)
	})
}

func TestInvalidateToken(t *testing.T) {
	ctx := context.Background()
	s := newTestService(time.Now())
	pair, err := s.GenerateTokenPair("alice", nil)
	require.NoError(t, err)

	require.NoError(t, s.InvalidateToken(ctx, pair.AccessToken))
	_, err = s.ValidateToken(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	// 其他令牌不受影响
	_, err = s.ValidateToken(ctx, pair.RefreshToken)
	assert.NoError(t, err)

	assert.Error(t, s.InvalidateToken(ctx, "garbage"))
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewJWTService("test-secret", "firefighter-test", nil)

	r := gin.New()
	r.GET("/me", AuthMiddleware(s), func(c *gin.Context) {
		u, _ := GetUserContext(c)
		std, ok := GetUserContextFromStdContext(c.Request.Context())
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"user": u.UserID, "std": std.UserID})
	})
	r.GET("/revoke", AuthMiddleware(s), RequireRole(RoleSecurityAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	pair, err := s.GenerateTokenPair("alice", []string{"requester"})
	require.NoError(t, err)
	admin, err := s.GenerateTokenPair("root", []string{"ADMIN"})
	require.NoError(t, err)

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing_token", "/me", "", http.StatusUnauthorized},
		{"garbage_token", "/me", "Bearer nope", http.StatusUnauthorized},
		{"refresh_token", "/me", "Bearer " + pair.RefreshToken, http.StatusUnauthorized},
		{"ok", "/me", "Bearer " + pair.AccessToken, http.StatusOK},
		{"missing_role", "/revoke", "Bearer " + pair.AccessToken, http.StatusForbidden},
		{"admin_has_all_roles", "/revoke", "Bearer " + admin.AccessToken, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}

	// WebSocket 握手通过查询参数携带令牌
	req := httptest.NewRequest(http.MethodGet, "/me?access_token="+pair.AccessToken, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
