package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 令牌类型
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var (
	ErrTokenRevoked   = errors.New("令牌已注销")
	ErrWrongTokenType = errors.New("令牌类型错误")
)

// RevocationStore 记录已注销令牌的 jti，条目在令牌自然过期后失效
type RevocationStore interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// JWTService 校验上游身份系统签发的令牌，并为运维工具签发令牌对
type JWTService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	revoked    RevocationStore
	now        func() time.Time
}

// NewJWTService 创建 JWT 服务；redisClient 为空时注销记录只保存在本进程
func NewJWTService(secretKey, issuer string, redisClient redis.UniversalClient) *JWTService {
	var store RevocationStore = newMemoryRevocations()
	if redisClient != nil {
		store = &redisRevocations{client: redisClient}
	}
	return &JWTService{
		secret:     []byte(secretKey),
		issuer:     issuer,
		accessTTL:  2 * time.Hour,
		refreshTTL: 7 * 24 * time.Hour,
		revoked:    store,
		now:        time.Now,
	}
}

// SetTTL 覆盖令牌有效期，非正值保持默认
func (s *JWTService) SetTTL(access, refresh time.Duration) {
	if access > 0 {
		s.accessTTL = access
	}
	if refresh > 0 {
		s.refreshTTL = refresh
	}
}

// TokenClaims JWT 声明
type TokenClaims struct {
	UserID    string   `json:"uid"`
	Roles     []string `json:"roles"`
	TokenType string   `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenPair 令牌对
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// GenerateTokenPair 签发访问令牌和刷新令牌
func (s *JWTService) GenerateTokenPair(userID string, roles []string) (*TokenPair, error) {
	access, err := s.sign(userID, roles, TokenTypeAccess, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(userID, roles, TokenTypeRefresh, s.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

func (s *JWTService) sign(userID string, roles []string, tokenType string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := TokenClaims{
		UserID:    userID,
		Roles:     roles,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("签发%s令牌失败: %w", tokenType, err)
	}
	return signed, nil
}

// ValidateToken 校验签名、签发方、有效期和注销状态
func (s *JWTService) ValidateToken(ctx context.Context, tokenString string) (*TokenClaims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.ID != "" {
		revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
		// 注销存储不可用时放行，令牌仍受有效期约束
		if err == nil && revoked {
			return nil, ErrTokenRevoked
		}
	}
	return claims, nil
}

func (s *JWTService) parse(tokenString string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("令牌无效: %w", err)
	}
	return claims, nil
}

// RefreshAccessToken 用刷新令牌换取新的令牌对
func (s *JWTService) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.ValidateToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeRefresh {
		return nil, fmt.Errorf("%w: 需要 refresh，收到 %s", ErrWrongTokenType, claims.TokenType)
	}
	return s.GenerateTokenPair(claims.UserID, claims.Roles)
}

// InvalidateToken 注销令牌直到其过期；已过期或无法解析的令牌无需处理
func (s *JWTService) InvalidateToken(ctx context.Context, tokenString string) error {
	claims, err := s.parse(tokenString)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil
		}
		return err
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	if err := s.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("注销令牌失败: %w", err)
	}
	return nil
}

// ExtractTokenFromBearer 去掉 Bearer 前缀
func ExtractTokenFromBearer(header string) string {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return header
	}
	return strings.TrimSpace(token)
}

type redisRevocations struct {
	client redis.UniversalClient
}

func (r *redisRevocations) key(jti string) string {
	return "firefighter:auth:revoked:" + jti
}

func (r *redisRevocations) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.key(jti), 1, ttl).Err()
}

func (r *redisRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type memoryRevocations struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func newMemoryRevocations() *memoryRevocations {
	return &memoryRevocations{entries: make(map[string]time.Time), now: time.Now}
}

func (m *memoryRevocations) Revoke(_ context.Context, jti string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, exp := range m.entries {
		if now.After(exp) {
			delete(m.entries, id)
		}
	}
	m.entries[jti] = until
	return nil
}

func (m *memoryRevocations) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.entries[jti]
	return ok && m.now().Before(exp), nil
}
