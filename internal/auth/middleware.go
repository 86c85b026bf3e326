package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/prasantk47/governexplus-sub004/internal/logger"

	"github.com/gin-gonic/gin"
)

// ContextKey 上下文键类型
type ContextKey string

// UserContextKey 用户上下文键
const UserContextKey ContextKey = "user"

// 紧急访问相关角色
const (
	RoleAdmin         = "admin"
	RoleApprover      = "approver"
	RoleController    = "controller"
	RoleSecurityAdmin = "security_admin"
	RoleAuditor       = "auditor"
	// RoleConnector 目标系统回传活动记录的服务账号
	RoleConnector = "connector"
)

// AuthMiddleware JWT 认证中间件
func AuthMiddleware(jwtService *JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			// 浏览器 WebSocket 无法设置请求头
			if q := c.Query("access_token"); q != "" {
				authHeader = "Bearer " + q
			}
		}
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "缺少认证令牌"})
			return
		}

		token := ExtractTokenFromBearer(authHeader)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的令牌格式"})
			return
		}

		claims, err := jwtService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "令牌验证失败: " + err.Error()})
			return
		}

		if claims.TokenType != TokenTypeAccess {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "令牌类型错误"})
			return
		}

		userCtx := &UserContext{UserID: claims.UserID, Roles: claims.Roles, Token: token}
		c.Set(string(UserContextKey), userCtx)
		c.Set("user_id", userCtx.UserID)

		ctx := SetUserContext(c.Request.Context(), userCtx)
		ctx = logger.WithActor(ctx, userCtx.UserID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequireRole 角色检查中间件，admin 拥有全部角色
func RequireRole(requiredRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userCtx, exists := GetUserContext(c)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "未认证"})
			return
		}

		if !userCtx.HasRole(requiredRoles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "角色权限不足"})
			return
		}

		c.Next()
	}
}

// UserContext 用户上下文
type UserContext struct {
	UserID string
	Roles  []string
	Token  string
}

// HasRole 是否拥有任一角色
func (u *UserContext) HasRole(roles ...string) bool {
	return hasRole(u.Roles, append([]string{RoleAdmin}, roles...))
}

// GetUserContext 从 Gin Context 获取用户上下文
func GetUserContext(c *gin.Context) (*UserContext, bool) {
	userCtx, exists := c.Get(string(UserContextKey))
	if !exists {
		return nil, false
	}

	ctx, ok := userCtx.(*UserContext)
	return ctx, ok
}

// SetUserContext 在标准 context.Context 中设置用户上下文
func SetUserContext(ctx context.Context, userCtx *UserContext) context.Context {
	return context.WithValue(ctx, UserContextKey, userCtx)
}

// GetUserContextFromStdContext 从标准 context.Context 获取用户上下文
func GetUserContextFromStdContext(ctx context.Context) (*UserContext, bool) {
	userCtx, ok := ctx.Value(UserContextKey).(*UserContext)
	return userCtx, ok
}

// hasRole 检查是否有指定角色
func hasRole(userRoles []string, requiredRoles []string) bool {
	roleMap := make(map[string]bool)
	for _, role := range userRoles {
		roleMap[strings.ToLower(strings.TrimSpace(role))] = true
	}

	for _, required := range requiredRoles {
		if roleMap[strings.ToLower(required)] {
			return true
		}
	}

	return false
}
