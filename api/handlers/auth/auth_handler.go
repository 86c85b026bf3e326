package auth

import (
	"net/http"

	response "github.com/prasantk47/governexplus-sub004/api/handlers/common"
	"github.com/prasantk47/governexplus-sub004/internal/auth"
	"github.com/prasantk47/governexplus-sub004/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthHandler 令牌刷新与登出；登录由上游身份系统负责
type AuthHandler struct {
	jwtService *auth.JWTService
}

// NewAuthHandler 创建处理器
func NewAuthHandler(jwtService *auth.JWTService) *AuthHandler {
	return &AuthHandler{jwtService: jwtService}
}

// RefreshRequest 刷新令牌请求
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh 刷新访问令牌，旧的刷新令牌作废
// POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	tokenPair, err := h.jwtService.RefreshAccessToken(ctx, req.RefreshToken)
	if err != nil {
		response.Abort(c, http.StatusUnauthorized, "invalid_refresh_token", "刷新令牌无效")
		return
	}
	if err := h.jwtService.InvalidateToken(ctx, req.RefreshToken); err != nil {
		logger.WithContext(ctx, nil).Warn("旧刷新令牌作废失败", zap.Error(err))
	}

	response.OK(c, tokenPair)
}

// Logout 当前访问令牌加入黑名单，可同时作废刷新令牌
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	ctx := c.Request.Context()
	log := logger.WithContext(ctx, nil)

	if err := c.ShouldBindJSON(&req); err == nil && req.RefreshToken != "" {
		if err := h.jwtService.InvalidateToken(ctx, req.RefreshToken); err != nil {
			log.Warn("刷新令牌作废失败", zap.Error(err))
		}
	}

	if userCtx, ok := auth.GetUserContext(c); ok {
		// 记录错误但不中断登出流程
		if err := h.jwtService.InvalidateToken(ctx, userCtx.Token); err != nil {
			log.Warn("访问令牌作废失败", zap.Error(err))
		}
	}

	response.OK(c, gin.H{"message": "登出成功"})
}
