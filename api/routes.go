package api

import (
	auditHandlers "github.com/prasantk47/governexplus-sub004/api/handlers/audit"
	authHandlers "github.com/prasantk47/governexplus-sub004/api/handlers/auth"
	ffHandlers "github.com/prasantk47/governexplus-sub004/api/handlers/firefighter"
	notificationHandlers "github.com/prasantk47/governexplus-sub004/api/handlers/notifications"
	"github.com/prasantk47/governexplus-sub004/internal/auth"
	"github.com/prasantk47/governexplus-sub004/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes 挂载业务路由
func RegisterRoutes(router *gin.Engine, app *App, jwtService *auth.JWTService, origins []string) {
	authHandler := authHandlers.NewAuthHandler(jwtService)
	auditHandler := auditHandlers.NewAuditHandler(app.Trail)
	wsHandler := notificationHandlers.NewWebSocketHandler(app.Hub, origins...)
	ffHandler := ffHandlers.NewHandler(ffHandlers.Services{
		Reasons:    app.Policy.Reasons,
		Approvals:  app.Approvals,
		Leases:     app.Leases,
		Activities: app.Activities,
		Alerts:     app.Alerts,
		Monitor:    app.Monitor,
		Reviews:    app.Reviews,
		Evidence:   app.Evidence,
		Timers:     app.Timers,
		Throttle:   middleware.RateLimitByEndpoint(app.Limiter),
	})

	authMiddleware := auth.AuthMiddleware(jwtService)

	v1 := router.Group("/api/v1")
	{
		// 令牌
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
		}

		protected := v1.Group("", authMiddleware)
		ffHandler.Register(protected)

		// 审计轨迹
		auditGroup := protected.Group("/audit", auth.RequireRole(auth.RoleAuditor))
		{
			auditGroup.GET("/trail", auditHandler.QueryTrail)
			auditGroup.GET("/verify", auditHandler.Verify)
			auditGroup.GET("/export", auditHandler.Export)
		}
	}

	// 实时看板推送
	router.GET("/ws/monitor", authMiddleware, auth.RequireRole(auth.RoleSecurityAdmin, auth.RoleController), wsHandler.Connect)
}
