// Package firefighter 紧急访问 HTTP 接口
package firefighter

import (
	"net/http"
	"strconv"

	response "github.com/prasantk47/governexplus-sub004/api/handlers/common"
	"github.com/prasantk47/governexplus-sub004/internal/auth"
	ff "github.com/prasantk47/governexplus-sub004/internal/firefighter"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter/activity"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter/alert"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter/approval"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter/evidence"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter/lease"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter/monitor"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter/review"
	"github.com/prasantk47/governexplus-sub004/internal/infra/queue"

	"github.com/gin-gonic/gin"
)

// Services 处理器依赖的领域服务
type Services struct {
	Reasons    ff.Catalog
	Approvals  *approval.Router
	Leases     *lease.Manager
	Activities *activity.Logger
	Alerts     *alert.Service
	Monitor    *monitor.Monitor
	Reviews    *review.Scheduler
	Evidence   *evidence.Exporter
	Timers     *queue.TimerView
	// Throttle 凭证与活动上报等敏感接口的限流中间件，可为空
	Throttle gin.HandlerFunc
}

// Handler 紧急访问处理器
type Handler struct {
	svc Services
}

// NewHandler 创建处理器
func NewHandler(svc Services) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) throttled(handler gin.HandlerFunc) []gin.HandlerFunc {
	if h.svc.Throttle == nil {
		return []gin.HandlerFunc{handler}
	}
	return []gin.HandlerFunc{h.svc.Throttle, handler}
}

// Register 挂载路由，调用方需先挂载认证中间件
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/reason-codes", h.ListReasonCodes)

	requests := rg.Group("/requests")
	{
		requests.POST("", h.throttled(h.SubmitRequest)...)
		requests.GET("/:id", h.GetRequest)
		requests.GET("/:id/decisions", h.ListDecisions)
		requests.POST("/:id/approve", auth.RequireRole(auth.RoleApprover), h.ApproveRequest)
		requests.POST("/:id/reject", auth.RequireRole(auth.RoleApprover), h.RejectRequest)
	}
	rg.GET("/approvals/pending", auth.RequireRole(auth.RoleApprover), h.ListPendingApprovals)

	oversight := auth.RequireRole(auth.RoleSecurityAdmin, auth.RoleController)
	sessions := rg.Group("/sessions")
	{
		sessions.GET("/mine", h.ListMySessions)
		sessions.GET("/active", oversight, h.ListActiveSessions)
		sessions.GET("/:id", h.GetSession)
		sessions.GET("/:id/extensions", h.ListExtensions)
		sessions.POST("/:id/extend", h.ExtendSession)
		sessions.POST("/:id/end", h.EndSession)
		sessions.POST("/:id/revoke", auth.RequireRole(auth.RoleSecurityAdmin), h.RevokeSession)
		sessions.GET("/:id/credentials", h.throttled(h.GetCredentials)...)
		sessions.POST("/:id/activities", h.throttled(h.LogActivity)...)
		sessions.GET("/:id/activities", h.ListActivities)
		sessions.GET("/:id/alerts", h.ListSessionAlerts)
		sessions.GET("/:id/evidence", auth.RequireRole(auth.RoleAuditor, auth.RoleController, auth.RoleSecurityAdmin), h.ExportEvidence)
		sessions.GET("/:id/evidence/records", auth.RequireRole(auth.RoleAuditor, auth.RoleController, auth.RoleSecurityAdmin), h.ListEvidenceRecords)
	}

	rg.GET("/activities/classify", h.ClassifyActivity)

	rg.GET("/alerts", oversight, h.ListOpenAlerts)
	rg.POST("/alerts/:id/ack", auth.RequireRole(auth.RoleSecurityAdmin), h.AcknowledgeAlert)
	rg.GET("/monitor/dashboard", oversight, h.Dashboard)
	rg.GET("/admin/timers", auth.RequireRole(auth.RoleSecurityAdmin), h.TimerOverview)

	reviews := rg.Group("/reviews", auth.RequireRole(auth.RoleController, auth.RoleAuditor))
	{
		reviews.GET("", h.ListReviews)
		reviews.GET("/:id", h.GetReview)
		reviews.POST("/:id/start", h.StartReview)
		reviews.POST("/:id/complete", h.CompleteReview)
	}
}

// ListReasonCodes 可选的原因代码
func (h *Handler) ListReasonCodes(c *gin.Context) {
	codes := h.svc.Reasons.Codes()
	response.List(c, codes)
}

func currentUser(c *gin.Context) (*auth.UserContext, bool) {
	u, ok := auth.GetUserContext(c)
	if !ok || u.UserID == "" {
		response.Abort(c, http.StatusUnauthorized, "unauthenticated", "未认证")
		return nil, false
	}
	return u, true
}

// loadSession 取会话并校验查看权限：申请人本人或监督角色
func (h *Handler) loadSession(c *gin.Context, u *auth.UserContext) (*ff.Session, bool) {
	s, err := h.svc.Leases.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return nil, false
	}
	if s.RequesterID != u.UserID && !u.HasRole(auth.RoleSecurityAdmin, auth.RoleController, auth.RoleAuditor) {
		response.Fail(c, ff.Permissionf("无权查看会话 %s", s.ID))
		return nil, false
	}
	return s, true
}

func queryLimit(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
