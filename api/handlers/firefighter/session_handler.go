package firefighter

import (
	"time"

	response "github.com/prasantk47/governexplus-sub004/api/handlers/common"
	"github.com/prasantk47/governexplus-sub004/internal/auth"
	ff "github.com/prasantk47/governexplus-sub004/internal/firefighter"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter/activity"

	"github.com/gin-gonic/gin"
)

// ExtendBody 延期
type ExtendBody struct {
	Minutes int    `json:"minutes" binding:"required"`
	Reason  string `json:"reason" binding:"required"`
}

// EndBody 结束或撤销原因
type EndBody struct {
	Reason string `json:"reason"`
}

// ActivityBody 目标系统回传的一条操作
type ActivityBody struct {
	ActionCode   string         `json:"actionCode" binding:"required"`
	ActionType   string         `json:"actionType"`
	TargetObject string         `json:"targetObject"`
	Description  string         `json:"description"`
	OccurredAt   *time.Time     `json:"occurredAt"`
	Details      map[string]any `json:"details"`
}

// ListMySessions 当前用户的会话
func (h *Handler) ListMySessions(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	items, err := h.svc.Leases.ListByRequester(c.Request.Context(), u.UserID, queryLimit(c, 50))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.List(c, items)
}

// ListActiveSessions 全部活跃会话
func (h *Handler) ListActiveSessions(c *gin.Context) {
	items, err := h.svc.Leases.ListActive(c.Request.Context())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.List(c, items)
}

// GetSession 会话详情
func (h *Handler) GetSession(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	s, ok := h.loadSession(c, u)
	if !ok {
		return
	}
	response.OK(c, s)
}

// ListExtensions 延期记录
func (h *Handler) ListExtensions(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	s, ok := h.loadSession(c, u)
	if !ok {
		return
	}
	items, err := h.svc.Leases.Extensions(c.Request.Context(), s.ID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.List(c, items)
}

// ExtendSession 申请人或安全管理员延期
func (h *Handler) ExtendSession(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	var body ExtendBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	s, err := h.svc.Leases.Get(ctx, c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	if s.RequesterID != u.UserID && !u.HasRole(auth.RoleSecurityAdmin) {
		response.Fail(c, ff.Permissionf("无权延期会话 %s", s.ID))
		return
	}

	s, err = h.svc.Leases.Extend(ctx, s.ID, body.Minutes, body.Reason, u.UserID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, s)
}

// EndSession 申请人主动结束
func (h *Handler) EndSession(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	var body EndBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err)
			return
		}
	}
	s, err := h.svc.Leases.End(c.Request.Context(), c.Param("id"), u.UserID, body.Reason)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, s)
}

// RevokeSession 安全管理员撤销
func (h *Handler) RevokeSession(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	var body EndBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err)
		return
	}
	s, err := h.svc.Leases.Revoke(c.Request.Context(), c.Param("id"), u.UserID, body.Reason)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, s)
}

// GetCredentials 申请人取回凭证
func (h *Handler) GetCredentials(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	secret, err := h.svc.Leases.GetCredentials(c.Request.Context(), c.Param("id"), u.UserID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	response.OK(c, gin.H{"sessionId": c.Param("id"), "credential": secret})
}

// LogActivity 申请人或连接器服务账号回传操作
func (h *Handler) LogActivity(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	var body ActivityBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	s, err := h.svc.Leases.Get(ctx, c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	if s.RequesterID != u.UserID && !u.HasRole(auth.RoleConnector) {
		response.Fail(c, ff.Permissionf("无权为会话 %s 记录操作", s.ID))
		return
	}

	in := activity.Input{
		SessionID:    s.ID,
		ActionCode:   body.ActionCode,
		ActionType:   body.ActionType,
		TargetObject: body.TargetObject,
		Description:  body.Description,
		Details:      body.Details,
	}
	if body.OccurredAt != nil {
		in.OccurredAt = *body.OccurredAt
	}
	rec, err := h.svc.Activities.Log(ctx, in)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, rec)
}

// ListActivities 会话活动记录
func (h *Handler) ListActivities(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	s, ok := h.loadSession(c, u)
	if !ok {
		return
	}
	items, err := h.svc.Activities.List(c.Request.Context(), s.ID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.List(c, items)
}

// ClassifyActivity 预览操作的分类结果
func (h *Handler) ClassifyActivity(c *gin.Context) {
	code := c.Query("actionCode")
	if code == "" {
		response.Fail(c, ff.Validationf("actionCode 不能为空"))
		return
	}
	response.OK(c, h.svc.Activities.Classify(code, c.Query("actionType"), c.Query("targetObject")))
}
