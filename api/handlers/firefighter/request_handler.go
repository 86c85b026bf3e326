package firefighter

import (
	response "github.com/prasantk47/governexplus-sub004/api/handlers/common"
	"github.com/prasantk47/governexplus-sub004/internal/auth"
	ff "github.com/prasantk47/governexplus-sub004/internal/firefighter"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter/approval"

	"github.com/gin-gonic/gin"
)

// SubmitRequestBody 提交请求
type SubmitRequestBody struct {
	TargetAccount    string      `json:"targetAccount" binding:"required"`
	ReasonCode       string      `json:"reasonCode" binding:"required"`
	Justification    string      `json:"justification"`
	TicketRef        string      `json:"ticketRef"`
	RequestedMinutes int         `json:"requestedMinutes" binding:"required"`
	Priority         ff.Priority `json:"priority"`
}

// DecisionBody 审批意见
type DecisionBody struct {
	Comment       string `json:"comment"`
	RequireReview bool   `json:"requireReview"`
}

// RejectBody 驳回原因
type RejectBody struct {
	Reason string `json:"reason" binding:"required"`
}

// SubmitRequest 申请人为自己提交紧急访问请求
// POST /api/v1/requests
func (h *Handler) SubmitRequest(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	var body SubmitRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err)
		return
	}

	req, err := h.svc.Approvals.Submit(c.Request.Context(), approval.SubmitInput{
		RequesterID:      u.UserID,
		TargetAccount:    body.TargetAccount,
		ReasonCode:       body.ReasonCode,
		Justification:    body.Justification,
		TicketRef:        body.TicketRef,
		RequestedMinutes: body.RequestedMinutes,
		Priority:         body.Priority,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, req)
}

// GetRequest 申请人、指定审批人或监督角色可查看
func (h *Handler) GetRequest(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	req, err := h.svc.Approvals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	if !canViewRequest(u, req) {
		response.Fail(c, ff.Permissionf("无权查看请求 %s", req.ID))
		return
	}
	response.OK(c, req)
}

// ListDecisions 请求的审批记录
func (h *Handler) ListDecisions(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	req, err := h.svc.Approvals.Get(ctx, c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	if !canViewRequest(u, req) {
		response.Fail(c, ff.Permissionf("无权查看请求 %s", req.ID))
		return
	}
	decisions, err := h.svc.Approvals.Decisions(ctx, req.ID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.List(c, decisions)
}

// ListPendingApprovals 当前审批人待处理的请求
func (h *Handler) ListPendingApprovals(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	items, err := h.svc.Approvals.ListPending(c.Request.Context(), u.UserID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.List(c, items)
}

// ApproveRequest 批准；最后一个必需审批完成时同步开通会话
func (h *Handler) ApproveRequest(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	var body DecisionBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, err)
			return
		}
	}

	req, session, err := h.svc.Approvals.Approve(c.Request.Context(), c.Param("id"), approval.Decision{
		ApproverID:    u.UserID,
		Comment:       body.Comment,
		RequireReview: body.RequireReview,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, gin.H{"request": req, "session": session})
}

// RejectRequest 驳回
func (h *Handler) RejectRequest(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	var body RejectBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err)
		return
	}
	req, err := h.svc.Approvals.Reject(c.Request.Context(), c.Param("id"), u.UserID, body.Reason)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, req)
}

func canViewRequest(u *auth.UserContext, req *ff.Request) bool {
	if req.RequesterID == u.UserID {
		return true
	}
	for _, a := range req.Approvers {
		if a == u.UserID {
			return true
		}
	}
	return u.HasRole(auth.RoleSecurityAdmin, auth.RoleController, auth.RoleAuditor)
}
