package firefighter

import (
	response "github.com/prasantk47/governexplus-sub004/api/handlers/common"
	"github.com/prasantk47/governexplus-sub004/internal/auth"
	ff "github.com/prasantk47/governexplus-sub004/internal/firefighter"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter/review"

	"github.com/gin-gonic/gin"
)

// ListReviews 当前控制人的复核，可按状态过滤
func (h *Handler) ListReviews(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	items, err := h.svc.Reviews.ListByController(c.Request.Context(), u.UserID, ff.ReviewStatus(c.Query("status")))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.List(c, items)
}

// GetReview 复核详情，控制人本人或审计员
func (h *Handler) GetReview(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	r, err := h.svc.Reviews.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	if r.ControllerID != u.UserID && !u.HasRole(auth.RoleAuditor) {
		response.Fail(c, ff.Permissionf("无权查看复核 %s", r.ID))
		return
	}
	response.OK(c, r)
}

// StartReview 开始复核
func (h *Handler) StartReview(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	r, err := h.svc.Reviews.StartReview(c.Request.Context(), c.Param("id"), u.UserID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, r)
}

// CompleteReview 给出复核结论
func (h *Handler) CompleteReview(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	var body review.CompleteInput
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err)
		return
	}
	r, err := h.svc.Reviews.CompleteReview(c.Request.Context(), c.Param("id"), u.UserID, body)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, r)
}
