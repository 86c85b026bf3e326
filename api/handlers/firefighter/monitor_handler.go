package firefighter

import (
	response "github.com/prasantk47/governexplus-sub004/api/handlers/common"

	"github.com/gin-gonic/gin"
)

// ListSessionAlerts 会话的告警
func (h *Handler) ListSessionAlerts(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	s, ok := h.loadSession(c, u)
	if !ok {
		return
	}
	items, err := h.svc.Alerts.ListBySession(c.Request.Context(), s.ID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.List(c, items)
}

// ListOpenAlerts 未确认的告警
func (h *Handler) ListOpenAlerts(c *gin.Context) {
	items, err := h.svc.Alerts.ListOpen(c.Request.Context(), queryLimit(c, 100))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.List(c, items)
}

// AcknowledgeAlert 确认告警
func (h *Handler) AcknowledgeAlert(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	a, err := h.svc.Alerts.Acknowledge(c.Request.Context(), c.Param("id"), u.UserID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, a)
}

// Dashboard 实时监控看板
func (h *Handler) Dashboard(c *gin.Context) {
	rows := h.svc.Monitor.Dashboard()
	response.List(c, rows)
}

// TimerOverview 定时任务积压与最近触发
func (h *Handler) TimerOverview(c *gin.Context) {
	if h.svc.Timers == nil {
		response.OK(c, gin.H{})
		return
	}
	overview, err := h.svc.Timers.Overview(c.Request.Context())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, overview)
}
