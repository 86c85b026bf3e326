package audit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	response "github.com/prasantk47/governexplus-sub004/api/handlers/common"
	"github.com/prasantk47/governexplus-sub004/internal/audit"
	"github.com/prasantk47/governexplus-sub004/internal/auth"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter"

	"github.com/gin-gonic/gin"
)

// AuditHandler 审计轨迹处理器
type AuditHandler struct {
	trail *audit.Trail
}

// NewAuditHandler 创建审计轨迹处理器
func NewAuditHandler(trail *audit.Trail) *AuditHandler {
	return &AuditHandler{trail: trail}
}

// QueryTrail 查询审计轨迹
// GET /api/v1/audit/trail?subjectId=&event=&from=&to=&limit=
func (h *AuditHandler) QueryTrail(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		response.BadRequest(c, err)
		return
	}

	entries, err := h.trail.Query(c.Request.Context(), filter)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.List(c, entries)
}

// Verify 校验哈希链完整性
func (h *AuditHandler) Verify(c *gin.Context) {
	result, err := h.trail.Verify(c.Request.Context())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, result)
}

// Export 导出审计轨迹
// GET /api/v1/audit/export?format=csv|json
func (h *AuditHandler) Export(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		response.BadRequest(c, err)
		return
	}

	format := audit.ExportFormat(c.DefaultQuery("format", string(audit.FormatJSON)))
	if format != audit.FormatCSV && format != audit.FormatJSON {
		response.Fail(c, firefighter.Validationf("不支持的导出格式: %s", format))
		return
	}

	result, err := h.trail.Export(c.Request.Context(), filter, format)
	if err != nil {
		response.Fail(c, err)
		return
	}

	actor := ""
	if u, ok := auth.GetUserContext(c); ok {
		actor = u.UserID
	}
	h.trail.Record(c.Request.Context(), audit.EventEvidenceExport, "audit-trail", actor, map[string]any{
		"format": string(format),
		"count":  result.TotalCount,
	})

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, result.ContentType, result.Data)
}

func parseFilter(c *gin.Context) (audit.Filter, error) {
	f := audit.Filter{
		SubjectID: c.Query("subjectId"),
		Event:     c.Query("event"),
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("from 时间格式错误: %w", err)
		}
		f.From = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("to 时间格式错误: %w", err)
		}
		f.To = &t
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("limit 必须是非负整数")
		}
		f.Limit = n
	}
	return f, nil
}
