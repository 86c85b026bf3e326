package firefighter

import (
	"fmt"
	"net/http"

	response "github.com/prasantk47/governexplus-sub004/api/handlers/common"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter/evidence"

	"github.com/gin-gonic/gin"
)

// ExportEvidence 编译并导出会话证据包
// GET /api/v1/sessions/:id/evidence?format=structured|tabular
func (h *Handler) ExportEvidence(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	export, err := h.svc.Evidence.Export(c.Request.Context(), c.Param("id"), evidence.Format(c.Query("format")), u.UserID)
	if err != nil {
		response.Fail(c, err)
		return
	}

	c.Header("X-Integrity-Hash", export.IntegrityHash)
	c.Header("X-Evidence-Record", export.RecordID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	c.Data(http.StatusOK, export.ContentType, export.Content)
}

// ListEvidenceRecords 会话的历史导出登记
func (h *Handler) ListEvidenceRecords(c *gin.Context) {
	items, err := h.svc.Evidence.Records(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.List(c, items)
}
