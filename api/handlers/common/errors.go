package common

import (
	"net/http"

	"github.com/prasantk47/governexplus-sub004/internal/firefighter"
	"github.com/prasantk47/governexplus-sub004/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StatusOf 错误分类对应的 HTTP 状态码
func StatusOf(kind firefighter.Kind) int {
	switch kind {
	case firefighter.KindValidation:
		return http.StatusBadRequest
	case firefighter.KindNotFound:
		return http.StatusNotFound
	case firefighter.KindPermission:
		return http.StatusForbidden
	case firefighter.KindConflict:
		return http.StatusConflict
	case firefighter.KindInvalidState, firefighter.KindLimitExceeded:
		return http.StatusUnprocessableEntity
	case firefighter.KindProvisioning:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Fail 按错误分类返回统一错误结构；内部错误不向调用方暴露细节
func Fail(c *gin.Context, err error) {
	kind := firefighter.KindOf(err)
	status := StatusOf(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.WithContext(c.Request.Context(), nil).Error("请求处理失败",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		msg = "服务器内部错误"
	}
	Abort(c, status, string(kind), msg)
}

// BadRequest 请求体或参数无法解析
func BadRequest(c *gin.Context, err error) {
	Abort(c, http.StatusBadRequest, string(firefighter.KindValidation), "参数错误: "+err.Error())
}
