package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIResponse 成功响应包装
type APIResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// ListResponse 列表响应；total 为本次返回条数
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// ErrorResponse 错误响应，requestId 便于对照服务端日志
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// OK 成功响应
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

// Created 创建成功响应
func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, APIResponse{Success: true, Data: data})
}

// List 列表响应，nil 切片输出为空数组
func List[T any](c *gin.Context, items []T) {
	if items == nil {
		items = []T{}
	}
	OK(c, ListResponse[T]{Items: items, Total: len(items)})
}

// Abort 以指定状态码返回错误
func Abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Success:   false,
		Code:      code,
		Message:   message,
		RequestID: c.Writer.Header().Get("X-Request-ID"),
	})
}
