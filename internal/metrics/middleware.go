package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// 探针与指标端点不计入请求统计
var skipPaths = map[string]bool{
	"/metrics": true,
	"/health":  true,
	"/ready":   true,
}

// PrometheusMiddleware 按路由模板记录请求数与延迟
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if skipPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := routeLabel(c)
		APIRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		APIRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// routeLabel 使用路由模板（如 /api/v1/sessions/:id）；未匹配的路径统一归为 unmatched，避免标签基数失控
func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}
