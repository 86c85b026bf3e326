package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader 请求追踪头
const RequestIDHeader = "X-Request-ID"

// RequestID 为每个请求分配追踪 ID 并写入日志上下文
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), id))
		c.Next()
	}
}

// RequestLogger 请求日志中间件
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		log := logger.WithContext(c.Request.Context(), nil)
		if c.Writer.Status() >= 500 {
			log.Warn("HTTP Request", fields...)
			return
		}
		log.Info("HTTP Request", fields...)
	}
}

// corsPolicy 启动时解析一次的跨域策略
type corsPolicy struct {
	origins map[string]bool // 为空表示允许任意来源
	headers string
	methods string
	expose  string
}

func newCORSPolicy(origins []string) corsPolicy {
	p := corsPolicy{
		headers: strings.Join(defaultIfEmpty(getEnvList("CORS_ALLOW_HEADERS"), []string{
			"Content-Type", "Authorization", "Accept", "Origin", "Cache-Control", "X-Requested-With", RequestIDHeader,
		}), ", "),
		methods: strings.Join(defaultIfEmpty(getEnvList("CORS_ALLOW_METHODS"), []string{
			"GET", "POST", "OPTIONS",
		}), ", "),
		// 证据导出的完整性头需要暴露给浏览器
		expose: strings.Join([]string{RequestIDHeader, "X-Integrity-Hash", "X-Evidence-Record", "Content-Disposition", "Retry-After"}, ", "),
	}
	if len(origins) > 0 {
		p.origins = make(map[string]bool, len(origins))
		for _, o := range origins {
			p.origins[strings.TrimRight(o, "/")] = true
		}
	}
	return p
}

// allows 判断来源是否在白名单内；未配置白名单时全部允许
func (p corsPolicy) allows(origin string) bool {
	return p.origins == nil || origin == "" || p.origins[strings.TrimRight(origin, "/")]
}

// CORS 跨域中间件；配置了白名单时才回显来源并允许携带凭证
func CORS(origins []string) gin.HandlerFunc {
	policy := newCORSPolicy(origins)
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		h := c.Writer.Header()

		switch {
		case policy.origins == nil:
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && policy.allows(origin):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Headers", policy.headers)
		h.Set("Access-Control-Allow-Methods", policy.methods)
		h.Set("Access-Control-Expose-Headers", policy.expose)
		h.Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
