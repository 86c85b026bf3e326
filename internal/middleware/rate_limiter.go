package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiterConfig 限流配置
type RateLimiterConfig struct {
	RequestsPerMinute int           // 每分钟补充的令牌数
	BurstSize         int           // 突发容量
	IdleTTL           time.Duration // 闲置多久后回收客户端状态
	CleanupInterval   time.Duration // 清理间隔
}

// DefaultRateLimiterConfig 敏感接口默认配置
func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		RequestsPerMinute: 30,
		BurstSize:         10,
		IdleTTL:           10 * time.Minute,
		CleanupInterval:   5 * time.Minute,
	}
}

type clientState struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按调用方的令牌桶限流器
type RateLimiter struct {
	config  *RateLimiterConfig
	clients map[string]*clientState
	mu      sync.Mutex
	now     func() time.Time
	stopCh  chan struct{}
	once    sync.Once
}

// NewRateLimiter 创建限流器并启动清理协程
func NewRateLimiter(config *RateLimiterConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimiterConfig()
	}
	rl := &RateLimiter{
		config:  config,
		clients: make(map[string]*clientState),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	state, ok := rl.clients[key]
	if !ok {
		state = &clientState{
			limiter: rate.NewLimiter(rate.Limit(float64(rl.config.RequestsPerMinute)/60), rl.config.BurstSize),
		}
		rl.clients[key] = state
	}
	state.lastSeen = now
	return state.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, state := range rl.clients {
		if now.Sub(state.lastSeen) > rl.config.IdleTTL {
			delete(rl.clients, key)
		}
	}
}

// Stop 停止清理协程
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

// ActiveClients 当前跟踪的调用方数量
func (rl *RateLimiter) ActiveClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// RateLimitByEndpoint 按端点和用户限流，用于凭证获取等敏感接口
func RateLimitByEndpoint(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			userID = c.ClientIP()
		}

		if !limiter.Allow("endpoint:" + c.FullPath() + ":" + userID) {
			retry := 60 / max(limiter.config.RequestsPerMinute, 1)
			c.Header("Retry-After", strconv.Itoa(max(retry, 1)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"code":    "rate_limited",
				"message": "该接口请求过于频繁，请稍后重试",
			})
			return
		}

		c.Next()
	}
}
