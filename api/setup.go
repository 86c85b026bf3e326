package api

import (
	"os"
	"strings"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/auth"
	"github.com/prasantk47/governexplus-sub004/internal/config"
	"github.com/prasantk47/governexplus-sub004/internal/infra"
	"github.com/prasantk47/governexplus-sub004/internal/logger"
	"github.com/prasantk47/governexplus-sub004/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SetupRouter 组装服务并返回 Gin 路由
func SetupRouter(db *gorm.DB, cfg *config.Config) (*gin.Engine, *App, error) {
	router := gin.New()
	log := logger.Get()

	// 统一归一化 Redis 配置，优先使用 cfg.Redis，再回退到环境变量
	cfg.Redis = normalizeRedisConfig(cfg.Redis)

	var redisClient redis.UniversalClient
	if needsRedis(cfg) {
		client, err := infra.InitRedis(&cfg.Redis)
		if err != nil {
			log.Warn("Redis 不可用，令牌黑名单、账号锁与定时任务将退回进程内实现", zap.Error(err))
		} else {
			redisClient = client
		}
	}

	jwtService := auth.NewJWTService(resolveJWTSecret(cfg), cfg.Auth.Issuer, redisClient)
	jwtService.SetTTL(
		time.Duration(cfg.Auth.AccessTTLMinutes)*time.Minute,
		time.Duration(cfg.Auth.RefreshTTLHours)*time.Hour,
	)

	app, err := BuildApp(db, cfg, redisClient, log)
	if err != nil {
		return nil, nil, err
	}

	// 全局中间件
	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(RequestLogger())
	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = getEnvList("CORS_ALLOW_ORIGINS")
	}
	router.Use(CORS(origins))

	// Prometheus 指标收集中间件
	router.Use(metrics.PrometheusMiddleware())

	// 公开端点（不需要认证）
	router.GET("/health", HealthCheck())
	probes := []readinessProbe{databaseProbe(db)}
	if redisClient != nil {
		probes = append(probes, redisProbe())
	}
	router.GET("/ready", ReadinessCheck(probes...))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	RegisterRoutes(router, app, jwtService, origins)
	return router, app, nil
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Firefighter.Scheduler == "queue" ||
		cfg.Firefighter.AccountLock == "redis" ||
		os.Getenv("REDIS_ADDR") != ""
}

// resolveJWTSecret 生产模式必须显式配置密钥，防止使用弱默认值
func resolveJWTSecret(cfg *config.Config) string {
	secret := strings.TrimSpace(cfg.Auth.JWTSecret)
	if secret == "" {
		secret = strings.TrimSpace(os.Getenv("JWT_SECRET_KEY"))
	}
	if secret != "" {
		return secret
	}

	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if strings.EqualFold(cfg.Server.Mode, "release") || strings.EqualFold(appEnv, "prod") || strings.EqualFold(appEnv, "production") {
		logger.Fatal("JWT 密钥未配置，生产环境禁止使用默认密钥")
	}
	logger.Warn("JWT 密钥未配置，已回退为开发默认值，请在生产环境设置强随机密钥")
	return "default_jwt_secret_key_change_in_production"
}
