package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prasantk47/governexplus-sub004/api"
	"github.com/prasantk47/governexplus-sub004/internal/audit"
	"github.com/prasantk47/governexplus-sub004/internal/config"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter"
	"github.com/prasantk47/governexplus-sub004/internal/infra"
	"github.com/prasantk47/governexplus-sub004/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	loadEnvFile()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	cfg, err := config.Load(env, os.Getenv("APP_CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, env, cfg); err != nil {
		logger.Error("服务异常退出", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// run 启动服务并阻塞到 ctx 取消，随后按 HTTP、后台任务、Redis、数据库的顺序关闭
func run(ctx context.Context, env string, cfg *config.Config) error {
	logger.Info("紧急访问服务启动",
		zap.String("env", env),
		zap.String("mode", cfg.Server.Mode),
		zap.String("scheduler", cfg.Firefighter.Scheduler),
		zap.String("account_lock", cfg.Firefighter.AccountLock),
	)

	db, err := infra.InitDatabase(&cfg.Database, cfg.Log.Level, append(firefighter.Models(), &audit.Entry{})...)
	if err != nil {
		return fmt.Errorf("初始化数据库: %w", err)
	}
	defer func() {
		if err := infra.CloseDatabase(); err != nil {
			logger.Warn("关闭数据库失败", zap.Error(err))
		}
	}()

	gin.SetMode(cfg.Server.Mode)
	router, app, err := api.SetupRouter(db, cfg)
	if err != nil {
		return fmt.Errorf("组装服务: %w", err)
	}
	defer func() {
		if err := infra.CloseRedis(); err != nil {
			logger.Warn("关闭 Redis 失败", zap.Error(err))
		}
	}()
	defer app.Shutdown()

	// 先恢复过期与复核定时器，再对外提供服务
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("启动后台任务: %w", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP 服务监听", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP 服务: %w", err)
		}
	case <-ctx.Done():
		logger.Info("收到退出信号，开始关闭")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP 服务关闭超时", zap.Error(err))
	}
	logger.Info("服务已关闭")
	return nil
}

// loadEnvFile 加载 APP_ENV_FILE 指定的文件，否则从工作目录向上查找 .env
func loadEnvFile() {
	path := os.Getenv("APP_ENV_FILE")
	if path == "" {
		path = findUp(".env", 6)
	}
	if path == "" {
		return
	}
	if err := godotenv.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "加载 %s 失败: %v\n", path, err)
	}
}

func findUp(name string, depth int) string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for i := 0; i < depth; i++ {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
