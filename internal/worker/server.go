package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/config"
	"github.com/prasantk47/governexplus-sub004/internal/infra"
	"github.com/prasantk47/governexplus-sub004/internal/infra/queue"
	"github.com/prasantk47/governexplus-sub004/internal/scheduler"
	"github.com/prasantk47/governexplus-sub004/internal/worker/handlers"
	"github.com/prasantk47/governexplus-sub004/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Server 消费会话过期、复核 SLA 与巡检定时任务
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewServer 创建 worker；concurrency 非正时取 10
func NewServer(cfg config.RedisConfig, concurrency int, registry *scheduler.Registry, logger *zap.Logger) *Server {
	if concurrency <= 0 {
		concurrency = 10
	}
	srv := asynq.NewServer(
		infra.AsynqRedisOpt(cfg),
		asynq.Config{
			Concurrency:     concurrency,
			Queues:          queue.ServerQueues(),
			ShutdownTimeout: 10 * time.Second,
			ErrorHandler:    failureLogger(logger),
		},
	)
	return &Server{server: srv, mux: NewMux(registry, logger), logger: logger}
}

// failureLogger 记录失败任务；达到最大重试后的失败单独告警，需要人工处理悬挂的会话或复核
func failureLogger(logger *zap.Logger) asynq.ErrorHandler {
	return asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
		var p tasks.TimerPayload
		_ = json.Unmarshal(task.Payload(), &p)
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		fields := []zap.Field{
			zap.String("type", task.Type()),
			zap.String("subject_id", p.SubjectID),
			zap.Int("retried", retried),
			zap.Int("max_retry", maxRetry),
			zap.Error(err),
		}
		if retried >= maxRetry {
			logger.Error("定时任务重试耗尽", fields...)
			return
		}
		logger.Warn("定时任务失败，等待重试", fields...)
	})
}

// NewMux 为注册表中的每种定时任务挂载同一个处理器
func NewMux(registry *scheduler.Registry, logger *zap.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	timerHandler := handlers.NewTimerHandler(registry, logger)
	for _, kind := range registry.Kinds() {
		mux.HandleFunc(kind, timerHandler.HandleTimer)
	}
	return mux
}

// Start 后台启动
func (s *Server) Start() error {
	s.logger.Info("定时任务 worker 启动")
	return s.server.Start(s.mux)
}

// Shutdown 等待进行中的任务完成后停止
func (s *Server) Shutdown() {
	s.logger.Info("定时任务 worker 停止")
	s.server.Shutdown()
}
