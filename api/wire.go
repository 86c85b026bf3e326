package api

import (
	"context"
	"fmt"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/audit"
	"github.com/prasantk47/governexplus-sub004/internal/config"
	"github.com/prasantk47/governexplus-sub004/internal/connector"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter/activity"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter/alert"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter/approval"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter/evidence"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter/lease"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter/monitor"
	"github.com/prasantk47/governexplus-sub004/internal/firefighter/review"
	"github.com/prasantk47/governexplus-sub004/internal/infra"
	"github.com/prasantk47/governexplus-sub004/internal/infra/queue"
	"github.com/prasantk47/governexplus-sub004/internal/middleware"
	"github.com/prasantk47/governexplus-sub004/internal/notification"
	"github.com/prasantk47/governexplus-sub004/internal/scheduler"
	"github.com/prasantk47/governexplus-sub004/internal/security"
	"github.com/prasantk47/governexplus-sub004/internal/worker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const notificationDrainTimeout = 10 * time.Second

// App 组装完成的服务集合
type App struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  redis.UniversalClient

	Policy     *firefighter.Policy
	Trail      *audit.Trail
	Hub        *notification.WebSocketHub
	Approvals  *approval.Router
	Leases     *lease.Manager
	Activities *activity.Logger
	Alerts     *alert.Service
	Monitor    *monitor.Monitor
	Reviews    *review.Scheduler
	Evidence   *evidence.Exporter
	Timers     *queue.TimerView
	Limiter    *middleware.RateLimiter

	registry    *scheduler.Registry
	notifier    *notification.Dispatcher
	local       *scheduler.Local
	queueClient queue.Client
	worker      *worker.Server
	logger      *zap.Logger
}

// BuildApp 按配置组装全部组件；redisClient 为空时账号锁与调度退回进程内实现
func BuildApp(db *gorm.DB, cfg *config.Config, redisClient redis.UniversalClient, log *zap.Logger) (*App, error) {
	ffCfg := cfg.Firefighter
	app := &App{Config: cfg, DB: db, Redis: redisClient, logger: log}

	policy := firefighter.DefaultPolicy()
	if ffCfg.CatalogPath != "" {
		p, err := firefighter.LoadPolicyFile(ffCfg.CatalogPath)
		if err != nil {
			return nil, err
		}
		policy = p
	}
	app.Policy = policy

	// 基础设施
	app.registry = scheduler.NewRegistry()
	var timers scheduler.Scheduler
	var stats queue.StatsSource
	switch {
	case ffCfg.Scheduler == "queue" && redisClient != nil:
		app.queueClient = queue.NewClient(infra.AsynqRedisOpt(cfg.Redis))
		timers = scheduler.NewQueue(app.queueClient, log.Named("scheduler"))
		stats = app.queueClient
		app.worker = worker.NewServer(cfg.Redis, ffCfg.WorkerConcurrency, app.registry, log.Named("worker"))
	default:
		if ffCfg.Scheduler == "queue" {
			log.Warn("Redis 不可用，定时任务退回进程内调度")
		}
		app.local = scheduler.NewLocal(app.registry, scheduler.WithLogger(log.Named("scheduler")))
		timers = app.local
	}
	app.Timers = queue.NewTimerView(1000, stats)
	limiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg.Server.SensitiveRPM > 0 {
		limiterCfg.RequestsPerMinute = cfg.Server.SensitiveRPM
	}
	if cfg.Server.SensitiveBurst > 0 {
		limiterCfg.BurstSize = cfg.Server.SensitiveBurst
	}
	app.Limiter = middleware.NewRateLimiter(limiterCfg)
	app.registry.AddRecorder(app.Timers)

	var locker infra.AccountLocker = infra.NewLocalLocker()
	if ffCfg.AccountLock == "redis" {
		if redisClient == nil {
			log.Warn("Redis 不可用，账号锁退回进程内实现，多实例部署下不安全")
		} else {
			locker = infra.NewRedisLocker(redisClient)
		}
	}

	sender, err := notification.NewSender(cfg.Notification, log.Named("notification"))
	if err != nil {
		return nil, fmt.Errorf("初始化通知通道失败: %w", err)
	}
	notifier := notification.NewDispatcher(sender, notification.WithDispatcherLogger(log.Named("notification")))
	app.notifier = notifier

	conn, err := connector.New(cfg.Connector)
	if err != nil {
		return nil, fmt.Errorf("初始化目标系统连接器失败: %w", err)
	}
	cipher, err := security.NewCipher(ffCfg.CredentialSecret)
	if err != nil {
		return nil, err
	}

	app.Trail = audit.NewTrail(db, audit.WithLogger(log.Named("audit")))
	app.Hub = notification.NewWebSocketHub(notification.WithHubLogger(log.Named("hub")))

	// 告警与监控
	app.Alerts = alert.NewService(db,
		alert.WithLogger(log.Named("alert")),
		alert.WithBroadcaster(app.Hub),
		alert.WithNotifier(notifier, ffCfg.SecurityTeam),
		alert.WithAuditRecorder(app.Trail),
	)
	app.Monitor = monitor.New(app.Alerts, monitor.Config{
		ExpiryWarning:         time.Duration(ffCfg.ExpiryWarningMinutes) * time.Minute,
		HighActivityThreshold: ffCfg.HighActivityThreshold,
		Interval:              time.Duration(ffCfg.MonitorIntervalSeconds) * time.Second,
	},
		monitor.WithLogger(log.Named("monitor")),
		monitor.WithScheduler(timers),
	)
	app.Alerts.AddObserver(app.Monitor)

	// 复核与会话
	app.Reviews = review.NewScheduler(db, policy.Reasons, review.Config{
		DefaultController: ffCfg.DefaultController,
		Controllers:       ffCfg.Controllers,
		EscalationTarget:  ffCfg.EscalationTarget,
	},
		review.WithLogger(log.Named("review")),
		review.WithTimers(timers),
		review.WithNotifier(notifier),
		review.WithAuditRecorder(app.Trail),
	)
	app.Leases = lease.NewManager(db, conn, cipher, policy.Reasons,
		lease.WithLogger(log.Named("lease")),
		lease.WithAccountLocker(locker),
		lease.WithScheduler(timers),
		lease.WithAlertRaiser(app.Alerts),
		lease.WithReviewTrigger(app.Reviews),
		lease.WithObserver(app.Monitor),
		lease.WithNotifier(notifier),
		lease.WithAuditRecorder(app.Trail),
		lease.WithExtensionLimits(ffCfg.MaxExtensions, ffCfg.MaxExtensionMinutes),
		lease.WithSecurityTeam(ffCfg.SecurityTeam),
	)
	app.Activities = activity.NewLogger(app.Leases, policy.Actions,
		activity.WithLogger(log.Named("activity")),
		activity.WithAlertRaiser(app.Alerts),
		activity.WithObserver(app.Monitor),
		activity.WithAuditRecorder(app.Trail),
	)

	// 审批
	app.Approvals, err = approval.NewRouter(db, policy.Reasons, app.Leases, approval.Config{
		DualApprovalThreshold: ffCfg.DualApprovalThreshold,
		DualApprovalRule:      ffCfg.DualApprovalRule,
		ApprovalSLA:           time.Duration(ffCfg.ApprovalSLAHours) * time.Hour,
		RequiresReviewDefault: ffCfg.RequiresReviewDefault,
		AllowReviewOverride:   ffCfg.AllowReviewOverride,
		Approvers:             ffCfg.Approvers,
	},
		approval.WithLogger(log.Named("approval")),
		approval.WithAccountLocker(locker),
		approval.WithNotifier(notifier),
		approval.WithAuditRecorder(app.Trail),
	)
	if err != nil {
		return nil, err
	}

	app.Evidence = evidence.NewExporter(
		evidence.NewCompiler(db, evidence.WithLogger(log.Named("evidence"))),
		app.Trail,
	)

	// 定时任务处理函数；巡检顺带提醒超时未审批的请求
	app.Leases.RegisterHandlers(app.registry)
	app.Reviews.RegisterHandlers(app.registry)
	app.registry.Register(scheduler.KindMonitorSweep, func(ctx context.Context, subjectID string) error {
		if n, err := app.Approvals.RemindOverdue(ctx); err != nil {
			log.Warn("审批超时提醒失败", zap.Error(err))
		} else if n > 0 {
			log.Info("已发送审批超时提醒", zap.Int("requests", n))
		}
		return app.Monitor.HandleSweep(ctx, subjectID)
	})

	return app, nil
}

// Start 恢复重启前的会话与复核定时器，启动巡检和 worker
func (a *App) Start(ctx context.Context) error {
	sessions, err := a.Leases.Recover(ctx)
	if err != nil {
		return fmt.Errorf("恢复会话失败: %w", err)
	}
	reviews, err := a.Reviews.Recover(ctx)
	if err != nil {
		return fmt.Errorf("恢复复核失败: %w", err)
	}
	a.logger.Info("定时任务已恢复",
		zap.Int("sessions", sessions),
		zap.Int("reviews", reviews),
	)

	if a.worker != nil {
		if err := a.worker.Start(); err != nil {
			return fmt.Errorf("启动 worker 失败: %w", err)
		}
	}
	return a.Monitor.Start(ctx)
}

// Shutdown 停止定时任务与推送
func (a *App) Shutdown() {
	if a.worker != nil {
		a.worker.Shutdown()
	}
	if a.local != nil {
		a.local.Stop()
	}
	if a.queueClient != nil {
		if err := a.queueClient.Close(); err != nil {
			a.logger.Warn("关闭队列客户端失败", zap.Error(err))
		}
	}
	// 定时器停止后不再产生新通知，等待撤销、升级等通知发完
	if a.notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), notificationDrainTimeout)
		_ = a.notifier.Drain(ctx)
		cancel()
	}
	a.Limiter.Stop()
	a.Hub.Close()
}
