package notification

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/logger"
	"github.com/prasantk47/governexplus-sub004/internal/metrics"

	"go.uber.org/zap"
)

// Dispatcher 即发即弃的通知分发器
//
// Notify 立即返回，投递在后台 goroutine 中进行；失败只记录日志和指标，
// 不会影响触发通知的状态迁移。
type Dispatcher struct {
	sender  Sender
	logger  *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
	pending atomic.Int64
}

// DispatcherOption 配置项
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger 设置日志
func WithDispatcherLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithSendTimeout 单次投递超时
func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher 创建分发器
func NewDispatcher(sender Sender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sender:  sender,
		logger:  logger.Get(),
		timeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify 异步投递通知
func (d *Dispatcher) Notify(ctx context.Context, recipient, subject, body string) {
	if recipient == "" {
		return
	}
	traceID := logger.GetTraceID(ctx)
	n := &Notification{To: recipient, Subject: subject, Body: body}

	d.wg.Add(1)
	d.pending.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.pending.Add(-1)
		// 脱离请求生命周期，保留 trace_id 方便排查
		sendCtx, cancel := context.WithTimeout(logger.WithTraceID(context.Background(), traceID), d.timeout)
		defer cancel()

		if err := d.sender.Send(sendCtx, n); err != nil {
			metrics.NotificationsSent.WithLabelValues(d.sender.Channel(), "failed").Inc()
			logger.WithContext(sendCtx, d.logger).Warn("通知投递失败",
				zap.String("to", recipient),
				zap.String("subject", subject),
				zap.Error(err),
			)
			return
		}
		metrics.NotificationsSent.WithLabelValues(d.sender.Channel(), "sent").Inc()
	}()
}

// Pending 尚未完成的投递数
func (d *Dispatcher) Pending() int64 {
	return d.pending.Load()
}

// Drain 等待已提交的投递完成，ctx 到期时记录未完成的数量并返回
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.logger.Warn("退出时仍有通知未投递完成", zap.Int64("pending", d.Pending()))
		return ctx.Err()
	}
}
