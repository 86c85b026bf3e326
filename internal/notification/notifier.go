package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/config"
	"github.com/prasantk47/governexplus-sub004/pkg/httputil"

	"go.uber.org/zap"
)

// Sender 单个投递通道
type Sender interface {
	Send(ctx context.Context, n *Notification) error
	Channel() string
}

// Notification 通知消息
type Notification struct {
	To      string         // 接收者（用户、角色或邮箱）
	Subject string         // 主题
	Body    string         // 内容
	Data    map[string]any // 附加数据
}

// NewSender 按配置创建投递通道
func NewSender(cfg config.NotificationConfig, l *zap.Logger) (Sender, error) {
	switch cfg.Channel {
	case "email":
		if cfg.SMTPHost == "" {
			return nil, fmt.Errorf("notification.smtp_host 不能为空")
		}
		return NewEmailSender(&EmailConfig{
			SMTPHost: cfg.SMTPHost,
			SMTPPort: cfg.SMTPPort,
			Username: cfg.Username,
			Password: cfg.Password,
			From:     cfg.From,
		}), nil
	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("notification.webhook_url 不能为空")
		}
		return NewWebhookSender(&WebhookConfig{
			URL:     cfg.WebhookURL,
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
			Headers: cfg.WebhookHeaders,
		}), nil
	case "log", "":
		return NewLogSender(l), nil
	default:
		return nil, fmt.Errorf("不支持的通知通道: %s (可选: log, email, webhook)", cfg.Channel)
	}
}

// EmailConfig 邮件配置
type EmailConfig struct {
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
}

// EmailSender 邮件通道
type EmailSender struct {
	config *EmailConfig
}

// NewEmailSender 创建邮件通道
func NewEmailSender(config *EmailConfig) *EmailSender {
	return &EmailSender{config: config}
}

// Channel 通道名
func (e *EmailSender) Channel() string { return "email" }

// Send 发送邮件
func (e *EmailSender) Send(_ context.Context, n *Notification) error {
	message := fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		e.config.From,
		n.To,
		n.Subject,
		n.Body,
	)

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.SMTPHost)
	addr := fmt.Sprintf("%s:%d", e.config.SMTPHost, e.config.SMTPPort)
	if err := smtp.SendMail(addr, auth, e.config.From, []string{n.To}, []byte(message)); err != nil {
		return fmt.Errorf("发送邮件失败: %w", err)
	}
	return nil
}

// WebhookConfig Webhook 配置
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// WebhookSender Webhook 通道，接收者作为负载字段交给下游路由
type WebhookSender struct {
	url    string
	client *httputil.Client
}

// NewWebhookSender 创建 Webhook 通道
func NewWebhookSender(config *WebhookConfig) *WebhookSender {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		url: config.URL,
		client: httputil.NewClient(
			httputil.WithTimeout(timeout),
			httputil.WithHeaders(config.Headers),
			httputil.WithRetries(1),
		),
	}
}

// Channel 通道名
func (w *WebhookSender) Channel() string { return "webhook" }

// Send 发送 Webhook
func (w *WebhookSender) Send(ctx context.Context, n *Notification) error {
	payload := map[string]any{
		"to":        n.To,
		"subject":   n.Subject,
		"body":      n.Body,
		"data":      n.Data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := w.client.PostJSON(ctx, w.url, payload, nil); err != nil {
		return fmt.Errorf("发送 Webhook 失败: %w", err)
	}
	return nil
}

// LogSender 只写日志的通道，用于开发环境
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender 创建日志通道
func NewLogSender(l *zap.Logger) *LogSender {
	if l == nil {
		l = zap.NewNop()
	}
	return &LogSender{logger: l}
}

// Channel 通道名
func (s *LogSender) Channel() string { return "log" }

// Send 写日志
func (s *LogSender) Send(_ context.Context, n *Notification) error {
	s.logger.Info("通知",
		zap.String("to", n.To),
		zap.String("subject", n.Subject),
		zap.String("body", n.Body),
	)
	return nil
}
