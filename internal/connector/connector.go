// Package connector 对接目标特权系统：解锁、锁定账号以及下发一次性凭证。
package connector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/config"
	"github.com/prasantk47/governexplus-sub004/pkg/httputil"
)

// TargetConnector 目标系统连接器
type TargetConnector interface {
	Unlock(ctx context.Context, account string) error
	Lock(ctx context.Context, account string) error
	SetTemporaryCredential(ctx context.Context, account, secret string) error
}

// New 按配置创建连接器
func New(cfg config.ConnectorConfig) (TargetConnector, error) {
	switch cfg.Mode {
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("connector.base_url 不能为空")
		}
		return NewHTTPConnector(cfg), nil
	case "memory", "":
		return NewMemoryConnector(), nil
	default:
		return nil, fmt.Errorf("不支持的连接器模式: %s (可选: http, memory)", cfg.Mode)
	}
}

// HTTPConnector 通过目标系统的 REST 网关执行账号操作
type HTTPConnector struct {
	baseURL string
	client  *httputil.Client
}

// NewHTTPConnector 创建 HTTP 连接器
func NewHTTPConnector(cfg config.ConnectorConfig, opts ...httputil.ClientOption) *HTTPConnector {
	headers := map[string]string{}
	if cfg.APIToken != "" {
		headers["Authorization"] = "Bearer " + cfg.APIToken
	}
	base := []httputil.ClientOption{
		httputil.WithTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second),
		httputil.WithHeaders(headers),
		httputil.WithRetries(2),
	}
	return &HTTPConnector{
		baseURL: cfg.BaseURL,
		client:  httputil.NewClient(append(base, opts...)...),
	}
}

// TimeoutOn 使指定操作生效后仍返回错误，模拟目标系统已执行但响应超时
func (m *MemoryConnector) TimeoutOn(op string, timeout bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout[op] = timeout
}

// Unlock 解锁账号
func (c *HTTPConnector) Unlock(ctx context.Context, account string) error {
	return c.post(ctx, account, "unlock", nil)
}

// Lock 锁定账号
func (c *HTTPConnector) Lock(ctx context.Context, account string) error {
	return c.post(ctx, account, "lock", nil)
}

// SetTemporaryCredential 重置为一次性密码
func (c *HTTPConnector) SetTemporaryCredential(ctx context.Context, account, secret string) error {
	return c.post(ctx, account, "credential", map[string]string{"password": secret, "temporary": "true"})
}

func (c *HTTPConnector) post(ctx context.Context, account, op string, body any) error {
	endpoint := fmt.Sprintf("%s/accounts/%s/%s", c.baseURL, url.PathEscape(account), op)
	if body == nil {
		body = map[string]string{}
	}
	if err := c.client.PostJSON(ctx, endpoint, body, nil); err != nil {
		return fmt.Errorf("目标系统 %s 账号 %s 失败: %w", op, account, err)
	}
	return nil
}

// ErrInjected 内存连接器注入的失败
var ErrInjected = errors.New("connector: injected failure")

// MemoryConnector 内存实现，用于开发环境和测试；可按操作注入失败
type MemoryConnector struct {
	mu       sync.Mutex
	unlocked map[string]bool
	secrets  map[string]string
	failOn   map[string]bool
	timeout  map[string]bool
	calls    []string
}

// NewMemoryConnector 创建内存连接器，所有账号初始为锁定
func NewMemoryConnector() *MemoryConnector {
	return &MemoryConnector{
		unlocked: make(map[string]bool),
		secrets:  make(map[string]string),
		failOn:   make(map[string]bool),
		timeout:  make(map[string]bool),
	}
}

// FailOn 使指定操作（unlock / lock / credential）返回错误
func (m *MemoryConnector) FailOn(op string, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[op] = fail
}

// Unlock 解锁账号
func (m *MemoryConnector) Unlock(_ context.Context, account string) error {
	return m.apply("unlock", account, func() { m.unlocked[account] = true })
}

// Lock 锁定账号并清除凭证
func (m *MemoryConnector) Lock(_ context.Context, account string) error {
	return m.apply("lock", account, func() {
		m.unlocked[account] = false
		delete(m.secrets, account)
	})
}

// SetTemporaryCredential 记录一次性凭证
func (m *MemoryConnector) SetTemporaryCredential(_ context.Context, account, secret string) error {
	return m.apply("credential", account, func() { m.secrets[account] = secret })
}

func (m *MemoryConnector) apply(op, account string, fn func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, op+":"+account)
	if m.failOn[op] {
		return fmt.Errorf("%w: %s %s", ErrInjected, op, account)
	}
	fn()
	if m.timeout[op] {
		return fmt.Errorf("%w: %s %s: %w", ErrInjected, op, account, context.DeadlineExceeded)
	}
	return nil
}

// IsUnlocked 账号是否处于解锁状态
func (m *MemoryConnector) IsUnlocked(account string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked[account]
}

// Secret 当前下发的凭证
func (m *MemoryConnector) Secret(account string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.secrets[account]
}

// Calls 调用记录
func (m *MemoryConnector) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
