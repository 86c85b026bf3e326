package notification

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type clientConn struct {
	userID string
	conn   *websocket.Conn
	mu     sync.Mutex
	done   chan struct{}
}

// WebSocketHub 实时监控看板的 WebSocket 连接管理
//
// 告警广播给所有已连接的控制人与安全人员；最近的若干条消息保存在环形缓冲中，
// 新连接建立时先补发，避免看板刷新时丢失刚发生的告警。
type WebSocketHub struct {
	mu                sync.RWMutex
	clients           map[*websocket.Conn]*clientConn
	recent            [][]byte
	recentSize        int
	keepAliveInterval time.Duration
	logger            *zap.Logger
}

// HubOption 配置 hub
type HubOption func(*WebSocketHub)

// WithRecentSize 设置补发缓冲大小
func WithRecentSize(n int) HubOption {
	return func(h *WebSocketHub) { h.recentSize = n }
}

// WithKeepAliveInterval 设置心跳间隔
func WithKeepAliveInterval(interval time.Duration) HubOption {
	return func(h *WebSocketHub) { h.keepAliveInterval = interval }
}

// WithHubLogger 设置日志器
func WithHubLogger(l *zap.Logger) HubOption {
	return func(h *WebSocketHub) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewWebSocketHub 创建 Hub
func NewWebSocketHub(opts ...HubOption) *WebSocketHub {
	hub := &WebSocketHub{
		clients:           make(map[*websocket.Conn]*clientConn),
		recentSize:        50,
		keepAliveInterval: 30 * time.Second,
		logger:            logger.Get(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(hub)
		}
	}
	return hub
}

// Register 注册连接并补发最近消息
func (h *WebSocketHub) Register(userID string, conn *websocket.Conn) {
	client := &clientConn{userID: userID, conn: conn, done: make(chan struct{})}

	h.mu.Lock()
	h.clients[conn] = client
	backlog := append([][]byte(nil), h.recent...)
	h.mu.Unlock()

	for _, msg := range backlog {
		if err := client.write(msg); err != nil {
			h.logger.Debug("补发看板消息失败", zap.String("user_id", userID), zap.Error(err))
			break
		}
	}
	h.startKeepAlive(client)
}

// Unregister 移除连接
func (h *WebSocketHub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	client, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
	}
	h.mu.Unlock()
	if ok {
		close(client.done)
		_ = conn.Close()
	}
}

// Broadcast 推送给所有连接，写失败的连接被移除
func (h *WebSocketHub) Broadcast(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.recentSize > 0 {
		h.recent = append(h.recent, data)
		if len(h.recent) > h.recentSize {
			h.recent = h.recent[len(h.recent)-h.recentSize:]
		}
	}
	clients := make([]*clientConn, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			h.logger.Debug("看板推送失败，移除连接", zap.String("user_id", c.userID), zap.Error(err))
			h.Unregister(c.conn)
		}
	}
	return nil
}

// ConnectedCount 当前连接数
func (h *WebSocketHub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close 关闭所有连接
func (h *WebSocketHub) Close() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()
	for _, conn := range conns {
		h.Unregister(conn)
	}
}

func (c *clientConn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *WebSocketHub) startKeepAlive(client *clientConn) {
	if h.keepAliveInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(h.keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-client.done:
				return
			case <-ticker.C:
				client.mu.Lock()
				err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				client.mu.Unlock()
				if err != nil {
					h.Unregister(client.conn)
					return
				}
			}
		}
	}()
}
