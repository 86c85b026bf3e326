package notifications

import (
	"net/http"
	"strings"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/logger"
	"github.com/prasantk47/governexplus-sub004/internal/notification"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// 看板只接收服务端推送，客户端消息仅用于保活
	clientReadLimit = 512
	pongWait        = 2 * time.Minute
)

// HelloFrame 连接建立后发送的首帧
type HelloFrame struct {
	Type       string    `json:"type"`
	UserID     string    `json:"userId"`
	Viewers    int       `json:"viewers"`
	ServerTime time.Time `json:"serverTime"`
}

// WebSocketHandler 实时监控看板推送
type WebSocketHandler struct {
	hub      *notification.WebSocketHub
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建处理器；allowedOrigins 为空时不校验 Origin
func NewWebSocketHandler(hub *notification.WebSocketHub, allowedOrigins ...string) *WebSocketHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 5 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[strings.TrimRight(origin, "/")]
			},
		},
	}
}

// Connect 升级为 WebSocket 并加入看板广播
// GET /ws/monitor
func (h *WebSocketHandler) Connect(c *gin.Context) {
	if h == nil || h.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "看板推送未启用"})
		return
	}
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少用户上下文"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已写回错误响应
		logger.WithContext(c.Request.Context(), nil).Debug("看板握手失败", zap.Error(err))
		return
	}

	conn.SetReadLimit(clientReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	hello := HelloFrame{
		Type:       "connected",
		UserID:     userID,
		Viewers:    h.hub.ConnectedCount() + 1,
		ServerTime: time.Now().UTC(),
	}
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return
	}
	h.hub.Register(userID, conn)

	go h.drain(conn)
}

// drain 读取并丢弃客户端消息，连接断开或超时后注销
func (h *WebSocketHandler) drain(conn *websocket.Conn) {
	defer h.hub.Unregister(conn)
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
