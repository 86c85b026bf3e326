package notifications

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prasantk47/governexplus-sub004/internal/notification"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWSHandler_ConnectAndReceive(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := notification.NewWebSocketHub(notification.WithKeepAliveInterval(time.Hour))
	defer hub.Close()
	h := NewWebSocketHandler(hub)

	r := gin.New()
	r.GET("/ws/monitor", func(c *gin.Context) {
		c.Set("user_id", "secops-1")
		h.Connect(c)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/monitor"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "connected", hello["type"])
	assert.Equal(t, "secops-1", hello["userId"])
	assert.EqualValues(t, 1, hello["viewers"])

	require.Eventually(t, func() bool { return hub.ConnectedCount() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Broadcast(map[string]string{"type": "alert"}))

	var msg map[string]any
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "alert", msg["type"])
}

func TestWSHandler_RequiresUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewWebSocketHandler(notification.NewWebSocketHub())

	r := gin.New()
	r.GET("/ws/monitor", h.Connect)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws/monitor", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWSHandler_RejectsForeignOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := notification.NewWebSocketHub(notification.WithKeepAliveInterval(time.Hour))
	defer hub.Close()
	h := NewWebSocketHandler(hub, "https://console.example.com")

	r := gin.New()
	r.GET("/ws/monitor", func(c *gin.Context) {
		c.Set("user_id", "secops-1")
		h.Connect(c)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/monitor"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://console.example.com/"}})
	require.NoError(t, err)
	_ = conn.Close()
}
