package ws

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"syncServer/backend/internal/authz"
	"syncServer/backend/internal/collab"
)

// 全局的 WebSocket upgrader（允许本地开发环境的来源）
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

type Manager struct {
	h       *Hub
	svc     collab.Service
	sem     *collab.SemaphoreControl
	checker authz.Checker
}

func NewManager(h *Hub, svc collab.Service, sem *collab.SemaphoreControl, checker authz.Checker) *Manager {
	return &Manager{h: h, svc: svc, sem: sem, checker: checker}
}

func (m *Manager) WebSocketConnect(c *gin.Context) {
	// 身份由鉴权中间件写入 context
	userID := c.GetUint64("userId")
	username := c.GetString("username")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	sessionID := fmt.Sprintf("s-%d", time.Now().UnixNano())
	wsConn := NewConn(conn, m.h, sessionID, userID, username, m.svc, m.sem, m.checker)

	// 先启动写循环，保证 welcome 与后续入队消息能被及时发出
	go wsConn.writeLoop()
	wsConn.SendMessage_Enqueue(ServerMessage{Type: "welcome", Content: sessionID})

	// 读循环阻塞至连接关闭或心跳超时
	wsConn.readLoop(c.Request.Context())
}
