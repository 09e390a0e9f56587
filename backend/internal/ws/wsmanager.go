package ws

import (
	"context"
	"log"
	"net/http"
	"strings"

	"folderSync/backend/internal/collab"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// 全局的WebSocket upgrader（允许本地开发环境的来源）
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" { // 一些环境可能不发送 Origin，或为 "null"
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
	h   *Hub
	svc collab.Service
	sem *collab.SemaphoreControl
}

func NewManager(h *Hub, svc collab.Service, sem *collab.SemaphoreControl) *Manager {
	return &Manager{h: h, svc: svc, sem: sem}
}

// WebSocketConnect GET /collab/ws?objectId=...，userId 由鉴权中间件写入
func (m *Manager) WebSocketConnect(c *gin.Context) {
	userID := c.GetString("userId")
	objectID := c.Query("objectId")
	if objectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing objectId"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	wsConn := NewConn(conn, m.h, objectID, userID, m.svc, m.sem)
	m.h.Join(objectID, wsConn)
	defer m.h.Leave(objectID, wsConn)

	tip, err := m.svc.CurrentRevision(ctx, objectID)
	if err != nil {
		log.Printf("[ws] current revision of %s: %v", objectID, err)
	}
	members := wsConn.refreshPresence(ctx)

	// 先启动写循环
	go wsConn.writeLoop()
	wsConn.Enqueue(ServerMessage{Type: TypeWelcome, ObjectID: objectID, UserID: userID, RevID: tip, Members: members})

	// 读循环阻塞至连接关闭
	wsConn.readLoop(ctx)

	if m.h.presence != nil {
		if err := m.h.presence.Leave(context.WithoutCancel(ctx), objectID, userID); err != nil {
			log.Printf("[ws] presence leave error: %v", err)
		}
	}
}
