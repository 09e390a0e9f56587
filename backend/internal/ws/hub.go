package ws

import (
	"sync"

	"folderSync/backend/internal/cache"
)

type Hub struct {
	// 在线状态的外部存储（一般是 redis），可以为 nil
	presence cache.Presence
	mu       sync.RWMutex
	// objectID -> set of connections
	rooms map[string]map[*Conn]struct{}
}

func NewHub(p cache.Presence) *Hub {
	return &Hub{presence: p, rooms: make(map[string]map[*Conn]struct{})}
}

// Join 将连接加入对象房间
func (h *Hub) Join(objectID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[objectID] == nil {
		// 一个用户可能开多个连接，广播要逐连接发
		h.rooms[objectID] = make(map[*Conn]struct{})
	}
	h.rooms[objectID][c] = struct{}{}
}

func (h *Hub) Leave(objectID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[objectID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, objectID)
		}
	}
}

func (h *Hub) RoomSize(objectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[objectID])
}

// Broadcast 发给房间里除 except 之外的所有连接
func (h *Hub) Broadcast(objectID string, except *Conn, msg ServerMessage) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.rooms[objectID]))
	for c := range h.rooms[objectID] {
		if c != except {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.Enqueue(msg)
	}
}
