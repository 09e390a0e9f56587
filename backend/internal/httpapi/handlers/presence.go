package handlers

import (
	"net/http"

	"folderSync/backend/internal/cache"

	"github.com/gin-gonic/gin"
)

type PresenceHandler struct {
	presence cache.Presence
}

func NewPresenceHandler(p cache.Presence) *PresenceHandler {
	return &PresenceHandler{presence: p}
}

func (h *PresenceHandler) Register(g *gin.RouterGroup) {
	g.GET("/presence", h.ListObjects)
	g.GET("/presence/:objectId", h.ListMembers)
	g.GET("/presence/:objectId/:userId", h.GetState)
}

// ListObjects 有人在线的对象
func (h *PresenceHandler) ListObjects(c *gin.Context) {
	objects, err := h.presence.Objects(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"objects": objects})
}

func (h *PresenceHandler) ListMembers(c *gin.Context) {
	objectID := c.Param("objectId")
	members, err := h.presence.AliveMembers(c.Request.Context(), objectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"objectId": objectID, "members": members})
}

// GetState 最近一次 passthrough 的内容（光标、选区等）
func (h *PresenceHandler) GetState(c *gin.Context) {
	objectID, userID := c.Param("objectId"), c.Param("userId")
	state, ok, err := h.presence.State(c.Request.Context(), objectID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no state"})
		return
	}
	c.Data(http.StatusOK, "application/json", state)
}
