package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"folderSync/backend/internal/collab"
	"folderSync/backend/internal/revision"

	"github.com/gin-gonic/gin"
)

// RevisionsResponse GET /collab/objects/:objectId/revisions 的返回
type RevisionsResponse struct {
	ObjectID  string              `json:"objectId"`
	RevID     uint64              `json:"revId"`
	Revisions []revision.Revision `json:"revisions"`
}

type ObjectHandler struct {
	svc collab.Service
}

func NewObjectHandler(svc collab.Service) *ObjectHandler {
	return &ObjectHandler{svc: svc}
}

func (h *ObjectHandler) Register(g *gin.RouterGroup) {
	g.GET("/objects/:objectId", h.GetContent)
	g.GET("/objects/:objectId/revision", h.GetRevision)
	g.GET("/objects/:objectId/revisions", h.ListRevisions)
	g.POST("/objects/:objectId/snapshot", h.SaveSnapshot)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, revision.ErrOutOfOrder), errors.Is(err, revision.ErrMalformedDelta):
		return http.StatusBadRequest
	case errors.Is(err, revision.ErrDivergence):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// ListRevisions ?from=N 只返回 N 之后的修订，默认返回全部历史
func (h *ObjectHandler) ListRevisions(c *gin.Context) {
	objectID := c.Param("objectId")
	var from uint64
	if q := c.Query("from"); q != "" {
		n, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
			return
		}
		from = n
	}
	revs, err := h.svc.RevisionsSince(c.Request.Context(), objectID, from)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	if revs == nil {
		revs = []revision.Revision{}
	}
	var tip uint64
	if n := len(revs); n > 0 {
		tip = revs[n-1].RevID
	} else {
		tip = from
	}
	c.JSON(http.StatusOK, RevisionsResponse{ObjectID: objectID, RevID: tip, Revisions: revs})
}

func (h *ObjectHandler) GetRevision(c *gin.Context) {
	objectID := c.Param("objectId")
	rev, err := h.svc.CurrentRevision(c.Request.Context(), objectID)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"objectId": objectID, "revId": rev})
}

func (h *ObjectHandler) GetContent(c *gin.Context) {
	objectID := c.Param("objectId")
	content, rev, err := h.svc.LoadContent(c.Request.Context(), objectID)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"objectId": objectID, "revId": rev, "content": content, "checksum": revision.Checksum(content)})
}

func (h *ObjectHandler) SaveSnapshot(c *gin.Context) {
	objectID := c.Param("objectId")
	if err := h.svc.SaveSnapshot(c.Request.Context(), objectID); err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"objectId": objectID, "saved": true})
}
