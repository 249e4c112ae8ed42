// Package memories exposes the memory CRUD endpoints backed by the
// supercede-or-create engine.
package memories

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mranderson01901234/5.0-sub004/internal/engine"
	"github.com/mranderson01901234/5.0-sub004/internal/model"
	registrystore "github.com/mranderson01901234/5.0-sub004/internal/registry/store"
	"github.com/mranderson01901234/5.0-sub004/internal/security"
)

// MountRoutes mounts the memory endpoints on the given router.
func MountRoutes(r *gin.Engine, eng *engine.Engine, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.GET("/memories", func(c *gin.Context) { listMemories(c, eng) })
	g.POST("/memories", func(c *gin.Context) { postMemory(c, eng) })
	g.PATCH("/memories/:id", func(c *gin.Context) { patchMemory(c, eng) })
}

func listMemories(c *gin.Context, eng *engine.Engine) {
	userID := c.Query("userId")
	if !security.CheckUser(c, userID) {
		return
	}

	q := registrystore.ListMemoriesQuery{
		UserID: userID,
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if threadID := c.Query("threadId"); threadID != "" {
		q.ThreadID = &threadID
	}
	if raw := c.Query("minPriority"); raw != "" {
		min, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "minPriority must be a number"})
			return
		}
		q.MinPriority = &min
	}
	if raw := c.Query("includeDeleted"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "includeDeleted must be a boolean"})
			return
		}
		q.IncludeDeleted = include
	}

	memories, total, err := eng.List(c.Request.Context(), q)
	if err != nil {
		handleError(c, err)
		return
	}
	if memories == nil {
		memories = []model.Memory{}
	}
	c.JSON(http.StatusOK, gin.H{
		"memories": memories,
		"total":    total,
		"limit":    q.Limit,
		"offset":   q.Offset,
	})
}

type postMemoryRequest struct {
	UserID   string   `json:"userId"`
	ThreadID string   `json:"threadId"`
	Content  string   `json:"content"`
	Priority *float64 `json:"priority"`
	Tier     *string  `json:"tier"`
}

func postMemory(c *gin.Context, eng *engine.Engine) {
	var req postMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !security.CheckUser(c, req.UserID) {
		return
	}
	if req.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	save := engine.SaveRequest{
		UserID:     req.UserID,
		ThreadID:   req.ThreadID,
		Content:    req.Content,
		Priority:   req.Priority,
		Confidence: 1.0,
		Explicit:   true,
	}
	if req.Tier != nil {
		tier, ok := model.ParseTier(*req.Tier)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tier must be T1, T2 or T3"})
			return
		}
		save.Tier = &tier
	}

	result, err := eng.Save(c.Request.Context(), save)
	if err != nil {
		if errors.Is(err, engine.ErrAllRedacted) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content is entirely redacted"})
			return
		}
		if errors.Is(err, registrystore.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		handleError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Superceded {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"memory":     result.Memory,
		"superceded": result.Superceded,
	})
}

type patchMemoryRequest struct {
	UserID   string   `json:"userId"`
	Content  *string  `json:"content"`
	Priority *float64 `json:"priority"`
	Deleted  *bool    `json:"deleted"`
}

func patchMemory(c *gin.Context, eng *engine.Engine) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid memory id"})
		return
	}

	var req patchMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !security.CheckUser(c, req.UserID) {
		return
	}

	m, err := eng.Patch(c.Request.Context(), req.UserID, id, engine.PatchRequest{
		Content:  req.Content,
		Priority: req.Priority,
		Deleted:  req.Deleted,
	})
	if err != nil {
		if errors.Is(err, registrystore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "memory not found"})
			return
		}
		if errors.Is(err, engine.ErrAllRedacted) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content is entirely redacted"})
			return
		}
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memory": m})
}

func handleError(c *gin.Context, err error) {
	log.Error("memories route error", "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
