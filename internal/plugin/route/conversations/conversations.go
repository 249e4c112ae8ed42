// Package conversations lists a user's recently audited threads with their
// optional summaries.
package conversations

import (
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	registrystore "github.com/mranderson01901234/5.0-sub004/internal/registry/store"
	"github.com/mranderson01901234/5.0-sub004/internal/security"
)

// MountRoutes mounts the conversations endpoint.
func MountRoutes(r *gin.Engine, store registrystore.MemoryStore, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.GET("/conversations", func(c *gin.Context) { listConversations(c, store) })
}

func listConversations(c *gin.Context, store registrystore.MemoryStore) {
	userID := c.Query("userId")
	if !security.CheckUser(c, userID) {
		return
	}

	limit := 10
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be in [1,100]"})
			return
		}
		limit = n
	}

	threads, err := store.ListAuditedThreads(c.Request.Context(), userID, c.Query("excludeThreadId"), limit)
	if err != nil {
		log.Error("conversations route error", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if threads == nil {
		threads = []registrystore.AuditedThread{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": threads})
}
