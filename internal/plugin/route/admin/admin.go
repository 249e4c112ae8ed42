// Package admin serves the JSON operational metrics endpoint. It reports
// whole-service numbers and is exempt from the per-user identity match.
package admin

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/mranderson01901234/5.0-sub004/internal/engine"
	"github.com/mranderson01901234/5.0-sub004/internal/jobs"
	registrystore "github.com/mranderson01901234/5.0-sub004/internal/registry/store"
)

// MountRoutes mounts the admin metrics endpoint.
func MountRoutes(r *gin.Engine, store registrystore.MemoryStore, queue *jobs.Queue, eng *engine.Engine, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.GET("/metrics", func(c *gin.Context) { getMetrics(c, store, queue, eng) })
}

func getMetrics(c *gin.Context, store registrystore.MemoryStore, queue *jobs.Queue, eng *engine.Engine) {
	ctx := c.Request.Context()

	counts, err := store.MemoryCounts(ctx)
	if err != nil {
		handleError(c, err)
		return
	}
	audits, err := store.AuditStats(ctx)
	if err != nil {
		handleError(c, err)
		return
	}
	dbSize, err := store.DBSizeMB(ctx)
	if err != nil {
		handleError(c, err)
		return
	}

	stats := queue.Stats()

	var lastAuditMsAgo *int64
	if audits.LastAt != nil {
		ms := time.Since(*audits.LastAt).Milliseconds()
		lastAuditMsAgo = &ms
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":     stats,
		"memories": counts,
		"audits":   audits,
		"health": gin.H{
			"dbSizeMb":       dbSize,
			"queueDepth":     queue.Depth(),
			"lastAuditMsAgo": lastAuditMsAgo,
		},
		"rejections": eng.Rejections(),
	})
}

func handleError(c *gin.Context, err error) {
	log.Error("admin route error", "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
