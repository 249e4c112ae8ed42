// Package recall exposes the deadline-bounded recall endpoint and its SSE
// streaming variant.
package recall

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/mranderson01901234/5.0-sub004/internal/config"
	"github.com/mranderson01901234/5.0-sub004/internal/query"
	"github.com/mranderson01901234/5.0-sub004/internal/recall"
	"github.com/mranderson01901234/5.0-sub004/internal/security"
)

// MountRoutes mounts the recall endpoints.
func MountRoutes(r *gin.Engine, eng *recall.Engine, cfg *config.Config, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.GET("/recall", func(c *gin.Context) { getRecall(c, eng, cfg) })
	g.GET("/recall/stream", func(c *gin.Context) { streamRecall(c, eng, cfg) })
}

func parseRequest(c *gin.Context, cfg *config.Config) (recall.Request, bool) {
	userID := c.Query("userId")
	if !security.CheckUser(c, userID) {
		return recall.Request{}, false
	}

	mode, ok := query.ParseMode(c.Query("expansionMode"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expansionMode must be strict, normal or aggressive"})
		return recall.Request{}, false
	}

	req := recall.Request{
		UserID:   userID,
		ThreadID: c.Query("threadId"),
		Query:    c.Query("query"),
		MaxItems: cfg.RecallDefaultMaxItems,
		Deadline: cfg.RecallDefaultDeadline,
		Mode:     mode,
	}
	if raw := c.Query("maxItems"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "maxItems must be an integer"})
			return recall.Request{}, false
		}
		req.MaxItems = n
	}
	if raw := c.Query("deadlineMs"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "deadlineMs must be an integer"})
			return recall.Request{}, false
		}
		req.Deadline = time.Duration(ms) * time.Millisecond
	}
	return req, true
}

func getRecall(c *gin.Context, eng *recall.Engine, cfg *config.Config) {
	req, ok := parseRequest(c, cfg)
	if !ok {
		return
	}

	res, err := eng.Recall(c.Request.Context(), req)
	if err != nil {
		log.Error("recall failed", "userId", req.UserID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"memories":   res.Memories,
		"count":      res.Count,
		"elapsedMs":  res.ElapsedMs,
		"timedOut":   res.TimedOut,
		"searchType": res.SearchType,
	})
}

// streamRecall runs the same pipeline and emits one SSE "memory" event per
// ranked result, then a "done" event with the run's summary.
func streamRecall(c *gin.Context, eng *recall.Engine, cfg *config.Config) {
	req, ok := parseRequest(c, cfg)
	if !ok {
		return
	}

	res, err := eng.Recall(c.Request.Context(), req)
	if err != nil {
		log.Error("recall stream failed", "userId", req.UserID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	for _, m := range res.Memories {
		c.SSEvent("memory", m)
		c.Writer.Flush()
	}

	done, _ := json.Marshal(gin.H{
		"count":      res.Count,
		"elapsedMs":  res.ElapsedMs,
		"timedOut":   res.TimedOut,
		"searchType": res.SearchType,
	})
	c.SSEvent("done", string(done))
	c.Writer.Flush()
}
