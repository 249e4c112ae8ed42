// Package events ingests fire-and-forget message events: cadence tracking,
// audit triggers and research capsule enqueueing.
package events

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mranderson01901234/5.0-sub004/internal/cadence"
	"github.com/mranderson01901234/5.0-sub004/internal/jobs"
	"github.com/mranderson01901234/5.0-sub004/internal/model"
	"github.com/mranderson01901234/5.0-sub004/internal/security"
	"github.com/mranderson01901234/5.0-sub004/internal/service"
)

type messageRequest struct {
	UserID   string `json:"userId"`
	ThreadID string `json:"threadId"`
	MsgID    string `json:"msgId"`
	Role     string `json:"role"`
	Content  string `json:"content"`
	Tokens   struct {
		Input  int `json:"input"`
		Output int `json:"output"`
	} `json:"tokens"`
	Timestamp *time.Time `json:"timestamp"`
}

type auditRequest struct {
	UserID   string `json:"userId"`
	ThreadID string `json:"threadId"`
}

// MountRoutes mounts the event ingestion endpoints.
func MountRoutes(r *gin.Engine, tracker *cadence.Tracker, queue *jobs.Queue, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.POST("/events/message", func(c *gin.Context) { postMessage(c, tracker, queue) })
	g.POST("/jobs/audit", func(c *gin.Context) { postAudit(c, tracker, queue) })
}

func postMessage(c *gin.Context, tracker *cadence.Tracker, queue *jobs.Queue) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !security.CheckUser(c, req.UserID) {
		return
	}
	if req.ThreadID == "" || req.MsgID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "threadId and msgId are required"})
		return
	}
	role := model.Role(req.Role)
	if role != model.RoleUser && role != model.RoleAssistant {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be user or assistant"})
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}
	turn := model.Turn{
		MsgID:        req.MsgID,
		Role:         role,
		Content:      req.Content,
		InputTokens:  req.Tokens.Input,
		OutputTokens: req.Tokens.Output,
		Timestamp:    ts,
	}

	if window, fire := tracker.RecordMessage(req.UserID, req.ThreadID, turn); fire {
		queue.Enqueue(jobs.TypeAudit, &service.AuditPayload{Window: *window})
	}

	if role == model.RoleUser && !service.Trivial(req.Content) {
		queue.Enqueue(jobs.TypeResearch, &service.ResearchPayload{
			UserID:   req.UserID,
			ThreadID: req.ThreadID,
			Query:    req.Content,
			Ts:       ts.UnixMilli(),
		})
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

// postAudit forces an audit of whatever the thread has buffered, regardless
// of thresholds.
func postAudit(c *gin.Context, tracker *cadence.Tracker, queue *jobs.Queue) {
	var req auditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !security.CheckUser(c, req.UserID) {
		return
	}
	if req.ThreadID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "threadId is required"})
		return
	}

	if window := tracker.ForceWindow(req.UserID, req.ThreadID); window != nil {
		queue.Enqueue(jobs.TypeAudit, &service.AuditPayload{Window: *window})
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}
