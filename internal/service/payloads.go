package service

import "github.com/mranderson01901234/5.0-sub004/internal/cadence"

// AuditPayload asks the auditor to score and persist one cadence window.
type AuditPayload struct {
	Window cadence.Window
}

// ResearchPayload asks the research publisher to emit a capsule request.
type ResearchPayload struct {
	UserID   string `json:"userId"`
	ThreadID string `json:"threadId"`
	Query    string `json:"query"`
	Ts       int64  `json:"ts"`
}

// RebuildFTSPayload asks for a per-user FTS re-sync after a detected desync.
type RebuildFTSPayload struct {
	UserID string
}
