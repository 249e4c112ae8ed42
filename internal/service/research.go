package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/mranderson01901234/5.0-sub004/internal/jobs"
	registrypubsub "github.com/mranderson01901234/5.0-sub004/internal/registry/pubsub"
)

// ResearchPublisher forwards research capsule requests to the configured
// bus. The research pipeline itself runs elsewhere; this side only
// publishes opaque requests.
type ResearchPublisher struct {
	bus     registrypubsub.PubSub
	channel string
}

// NewResearchPublisher wires the research job handler.
func NewResearchPublisher(bus registrypubsub.PubSub, channel string) *ResearchPublisher {
	return &ResearchPublisher{bus: bus, channel: channel}
}

// Handle publishes one capsule request.
func (r *ResearchPublisher) Handle(ctx context.Context, job *jobs.Job) error {
	payload, ok := job.Payload.(*ResearchPayload)
	if !ok {
		return fmt.Errorf("research job %s: unexpected payload %T", job.ID, job.Payload)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := r.bus.Publish(ctx, r.channel, raw); err != nil {
		return fmt.Errorf("publish research capsule: %w", err)
	}
	log.Debug("Research capsule published", "channel", r.channel, "userId", payload.UserID)
	return nil
}

// Trivial reports whether a user message is too thin to research: short
// strings and greeting interjections never reach the queue.
func Trivial(content string) bool {
	if len(content) <= 10 {
		return true
	}
	switch normalizeGreeting(content) {
	case "hi", "hello", "hey", "thanks", "thank you", "ok", "okay", "yes", "no",
		"good morning", "good evening", "good night", "bye", "goodbye":
		return true
	}
	return false
}

func normalizeGreeting(content string) string {
	trimmed := strings.Map(func(r rune) rune {
		switch r {
		case '!', '.', ',', '?':
			return -1
		}
		return r
	}, content)
	return strings.ToLower(strings.TrimSpace(trimmed))
}
