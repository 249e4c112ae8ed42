// Package openai backs the TextCompletion capability with the OpenAI chat
// completions endpoint. Only the summarizer uses it, so the surface is one
// system+user prompt pair.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mranderson01901234/5.0-sub004/internal/config"
	registrycomplete "github.com/mranderson01901234/5.0-sub004/internal/registry/complete"
)

func init() {
	registrycomplete.Register(registrycomplete.Plugin{
		Name:   "openai",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycomplete.Completer, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("openai completer: MEMORYD_OPENAI_API_KEY is required")
	}
	return &Completer{
		apiKey:  cfg.OpenAIAPIKey,
		model:   cfg.OpenAICompletionModel,
		baseURL: strings.TrimRight(cfg.OpenAIBaseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Completer calls the OpenAI chat completions endpoint.
type Completer struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func (c *Completer) ModelName() string { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Completer) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai completion request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("openai completion: read response: %w", err)
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("openai completion: parse response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("openai completion error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openai completion: empty response")
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

var _ registrycomplete.Completer = (*Completer)(nil)
