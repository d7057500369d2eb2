package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ashton/loopchat/internal/models"
)

// maxReplyBytes bounds how much of an agent's reply is read.
const maxReplyBytes = 1 << 20

// webhookPayload is what an agent's webhook receives for each user message.
type webhookPayload struct {
	ChatID   string          `json:"chatId"`
	AgentID  string          `json:"agentId"`
	Message  string          `json:"message"`
	Platform models.Platform `json:"platform"`
}

// Dispatcher posts user messages to agent webhooks and extracts the reply.
type Dispatcher struct {
	client *http.Client
	logger *zap.Logger
}

func NewDispatcher(timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{client: &http.Client{Timeout: timeout}, logger: logger}
}

// Dispatch sends content to agent's webhook and returns the reply text.
func (d *Dispatcher) Dispatch(ctx context.Context, agent models.Agent, chatID, content string) (string, error) {
	body, err := json.Marshal(webhookPayload{ChatID: chatID, AgentID: agent.ID, Message: content, Platform: agent.Platform})
	if err != nil {
		return "", fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, agent.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call webhook: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", fmt.Errorf("read webhook reply: %w", err)
	}
	d.logger.Debug("webhook",
		zap.String("agent", agent.ID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return extractReply(data)
}

// replyKeys are the fields n8n and Make workflows commonly answer with.
var replyKeys = []string{"output", "response", "message", "text"}

// extractReply reads the agent's answer from a JSON object, the first element
// of a JSON array, or a plain-text body.
func extractReply(data []byte) (string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return "", errors.New("webhook returned an empty reply")
	}

	var obj map[string]any
	switch trimmed[0] {
	case '{':
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return "", fmt.Errorf("decode webhook reply: %w", err)
		}
	case '[':
		var arr []map[string]any
		if err := json.Unmarshal(trimmed, &arr); err != nil || len(arr) == 0 {
			return "", errors.New("webhook returned an unusable array reply")
		}
		obj = arr[0]
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil && strings.TrimSpace(s) != "" {
			return s, nil
		}
		return "", errors.New("webhook returned an empty reply")
	default:
		return string(trimmed), nil
	}

	for _, k := range replyKeys {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			return s, nil
		}
	}
	return "", fmt.Errorf("webhook reply has none of %s", strings.Join(replyKeys, ", "))
}
