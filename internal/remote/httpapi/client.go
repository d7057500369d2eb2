// Package httpapi talks to the Loop Chat REST API over HTTP/JSON.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ashton/loopchat/internal/models"
)

// Client implements remote.API against a base URL such as
// http://localhost:8080/api.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a Client. timeout bounds every request unless the caller's
// context expires first.
func New(baseURL, apiKey string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiError is the error body the API returns on non-2xx responses.
type apiError struct {
	Error string `json:"error"`
}

// do sends a JSON request and decodes a JSON response into out (if non-nil).
// Any failure is returned as *models.TransportError with op as its message.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &models.TransportError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &models.TransportError{Op: op, Err: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return &models.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	c.logger.Debug("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return &models.TransportError{Op: op, Err: fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)}
		}
		return &models.TransportError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &models.TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func agentPath(id string) string { return "/agents/" + url.PathEscape(id) }
func chatPath(id string) string  { return "/chats/" + url.PathEscape(id) }

func (c *Client) ListAgents(ctx context.Context) ([]models.Agent, error) {
	agents := []models.Agent{}
	if err := c.do(ctx, "failed to fetch agents", http.MethodGet, "/agents", nil, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

func (c *Client) CreateAgent(ctx context.Context, in models.AgentInput) (*models.Agent, error) {
	var a models.Agent
	if err := c.do(ctx, "failed to create agent", http.MethodPost, "/agents", in, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) UpdateAgent(ctx context.Context, id string, patch models.AgentPatch) (*models.Agent, error) {
	var a models.Agent
	if err := c.do(ctx, "failed to update agent", http.MethodPut, agentPath(id), patch, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) DeleteAgent(ctx context.Context, id string) error {
	return c.do(ctx, "failed to delete agent", http.MethodDelete, agentPath(id), nil, nil)
}

func (c *Client) ListChats(ctx context.Context) ([]models.Chat, error) {
	chats := []models.Chat{}
	if err := c.do(ctx, "failed to fetch chats", http.MethodGet, "/chats", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (c *Client) CreateChat(ctx context.Context, name, agentID string) (*models.Chat, error) {
	in := struct {
		Name    string `json:"name"`
		AgentID string `json:"agentId"`
	}{name, agentID}
	var chat models.Chat
	if err := c.do(ctx, "failed to create chat", http.MethodPost, "/chats", in, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (c *Client) UpdateChat(ctx context.Context, id string, patch models.ChatPatch) (*models.Chat, error) {
	var chat models.Chat
	if err := c.do(ctx, "failed to update chat", http.MethodPut, chatPath(id), patch, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (c *Client) DeleteChat(ctx context.Context, id string) error {
	return c.do(ctx, "failed to delete chat", http.MethodDelete, chatPath(id), nil, nil)
}

func (c *Client) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	msgs := []models.Message{}
	if err := c.do(ctx, "failed to fetch messages", http.MethodGet, chatPath(chatID)+"/messages", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID, content string, attachments []models.Attachment) (*models.Message, error) {
	if attachments == nil {
		attachments = []models.Attachment{}
	}
	in := struct {
		Content     string              `json:"content"`
		Attachments []models.Attachment `json:"attachments"`
	}{content, attachments}
	var msg models.Message
	if err := c.do(ctx, "failed to send message", http.MethodPost, chatPath(chatID)+"/messages", in, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) Dispatch(ctx context.Context, chatID, agentID, content string) (*models.Message, error) {
	in := struct {
		AgentID string `json:"agentId"`
		Message string `json:"message"`
	}{agentID, content}
	var msg models.Message
	if err := c.do(ctx, "failed to send webhook", http.MethodPost, chatPath(chatID)+"/webhook", in, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) GetSubscription(ctx context.Context) (*models.Subscription, error) {
	// The API answers null when there is no subscription.
	var sub *models.Subscription
	if err := c.do(ctx, "failed to fetch subscription", http.MethodGet, "/subscription", nil, &sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (c *Client) UpdateSubscription(ctx context.Context, update models.SubscriptionUpdate) (*models.Subscription, error) {
	var sub models.Subscription
	if err := c.do(ctx, "failed to update subscription", http.MethodPut, "/subscription", update, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}
