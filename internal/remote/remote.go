// Package remote declares the collaborators the client stores call out to.
package remote

import (
	"context"

	"github.com/ashton/loopchat/internal/models"
)

type AgentService interface {
	ListAgents(ctx context.Context) ([]models.Agent, error)
	CreateAgent(ctx context.Context, in models.AgentInput) (*models.Agent, error)
	UpdateAgent(ctx context.Context, id string, patch models.AgentPatch) (*models.Agent, error)
	DeleteAgent(ctx context.Context, id string) error
}

type ChatService interface {
	ListChats(ctx context.Context) ([]models.Chat, error)
	CreateChat(ctx context.Context, name, agentID string) (*models.Chat, error)
	UpdateChat(ctx context.Context, id string, patch models.ChatPatch) (*models.Chat, error)
	DeleteChat(ctx context.Context, id string) error
}

type MessageService interface {
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)
	SendMessage(ctx context.Context, chatID, content string, attachments []models.Attachment) (*models.Message, error)
}

type SubscriptionService interface {
	// GetSubscription returns nil, nil when the account has no subscription.
	GetSubscription(ctx context.Context) (*models.Subscription, error)
	UpdateSubscription(ctx context.Context, update models.SubscriptionUpdate) (*models.Subscription, error)
}

// WebhookService asks an agent for its reply to a user message.
type WebhookService interface {
	Dispatch(ctx context.Context, chatID, agentID, content string) (*models.Message, error)
}

// API is the full remote surface.
type API interface {
	AgentService
	ChatService
	MessageService
	SubscriptionService
	WebhookService
}
