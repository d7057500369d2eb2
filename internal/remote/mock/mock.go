// Package mock is an in-memory stand-in for the Loop Chat API, seeded with
// the demo agents and chat. It keeps full records so updates return the
// same shape the real API does.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ashton/loopchat/internal/models"
	"github.com/ashton/loopchat/internal/persist"
)

// StorageName is the persistence slot for the mock data set.
const StorageName = "mock-backend"

// Service implements remote.API in memory.
type Service struct {
	mu           sync.Mutex
	agents       []models.Agent
	chats        []models.Chat
	messages     map[string][]models.Message
	subscription *models.Subscription
	now          func() time.Time

	storage persist.Storage
	logger  *zap.Logger
}

// dataset is the saved form of a Service.
type dataset struct {
	Agents       []models.Agent              `json:"agents"`
	Chats        []models.Chat               `json:"chats"`
	Messages     map[string][]models.Message `json:"messages"`
	Subscription *models.Subscription        `json:"subscription"`
}

// Option configures a Service.
type Option func(*Service)

// WithStorage keeps the data set in storage so it outlives the process.
func WithStorage(storage persist.Storage) Option {
	return func(s *Service) { s.storage = storage }
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New returns a Service holding the demo data set, or the data set saved in
// storage when one was configured and has been saved before.
func New(opts ...Option) *Service {
	now := time.Now().UTC()
	s := &Service{
		agents: []models.Agent{
			{ID: "chef-agent", Name: "Chef Agent", Description: "Culinary expert and recipe assistant", Platform: models.PlatformN8N, WebhookURL: "https://webhook.site/chef-agent", Active: true},
			{ID: "data-analyst", Name: "Data Analyst", Description: "Data analysis and visualization expert", Platform: models.PlatformMake, WebhookURL: "https://webhook.site/data-analyst", Active: true},
			{ID: "content-writer", Name: "Content Writer", Description: "Creative writing and content creation", Platform: models.PlatformN8N, WebhookURL: "https://webhook.site/content-writer", Active: true},
			{ID: "code-assistant", Name: "Code Assistant", Description: "Programming and development helper", Platform: models.PlatformMake, WebhookURL: "https://webhook.site/code-assistant", Active: false},
		},
		chats: []models.Chat{
			{ID: "general-chat", Name: "General Chat", AgentID: "chef-agent", CreatedAt: now},
		},
		messages: map[string][]models.Message{
			"general-chat": {
				{ID: "welcome-msg", Content: "Hello! How can I help you today?", Sender: models.SenderAgent, Timestamp: now, Attachments: []models.Attachment{}},
			},
		},
		now:    func() time.Time { return time.Now().UTC() },
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.storage != nil {
		var ds dataset
		if persist.Rehydrate(s.storage, StorageName, &ds, s.logger) {
			s.agents = ds.Agents
			s.chats = ds.Chats
			s.messages = ds.Messages
			s.subscription = ds.Subscription
			if s.messages == nil {
				s.messages = map[string][]models.Message{}
			}
		}
	}
	return s
}

// saveLocked writes the data set to storage. Callers hold s.mu.
func (s *Service) saveLocked() {
	if s.storage == nil {
		return
	}
	data, err := json.Marshal(dataset{Agents: s.agents, Chats: s.chats, Messages: s.messages, Subscription: s.subscription})
	if err != nil {
		s.logger.Warn("encode mock data set", zap.Error(err))
		return
	}
	if err := s.storage.Save(StorageName, data); err != nil {
		s.logger.Warn("save mock data set", zap.Error(err))
	}
}

func newID(prefix string) string {
	return prefix + "-" + uuid.New().String()
}

func (s *Service) ListAgents(ctx context.Context) ([]models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Agent(nil), s.agents...), nil
}

func (s *Service) CreateAgent(ctx context.Context, in models.AgentInput) (*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := models.Agent{
		ID:          newID("agent"),
		Name:        in.Name,
		Description: in.Description,
		Platform:    in.Platform,
		WebhookURL:  in.WebhookURL,
		Active:      in.Active,
		CreatedAt:   s.now(),
	}
	s.agents = append(s.agents, a)
	s.saveLocked()
	return &a, nil
}

func (s *Service) UpdateAgent(ctx context.Context, id string, patch models.AgentPatch) (*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.agents {
		if a.ID != id {
			continue
		}
		if patch.Name != nil {
			a.Name = *patch.Name
		}
		if patch.Description != nil {
			a.Description = *patch.Description
		}
		if patch.Platform != nil {
			a.Platform = *patch.Platform
		}
		if patch.WebhookURL != nil {
			a.WebhookURL = *patch.WebhookURL
		}
		if patch.Active != nil {
			a.Active = *patch.Active
		}
		s.agents[i] = a
		s.saveLocked()
		return &a, nil
	}
	return nil, &models.TransportError{Op: "failed to update agent", Err: fmt.Errorf("agent %s not found", id)}
}

func (s *Service) DeleteAgent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.agents[:0:0]
	for _, a := range s.agents {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	s.agents = kept
	s.saveLocked()
	return nil
}

func (s *Service) ListChats(ctx context.Context) ([]models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Chat(nil), s.chats...), nil
}

func (s *Service) CreateChat(ctx context.Context, name, agentID string) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat := models.Chat{ID: newID("chat"), Name: name, AgentID: agentID, CreatedAt: s.now()}
	s.chats = append([]models.Chat{chat}, s.chats...)
	s.messages[chat.ID] = []models.Message{}
	s.saveLocked()
	return &chat, nil
}

func (s *Service) UpdateChat(ctx context.Context, id string, patch models.ChatPatch) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.chats {
		if c.ID != id {
			continue
		}
		if patch.Name != nil {
			c.Name = *patch.Name
		}
		if patch.AgentID != nil {
			c.AgentID = *patch.AgentID
		}
		s.chats[i] = c
		s.saveLocked()
		return &c, nil
	}
	return nil, &models.TransportError{Op: "failed to update chat", Err: fmt.Errorf("chat %s not found", id)}
}

func (s *Service) DeleteChat(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.chats[:0:0]
	for _, c := range s.chats {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	s.chats = kept
	delete(s.messages, id)
	s.saveLocked()
	return nil
}

func (s *Service) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message{}, s.messages[chatID]...), nil
}

func (s *Service) SendMessage(ctx context.Context, chatID, content string, attachments []models.Attachment) (*models.Message, error) {
	if attachments == nil {
		attachments = []models.Attachment{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := models.Message{
		ID:          newID("msg"),
		Content:     content,
		Sender:      models.SenderUser,
		Timestamp:   s.now(),
		Attachments: attachments,
	}
	s.messages[chatID] = append(s.messages[chatID], msg)
	s.saveLocked()
	return &msg, nil
}

// Dispatch answers with an echo of the user's message.
func (s *Service) Dispatch(ctx context.Context, chatID, agentID, content string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := models.Message{
		ID:          newID("ai"),
		Content:     fmt.Sprintf("I understand you said: \"%s\". How can I help you further?", content),
		Sender:      models.SenderAgent,
		Timestamp:   s.now(),
		Attachments: []models.Attachment{},
		AgentID:     agentID,
	}
	s.messages[chatID] = append(s.messages[chatID], msg)
	s.saveLocked()
	return &msg, nil
}

func (s *Service) GetSubscription(ctx context.Context) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscription == nil {
		return nil, nil
	}
	sub := *s.subscription
	return &sub, nil
}

func (s *Service) UpdateSubscription(ctx context.Context, update models.SubscriptionUpdate) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := update.Status
	if status == "" {
		status = models.StatusActive
	}
	sub := models.Subscription{
		ID:        newID("sub"),
		Plan:      update.Plan,
		Status:    status,
		Amount:    update.Amount,
		Interval:  update.Interval,
		StartDate: s.now(),
	}
	s.subscription = &sub
	s.saveLocked()
	out := sub
	return &out, nil
}
