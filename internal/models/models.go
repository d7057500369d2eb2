package models

import "time"

// Platform is the automation platform an agent's webhook lives on.
type Platform string

const (
	PlatformN8N  Platform = "n8n"
	PlatformMake Platform = "make"
)

// Valid reports whether p is a supported platform.
func (p Platform) Valid() bool {
	return p == PlatformN8N || p == PlatformMake
}

// Sender identifies who wrote a message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

type Agent struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Platform    Platform  `json:"platform"`
	WebhookURL  string    `json:"webhookUrl"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}

// UnknownAgentName is shown for chats whose agent no longer exists.
const UnknownAgentName = "Unknown agent"

// UnknownAgent is the placeholder returned when a chat references an agent
// that is not in the local directory.
func UnknownAgent(id string) Agent {
	return Agent{ID: id, Name: UnknownAgentName}
}

// IsUnknown reports whether a is a lookup placeholder.
func (a Agent) IsUnknown() bool {
	return a.Name == UnknownAgentName && a.Platform == ""
}

// AgentInput is the payload for creating an agent.
type AgentInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Platform    Platform `json:"platform"`
	WebhookURL  string   `json:"webhookUrl,omitempty"`
	Active      bool     `json:"active"`
}

// AgentPatch carries the fields of a partial agent update. Nil fields are
// left untouched.
type AgentPatch struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Platform    *Platform `json:"platform,omitempty"`
	WebhookURL  *string   `json:"webhookUrl,omitempty"`
	Active      *bool     `json:"active,omitempty"`
}

type Chat struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AgentID   string    `json:"agentId"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatPatch carries the fields of a partial chat update.
type ChatPatch struct {
	Name    *string `json:"name,omitempty"`
	AgentID *string `json:"agentId,omitempty"`
}

// Attachment is an opaque reference carried alongside a message.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	Type string `json:"type,omitempty"`
}

type Message struct {
	ID          string       `json:"id"`
	Content     string       `json:"content"`
	Sender      Sender       `json:"sender"`
	Timestamp   time.Time    `json:"timestamp"`
	Attachments []Attachment `json:"attachments"`
	AgentID     string       `json:"agentId,omitempty"`
}

// Plan is a subscription tier.
type Plan string

const (
	PlanNone   Plan = "none"
	PlanCore   Plan = "core"
	PlanYearly Plan = "yearly"
)

// SubscriptionStatus is the billing state of a subscription.
type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusInactive SubscriptionStatus = "inactive"
)

type Subscription struct {
	ID        string             `json:"id,omitempty"`
	Plan      Plan               `json:"plan"`
	Status    SubscriptionStatus `json:"status"`
	Amount    int64              `json:"amount"`
	Interval  string             `json:"interval"`
	StartDate time.Time          `json:"startDate,omitempty"`
}

// SubscriptionUpdate is the payload for changing the current subscription.
type SubscriptionUpdate struct {
	Plan     Plan               `json:"plan"`
	Status   SubscriptionStatus `json:"status,omitempty"`
	Amount   int64              `json:"amount,omitempty"`
	Interval string             `json:"interval,omitempty"`
}
