// Package workspace is the caller-facing layer over the agent, chat and
// subscription stores. It owns the rules that span stores: the webhook URL
// gate, which agents may start chats, and the send-then-reply turn.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ashton/loopchat/internal/agents"
	"github.com/ashton/loopchat/internal/chats"
	"github.com/ashton/loopchat/internal/config"
	"github.com/ashton/loopchat/internal/models"
	"github.com/ashton/loopchat/internal/persist"
	"github.com/ashton/loopchat/internal/remote"
	"github.com/ashton/loopchat/internal/subscription"
)

type Workspace struct {
	Agents       *agents.Directory
	Chats        *chats.Directory
	Subscription *subscription.Store

	webhook remote.WebhookService
	logger  *zap.Logger
}

// New wires the three stores to api and storage. storage may be nil for a
// session that keeps nothing.
func New(api remote.API, storage persist.Storage, cfg *config.Config, logger *zap.Logger) *Workspace {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Workspace{
		Agents:       agents.New(api, storage, logger),
		Chats:        chats.New(api, storage, logger, chats.WithSendTimeout(cfg.GetSendTimeout())),
		Subscription: subscription.New(api, storage, logger),
		webhook:      api,
		logger:       logger.Named("workspace"),
	}
}

// Load refreshes agents, chats and the subscription concurrently. A failure
// does not cancel the other loads. Each store records its own failure and the
// returned error joins all of them.
func (w *Workspace) Load(ctx context.Context) error {
	var g errgroup.Group
	loads := []func(context.Context) error{w.Agents.Load, w.Chats.Load, w.Subscription.Load}
	errs := make([]error, len(loads))
	for i, load := range loads {
		g.Go(func() error {
			errs[i] = load(ctx)
			return errs[i]
		})
	}
	// Wait reports only the first failure; every store still finishes.
	if err := g.Wait(); err != nil {
		return errors.Join(errs...)
	}
	return nil
}

// CreateAgent creates an agent. A webhook URL is only accepted when the
// subscription gate allows it.
func (w *Workspace) CreateAgent(ctx context.Context, in models.AgentInput) (*models.Agent, error) {
	if strings.TrimSpace(in.WebhookURL) != "" && !w.Subscription.WebhookEditable() {
		return nil, w.Agents.RecordError("create agent", &models.GateError{})
	}
	return w.Agents.Create(ctx, in)
}

// UpdateAgent applies patch. Setting a non-empty webhook URL needs the
// subscription gate.
func (w *Workspace) UpdateAgent(ctx context.Context, id string, patch models.AgentPatch) (*models.Agent, error) {
	if patch.WebhookURL != nil && strings.TrimSpace(*patch.WebhookURL) != "" && !w.Subscription.WebhookEditable() {
		return nil, w.Agents.RecordError("update agent", &models.GateError{AgentID: id})
	}
	return w.Agents.Update(ctx, id, patch)
}

// AgentFor returns the agent bound to chat, or the unknown-agent placeholder
// when it has been deleted.
func (w *Workspace) AgentFor(chat models.Chat) models.Agent {
	return w.Agents.Lookup(chat.AgentID)
}

// usableAgent returns the agent with id if it exists and is active.
func (w *Workspace) usableAgent(id string) (models.Agent, error) {
	a, ok := w.Agents.Get(id)
	if !ok {
		return models.Agent{}, &models.NotFoundError{Kind: "agent", ID: id}
	}
	if !a.Active {
		return models.Agent{}, &models.ValidationError{Field: "agentId", Message: fmt.Sprintf("agent %s is inactive", a.Name)}
	}
	return a, nil
}

// NewChat creates a chat with an active agent and selects it.
func (w *Workspace) NewChat(ctx context.Context, name, agentID string) (*models.Chat, error) {
	if _, err := w.usableAgent(agentID); err != nil {
		return nil, w.Chats.RecordError("create chat", err)
	}
	return w.Chats.Create(ctx, name, agentID)
}

// QuickStart creates "Chat with <agent>" for an active agent.
func (w *Workspace) QuickStart(ctx context.Context, agentID string) (*models.Chat, error) {
	a, err := w.usableAgent(agentID)
	if err != nil {
		return nil, w.Chats.RecordError("quick start", err)
	}
	return w.Chats.Create(ctx, "Chat with "+a.Name, a.ID)
}

// Turn is the outcome of one conversation turn.
type Turn struct {
	Sent  *models.Message
	Reply *models.Message
}

// Converse sends content to chatID and appends the agent's reply. When the
// send succeeds but the agent fails to answer, Turn.Sent is still set.
func (w *Workspace) Converse(ctx context.Context, chatID, content string) (Turn, error) {
	chat, ok := w.Chats.Get(chatID)
	if !ok {
		return Turn{}, w.Chats.RecordError("send message", &models.NotFoundError{Kind: "chat", ID: chatID})
	}
	agent, err := w.usableAgent(chat.AgentID)
	if err != nil {
		return Turn{}, w.Chats.RecordError("send message", err)
	}

	sent, err := w.Chats.Send(ctx, chatID, content, nil)
	if err != nil {
		return Turn{}, err
	}

	reply, err := w.webhook.Dispatch(ctx, chatID, agent.ID, sent.Content)
	if err != nil {
		return Turn{Sent: sent}, w.Chats.RecordError("agent reply", err)
	}
	if reply.AgentID == "" {
		reply.AgentID = agent.ID
	}
	w.Chats.AppendServerMessage(chatID, *reply)
	w.logger.Debug("turn complete", zap.String("chat", chatID), zap.String("agent", agent.ID))
	return Turn{Sent: sent, Reply: reply}, nil
}

// ClearErrors resets the error of every store.
func (w *Workspace) ClearErrors() {
	w.Agents.ClearError()
	w.Chats.ClearError()
	w.Subscription.ClearError()
}
