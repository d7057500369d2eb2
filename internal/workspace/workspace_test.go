package workspace

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashton/loopchat/internal/models"
	"github.com/ashton/loopchat/internal/persist"
	"github.com/ashton/loopchat/internal/remote/mock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// flakyAPI wraps the mock backend and can fail selected collaborators.
type flakyAPI struct {
	*mock.Service
	failChats    bool
	failSub      bool
	failDispatch bool
	calls        int
}

func (f *flakyAPI) ListChats(ctx context.Context) ([]models.Chat, error) {
	if f.failChats {
		return nil, &models.TransportError{Op: "failed to fetch chats", Err: errors.New("offline")}
	}
	return f.Service.ListChats(ctx)
}

func (f *flakyAPI) GetSubscription(ctx context.Context) (*models.Subscription, error) {
	if f.failSub {
		return nil, &models.TransportError{Op: "failed to fetch subscription", Err: errors.New("offline")}
	}
	return f.Service.GetSubscription(ctx)
}

func (f *flakyAPI) CreateAgent(ctx context.Context, in models.AgentInput) (*models.Agent, error) {
	f.calls++
	return f.Service.CreateAgent(ctx, in)
}

func (f *flakyAPI) UpdateAgent(ctx context.Context, id string, patch models.AgentPatch) (*models.Agent, error) {
	f.calls++
	return f.Service.UpdateAgent(ctx, id, patch)
}

func (f *flakyAPI) Dispatch(ctx context.Context, chatID, agentID, content string) (*models.Message, error) {
	if f.failDispatch {
		return nil, &models.TransportError{Op: "failed to send webhook", Err: errors.New("502")}
	}
	return f.Service.Dispatch(ctx, chatID, agentID, content)
}

func loaded(t *testing.T) (*Workspace, *flakyAPI) {
	t.Helper()
	api := &flakyAPI{Service: mock.New()}
	w := New(api, nil, nil, nil)
	require.NoError(t, w.Load(context.Background()))
	return w, api
}

func subscribe(t *testing.T, w *Workspace, plan models.Plan) {
	t.Helper()
	_, err := w.Subscription.Update(context.Background(), models.SubscriptionUpdate{Plan: plan, Status: models.StatusActive})
	require.NoError(t, err)
}

func TestLoad_FillsAllStores(t *testing.T) {
	w, _ := loaded(t)
	assert.Len(t, w.Agents.List(), 4)
	assert.Len(t, w.Chats.List(), 1)
	assert.Nil(t, w.Subscription.Current())
}

func TestLoad_JoinsErrorsAndKeepsOtherStores(t *testing.T) {
	api := &flakyAPI{Service: mock.New(), failChats: true}
	w := New(api, nil, nil, nil)

	err := w.Load(context.Background())
	var te *models.TransportError
	require.ErrorAs(t, err, &te)
	assert.Len(t, w.Agents.List(), 4)
	assert.Empty(t, w.Chats.List())
	assert.Contains(t, w.Chats.Err(), "failed to fetch chats")
	assert.Empty(t, w.Agents.Err())

	w.ClearErrors()
	assert.Empty(t, w.Chats.Err())
}

func TestLoad_ReportsEveryFailure(t *testing.T) {
	api := &flakyAPI{Service: mock.New(), failChats: true, failSub: true}
	w := New(api, nil, nil, nil)

	err := w.Load(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to fetch chats")
	assert.ErrorContains(t, err, "failed to fetch subscription")
	assert.Len(t, w.Agents.List(), 4)
	assert.NotEmpty(t, w.Subscription.Err())
}

func TestCreateAgent_WebhookNeedsGate(t *testing.T) {
	w, api := loaded(t)
	in := models.AgentInput{Name: "Hooked", Platform: models.PlatformN8N, WebhookURL: "https://n8n.example/hook", Active: true}

	_, err := w.CreateAgent(context.Background(), in)
	var ge *models.GateError
	require.ErrorAs(t, err, &ge)
	assert.Zero(t, api.calls)
	assert.Len(t, w.Agents.List(), 4)
	assert.NotEmpty(t, w.Agents.Err())

	subscribe(t, w, models.PlanCore)
	a, err := w.CreateAgent(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "https://n8n.example/hook", a.WebhookURL)
	assert.Equal(t, 1, api.calls)
}

func TestCreateAgent_WithoutWebhookSkipsGate(t *testing.T) {
	w, _ := loaded(t)
	_, err := w.CreateAgent(context.Background(), models.AgentInput{Name: "Plain", Platform: models.PlatformMake})
	require.NoError(t, err)
}

func TestUpdateAgent_Gate(t *testing.T) {
	w, api := loaded(t)
	url := "https://hook.make.com/abc"

	_, err := w.UpdateAgent(context.Background(), "chef-agent", models.AgentPatch{WebhookURL: &url})
	var ge *models.GateError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "chef-agent", ge.AgentID)
	assert.Zero(t, api.calls)

	// Free plans do not open the gate.
	subscribe(t, w, models.PlanNone)
	_, err = w.UpdateAgent(context.Background(), "chef-agent", models.AgentPatch{WebhookURL: &url})
	require.ErrorAs(t, err, &ge)

	subscribe(t, w, models.PlanYearly)
	a, err := w.UpdateAgent(context.Background(), "chef-agent", models.AgentPatch{WebhookURL: &url})
	require.NoError(t, err)
	assert.Equal(t, url, a.WebhookURL)

	name := "Head Chef"
	w.Subscription.Clear()
	_, err = w.UpdateAgent(context.Background(), "chef-agent", models.AgentPatch{Name: &name})
	require.NoError(t, err)
}

func TestNewChat_RequiresActiveAgent(t *testing.T) {
	w, _ := loaded(t)

	_, err := w.NewChat(context.Background(), "Debug", "code-assistant")
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = w.NewChat(context.Background(), "Ghost", "nobody")
	var nf *models.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Len(t, w.Chats.List(), 1)

	chat, err := w.NewChat(context.Background(), "Numbers", "data-analyst")
	require.NoError(t, err)
	assert.Equal(t, chat.ID, w.Chats.State().ActiveChat)
}

func TestQuickStart(t *testing.T) {
	w, _ := loaded(t)

	chat, err := w.QuickStart(context.Background(), "content-writer")
	require.NoError(t, err)
	assert.Equal(t, "Chat with Content Writer", chat.Name)
	assert.Equal(t, "content-writer", chat.AgentID)
	assert.Equal(t, chat.ID, w.Chats.List()[0].ID)

	_, err = w.QuickStart(context.Background(), "code-assistant")
	assert.Error(t, err)
}

func TestAgentFor_DanglingReference(t *testing.T) {
	w, _ := loaded(t)
	chat, err := w.QuickStart(context.Background(), "data-analyst")
	require.NoError(t, err)
	assert.Equal(t, "Data Analyst", w.AgentFor(*chat).Name)

	require.NoError(t, w.Agents.Delete(context.Background(), "data-analyst"))
	_, ok := w.Chats.Get(chat.ID)
	assert.True(t, ok)
	assert.True(t, w.AgentFor(*chat).IsUnknown())
}

func TestConverse_AppendsReply(t *testing.T) {
	w, _ := loaded(t)
	require.NoError(t, w.Chats.Select(context.Background(), "general-chat"))

	turn, err := w.Converse(context.Background(), "general-chat", "  pasta tips ")
	require.NoError(t, err)
	require.NotNil(t, turn.Reply)
	assert.Equal(t, "pasta tips", turn.Sent.Content)
	assert.Equal(t, `I understand you said: "pasta tips". How can I help you further?`, turn.Reply.Content)

	msgs, _ := w.Chats.Messages("general-chat")
	require.Len(t, msgs, 3)
	assert.Equal(t, turn.Sent.ID, msgs[1].ID)
	assert.Equal(t, turn.Reply.ID, msgs[2].ID)
	assert.Equal(t, models.SenderAgent, msgs[2].Sender)
}

func TestConverse_UnselectedChatStillLoadsHistory(t *testing.T) {
	w, _ := loaded(t)

	turn, err := w.Converse(context.Background(), "general-chat", "hi")
	require.NoError(t, err)
	require.NoError(t, w.Chats.Select(context.Background(), "general-chat"))

	msgs, ok := w.Chats.Messages("general-chat")
	require.True(t, ok)
	require.Len(t, msgs, 3)
	assert.Equal(t, "welcome-msg", msgs[0].ID)
	assert.Equal(t, turn.Sent.ID, msgs[1].ID)
	assert.Equal(t, turn.Reply.ID, msgs[2].ID)
}

func TestConverse_ReplyFailureKeepsSentMessage(t *testing.T) {
	w, api := loaded(t)
	require.NoError(t, w.Chats.Select(context.Background(), "general-chat"))
	api.failDispatch = true

	turn, err := w.Converse(context.Background(), "general-chat", "hello")
	require.Error(t, err)
	require.NotNil(t, turn.Sent)
	assert.Nil(t, turn.Reply)

	msgs, _ := w.Chats.Messages("general-chat")
	require.Len(t, msgs, 2)
	assert.Equal(t, turn.Sent.ID, msgs[1].ID)
	assert.Contains(t, w.Chats.Err(), "failed to send webhook")
}

func TestConverse_InactiveAgentSendsNothing(t *testing.T) {
	w, _ := loaded(t)
	active := false
	_, err := w.UpdateAgent(context.Background(), "chef-agent", models.AgentPatch{Active: &active})
	require.NoError(t, err)
	require.NoError(t, w.Chats.Select(context.Background(), "general-chat"))
	before, _ := w.Chats.Messages("general-chat")

	_, err = w.Converse(context.Background(), "general-chat", "anyone?")
	require.Error(t, err)
	after, _ := w.Chats.Messages("general-chat")
	assert.Equal(t, before, after)
	assert.True(t, strings.Contains(w.Chats.Err(), "inactive"))
}

func TestWorkspace_StateSurvivesRestart(t *testing.T) {
	storage := persist.NewMemory()
	backend := mock.New(mock.WithStorage(storage))
	w := New(backend, storage, nil, nil)
	require.NoError(t, w.Load(context.Background()))
	chat, err := w.QuickStart(context.Background(), "chef-agent")
	require.NoError(t, err)
	_, err = w.Converse(context.Background(), chat.ID, "hi")
	require.NoError(t, err)

	restored := New(mock.New(mock.WithStorage(storage)), storage, nil, nil)
	assert.Equal(t, chat.ID, restored.Chats.State().ActiveChat)
	msgs, ok := restored.Chats.Messages(chat.ID)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
	assert.Len(t, restored.Agents.List(), 4)
}
