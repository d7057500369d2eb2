package chats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashton/loopchat/internal/models"
	"github.com/ashton/loopchat/internal/persist"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeAPI is a scripted chat/message backend.
type fakeAPI struct {
	mu       sync.Mutex
	chats    []models.Chat
	messages map[string][]models.Message
	nextID   int

	failChats bool
	failList  bool
	// recordSends stores a sent message server-side before its gate opens,
	// so a fetch made mid-send already returns it.
	recordSends bool
	// blankReplies makes SendMessage answer with an empty message.
	blankReplies bool
	// sendFail lists message contents whose send fails.
	sendFail map[string]bool
	// release holds a gate per message content; SendMessage blocks on it.
	release map[string]chan struct{}

	listMessageCalls atomic.Int32
	sendCalls        atomic.Int32
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		chats: []models.Chat{
			{ID: "c1", Name: "General Chat", AgentID: "chef-agent"},
			{ID: "c2", Name: "Numbers", AgentID: "data-analyst"},
		},
		messages: map[string][]models.Message{
			"c1": {{ID: "welcome-msg", Content: "Hello! How can I help you today?", Sender: models.SenderAgent, Attachments: []models.Attachment{}}},
		},
		sendFail: map[string]bool{},
		release:  map[string]chan struct{}{},
	}
}

func (f *fakeAPI) transport(op string) error {
	return &models.TransportError{Op: op, Err: errors.New("connection refused")}
}

func (f *fakeAPI) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeAPI) ListChats(ctx context.Context) ([]models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failChats {
		return nil, f.transport("failed to fetch chats")
	}
	return append([]models.Chat(nil), f.chats...), nil
}

func (f *fakeAPI) CreateChat(ctx context.Context, name, agentID string) (*models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failChats {
		return nil, f.transport("failed to create chat")
	}
	c := models.Chat{ID: f.id("chat"), Name: name, AgentID: agentID}
	f.chats = append([]models.Chat{c}, f.chats...)
	return &c, nil
}

func (f *fakeAPI) UpdateChat(ctx context.Context, id string, patch models.ChatPatch) (*models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failChats {
		return nil, f.transport("failed to update chat")
	}
	for i, c := range f.chats {
		if c.ID == id {
			if patch.Name != nil {
				c.Name = *patch.Name
			}
			f.chats[i] = c
			return &c, nil
		}
	}
	return nil, f.transport("failed to update chat")
}

func (f *fakeAPI) DeleteChat(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failChats {
		return f.transport("failed to delete chat")
	}
	return nil
}

func (f *fakeAPI) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	f.listMessageCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList {
		return nil, f.transport("failed to fetch messages")
	}
	return append([]models.Message{}, f.messages[chatID]...), nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, chatID, content string, attachments []models.Attachment) (*models.Message, error) {
	f.sendCalls.Add(1)
	f.mu.Lock()
	gate := f.release[content]
	fail := f.sendFail[content]
	blank := f.blankReplies
	var m models.Message
	recorded := f.recordSends && !fail
	if recorded {
		m = models.Message{ID: f.id("msg"), Content: content, Sender: models.SenderUser, Attachments: []models.Attachment{}}
		f.messages[chatID] = append(f.messages[chatID], m)
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, f.transport("failed to send message")
	}
	if blank {
		return &models.Message{}, nil
	}
	if recorded {
		return &m, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	m = models.Message{ID: f.id("msg"), Content: content, Sender: models.SenderUser, Attachments: attachments}
	return &m, nil
}

func (f *fakeAPI) gate(content string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.release[content] = ch
	return ch
}

func loaded(t *testing.T, api *fakeAPI, opts ...Option) *Directory {
	t.Helper()
	d := New(api, nil, nil, opts...)
	require.NoError(t, d.Load(context.Background()))
	return d
}

func TestCreate_PrependsSelectsAndInitializesMessages(t *testing.T) {
	api := newFakeAPI()
	api.chats = nil
	d := New(api, nil, nil)

	chat, err := d.Create(context.Background(), "Chat with Bot", "agent-1")
	require.NoError(t, err)

	st := d.State()
	require.Len(t, st.Chats, 1)
	assert.Equal(t, "Chat with Bot", st.Chats[0].Name)
	assert.Equal(t, chat.ID, st.ActiveChat)
	msgs, ok := st.Messages[chat.ID]
	require.True(t, ok)
	assert.Empty(t, msgs)
}

func TestCreate_PutsNewChatFirst(t *testing.T) {
	d := loaded(t, newFakeAPI())

	chat, err := d.Create(context.Background(), "Fresh", "chef-agent")
	require.NoError(t, err)
	assert.Equal(t, chat.ID, d.List()[0].ID)
	assert.Len(t, d.List(), 3)
}

func TestCreate_ValidationSkipsRemote(t *testing.T) {
	api := newFakeAPI()
	d := loaded(t, api)
	before := d.List()

	_, err := d.Create(context.Background(), "  ", "chef-agent")
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = d.Create(context.Background(), "Name", "")
	require.ErrorAs(t, err, &ve)

	assert.Equal(t, before, d.List())
	assert.NotEmpty(t, d.Err())
}

func TestCreate_FailureLeavesStateUnchanged(t *testing.T) {
	api := newFakeAPI()
	d := loaded(t, api)
	before := d.State()

	api.failChats = true
	_, err := d.Create(context.Background(), "Another", "chef-agent")
	require.Error(t, err)

	after := d.State()
	assert.Equal(t, before.Chats, after.Chats)
	assert.Equal(t, before.ActiveChat, after.ActiveChat)
	assert.Equal(t, before.Messages, after.Messages)
	assert.Contains(t, after.Err, "failed to create chat")
}

func TestLoad_FailureKeepsPriorState(t *testing.T) {
	api := newFakeAPI()
	d := loaded(t, api)
	before := d.List()

	api.failChats = true
	require.Error(t, d.Load(context.Background()))
	assert.Equal(t, before, d.List())
	assert.False(t, d.State().Loading)
}

func TestSelect_FetchesMessagesOnce(t *testing.T) {
	api := newFakeAPI()
	d := loaded(t, api)

	require.NoError(t, d.Select(context.Background(), "c1"))
	require.NoError(t, d.Select(context.Background(), "c1"))

	assert.Equal(t, int32(1), api.listMessageCalls.Load())
	assert.Equal(t, "c1", d.State().ActiveChat)
	msgs, ok := d.Messages("c1")
	require.True(t, ok)
	require.Len(t, msgs, 1)
	assert.Equal(t, "welcome-msg", msgs[0].ID)
}

func TestSelect_ConcurrentSelectsFetchOnce(t *testing.T) {
	api := newFakeAPI()
	d := loaded(t, api)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, d.Select(context.Background(), "c2"))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), api.listMessageCalls.Load())
}

func TestSelect_UnknownChat(t *testing.T) {
	d := loaded(t, newFakeAPI())

	err := d.Select(context.Background(), "missing")
	var nf *models.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Empty(t, d.State().ActiveChat)
}

func TestSelect_FetchFailureRecordsErrorAndRetriesLater(t *testing.T) {
	api := newFakeAPI()
	d := loaded(t, api)

	api.failList = true
	require.Error(t, d.Select(context.Background(), "c1"))
	_, cached := d.Messages("c1")
	assert.False(t, cached)
	assert.Contains(t, d.Err(), "failed to fetch messages")

	api.failList = false
	require.NoError(t, d.Select(context.Background(), "c1"))
	_, cached = d.Messages("c1")
	assert.True(t, cached)
	assert.Equal(t, int32(2), api.listMessageCalls.Load())
}

func TestRename(t *testing.T) {
	api := newFakeAPI()
	d := loaded(t, api)

	_, err := d.Rename(context.Background(), "c2", "  Budget  ")
	require.NoError(t, err)
	c, ok := d.Get("c2")
	require.True(t, ok)
	assert.Equal(t, "Budget", c.Name)

	_, err = d.Rename(context.Background(), "c2", " ")
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestUpdate_FailureLeavesChatsUnchanged(t *testing.T) {
	api := newFakeAPI()
	d := loaded(t, api)
	before := d.List()

	api.failChats = true
	_, err := d.Rename(context.Background(), "c1", "Other")
	require.Error(t, err)
	assert.Equal(t, before, d.List())
}

func TestDelete_ActiveChatClearsPointer(t *testing.T) {
	d := loaded(t, newFakeAPI())
	require.NoError(t, d.Select(context.Background(), "c1"))

	require.NoError(t, d.Delete(context.Background(), "c1"))
	st := d.State()
	assert.Empty(t, st.ActiveChat)
	_, cached := st.Messages["c1"]
	assert.False(t, cached)
	_, ok := d.Get("c1")
	assert.False(t, ok)
}

func TestDelete_InactiveChatKeepsPointer(t *testing.T) {
	d := loaded(t, newFakeAPI())
	require.NoError(t, d.Select(context.Background(), "c1"))

	require.NoError(t, d.Delete(context.Background(), "c2"))
	assert.Equal(t, "c1", d.State().ActiveChat)
	assert.Len(t, d.List(), 1)
}

func TestDelete_FailureLeavesStateUnchanged(t *testing.T) {
	api := newFakeAPI()
	d := loaded(t, api)
	require.NoError(t, d.Select(context.Background(), "c1"))
	before := d.State()

	api.failChats = true
	require.Error(t, d.Delete(context.Background(), "c1"))
	after := d.State()
	assert.Equal(t, before.Chats, after.Chats)
	assert.Equal(t, "c1", after.ActiveChat)
	assert.Equal(t, before.Messages, after.Messages)
}

func TestDuplicate(t *testing.T) {
	d := loaded(t, newFakeAPI())
	require.NoError(t, d.Select(context.Background(), "c1"))
	original, _ := d.Messages("c1")

	dup, err := d.Duplicate(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "General Chat (Copy)", dup.Name)
	assert.Equal(t, "chef-agent", dup.AgentID)
	assert.Equal(t, dup.ID, d.List()[0].ID)

	msgs, ok := d.Messages(dup.ID)
	require.True(t, ok)
	assert.Empty(t, msgs)

	after, _ := d.Messages("c1")
	assert.Equal(t, original, after)
	assert.Equal(t, "c1", d.State().ActiveChat)
}

func TestDuplicate_MissingChat(t *testing.T) {
	api := newFakeAPI()
	d := loaded(t, api)

	_, err := d.Duplicate(context.Background(), "nope")
	var nf *models.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nope", nf.ID)
	assert.Len(t, d.List(), 2)
}

func TestPost_InsertsProvisionalSynchronously(t *testing.T) {
	api := newFakeAPI()
	d := loaded(t, api)
	require.NoError(t, d.Select(context.Background(), "c1"))
	gate := api.gate("hello")

	p, err := d.Post(context.Background(), "c1", "hello", nil)
	require.NoError(t, err)

	msgs, _ := d.Messages("c1")
	require.Len(t, msgs, 2)
	last := msgs[1]
	assert.Equal(t, "hello", last.Content)
	assert.Equal(t, models.SenderUser, last.Sender)
	assert.True(t, IsPending(last.ID))
	assert.Equal(t, p.ID, last.ID)
	assert.NotNil(t, last.Attachments)

	close(gate)
	_, err = p.Wait()
	require.NoError(t, err)
}

func TestSend_SuccessReplacesInPlace(t *testing.T) {
	api := newFakeAPI()
	d := loaded(t, api)
	require.NoError(t, d.Select(context.Background(), "c1"))

	msg, err := d.Send(context.Background(), "c1", "hello", nil)
	require.NoError(t, err)

	msgs, _ := d.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, msg.ID, msgs[1].ID)
	assert.False(t, IsPending(msgs[1].ID))
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Equal(t, "welcome-msg", msgs[0].ID)
}

func TestSend_FailureRollsBack(t *testing.T) {
	api := newFakeAPI()
	d := loaded(t, api)
	require.NoError(t, d.Select(context.Background(), "c1"))
	before, _ := d.Messages("c1")
	api.sendFail["hello"] = true

	_, err := d.Send(context.Background(), "c1", "hello", nil)
	var te *models.TransportError
	require.ErrorAs(t, err, &te)

	after, _ := d.Messages("c1")
	assert.Equal(t, before, after)
	assert.Contains(t, d.Err(), "failed to send message")
}

func TestSend_EmptyContentNeverCallsRemote(t *testing.T) {
	api := newFakeAPI()
	d := loaded(t, api)

	_, err := d.Send(context.Background(), "c1", "   ", nil)
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Zero(t, api.sendCalls.Load())
	_, cached := d.Messages("c1")
	assert.False(t, cached)
}

func TestSend_UnknownChat(t *testing.T) {
	api := newFakeAPI()
	d := loaded(t, api)

	_, err := d.Send(context.Background(), "ghost", "hi", nil)
	var nf *models.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Zero(t, api.sendCalls.Load())
}

func TestSend_OverlappingSendsReconcileIndependently(t *testing.T) {
	api := newFakeAPI()
	d := loaded(t, api)
	require.NoError(t, d.Select(context.Background(), "c1"))
	hiGate := api.gate("hi")
	thereGate := api.gate("there")
	api.sendFail["there"] = true

	p1, err := d.Post(context.Background(), "c1", "hi", nil)
	require.NoError(t, err)
	p2, err := d.Post(context.Background(), "c1", "there", nil)
	require.NoError(t, err)

	msgs, _ := d.Messages("c1")
	require.Len(t, msgs, 3)
	assert.Equal(t, p1.ID, msgs[1].ID)
	assert.Equal(t, p2.ID, msgs[2].ID)

	// The second send fails first; the first must survive it.
	close(thereGate)
	_, err = p2.Wait()
	require.Error(t, err)
	msgs, _ = d.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, p1.ID, msgs[1].ID)

	close(hiGate)
	confirmed, err := p1.Wait()
	require.NoError(t, err)
	msgs, _ = d.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, confirmed.ID, msgs[1].ID)
	assert.Equal(t, "hi", msgs[1].Content)
}

func TestSend_TimeoutRollsBack(t *testing.T) {
	api := newFakeAPI()
	d := loaded(t, api, WithSendTimeout(20*time.Millisecond))
	require.NoError(t, d.Select(context.Background(), "c1"))
	api.gate("slow")

	_, err := d.Send(context.Background(), "c1", "slow", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	msgs, _ := d.Messages("c1")
	assert.Len(t, msgs, 1)
}

func TestPending_CancelRollsBack(t *testing.T) {
	api := newFakeAPI()
	d := loaded(t, api)
	require.NoError(t, d.Select(context.Background(), "c1"))
	api.gate("wait")

	p, err := d.Post(context.Background(), "c1", "wait", nil)
	require.NoError(t, err)
	p.Cancel()

	_, err = p.Wait()
	assert.ErrorIs(t, err, context.Canceled)
	msgs, _ := d.Messages("c1")
	assert.Len(t, msgs, 1)
}

func TestSend_ChatDeletedWhileInFlight(t *testing.T) {
	api := newFakeAPI()
	d := loaded(t, api)
	require.NoError(t, d.Select(context.Background(), "c1"))
	gate := api.gate("orphan")

	p, err := d.Post(context.Background(), "c1", "orphan", nil)
	require.NoError(t, err)
	require.NoError(t, d.Delete(context.Background(), "c1"))

	close(gate)
	_, err = p.Wait()
	require.NoError(t, err)
	_, cached := d.Messages("c1")
	assert.False(t, cached)
}

func TestSend_BeforeSelectKeepsHistory(t *testing.T) {
	api := newFakeAPI()
	storage := persist.NewMemory()
	d := New(api, storage, nil)
	require.NoError(t, d.Load(context.Background()))

	sent, err := d.Send(context.Background(), "c1", "hi", nil)
	require.NoError(t, err)
	msgs, loaded := d.Messages("c1")
	require.Len(t, msgs, 1)
	assert.False(t, loaded)

	// A later run still fetches the history it never saw.
	restored := New(api, storage, nil)
	assert.False(t, restored.IsLoaded("c1"))
	require.NoError(t, restored.Select(context.Background(), "c1"))
	msgs, loaded = restored.Messages("c1")
	assert.True(t, loaded)
	require.Len(t, msgs, 2)
	assert.Equal(t, "welcome-msg", msgs[0].ID)
	assert.Equal(t, sent.ID, msgs[1].ID)

	require.NoError(t, d.Select(context.Background(), "c1"))
	msgs, _ = d.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "welcome-msg", msgs[0].ID)
	assert.Equal(t, sent.ID, msgs[1].ID)
	assert.Equal(t, int32(2), api.listMessageCalls.Load())
}

func TestSend_FetchHoldingConfirmedCopyKeepsOneEntry(t *testing.T) {
	api := newFakeAPI()
	api.recordSends = true
	d := loaded(t, api)
	gate := api.gate("hi")

	p, err := d.Post(context.Background(), "c1", "hi", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.messages["c1"]) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, d.Select(context.Background(), "c1"))
	msgs, _ := d.Messages("c1")
	require.Len(t, msgs, 3)

	close(gate)
	confirmed, err := p.Wait()
	require.NoError(t, err)
	msgs, _ = d.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "welcome-msg", msgs[0].ID)
	assert.Equal(t, confirmed.ID, msgs[1].ID)
}

func TestSend_EmptyConfirmationRollsBack(t *testing.T) {
	api := newFakeAPI()
	api.blankReplies = true
	d := loaded(t, api)
	require.NoError(t, d.Select(context.Background(), "c1"))

	_, err := d.Send(context.Background(), "c1", "hi", nil)
	var te *models.TransportError
	require.ErrorAs(t, err, &te)
	msgs, _ := d.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "welcome-msg", msgs[0].ID)
	assert.Contains(t, d.Err(), "no message id")
}

func TestAppendServerMessage(t *testing.T) {
	d := loaded(t, newFakeAPI())
	require.NoError(t, d.Select(context.Background(), "c1"))

	d.AppendServerMessage("c1", models.Message{ID: "ai-1", Content: "Sure.", Sender: models.SenderAgent})
	msgs, _ := d.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "ai-1", msgs[1].ID)
	assert.NotNil(t, msgs[1].Attachments)
}

func TestPersistence_OmitsProvisionalMessages(t *testing.T) {
	api := newFakeAPI()
	storage := persist.NewMemory()
	d := New(api, storage, nil)
	require.NoError(t, d.Load(context.Background()))
	require.NoError(t, d.Select(context.Background(), "c1"))
	gate := api.gate("in flight")

	p, err := d.Post(context.Background(), "c1", "in flight", nil)
	require.NoError(t, err)

	restored := New(api, storage, nil)
	st := restored.State()
	assert.Equal(t, "c1", st.ActiveChat)
	assert.Len(t, st.Chats, 2)
	require.Len(t, st.Messages["c1"], 1)
	assert.Equal(t, "welcome-msg", st.Messages["c1"][0].ID)

	close(gate)
	_, err = p.Wait()
	require.NoError(t, err)

	restored = New(api, storage, nil)
	assert.Len(t, restored.State().Messages["c1"], 2)
}

func TestSubscribe_NotifiesOnOptimisticInsert(t *testing.T) {
	api := newFakeAPI()
	d := loaded(t, api)
	require.NoError(t, d.Select(context.Background(), "c1"))

	var lengths []int
	var mu sync.Mutex
	unsubscribe := d.Subscribe(func(next, prev State) {
		mu.Lock()
		lengths = append(lengths, len(next.Messages["c1"]))
		mu.Unlock()
	})
	defer unsubscribe()

	_, err := d.Send(context.Background(), "c1", "hello", nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(lengths), 2)
	assert.Equal(t, 2, lengths[0])
	assert.Equal(t, 2, lengths[len(lengths)-1])
}
