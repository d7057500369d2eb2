// Package chats keeps the client-side chat list, the active-chat pointer and
// the per-chat message cache, and runs the optimistic send pipeline.
package chats

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ashton/loopchat/internal/models"
	"github.com/ashton/loopchat/internal/persist"
	"github.com/ashton/loopchat/internal/remote"
	"github.com/ashton/loopchat/internal/state"
)

// StorageName is the persistence slot for chats, active chat and messages.
const StorageName = "chat-storage"

// DefaultSendTimeout bounds a send when no timeout is configured.
const DefaultSendTimeout = 60 * time.Second

// API is the slice of the remote surface the chat directory needs.
type API interface {
	remote.ChatService
	remote.MessageService
}

// State is the observable chat state. Messages may hold entries for a chat
// whose history was never fetched, e.g. a send into an unselected chat;
// Loaded marks the chats whose history is complete.
type State struct {
	Chats      []models.Chat
	ActiveChat string
	Messages   map[string][]models.Message
	Loaded     map[string]bool
	Loading    bool
	Err        string
}

type snapshot struct {
	Chats      []models.Chat               `json:"chats"`
	ActiveChat string                      `json:"activeChat,omitempty"`
	Messages   map[string][]models.Message `json:"messages"`
	Loaded     map[string]bool             `json:"loaded,omitempty"`
}

// Directory owns chat CRUD and the message ledger.
type Directory struct {
	store       *state.Store[State]
	api         API
	logger      *zap.Logger
	fetches     singleflight.Group
	sendTimeout time.Duration
	now         func() time.Time
}

// Option configures a Directory.
type Option func(*Directory)

// WithSendTimeout bounds each send; zero disables the bound.
func WithSendTimeout(d time.Duration) Option {
	return func(dir *Directory) { dir.sendTimeout = d }
}

// WithClock overrides the clock used for provisional message timestamps.
func WithClock(now func() time.Time) Option {
	return func(dir *Directory) { dir.now = now }
}

// New builds a directory over api, rehydrated from storage when non-nil.
func New(api API, storage persist.Storage, logger *zap.Logger, opts ...Option) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("chats")

	initial := State{Chats: []models.Chat{}, Messages: map[string][]models.Message{}, Loaded: map[string]bool{}}
	if storage != nil {
		var snap snapshot
		if persist.Rehydrate(storage, StorageName, &snap, logger) {
			if snap.Chats != nil {
				initial.Chats = snap.Chats
			}
			if snap.Messages != nil {
				initial.Messages = snap.Messages
			}
			if snap.Loaded != nil {
				initial.Loaded = snap.Loaded
			}
			initial.ActiveChat = snap.ActiveChat
		}
	}

	d := &Directory{
		store:       state.New(initial),
		api:         api,
		logger:      logger,
		sendTimeout: DefaultSendTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if storage != nil {
		persist.Bind(d.store, storage, StorageName, toSnapshot, logger)
	}
	return d
}

// toSnapshot keeps only confirmed messages; a provisional entry is never
// worth restoring.
func toSnapshot(s State) any {
	msgs := make(map[string][]models.Message, len(s.Messages))
	for id, list := range s.Messages {
		kept := make([]models.Message, 0, len(list))
		for _, m := range list {
			if !IsPending(m.ID) {
				kept = append(kept, m)
			}
		}
		msgs[id] = kept
	}
	return snapshot{Chats: s.Chats, ActiveChat: s.ActiveChat, Messages: msgs, Loaded: s.Loaded}
}

// State returns the current chat state.
func (d *Directory) State() State {
	return d.store.GetState()
}

// Subscribe registers a listener for chat state changes.
func (d *Directory) Subscribe(l state.Listener[State]) func() {
	return d.store.Subscribe(l)
}

// List returns the chats, newest first.
func (d *Directory) List() []models.Chat {
	return d.store.GetState().Chats
}

// Get returns the chat with id.
func (d *Directory) Get(id string) (models.Chat, bool) {
	for _, c := range d.List() {
		if c.ID == id {
			return c, true
		}
	}
	return models.Chat{}, false
}

// ActiveChat returns the selected chat, if any.
func (d *Directory) ActiveChat() (models.Chat, bool) {
	id := d.store.GetState().ActiveChat
	if id == "" {
		return models.Chat{}, false
	}
	return d.Get(id)
}

// Messages returns the cached messages of chatID and whether its history has
// been loaded.
func (d *Directory) Messages(chatID string) ([]models.Message, bool) {
	s := d.store.GetState()
	return s.Messages[chatID], s.Loaded[chatID]
}

// IsLoaded reports whether the history of chatID has been fetched or the
// chat was created locally.
func (d *Directory) IsLoaded(chatID string) bool {
	return d.store.GetState().Loaded[chatID]
}

// Err returns the last recorded error message.
func (d *Directory) Err() string {
	return d.store.GetState().Err
}

// ClearError resets the recorded error.
func (d *Directory) ClearError() {
	d.store.Update(func(s State) State {
		s.Err = ""
		return s
	})
}

// RecordError logs err under op, records it as the current error and
// returns it. Callers that reject an operation before reaching the directory
// use it so the failure is visible the same way.
func (d *Directory) RecordError(op string, err error) error {
	return d.fail(op, err)
}

func (d *Directory) fail(op string, err error) error {
	d.logger.Warn(op, zap.Error(err))
	d.store.Update(func(s State) State {
		s.Err = err.Error()
		s.Loading = false
		return s
	})
	return err
}

// withMessages returns a copy of m with key set to list.
func withMessages(m map[string][]models.Message, key string, list []models.Message) map[string][]models.Message {
	next := make(map[string][]models.Message, len(m)+1)
	for k, v := range m {
		next[k] = v
	}
	next[key] = list
	return next
}

// withLoaded returns a copy of m with key marked loaded, or dropped when
// loaded is false.
func withLoaded(m map[string]bool, key string, loaded bool) map[string]bool {
	next := make(map[string]bool, len(m)+1)
	for k, v := range m {
		if k != key {
			next[k] = v
		}
	}
	if loaded {
		next[key] = true
	}
	return next
}

// Load replaces the local chat list with the remote one.
func (d *Directory) Load(ctx context.Context) error {
	d.store.Update(func(s State) State {
		s.Loading = true
		return s
	})
	chats, err := d.api.ListChats(ctx)
	if err != nil {
		return d.fail("load chats", err)
	}
	if chats == nil {
		chats = []models.Chat{}
	}
	d.store.Update(func(s State) State {
		s.Chats = chats
		s.Loading = false
		return s
	})
	return nil
}

// Create makes a chat bound to agentID, puts it first and selects it.
func (d *Directory) Create(ctx context.Context, name, agentID string) (*models.Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, d.fail("create chat", &models.ValidationError{Field: "name", Message: "chat name is required"})
	}
	if agentID == "" {
		return nil, d.fail("create chat", &models.ValidationError{Field: "agentId", Message: "an agent is required"})
	}

	chat, err := d.api.CreateChat(ctx, name, agentID)
	if err != nil {
		return nil, d.fail("create chat", err)
	}
	d.store.Update(func(s State) State {
		s.Chats = append([]models.Chat{*chat}, s.Chats...)
		s.ActiveChat = chat.ID
		s.Messages = withMessages(s.Messages, chat.ID, []models.Message{})
		s.Loaded = withLoaded(s.Loaded, chat.ID, true)
		return s
	})
	return chat, nil
}

// Select makes id the active chat and fetches its history until one fetch
// has succeeded. Messages added locally before that are kept after the
// fetched ones.
func (d *Directory) Select(ctx context.Context, id string) error {
	if _, ok := d.Get(id); !ok {
		return d.fail("select chat", &models.NotFoundError{Kind: "chat", ID: id})
	}
	d.store.Update(func(s State) State {
		s.ActiveChat = id
		return s
	})
	if d.IsLoaded(id) {
		return nil
	}

	_, err, _ := d.fetches.Do(id, func() (any, error) {
		if d.IsLoaded(id) {
			return nil, nil
		}
		msgs, err := d.api.ListMessages(ctx, id)
		if err != nil {
			return nil, err
		}
		d.store.Update(func(s State) State {
			if !containsChat(s.Chats, id) {
				return s
			}
			s.Messages = withMessages(s.Messages, id, mergeFetched(msgs, s.Messages[id]))
			s.Loaded = withLoaded(s.Loaded, id, true)
			return s
		})
		return nil, nil
	})
	if err != nil {
		return d.fail("load messages", err)
	}
	return nil
}

// mergeFetched keeps entries added locally while the fetch was in flight.
func mergeFetched(fetched, local []models.Message) []models.Message {
	out := make([]models.Message, 0, len(fetched)+len(local))
	out = append(out, fetched...)
	seen := make(map[string]bool, len(fetched))
	for _, m := range fetched {
		seen[m.ID] = true
	}
	for _, m := range local {
		if !seen[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

func containsChat(chats []models.Chat, id string) bool {
	for _, c := range chats {
		if c.ID == id {
			return true
		}
	}
	return false
}

// Update applies patch remotely and replaces the local chat with the result.
func (d *Directory) Update(ctx context.Context, id string, patch models.ChatPatch) (*models.Chat, error) {
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, d.fail("update chat", &models.ValidationError{Field: "name", Message: "chat name cannot be empty"})
		}
		patch.Name = &name
	}

	chat, err := d.api.UpdateChat(ctx, id, patch)
	if err != nil {
		return nil, d.fail("update chat", err)
	}
	d.store.Update(func(s State) State {
		next := make([]models.Chat, len(s.Chats))
		for i, c := range s.Chats {
			if c.ID == id {
				next[i] = *chat
			} else {
				next[i] = c
			}
		}
		s.Chats = next
		return s
	})
	return chat, nil
}

// Rename is Update with only a new name.
func (d *Directory) Rename(ctx context.Context, id, name string) (*models.Chat, error) {
	return d.Update(ctx, id, models.ChatPatch{Name: &name})
}

// Delete removes the chat and its cached messages, clearing the active
// pointer if it pointed here.
func (d *Directory) Delete(ctx context.Context, id string) error {
	if err := d.api.DeleteChat(ctx, id); err != nil {
		return d.fail("delete chat", err)
	}
	d.store.Update(func(s State) State {
		next := make([]models.Chat, 0, len(s.Chats))
		for _, c := range s.Chats {
			if c.ID != id {
				next = append(next, c)
			}
		}
		s.Chats = next
		if s.ActiveChat == id {
			s.ActiveChat = ""
		}
		msgs := make(map[string][]models.Message, len(s.Messages))
		for k, v := range s.Messages {
			if k != id {
				msgs[k] = v
			}
		}
		s.Messages = msgs
		s.Loaded = withLoaded(s.Loaded, id, false)
		return s
	})
	return nil
}

// Duplicate creates "<name> (Copy)" bound to the same agent, with no
// messages. The active chat is left alone.
func (d *Directory) Duplicate(ctx context.Context, id string) (*models.Chat, error) {
	src, ok := d.Get(id)
	if !ok {
		return nil, d.fail("duplicate chat", &models.NotFoundError{Kind: "chat", ID: id})
	}
	chat, err := d.api.CreateChat(ctx, src.Name+" (Copy)", src.AgentID)
	if err != nil {
		return nil, d.fail("duplicate chat", err)
	}
	d.store.Update(func(s State) State {
		s.Chats = append([]models.Chat{*chat}, s.Chats...)
		s.Messages = withMessages(s.Messages, chat.ID, []models.Message{})
		s.Loaded = withLoaded(s.Loaded, chat.ID, true)
		return s
	})
	return chat, nil
}
