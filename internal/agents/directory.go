// Package agents holds the local agent directory and keeps it in step with
// the remote agent resource.
package agents

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ashton/loopchat/internal/models"
	"github.com/ashton/loopchat/internal/persist"
	"github.com/ashton/loopchat/internal/remote"
	"github.com/ashton/loopchat/internal/state"
)

// StorageName is the persistence slot for the agent directory.
const StorageName = "agent-storage"

// State is the observable directory state.
type State struct {
	Agents  []models.Agent
	Loading bool
	Err     string
}

type snapshot struct {
	Agents []models.Agent `json:"agents"`
}

// Directory is the client-side agent set.
type Directory struct {
	store  *state.Store[State]
	api    remote.AgentService
	logger *zap.Logger
}

// New builds a directory over api. When storage is non-nil the directory is
// rehydrated from it and every change is saved back.
func New(api remote.AgentService, storage persist.Storage, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("agents")

	initial := State{Agents: []models.Agent{}}
	if storage != nil {
		var snap snapshot
		if persist.Rehydrate(storage, StorageName, &snap, logger) && snap.Agents != nil {
			initial.Agents = snap.Agents
		}
	}

	d := &Directory{store: state.New(initial), api: api, logger: logger}
	if storage != nil {
		persist.Bind(d.store, storage, StorageName, func(s State) any {
			return snapshot{Agents: s.Agents}
		}, logger)
	}
	return d
}

// State returns the current directory state.
func (d *Directory) State() State {
	return d.store.GetState()
}

// Subscribe registers a listener for directory changes.
func (d *Directory) Subscribe(l state.Listener[State]) func() {
	return d.store.Subscribe(l)
}

// List returns the agents in display order.
func (d *Directory) List() []models.Agent {
	return d.store.GetState().Agents
}

// ActiveAgents returns the agents that may start new chats.
func (d *Directory) ActiveAgents() []models.Agent {
	var out []models.Agent
	for _, a := range d.List() {
		if a.Active {
			out = append(out, a)
		}
	}
	return out
}

// Get returns the agent with id.
func (d *Directory) Get(id string) (models.Agent, bool) {
	for _, a := range d.List() {
		if a.ID == id {
			return a, true
		}
	}
	return models.Agent{}, false
}

// Lookup returns the agent with id, or the unknown-agent placeholder.
func (d *Directory) Lookup(id string) models.Agent {
	if a, ok := d.Get(id); ok {
		return a
	}
	return models.UnknownAgent(id)
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

// Load replaces the local set with the remote one.
func (d *Directory) Load(ctx context.Context) error {
	d.store.Update(func(s State) State {
		s.Loading = true
		return s
	})
	agents, err := d.api.ListAgents(ctx)
	if err != nil {
		return d.fail("load agents", err)
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	d.store.Update(func(s State) State {
		s.Agents = agents
		s.Loading = false
		return s
	})
	return nil
}

// Create adds a new agent after the remote accepts it.
func (d *Directory) Create(ctx context.Context, in models.AgentInput) (*models.Agent, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, d.fail("create agent", &models.ValidationError{Field: "name", Message: "agent name is required"})
	}
	if !in.Platform.Valid() {
		return nil, d.fail("create agent", &models.ValidationError{Field: "platform", Message: "platform must be n8n or make"})
	}

	a, err := d.api.CreateAgent(ctx, in)
	if err != nil {
		return nil, d.fail("create agent", err)
	}
	d.store.Update(func(s State) State {
		next := make([]models.Agent, 0, len(s.Agents)+1)
		next = append(next, s.Agents...)
		s.Agents = append(next, *a)
		return s
	})
	return a, nil
}

// Update applies patch remotely and replaces the local agent with the
// returned representation.
func (d *Directory) Update(ctx context.Context, id string, patch models.AgentPatch) (*models.Agent, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, d.fail("update agent", &models.ValidationError{Field: "name", Message: "agent name cannot be empty"})
	}
	if patch.Platform != nil && !patch.Platform.Valid() {
		return nil, d.fail("update agent", &models.ValidationError{Field: "platform", Message: "platform must be n8n or make"})
	}

	a, err := d.api.UpdateAgent(ctx, id, patch)
	if err != nil {
		return nil, d.fail("update agent", err)
	}
	d.store.Update(func(s State) State {
		next := make([]models.Agent, len(s.Agents))
		for i, cur := range s.Agents {
			if cur.ID == id {
				next[i] = *a
			} else {
				next[i] = cur
			}
		}
		s.Agents = next
		return s
	})
	return a, nil
}

// Delete removes the agent once the remote confirms. Chats bound to it keep
// their reference.
func (d *Directory) Delete(ctx context.Context, id string) error {
	if err := d.api.DeleteAgent(ctx, id); err != nil {
		return d.fail("delete agent", err)
	}
	d.store.Update(func(s State) State {
		next := make([]models.Agent, 0, len(s.Agents))
		for _, a := range s.Agents {
			if a.ID != id {
				next = append(next, a)
			}
		}
		s.Agents = next
		return s
	})
	return nil
}
