// Package persist is the durable local substrate behind the client stores.
// Each store owns one named slot holding a JSON snapshot of the part of its
// state worth keeping between runs.
package persist

import (
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/ashton/loopchat/internal/state"
)

// ErrNotFound is returned by Storage.Load when nothing was saved under a name.
var ErrNotFound = errors.New("persist: no saved state")

// Storage is a key-value store keyed by component name.
type Storage interface {
	Load(name string) ([]byte, error)
	Save(name string, data []byte) error
}

// Rehydrate decodes the snapshot saved under name into v. Missing or corrupt
// data is logged and reported as false; v is left as it was.
func Rehydrate(s Storage, name string, v any, logger *zap.Logger) bool {
	if logger == nil {
		logger = zap.NewNop()
	}
	data, err := s.Load(name)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Warn("load persisted state", zap.String("name", name), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		logger.Warn("discard corrupt persisted state", zap.String("name", name), zap.Error(err))
		return false
	}
	return true
}

// Bind saves partialize(state) under name after every mutation of store.
// Save failures are logged and otherwise ignored. The returned function
// detaches the listener.
func Bind[T any](store *state.Store[T], s Storage, name string, partialize func(T) any, logger *zap.Logger) func() {
	if logger == nil {
		logger = zap.NewNop()
	}
	return store.Subscribe(func(next, _ T) {
		data, err := json.Marshal(partialize(next))
		if err != nil {
			logger.Warn("encode state snapshot", zap.String("name", name), zap.Error(err))
			return
		}
		if err := s.Save(name, data); err != nil {
			logger.Warn("save state snapshot", zap.String("name", name), zap.Error(err))
		}
	})
}

// Memory is an in-process Storage, used in tests and mock mode.
type Memory struct {
	mu    sync.RWMutex
	slots map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{slots: make(map[string][]byte)}
}

func (m *Memory) Load(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.slots[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Save(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[name] = append([]byte(nil), data...)
	return nil
}
