package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/m3rciful/botengine/core/engine"
)

type messengerStore struct {
	s     *Store
	mu    sync.RWMutex
	items map[int64]*engine.Messenger
}

func (m *messengerStore) GetByHash(_ context.Context, hash string) (*engine.Messenger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, item := range m.items {
		if item.Hash == hash {
			cp := *item
			return &cp, nil
		}
	}
	return nil, engine.ErrNotFound
}

func (m *messengerStore) GetByID(_ context.Context, id int64) (*engine.Messenger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		return nil, engine.ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (m *messengerStore) List(_ context.Context) ([]engine.Messenger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.Messenger, 0, len(m.items))
	for _, item := range m.items {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *messengerStore) Create(_ context.Context, msgr *engine.Messenger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash := engine.TokenHash(msgr.Token)
	for _, item := range m.items {
		if item.Hash == hash {
			return engine.ErrConflict
		}
	}
	if msgr.Handler == "" {
		msgr.Handler = engine.EchoHandlerKey
	}
	if msgr.APIType == "" {
		msgr.APIType = engine.APINone
	}
	msgr.ID = m.s.ids.NextID()
	msgr.Hash = hash
	now := m.s.now()
	msgr.CreatedAt, msgr.UpdatedAt = now, now
	cp := *msgr
	m.items[msgr.ID] = &cp
	return nil
}

// Update overwrites the record but keeps the hash computed at creation.
func (m *messengerStore) Update(_ context.Context, msgr *engine.Messenger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.items[msgr.ID]
	if !ok {
		return engine.ErrNotFound
	}
	for id, item := range m.items {
		if id != msgr.ID && item.Token == msgr.Token && item.APIType == msgr.APIType {
			return engine.ErrConflict
		}
	}
	msgr.Hash = existing.Hash
	msgr.CreatedAt = existing.CreatedAt
	msgr.UpdatedAt = m.s.now()
	cp := *msgr
	m.items[msgr.ID] = &cp
	return nil
}

func (m *messengerStore) SetActive(_ context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return engine.ErrNotFound
	}
	item.IsActive = active
	item.UpdatedAt = m.s.now()
	return nil
}

func (m *messengerStore) clearMenu(menuID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.MenuID == menuID {
			item.MenuID = 0
		}
	}
}
