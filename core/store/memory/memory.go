// Package memory keeps botengine state in process memory.
// Records are copied on the way in and out so callers never share them.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/botengine/core/engine"
)

type counterIDs struct{ n atomic.Int64 }

func (c *counterIDs) NextID() int64 { return c.n.Add(1) }

// Store implements engine.Store.
type Store struct {
	ids engine.IDGenerator
	now func() time.Time

	conversations *conversationStore
	menus         *menuGraph
	messengers    *messengerStore
}

// New returns an empty store. A nil ids uses a process-local counter.
func New(ids engine.IDGenerator) *Store {
	if ids == nil {
		ids = &counterIDs{}
	}
	s := &Store{ids: ids, now: time.Now}
	s.conversations = &conversationStore{s: s, items: make(map[convKey]*engine.Conversation)}
	s.menus = &menuGraph{
		s:       s,
		menus:   make(map[int64]*engine.Menu),
		buttons: make(map[int64]*engine.Button),
		members: make(map[int64][]int64),
	}
	s.messengers = &messengerStore{s: s, items: make(map[int64]*engine.Messenger)}
	return s
}

// Conversations returns the conversation store.
func (s *Store) Conversations() engine.ConversationStore { return s.conversations }

// Menus returns the menu graph.
func (s *Store) Menus() engine.MenuGraph { return s.menus }

// Messengers returns the messenger store.
func (s *Store) Messengers() engine.MessengerStore { return s.messengers }

type convKey struct {
	messengerID int64
	senderID    string
}

type conversationStore struct {
	s     *Store
	mu    sync.RWMutex
	items map[convKey]*engine.Conversation
}

func (c *conversationStore) GetOrCreate(_ context.Context, messengerID int64, senderID string, defaults engine.Conversation) (*engine.Conversation, bool, error) {
	key := convKey{messengerID, senderID}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.items[key]; ok {
		return existing.Clone(), false, nil
	}
	conv := defaults.Clone()
	conv.ID = c.s.ids.NextID()
	conv.MessengerID = messengerID
	conv.SenderID = senderID
	if conv.Context == nil {
		conv.Context = map[string]any{}
	}
	if conv.Info == nil {
		conv.Info = map[string]any{}
	}
	now := c.s.now()
	conv.CreatedAt, conv.UpdatedAt = now, now
	c.items[key] = conv
	return conv.Clone(), true, nil
}

func (c *conversationStore) Get(_ context.Context, messengerID int64, senderID string) (*engine.Conversation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conv, ok := c.items[convKey{messengerID, senderID}]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return conv.Clone(), nil
}

func (c *conversationStore) Save(_ context.Context, conv *engine.Conversation) error {
	key := convKey{conv.MessengerID, conv.SenderID}
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.items[key]
	if !ok {
		return engine.ErrNotFound
	}
	stored := conv.Clone()
	stored.ID = existing.ID
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = c.s.now()
	conv.UpdatedAt = stored.UpdatedAt
	c.items[key] = stored
	return nil
}

func (c *conversationStore) UpdateProfile(_ context.Context, conv *engine.Conversation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.items[convKey{conv.MessengerID, conv.SenderID}]
	if !ok {
		return engine.ErrNotFound
	}
	existing.Username = conv.Username
	existing.Info = conv.Clone().Info
	existing.IsActive = conv.IsActive
	existing.UpdatedAt = c.s.now()
	return nil
}
