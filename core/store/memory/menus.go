package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/m3rciful/botengine/core/engine"
)

type menuGraph struct {
	s  *Store
	mu sync.RWMutex

	menus   map[int64]*engine.Menu
	buttons map[int64]*engine.Button
	// order is the insertion order of buttons.
	order []int64
	// members lists the button ids of each menu in attachment order.
	members map[int64][]int64
}

func (g *menuGraph) Menu(_ context.Context, id int64) (*engine.Menu, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.menus[id]
	if !ok {
		return nil, engine.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (g *menuGraph) MenuByTitle(_ context.Context, title string) (*engine.Menu, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, m := range g.menus {
		if m.Title == title {
			cp := *m
			return &cp, nil
		}
	}
	return nil, engine.ErrNotFound
}

func (g *menuGraph) MenuButtons(_ context.Context, menuID int64) ([]engine.Button, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.menus[menuID]; !ok {
		return nil, engine.ErrNotFound
	}
	out := make([]engine.Button, 0, len(g.members[menuID]))
	for _, id := range g.members[menuID] {
		out = append(out, *g.buttons[id])
	}
	return out, nil
}

func (g *menuGraph) FindButtons(_ context.Context, menuID int64, token string) ([]engine.Button, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := g.order
	if menuID != 0 {
		ids = g.members[menuID]
	}
	var out []engine.Button
	for _, id := range ids {
		b := g.buttons[id]
		if b.Command == token || b.Text == token {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (g *menuGraph) Button(_ context.Context, id int64) (*engine.Button, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	b, ok := g.buttons[id]
	if !ok {
		return nil, engine.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (g *menuGraph) CreateMenu(_ context.Context, m *engine.Menu) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.titleTaken(m.Title, 0) {
		return engine.ErrConflict
	}
	if m.Handler == "" {
		m.Handler = engine.EchoHandlerKey
	}
	m.ID = g.s.ids.NextID()
	cp := *m
	g.menus[m.ID] = &cp
	g.members[m.ID] = nil
	return nil
}

func (g *menuGraph) UpdateMenu(_ context.Context, m *engine.Menu) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.menus[m.ID]; !ok {
		return engine.ErrNotFound
	}
	if g.titleTaken(m.Title, m.ID) {
		return engine.ErrConflict
	}
	cp := *m
	g.menus[m.ID] = &cp
	return nil
}

func (g *menuGraph) titleTaken(title string, except int64) bool {
	for id, m := range g.menus {
		if id != except && m.Title == title {
			return true
		}
	}
	return false
}

// DeleteMenu removes the menu and clears references from buttons and messengers.
// Conversation pointers are left for the dispatcher to repair.
func (g *menuGraph) DeleteMenu(_ context.Context, id int64) error {
	g.mu.Lock()
	if _, ok := g.menus[id]; !ok {
		g.mu.Unlock()
		return engine.ErrNotFound
	}
	delete(g.menus, id)
	delete(g.members, id)
	for _, b := range g.buttons {
		if b.NextMenuID == id {
			b.NextMenuID = 0
		}
	}
	g.mu.Unlock()

	g.s.messengers.clearMenu(id)
	return nil
}

func (g *menuGraph) CreateButton(_ context.Context, b *engine.Button) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if b.Command == "" {
		b.Command = engine.NewButtonCommand(b.Title)
	}
	if g.commandTaken(b.Command, 0) {
		return engine.ErrConflict
	}
	if b.NextMenuID != 0 {
		if _, ok := g.menus[b.NextMenuID]; !ok {
			return engine.ErrNotFound
		}
	}
	b.ID = g.s.ids.NextID()
	cp := *b
	g.buttons[b.ID] = &cp
	g.order = append(g.order, b.ID)
	return nil
}

func (g *menuGraph) UpdateButton(_ context.Context, b *engine.Button) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	existing, ok := g.buttons[b.ID]
	if !ok {
		return engine.ErrNotFound
	}
	b.Command = existing.Command
	cp := *b
	g.buttons[b.ID] = &cp
	return nil
}

func (g *menuGraph) commandTaken(command string, except int64) bool {
	for id, b := range g.buttons {
		if id != except && b.Command == command {
			return true
		}
	}
	return false
}

func (g *menuGraph) AttachButton(_ context.Context, menuID, buttonID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.menus[menuID]; !ok {
		return engine.ErrNotFound
	}
	if _, ok := g.buttons[buttonID]; !ok {
		return engine.ErrNotFound
	}
	if slices.Contains(g.members[menuID], buttonID) {
		return nil
	}
	g.members[menuID] = append(g.members[menuID], buttonID)
	return nil
}

func (g *menuGraph) DetachButton(_ context.Context, menuID, buttonID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids, ok := g.members[menuID]
	if !ok {
		return engine.ErrNotFound
	}
	g.members[menuID] = slices.DeleteFunc(ids, func(id int64) bool { return id == buttonID })
	return nil
}
