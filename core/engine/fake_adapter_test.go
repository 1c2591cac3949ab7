package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/m3rciful/botengine/core/engine"
	"github.com/m3rciful/botengine/core/store/memory"
)

type sent struct {
	senderID string
	text     string
	buttons  []engine.Button
}

// fakeAdapter decodes a JSON encoded Message and records outbound sends.
type fakeAdapter struct {
	menus engine.MenuGraph

	mu       sync.Mutex
	sends    []sent
	sendErr  error
	info     engine.UserInfo
	infoErr  error
	infoWait bool
	infoGate chan struct{}
	infoHits int

	swapConv bool
}

func (f *fakeAdapter) ParseMessage(_ context.Context, req *engine.Request) (*engine.Message, error) {
	var msg engine.Message
	if err := json.Unmarshal(req.Body, &msg); err != nil {
		return nil, &engine.AdapterError{Op: "parse", Err: err}
	}
	return &msg, nil
}

// PreprocessMessage reclassifies text that equals a button text of the current menu.
func (f *fakeAdapter) PreprocessMessage(ctx context.Context, msg *engine.Message, conv *engine.Conversation) (*engine.Message, *engine.Conversation, error) {
	if f.swapConv {
		return msg, &engine.Conversation{MessengerID: conv.MessengerID, SenderID: "intruder"}, nil
	}
	if msg.Kind != engine.KindText || conv.CurrentMenuID == 0 {
		return msg, conv, nil
	}
	buttons, err := f.menus.MenuButtons(ctx, conv.CurrentMenuID)
	if err != nil {
		return msg, conv, nil
	}
	for _, b := range buttons {
		if b.Text == msg.Text {
			cp := *msg
			cp.Kind = engine.KindButton
			return &cp, conv, nil
		}
	}
	return msg, conv, nil
}

func (f *fakeAdapter) GetUserInfo(ctx context.Context, _ string) (engine.UserInfo, error) {
	f.mu.Lock()
	f.infoHits++
	wait, gate := f.infoWait, f.infoGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return engine.UserInfo{}, &engine.AdapterError{Op: "user_info", Err: ctx.Err()}
		}
	}
	if wait {
		<-ctx.Done()
		return engine.UserInfo{}, &engine.AdapterError{Op: "user_info", Err: ctx.Err()}
	}
	if f.infoErr != nil {
		return engine.UserInfo{}, f.infoErr
	}
	return f.info, nil
}

func (f *fakeAdapter) SendMessage(_ context.Context, senderID, text string, buttons []engine.Button) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sends = append(f.sends, sent{senderID: senderID, text: text, buttons: buttons})
	return "token", nil
}

func (f *fakeAdapter) WelcomeMessage(text string) engine.Payload {
	return map[string]any{"type": "text", "text": text}
}

func (f *fakeAdapter) EnableWebhook(context.Context, string) error { return nil }
func (f *fakeAdapter) DisableWebhook(context.Context) error        { return nil }
func (f *fakeAdapter) AccountInfo(context.Context) (engine.UserInfo, error) {
	return engine.UserInfo{}, errors.New("not supported")
}

func (f *fakeAdapter) outbox() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sends...)
}

type fixture struct {
	store     *memory.Store
	adapter   *fakeAdapter
	registry  *engine.Registry
	messenger *engine.Messenger
	dispatch  *engine.Dispatcher
}

func newFixture(t testing.TB, opts engine.Options, welcome string) *fixture {
	store := memory.New(nil)
	adapter := &fakeAdapter{
		menus: store.Menus(),
		info:  engine.UserInfo{Username: "ann", Info: map[string]any{"avatar": "https://img/ann.png"}},
	}
	registry := engine.NewRegistry()
	m := &engine.Messenger{Title: "bot", APIType: engine.APITelegram, Token: "123:abc", WelcomeText: welcome}
	if err := store.Messengers().Create(context.Background(), m); err != nil {
		t.Fatalf("create messenger: %v", err)
	}
	provider := engine.AdapterProviderFunc(func(*engine.Messenger) (engine.MessengerAdapter, error) { return adapter, nil })
	return &fixture{
		store:     store,
		adapter:   adapter,
		registry:  registry,
		messenger: m,
		dispatch:  engine.NewDispatcher(store, provider, registry, opts),
	}
}

func (f *fixture) send(kind engine.Kind, sender, text string) (engine.Payload, error) {
	body, _ := json.Marshal(engine.Message{Kind: kind, SenderID: sender, Text: text})
	return f.dispatch.Dispatch(context.Background(), f.messenger, &engine.Request{Body: body})
}

func (f *fixture) conversation(sender string) *engine.Conversation {
	conv, err := f.store.Conversations().Get(context.Background(), f.messenger.ID, sender)
	if err != nil {
		return nil
	}
	return conv
}

func (f *fixture) menu(t testing.TB, title, message string, buttons ...*engine.Button) *engine.Menu {
	ctx := context.Background()
	g := f.store.Menus()
	m := &engine.Menu{Title: title, Message: message}
	if err := g.CreateMenu(ctx, m); err != nil {
		t.Fatalf("create menu %s: %v", title, err)
	}
	for _, b := range buttons {
		if b.ID == 0 {
			if err := g.CreateButton(ctx, b); err != nil {
				t.Fatalf("create button %s: %v", b.Title, err)
			}
		}
		if err := g.AttachButton(ctx, m.ID, b.ID); err != nil {
			t.Fatalf("attach %s: %v", b.Title, err)
		}
	}
	return m
}

func (f *fixture) enterMenu(t testing.TB, sender string, menuID int64) {
	ctx := context.Background()
	conv, _, err := f.store.Conversations().GetOrCreate(ctx, f.messenger.ID, sender, engine.Conversation{})
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	conv.CurrentMenuID = menuID
	conv.Info = map[string]any{"avatar": "x"}
	if err := f.store.Conversations().Save(ctx, conv); err != nil {
		t.Fatalf("save: %v", err)
	}
}

// trackedStore records every GetOrCreate outcome of the wrapped store.
type trackedStore struct {
	engine.Store
	convs *trackedConversations
}

func (s trackedStore) Conversations() engine.ConversationStore { return s.convs }

type trackedConversations struct {
	engine.ConversationStore

	mu      sync.Mutex
	ids     map[int64]int
	created int
	calls   sync.WaitGroup
}

func (c *trackedConversations) GetOrCreate(ctx context.Context, messengerID int64, senderID string, defaults engine.Conversation) (*engine.Conversation, bool, error) {
	defer c.calls.Done()
	conv, created, err := c.ConversationStore.GetOrCreate(ctx, messengerID, senderID, defaults)
	if err == nil {
		c.mu.Lock()
		c.ids[conv.ID]++
		if created {
			c.created++
		}
		c.mu.Unlock()
	}
	return conv, created, err
}
