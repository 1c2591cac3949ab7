package telegram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/m3rciful/botengine/core/engine"
)

type botAPI struct {
	mu       sync.Mutex
	bodies   map[string]string
	response string
}

func (b *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	b.mu.Lock()
	b.bodies[method] = string(data)
	resp := b.response
	b.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, resp)
}

func (b *botAPI) body(method string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bodies[method]
}

func newAPIAdapter(t *testing.T, response string) (*Adapter, *botAPI) {
	t.Helper()
	api := &botAPI{bodies: map[string]string{}, response: response}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	a, err := New(Options{Token: "123:abc", APIURL: srv.URL, Client: srv.Client(), KeyboardText: "pick"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, api
}

func TestSendMessageReturnsMessageID(t *testing.T) {
	a, api := newAPIAdapter(t, `{"ok":true,"result":{"message_id":77,"date":1,"chat":{"id":42,"type":"private"}}}`)

	token, err := a.SendMessage(context.Background(), "42", "", []engine.Button{{Title: "Menu1", Command: "btn-menu1-aaaaaa"}})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if token != "77" {
		t.Fatalf("token = %q", token)
	}
	body := api.body("sendMessage")
	if !strings.Contains(body, "pick") {
		t.Fatalf("empty text should be replaced with keyboard text, body=%s", body)
	}
	if !strings.Contains(body, "Menu1") {
		t.Fatalf("keyboard missing from body=%s", body)
	}
}

func TestSendMessageForbiddenIsNotSubscribed(t *testing.T) {
	a, _ := newAPIAdapter(t, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`)

	_, err := a.SendMessage(context.Background(), "42", "hi", nil)
	if !engine.IsNotSubscribed(err) {
		t.Fatalf("expected NotSubscribedError, got %v", err)
	}
}

func TestSendMessageOtherFailureIsAdapterError(t *testing.T) {
	a, _ := newAPIAdapter(t, `{"ok":false,"error_code":400,"description":"Bad Request: message text is empty"}`)

	_, err := a.SendMessage(context.Background(), "42", "hi", nil)
	var ae *engine.AdapterError
	if !errors.As(err, &ae) || ae.Op != "sendMessage" {
		t.Fatalf("expected AdapterError, got %v", err)
	}
	if engine.IsNotSubscribed(err) {
		t.Fatal("400 must not mark the recipient unsubscribed")
	}
}

func TestGetUserInfo(t *testing.T) {
	a, _ := newAPIAdapter(t, `{"ok":true,"result":{"id":42,"type":"private","username":"neo","first_name":"Thomas","last_name":"Anderson"}}`)

	info, err := a.GetUserInfo(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetUserInfo: %v", err)
	}
	if info.Username != "neo" || info.Info["first_name"] != "Thomas" || info.Info["last_name"] != "Anderson" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestWelcomeMessageTo(t *testing.T) {
	a := newTestAdapter(t, nil)
	payload, ok := a.WelcomeMessageTo("42", "hi").(map[string]any)
	if !ok || payload["method"] != "sendMessage" || payload["chat_id"] != "42" || payload["text"] != "hi" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if a.WelcomeMessage("hi") != nil {
		t.Fatal("unaddressed welcome should be empty")
	}
}

func TestBuildMarkup(t *testing.T) {
	if buildMarkup(nil) != nil {
		t.Fatal("no buttons should yield no markup")
	}
	reply := buildMarkup([]engine.Button{
		{Title: "A"}, {Title: "B"}, {Title: "C"}, {Title: "D"}, {Title: "I", IsInline: true},
	})
	if len(reply.ReplyKeyboard) != 2 || len(reply.ReplyKeyboard[0]) != 3 || len(reply.ReplyKeyboard[1]) != 1 {
		t.Fatalf("unexpected reply layout %+v", reply.ReplyKeyboard)
	}
	if reply.InlineKeyboard != nil {
		t.Fatal("mixed buttons should render a reply keyboard only")
	}
	inline := buildMarkup([]engine.Button{{Text: "X", Command: "btn-x-1", IsInline: true}})
	if len(inline.InlineKeyboard) != 1 || inline.InlineKeyboard[0][0].Data != "btn-x-1" {
		t.Fatalf("unexpected inline layout %+v", inline.InlineKeyboard)
	}
}
