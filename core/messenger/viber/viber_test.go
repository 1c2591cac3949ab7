package viber

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/m3rciful/botengine/core/engine"
	"github.com/m3rciful/botengine/core/netutil"
)

const testToken = "viber-token"

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(testToken))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func signed(body string) *engine.Request {
	h := http.Header{}
	h.Set(signatureHeader, sign(body))
	return &engine.Request{Header: h, Body: []byte(body)}
}

func newTestAdapter(t *testing.T, baseURL string, client *http.Client) *Adapter {
	t.Helper()
	a, err := New(Options{Token: testToken, Name: "Engine", Avatar: "https://x/a.png", BaseURL: baseURL, Client: client})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestParseMessageEvents(t *testing.T) {
	a := newTestAdapter(t, "", nil)
	cases := []struct {
		name   string
		body   string
		kind   engine.Kind
		sender string
		text   string
	}{
		{"text", `{"event":"message","timestamp":1457764197627,"message_token":4912661846655238145,"sender":{"id":"u1","name":"John"},"message":{"type":"text","text":"hi"}}`, engine.KindText, "u1", "hi"},
		{"picture", `{"event":"message","sender":{"id":"u1"},"message":{"type":"picture","media":"https://img"}}`, engine.KindPicture, "u1", ""},
		{"video", `{"event":"message","sender":{"id":"u1"},"message":{"type":"video","media":"https://vid","size":10}}`, engine.KindVideo, "u1", ""},
		{"contact", `{"event":"message","sender":{"id":"u1"},"message":{"type":"contact","contact":{"name":"N","phone_number":"+1"}}}`, engine.KindContact, "u1", "+1"},
		{"unknown body", `{"event":"message","sender":{"id":"u1"},"message":{"type":"hologram"}}`, engine.KindUndefined, "u1", ""},
		{"broken body", `{"event":"message","sender":{"id":"u1"},"message":"oops"}`, engine.KindUndefined, "u1", ""},
		{"started", `{"event":"conversation_started","user":{"id":"u2","name":"Ann"},"context":"promo"}`, engine.KindStart, "u2", ""},
		{"subscribed", `{"event":"subscribed","user":{"id":"u3"}}`, engine.KindSubscribed, "u3", ""},
		{"unsubscribed", `{"event":"unsubscribed","user_id":"u4"}`, engine.KindUnsubscribed, "u4", ""},
		{"delivered", `{"event":"delivered","user_id":"u5","message_token":1}`, engine.KindDelivered, "u5", ""},
		{"seen", `{"event":"seen","user_id":"u5"}`, engine.KindSeen, "u5", ""},
		{"failed", `{"event":"failed","user_id":"u5","desc":"boom"}`, engine.KindFailed, "u5", ""},
		{"webhook", `{"event":"webhook","timestamp":1}`, engine.KindWebhook, "", ""},
		{"other", `{"event":"client_status"}`, engine.KindUndefined, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := a.ParseMessage(context.Background(), signed(tc.body))
			if err != nil {
				t.Fatalf("ParseMessage: %v", err)
			}
			if msg.Kind != tc.kind || msg.SenderID != tc.sender || msg.Text != tc.text {
				t.Fatalf("got kind=%s sender=%q text=%q", msg.Kind, msg.SenderID, msg.Text)
			}
		})
	}
}

func TestParseMessageDetails(t *testing.T) {
	a := newTestAdapter(t, "", nil)
	body := `{"event":"message","timestamp":1457764197627,"message_token":4912661846655238145,"sender":{"id":"u1"},"message":{"type":"text","text":"hi"}}`
	msg, err := a.ParseMessage(context.Background(), signed(body))
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if msg.ID != "4912661846655238145" || msg.Timestamp != 1457764197 {
		t.Fatalf("got id=%q ts=%d", msg.ID, msg.Timestamp)
	}

	started := `{"event":"conversation_started","user":{"id":"u2"},"context":"promo"}`
	msg, _ = a.ParseMessage(context.Background(), signed(started))
	if msg.ExtraString(engine.ExtraContext) != "promo" {
		t.Fatalf("context = %q", msg.ExtraString(engine.ExtraContext))
	}
}

func TestParseMessageSignature(t *testing.T) {
	a := newTestAdapter(t, "", nil)
	body := `{"event":"webhook","timestamp":1}`

	h := http.Header{}
	h.Set(signatureHeader, sign(body))
	if _, err := a.ParseMessage(context.Background(), &engine.Request{Header: h, Body: []byte(body)}); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	h.Set(signatureHeader, sign(body+"x"))
	if _, err := a.ParseMessage(context.Background(), &engine.Request{Header: h, Body: []byte(body)}); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}

	unsigned := &engine.Request{Header: http.Header{}, Body: []byte(body)}
	if _, err := a.ParseMessage(context.Background(), unsigned); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("unsigned callback accepted: %v", err)
	}

	replay, err := New(Options{Token: testToken, AllowUnsigned: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := replay.ParseMessage(context.Background(), unsigned); err != nil {
		t.Fatalf("unsigned callback rejected with AllowUnsigned: %v", err)
	}
	h.Set(signatureHeader, sign(body+"x"))
	if _, err := replay.ParseMessage(context.Background(), &engine.Request{Header: h, Body: []byte(body)}); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("a wrong signature must fail even with AllowUnsigned, got %v", err)
	}
}

func TestParseMessageMalformed(t *testing.T) {
	a := newTestAdapter(t, "", nil)
	for _, body := range []string{"", "not json", `{"event":5}`} {
		if _, err := a.ParseMessage(context.Background(), signed(body)); err == nil {
			t.Fatalf("expected error for %q", body)
		}
	}
}

type restAPI struct {
	mu       sync.Mutex
	requests map[string]map[string]any
	replies  map[string]string
	tokens   []string
}

func (r *restAPI) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	method := strings.TrimPrefix(req.URL.Path, "/")
	data, _ := io.ReadAll(req.Body)
	var decoded map[string]any
	_ = json.Unmarshal(data, &decoded)
	r.mu.Lock()
	r.requests[method] = decoded
	r.tokens = append(r.tokens, req.Header.Get(authHeader))
	reply, ok := r.replies[method]
	r.mu.Unlock()
	if !ok {
		reply = `{"status":0,"status_message":"ok"}`
	}
	_, _ = io.WriteString(w, reply)
}

func (r *restAPI) request(method string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[method]
}

func newRESTAdapter(t *testing.T, replies map[string]string) (*Adapter, *restAPI) {
	t.Helper()
	api := &restAPI{requests: map[string]map[string]any{}, replies: replies}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return newTestAdapter(t, srv.URL, srv.Client()), api
}

func TestSendMessageWithKeyboard(t *testing.T) {
	a, api := newRESTAdapter(t, map[string]string{
		"send_message": `{"status":0,"status_message":"ok","message_token":5741311803571721087}`,
	})

	token, err := a.SendMessage(context.Background(), "u1", "pick", []engine.Button{
		{Title: "Menu1", Command: "btn-menu1-aaaaaa"},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if token != "5741311803571721087" {
		t.Fatalf("token = %q", token)
	}
	req := api.request("send_message")
	if req["receiver"] != "u1" || req["text"] != "pick" || req["type"] != "text" {
		t.Fatalf("unexpected request %v", req)
	}
	kb, _ := req["keyboard"].(map[string]any)
	buttons, _ := kb["Buttons"].([]any)
	if len(buttons) != 1 {
		t.Fatalf("keyboard = %v", kb)
	}
	if body := buttons[0].(map[string]any)["ActionBody"]; body != "btn-menu1-aaaaaa" {
		t.Fatalf("ActionBody = %v", body)
	}
	if api.tokens[0] != testToken {
		t.Fatalf("auth header = %q", api.tokens[0])
	}
}

func TestSendMessageKeyboardOnly(t *testing.T) {
	a, api := newRESTAdapter(t, nil)
	if _, err := a.SendMessage(context.Background(), "u1", "", []engine.Button{{Title: "A", Command: "a"}}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	req := api.request("send_message")
	if _, ok := req["text"]; ok {
		t.Fatalf("keyboard-only message must omit text: %v", req)
	}
}

func TestSendMessageNotSubscribed(t *testing.T) {
	a, _ := newRESTAdapter(t, map[string]string{
		"send_message": `{"status":6,"status_message":"notSubscribed"}`,
	})
	_, err := a.SendMessage(context.Background(), "u1", "hi", nil)
	if !engine.IsNotSubscribed(err) {
		t.Fatalf("expected NotSubscribedError, got %v", err)
	}
}

func TestSendMessageOtherStatus(t *testing.T) {
	a, _ := newRESTAdapter(t, map[string]string{
		"send_message": `{"status":5,"status_message":"receiverNoSuitableDevice"}`,
	})
	_, err := a.SendMessage(context.Background(), "u1", "hi", nil)
	var ae *engine.AdapterError
	if !errors.As(err, &ae) || engine.IsNotSubscribed(err) {
		t.Fatalf("expected AdapterError, got %v", err)
	}
}

func TestHTTPFailureIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	a := newTestAdapter(t, srv.URL, srv.Client())

	_, err := a.SendMessage(context.Background(), "u1", "hi", nil)
	var status *netutil.StatusError
	if !errors.As(err, &status) || status.Code != http.StatusBadGateway || status.Body != "upstream down" {
		t.Fatalf("expected StatusError 502, got %v", err)
	}
	if got := netutil.Classify(err); got != "http_5xx" {
		t.Fatalf("Classify = %q, want http_5xx", got)
	}
}

func TestGetUserInfo(t *testing.T) {
	a, api := newRESTAdapter(t, map[string]string{
		"get_user_details": `{"status":0,"status_message":"ok","user":{"id":"u1","name":"John McClane","avatar":"http://avatar","country":"UK","language":"en"}}`,
	})
	info, err := a.GetUserInfo(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetUserInfo: %v", err)
	}
	if info.Username != "John McClane" || info.Info["avatar"] != "http://avatar" || info.Info["country"] != "UK" {
		t.Fatalf("unexpected info %+v", info)
	}
	if api.request("get_user_details")["id"] != "u1" {
		t.Fatal("user id not sent")
	}
}

func TestWebhookToggle(t *testing.T) {
	a, api := newRESTAdapter(t, nil)
	if err := a.EnableWebhook(context.Background(), "https://bots.example/bot/abc"); err != nil {
		t.Fatalf("EnableWebhook: %v", err)
	}
	if api.request("set_webhook")["url"] != "https://bots.example/bot/abc" {
		t.Fatalf("unexpected set_webhook %v", api.request("set_webhook"))
	}
	if err := a.DisableWebhook(context.Background()); err != nil {
		t.Fatalf("DisableWebhook: %v", err)
	}
	if api.request("set_webhook")["url"] != "" {
		t.Fatalf("disable must send an empty url, got %v", api.request("set_webhook"))
	}
}

func TestWelcomeMessage(t *testing.T) {
	a := newTestAdapter(t, "", nil)
	payload := a.WelcomeMessage("hello").(map[string]any)
	s := payload["sender"].(map[string]string)
	if payload["type"] != "text" || payload["text"] != "hello" || s["name"] != "Engine" || s["avatar"] != "https://x/a.png" {
		t.Fatalf("unexpected welcome %#v", payload)
	}
}

type menuStub struct {
	engine.MenuGraph
	buttons []engine.Button
}

func (m menuStub) MenuButtons(context.Context, int64) ([]engine.Button, error) {
	return m.buttons, nil
}

func TestPreprocessMatchesCommands(t *testing.T) {
	a, err := New(Options{Token: testToken, Menus: menuStub{buttons: []engine.Button{
		{Title: "Go", Command: "btn-go-111111", IsActive: true},
	}}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	conv := &engine.Conversation{SenderID: "u1", CurrentMenuID: 3}

	got, _, err := a.PreprocessMessage(context.Background(), engine.TextMessage("btn-go-111111"), conv)
	if err != nil || got.Kind != engine.KindButton {
		t.Fatalf("command text should become a button, got %s (%v)", got.Kind, err)
	}
	got, _, _ = a.PreprocessMessage(context.Background(), engine.TextMessage("Go"), conv)
	if got.Kind != engine.KindText {
		t.Fatalf("label text should stay text on viber, got %s", got.Kind)
	}
}
