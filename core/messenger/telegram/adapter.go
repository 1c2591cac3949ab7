// Package telegram implements the Telegram Bot API backend on top of telebot.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botengine/core/engine"
	"github.com/m3rciful/botengine/core/netutil"
)

const defaultKeyboardText = "⬇️"

// Options configures an Adapter.
type Options struct {
	Token string
	Proxy string
	// KeyboardText replaces empty text because Telegram rejects keyboard-only messages.
	KeyboardText string
	// Menus resolves reply keyboard labels back to button commands.
	Menus engine.MenuGraph
	// APIURL overrides the Bot API endpoint.
	APIURL string
	// Client overrides the HTTP client built from Proxy.
	Client  *http.Client
	Timeout time.Duration
}

// Adapter talks to one Telegram bot.
type Adapter struct {
	bot          *tele.Bot
	menus        engine.MenuGraph
	keyboardText string
}

var _ engine.MessengerAdapter = (*Adapter)(nil)
var _ engine.WelcomeAddresser = (*Adapter)(nil)

// New builds an adapter without contacting Telegram.
func New(opts Options) (*Adapter, error) {
	if opts.Token == "" {
		return nil, errors.New("telegram: token is required")
	}
	client := opts.Client
	if client == nil {
		var err error
		client, err = netutil.NewHTTPClient(netutil.ClientOptions{Proxy: opts.Proxy, Timeout: opts.Timeout})
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
	}
	bot, err := tele.NewBot(tele.Settings{
		URL:     opts.APIURL,
		Token:   opts.Token,
		Client:  client,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	text := opts.KeyboardText
	if text == "" {
		text = defaultKeyboardText
	}
	return &Adapter{bot: bot, menus: opts.Menus, keyboardText: text}, nil
}

// GetUserInfo reads the private chat of senderID. Avatars are not fetched
// because Telegram file URLs embed the bot token.
func (a *Adapter) GetUserInfo(ctx context.Context, senderID string) (engine.UserInfo, error) {
	id, err := strconv.ParseInt(senderID, 10, 64)
	if err != nil {
		return engine.UserInfo{}, fmt.Errorf("telegram: sender id %q: %w", senderID, err)
	}
	chat, err := await(ctx, func() (*tele.Chat, error) { return a.bot.ChatByID(id) })
	if err != nil {
		return engine.UserInfo{}, wrapError("getChat", senderID, err)
	}
	return engine.UserInfo{
		Username: chat.Username,
		Info: map[string]any{
			"avatar":     "",
			"first_name": chat.FirstName,
			"last_name":  chat.LastName,
		},
	}, nil
}

// AccountInfo returns the bot identity reported by getMe.
func (a *Adapter) AccountInfo(ctx context.Context) (engine.UserInfo, error) {
	data, err := await(ctx, func() ([]byte, error) { return a.bot.Raw("getMe", nil) })
	if err != nil {
		return engine.UserInfo{}, wrapError("getMe", "", err)
	}
	var resp struct {
		Result map[string]any `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return engine.UserInfo{}, &engine.AdapterError{Op: "getMe", Err: err}
	}
	username, _ := resp.Result["username"].(string)
	return engine.UserInfo{Username: username, Info: resp.Result}, nil
}

// EnableWebhook points the bot at url.
func (a *Adapter) EnableWebhook(ctx context.Context, url string) error {
	hook := &tele.Webhook{Endpoint: &tele.WebhookEndpoint{PublicURL: url}}
	_, err := await(ctx, func() (struct{}, error) { return struct{}{}, a.bot.SetWebhook(hook) })
	if err != nil {
		return wrapError("setWebhook", "", err)
	}
	return nil
}

// DisableWebhook removes the registered webhook.
func (a *Adapter) DisableWebhook(ctx context.Context) error {
	_, err := await(ctx, func() (struct{}, error) { return struct{}{}, a.bot.RemoveWebhook() })
	if err != nil {
		return wrapError("deleteWebhook", "", err)
	}
	return nil
}

// WelcomeMessage returns nil: a Telegram webhook reply must name its chat.
func (a *Adapter) WelcomeMessage(string) engine.Payload { return nil }

// WelcomeMessageTo answers the webhook call with a sendMessage method call.
func (a *Adapter) WelcomeMessageTo(senderID, text string) engine.Payload {
	return map[string]any{
		"method":  "sendMessage",
		"chat_id": senderID,
		"text":    text,
	}
}

// await runs fn and returns early when ctx ends. telebot calls take no
// context, so an abandoned call finishes in the background.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-done:
		return r.v, r.err
	}
}
