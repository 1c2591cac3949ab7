// Package viber implements the Viber REST bot API backend.
package viber

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/m3rciful/botengine/core/engine"
	"github.com/m3rciful/botengine/core/netutil"
)

const (
	signatureHeader = "X-Viber-Content-Signature"
	minAPIVersion   = 6
)

var webhookEvents = []string{"delivered", "seen", "failed", "subscribed", "unsubscribed", "conversation_started"}

// ErrBadSignature is returned when the callback signature does not match the body.
var ErrBadSignature = errors.New("viber: signature mismatch")

// Options configures an Adapter.
type Options struct {
	Token string
	Proxy string
	// Name and Avatar identify the bot as message sender.
	Name   string
	Avatar string
	// Menus resolves keyboard replies back to buttons.
	Menus engine.MenuGraph
	// BaseURL overrides the REST endpoint.
	BaseURL string
	Client  *http.Client
	Timeout time.Duration
	// AllowUnsigned accepts callbacks that carry no signature header.
	AllowUnsigned bool
}

// Adapter talks to one Viber public account.
type Adapter struct {
	api    *client
	token  string
	name   string
	avatar string
	menus  engine.MenuGraph

	allowUnsigned bool
}

var _ engine.MessengerAdapter = (*Adapter)(nil)

// New builds an adapter without contacting Viber.
func New(opts Options) (*Adapter, error) {
	if opts.Token == "" {
		return nil, errors.New("viber: token is required")
	}
	httpClient := opts.Client
	if httpClient == nil {
		var err error
		httpClient, err = netutil.NewHTTPClient(netutil.ClientOptions{Proxy: opts.Proxy, Timeout: opts.Timeout})
		if err != nil {
			return nil, fmt.Errorf("viber: %w", err)
		}
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &Adapter{
		api:    &client{http: httpClient, baseURL: base, token: opts.Token},
		token:  opts.Token,
		name:   opts.Name,
		avatar: opts.Avatar,
		menus:  opts.Menus,

		allowUnsigned: opts.AllowUnsigned,
	}, nil
}

// VerifySignature checks the HMAC-SHA256 of body keyed by the account token.
func (a *Adapter) VerifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(a.token))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// PreprocessMessage turns a keyboard reply, which arrives as text holding the
// button command, into a button selection.
func (a *Adapter) PreprocessMessage(ctx context.Context, msg *engine.Message, conv *engine.Conversation) (*engine.Message, *engine.Conversation, error) {
	out, err := engine.KeyboardSelection(ctx, a.menus, msg, conv, func(text string, b engine.Button) bool {
		return b.Command == text
	})
	return out, conv, err
}

type user struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Avatar          string `json:"avatar"`
	Country         string `json:"country"`
	Language        string `json:"language"`
	PrimaryDeviceOS string `json:"primary_device_os"`
	APIVersion      int    `json:"api_version"`
	ViberVersion    string `json:"viber_version"`
	DeviceType      string `json:"device_type"`
}

// GetUserInfo calls get_user_details.
func (a *Adapter) GetUserInfo(ctx context.Context, senderID string) (engine.UserInfo, error) {
	var resp struct {
		statusResponse
		User user `json:"user"`
	}
	if err := a.api.call(ctx, "get_user_details", map[string]string{"id": senderID}, &resp); err != nil {
		return engine.UserInfo{}, wrapError("get_user_details", senderID, err)
	}
	u := resp.User
	return engine.UserInfo{
		Username: u.Name,
		Info: map[string]any{
			"avatar":            u.Avatar,
			"country":           u.Country,
			"language":          u.Language,
			"primary_device_os": u.PrimaryDeviceOS,
			"api_version":       u.APIVersion,
			"viber_version":     u.ViberVersion,
			"device_type":       u.DeviceType,
		},
	}, nil
}

// AccountInfo calls get_account_info.
func (a *Adapter) AccountInfo(ctx context.Context) (engine.UserInfo, error) {
	var raw map[string]any
	if err := a.api.call(ctx, "get_account_info", struct{}{}, &raw); err != nil {
		return engine.UserInfo{}, wrapError("get_account_info", "", err)
	}
	name, _ := raw["name"].(string)
	return engine.UserInfo{Username: name, Info: raw}, nil
}

// EnableWebhook registers url for all callback events.
func (a *Adapter) EnableWebhook(ctx context.Context, url string) error {
	req := map[string]any{"url": url, "event_types": webhookEvents, "send_name": true, "send_photo": true}
	if err := a.api.call(ctx, "set_webhook", req, nil); err != nil {
		return wrapError("set_webhook", "", err)
	}
	return nil
}

// DisableWebhook unsets the webhook with an empty url.
func (a *Adapter) DisableWebhook(ctx context.Context) error {
	if err := a.api.call(ctx, "set_webhook", map[string]string{"url": ""}, nil); err != nil {
		return wrapError("set_webhook", "", err)
	}
	return nil
}

type sender struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// WelcomeMessage is the reply body for conversation_started callbacks.
func (a *Adapter) WelcomeMessage(text string) engine.Payload {
	return map[string]any{
		"sender": map[string]string{"name": a.name, "avatar": a.avatar},
		"type":   "text",
		"text":   text,
	}
}

type outMessage struct {
	Receiver      string    `json:"receiver"`
	MinAPIVersion int       `json:"min_api_version"`
	Sender        sender    `json:"sender"`
	Type          string    `json:"type,omitempty"`
	Text          string    `json:"text,omitempty"`
	Keyboard      *keyboard `json:"keyboard,omitempty"`
}

// SendMessage calls send_message. Empty text sends the keyboard alone.
func (a *Adapter) SendMessage(ctx context.Context, senderID, text string, buttons []engine.Button) (string, error) {
	msg := outMessage{
		Receiver:      senderID,
		MinAPIVersion: minAPIVersion,
		Sender:        sender{Name: a.name, Avatar: a.avatar},
		Keyboard:      buildKeyboard(buttons),
	}
	if text != "" {
		msg.Type = "text"
		msg.Text = text
	}
	var resp struct {
		statusResponse
		MessageToken json.Number `json:"message_token"`
	}
	if err := a.api.call(ctx, "send_message", msg, &resp); err != nil {
		return "", wrapError("send_message", senderID, err)
	}
	return resp.MessageToken.String(), nil
}

func wrapError(op, senderID string, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == statusNotSubscribed && senderID != "" {
		return &engine.NotSubscribedError{SenderID: senderID, Err: err}
	}
	return &engine.AdapterError{Op: op, Err: err}
}
