package engine

import (
	"context"
	"net/http"
)

// Request is the raw inbound webhook call handed to an adapter.
type Request struct {
	Header http.Header
	Body   []byte
}

// Payload is a backend specific reply returned to the webhook caller.
// A nil payload means an empty response body.
type Payload any

// UserInfo is the profile data returned by a backend.
type UserInfo struct {
	Username string
	Info     map[string]any
}

// MessengerAdapter translates between a backend wire protocol and Message.
type MessengerAdapter interface {
	// ParseMessage decodes a webhook call. Malformed payloads yield an error.
	ParseMessage(ctx context.Context, req *Request) (*Message, error)
	// PreprocessMessage may reclassify msg or replace conv with a value of the same identity.
	PreprocessMessage(ctx context.Context, msg *Message, conv *Conversation) (*Message, *Conversation, error)
	GetUserInfo(ctx context.Context, senderID string) (UserInfo, error)
	// SendMessage delivers text with an optional keyboard and returns a delivery token.
	// It fails with *NotSubscribedError or *AdapterError.
	SendMessage(ctx context.Context, senderID, text string, buttons []Button) (string, error)
	WelcomeMessage(text string) Payload
	EnableWebhook(ctx context.Context, url string) error
	DisableWebhook(ctx context.Context) error
	AccountInfo(ctx context.Context) (UserInfo, error)
}

// WelcomeAddresser is implemented by adapters whose welcome reply must name
// the recipient. The dispatcher prefers it over WelcomeMessage.
type WelcomeAddresser interface {
	WelcomeMessageTo(senderID, text string) Payload
}

// AdapterProvider returns the adapter serving a messenger.
type AdapterProvider interface {
	Adapter(m *Messenger) (MessengerAdapter, error)
}

// AdapterProviderFunc adapts a function to AdapterProvider.
type AdapterProviderFunc func(m *Messenger) (MessengerAdapter, error)

// Adapter calls f(m).
func (f AdapterProviderFunc) Adapter(m *Messenger) (MessengerAdapter, error) { return f(m) }

// NopPreprocessor implements the identity PreprocessMessage hook.
type NopPreprocessor struct{}

// PreprocessMessage returns its arguments unchanged.
func (NopPreprocessor) PreprocessMessage(_ context.Context, msg *Message, conv *Conversation) (*Message, *Conversation, error) {
	return msg, conv, nil
}
