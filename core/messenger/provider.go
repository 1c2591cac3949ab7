// Package messenger builds and caches backend adapters for configured messengers.
package messenger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/m3rciful/botengine/core/engine"
	"github.com/m3rciful/botengine/core/logger"
	"github.com/m3rciful/botengine/core/messenger/telegram"
	"github.com/m3rciful/botengine/core/messenger/viber"
)

// Settings are shared by every adapter a Provider builds.
type Settings struct {
	// PublicURL prefixes messenger logos given as absolute paths.
	PublicURL    string
	KeyboardText string
	Timeout      time.Duration
	Menus        engine.MenuGraph
	// AllowUnsigned lets Viber callbacks through without a signature.
	AllowUnsigned bool
}

// Factory builds an adapter for m.
type Factory func(m *engine.Messenger, s Settings) (engine.MessengerAdapter, error)

type cacheEntry struct {
	token   string
	proxy   string
	api     engine.APIType
	logo    string
	title   string
	adapter engine.MessengerAdapter
}

func (e cacheEntry) matches(m *engine.Messenger) bool {
	return e.token == m.Token && e.proxy == m.Proxy && e.api == m.APIType && e.logo == m.Logo && e.title == m.Title
}

// Provider implements engine.AdapterProvider. Adapters are cached per
// messenger and rebuilt when the credentials or backend change.
type Provider struct {
	settings  Settings
	factories map[engine.APIType]Factory

	mu    sync.Mutex
	cache map[int64]cacheEntry
}

var _ engine.AdapterProvider = (*Provider)(nil)

// NewProvider returns a provider that knows the telegram and viber backends.
func NewProvider(s Settings) *Provider {
	p := &Provider{
		settings:  s,
		factories: map[engine.APIType]Factory{},
		cache:     map[int64]cacheEntry{},
	}
	p.Register(engine.APITelegram, newTelegram)
	p.Register(engine.APIViber, newViber)
	return p
}

// Register installs or replaces the factory for api.
func (p *Provider) Register(api engine.APIType, f Factory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.factories[api] = f
	for id, e := range p.cache {
		if e.api == api {
			delete(p.cache, id)
		}
	}
}

// Adapter returns the cached adapter for m, building it on first use.
func (p *Provider) Adapter(m *engine.Messenger) (engine.MessengerAdapter, error) {
	if m == nil {
		return nil, fmt.Errorf("nil messenger")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.cache[m.ID]; ok && e.matches(m) {
		return e.adapter, nil
	}
	factory, ok := p.factories[m.APIType]
	if !ok {
		return nil, fmt.Errorf("no adapter for api type %q", m.APIType)
	}
	adapter, err := factory(m, p.settings)
	if err != nil {
		return nil, err
	}
	p.cache[m.ID] = cacheEntry{
		token:   m.Token,
		proxy:   m.Proxy,
		api:     m.APIType,
		logo:    m.Logo,
		title:   m.Title,
		adapter: adapter,
	}
	logger.Debug(context.Background(), "adapter", "adapter.built",
		slog.Int64("messenger_id", m.ID),
		slog.String("api_type", string(m.APIType)),
	)
	return adapter, nil
}

// Forget drops the cached adapter of messenger id.
func (p *Provider) Forget(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, id)
}

func newTelegram(m *engine.Messenger, s Settings) (engine.MessengerAdapter, error) {
	return telegram.New(telegram.Options{
		Token:        m.Token,
		Proxy:        m.Proxy,
		KeyboardText: s.KeyboardText,
		Menus:        s.Menus,
		Timeout:      s.Timeout,
	})
}

func newViber(m *engine.Messenger, s Settings) (engine.MessengerAdapter, error) {
	return viber.New(viber.Options{
		Token:   m.Token,
		Proxy:   m.Proxy,
		Name:    m.Title,
		Avatar:  logoURL(s.PublicURL, m.Logo),
		Menus:   s.Menus,
		Timeout: s.Timeout,

		AllowUnsigned: s.AllowUnsigned,
	})
}

func logoURL(publicURL, logo string) string {
	if strings.HasPrefix(logo, "/") && publicURL != "" {
		return strings.TrimRight(publicURL, "/") + logo
	}
	return logo
}
