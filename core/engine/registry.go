package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/m3rciful/botengine/core/logger"
)

// EchoHandlerKey is the registry key of the built-in echo handler.
const EchoHandlerKey = "echo"

// HandlerFunc is behavior bound to a messenger, menu or button.
type HandlerFunc func(ctx context.Context, r Responder, msg *Message, conv *Conversation) error

// OwnerKind names the entity type a handler is bound to.
type OwnerKind string

const (
	OwnerMessenger OwnerKind = "messenger"
	OwnerMenu      OwnerKind = "menu"
	OwnerButton    OwnerKind = "button"
)

// Owner identifies the entity a handler binding belongs to.
type Owner struct {
	Kind OwnerKind
	ID   int64
}

func (o Owner) String() string { return fmt.Sprintf("%s:%d", o.Kind, o.ID) }

type binding struct {
	key string
	fn  HandlerFunc
}

// Registry maps string keys to handlers and memoizes resolution per owner.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	bound    map[Owner]binding
	misses   atomic.Uint64
}

// NewRegistry returns a registry with the echo handler registered.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[string]HandlerFunc),
		bound:    make(map[Owner]binding),
	}
	r.MustRegister(EchoHandlerKey, EchoHandler)
	return r
}

// Register adds fn under key. Keys are unique.
func (r *Registry) Register(key string, fn HandlerFunc) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return &ResolutionError{Key: key, Reason: "empty key"}
	}
	if fn == nil {
		return &ResolutionError{Key: key, Reason: "nil handler"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[key]; exists {
		return fmt.Errorf("handler already registered: %s", key)
	}
	r.handlers[key] = fn
	return nil
}

// MustRegister is Register that panics on error. Intended for process start.
func (r *Registry) MustRegister(key string, fn HandlerFunc) {
	if err := r.Register(key, fn); err != nil {
		panic(err)
	}
}

// Resolve looks key up without touching the owner cache.
func (r *Registry) Resolve(key string) (HandlerFunc, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, &ResolutionError{Key: key, Reason: "empty key"}
	}
	r.mu.RLock()
	fn, ok := r.handlers[key]
	r.mu.RUnlock()
	if !ok {
		return nil, &ResolutionError{Key: key, Reason: "not registered"}
	}
	return fn, nil
}

// Bind resolves key for owner, reusing the cached result while the key is unchanged.
func (r *Registry) Bind(owner Owner, key string) (HandlerFunc, error) {
	r.mu.RLock()
	b, ok := r.bound[owner]
	r.mu.RUnlock()
	if ok && b.key == key {
		return b.fn, nil
	}

	r.misses.Add(1)
	fn, err := r.Resolve(key)
	if err != nil {
		r.Invalidate(owner)
		return nil, err
	}
	r.mu.Lock()
	r.bound[owner] = binding{key: key, fn: fn}
	r.mu.Unlock()
	return fn, nil
}

// Invalidate drops the cached binding of owner.
func (r *Registry) Invalidate(owner Owner) {
	r.mu.Lock()
	delete(r.bound, owner)
	r.mu.Unlock()
}

// CacheMisses reports how many Bind calls had to resolve their key.
func (r *Registry) CacheMisses() uint64 { return r.misses.Load() }

// Validate checks that every non-empty key resolves.
func (r *Registry) Validate(keys ...string) error {
	var errs []error
	for _, key := range keys {
		if strings.TrimSpace(key) == "" {
			continue
		}
		if _, err := r.Resolve(key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Keys lists registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Invoke binds key for owner and runs the handler. An empty key is a no-op.
// Resolution failures and handler errors are logged and returned; panics are
// recovered into errors.
func (r *Registry) Invoke(ctx context.Context, owner Owner, key string, resp Responder, msg *Message, conv *Conversation) (err error) {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	fn, err := r.Bind(owner, key)
	if err != nil {
		logger.Warn(ctx, "engine", "handler.resolve",
			slog.String("status", "skip"),
			slog.String("owner", owner.String()),
			slog.String("handler", key),
			slog.String("err", err.Error()),
		)
		return err
	}

	ctx = logger.WithHandler(ctx, key)
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler %s panicked: %v", key, rec)
			logger.Error(ctx, "engine", "handler.panic",
				slog.String("status", "fail"),
				slog.String("owner", owner.String()),
				slog.String("err", err.Error()),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	if err = fn(ctx, resp, msg, conv); err != nil {
		logger.Error(ctx, "engine", "handler.failed",
			slog.String("status", "fail"),
			slog.String("owner", owner.String()),
			slog.String("err", err.Error()),
		)
	}
	return err
}
