package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestRegistryBindMemoizesPerOwner(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.MustRegister("count", func(context.Context, Responder, *Message, *Conversation) error {
		calls++
		return nil
	})

	owner := Owner{Kind: OwnerMenu, ID: 1}
	for i := 0; i < 3; i++ {
		if _, err := r.Bind(owner, "count"); err != nil {
			t.Fatalf("bind: %v", err)
		}
	}
	if got := r.CacheMisses(); got != 1 {
		t.Fatalf("misses = %d, want 1", got)
	}

	if _, err := r.Bind(owner, EchoHandlerKey); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if got := r.CacheMisses(); got != 2 {
		t.Fatalf("misses after key change = %d, want 2", got)
	}

	r.Invalidate(owner)
	if _, err := r.Bind(owner, EchoHandlerKey); err != nil {
		t.Fatalf("bind after invalidate: %v", err)
	}
	if got := r.CacheMisses(); got != 3 {
		t.Fatalf("misses after invalidate = %d, want 3", got)
	}

	if _, err := r.Bind(Owner{Kind: OwnerButton, ID: 1}, EchoHandlerKey); err != nil {
		t.Fatalf("bind other owner: %v", err)
	}
	if got := r.CacheMisses(); got != 4 {
		t.Fatalf("owners must not share bindings, misses = %d", got)
	}
}

func TestRegistryResolutionErrors(t *testing.T) {
	r := NewRegistry()
	var resErr *ResolutionError

	if _, err := r.Resolve("missing.handler"); !errors.As(err, &resErr) || resErr.Key != "missing.handler" {
		t.Fatalf("resolve missing = %v", err)
	}
	if _, err := r.Resolve(" "); !errors.As(err, &resErr) {
		t.Fatalf("resolve empty = %v", err)
	}
	if err := r.Register("nil", nil); !errors.As(err, &resErr) {
		t.Fatalf("register nil = %v", err)
	}
	if err := r.Register(EchoHandlerKey, EchoHandler); err == nil {
		t.Fatal("duplicate registration should fail")
	}
	if err := r.Validate(EchoHandlerKey, "", "nope", "also.nope"); err == nil {
		t.Fatal("validate should report unknown keys")
	}
	if err := r.Validate(EchoHandlerKey, ""); err != nil {
		t.Fatalf("validate = %v", err)
	}
	if keys := r.Keys(); len(keys) != 1 || keys[0] != EchoHandlerKey {
		t.Fatalf("keys = %v", keys)
	}
}

func TestRegistryInvokeRecoversPanics(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("boom", func(context.Context, Responder, *Message, *Conversation) error {
		panic("kaboom")
	})
	err := r.Invoke(context.Background(), Owner{Kind: OwnerMessenger, ID: 1}, "boom", nil, &Message{}, &Conversation{})
	if err == nil {
		t.Fatal("expected error from panicking handler")
	}
	if err := r.Invoke(context.Background(), Owner{Kind: OwnerMessenger, ID: 1}, "", nil, nil, nil); err != nil {
		t.Fatalf("empty key should be a no-op, got %v", err)
	}
}

func TestRegistryConcurrentBindAndInvalidate(t *testing.T) {
	r := NewRegistry()
	keys := []string{"alpha", "beta", "gamma"}
	results := make(map[string]error, len(keys))
	for _, key := range keys {
		want := errors.New(key)
		results[key] = want
		r.MustRegister(key, func(context.Context, Responder, *Message, *Conversation) error { return want })
	}

	owner := Owner{Kind: OwnerButton, ID: 7}
	const workers = 16
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := keys[(w+i)%len(keys)]
				if i%5 == 0 {
					r.Invalidate(owner)
				}
				fn, err := r.Bind(owner, key)
				if err != nil {
					errs <- fmt.Errorf("bind %s: %w", key, err)
					return
				}
				if got := fn(context.Background(), nil, nil, nil); got != results[key] {
					errs <- fmt.Errorf("bind %s returned the handler of %v", key, got)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	fn, err := r.Bind(owner, "beta")
	if err != nil || fn(context.Background(), nil, nil, nil) != results["beta"] {
		t.Fatalf("final bind = %v", err)
	}
}
