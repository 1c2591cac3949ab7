package engine

import (
	"context"
	"testing"
)

type countingAdapter struct {
	MessengerAdapter
	err error
}

func (c countingAdapter) SendMessage(context.Context, string, string, []Button) (string, error) {
	return "tok", c.err
}

func TestResponderCountsDeliveries(t *testing.T) {
	r := &responder{adapter: countingAdapter{}}
	conv := &Conversation{SenderID: "u1"}
	ctx := context.Background()

	if _, err := r.Send(ctx, conv, "hi", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if n, kb := r.counters(); n != 1 || kb {
		t.Fatalf("after plain send: messages=%d kb=%v", n, kb)
	}
	if _, err := r.Send(ctx, conv, "", []Button{{Title: "A", IsActive: true}}); err != nil {
		t.Fatalf("send keyboard: %v", err)
	}
	if n, kb := r.counters(); n != 2 || !kb {
		t.Fatalf("after keyboard send: messages=%d kb=%v", n, kb)
	}

	failing := &responder{adapter: countingAdapter{err: &AdapterError{Op: "send"}}}
	if _, err := failing.Send(ctx, conv, "hi", nil); err == nil {
		t.Fatal("expected transport error")
	}
	if n, _ := failing.counters(); n != 0 {
		t.Fatalf("failed send counted: %d", n)
	}
}
