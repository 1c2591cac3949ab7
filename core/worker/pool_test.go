package worker

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsJobs(t *testing.T) {
	p := New(Options{Workers: 2, QueueSize: 8})
	var runs atomic.Int32
	for i := 0; i < 5; i++ {
		if err := p.Enqueue(context.Background(), "count", "k", func(context.Context) error {
			runs.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	p.Close()
	if runs.Load() != 5 || p.Completed() != 5 {
		t.Fatalf("runs = %d, completed = %d", runs.Load(), p.Completed())
	}
	if err := p.Enqueue(context.Background(), "late", "k", func(context.Context) error { return nil }); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("enqueue after close = %v", err)
	}
}

func TestPoolRetriesTransientErrors(t *testing.T) {
	p := New(Options{Workers: 1, MaxRetries: 2, RetryBackoff: time.Millisecond})
	var calls atomic.Int32
	_ = p.Enqueue(context.Background(), "flaky", "k", func(context.Context) error {
		if calls.Add(1) < 3 {
			return &net.OpError{Op: "dial", Err: errors.New("refused")}
		}
		return nil
	})
	p.Close()
	if calls.Load() != 3 || p.Completed() != 1 {
		t.Fatalf("calls = %d, completed = %d", calls.Load(), p.Completed())
	}
}

func TestPoolDoesNotRetryPermanentErrors(t *testing.T) {
	p := New(Options{Workers: 1, MaxRetries: 3, RetryBackoff: time.Millisecond})
	var calls atomic.Int32
	_ = p.Enqueue(context.Background(), "bad", "k", func(context.Context) error {
		calls.Add(1)
		return errors.New("bad request")
	})
	p.Close()
	if calls.Load() != 1 || p.Failed() != 1 {
		t.Fatalf("calls = %d, failed = %d", calls.Load(), p.Failed())
	}
}

func TestPoolBoundsJobDuration(t *testing.T) {
	p := New(Options{Workers: 1, MaxDuration: 20 * time.Millisecond})
	done := make(chan error, 1)
	_ = p.Enqueue(context.Background(), "slow", "k", func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	})
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("job ctx err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("job was not cancelled")
	}
	p.Close()
	if p.Failed() != 1 {
		t.Fatalf("failed = %d", p.Failed())
	}
}

func TestPoolRejectsWhenFull(t *testing.T) {
	block := make(chan struct{})
	p := New(Options{Workers: 1, QueueSize: 1})
	defer func() {
		close(block)
		p.Close()
	}()
	wait := func(context.Context) error { <-block; return nil }

	started := make(chan struct{})
	_ = p.Enqueue(context.Background(), "hold", "k", func(ctx context.Context) error {
		close(started)
		return wait(ctx)
	})
	<-started
	if err := p.Enqueue(context.Background(), "queued", "k", wait); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if err := p.Enqueue(context.Background(), "overflow", "k", wait); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("overflow = %v, want ErrQueueFull", err)
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	p := New(Options{Workers: 1})
	_ = p.Enqueue(context.Background(), "panic", "k", func(context.Context) error { panic("boom") })
	p.Close()
	if p.Failed() != 1 {
		t.Fatalf("failed = %d", p.Failed())
	}
}
