// Package worker runs background jobs on a bounded pool with optional retries.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/botengine/core/logger"
	"github.com/m3rciful/botengine/core/netutil"
)

var (
	// ErrPoolClosed is returned when Enqueue is called after Close.
	ErrPoolClosed = errors.New("worker: pool closed")
	// ErrQueueFull indicates the queue is saturated and the job was not accepted.
	ErrQueueFull = errors.New("worker: queue full")
)

// Options controls a Pool. Zero values select defaults.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds a job including its retries.
	MaxDuration time.Duration
}

type job struct {
	ctx    context.Context
	action string
	key    string
	run    func(ctx context.Context) error
}

// Pool executes jobs asynchronously. Transient network failures are retried.
type Pool struct {
	opts Options
	jobs chan job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	done   atomic.Uint64
	failed atomic.Uint64
}

// New starts a pool.
func New(opts Options) *Pool {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 10 * time.Second
	}

	p := &Pool{opts: opts, jobs: make(chan job, opts.QueueSize)}
	p.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go p.loop()
	}
	return p
}

// Enqueue schedules run. It never blocks; a full queue rejects the job.
// run should be idempotent when retries are enabled.
func (p *Pool) Enqueue(ctx context.Context, action, key string, run func(ctx context.Context) error) error {
	if run == nil {
		return errors.New("worker: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job{ctx: ctx, action: action, key: key, run: run}:
		return nil
	default:
		logger.Warn(ctx, "worker", "job.rejected",
			slog.String("status", "drop"),
			slog.String("action", action),
			slog.String("key", key),
		)
		return ErrQueueFull
	}
}

// Completed returns the number of jobs that succeeded.
func (p *Pool) Completed() uint64 { return p.done.Load() }

// Failed returns the number of jobs that gave up.
func (p *Pool) Failed() uint64 { return p.failed.Load() }

// Close stops accepting jobs and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
	logger.Info(context.Background(), "worker", "pool.closed",
		slog.String("status", "ok"),
		slog.Uint64("completed", p.Completed()),
		slog.Uint64("failed", p.Failed()),
	)
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for j := range p.jobs {
		p.handle(j)
	}
}

func (p *Pool) handle(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, p.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attempts := p.opts.MaxRetries + 1
	var err error
retry:
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = p.runOnce(ctx, j); err == nil {
			p.done.Add(1)
			logger.Debug(ctx, "worker", "job.done",
				slog.String("status", "ok"),
				slog.String("action", j.action),
				slog.Int("attempts", attempt),
				slog.Duration("duration", logger.Took(start)),
			)
			return
		}
		if attempt == attempts || !netutil.ShouldRetry(err) {
			break
		}
		timer := time.NewTimer(p.opts.RetryBackoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			err = ctx.Err()
			break retry
		case <-timer.C:
		}
	}

	p.failed.Add(1)
	logger.Error(ctx, "worker", "job.failed",
		slog.String("status", "fail"),
		slog.String("action", j.action),
		slog.String("key", j.key),
		slog.String("err_code", netutil.Classify(err)),
		slog.String("err", err.Error()),
		slog.Duration("duration", logger.Took(start)),
	)
}

func (p *Pool) runOnce(ctx context.Context, j job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{value: rec}
		}
	}()
	return j.run(ctx)
}

type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("worker: job panicked: %v", e.value) }
