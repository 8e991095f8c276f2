// Package background runs fire-and-forget work off the request path.
package background

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Task is a unit of background work.
type Task func(ctx context.Context) error

// Logger is the subset of telemetry.Logger the runners need.
type Logger interface {
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
}

// Runner submits tasks. Submit never blocks on the task and never returns
// the task's error; failures go to the runner's error sink.
type Runner interface {
	Submit(name string, task Task)
}

// GoRunner runs each task in its own goroutine with panic recovery.
type GoRunner struct {
	ctx    context.Context
	logger Logger
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	// OnError, when set, receives every task failure after it is logged.
	OnError func(name string, err error)
}

// NewGoRunner creates a runner whose tasks inherit ctx. Tasks keep running
// after the submitting request returns.
func NewGoRunner(ctx context.Context, logger Logger) *GoRunner {
	if ctx == nil {
		ctx = context.Background()
	}
	return &GoRunner{ctx: ctx, logger: logger}
}

// Submit starts task in the background. Tasks submitted after Wait has
// begun are dropped with a warning.
func (r *GoRunner) Submit(name string, task Task) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		if r.logger != nil {
			r.logger.Warn("Background runner closed, dropping task", "task", name)
		}
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		if err := run(r.ctx, task); err != nil {
			r.fail(name, err)
		}
	}()
}

// Wait stops accepting tasks and blocks until in-flight tasks finish or
// ctx is done.
func (r *GoRunner) Wait(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *GoRunner) fail(name string, err error) {
	if r.logger != nil {
		r.logger.Error("Background task failed", "task", name, "error", err)
	}
	if r.OnError != nil {
		r.OnError(name, err)
	}
}

// SyncRunner runs tasks inline on Submit. Tests use it to make background
// work deterministic.
type SyncRunner struct {
	Ctx    context.Context
	Logger Logger

	mu     sync.Mutex
	Errors []error
}

// Submit runs task immediately and records any failure.
func (r *SyncRunner) Submit(name string, task Task) {
	ctx := r.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := run(ctx, task); err != nil {
		if r.Logger != nil {
			r.Logger.Error("Background task failed", "task", name, "error", err)
		}
		r.mu.Lock()
		r.Errors = append(r.Errors, err)
		r.mu.Unlock()
	}
}

func run(ctx context.Context, task Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()
	return task(ctx)
}
