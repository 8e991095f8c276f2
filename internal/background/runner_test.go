package background

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Warn(msg string, keyvals ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) Error(msg string, keyvals ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func TestGoRunner_SubmitDoesNotBlock(t *testing.T) {
	r := NewGoRunner(context.Background(), nil)
	release := make(chan struct{})
	var done atomic.Bool

	start := time.Now()
	r.Submit("slow", func(ctx context.Context) error {
		<-release
		done.Store(true)
		return nil
	})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("Submit blocked on the task")
	}
	if done.Load() {
		t.Fatal("task finished before release")
	}

	close(release)
	if err := r.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !done.Load() {
		t.Error("Wait returned before the task completed")
	}
}

func TestGoRunner_ErrorsAndPanicsGoToSink(t *testing.T) {
	logger := &recordingLogger{}
	r := NewGoRunner(context.Background(), logger)

	var mu sync.Mutex
	var failures []string
	r.OnError = func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, name+": "+err.Error())
	}

	r.Submit("fails", func(ctx context.Context) error { return errors.New("store down") })
	r.Submit("panics", func(ctx context.Context) error { panic("nil map") })
	r.Submit("ok", func(ctx context.Context) error { return nil })
	r.Wait(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(failures) != 2 {
		t.Fatalf("expected 2 failures, got %v", failures)
	}
	joined := strings.Join(failures, "\n")
	if !strings.Contains(joined, "store down") || !strings.Contains(joined, "panic: nil map") {
		t.Errorf("unexpected failures: %s", joined)
	}
	if len(logger.errors) != 2 {
		t.Errorf("expected 2 logged errors, got %d", len(logger.errors))
	}
}

func TestGoRunner_DropsAfterWait(t *testing.T) {
	logger := &recordingLogger{}
	r := NewGoRunner(context.Background(), logger)
	r.Wait(context.Background())

	var ran atomic.Bool
	r.Submit("late", func(ctx context.Context) error { ran.Store(true); return nil })
	time.Sleep(20 * time.Millisecond)
	if ran.Load() {
		t.Error("task submitted after Wait must not run")
	}
	if len(logger.warns) != 1 {
		t.Errorf("expected a drop warning, got %v", logger.warns)
	}
}

func TestGoRunner_WaitHonorsDeadline(t *testing.T) {
	r := NewGoRunner(context.Background(), nil)
	block := make(chan struct{})
	defer close(block)
	r.Submit("hung", func(ctx context.Context) error { <-block; return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestSyncRunner(t *testing.T) {
	r := &SyncRunner{}
	var ran bool
	r.Submit("inline", func(ctx context.Context) error { ran = true; return nil })
	if !ran {
		t.Fatal("sync runner must run inline")
	}

	r.Submit("panics", func(ctx context.Context) error { panic("boom") })
	if len(r.Errors) != 1 {
		t.Fatalf("expected recovered panic to be recorded, got %v", r.Errors)
	}
}
