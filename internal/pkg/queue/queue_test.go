package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueue_RunsSubmittedTasks(t *testing.T) {
	q := New(newTestLogger(), 3, 10, time.Second)
	q.Start(context.Background())

	var completed atomic.Int32
	for i := 0; i < 5; i++ {
		err := q.Submit(Task{Name: "count", Run: func(ctx context.Context) error {
			completed.Add(1)
			return nil
		}})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	if err := q.Drain(2 * time.Second); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if completed.Load() != 5 {
		t.Fatalf("expected 5 completed tasks, got %d", completed.Load())
	}
	stats := q.Stats()
	if stats.Submitted != 5 || stats.Succeeded != 5 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestQueue_ErrorHandler(t *testing.T) {
	q := New(newTestLogger(), 2, 5, time.Second)

	var handled atomic.Int32
	q.SetErrorHandler(func(task Task, err error) {
		if task.Name == "fail" {
			handled.Add(1)
		}
	})
	q.Start(context.Background())

	_ = q.Submit(Task{Name: "ok", Run: func(ctx context.Context) error { return nil }})
	_ = q.Submit(Task{Name: "fail", Run: func(ctx context.Context) error { return errors.New("smtp down") }})

	if err := q.Drain(2 * time.Second); err != nil {
		t.Fatalf("drain: %v", err)
	}
	stats := q.Stats()
	if stats.Succeeded != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if handled.Load() != 1 {
		t.Fatalf("expected error handler once, got %d", handled.Load())
	}
}

func TestQueue_PanicRecovery(t *testing.T) {
	q := New(newTestLogger(), 1, 5, time.Second)
	q.Start(context.Background())

	_ = q.Submit(Task{Name: "panic", Run: func(ctx context.Context) error { panic("boom") }})

	var executed atomic.Bool
	_ = q.Submit(Task{Name: "after", Run: func(ctx context.Context) error {
		executed.Store(true)
		return nil
	}})

	if err := q.Drain(2 * time.Second); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if q.Stats().Panics != 1 {
		t.Fatalf("expected 1 panic, got %d", q.Stats().Panics)
	}
	if !executed.Load() {
		t.Fatalf("worker should survive a panicking task")
	}
}

func TestQueue_FullDoesNotBlock(t *testing.T) {
	q := New(newTestLogger(), 1, 1, time.Second)
	q.Start(context.Background())

	block := make(chan struct{})
	started := make(chan struct{})
	_ = q.Submit(Task{Name: "block", Run: func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}})
	<-started

	if err := q.Submit(Task{Name: "fill", Run: func(ctx context.Context) error { return nil }}); err != nil {
		t.Fatalf("fill buffer: %v", err)
	}
	err := q.Submit(Task{Name: "overflow", Run: func(ctx context.Context) error { return nil }})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	close(block)
	if err := q.Drain(2 * time.Second); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if q.Stats().Rejected != 1 {
		t.Fatalf("expected 1 rejected, got %d", q.Stats().Rejected)
	}
}

func TestQueue_SubmitAfterDrain(t *testing.T) {
	q := New(newTestLogger(), 1, 1, time.Second)
	q.Start(context.Background())
	if err := q.Drain(time.Second); err != nil {
		t.Fatalf("drain: %v", err)
	}
	err := q.Submit(Task{Name: "late", Run: func(ctx context.Context) error { return nil }})
	if !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if err := q.Drain(time.Second); err != nil {
		t.Fatalf("second drain should be a no-op: %v", err)
	}
}

func TestQueue_TaskTimeout(t *testing.T) {
	q := New(newTestLogger(), 1, 1, 20*time.Millisecond)
	q.Start(context.Background())

	var sawDeadline atomic.Bool
	_ = q.Submit(Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		sawDeadline.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
		return ctx.Err()
	}})

	if err := q.Drain(2 * time.Second); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if !sawDeadline.Load() {
		t.Fatalf("expected task context to hit its deadline")
	}
}
