package behavior

import (
	"context"
	"testing"
	"time"

	"github.com/flowforge/actrt/internal/domain"
)

func TestPassthroughBehavior_CompletesImmediately(t *testing.T) {
	var b PassthroughBehavior
	ch, err := b.Execute(context.Background(), "exec-1", domain.Content{"x": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case r := <-ch:
		if r.Outcome != OutcomeCompleted {
			t.Fatalf("expected completed, got %s", r.Outcome)
		}
		if r.Output["x"] != 1 {
			t.Errorf("expected echoed output, got %v", r.Output)
		}
	default:
		t.Fatal("expected immediate result")
	}
}

func TestPassthroughBehavior_ResumeIsNotWaiting(t *testing.T) {
	var b PassthroughBehavior
	if err := b.Resume(context.Background(), "exec-1", domain.Content{}); err != ErrNotWaiting {
		t.Fatalf("expected ErrNotWaiting, got %v", err)
	}
}

func TestWaitBehavior_ResumeDeliversSignal(t *testing.T) {
	w := NewWaitBehavior()
	ch, err := w.Execute(context.Background(), "exec-1", domain.Content{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan Result, 1)
	go func() {
		done <- <-ch
	}()

	if err := w.Resume(context.Background(), "exec-1", domain.Content{"output": 42}); err != nil {
		t.Fatalf("unexpected resume error: %v", err)
	}

	select {
	case r := <-done:
		if r.Outcome != OutcomeCompleted || r.Output["output"] != 42 {
			t.Fatalf("unexpected result: %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("resume did not deliver in time")
	}
}

func TestWaitBehavior_DiscardUnblocksWithDiscardedOutcome(t *testing.T) {
	w := NewWaitBehavior()
	ch, _ := w.Execute(context.Background(), "exec-1", domain.Content{})

	if err := w.Discard(context.Background(), "exec-1"); err != nil {
		t.Fatalf("unexpected discard error: %v", err)
	}

	select {
	case r := <-ch:
		if r.Outcome != OutcomeDiscarded {
			t.Fatalf("expected discarded outcome, got %s", r.Outcome)
		}
	case <-time.After(time.Second):
		t.Fatal("discard did not unblock execution")
	}
}

func TestWaitBehavior_ResumeUnknownExecutionReturnsErrNotWaiting(t *testing.T) {
	w := NewWaitBehavior()
	if err := w.Resume(context.Background(), "missing", domain.Content{}); err != ErrNotWaiting {
		t.Fatalf("expected ErrNotWaiting, got %v", err)
	}
}

func TestWaitBehavior_DiscardUnknownExecutionIsNoop(t *testing.T) {
	w := NewWaitBehavior()
	if err := w.Discard(context.Background(), "missing"); err != nil {
		t.Fatalf("expected nil error for unknown execution, got %v", err)
	}
}
