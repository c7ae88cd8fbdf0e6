package behavior

import (
	"context"
	"sync"

	"github.com/flowforge/actrt/internal/domain"
)

// WaitBehavior suspends an execution until an external signal (an
// `api`/`signal` message, e.g. a user task completion or a received
// message) arrives via Resume, or until it is Discard-ed (the Activity's
// DiscardExecution) (spec.md §8's S1/S5/S7 scenarios).
type WaitBehavior struct {
	mu      sync.Mutex
	pending map[string]chan Result
}

// NewWaitBehavior returns a ready-to-use WaitBehavior.
func NewWaitBehavior() *WaitBehavior {
	return &WaitBehavior{pending: make(map[string]chan Result)}
}

func (w *WaitBehavior) Execute(_ context.Context, executionID string, _ domain.Content) (<-chan Result, error) {
	ch := make(chan Result, 1)
	w.mu.Lock()
	w.pending[executionID] = ch
	w.mu.Unlock()
	return ch, nil
}

func (w *WaitBehavior) Resume(_ context.Context, executionID string, signal domain.Content) error {
	w.mu.Lock()
	ch, ok := w.pending[executionID]
	if ok {
		delete(w.pending, executionID)
	}
	w.mu.Unlock()
	if !ok {
		return ErrNotWaiting
	}
	ch <- Result{Outcome: OutcomeCompleted, Output: signal.Clone()}
	close(ch)
	return nil
}

func (w *WaitBehavior) Discard(_ context.Context, executionID string) error {
	w.mu.Lock()
	ch, ok := w.pending[executionID]
	if ok {
		delete(w.pending, executionID)
	}
	w.mu.Unlock()
	if !ok {
		return nil
	}
	ch <- Result{Outcome: OutcomeDiscarded}
	close(ch)
	return nil
}
