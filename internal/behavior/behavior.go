// Package behavior abstracts the work an activity actually performs once
// it reaches the executing state (spec.md §4.4's "invoke the behaviour
// and wait for it to complete, signal, or fail"), mirroring the shape of
// the teacher's Invoker contract for pluggable local/remote function
// execution.
package behavior

import (
	"context"
	"encoding/json"

	"github.com/flowforge/actrt/internal/domain"
)

// Behavior is supplied by the (external, out-of-scope) Context per
// activity instance. Implementations must be safe for concurrent use:
// Resume or Discard may be called from a different goroutine than the one
// that called Execute, since a signal can arrive on its own delivery path.
type Behavior interface {
	// Execute starts the behaviour for one execution. It must not block
	// past the point where execution is merely "in flight" — completion,
	// failure, or the need to wait for a signal is reported later via the
	// done channel, never by a long-blocking call.
	Execute(ctx context.Context, executionID string, message domain.Content) (<-chan Result, error)

	// Resume is called when a previously-waiting execution receives an
	// external signal (spec.md §4.4's resume()). Implementations that
	// never suspend may return ErrNotWaiting.
	Resume(ctx context.Context, executionID string, signal domain.Content) error

	// Discard aborts an in-flight execution; the Activity calls it from
	// DiscardExecution. Implementations that cannot be interrupted mid-flight
	// may treat this as a no-op.
	Discard(ctx context.Context, executionID string) error
}

// Outcome is the terminal disposition a Behavior reports through Result.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeError     Outcome = "error"
	OutcomeDiscarded Outcome = "discarded"
)

// Result is delivered on the channel Execute returns, exactly once per
// execution, when the behaviour reaches a terminal state.
type Result struct {
	Outcome Outcome
	Output  domain.Content
	Err     error
}

// ErrNotWaiting is returned by Resume when the named execution never
// suspended and so has nothing to resume.
var ErrNotWaiting = domain.NewProgrammerError("behavior.Resume", "execution is not waiting for a signal")

// rawMessage is a small helper so behaviours that only care about
// json-shaped payloads don't need to import encoding/json themselves.
func rawMessage(c domain.Content) json.RawMessage {
	if c == nil {
		return nil
	}
	return c.RawMessage()
}
