package domain

import "fmt"

// ActivityError wraps a failure surfaced from a behaviour or from the
// outbound evaluator. It is never thrown synchronously. A behaviour
// failure is routed through the broker as a `run.error` message, which
// emits `activity.error`; an outbound evaluator failure emits only the
// `activity.error` event, with no `run.error` message, and the run then
// leaves (spec.md §7).
type ActivityError struct {
	Source string // the activity id the error originated from
	Inner  error
}

func (e *ActivityError) Error() string {
	if e.Source == "" {
		return e.Inner.Error()
	}
	return fmt.Sprintf("activity %s: %v", e.Source, e.Inner)
}

func (e *ActivityError) Unwrap() error { return e.Inner }

// NewActivityError wraps an arbitrary error as an ActivityError attributed
// to the given activity id.
func NewActivityError(source string, inner error) *ActivityError {
	return &ActivityError{Source: source, Inner: inner}
}

// ErrNoFlowTaken is the evaluation error raised when every outbound flow
// was discarded and at least one outbound flow exists (spec.md §4.2).
var ErrNoFlowTaken = fmt.Errorf("no conditional flow taken")

// ProgrammerError indicates an invariant violation: calling run while
// running, recover while running, or resume while consuming. These are
// thrown synchronously, never routed through the broker (spec.md §6, §7).
type ProgrammerError struct {
	Op  string
	Msg string
}

func (e *ProgrammerError) Error() string { return fmt.Sprintf("%s: %s", e.Op, e.Msg) }

func NewProgrammerError(op, msg string) *ProgrammerError {
	return &ProgrammerError{Op: op, Msg: msg}
}
