package behavior

import (
	"context"

	"github.com/flowforge/actrt/internal/domain"
)

// PassthroughBehavior completes an execution immediately with the inbound
// message echoed back as output. It is the behaviour gateways, events, and
// any other non-throwing activity use: nothing to wait for, nothing to
// resume.
type PassthroughBehavior struct{}

func (PassthroughBehavior) Execute(_ context.Context, _ string, message domain.Content) (<-chan Result, error) {
	ch := make(chan Result, 1)
	ch <- Result{Outcome: OutcomeCompleted, Output: message.Clone()}
	close(ch)
	return ch, nil
}

func (PassthroughBehavior) Resume(context.Context, string, domain.Content) error {
	return ErrNotWaiting
}

func (PassthroughBehavior) Discard(context.Context, string) error {
	return nil
}
