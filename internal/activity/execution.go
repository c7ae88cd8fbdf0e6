package activity

import (
	"context"
	"encoding/json"

	"github.com/flowforge/actrt/internal/behavior"
	"github.com/flowforge/actrt/internal/broker"
	"github.com/flowforge/actrt/internal/domain"
)

// handleExecute hands one run.execute message to the behaviour (spec.md
// §4.4/§4.8). A durable "execute.start" marker is placed, unacked, on
// execution-q for the whole time the behaviour is in flight: that marker
// is what a stop() mid-execution leaves at the head of execution-q
// (spec.md §8 scenario S5), since Stop cancels the consumer without
// acking, and the broker's cancel-requeue path (internal/broker) puts it
// back at the head marked redelivered.
func (a *Activity) handleExecute(content domain.Content, redelivered bool) {
	_ = a.b.AssertConsumer(queueExecution, tagActivityExec, a.onExecutionMarker, broker.ConsumeOptions{Prefetch: 1})
	_ = a.b.Publish(exchangeExecution, "execute.start", content, broker.PublishOptions{Persistent: true})

	resultCh, err := a.beh.Execute(context.Background(), a.execState.ExecutionID, content)
	if err != nil {
		a.failExecution(err, content)
		return
	}

	select {
	case res := <-resultCh:
		a.finishExecution(res, content)
	default:
		a.publishEvent("activity.wait", content)
		go a.awaitExecution(resultCh, content)
	}
}

// onExecutionMarker holds the execute.start delivery unacked; it is acked
// only once the behaviour resolves (finishExecution/failExecution).
func (a *Activity) onExecutionMarker(d *broker.Delivery) {
	a.execQDelivery = d
}

func (a *Activity) awaitExecution(ch <-chan behavior.Result, content domain.Content) {
	res := <-ch
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finishExecution(res, content)
}

// finishExecution translates a terminal behaviour result into the next
// run-queue message, per spec.md §4.8's bridge rules (collapsed from the
// spec's ambiguous execute.*/execution.* routing-key switch into a typed
// behavior.Outcome — see DESIGN.md for why).
func (a *Activity) finishExecution(res behavior.Result, originalContent domain.Content) {
	if a.execQDelivery != nil {
		a.execQDelivery.Ack()
		a.execQDelivery = nil
	}

	if a.outputStore != nil && res.Output != nil {
		if out, err := json.Marshal(res.Output); err == nil {
			a.outputStore.Store(a.execState.ExecutionID, a.ID, out)
		}
	}

	effective := originalContent.Clone()
	if effective == nil {
		effective = domain.Content{}
	}
	for k, v := range res.Output {
		effective[k] = v
	}
	effective[domain.KeyExecutionID] = a.execState.ExecutionID

	switch res.Outcome {
	case behavior.OutcomeDiscarded:
		_ = a.b.Publish(exchangeRun, "run.discarded", effective, broker.PublishOptions{Persistent: true})
	case behavior.OutcomeError:
		a.failExecution(res.Err, effective)
	default: // OutcomeCompleted
		effective[domain.KeyOutput] = res.Output
		if hints, ok := effective[domain.KeyOutbound].([]string); ok {
			effective[domain.KeyOutbound] = a.resolveOutboundFromHints(hints)
			_ = a.b.Publish(exchangeRun, "run.execute.passthrough", effective, broker.PublishOptions{Persistent: true})
			return
		}
		_ = a.b.Publish(exchangeRun, "run.end", effective, broker.PublishOptions{Persistent: true})
	}
}

func (a *Activity) failExecution(err error, content domain.Content) {
	if a.execQDelivery != nil {
		a.execQDelivery.Ack()
		a.execQDelivery = nil
	}
	c := content.Clone()
	if c == nil {
		c = domain.Content{}
	}
	c["error"] = err.Error()
	a.status = domain.StatusError
	_ = a.b.Publish(exchangeRun, "run.error", c, broker.PublishOptions{Persistent: true})
	_ = a.b.Publish(exchangeRun, "run.discarded", c, broker.PublishOptions{Persistent: true})
}

// Signal delivers an external api `signal` message to the current
// execution (spec.md §6's getApi()-based signal delivery). It is the Go
// entry point equivalent of publishing on the `api` exchange with suffix
// `.<executionId>`.
func (a *Activity) Signal(content domain.Content) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != domain.StatusExecuting {
		return domain.NewProgrammerError("activity.signal", "activity is not executing")
	}
	return a.beh.Resume(context.Background(), a.execState.ExecutionID, content)
}

// DiscardExecution aborts the in-flight execution directly, distinct from
// Discard (which starts a fresh discard run when the activity is not
// currently running).
func (a *Activity) DiscardExecution() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != domain.StatusExecuting {
		return domain.NewProgrammerError("activity.discardExecution", "activity is not executing")
	}
	return a.beh.Discard(context.Background(), a.execState.ExecutionID)
}

// API is the lightweight handle spec.md §6's `getApi(msg?)` returns: the
// signal/discard/stop surface scoped to the activity's current execution.
type API struct {
	a *Activity
}

// GetAPI returns the API handle for the current execution.
func (a *Activity) GetAPI() *API { return &API{a: a} }

func (api *API) Signal(content domain.Content) error { return api.a.Signal(content) }
func (api *API) Discard() error                      { return api.a.DiscardExecution() }
func (api *API) Stop()                               { api.a.Stop() }
