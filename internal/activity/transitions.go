package activity

import (
	"context"
	"strings"
	"time"

	"github.com/flowforge/actrt/internal/broker"
	"github.com/flowforge/actrt/internal/domain"
	"github.com/flowforge/actrt/internal/logging"
	"github.com/flowforge/actrt/internal/metrics"
	"github.com/flowforge/actrt/internal/observability"
)

// onRunMessage is the `_activity-run` consumer on run-q (spec.md §4.4).
// It is only ever invoked from within an already-locked call stack: the
// cascade started by Activate/Run/Discard/Resume/ExternalInbound/Next, or by the background
// goroutine that resumes after a suspended behaviour resolves.
func (a *Activity) onRunMessage(d *broker.Delivery) {
	a.stateMsg = d
	redelivered := d.Redelivered

	_, span := observability.StartSpan(context.Background(), "activity.transition",
		observability.AttrActivityID.String(a.ID),
		observability.AttrActivityType.String(a.Type),
		observability.AttrRoutingKey.String(d.RoutingKey),
	)
	defer span.End()

	ack := func() {
		if a.step {
			a.pendingAck = d
		} else {
			d.Ack()
		}
	}

	switch d.RoutingKey {
	case "run.enter":
		a.status = domain.StatusEntered
		ack()
		if !redelivered {
			a.publishEvent("activity.enter", d.Content)
		}
		a.runFormatted(d.Content, func(c domain.Content) {
			_ = a.b.Publish(exchangeRun, "run.start", c, broker.PublishOptions{Persistent: true})
		})

	case "run.discard":
		a.status = domain.StatusDiscard
		ack()
		c := d.Content.Clone()
		c[domain.KeyIsDiscarded] = true
		_ = a.b.Publish(exchangeRun, "run.discarded", c, broker.PublishOptions{Persistent: true})

	case "run.start":
		a.status = domain.StatusStarted
		ack()
		a.publishEvent("activity.start", d.Content)
		_ = a.b.Publish(exchangeRun, "run.execute", d.Content, broker.PublishOptions{Persistent: true})

	case "run.execute":
		a.status = domain.StatusExecuting
		ack()
		a.handleExecute(d.Content, redelivered)

	case "run.execute.passthrough":
		// The outbound array is already resolved (either by the Outbound
		// Evaluator via the execution-queue bridge, or by a behaviour's own
		// take-list hints); this is the handoff straight to run.end.
		if redelivered {
			return
		}
		ack()
		_ = a.b.Publish(exchangeRun, "run.end", d.Content, broker.PublishOptions{Persistent: true})

	case "run.outbound.take", "run.outbound.discard":
		ack()
		action := strings.TrimPrefix(d.RoutingKey, "run.outbound.")
		a.publishEvent("flow."+action, d.Content)

	case "run.end":
		a.status = domain.StatusEnd
		a.counters.Taken++
		ack()
		a.publishEvent("activity.end", d.Content)
		a.logRun(string(domain.StatusEnd), redelivered, "")
		metrics.RecordActivityRunFinished(a.Type, "end", time.Since(a.runStarted).Milliseconds())
		a.runLeave(d.Content, false)

	case "run.error":
		ack()
		a.publishEvent("activity.error", d.Content)
		errMsg, _ := d.Content["error"].(string)
		a.logRun(string(domain.StatusError), redelivered, errMsg)
		metrics.RecordActivityRunFinished(a.Type, "error", time.Since(a.runStarted).Milliseconds())

	case "run.discarded":
		// A failed run reaches here right after run.error, which already
		// recorded its finish in metrics.
		afterError := a.status == domain.StatusError
		a.status = domain.StatusDiscarded
		a.counters.Discarded++
		ack()
		a.publishEvent("activity.discard", d.Content)
		a.logRun(string(domain.StatusDiscarded), redelivered, "")
		if !afterError {
			metrics.RecordActivityRunFinished(a.Type, "discarded", time.Since(a.runStarted).Milliseconds())
		}
		a.runLeave(d.Content, true)

	case "run.leave":
		a.status = domain.StatusUnset
		ack()
		if a.lastCompensationID != "" {
			a.publishEvent("compensation.end", domain.Content{"id": a.lastCompensationID})
			a.lastCompensationID = ""
		}
		a.publishEvent("activity.leave", d.Content)
		_ = a.b.Publish(exchangeRun, "run.next", domain.Content{}, broker.PublishOptions{Persistent: false})

	case "run.next":
		ack()
		_ = a.b.AssertConsumer(queueInbound, tagRunOnInbound, a.inboundHandler(), broker.ConsumeOptions{Prefetch: a.inboundPrefetch()})

	case "run.resume":
		// The original state message (run.enter/start/discarded/end/leave)
		// is already redelivered ahead of this marker by the broker's own
		// FIFO + recover-requeue semantics (internal/broker), which is what
		// actually re-drives the transition; this is a no-op observation
		// point.
		ack()

	default:
		logging.Op().Warn("unrecognized run-queue routing key", "activity", a.ID, "routingKey", d.RoutingKey)
		ack()
	}
}

// logRun records one audit entry on a.runLogger, if wired, for the terminal
// transition this run just reached (spec.md §4.9).
func (a *Activity) logRun(status string, redelivered bool, errMsg string) {
	if a.runLogger == nil {
		return
	}
	a.runLogger.Log(&logging.RunLog{
		Activity:    a.Type,
		ActivityID:  a.ID,
		ExecutionID: a.execState.ExecutionID,
		Status:      status,
		DurationMs:  time.Since(a.runStarted).Milliseconds(),
		Redelivered: redelivered,
		Error:       errMsg,
	})
}

func (a *Activity) inboundHandler() broker.ConsumerFunc {
	if a.Flags.IsParallelJoin {
		return a.onInboundJoin
	}
	return a.onInboundSimple
}

func (a *Activity) inboundPrefetch() int {
	if a.Flags.IsParallelJoin {
		return 1000
	}
	return 1
}

// runFormatted runs the formatter hook (if any) then invokes next with the
// (possibly amended) content, per spec.md §4.4's "formatter hook".
func (a *Activity) runFormatted(content domain.Content, next func(domain.Content)) {
	if a.fmt == nil {
		next(content)
		return
	}
	prev := a.status
	a.status = domain.StatusFormatting
	out, err := a.fmt.Format(context.Background(), "run.enter", content)
	a.status = prev
	if err != nil {
		a.events.EmitFatal(err, content)
		return
	}
	next(out)
}
