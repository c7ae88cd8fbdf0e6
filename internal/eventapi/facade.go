// Package eventapi layers a small event API (on/once/waitFor/emitFatal/
// publishEvent) over the broker's "event" topic exchange, per spec.md
// §2 component 2 and §6's Event API. It never replaces the broker — it
// is a thin convenience for callers that only care about observing
// activity.* routing keys, not the run-queue mechanics.
package eventapi

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/flowforge/actrt/internal/broker"
	"github.com/flowforge/actrt/internal/domain"
)

const exchangeName = "event"

// Facade exposes on/once/waitFor/emitFatal/publishEvent over one
// activity's broker.
type Facade struct {
	b        *broker.Broker
	seq      uint64
	mu       sync.Mutex
	fatalErr func(err error, content domain.Content)
}

// New wires a Facade to b, asserting the event exchange it publishes to
// and listens on.
func New(b *broker.Broker) *Facade {
	b.AssertExchange(exchangeName, broker.KindTopic)
	return &Facade{b: b}
}

// OnFatal registers the sink invoked by EmitFatal when the "error" routing
// key was published mandatory and matched no listener (spec.md §7: "an
// error event is mandatory; if no consumer is bound, the broker must
// surface it as an unhandled error to the caller's error channel").
func (f *Facade) OnFatal(fn func(err error, content domain.Content)) {
	f.mu.Lock()
	f.fatalErr = fn
	f.mu.Unlock()
	f.b.OnReturn(func(exchange, routingKey string, content domain.Content) {
		if exchange != exchangeName || routingKey != "error" {
			return
		}
		f.mu.Lock()
		sink := f.fatalErr
		f.mu.Unlock()
		if sink != nil {
			sink(fmt.Errorf("%v", content["error"]), content)
		}
	})
}

// PublishEvent publishes content under routingKey on the event exchange.
// Transient by convention (event-exchange messages are observational, not
// part of the durable run-queue state).
func (f *Facade) PublishEvent(routingKey string, content domain.Content) error {
	return f.b.Publish(exchangeName, routingKey, content, broker.PublishOptions{})
}

// EmitFatal publishes a mandatory "error" event; if nothing is listening,
// it is routed to the OnFatal sink instead of being silently dropped.
func (f *Facade) EmitFatal(err error, content domain.Content) {
	c := content.Clone()
	if c == nil {
		c = domain.Content{}
	}
	c["error"] = err.Error()
	_ = f.b.Publish(exchangeName, "error", c, broker.PublishOptions{Mandatory: true})
}

func (f *Facade) nextTag(prefix string) string {
	n := atomic.AddUint64(&f.seq, 1)
	return fmt.Sprintf("_eventapi-%s-%d", prefix, n)
}

// On subscribes handler to every event whose routing key matches pattern
// (topic wildcards `*`/`#` apply). Returns a cancel func that stops
// delivery; safe to call multiple times.
func (f *Facade) On(pattern string, handler func(routingKey string, content domain.Content)) (cancel func()) {
	tag := f.nextTag("on")
	queue := tag + "-q"
	f.b.AssertQueue(queue, false, true)
	f.b.BindQueue(queue, exchangeName, pattern)
	f.b.SubscribeTmp(queue, tag, func(d *broker.Delivery) {
		handler(d.RoutingKey, d.Content)
	}, broker.ConsumeOptions{NoAck: true, ConsumerTag: tag})
	return func() { _ = f.b.Cancel(tag) }
}

// Once behaves like On but stops itself after the first delivery.
func (f *Facade) Once(pattern string, handler func(routingKey string, content domain.Content)) {
	var cancelRef atomic.Value // holds func()
	cancelRef.Store(func() {})
	cancel := f.On(pattern, func(routingKey string, content domain.Content) {
		cancelRef.Load().(func())()
		handler(routingKey, content)
	})
	cancelRef.Store(cancel)
}

// WaitFor blocks until an event matching pattern (and, if filter is
// non-nil, satisfying filter) is published, or ctx is done. This is the
// synchronous convenience the spec's single-threaded model achieves via
// a suspended callback chain; here it is a real goroutine-blocking wait
// since Go has true concurrency.
func (f *Facade) WaitFor(ctx context.Context, pattern string, filter func(content domain.Content) bool) (domain.Content, error) {
	ch := make(chan domain.Content, 1)
	var cancel func()
	cancel = f.On(pattern, func(_ string, content domain.Content) {
		if filter != nil && !filter(content) {
			return
		}
		select {
		case ch <- content:
		default:
		}
		cancel()
	})
	defer cancel()

	select {
	case c := <-ch:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
