// Package broker implements an in-process, topic-routed message broker
// scoped to a single activity. It supplies exchanges, durable/transient
// queues, topic subscriptions, acknowledgement, redelivery on recover,
// consumer tags, queue purge, and a serializable snapshot — the full
// topology spec.md §4.1 and §6 describe, minus any network transport:
// everything here runs synchronously inside one goroutine's call stack,
// matching the single-threaded cooperative scheduling model of spec.md §5.
package broker

import (
	"errors"
	"sync"

	"github.com/flowforge/actrt/internal/domain"
)

// ExchangeKind selects the routing algorithm an exchange uses.
type ExchangeKind string

const (
	KindTopic  ExchangeKind = "topic"
	KindDirect ExchangeKind = "direct"
)

// ErrNoRoute is returned by Publish when a mandatory message matched no
// queue.
var ErrNoRoute = errors.New("broker: mandatory message matched no queue")

// ErrUnknownExchange/ErrUnknownQueue guard against publishing or binding
// against topology that was never asserted.
var (
	ErrUnknownExchange  = errors.New("broker: unknown exchange")
	ErrUnknownQueue     = errors.New("broker: unknown queue")
	ErrConsumerExists   = errors.New("broker: exclusive consumer already bound")
	ErrUnknownConsumer  = errors.New("broker: unknown consumer tag")
)

// PublishOptions mirrors the properties the spec requires Publish to
// accept (spec.md §4.1).
type PublishOptions struct {
	Persistent    bool
	Mandatory     bool
	Type          string
	CorrelationID string
	Priority      int
}

// ConsumeOptions configures a consumer bound to one queue.
type ConsumeOptions struct {
	NoAck       bool
	ConsumerTag string
	Prefetch    int // 0 means unlimited
	Priority    int
	Exclusive   bool
}

// Delivery is handed to a consumer callback for exactly one message. The
// callback owns acknowledgement: call Ack or Nack exactly once, at any
// point during or after the callback returns (this is the "suspension
// point" spec.md §5 describes for formatter/condition hooks).
type Delivery struct {
	Exchange      string
	RoutingKey    string
	Content       domain.Content
	Redelivered   bool
	Persistent    bool
	Type          string
	CorrelationID string
	Priority      int

	broker      *Broker
	queue       string
	deliveryTag uint64
	noAck       bool
	acked       bool
	mu          sync.Mutex
}

// Ack acknowledges successful processing; idempotent after the first call.
func (d *Delivery) Ack() {
	d.mu.Lock()
	if d.acked || d.noAck {
		d.mu.Unlock()
		return
	}
	d.acked = true
	d.mu.Unlock()
	d.broker.ack(d.queue, d.deliveryTag)
}

// Nack signals failed processing. When requeue is true the message is
// returned to the head of the queue for immediate redelivery (marked
// redelivered); when false it is dropped.
func (d *Delivery) Nack(requeue bool) {
	d.mu.Lock()
	if d.acked || d.noAck {
		d.mu.Unlock()
		return
	}
	d.acked = true
	d.mu.Unlock()
	d.broker.nack(d.queue, d.deliveryTag, requeue)
}

// ConsumerFunc handles one delivered message.
type ConsumerFunc func(d *Delivery)

type binding struct {
	queue   string
	pattern string
}

type exchange struct {
	name     string
	kind     ExchangeKind
	bindings []binding
}

type storedMessage struct {
	seq           uint64
	exchange      string
	routingKey    string
	content       domain.Content
	persistent    bool
	typ           string
	correlationID string
	priority      int
	redelivered   bool
}

type consumerEntry struct {
	tag       string
	queue     string
	handler   ConsumerFunc
	noAck     bool
	prefetch  int
	exclusive bool
	cancelled bool
	unacked   int
}

type queueState struct {
	name       string
	durable    bool
	autoDelete bool
	exclusive  bool
	messages   []*storedMessage
	consumer   *consumerEntry
	unacked    map[uint64]*storedMessage
	unackedAt  map[uint64]int // position hint unused; kept simple via map only
}

// Broker is one activity's private exchange/queue topology.
type Broker struct {
	mu        sync.Mutex
	exchanges map[string]*exchange
	queues    map[string]*queueState
	consumers map[string]*consumerEntry
	seq       uint64
	onReturn  func(exchange, routingKey string, content domain.Content)
}

// New creates an empty broker with no topology asserted.
func New() *Broker {
	return &Broker{
		exchanges: make(map[string]*exchange),
		queues:    make(map[string]*queueState),
		consumers: make(map[string]*consumerEntry),
	}
}

// OnReturn registers the callback invoked when a mandatory publish finds
// no matching queue (spec.md §4.1's "mandatory causes an error event").
func (b *Broker) OnReturn(fn func(exchange, routingKey string, content domain.Content)) {
	b.mu.Lock()
	b.onReturn = fn
	b.mu.Unlock()
}

// AssertExchange idempotently declares an exchange.
func (b *Broker) AssertExchange(name string, kind ExchangeKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.exchanges[name]; ok {
		return
	}
	b.exchanges[name] = &exchange{name: name, kind: kind}
}

// AssertQueue idempotently declares a queue.
func (b *Broker) AssertQueue(name string, durable, autoDelete bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[name]; ok {
		return
	}
	b.queues[name] = &queueState{
		name:       name,
		durable:    durable,
		autoDelete: autoDelete,
		unacked:    make(map[uint64]*storedMessage),
	}
}

// BindQueue binds queue to exchange under pattern. Idempotent.
func (b *Broker) BindQueue(queue, exchangeName, pattern string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ex, ok := b.exchanges[exchangeName]
	if !ok {
		return ErrUnknownExchange
	}
	if _, ok := b.queues[queue]; !ok {
		return ErrUnknownQueue
	}
	for _, bd := range ex.bindings {
		if bd.queue == queue && bd.pattern == pattern {
			return nil
		}
	}
	ex.bindings = append(ex.bindings, binding{queue: queue, pattern: pattern})
	return nil
}

// Publish routes content to every queue bound to exchange whose pattern
// matches routingKey, then attempts immediate delivery to each queue's
// active consumer.
func (b *Broker) Publish(exchangeName, routingKey string, content domain.Content, opts PublishOptions) error {
	b.mu.Lock()
	ex, ok := b.exchanges[exchangeName]
	if !ok {
		b.mu.Unlock()
		return ErrUnknownExchange
	}

	var matched []string
	for _, bd := range ex.bindings {
		if routeMatches(ex.kind, bd.pattern, routingKey) {
			matched = append(matched, bd.queue)
		}
	}

	if len(matched) == 0 {
		cb := b.onReturn
		b.mu.Unlock()
		if opts.Mandatory {
			if cb != nil {
				cb(exchangeName, routingKey, content.Clone())
			}
			return ErrNoRoute
		}
		return nil
	}

	b.seq++
	toDispatch := make([]string, 0, len(matched))
	for _, qname := range matched {
		q, ok := b.queues[qname]
		if !ok {
			continue
		}
		msg := &storedMessage{
			seq:           b.seq,
			exchange:      exchangeName,
			routingKey:    routingKey,
			content:       content.Clone(),
			persistent:    opts.Persistent,
			typ:           opts.Type,
			correlationID: opts.CorrelationID,
			priority:      opts.Priority,
		}
		q.messages = append(q.messages, msg)
		toDispatch = append(toDispatch, qname)
	}
	b.mu.Unlock()

	for _, qname := range toDispatch {
		b.dispatch(qname)
	}
	return nil
}

func routeMatches(kind ExchangeKind, pattern, routingKey string) bool {
	if kind == KindDirect {
		return pattern == routingKey
	}
	return matchTopic(pattern, routingKey)
}

// dispatch delivers as many head messages of queue as the active
// consumer's prefetch budget allows. Safe to call with no active
// consumer (no-op) or an empty queue (no-op).
func (b *Broker) dispatch(queueName string) {
	for {
		b.mu.Lock()
		q, ok := b.queues[queueName]
		if !ok || q.consumer == nil || q.consumer.cancelled || len(q.messages) == 0 {
			b.mu.Unlock()
			return
		}
		c := q.consumer
		if c.prefetch > 0 && c.unacked >= c.prefetch {
			b.mu.Unlock()
			return
		}

		msg := q.messages[0]
		q.messages = q.messages[1:]

		d := &Delivery{
			Exchange:      msg.exchange,
			RoutingKey:    msg.routingKey,
			Content:       msg.content.Clone(),
			Redelivered:   msg.redelivered,
			Persistent:    msg.persistent,
			Type:          msg.typ,
			CorrelationID: msg.correlationID,
			Priority:      msg.priority,
			broker:        b,
			queue:         queueName,
			noAck:         c.noAck,
		}

		if c.noAck {
			b.mu.Unlock()
			c.handler(d)
			continue
		}

		d.deliveryTag = msg.seq
		q.unacked[msg.seq] = msg
		c.unacked++
		handler := c.handler
		b.mu.Unlock()
		handler(d)
	}
}

func (b *Broker) ack(queueName string, tag uint64) {
	b.mu.Lock()
	q, ok := b.queues[queueName]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(q.unacked, tag)
	if q.consumer != nil && q.consumer.unacked > 0 {
		q.consumer.unacked--
	}
	b.mu.Unlock()
	b.dispatch(queueName)
}

func (b *Broker) nack(queueName string, tag uint64, requeue bool) {
	b.mu.Lock()
	q, ok := b.queues[queueName]
	if !ok {
		b.mu.Unlock()
		return
	}
	msg, found := q.unacked[tag]
	delete(q.unacked, tag)
	if q.consumer != nil && q.consumer.unacked > 0 {
		q.consumer.unacked--
	}
	if found && requeue {
		msg.redelivered = true
		q.messages = append([]*storedMessage{msg}, q.messages...)
	}
	b.mu.Unlock()
	if requeue {
		b.dispatch(queueName)
	}
}

// AssertConsumer binds a durable consumer (participates in recover/resume
// bookkeeping the same as a transient one, but its tag is expected to be
// re-subscribed by the owning activity after recover()).
func (b *Broker) AssertConsumer(queueName, consumerTag string, handler ConsumerFunc, opts ConsumeOptions) error {
	return b.subscribe(queueName, consumerTag, handler, opts)
}

// SubscribeTmp binds a transient consumer; identical wire behaviour to
// AssertConsumer, the distinction is purely the caller's durability intent
// (spec.md §4.1).
func (b *Broker) SubscribeTmp(queueName, consumerTag string, handler ConsumerFunc, opts ConsumeOptions) error {
	return b.subscribe(queueName, consumerTag, handler, opts)
}

func (b *Broker) subscribe(queueName, consumerTag string, handler ConsumerFunc, opts ConsumeOptions) error {
	b.mu.Lock()
	q, ok := b.queues[queueName]
	if !ok {
		b.mu.Unlock()
		return ErrUnknownQueue
	}
	if q.consumer != nil && !q.consumer.cancelled {
		b.mu.Unlock()
		return ErrConsumerExists
	}
	c := &consumerEntry{
		tag:       consumerTag,
		queue:     queueName,
		handler:   handler,
		noAck:     opts.NoAck,
		prefetch:  opts.Prefetch,
		exclusive: opts.Exclusive,
	}
	q.consumer = c
	b.consumers[consumerTag] = c
	b.mu.Unlock()

	b.dispatch(queueName)
	return nil
}

// Cancel stops delivery for consumerTag. Any unacked messages on its
// queue are returned to the head of the queue marked redelivered, ready
// for a future consumer (spec.md §4.1: "does not requeue unacked" at
// cancel time means immediately — they become visible again, but only to
// the *next* consumer, exactly like AMQP basic.cancel followed by a new
// basic.consume).
func (b *Broker) Cancel(consumerTag string) error {
	b.mu.Lock()
	c, ok := b.consumers[consumerTag]
	if !ok {
		b.mu.Unlock()
		return ErrUnknownConsumer
	}
	c.cancelled = true
	q, ok := b.queues[c.queue]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	if q.consumer == c {
		q.consumer = nil
	}
	returned := requeueUnacked(q)
	autoDelete := q.autoDelete && q.consumer == nil && len(returned) == 0 && len(q.messages) == 0
	if autoDelete {
		delete(b.queues, q.name)
	}
	delete(b.consumers, consumerTag)
	b.mu.Unlock()
	return nil
}

// requeueUnacked moves every unacked message on q back to the head of the
// ready list, in ascending sequence order, marked redelivered. Caller
// must hold b.mu.
func requeueUnacked(q *queueState) []*storedMessage {
	if len(q.unacked) == 0 {
		return nil
	}
	returned := make([]*storedMessage, 0, len(q.unacked))
	for _, m := range q.unacked {
		m.redelivered = true
		returned = append(returned, m)
	}
	// stable order by original sequence number
	for i := 1; i < len(returned); i++ {
		for j := i; j > 0 && returned[j-1].seq > returned[j].seq; j-- {
			returned[j-1], returned[j] = returned[j], returned[j-1]
		}
	}
	q.messages = append(returned, q.messages...)
	q.unacked = make(map[uint64]*storedMessage)
	return returned
}

// Purge drops every ready (not yet delivered/unacked) message from queue.
func (b *Broker) Purge(queueName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queueName]; ok {
		q.messages = nil
	}
}

// ConsumerCount reports whether queue currently has an active (non
// -cancelled) consumer bound — 0 or 1, since at most one consumer per
// queue is supported (spec.md §3 invariants).
func (b *Broker) ConsumerCount(queueName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queueName]
	if !ok || q.consumer == nil || q.consumer.cancelled {
		return 0
	}
	return 1
}

// QueueLength reports the number of ready (undelivered) messages.
func (b *Broker) QueueLength(queueName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queueName]
	if !ok {
		return 0
	}
	return len(q.messages)
}

// PeekHead returns the routing key of the head message without consuming
// it, used by tests/observers that need the "current state message".
func (b *Broker) PeekHead(queueName string) (routingKey string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, exists := b.queues[queueName]
	if !exists || len(q.messages) == 0 {
		return "", false
	}
	return q.messages[0].routingKey, true
}
