package broker

import "github.com/flowforge/actrt/internal/domain"

// MessageSnapshot is the serializable form of one queued message.
type MessageSnapshot struct {
	Exchange      string         `json:"exchange"`
	RoutingKey    string         `json:"routingKey"`
	Content       domain.Content `json:"content"`
	Persistent    bool           `json:"persistent"`
	Type          string         `json:"type,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Priority      int            `json:"priority,omitempty"`
	Redelivered   bool           `json:"redelivered"`
}

// QueueSnapshot is the serializable form of one durable queue.
type QueueSnapshot struct {
	Name       string            `json:"name"`
	AutoDelete bool              `json:"autoDelete"`
	Messages   []MessageSnapshot `json:"messages"`
}

// BindingSnapshot is one exchange->queue binding.
type BindingSnapshot struct {
	Queue   string `json:"queue"`
	Pattern string `json:"pattern"`
}

// ExchangeSnapshot is the serializable form of one exchange and its
// bindings.
type ExchangeSnapshot struct {
	Name     string            `json:"name"`
	Kind     ExchangeKind      `json:"kind"`
	Bindings []BindingSnapshot `json:"bindings"`
}

// Snapshot is the full serializable broker state (spec.md §4.1 getState).
type Snapshot struct {
	Exchanges []ExchangeSnapshot `json:"exchanges"`
	Queues    []QueueSnapshot    `json:"queues"`
}

// GetState returns a snapshot. When durableOnly is true (the spec.md
// default for activity-level getState()), only durable queues and only
// persistent messages are included; transient queues and non-persistent
// messages never survive a recover() round-trip.
func (b *Broker) GetState(durableOnly bool) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{}
	for _, ex := range b.exchanges {
		es := ExchangeSnapshot{Name: ex.name, Kind: ex.kind}
		for _, bd := range ex.bindings {
			es.Bindings = append(es.Bindings, BindingSnapshot{Queue: bd.queue, Pattern: bd.pattern})
		}
		snap.Exchanges = append(snap.Exchanges, es)
	}
	for _, q := range b.queues {
		if durableOnly && !q.durable {
			continue
		}
		qs := QueueSnapshot{Name: q.name, AutoDelete: q.autoDelete}
		for _, m := range q.messages {
			if durableOnly && !m.persistent {
				continue
			}
			qs.Messages = append(qs.Messages, MessageSnapshot{
				Exchange:      m.exchange,
				RoutingKey:    m.routingKey,
				Content:       m.content,
				Persistent:    m.persistent,
				Type:          m.typ,
				CorrelationID: m.correlationID,
				Priority:      m.priority,
				Redelivered:   m.redelivered,
			})
		}
		snap.Queues = append(snap.Queues, qs)
	}
	return snap
}

// Recover replaces the broker's topology and queue contents with snap.
// Exchanges/queues/bindings not already asserted are created; any
// consumer previously bound is implicitly cancelled (a fresh recover()
// always starts with zero consumers — the owning activity re-subscribes
// afterward, same as spec.md §4.4's recover()+resume() pairing).
func (b *Broker) Recover(snap Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, es := range snap.Exchanges {
		ex, ok := b.exchanges[es.Name]
		if !ok {
			ex = &exchange{name: es.Name, kind: es.Kind}
			b.exchanges[es.Name] = ex
		}
		ex.bindings = nil
		for _, bd := range es.Bindings {
			ex.bindings = append(ex.bindings, binding{queue: bd.Queue, pattern: bd.Pattern})
		}
	}

	for _, qs := range snap.Queues {
		q, ok := b.queues[qs.Name]
		if !ok {
			q = &queueState{name: qs.Name, durable: true, autoDelete: qs.AutoDelete, unacked: make(map[uint64]*storedMessage)}
			b.queues[qs.Name] = q
		}
		q.consumer = nil
		q.messages = nil
		q.unacked = make(map[uint64]*storedMessage)
		for _, ms := range qs.Messages {
			b.seq++
			q.messages = append(q.messages, &storedMessage{
				seq:           b.seq,
				exchange:      ms.Exchange,
				routingKey:    ms.RoutingKey,
				content:       ms.Content,
				persistent:    ms.Persistent,
				typ:           ms.Type,
				correlationID: ms.CorrelationID,
				priority:      ms.Priority,
				redelivered:   true,
			})
		}
	}
}
