package broker

import (
	"testing"

	"github.com/flowforge/actrt/internal/domain"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern, key string
		want         bool
	}{
		{"run.enter", "run.enter", true},
		{"run.*", "run.enter", true},
		{"run.*", "run.enter.extra", false},
		{"run.#", "run.enter.extra", true},
		{"#", "anything.at.all", true},
		{"run.#", "run", true},
		{"event.activity.*", "event.activity.end", true},
		{"event.activity.*", "event.association.end", false},
	}
	for _, tt := range tests {
		if got := matchTopic(tt.pattern, tt.key); got != tt.want {
			t.Errorf("matchTopic(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
		}
	}
}

func TestPublishSubscribeBasic(t *testing.T) {
	b := New()
	b.AssertExchange("run", KindTopic)
	b.AssertQueue("run-q", true, false)
	b.BindQueue("run-q", "run", "run.#")

	var received []string
	b.AssertConsumer("run-q", "_activity-run", func(d *Delivery) {
		received = append(received, d.RoutingKey)
		d.Ack()
	}, ConsumeOptions{Prefetch: 1})

	b.Publish("run", "run.enter", domain.Content{"x": 1}, PublishOptions{Persistent: true})
	b.Publish("run", "run.start", domain.Content{"x": 2}, PublishOptions{Persistent: true})

	if len(received) != 2 || received[0] != "run.enter" || received[1] != "run.start" {
		t.Fatalf("unexpected delivery order: %v", received)
	}
}

func TestPrefetchBlocksUntilAck(t *testing.T) {
	b := New()
	b.AssertExchange("run", KindTopic)
	b.AssertQueue("run-q", true, false)
	b.BindQueue("run-q", "run", "run.#")

	var pending *Delivery
	count := 0
	b.AssertConsumer("run-q", "c1", func(d *Delivery) {
		count++
		pending = d
	}, ConsumeOptions{Prefetch: 1})

	b.Publish("run", "run.enter", domain.Content{}, PublishOptions{})
	b.Publish("run", "run.start", domain.Content{}, PublishOptions{})

	if count != 1 {
		t.Fatalf("expected only 1 delivery before ack, got %d", count)
	}
	pending.Ack()
	if count != 2 {
		t.Fatalf("expected second delivery after ack, got %d", count)
	}
}

func TestCancelRequeuesUnackedWithRedelivered(t *testing.T) {
	b := New()
	b.AssertExchange("run", KindTopic)
	b.AssertQueue("run-q", true, false)
	b.BindQueue("run-q", "run", "run.#")

	b.AssertConsumer("run-q", "c1", func(d *Delivery) {
		// never ack, simulating a crash mid-processing
	}, ConsumeOptions{Prefetch: 1})

	b.Publish("run", "run.enter", domain.Content{}, PublishOptions{Persistent: true})
	b.Cancel("c1")

	rk, ok := b.PeekHead("run-q")
	if !ok || rk != "run.enter" {
		t.Fatalf("expected requeued message at head, got %q ok=%v", rk, ok)
	}

	var redelivered bool
	b.AssertConsumer("run-q", "c2", func(d *Delivery) {
		redelivered = d.Redelivered
		d.Ack()
	}, ConsumeOptions{Prefetch: 1})
	if !redelivered {
		t.Error("expected redelivered=true after cancel requeue")
	}
}

func TestMandatoryNoRouteSurfacesError(t *testing.T) {
	b := New()
	b.AssertExchange("event", KindTopic)

	var gotExchange, gotKey string
	b.OnReturn(func(exchange, routingKey string, content domain.Content) {
		gotExchange, gotKey = exchange, routingKey
	})

	err := b.Publish("event", "activity.error", domain.Content{}, PublishOptions{Mandatory: true})
	if err != ErrNoRoute {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
	if gotExchange != "event" || gotKey != "activity.error" {
		t.Errorf("onReturn not invoked with expected args: %q %q", gotExchange, gotKey)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	b := New()
	b.AssertExchange("run", KindTopic)
	b.AssertQueue("run-q", true, false)
	b.BindQueue("run-q", "run", "run.#")
	b.Publish("run", "run.enter", domain.Content{"a": "b"}, PublishOptions{Persistent: true})
	b.Publish("run", "run.transient", domain.Content{}, PublishOptions{Persistent: false})

	snap := b.GetState(true)

	fresh := New()
	fresh.AssertExchange("run", KindTopic)
	fresh.AssertQueue("run-q", true, false)
	fresh.Recover(snap)

	if fresh.QueueLength("run-q") != 1 {
		t.Fatalf("expected only the persistent message to survive recover, got %d", fresh.QueueLength("run-q"))
	}
	rk, _ := fresh.PeekHead("run-q")
	if rk != "run.enter" {
		t.Errorf("expected run.enter at head, got %q", rk)
	}
}

func TestExclusiveConsumerRejectsSecond(t *testing.T) {
	b := New()
	b.AssertExchange("run", KindTopic)
	b.AssertQueue("run-q", true, false)
	b.BindQueue("run-q", "run", "run.#")

	if err := b.AssertConsumer("run-q", "c1", func(d *Delivery) { d.Ack() }, ConsumeOptions{Exclusive: true}); err != nil {
		t.Fatalf("first consumer should succeed: %v", err)
	}
	if err := b.AssertConsumer("run-q", "c2", func(d *Delivery) { d.Ack() }, ConsumeOptions{}); err != ErrConsumerExists {
		t.Fatalf("expected ErrConsumerExists, got %v", err)
	}
}

func TestDirectExchangeExactMatch(t *testing.T) {
	b := New()
	b.AssertExchange("api", KindDirect)
	b.AssertQueue("api-q", false, true)
	b.BindQueue("api-q", "api", "signal")

	var got int
	b.AssertConsumer("api-q", "c1", func(d *Delivery) { got++; d.Ack() }, ConsumeOptions{})

	b.Publish("api", "signal", domain.Content{}, PublishOptions{})
	b.Publish("api", "other", domain.Content{}, PublishOptions{})

	if got != 1 {
		t.Fatalf("direct exchange should only match exact routing key, got %d deliveries", got)
	}
}
