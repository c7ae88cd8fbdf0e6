package activity

import (
	"github.com/flowforge/actrt/internal/broker"
	"github.com/flowforge/actrt/internal/domain"
)

// ExternalInbound is the entry point the surrounding (out-of-scope)
// process orchestrator uses to deliver one inbound trigger to this
// activity: an upstream sequence flow's take/discard, the attached-to
// activity's enter/discard (boundary events), an association's
// take/discard/complete (compensation), or a shake propagation. The
// orchestrator is responsible for only calling this for sources that
// actually belong to this activity (attached-to id matching, etc.) —
// spec.md §4.3's filtering happens upstream of this call.
//
// sourceID identifies the distinct inbound source (a sequence flow or
// association id) used for parallel-join deduplication; it may be empty
// for sources that are never joined (attached-to boundary triggers).
func (a *Activity) ExternalInbound(sourceID, routingKey string, content domain.Content) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if routingKey == "flow.shake" {
		return a.shakeLocked(content)
	}
	if routingKey == "association.discard" {
		a.b.Purge(queueInbound)
		return nil
	}

	c := content.Clone()
	if c == nil {
		c = domain.Content{}
	}
	c["sourceId"] = sourceID
	c["routingKey"] = routingKey
	return a.b.Publish(exchangeInbound, routingKey, c, broker.PublishOptions{Persistent: true})
}

func (a *Activity) onInboundSimple(d *broker.Delivery) {
	rk, _ := d.Content["routingKey"].(string)
	switch rk {
	case "flow.take", "activity.enter", "association.take":
		d.Ack()
		_ = a.runLocked(d.Content, false, nil)
	case "flow.discard", "activity.discard":
		d.Ack()
		var seq []string
		if s, ok := d.Content[domain.KeyDiscardSequence].([]string); ok {
			seq = s
		}
		_ = a.runDiscardLocked(d.Content, seq)
	case "association.complete":
		d.Ack()
		if a.Flags.IsForCompensation {
			a.startCompensation(d.Content)
		}
	default:
		d.Ack()
	}
}

// onInboundJoin implements the parallel-join buffering protocol (spec.md
// §4.3): one message per distinct source id, dispatch once the buffer
// covers every declared inbound flow.
func (a *Activity) onInboundJoin(d *broker.Delivery) {
	sourceID, _ := d.Content["sourceId"].(string)
	rk, _ := d.Content["routingKey"].(string)

	if _, seen := a.joinBuffer[sourceID]; seen {
		// Duplicate arrival for an already-buffered source: first wins.
		d.Ack()
		return
	}
	a.joinBuffer[sourceID] = joinEntry{routingKey: rk, content: d.Content, delivery: d}
	a.joinOrder = append(a.joinOrder, sourceID)

	if len(a.joinBuffer) < len(a.def.Inbound) {
		return
	}

	entries := make([]joinEntry, 0, len(a.joinOrder))
	for _, id := range a.joinOrder {
		entries = append(entries, a.joinBuffer[id])
	}
	a.joinBuffer = make(map[string]joinEntry)
	a.joinOrder = nil

	anyTake := false
	var takeEntry joinEntry
	var discardSeq []string
	seenDiscard := map[string]bool{}
	for _, e := range entries {
		if e.routingKey == "flow.take" || e.routingKey == "activity.enter" || e.routingKey == "association.take" {
			if !anyTake {
				anyTake = true
				takeEntry = e
			}
		}
		if seq, ok := e.content[domain.KeyDiscardSequence].([]string); ok {
			for _, id := range seq {
				if !seenDiscard[id] {
					seenDiscard[id] = true
					discardSeq = append(discardSeq, id)
				}
			}
		}
	}

	for _, e := range entries {
		e.delivery.Ack()
	}

	inbound := make([]domain.Content, 0, len(entries))
	for _, e := range entries {
		inbound = append(inbound, e.content)
	}

	if anyTake {
		c := takeEntry.content.Clone()
		c[domain.KeyInbound] = inbound
		_ = a.runLocked(c, false, nil)
		return
	}

	_ = a.runDiscardLocked(domain.Content{domain.KeyInbound: inbound}, discardSeq)
}
