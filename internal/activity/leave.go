package activity

import (
	"github.com/google/uuid"

	"github.com/flowforge/actrt/internal/broker"
	"github.com/flowforge/actrt/internal/domain"
	"github.com/flowforge/actrt/internal/outbound"
)

// runLeave performs run leave & outbound dispatch, per spec.md §4.5.
func (a *Activity) runLeave(content domain.Content, discarded bool) {
	if ignore, ok := content[domain.KeyIgnoreOutbound].(bool); ok && ignore {
		_ = a.b.Publish(exchangeRun, "run.leave", content, broker.PublishOptions{Persistent: true})
		return
	}
	a.doOutbound(content, discarded)
}

func (a *Activity) doOutbound(content domain.Content, discarded bool) {
	if len(a.def.Outbound) == 0 {
		_ = a.b.Publish(exchangeRun, "run.leave", content, broker.PublishOptions{Persistent: true})
		return
	}

	var discardSeq []string
	if s, ok := content[domain.KeyDiscardSequence].([]string); ok {
		discardSeq = append([]string(nil), s...)
	}

	var results []domain.OutboundResult
	switch {
	case discarded:
		for _, f := range a.def.Outbound {
			results = append(results, domain.OutboundResult{ID: f.ID, Action: domain.ActionDiscard, IsDefault: f.IsDefault, EvaluationID: uuid.New().String()})
		}
		if a.Flags.AttachedTo != "" && len(discardSeq) == 0 && len(a.def.Inbound) > 0 {
			discardSeq = []string{a.def.Inbound[0].ID}
		}
	case hasPrecomputedOutbound(content):
		results = adoptPrecomputed(content, a.def.Outbound)
	default:
		takeOne, _ := content[domain.KeyOutboundTakeOne].(bool)
		res, err := outbound.Evaluate(a.def.Outbound, content.RawMessage(), takeOne)
		if err != nil {
			// Evaluation error: an Activity error (spec.md §7), not a fatal
			// one — surface it on the event exchange and still leave, rather
			// than stranding the run mid-transition.
			activityErr := domain.NewActivityError(a.ID, err)
			a.publishEvent("activity.error", domain.Content{"error": activityErr.Error()})
			_ = a.b.Publish(exchangeRun, "run.leave", content, broker.PublishOptions{Persistent: true})
			return
		}
		results = res
	}

	for _, r := range results {
		c := domain.Content{"flowId": r.ID}
		if discardSeq != nil {
			c[domain.KeyDiscardSequence] = discardSeq
		}
		_ = a.b.Publish(exchangeRun, "run.outbound."+string(r.Action), c, broker.PublishOptions{Persistent: true})
	}
	_ = a.b.Publish(exchangeRun, "run.leave", content, broker.PublishOptions{Persistent: true})
}

func hasPrecomputedOutbound(content domain.Content) bool {
	_, ok := content[domain.KeyOutbound].([]domain.OutboundResult)
	return ok
}

func adoptPrecomputed(content domain.Content, flows []domain.SequenceFlow) []domain.OutboundResult {
	precomputed, _ := content[domain.KeyOutbound].([]domain.OutboundResult)
	byID := make(map[string]domain.OutboundResult, len(precomputed))
	for _, r := range precomputed {
		byID[r.ID] = r
	}
	out := make([]domain.OutboundResult, 0, len(flows))
	for _, f := range flows {
		if r, ok := byID[f.ID]; ok {
			out = append(out, r)
			continue
		}
		out = append(out, domain.OutboundResult{ID: f.ID, Action: domain.ActionDiscard, IsDefault: f.IsDefault, EvaluationID: uuid.New().String()})
	}
	return out
}

// resolveOutboundFromHints builds an OutboundResult set from a behaviour's
// own take-list (spec.md §4.8's execution.outbound.take), bypassing the
// condition evaluator entirely.
func (a *Activity) resolveOutboundFromHints(takeIDs []string) []domain.OutboundResult {
	take := make(map[string]bool, len(takeIDs))
	for _, id := range takeIDs {
		take[id] = true
	}
	out := make([]domain.OutboundResult, 0, len(a.def.Outbound))
	for _, f := range a.def.Outbound {
		action := domain.ActionDiscard
		if take[f.ID] {
			action = domain.ActionTake
		}
		out = append(out, domain.OutboundResult{ID: f.ID, Action: action, IsDefault: f.IsDefault, EvaluationID: uuid.New().String()})
	}
	return out
}

// shakeLocked performs a read-only dry-run traversal (spec.md §4.6).
func (a *Activity) shakeLocked(content domain.Content) error {
	seq, _ := content[domain.KeySequence].([]map[string]string)
	newSeq := make([]map[string]string, len(seq), len(seq)+1)
	copy(newSeq, seq)
	newSeq = append(newSeq, map[string]string{"id": a.ID, "type": a.Type})

	c := content.Clone()
	if c == nil {
		c = domain.Content{}
	}
	c[domain.KeySequence] = newSeq

	if a.Flags.IsEnd {
		a.publishEvent("activity.shake.end", c)
		return nil
	}
	_ = a.b.Publish(exchangeEvent, "flow.shake", c, broker.PublishOptions{Persistent: false})
	return nil
}
