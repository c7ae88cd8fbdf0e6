// Package outbound implements the Outbound Evaluator (spec.md §4.2):
// it decides, for one leave/completion event, which of an activity's
// outbound sequence flows are taken and which are discarded.
package outbound

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/flowforge/actrt/internal/domain"
)

// Callback receives the evaluator's result once every flow has an
// action, or an error if a condition threw or no flow was taken. Modeled
// as a callback (rather than a bare return) because spec.md §4.2 treats
// condition execution as a suspension point the same way the formatter
// hook is one; our condition contract happens to always resolve
// synchronously (expression evaluation is an out-of-scope external
// collaborator), so Evaluate below is the synchronous convenience and
// EvaluateAsync is the literal callback-shaped contract.
type Callback func(results []domain.OutboundResult, err error)

// Evaluate runs the full algorithm from spec.md §4.2 and returns the
// result, or an error (ActivityError-wrappable by the caller) on
// condition failure or "no conditional flow taken".
func Evaluate(flows []domain.SequenceFlow, message json.RawMessage, discardRestAtTake bool) ([]domain.OutboundResult, error) {
	var out []domain.OutboundResult
	var outErr error
	EvaluateAsync(flows, message, discardRestAtTake, func(results []domain.OutboundResult, err error) {
		out, outErr = results, err
	})
	return out, outErr
}

// EvaluateAsync is the literal callback-shaped contract spec.md §4.2
// describes.
func EvaluateAsync(flows []domain.SequenceFlow, message json.RawMessage, discardRestAtTake bool, cb Callback) {
	if len(flows) == 0 {
		cb(nil, nil)
		return
	}

	order := reorderDefaultLast(flows)

	actions := make(map[string]domain.OutboundAction, len(order))
	results := make(map[string]domain.OutboundResult, len(order))
	anyTaken := false

	for i, flow := range order {
		var action domain.OutboundAction
		var evalResult json.RawMessage

		switch {
		case flow.IsDefault:
			action = domain.ActionTake
		case flow.Condition == nil:
			action = domain.ActionTake
		default:
			truthy, err := flow.Condition.Execute(message)
			if err != nil {
				cb(nil, fmt.Errorf("evaluate condition on flow %s: %w", flow.ID, err))
				return
			}
			if truthy {
				action = domain.ActionTake
			} else {
				action = domain.ActionDiscard
			}
		}

		actions[flow.ID] = action
		results[flow.ID] = domain.OutboundResult{
			ID:           flow.ID,
			Action:       action,
			IsDefault:    flow.IsDefault,
			Result:       evalResult,
			EvaluationID: uuid.New().String(),
		}

		if action == domain.ActionTake {
			anyTaken = true
			if discardRestAtTake {
				markRemainingDiscard(order[i+1:], actions, results)
				break
			}
			if i+1 < len(order) && order[i+1].IsDefault {
				next := order[i+1]
				actions[next.ID] = domain.ActionDiscard
				results[next.ID] = domain.OutboundResult{
					ID:           next.ID,
					Action:       domain.ActionDiscard,
					IsDefault:    true,
					EvaluationID: uuid.New().String(),
				}
				markRemainingDiscard(order[i+2:], actions, results)
				break
			}
		}
	}

	if !anyTaken {
		cb(nil, domain.NewActivityError("", fmt.Errorf("%w", domain.ErrNoFlowTaken)))
		return
	}

	out := make([]domain.OutboundResult, 0, len(flows))
	for _, flow := range flows {
		r, ok := results[flow.ID]
		if !ok {
			// Flow was never reached (short-circuited before its turn);
			// treat as discarded, matching "every outbound gets exactly
			// one run.outbound.<action>" (spec.md §8).
			r = domain.OutboundResult{ID: flow.ID, Action: domain.ActionDiscard, IsDefault: flow.IsDefault, EvaluationID: uuid.New().String()}
		}
		if len(message) > 0 {
			r.Message = message
		}
		out = append(out, r)
	}
	cb(out, nil)
}

func markRemainingDiscard(rest []domain.SequenceFlow, actions map[string]domain.OutboundAction, results map[string]domain.OutboundResult) {
	for _, flow := range rest {
		if _, already := actions[flow.ID]; already {
			continue
		}
		actions[flow.ID] = domain.ActionDiscard
		results[flow.ID] = domain.OutboundResult{
			ID:           flow.ID,
			Action:       domain.ActionDiscard,
			IsDefault:    flow.IsDefault,
			EvaluationID: uuid.New().String(),
		}
	}
}

// reorderDefaultLast returns a copy of flows with the default flow (if
// any) moved to the end, per spec.md §4.2 step 1.
func reorderDefaultLast(flows []domain.SequenceFlow) []domain.SequenceFlow {
	out := make([]domain.SequenceFlow, 0, len(flows))
	var def *domain.SequenceFlow
	for i, f := range flows {
		if f.IsDefault && def == nil {
			d := flows[i]
			def = &d
			continue
		}
		out = append(out, f)
	}
	if def != nil {
		out = append(out, *def)
	}
	return out
}
