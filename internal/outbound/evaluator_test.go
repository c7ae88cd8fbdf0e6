package outbound

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/flowforge/actrt/internal/domain"
)

type boolCondition bool

func (c boolCondition) Execute(json.RawMessage) (bool, error) { return bool(c), nil }

type errCondition struct{ err error }

func (c errCondition) Execute(json.RawMessage) (bool, error) { return false, c.err }

func TestEvaluate_UnconditionalFlowsAllTaken(t *testing.T) {
	flows := []domain.SequenceFlow{
		{ID: "f1"},
		{ID: "f2"},
	}
	results, err := Evaluate(flows, nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range results {
		if r.Action != domain.ActionTake {
			t.Errorf("flow %s: expected take, got %s", r.ID, r.Action)
		}
	}
}

func TestEvaluate_DefaultFlowTakenWhenNoConditionMatches(t *testing.T) {
	flows := []domain.SequenceFlow{
		{ID: "cond", Condition: boolCondition(false)},
		{ID: "def", IsDefault: true},
	}
	results, err := Evaluate(flows, nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	byID := map[string]domain.OutboundResult{}
	for _, r := range results {
		byID[r.ID] = r
	}
	if byID["cond"].Action != domain.ActionDiscard {
		t.Errorf("expected cond discarded, got %s", byID["cond"].Action)
	}
	if byID["def"].Action != domain.ActionTake {
		t.Errorf("expected default taken, got %s", byID["def"].Action)
	}
}

func TestEvaluate_DefaultFlowAutoDiscardedAfterEarlierTake(t *testing.T) {
	flows := []domain.SequenceFlow{
		{ID: "cond", Condition: boolCondition(true)},
		{ID: "def", IsDefault: true},
	}
	results, err := Evaluate(flows, nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	byID := map[string]domain.OutboundResult{}
	for _, r := range results {
		byID[r.ID] = r
	}
	if byID["cond"].Action != domain.ActionTake {
		t.Errorf("expected cond taken, got %s", byID["cond"].Action)
	}
	if byID["def"].Action != domain.ActionDiscard {
		t.Errorf("expected default auto-discarded, got %s", byID["def"].Action)
	}
}

func TestEvaluate_DiscardRestAtTakeStopsAfterFirstTake(t *testing.T) {
	flows := []domain.SequenceFlow{
		{ID: "f1", Condition: boolCondition(true)},
		{ID: "f2", Condition: boolCondition(true)},
		{ID: "f3", Condition: boolCondition(true)},
	}
	results, err := Evaluate(flows, nil, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	byID := map[string]domain.OutboundResult{}
	for _, r := range results {
		byID[r.ID] = r
	}
	if byID["f1"].Action != domain.ActionTake {
		t.Errorf("expected f1 taken, got %s", byID["f1"].Action)
	}
	if byID["f2"].Action != domain.ActionDiscard || byID["f3"].Action != domain.ActionDiscard {
		t.Errorf("expected f2/f3 discarded under discardRestAtTake, got %s/%s", byID["f2"].Action, byID["f3"].Action)
	}
}

func TestEvaluate_NoFlowTakenIsAnError(t *testing.T) {
	flows := []domain.SequenceFlow{
		{ID: "f1", Condition: boolCondition(false)},
		{ID: "f2", Condition: boolCondition(false)},
	}
	_, err := Evaluate(flows, nil, false)
	if !errors.Is(err, domain.ErrNoFlowTaken) {
		t.Fatalf("expected ErrNoFlowTaken, got %v", err)
	}
}

func TestEvaluate_ConditionErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	flows := []domain.SequenceFlow{
		{ID: "f1", Condition: errCondition{boom}},
	}
	_, err := Evaluate(flows, nil, false)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom error, got %v", err)
	}
}

func TestEvaluate_NoOutboundFlowsReturnsEmpty(t *testing.T) {
	results, err := Evaluate(nil, nil, false)
	if err != nil || results != nil {
		t.Fatalf("expected nil/nil for no outbound flows, got %v/%v", results, err)
	}
}

func TestEvaluate_ResultsPreserveOriginalOrderAndCarryMessage(t *testing.T) {
	msg := json.RawMessage(`{"x":1}`)
	flows := []domain.SequenceFlow{
		{ID: "b"},
		{ID: "a"},
	}
	results, err := Evaluate(flows, msg, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 || results[0].ID != "b" || results[1].ID != "a" {
		t.Fatalf("expected original declaration order, got %+v", results)
	}
	for _, r := range results {
		if string(r.Message) != string(msg) {
			t.Errorf("flow %s: expected message carried through, got %s", r.ID, r.Message)
		}
	}
}
