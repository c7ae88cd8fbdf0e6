package activity

import (
	"github.com/flowforge/actrt/internal/broker"
	"github.com/flowforge/actrt/internal/domain"
)

// State is the serializable activity snapshot shape from spec.md §6.
type State struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Name        string          `json:"name,omitempty"`
	Status      domain.Status   `json:"status,omitempty"`
	ExecutionID string          `json:"executionId,omitempty"`
	Stopped     bool            `json:"stopped"`
	Counters    domain.Counters `json:"counters"`
	Broker      broker.Snapshot `json:"broker"`
	Flags       map[string]bool `json:"flags,omitempty"`
}

// GetState returns a durable-only snapshot (spec.md §6's `getState()`).
func (a *Activity) GetState() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return State{
		ID:          a.ID,
		Type:        a.Type,
		Name:        a.Name,
		Status:      a.status,
		ExecutionID: a.execState.ExecutionID,
		Stopped:     a.stopped,
		Counters:    a.counters,
		Broker:      a.b.GetState(true),
		Flags:       truthyFlags(a.Flags),
	}
}

// Recover restores status, counters, ExecutionState, and the broker's
// queue contents from a prior GetState snapshot (spec.md §4.4's
// recover()). Refuses while running.
func (a *Activity) Recover(state State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return domain.NewProgrammerError("activity.recover", "cannot recover while running")
	}
	a.status = state.Status
	a.stopped = state.Stopped
	a.counters = state.Counters
	a.execState = domain.ExecutionState{
		ExecutionID:  state.ExecutionID,
		HasExecution: state.ExecutionID != "",
	}
	a.b.Recover(state.Broker)
	return nil
}

func truthyFlags(f domain.Flags) map[string]bool {
	out := map[string]bool{}
	if f.IsEnd {
		out["isEnd"] = true
	}
	if f.IsStart {
		out["isStart"] = true
	}
	if f.IsSubProcess {
		out["isSubProcess"] = true
	}
	if f.IsMultiInstance {
		out["isMultiInstance"] = true
	}
	if f.IsTransaction {
		out["isTransaction"] = true
	}
	if f.IsThrowing {
		out["isThrowing"] = true
	}
	if f.IsForCompensation {
		out["isForCompensation"] = true
	}
	if f.IsParallelJoin {
		out["isParallelJoin"] = true
	}
	return out
}
