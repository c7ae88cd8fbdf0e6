package activity

import (
	"strings"

	"github.com/flowforge/actrt/internal/domain"
)

// brokerSafeId mirrors the teacher's id-sanitizing helpers used when
// deriving a deterministic compound id: strip characters that would be
// awkward as a routing-key segment.
func brokerSafeId(s string) string {
	return strings.ReplaceAll(s, ".", "_")
}

// compensationID returns the deterministic id spec.md §4.7 assigns to one
// compensation run, derived from this activity's id and the triggering
// sequence/association id.
func compensationID(activityID, sequenceID string) string {
	return brokerSafeId(activityID) + "_" + brokerSafeId(sequenceID)
}

// startCompensation publishes `compensation.start` and begins a normal
// run for a for-compensation activity (spec.md §4.7). compensation.end is
// published when the run reaches leave, from onRunMessage's run.leave case.
func (a *Activity) startCompensation(content domain.Content) {
	sourceID, _ := content["sourceId"].(string)
	id := compensationID(a.ID, sourceID)
	a.lastCompensationID = id
	a.publishEvent("compensation.start", domain.Content{"id": id})
	_ = a.runLocked(content, false, nil)
}
