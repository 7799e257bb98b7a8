// Package validator checks participant submissions against the fixed domain
// rules of each exercise and computes the derived metrics persisted with a
// submission. Validation never fails with an error: rules accumulate
// structured violations and the caller decides whether to block the write.
package validator

// Severity grades a violation for presentation. Warnings still invalidate a
// submission; only the downstream message styling differs.
type Severity string

const (
	// SeverityError marks a blocking rule break.
	SeverityError Severity = "error"
	// SeverityWarning marks a flagged-but-soft rule break.
	SeverityWarning Severity = "warning"
)

// ViolationKind tags the rule family a violation belongs to.
type ViolationKind string

const (
	// ViolationAdvisorLimit fires when too many advisors are selected.
	ViolationAdvisorLimit ViolationKind = "advisor_limit"
	// ViolationActionLimit fires when too many actions are selected.
	ViolationActionLimit ViolationKind = "action_limit"
	// ViolationDependency fires when a selection requires another item that
	// is missing, or when a sequence orders a node before its prerequisite.
	ViolationDependency ViolationKind = "dependency"
	// ViolationConflict fires when two selected items exclude each other.
	ViolationConflict ViolationKind = "conflict"
	// ViolationOverlap flags redundant item pairings.
	ViolationOverlap ViolationKind = "overlap"
	// ViolationPointBudget fires when the selection cost exceeds the budget,
	// including second-order combination costs the linear sum misses.
	ViolationPointBudget ViolationKind = "point_budget"
	// ViolationUnknownNode fires when a sequence names a node outside the
	// reactivation plan.
	ViolationUnknownNode ViolationKind = "unknown_node"
	// ViolationScheduleCeiling fires when a sequence overruns the recovery
	// window.
	ViolationScheduleCeiling ViolationKind = "schedule_ceiling"
)

// Violation describes one broken rule.
type Violation struct {
	Kind     ViolationKind `json:"kind"`
	Message  string        `json:"message"`
	Severity Severity      `json:"severity"`
}
