package validator

import (
	"fmt"
	"math"
)

// Reactivation defaults. MaxParallelTasks caps assumed concurrency and
// MaxTotalDays is the recovery window ceiling.
const (
	DefaultMaxParallelTasks = 2
	DefaultMaxTotalDays     = 21.0

	// nodePhaseCount is the number of restoration phases each node has under
	// the partial-restoration model.
	nodePhaseCount = 2
)

// ReactivationNode is one infrastructure system in the fixed recovery plan.
type ReactivationNode struct {
	ID           string
	Label        string
	DurationDays float64
	Prereqs      []string
	Category     string
	BaseRisk     float64
}

// reactivationNodes is the fixed recovery plan, keyed below by node id.
var reactivationNodes = []ReactivationNode{
	{ID: "E", Label: "power_grid", DurationDays: 4, Prereqs: nil, Category: "engineering", BaseRisk: 10},
	{ID: "B", Label: "water_supply", DurationDays: 4, Prereqs: []string{"E"}, Category: "engineering", BaseRisk: 8},
	{ID: "A", Label: "hospital_network", DurationDays: 4, Prereqs: []string{"E", "B"}, Category: "medical", BaseRisk: 9},
	{ID: "C", Label: "telecom", DurationDays: 3, Prereqs: []string{"E"}, Category: "engineering", BaseRisk: 7},
	{ID: "D", Label: "transport_links", DurationDays: 5, Prereqs: []string{"E", "C"}, Category: "logistics", BaseRisk: 6},
	{ID: "F", Label: "financial_clearing", DurationDays: 2, Prereqs: []string{"C"}, Category: "it", BaseRisk: 5},
}

var reactivationNodesByID = func() map[string]ReactivationNode {
	byID := make(map[string]ReactivationNode, len(reactivationNodes))
	for _, node := range reactivationNodes {
		byID[node.ID] = node
	}
	return byID
}()

// ReactivationNodes returns the fixed recovery plan in definition order.
func ReactivationNodes() []ReactivationNode {
	nodes := make([]ReactivationNode, len(reactivationNodes))
	copy(nodes, reactivationNodes)
	return nodes
}

// SequenceEntry is one step of a proposed reactivation order. Phases below
// the node's phase count model a partial restoration; zero means full.
type SequenceEntry struct {
	NodeID string
	Phases int
}

// ReactivationConfig tunes the duration model. Zero values fall back to the
// defaults.
type ReactivationConfig struct {
	MaxParallelTasks int
	MaxTotalDays     float64
}

// ReactivationResult is the outcome of validating one reactivation sequence.
type ReactivationResult struct {
	IsValid           bool           `json:"isValid"`
	Violations        []Violation    `json:"violations"`
	TotalDuration     float64        `json:"totalDuration"`
	CriticalPathTime  float64        `json:"criticalPathTime"`
	ResourceConflicts map[string]int `json:"resourceConflicts"`
}

// ValidateReactivationSequence walks the proposed order once, checking that
// every prerequisite appears earlier in the order, accumulating the duration
// model and counting per-category resource demand.
//
// CriticalPathTime is TotalDuration divided by the parallelism cap. That is a
// deliberate simplification of critical-path scheduling: it assumes perfect
// parallelization up to the cap instead of analyzing the dependency graph's
// longest chain. Downstream scoring depends on these numbers; do not replace
// the formula with true CPM analysis.
func ValidateReactivationSequence(sequence []SequenceEntry, cfg ReactivationConfig) ReactivationResult {
	if cfg.MaxParallelTasks <= 0 {
		cfg.MaxParallelTasks = DefaultMaxParallelTasks
	}
	if cfg.MaxTotalDays <= 0 {
		cfg.MaxTotalDays = DefaultMaxTotalDays
	}

	positionByNode := make(map[string]int, len(sequence))
	for i, entry := range sequence {
		if _, seen := positionByNode[entry.NodeID]; !seen {
			positionByNode[entry.NodeID] = i
		}
	}

	var violations []Violation
	totalDuration := 0.0
	conflicts := make(map[string]int)

	for i, entry := range sequence {
		node, ok := reactivationNodesByID[entry.NodeID]
		if !ok {
			violations = append(violations, Violation{
				Kind:     ViolationUnknownNode,
				Message:  fmt.Sprintf("node %q is not part of the recovery plan", entry.NodeID),
				Severity: SeverityError,
			})
			continue
		}

		for _, prereq := range node.Prereqs {
			position, present := positionByNode[prereq]
			if !present || position >= i {
				violations = append(violations, Violation{
					Kind:     ViolationDependency,
					Message:  fmt.Sprintf("%s must be restored before %s", prereq, node.ID),
					Severity: SeverityError,
				})
			}
		}

		totalDuration += nodeDuration(node, entry.Phases)
		conflicts[node.Category]++
	}

	if totalDuration > cfg.MaxTotalDays {
		violations = append(violations, Violation{
			Kind:     ViolationScheduleCeiling,
			Message:  fmt.Sprintf("plan takes %.1f days with a ceiling of %.0f", totalDuration, cfg.MaxTotalDays),
			Severity: SeverityError,
		})
	}

	return ReactivationResult{
		IsValid:           len(violations) == 0,
		Violations:        violations,
		TotalDuration:     totalDuration,
		CriticalPathTime:  totalDuration / float64(cfg.MaxParallelTasks),
		ResourceConflicts: conflicts,
	}
}

// nodeDuration applies the phase model: a node restored through fewer than
// its phase count contributes a proportional share of its fixed cost.
func nodeDuration(node ReactivationNode, phases int) float64 {
	if phases <= 0 || phases >= nodePhaseCount {
		return node.DurationDays
	}
	return node.DurationDays * float64(phases) / float64(nodePhaseCount)
}

// ReactivationRiskScore computes a normalized 0..1 risk score from the fixed
// per-node base-risk weights. A node present in the sequence retains half its
// base risk (touched is partially mitigated); an absent node retains full
// risk. Ordering does not matter, only membership.
func ReactivationRiskScore(sequence []SequenceEntry) float64 {
	touched := make(map[string]struct{}, len(sequence))
	for _, entry := range sequence {
		touched[entry.NodeID] = struct{}{}
	}

	retained := 0.0
	total := 0.0
	for _, node := range reactivationNodes {
		total += node.BaseRisk
		if _, ok := touched[node.ID]; ok {
			retained += node.BaseRisk / 2
		} else {
			retained += node.BaseRisk
		}
	}
	return math.Round(retained/total*100) / 100
}
