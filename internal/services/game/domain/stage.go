package domain

import "time"

// Stage identifies one step of the fixed simulation sequence.
type Stage string

const (
	// StageUnspecified represents an invalid stage value.
	StageUnspecified Stage = ""
	// StageLobby is the pre-simulation waiting room.
	StageLobby Stage = "lobby"
	// StageRouteOptimization is the first scored individual exercise.
	StageRouteOptimization Stage = "route_optimization"
	// StagePartnerSelection is the second scored individual exercise.
	StagePartnerSelection Stage = "partner_selection"
	// StageMarketSelection is the first group exercise.
	StageMarketSelection Stage = "market_selection"
	// StageBudgetAllocation is the second group exercise, played by the same
	// groups formed for market selection.
	StageBudgetAllocation Stage = "budget_allocation"
	// StageCrisisResponse is the crisis-web selection exercise.
	StageCrisisResponse Stage = "crisis_response"
	// StageReactivationSequence is the infrastructure reactivation exercise.
	// It has no auto-advance timer; a facilitator completes the run.
	StageReactivationSequence Stage = "reactivation_sequence"
	// StageCompleted is the terminal stage.
	StageCompleted Stage = "completed"
)

// stageSequence is the single source of truth for stage ordering. Advancing
// past the last element is a no-op.
var stageSequence = [...]Stage{
	StageLobby,
	StageRouteOptimization,
	StagePartnerSelection,
	StageMarketSelection,
	StageBudgetAllocation,
	StageCrisisResponse,
	StageReactivationSequence,
	StageCompleted,
}

// stageDurations holds the per-stage countdown. A zero duration means the
// stage never auto-advances.
var stageDurations = map[Stage]time.Duration{
	StageRouteOptimization:    10 * time.Minute,
	StagePartnerSelection:     10 * time.Minute,
	StageMarketSelection:      15 * time.Minute,
	StageBudgetAllocation:     15 * time.Minute,
	StageCrisisResponse:       10 * time.Minute,
	StageReactivationSequence: 0,
}

// SimulationDuration is the fixed wall-clock budget for one cohort run.
const SimulationDuration = 90 * time.Minute

// StageSequence returns the ordered stage sequence.
func StageSequence() []Stage {
	sequence := make([]Stage, len(stageSequence))
	copy(sequence, stageSequence[:])
	return sequence
}

// Valid reports whether the stage is a member of the fixed sequence.
func (s Stage) Valid() bool {
	for _, stage := range stageSequence {
		if stage == s {
			return true
		}
	}
	return false
}

// Next returns the stage that follows s in the fixed sequence. The second
// return value is false when s is terminal or not part of the sequence.
func (s Stage) Next() (Stage, bool) {
	for i, stage := range stageSequence {
		if stage != s {
			continue
		}
		if i+1 >= len(stageSequence) {
			return StageUnspecified, false
		}
		return stageSequence[i+1], true
	}
	return StageUnspecified, false
}

// Duration returns the stage countdown, or zero when the stage never
// auto-advances.
func (s Stage) Duration() time.Duration {
	return stageDurations[s]
}

// IsGroupStage reports whether the stage is played in groups.
func (s Stage) IsGroupStage() bool {
	return s == StageMarketSelection || s == StageBudgetAllocation
}

// IsTerminal reports whether the stage has no outgoing transition.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted
}
