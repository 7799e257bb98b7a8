package validator

import (
	"reflect"
	"testing"
)

func hasViolation(violations []Violation, kind ViolationKind) bool {
	for _, violation := range violations {
		if violation.Kind == kind {
			return true
		}
	}
	return false
}

func TestCrisisSelectionWithinBudget(t *testing.T) {
	result := ValidateCrisisSelection([]string{"security"}, []string{"audit", "insurance_claim"})
	if !result.IsValid {
		t.Fatalf("expected valid selection, got violations %v", result.Violations)
	}
	if result.TotalCost != 4 {
		t.Fatalf("expected total cost 4, got %d", result.TotalCost)
	}
	if result.RemainingPoints != 2 {
		t.Fatalf("expected 2 remaining points, got %d", result.RemainingPoints)
	}
	if result.RiskLevel != "low" {
		t.Fatalf("expected low risk, got %q", result.RiskLevel)
	}
}

func TestCrisisSelectionBudgetOverflow(t *testing.T) {
	// Two advisors at 3 points each plus three actions at 2 points each.
	result := ValidateCrisisSelection(
		[]string{"legal", "finance"},
		[]string{"press_release", "hotline", "audit"},
	)
	if result.IsValid {
		t.Fatal("expected invalid selection")
	}
	if !hasViolation(result.Violations, ViolationPointBudget) {
		t.Fatalf("expected point_budget violation, got %v", result.Violations)
	}
	if result.TotalCost != 12 {
		t.Fatalf("expected total cost 12, got %d", result.TotalCost)
	}
	if result.RemainingPoints != -6 {
		t.Fatalf("expected -6 remaining points, got %d", result.RemainingPoints)
	}
}

func TestCrisisSelectionCountCaps(t *testing.T) {
	result := ValidateCrisisSelection(
		[]string{"security", "pr", "logistics"},
		[]string{"audit", "hotline", "insurance_claim", "press_release"},
	)
	if !hasViolation(result.Violations, ViolationAdvisorLimit) {
		t.Fatalf("expected advisor_limit violation, got %v", result.Violations)
	}
	if !hasViolation(result.Violations, ViolationActionLimit) {
		t.Fatalf("expected action_limit violation, got %v", result.Violations)
	}
}

func TestCrisisSelectionLegalRequiresAudit(t *testing.T) {
	result := ValidateCrisisSelection([]string{"legal"}, nil)
	if !hasViolation(result.Violations, ViolationDependency) {
		t.Fatalf("expected dependency violation, got %v", result.Violations)
	}

	result = ValidateCrisisSelection([]string{"legal"}, []string{"audit"})
	if hasViolation(result.Violations, ViolationDependency) {
		t.Fatalf("expected audit to satisfy the legal advisor, got %v", result.Violations)
	}
}

func TestCrisisSelectionCommunicationOverlapWarningStillInvalidates(t *testing.T) {
	result := ValidateCrisisSelection(nil, []string{"press_release", "hotline"})
	if result.IsValid {
		t.Fatal("expected warning-severity violation to gate validity")
	}
	if !hasViolation(result.Violations, ViolationOverlap) {
		t.Fatalf("expected overlap violation, got %v", result.Violations)
	}
	for _, violation := range result.Violations {
		if violation.Kind == ViolationOverlap && violation.Severity != SeverityWarning {
			t.Fatalf("expected warning severity, got %q", violation.Severity)
		}
	}
	if result.RiskLevel != "medium" {
		t.Fatalf("expected medium risk for warnings only, got %q", result.RiskLevel)
	}
}

func TestCrisisSelectionPRForbidsShutdown(t *testing.T) {
	result := ValidateCrisisSelection([]string{"pr"}, []string{"shutdown"})
	if !hasViolation(result.Violations, ViolationConflict) {
		t.Fatalf("expected conflict violation, got %v", result.Violations)
	}
}

func TestCrisisSelectionRecallNeedsLogisticsUnlessNoAdvisors(t *testing.T) {
	result := ValidateCrisisSelection([]string{"security"}, []string{"recall"})
	if !hasViolation(result.Violations, ViolationDependency) {
		t.Fatalf("expected dependency violation, got %v", result.Violations)
	}

	// With no advisors at all the pairing rule does not apply.
	result = ValidateCrisisSelection(nil, []string{"recall"})
	if hasViolation(result.Violations, ViolationDependency) {
		t.Fatalf("expected no dependency violation without advisors, got %v", result.Violations)
	}
}

func TestCrisisSelectionSecondOrderCombination(t *testing.T) {
	// finance + recall + shutdown is flagged as a budget break even though the
	// cap violations aside, the combination models interaction costs.
	result := ValidateCrisisSelection([]string{"finance", "logistics"}, []string{"recall", "shutdown"})
	if !hasViolation(result.Violations, ViolationPointBudget) {
		t.Fatalf("expected combination budget violation, got %v", result.Violations)
	}
}

func TestCrisisSelectionIgnoresUnknownIDs(t *testing.T) {
	result := ValidateCrisisSelection([]string{"astrologer"}, []string{"time_travel"})
	if !result.IsValid {
		t.Fatalf("expected unknown ids to be ignored, got %v", result.Violations)
	}
	if result.TotalCost != 0 {
		t.Fatalf("expected zero cost for unknown ids, got %d", result.TotalCost)
	}
}

func TestCrisisSelectionPureFunction(t *testing.T) {
	advisors := []string{"legal", "finance"}
	actions := []string{"recall", "shutdown"}
	first := ValidateCrisisSelection(advisors, actions)
	second := ValidateCrisisSelection(advisors, actions)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical results, got %+v vs %+v", first, second)
	}
	if first.RemainingPoints+first.TotalCost != CrisisPointBudget {
		t.Fatalf("expected remaining+cost to equal the budget, got %d+%d", first.RemainingPoints, first.TotalCost)
	}
}
