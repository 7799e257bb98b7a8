package validator

import "fmt"

// Crisis-response tuning. Selections spend a shared point budget across two
// resource groups: advisors retained for the crisis cell and response actions
// executed by it.
const (
	CrisisPointBudget = 6
	MaxAdvisors       = 2
	MaxActions        = 3
)

type crisisResource struct {
	cost          int
	effectiveness float64
}

var crisisAdvisors = map[string]crisisResource{
	"legal":     {cost: 3, effectiveness: 2},
	"finance":   {cost: 3, effectiveness: 2},
	"pr":        {cost: 2, effectiveness: 1.5},
	"logistics": {cost: 2, effectiveness: 1.5},
	"security":  {cost: 1, effectiveness: 1},
}

var crisisActions = map[string]crisisResource{
	"press_release":   {cost: 2, effectiveness: 1},
	"recall":          {cost: 3, effectiveness: 2},
	"hotline":         {cost: 2, effectiveness: 1},
	"audit":           {cost: 2, effectiveness: 1.5},
	"shutdown":        {cost: 3, effectiveness: 2},
	"insurance_claim": {cost: 1, effectiveness: 0.5},
}

// CrisisResult is the outcome of validating one crisis-response selection.
type CrisisResult struct {
	IsValid         bool        `json:"isValid"`
	Violations      []Violation `json:"violations"`
	TotalCost       int         `json:"totalCost"`
	RemainingPoints int         `json:"remainingPoints"`
	Effectiveness   float64     `json:"effectiveness"`
	RiskLevel       string      `json:"riskLevel"`
}

type crisisSelection struct {
	advisors map[string]struct{}
	actions  map[string]struct{}
}

func (s crisisSelection) advisor(id string) bool {
	_, ok := s.advisors[id]
	return ok
}

func (s crisisSelection) action(id string) bool {
	_, ok := s.actions[id]
	return ok
}

// crisisRules are pairwise implication rules over set membership, evaluated in
// fixed order after the count caps and before the budget check. Every rule
// runs; violations accumulate rather than short-circuit.
var crisisRules = []struct {
	broken    func(crisisSelection) bool
	violation Violation
}{
	{
		broken: func(s crisisSelection) bool { return s.advisor("legal") && !s.action("audit") },
		violation: Violation{
			Kind:     ViolationDependency,
			Message:  "the legal advisor requires the compliance audit action",
			Severity: SeverityError,
		},
	},
	{
		broken: func(s crisisSelection) bool { return s.action("press_release") && s.action("hotline") },
		violation: Violation{
			Kind:     ViolationOverlap,
			Message:  "press release and hotline overlap as public communication channels",
			Severity: SeverityWarning,
		},
	},
	{
		broken: func(s crisisSelection) bool { return s.advisor("pr") && s.action("shutdown") },
		violation: Violation{
			Kind:     ViolationConflict,
			Message:  "the PR advisor rules out a full production shutdown",
			Severity: SeverityError,
		},
	},
	{
		broken: func(s crisisSelection) bool {
			return s.action("recall") && len(s.advisors) > 0 && !s.advisor("logistics")
		},
		violation: Violation{
			Kind:     ViolationDependency,
			Message:  "a product recall requires the logistics advisor when advisors are engaged",
			Severity: SeverityError,
		},
	},
	{
		broken: func(s crisisSelection) bool {
			return s.advisor("finance") && s.action("recall") && s.action("shutdown")
		},
		violation: Violation{
			Kind:     ViolationPointBudget,
			Message:  "finance advisor with recall and shutdown exceeds the budget once interaction costs are counted",
			Severity: SeverityError,
		},
	},
}

// ValidateCrisisSelection checks a crisis-response selection against the
// count caps, the rule table and the point budget. Unrecognized ids are
// ignored and contribute zero cost.
func ValidateCrisisSelection(advisorIDs, actionIDs []string) CrisisResult {
	var violations []Violation

	if len(advisorIDs) > MaxAdvisors {
		violations = append(violations, Violation{
			Kind:     ViolationAdvisorLimit,
			Message:  fmt.Sprintf("at most %d advisors may be retained, %d selected", MaxAdvisors, len(advisorIDs)),
			Severity: SeverityError,
		})
	}
	if len(actionIDs) > MaxActions {
		violations = append(violations, Violation{
			Kind:     ViolationActionLimit,
			Message:  fmt.Sprintf("at most %d actions may be executed, %d selected", MaxActions, len(actionIDs)),
			Severity: SeverityError,
		})
	}

	totalCost := 0
	effectiveness := 0.0
	selection := crisisSelection{
		advisors: make(map[string]struct{}),
		actions:  make(map[string]struct{}),
	}
	for _, advisorID := range advisorIDs {
		if advisor, ok := crisisAdvisors[advisorID]; ok {
			totalCost += advisor.cost
			effectiveness += advisor.effectiveness
			selection.advisors[advisorID] = struct{}{}
		}
	}
	for _, actionID := range actionIDs {
		if action, ok := crisisActions[actionID]; ok {
			totalCost += action.cost
			effectiveness += action.effectiveness
			selection.actions[actionID] = struct{}{}
		}
	}
	if effectiveness > 10 {
		effectiveness = 10
	}

	for _, rule := range crisisRules {
		if rule.broken(selection) {
			violations = append(violations, rule.violation)
		}
	}

	if totalCost > CrisisPointBudget {
		violations = append(violations, Violation{
			Kind:     ViolationPointBudget,
			Message:  fmt.Sprintf("selection costs %d points with a budget of %d", totalCost, CrisisPointBudget),
			Severity: SeverityError,
		})
	}

	return CrisisResult{
		IsValid:         len(violations) == 0,
		Violations:      violations,
		TotalCost:       totalCost,
		RemainingPoints: CrisisPointBudget - totalCost,
		Effectiveness:   effectiveness,
		RiskLevel:       riskLevel(violations),
	}
}

// riskLevel grades a selection by its worst violation severity.
func riskLevel(violations []Violation) string {
	level := "low"
	for _, violation := range violations {
		if violation.Severity == SeverityError {
			return "high"
		}
		level = "medium"
	}
	return level
}
