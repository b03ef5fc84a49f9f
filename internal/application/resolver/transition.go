package resolver

import (
	"fmt"

	"github.com/eimribar/stageflow/pkg/domain"
)

// Check is the result of a transition validation. It is a plain value, not
// an error, so callers can render the reason to a user directly.
type Check struct {
	Allowed  bool     `json:"allowed"`
	Reason   string   `json:"reason,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// CanTransition validates moving a stage to newStatus.
//
// Transitioning to in_progress is disallowed while dependencies remain
// unmet. Transitioning away from completed is allowed but attaches a warning
// counting the dependents that reference the stage; the orchestrator applies
// the impact confirmation gate separately.
func CanTransition(stage *domain.Stage, newStatus domain.Status, all map[string]*domain.Stage) Check {
	check := Check{Allowed: true}
	current := domain.NormalizeStatus(stage.Status)
	target := domain.NormalizeStatus(newStatus)

	if target == domain.StatusInProgress {
		if unmet := UnmetDependencies(stage, all); len(unmet) > 0 {
			return Check{
				Allowed: false,
				Reason:  fmt.Sprintf("%d unmet dependencies must complete before this stage can start", len(unmet)),
			}
		}
	}

	if current == domain.StatusCompleted && target != domain.StatusCompleted {
		if dependents := TransitiveDependents(stage.ID, all, true); len(dependents) > 0 {
			check.Warnings = append(check.Warnings,
				fmt.Sprintf("%d dependent stage(s) are affected by un-completing %q", len(dependents), stage.Name))
		}
	}

	return check
}
