package resolver

import (
	"fmt"

	"github.com/eimribar/stageflow/pkg/domain"
)

// EvaluateImpact simulates the consequences of changing a stage to the
// proposed status before anything is committed.
//
// Resetting a stage that has progressed walks its transitive dependents:
// completed dependents become conflicts (the data would record a completed
// stage depending on an un-completed one), in-progress dependents become
// warnings (they will be force-blocked, losing in-flight context), and the
// rest are auto-blocked without confirmation. Completing a stage marks every
// dependent whose remaining dependencies are already satisfied for unblock.
func EvaluateImpact(stageID string, proposed domain.Status, all map[string]*domain.Stage) *domain.Impact {
	impact := &domain.Impact{}

	stage, ok := all[stageID]
	if !ok {
		return impact
	}
	current := domain.NormalizeStatus(stage.Status)

	switch domain.NormalizeStatus(proposed) {
	case domain.StatusNotStarted:
		if current != domain.StatusInProgress && current != domain.StatusCompleted {
			break
		}
		for _, dep := range TransitiveDependents(stageID, all, true) {
			switch domain.NormalizeStatus(dep.Status) {
			case domain.StatusCompleted:
				impact.Conflicts = append(impact.Conflicts, domain.ImpactEntry{
					StageID:   dep.ID,
					StageName: dep.Name,
					Status:    domain.StatusCompleted,
					Severity:  domain.SeverityHigh,
					Detail:    fmt.Sprintf("%q is already completed and depends on this stage", dep.Name),
				})
			case domain.StatusInProgress:
				impact.Warnings = append(impact.Warnings, domain.ImpactEntry{
					StageID:   dep.ID,
					StageName: dep.Name,
					Status:    domain.StatusInProgress,
					Severity:  domain.SeverityMedium,
					Detail:    fmt.Sprintf("%q is in progress and will be force-blocked", dep.Name),
				})
			default:
				impact.DirectlyAffected = append(impact.DirectlyAffected, domain.AffectedStage{
					StageID:   dep.ID,
					StageName: dep.Name,
					Action:    domain.ActionBlock,
				})
			}
		}

	case domain.StatusCompleted:
		for _, dep := range TransitiveDependents(stageID, all, true) {
			if othersCompleted(dep, stageID, all) {
				impact.DirectlyAffected = append(impact.DirectlyAffected, domain.AffectedStage{
					StageID:   dep.ID,
					StageName: dep.Name,
					Action:    domain.ActionUnblock,
				})
			}
		}
	}

	impact.RequiresConfirmation = len(impact.Conflicts) > 0 || len(impact.Warnings) > 0
	return impact
}

// othersCompleted reports whether every dependency of the stage other than
// excludeID is already completed.
func othersCompleted(stage *domain.Stage, excludeID string, all map[string]*domain.Stage) bool {
	for _, depID := range stage.Dependencies {
		if depID == excludeID {
			continue
		}
		dep, ok := all[depID]
		if !ok || domain.NormalizeStatus(dep.Status) != domain.StatusCompleted {
			return false
		}
	}
	return true
}
