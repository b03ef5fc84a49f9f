package resolver

import (
	"sort"

	"github.com/eimribar/stageflow/pkg/domain"
)

// Index builds an id lookup map over a stage slice.
func Index(stages []*domain.Stage) map[string]*domain.Stage {
	all := make(map[string]*domain.Stage, len(stages))
	for _, s := range stages {
		all[s.ID] = s
	}
	return all
}

// Derived computes a stage's effective status. Stages already in progress,
// completed or blocked report their stored status verbatim; a not-started
// stage is ready iff every dependency is completed. A dependency id that
// resolves to no stage counts as unmet.
func Derived(stage *domain.Stage, all map[string]*domain.Stage) domain.DerivedStatus {
	switch domain.NormalizeStatus(stage.Status) {
	case domain.StatusInProgress:
		return domain.DerivedInProgress
	case domain.StatusCompleted:
		return domain.DerivedCompleted
	case domain.StatusBlocked:
		return domain.DerivedBlocked
	}

	if len(stage.Dependencies) == 0 {
		return domain.DerivedReady
	}
	for _, depID := range stage.Dependencies {
		dep, ok := all[depID]
		if !ok || domain.NormalizeStatus(dep.Status) != domain.StatusCompleted {
			return domain.DerivedBlocked
		}
	}
	return domain.DerivedReady
}

// UnmetDependencies returns the dependencies of a stage that are not yet
// completed. Dangling ids are included: they can never be satisfied.
func UnmetDependencies(stage *domain.Stage, all map[string]*domain.Stage) []string {
	var unmet []string
	for _, depID := range stage.Dependencies {
		dep, ok := all[depID]
		if !ok || domain.NormalizeStatus(dep.Status) != domain.StatusCompleted {
			unmet = append(unmet, depID)
		}
	}
	return unmet
}

// TransitiveDependents walks reverse edges from stageID and returns every
// stage that depends on it, breadth-first with a visited set. When
// transitive is false only direct dependents are returned. The result is
// ordered by number index, then id, so callers behave deterministically.
func TransitiveDependents(stageID string, all map[string]*domain.Stage, transitive bool) []*domain.Stage {
	visited := map[string]bool{stageID: true}
	queue := []string{stageID}
	var dependents []*domain.Stage

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, s := range all {
			if visited[s.ID] || !s.DependsOn(current) {
				continue
			}
			visited[s.ID] = true
			dependents = append(dependents, s)
			if transitive {
				queue = append(queue, s.ID)
			}
		}
	}

	sort.Slice(dependents, func(i, j int) bool {
		if dependents[i].NumberIndex != dependents[j].NumberIndex {
			return dependents[i].NumberIndex < dependents[j].NumberIndex
		}
		return dependents[i].ID < dependents[j].ID
	})
	return dependents
}
