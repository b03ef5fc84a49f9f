package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/eimribar/stageflow/pkg/domain"
)

// IssueSeverity grades a graph validation finding.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
)

// Issue is a single graph integrity finding. Issues are reported, never
// auto-fixed.
type Issue struct {
	Severity IssueSeverity `json:"severity"`
	StageID  string        `json:"stage_id"`
	Message  string        `json:"message"`
}

// ValidateGraph checks the dependency graph of a project and returns every
// integrity finding:
//
//   - dependencies referencing stages that do not exist (error)
//   - dependency cycles, found by DFS coloring (error)
//   - dependencies on a higher number index than the dependent's own, which
//     usually means the workflow template was edited out of order (warning)
func ValidateGraph(all map[string]*domain.Stage) []Issue {
	var issues []Issue

	ids := sortedIDs(all)

	for _, id := range ids {
		s := all[id]
		for _, depID := range s.Dependencies {
			dep, ok := all[depID]
			if !ok {
				issues = append(issues, Issue{
					Severity: SeverityError,
					StageID:  s.ID,
					Message:  fmt.Sprintf("dependency %s does not exist", depID),
				})
				continue
			}
			if dep.NumberIndex > s.NumberIndex {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					StageID:  s.ID,
					Message: fmt.Sprintf("depends on %q (index %d) which comes after it (index %d)",
						dep.Name, dep.NumberIndex, s.NumberIndex),
				})
			}
		}
	}

	issues = append(issues, findCycles(all, ids)...)
	return issues
}

// findCycles runs a DFS coloring pass over the graph and reports one issue
// per distinct cycle found.
func findCycles(all map[string]*domain.Stage, ids []string) []Issue {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current path
		black = 2 // fully explored
	)

	color := make(map[string]int, len(all))
	var issues []Issue

	var visit func(id string, path []string)
	visit = func(id string, path []string) {
		color[id] = gray
		path = append(path, id)

		s := all[id]
		for _, depID := range s.Dependencies {
			if _, ok := all[depID]; !ok {
				continue // dangling refs are reported separately
			}
			switch color[depID] {
			case white:
				visit(depID, path)
			case gray:
				// Back edge. Report it and keep walking; the graph may hold
				// further cycles behind this node's other dependencies.
				issues = append(issues, Issue{
					Severity: SeverityError,
					StageID:  id,
					Message:  fmt.Sprintf("dependency cycle: %s", cyclePath(path, depID)),
				})
			}
		}

		color[id] = black
	}

	for _, id := range ids {
		if color[id] == white {
			visit(id, nil)
		}
	}
	return issues
}

func cyclePath(path []string, repeated string) string {
	start := 0
	for i, id := range path {
		if id == repeated {
			start = i
			break
		}
	}
	segment := append(append([]string(nil), path[start:]...), repeated)
	return strings.Join(segment, " -> ")
}

func sortedIDs(all map[string]*domain.Stage) []string {
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := all[ids[i]], all[ids[j]]
		if a.NumberIndex != b.NumberIndex {
			return a.NumberIndex < b.NumberIndex
		}
		return a.ID < b.ID
	})
	return ids
}
