package scheduler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/eimribar/stageflow/pkg/domain"
)

// CycleError reports a dependency cycle that makes topological ordering
// impossible. Path holds the stage ids along the cycle, closing on the
// first id.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// TopoSort orders stages so every dependency precedes its dependents. Ties
// are broken by number index, then id, so the order is stable. A cycle
// returns a *CycleError instead of dropping nodes.
func TopoSort(all map[string]*domain.Stage) ([]*domain.Stage, error) {
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

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int, len(all))
	order := make([]*domain.Stage, 0, len(all))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		state[id] = visiting
		path = append(path, id)

		for _, depID := range all[id].Dependencies {
			if _, ok := all[depID]; !ok {
				continue // dangling ref; graph validation reports it
			}
			switch state[depID] {
			case unvisited:
				if err := visit(depID, path); err != nil {
					return err
				}
			case visiting:
				return &CycleError{Path: closeCycle(path, depID)}
			}
		}

		state[id] = visited
		order = append(order, all[id])
		return nil
	}

	for _, id := range ids {
		if state[id] == unvisited {
			if err := visit(id, nil); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

func closeCycle(path []string, repeated string) []string {
	start := 0
	for i, id := range path {
		if id == repeated {
			start = i
			break
		}
	}
	return append(append([]string(nil), path[start:]...), repeated)
}
