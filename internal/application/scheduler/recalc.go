package scheduler

import (
	"sort"
	"time"

	"github.com/eimribar/stageflow/pkg/domain"
)

// DateShift records one dependent's date change produced by an incremental
// recalculation, for preview and audit. Old dates are nil when the stage had
// never been scheduled.
type DateShift struct {
	StageID   string     `json:"stage_id"`
	StageName string     `json:"stage_name"`
	OldStart  *time.Time `json:"old_start,omitempty"`
	OldEnd    *time.Time `json:"old_end,omitempty"`
	NewStart  time.Time  `json:"new_start"`
	NewEnd    time.Time  `json:"new_end"`
	ShiftDays int        `json:"shift_days"`
}

// RecalculateDownstream cascades a date change through direct dependents,
// recursively and visited-set guarded. Each dependent keeps its original
// duration and moves to start the day after its parent ends. Nothing is
// persisted; the caller applies the returned shifts.
func RecalculateDownstream(stageID string, newStart, newEnd time.Time, all map[string]*domain.Stage) []DateShift {
	visited := map[string]bool{stageID: true}
	var shifts []DateShift

	var walk func(parentID string, parentEnd time.Time)
	walk = func(parentID string, parentEnd time.Time) {
		for _, dep := range directDependents(parentID, all) {
			if visited[dep.ID] {
				continue
			}
			visited[dep.ID] = true

			duration := windowDays(dep)
			start := parentEnd.AddDate(0, 0, 1)
			end := start.AddDate(0, 0, duration-1)

			shift := DateShift{
				StageID:   dep.ID,
				StageName: dep.Name,
				OldStart:  dep.StartDate,
				OldEnd:    dep.EndDate,
				NewStart:  start,
				NewEnd:    end,
			}
			if dep.StartDate != nil {
				shift.ShiftDays = daysBetween(*dep.StartDate, start)
			}
			shifts = append(shifts, shift)

			walk(dep.ID, end)
		}
	}

	walk(stageID, newEnd)
	return shifts
}

func directDependents(stageID string, all map[string]*domain.Stage) []*domain.Stage {
	var deps []*domain.Stage
	for _, s := range all {
		if s.DependsOn(stageID) {
			deps = append(deps, s)
		}
	}
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].NumberIndex != deps[j].NumberIndex {
			return deps[i].NumberIndex < deps[j].NumberIndex
		}
		return deps[i].ID < deps[j].ID
	})
	return deps
}

// windowDays returns the stage's scheduled span in end-inclusive days,
// falling back to its estimate when it has never been scheduled.
func windowDays(st *domain.Stage) int {
	if st.StartDate != nil && st.EndDate != nil {
		return daysBetween(*st.StartDate, *st.EndDate) + 1
	}
	return durationDays(st)
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}
