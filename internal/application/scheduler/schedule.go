package scheduler

import (
	"time"

	"go.uber.org/zap"

	"github.com/eimribar/stageflow/internal/application/resolver"
	"github.com/eimribar/stageflow/pkg/domain"
)

// Default buffer days inserted between a dependency's end and a dependent's
// start, by heuristic. Deliverables need approval time; a phase change in
// sort order implies a handover.
const (
	bufferDeliverable    = 2
	bufferCategoryChange = 3
	bufferClientFacing   = 2
	bufferCritical       = 1
	bufferDefault        = 1
)

// Default working durations in days when a stage carries no estimate.
const (
	defaultDurationInternal         = 2
	defaultDurationDeliverable      = 5
	defaultDurationStrategyDelivery = 10
)

// earlyStaggerLimit bounds the per-index stagger applied to the first
// onboarding stages so they do not all land on the project start day.
const earlyStaggerLimit = 5

// Config tunes the scheduler. Phase offsets are supplied at construction so
// a workflow template change does not require an engine change.
type Config struct {
	// PhaseOffsets maps a stage category to its offset in days from the
	// project start, applied to stages without dependencies.
	PhaseOffsets map[string]int

	// DefaultPhaseOffset is used for categories missing from PhaseOffsets.
	DefaultPhaseOffset int
}

// DefaultConfig returns the offsets of the standard production workflow.
func DefaultConfig() Config {
	return Config{
		PhaseOffsets: map[string]int{
			"onboarding": 0,
			"strategy":   5,
			"brand":      15,
			"production": 30,
			"delivery":   45,
		},
		DefaultPhaseOffset: 7,
	}
}

// Scheduler computes stage dates from durations and dependency edges.
type Scheduler struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a scheduler.
func New(cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.PhaseOffsets == nil {
		cfg = DefaultConfig()
	}
	return &Scheduler{cfg: cfg, logger: logger}
}

type window struct {
	start time.Time
	end   time.Time
}

// Schedule computes start/end dates for every stage from the project start.
// The input is not mutated; clones with dates populated are returned in
// topological order. A dependency cycle returns a *CycleError.
func (s *Scheduler) Schedule(stages []*domain.Stage, projectStart time.Time) ([]*domain.Stage, error) {
	all := resolver.Index(stages)

	order, err := TopoSort(all)
	if err != nil {
		return nil, err
	}

	windows := make(map[string]window, len(order))
	scheduled := make([]*domain.Stage, 0, len(order))
	var prev *domain.Stage

	for _, st := range order {
		duration := durationDays(st)

		var start time.Time
		if len(st.Dependencies) == 0 {
			start = projectStart.AddDate(0, 0, s.phaseOffset(st))
		} else {
			latest, ok := latestDependencyEnd(st, windows)
			if !ok {
				// Every real dependency was dangling; treat as a root.
				start = projectStart.AddDate(0, 0, s.phaseOffset(st))
			} else {
				// One handoff day past the dependency's last day, then the
				// buffer gap, so dependents always satisfy start >= end+1.
				start = latest.AddDate(0, 0, 1+bufferDays(st, prev))
			}
		}

		end := start.AddDate(0, 0, duration-1)
		windows[st.ID] = window{start: start, end: end}

		cp := st.Clone()
		cp.StartDate = &start
		cp.EndDate = &end
		scheduled = append(scheduled, cp)
		prev = st
	}

	s.logger.Debug("schedule computed",
		zap.Int("stages", len(scheduled)),
		zap.Time("project_start", projectStart))

	return scheduled, nil
}

func (s *Scheduler) phaseOffset(st *domain.Stage) int {
	offset, ok := s.cfg.PhaseOffsets[st.Category]
	if !ok {
		offset = s.cfg.DefaultPhaseOffset
	}
	// Stagger the first onboarding stages so day one is not a pile-up.
	if offset == 0 && st.NumberIndex > 1 && st.NumberIndex <= earlyStaggerLimit {
		offset += st.NumberIndex - 1
	}
	return offset
}

func latestDependencyEnd(st *domain.Stage, windows map[string]window) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, depID := range st.Dependencies {
		w, ok := windows[depID]
		if !ok {
			continue
		}
		if !found || w.end.After(latest) {
			latest = w.end
			found = true
		}
	}
	return latest, found
}

// durationDays returns the stage's estimate, or the default-duration
// heuristic when none is set.
func durationDays(st *domain.Stage) int {
	if st.EstimatedDuration > 0 {
		return st.EstimatedDuration
	}
	if st.IsDeliverable {
		switch st.Category {
		case "strategy", "brand":
			return defaultDurationStrategyDelivery
		}
		return defaultDurationDeliverable
	}
	return defaultDurationInternal
}

// bufferDays picks the buffer between a stage and its latest dependency.
// The heuristics apply in order: deliverable approval time, a category
// change from the previous stage in sort order, client-facing review, then
// critical priority.
func bufferDays(st, prev *domain.Stage) int {
	switch {
	case st.IsDeliverable:
		return bufferDeliverable
	case prev != nil && prev.Category != st.Category:
		return bufferCategoryChange
	case st.ClientFacing:
		return bufferClientFacing
	case st.BlockingPriority == domain.PriorityCritical:
		return bufferCritical
	default:
		return bufferDefault
	}
}
