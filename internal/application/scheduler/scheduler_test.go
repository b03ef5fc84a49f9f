package scheduler

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/eimribar/stageflow/internal/application/resolver"
	"github.com/eimribar/stageflow/pkg/domain"
)

func day(n int) time.Time {
	return time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func chainStage(id string, index, duration int, deps ...string) *domain.Stage {
	return &domain.Stage{
		ID:                id,
		ProjectID:         "prj-1",
		NumberIndex:       index,
		Name:              "Stage " + id,
		Category:          "onboarding",
		BlockingPriority:  domain.PriorityMedium,
		Status:            domain.StatusNotStarted,
		EstimatedDuration: duration,
		Dependencies:      deps,
	}
}

func TestSchedule_ThreeNodeChain(t *testing.T) {
	// 1 -> 2 -> 3, duration 2 each, default buffer 1, project start day 0:
	// stage1 [0,1], stage2 [3,4], stage3 [6,7].
	s1 := chainStage("s1", 1, 2)
	s2 := chainStage("s2", 2, 2, "s1")
	s3 := chainStage("s3", 3, 2, "s2")

	sched := New(DefaultConfig(), zap.NewNop())
	out, err := sched.Schedule([]*domain.Stage{s1, s2, s3}, day(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string][2]time.Time{
		"s1": {day(0), day(1)},
		"s2": {day(3), day(4)},
		"s3": {day(6), day(7)},
	}
	for _, st := range out {
		w := want[st.ID]
		if !st.StartDate.Equal(w[0]) || !st.EndDate.Equal(w[1]) {
			t.Fatalf("%s: expected [%s, %s], got [%s, %s]",
				st.ID, w[0].Format("2006-01-02"), w[1].Format("2006-01-02"),
				st.StartDate.Format("2006-01-02"), st.EndDate.Format("2006-01-02"))
		}
	}
}

func TestSchedule_DependentsNeverOverlapDependencies(t *testing.T) {
	stages := []*domain.Stage{
		chainStage("a", 1, 3),
		chainStage("b", 2, 2, "a"),
		chainStage("c", 3, 4, "a"),
		chainStage("d", 4, 1, "b", "c"),
	}
	stages[2].IsDeliverable = true
	stages[3].BlockingPriority = domain.PriorityCritical

	sched := New(DefaultConfig(), zap.NewNop())
	out, err := sched.Schedule(stages, day(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byID := resolver.Index(out)
	for _, st := range out {
		for _, depID := range st.Dependencies {
			dep := byID[depID]
			if st.StartDate.Before(dep.EndDate.AddDate(0, 0, 1)) {
				t.Fatalf("%s starts %s, before dependency %s ends %s",
					st.ID, st.StartDate, depID, dep.EndDate)
			}
		}
	}
}

func TestSchedule_DeliverableBuffer(t *testing.T) {
	a := chainStage("a", 1, 2)
	b := chainStage("b", 2, 2, "a")
	b.IsDeliverable = true

	sched := New(DefaultConfig(), zap.NewNop())
	out, err := sched.Schedule([]*domain.Stage{a, b}, day(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byID := resolver.Index(out)
	// a ends day 1; deliverable buffer 2 -> b starts day 1+1+2 = 4.
	if !byID["b"].StartDate.Equal(day(4)) {
		t.Fatalf("expected deliverable to start on day 4, got %s", byID["b"].StartDate)
	}
}

func TestSchedule_RootPhaseOffsets(t *testing.T) {
	onboarding := chainStage("ob", 1, 1)
	strategy := chainStage("st", 2, 1)
	strategy.Category = "strategy"

	sched := New(DefaultConfig(), zap.NewNop())
	out, err := sched.Schedule([]*domain.Stage{onboarding, strategy}, day(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byID := resolver.Index(out)
	if !byID["ob"].StartDate.Equal(day(0)) {
		t.Fatalf("expected onboarding root on day 0, got %s", byID["ob"].StartDate)
	}
	if !byID["st"].StartDate.Equal(day(5)) {
		t.Fatalf("expected strategy root on day 5, got %s", byID["st"].StartDate)
	}
}

func TestSchedule_DefaultDurationHeuristic(t *testing.T) {
	internal := chainStage("int", 1, 0)
	deliverable := chainStage("del", 2, 0)
	deliverable.IsDeliverable = true
	brand := chainStage("brand", 3, 0)
	brand.IsDeliverable = true
	brand.Category = "brand"

	sched := New(DefaultConfig(), zap.NewNop())
	out, err := sched.Schedule([]*domain.Stage{internal, deliverable, brand}, day(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byID := resolver.Index(out)
	spans := map[string]int{"int": 2, "del": 5, "brand": 10}
	for id, wantDays := range spans {
		st := byID[id]
		got := int(st.EndDate.Sub(*st.StartDate).Hours()/24) + 1
		if got != wantDays {
			t.Fatalf("%s: expected %d day span, got %d", id, wantDays, got)
		}
	}
}

func TestSchedule_CycleReturnsError(t *testing.T) {
	a := chainStage("a", 1, 1, "b")
	b := chainStage("b", 2, 1, "a")

	sched := New(DefaultConfig(), zap.NewNop())
	_, err := sched.Schedule([]*domain.Stage{a, b}, day(0))

	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if len(cycleErr.Path) < 3 {
		t.Fatalf("expected cycle path, got %v", cycleErr.Path)
	}
}

func TestTopoSort_DependenciesFirst(t *testing.T) {
	a := chainStage("a", 3, 1)
	b := chainStage("b", 1, 1, "a")
	c := chainStage("c", 2, 1, "b")

	order, err := TopoSort(resolver.Index([]*domain.Stage{a, b, c}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pos := map[string]int{}
	for i, st := range order {
		pos[st.ID] = i
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Fatalf("dependencies must come first, got order %v", pos)
	}
}

func TestRecalculateDownstream(t *testing.T) {
	a := chainStage("a", 1, 2)
	b := chainStage("b", 2, 2, "a")
	c := chainStage("c", 3, 3, "b")

	start, end := day(0), day(1)
	b.StartDate, b.EndDate = ptr(day(3)), ptr(day(4))
	c.StartDate, c.EndDate = ptr(day(6)), ptr(day(8))
	a.StartDate, a.EndDate = &start, &end

	// a slips by 5 days.
	all := resolver.Index([]*domain.Stage{a, b, c})
	shifts := RecalculateDownstream("a", day(5), day(6), all)

	if len(shifts) != 2 {
		t.Fatalf("expected 2 shifts, got %d", len(shifts))
	}
	if shifts[0].StageID != "b" || !shifts[0].NewStart.Equal(day(7)) || !shifts[0].NewEnd.Equal(day(8)) {
		t.Fatalf("unexpected shift for b: %+v", shifts[0])
	}
	if shifts[0].ShiftDays != 4 {
		t.Fatalf("expected b to shift 4 days, got %d", shifts[0].ShiftDays)
	}
	if shifts[1].StageID != "c" || !shifts[1].NewStart.Equal(day(9)) || !shifts[1].NewEnd.Equal(day(11)) {
		t.Fatalf("unexpected shift for c: %+v", shifts[1])
	}
}

func TestRecalculateDownstream_DiamondVisitedOnce(t *testing.T) {
	a := chainStage("a", 1, 1)
	b := chainStage("b", 2, 1, "a")
	c := chainStage("c", 3, 1, "a")
	d := chainStage("d", 4, 1, "b", "c")

	all := resolver.Index([]*domain.Stage{a, b, c, d})
	shifts := RecalculateDownstream("a", day(0), day(0), all)

	seen := map[string]int{}
	for _, sh := range shifts {
		seen[sh.StageID]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("stage %s shifted %d times", id, n)
		}
	}
	if len(shifts) != 3 {
		t.Fatalf("expected 3 shifts, got %d", len(shifts))
	}
}

func ptr(t time.Time) *time.Time { return &t }
