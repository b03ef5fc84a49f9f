package resolver

import (
	"strings"
	"testing"

	"github.com/eimribar/stageflow/pkg/domain"
)

func stage(id string, index int, status domain.Status, deps ...string) *domain.Stage {
	return &domain.Stage{
		ID:               id,
		ProjectID:        "prj-1",
		NumberIndex:      index,
		Name:             "Stage " + id,
		BlockingPriority: domain.PriorityMedium,
		Status:           status,
		Dependencies:     deps,
	}
}

func TestDerived_NoDependenciesIsReady(t *testing.T) {
	s := stage("a", 1, domain.StatusNotStarted)
	all := Index([]*domain.Stage{s})

	if got := Derived(s, all); got != domain.DerivedReady {
		t.Fatalf("expected ready, got %s", got)
	}
}

func TestDerived_IncompleteDependencyBlocks(t *testing.T) {
	a := stage("a", 1, domain.StatusInProgress)
	b := stage("b", 2, domain.StatusNotStarted, "a")
	all := Index([]*domain.Stage{a, b})

	if got := Derived(b, all); got != domain.DerivedBlocked {
		t.Fatalf("expected blocked, got %s", got)
	}
}

func TestDerived_AllDependenciesCompletedIsReady(t *testing.T) {
	a := stage("a", 1, domain.StatusCompleted)
	b := stage("b", 2, domain.StatusCompleted)
	c := stage("c", 3, domain.StatusNotStarted, "a", "b")
	all := Index([]*domain.Stage{a, b, c})

	if got := Derived(c, all); got != domain.DerivedReady {
		t.Fatalf("expected ready, got %s", got)
	}
}

func TestDerived_ActualStatusReportedVerbatim(t *testing.T) {
	cases := []struct {
		status domain.Status
		want   domain.DerivedStatus
	}{
		{domain.StatusInProgress, domain.DerivedInProgress},
		{domain.StatusCompleted, domain.DerivedCompleted},
		{domain.StatusBlocked, domain.DerivedBlocked},
	}
	for _, tc := range cases {
		// Dependencies deliberately unmet: they must not matter here.
		dep := stage("dep", 1, domain.StatusNotStarted)
		s := stage("s", 2, tc.status, "dep")
		all := Index([]*domain.Stage{dep, s})

		if got := Derived(s, all); got != tc.want {
			t.Fatalf("status %s: expected %s, got %s", tc.status, tc.want, got)
		}
	}
}

func TestDerived_LegacyNotReadyAlias(t *testing.T) {
	s := stage("a", 1, domain.Status("not_ready"))
	all := Index([]*domain.Stage{s})

	if got := Derived(s, all); got != domain.DerivedReady {
		t.Fatalf("expected legacy not_ready to derive ready, got %s", got)
	}
}

func TestDerived_DanglingDependencyBlocks(t *testing.T) {
	s := stage("a", 1, domain.StatusNotStarted, "ghost")
	all := Index([]*domain.Stage{s})

	if got := Derived(s, all); got != domain.DerivedBlocked {
		t.Fatalf("expected blocked on dangling dependency, got %s", got)
	}
}

func TestTransitiveDependents(t *testing.T) {
	a := stage("a", 1, domain.StatusNotStarted)
	b := stage("b", 2, domain.StatusNotStarted, "a")
	c := stage("c", 3, domain.StatusNotStarted, "b")
	d := stage("d", 4, domain.StatusNotStarted, "a", "c")
	all := Index([]*domain.Stage{a, b, c, d})

	direct := TransitiveDependents("a", all, false)
	if len(direct) != 2 {
		t.Fatalf("expected 2 direct dependents, got %d", len(direct))
	}
	if direct[0].ID != "b" || direct[1].ID != "d" {
		t.Fatalf("unexpected direct dependents: %s, %s", direct[0].ID, direct[1].ID)
	}

	transitive := TransitiveDependents("a", all, true)
	if len(transitive) != 3 {
		t.Fatalf("expected 3 transitive dependents, got %d", len(transitive))
	}
}

func TestTransitiveDependents_DiamondVisitedOnce(t *testing.T) {
	a := stage("a", 1, domain.StatusNotStarted)
	b := stage("b", 2, domain.StatusNotStarted, "a")
	c := stage("c", 3, domain.StatusNotStarted, "a")
	d := stage("d", 4, domain.StatusNotStarted, "b", "c")
	all := Index([]*domain.Stage{a, b, c, d})

	transitive := TransitiveDependents("a", all, true)
	if len(transitive) != 3 {
		t.Fatalf("expected 3 dependents in diamond, got %d", len(transitive))
	}
}

func TestValidateGraph_DanglingReference(t *testing.T) {
	s := stage("a", 1, domain.StatusNotStarted, "missing")
	issues := ValidateGraph(Index([]*domain.Stage{s}))

	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(issues))
	}
	if issues[0].Severity != SeverityError {
		t.Fatalf("expected error severity, got %s", issues[0].Severity)
	}
}

func TestValidateGraph_FutureIndexWarning(t *testing.T) {
	a := stage("a", 5, domain.StatusNotStarted)
	b := stage("b", 2, domain.StatusNotStarted, "a")
	issues := ValidateGraph(Index([]*domain.Stage{a, b}))

	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d: %v", len(issues), issues)
	}
	if issues[0].Severity != SeverityWarning || issues[0].StageID != "b" {
		t.Fatalf("unexpected issue: %+v", issues[0])
	}
}

func TestValidateGraph_DetectsCycle(t *testing.T) {
	a := stage("a", 1, domain.StatusNotStarted, "c")
	b := stage("b", 2, domain.StatusNotStarted, "a")
	c := stage("c", 3, domain.StatusNotStarted, "b")
	issues := ValidateGraph(Index([]*domain.Stage{a, b, c}))

	var cycles int
	for _, is := range issues {
		if is.Severity == SeverityError {
			cycles++
		}
	}
	if cycles == 0 {
		t.Fatal("expected a cycle issue")
	}
}

func TestValidateGraph_ReportsEveryCycle(t *testing.T) {
	// Two independent cycles. The second is reachable only through nodes
	// that also sit on the first one's DFS path, so an early abort on the
	// first back edge would leave it unreported.
	a := stage("a", 1, domain.StatusNotStarted, "b")
	b := stage("b", 2, domain.StatusNotStarted, "a")
	c := stage("c", 3, domain.StatusNotStarted, "a", "d")
	d := stage("d", 4, domain.StatusNotStarted, "a", "c")
	issues := ValidateGraph(Index([]*domain.Stage{a, b, c, d}))

	var messages []string
	for _, is := range issues {
		if is.Severity == SeverityError {
			messages = append(messages, is.Message)
		}
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 cycle issues, got %d: %v", len(messages), messages)
	}
	var sawSecond bool
	for _, msg := range messages {
		if strings.Contains(msg, "c -> d -> c") || strings.Contains(msg, "d -> c -> d") {
			sawSecond = true
		}
	}
	if !sawSecond {
		t.Fatalf("second cycle not reported: %v", messages)
	}
}

func TestValidateGraph_CleanGraph(t *testing.T) {
	a := stage("a", 1, domain.StatusCompleted)
	b := stage("b", 2, domain.StatusNotStarted, "a")
	if issues := ValidateGraph(Index([]*domain.Stage{a, b})); len(issues) != 0 {
		t.Fatalf("expected no issues, got %v", issues)
	}
}
