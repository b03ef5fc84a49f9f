package resolver

import (
	"testing"

	"github.com/eimribar/stageflow/pkg/domain"
)

func TestEvaluateImpact_ResetWithCompletedDependent(t *testing.T) {
	a := stage("a", 1, domain.StatusCompleted)
	b := stage("b", 2, domain.StatusCompleted, "a")
	all := Index([]*domain.Stage{a, b})

	impact := EvaluateImpact("a", domain.StatusNotStarted, all)

	if len(impact.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(impact.Conflicts))
	}
	if impact.Conflicts[0].Severity != domain.SeverityHigh {
		t.Fatalf("expected high severity, got %s", impact.Conflicts[0].Severity)
	}
	if !impact.RequiresConfirmation {
		t.Fatal("expected confirmation required")
	}
}

func TestEvaluateImpact_ResetWithInProgressDependent(t *testing.T) {
	a := stage("a", 1, domain.StatusCompleted)
	b := stage("b", 2, domain.StatusInProgress, "a")
	all := Index([]*domain.Stage{a, b})

	impact := EvaluateImpact("a", domain.StatusNotStarted, all)

	if len(impact.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(impact.Warnings))
	}
	if impact.Warnings[0].Severity != domain.SeverityMedium {
		t.Fatalf("expected medium severity, got %s", impact.Warnings[0].Severity)
	}
	if !impact.RequiresConfirmation {
		t.Fatal("expected confirmation required")
	}
}

func TestEvaluateImpact_ResetAutoBlocksIdleDependents(t *testing.T) {
	a := stage("a", 1, domain.StatusCompleted)
	b := stage("b", 2, domain.StatusNotStarted, "a")
	c := stage("c", 3, domain.StatusBlocked, "b")
	all := Index([]*domain.Stage{a, b, c})

	impact := EvaluateImpact("a", domain.StatusNotStarted, all)

	if impact.RequiresConfirmation {
		t.Fatal("idle dependents must not require confirmation")
	}
	if len(impact.DirectlyAffected) != 2 {
		t.Fatalf("expected 2 directly affected, got %d", len(impact.DirectlyAffected))
	}
	for _, affected := range impact.DirectlyAffected {
		if affected.Action != domain.ActionBlock {
			t.Fatalf("expected block action, got %s", affected.Action)
		}
	}
}

func TestEvaluateImpact_ResetOfNotStartedStageIsEmpty(t *testing.T) {
	a := stage("a", 1, domain.StatusNotStarted)
	b := stage("b", 2, domain.StatusNotStarted, "a")
	all := Index([]*domain.Stage{a, b})

	impact := EvaluateImpact("a", domain.StatusNotStarted, all)
	if impact.RequiresConfirmation || len(impact.DirectlyAffected) != 0 {
		t.Fatalf("expected empty impact, got %+v", impact)
	}
}

func TestEvaluateImpact_CompletionMarksUnblockable(t *testing.T) {
	a := stage("a", 1, domain.StatusInProgress)
	done := stage("done", 2, domain.StatusCompleted)
	ready := stage("ready", 3, domain.StatusBlocked, "a", "done")
	waiting := stage("waiting", 4, domain.StatusBlocked, "a", "ready")
	all := Index([]*domain.Stage{a, done, ready, waiting})

	impact := EvaluateImpact("a", domain.StatusCompleted, all)

	if impact.RequiresConfirmation {
		t.Fatal("completion must not require confirmation")
	}
	if len(impact.DirectlyAffected) != 1 {
		t.Fatalf("expected 1 unblockable dependent, got %d", len(impact.DirectlyAffected))
	}
	got := impact.DirectlyAffected[0]
	if got.StageID != "ready" || got.Action != domain.ActionUnblock {
		t.Fatalf("unexpected affected stage: %+v", got)
	}
}

func TestCanTransition_StartBlockedByUnmetDependencies(t *testing.T) {
	a := stage("a", 1, domain.StatusNotStarted)
	b := stage("b", 2, domain.StatusNotStarted, "a")
	all := Index([]*domain.Stage{a, b})

	check := CanTransition(b, domain.StatusInProgress, all)
	if check.Allowed {
		t.Fatal("expected transition to be disallowed")
	}
	if check.Reason == "" {
		t.Fatal("expected a reason for the refusal")
	}
}

func TestCanTransition_StartAllowedWhenDependenciesComplete(t *testing.T) {
	a := stage("a", 1, domain.StatusCompleted)
	b := stage("b", 2, domain.StatusNotStarted, "a")
	all := Index([]*domain.Stage{a, b})

	if check := CanTransition(b, domain.StatusInProgress, all); !check.Allowed {
		t.Fatalf("expected transition allowed, got reason %q", check.Reason)
	}
}

func TestCanTransition_UncompleteWarnsButAllows(t *testing.T) {
	a := stage("a", 1, domain.StatusCompleted)
	b := stage("b", 2, domain.StatusInProgress, "a")
	all := Index([]*domain.Stage{a, b})

	check := CanTransition(a, domain.StatusNotStarted, all)
	if !check.Allowed {
		t.Fatalf("expected transition allowed, got reason %q", check.Reason)
	}
	if len(check.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(check.Warnings))
	}
}
