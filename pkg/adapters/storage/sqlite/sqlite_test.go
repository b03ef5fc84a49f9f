package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/eimribar/stageflow/pkg/domain"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "stageflow.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedStage(id string, index int, deps ...string) *domain.Stage {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.Stage{
		ID:               id,
		ProjectID:        "prj-1",
		NumberIndex:      index,
		Name:             "Stage " + id,
		Category:         "onboarding",
		BlockingPriority: domain.PriorityMedium,
		Dependencies:     deps,
		Status:           domain.StatusNotStarted,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestBulkCreateAndGet(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	stage := seedStage("a", 1)
	stage.IsDeliverable = true
	stage.ClientFacing = true
	stage.AssignedTo = "alice"
	stage.EstimatedDuration = 5

	if err := store.BulkCreate(ctx, []*domain.Stage{stage, seedStage("b", 2, "a")}); err != nil {
		t.Fatalf("bulk create: %v", err)
	}

	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Stage a" || !got.IsDeliverable || !got.ClientFacing {
		t.Fatalf("unexpected stage: %+v", got)
	}
	if got.AssignedTo != "alice" || got.EstimatedDuration != 5 {
		t.Fatalf("unexpected stage: %+v", got)
	}

	b, err := store.Get(ctx, "b")
	if err != nil {
		t.Fatalf("get b: %v", err)
	}
	if len(b.Dependencies) != 1 || b.Dependencies[0] != "a" {
		t.Fatalf("dependencies lost in round trip: %v", b.Dependencies)
	}
}

func TestGet_NotFound(t *testing.T) {
	store := newStore(t)
	if _, err := store.Get(context.Background(), "ghost"); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestList_OrderedByIndex(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if err := store.BulkCreate(ctx, []*domain.Stage{
		seedStage("c", 3),
		seedStage("a", 1),
		seedStage("b", 2),
	}); err != nil {
		t.Fatalf("bulk create: %v", err)
	}

	stages, err := store.List(ctx, "prj-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stages) != 3 {
		t.Fatalf("expected 3 stages, got %d", len(stages))
	}
	for i, want := range []string{"a", "b", "c"} {
		if stages[i].ID != want {
			t.Fatalf("position %d: want %s, got %s", i, want, stages[i].ID)
		}
	}

	other, err := store.List(ctx, "prj-2")
	if err != nil {
		t.Fatalf("list other project: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected no stages for other project, got %d", len(other))
	}
}

func TestUpdate_PartialFields(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if err := store.BulkCreate(ctx, []*domain.Stage{seedStage("a", 1)}); err != nil {
		t.Fatalf("bulk create: %v", err)
	}

	status := domain.StatusInProgress
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := store.Update(ctx, "a", domain.StageUpdate{Status: &status, StartDate: &start}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusInProgress {
		t.Fatalf("status not updated: %s", got.Status)
	}
	if got.StartDate == nil || !got.StartDate.Equal(start) {
		t.Fatalf("start date not updated: %v", got.StartDate)
	}
	if got.Name != "Stage a" {
		t.Fatalf("unrelated field changed: %q", got.Name)
	}

	if err := store.Update(ctx, "a", domain.StageUpdate{ClearStartDate: true}); err != nil {
		t.Fatalf("clear start date: %v", err)
	}
	got, err = store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.StartDate != nil {
		t.Fatalf("start date should be cleared, got %v", got.StartDate)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	store := newStore(t)
	status := domain.StatusBlocked
	err := store.Update(context.Background(), "ghost", domain.StageUpdate{Status: &status})
	if err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuditHistory(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i, text := range []string{"Started by alice", "Completed by alice"} {
		entry := &domain.AuditEntry{
			ID:        string(rune('a' + i)),
			StageID:   "s1",
			ProjectID: "prj-1",
			Text:      text,
			Actor:     "alice",
			CreatedAt: time.Date(2026, 3, 1, 10, i, 0, 0, time.UTC),
		}
		if err := store.Create(ctx, entry); err != nil {
			t.Fatalf("create entry: %v", err)
		}
	}

	entries, err := store.History(ctx, "s1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Text != "Started by alice" || entries[1].Text != "Completed by alice" {
		t.Fatalf("unexpected order: %+v", entries)
	}
}

func TestProjectProgressUpsert(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if progress, err := store.Progress(ctx, "prj-1"); err != nil || progress != 0 {
		t.Fatalf("missing project should report 0, got %d (%v)", progress, err)
	}

	now := time.Now().UTC()
	if err := store.UpdateProgress(ctx, "prj-1", 40, now); err != nil {
		t.Fatalf("update progress: %v", err)
	}
	if err := store.UpdateProgress(ctx, "prj-1", 80, now.Add(time.Minute)); err != nil {
		t.Fatalf("update progress again: %v", err)
	}

	progress, err := store.Progress(ctx, "prj-1")
	if err != nil {
		t.Fatalf("read progress: %v", err)
	}
	if progress != 80 {
		t.Fatalf("expected 80, got %d", progress)
	}
}
