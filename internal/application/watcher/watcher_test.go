package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/eimribar/stageflow/internal/application/orchestrator"
	"github.com/eimribar/stageflow/internal/application/scheduler"
	eventsmem "github.com/eimribar/stageflow/pkg/adapters/events/memory"
	storagemem "github.com/eimribar/stageflow/pkg/adapters/storage/memory"
	"github.com/eimribar/stageflow/pkg/domain"
	"github.com/eimribar/stageflow/pkg/ports"
)

type countingMetrics struct {
	ports.NopMetrics
	mu          sync.Mutex
	corrections int
}

func (m *countingMetrics) RecordWatcherCorrection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrections++
}

func (m *countingMetrics) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.corrections
}

type harness struct {
	watcher *Watcher
	stages  *storagemem.StageStore
	audit   *storagemem.AuditStore
	bus     *eventsmem.EventBus
	metrics *countingMetrics
}

func newHarness(t *testing.T, stages ...*domain.Stage) *harness {
	t.Helper()

	stageStore := storagemem.NewStageStore()
	if len(stages) > 0 {
		if err := stageStore.BulkCreate(context.Background(), stages); err != nil {
			t.Fatalf("bulk create: %v", err)
		}
	}
	bus := eventsmem.NewEventBus()
	auditStore := storagemem.NewAuditStore()
	metrics := &countingMetrics{}

	engine := orchestrator.New(
		stageStore,
		auditStore,
		storagemem.NewProjectStore(),
		bus,
		metrics,
		ports.NopDeliverableHook{},
		scheduler.New(scheduler.DefaultConfig(), zap.NewNop()),
		zap.NewNop(),
		orchestrator.Config{},
	)

	w := New(engine, stageStore, bus, metrics, zap.NewNop(), Config{
		Interval: 20 * time.Millisecond,
		Debounce: 5 * time.Millisecond,
	})
	w.Watch("prj-1")
	return &harness{watcher: w, stages: stageStore, audit: auditStore, bus: bus, metrics: metrics}
}

func watchedStage(id string, index int, status domain.Status, deps ...string) *domain.Stage {
	return &domain.Stage{
		ID:           id,
		ProjectID:    "prj-1",
		NumberIndex:  index,
		Name:         "Stage " + id,
		Status:       status,
		Dependencies: deps,
	}
}

func TestSweep_CorrectsDrift(t *testing.T) {
	// b was left blocked even though its dependency already completed, as
	// if a direct database write bypassed the engine.
	h := newHarness(t,
		watchedStage("a", 1, domain.StatusCompleted),
		watchedStage("b", 2, domain.StatusBlocked, "a"),
		watchedStage("c", 3, domain.StatusNotStarted, "x"),
	)

	h.watcher.Sweep(context.Background(), "prj-1")

	b, err := h.stages.Get(context.Background(), "b")
	if err != nil {
		t.Fatalf("get b: %v", err)
	}
	if b.Status != domain.StatusNotStarted {
		t.Fatalf("b should be unblocked, got %s", b.Status)
	}
	c, err := h.stages.Get(context.Background(), "c")
	if err != nil {
		t.Fatalf("get c: %v", err)
	}
	if c.Status != domain.StatusBlocked {
		t.Fatalf("c has a dangling dependency and should be blocked, got %s", c.Status)
	}
	if got := h.metrics.count(); got != 2 {
		t.Fatalf("expected 2 correction measurements, got %d", got)
	}
}

func TestSweep_NoDriftNoCorrections(t *testing.T) {
	h := newHarness(t,
		watchedStage("a", 1, domain.StatusNotStarted),
		watchedStage("b", 2, domain.StatusBlocked, "a"),
	)

	h.watcher.Sweep(context.Background(), "prj-1")
	if got := h.metrics.count(); got != 0 {
		t.Fatalf("consistent graph must not be corrected, got %d", got)
	}
}

func TestSweep_NotifiesPreassignedOnce(t *testing.T) {
	assigned := watchedStage("b", 2, domain.StatusBlocked, "a")
	assigned.AssignedTo = "bob"
	h := newHarness(t,
		watchedStage("a", 1, domain.StatusCompleted),
		assigned,
	)

	var mu sync.Mutex
	var notified []domain.Event
	err := h.bus.Subscribe(context.Background(), orchestrator.EventTopic, func(ctx context.Context, event domain.Event) error {
		if event.Type == domain.EventStageReadyPreassigned {
			mu.Lock()
			notified = append(notified, event)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	h.watcher.Sweep(context.Background(), "prj-1")
	h.watcher.Sweep(context.Background(), "prj-1")

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 1 {
		t.Fatalf("expected exactly one ready notification, got %d", len(notified))
	}
	if notified[0].StageID != "b" || notified[0].Data["assigned_to"] != "bob" {
		t.Fatalf("unexpected notification payload: %+v", notified[0])
	}
}

func TestSweep_UnassignedReadyStageIsSilent(t *testing.T) {
	h := newHarness(t,
		watchedStage("a", 1, domain.StatusNotStarted),
	)

	var mu sync.Mutex
	count := 0
	err := h.bus.Subscribe(context.Background(), orchestrator.EventTopic, func(ctx context.Context, event domain.Event) error {
		if event.Type == domain.EventStageReadyPreassigned {
			mu.Lock()
			count++
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	h.watcher.Sweep(context.Background(), "prj-1")

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Fatalf("unassigned ready stage must not notify, got %d", count)
	}
}

func TestSweep_CorrectionsAppendAuditEntries(t *testing.T) {
	h := newHarness(t,
		watchedStage("a", 1, domain.StatusCompleted),
		watchedStage("b", 2, domain.StatusBlocked, "a"),
	)

	h.watcher.Sweep(context.Background(), "prj-1")

	entries := h.audit.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d: %+v", len(entries), entries)
	}
	if entries[0].StageID != "b" || entries[0].Actor != "system" {
		t.Fatalf("unexpected audit entry: %+v", entries[0])
	}
}

func TestStartStop_Idempotent(t *testing.T) {
	h := newHarness(t)

	ctx := context.Background()
	if err := h.watcher.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.watcher.Start(ctx); err != nil {
		t.Fatalf("second start must be a no-op: %v", err)
	}
	h.watcher.Stop()
	h.watcher.Stop()

	// A full stop/start cycle must leave Stop safe to call again.
	if err := h.watcher.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	h.watcher.Stop()
	h.watcher.Stop()
}

func TestRestart_ResumesSweeping(t *testing.T) {
	h := newHarness(t,
		watchedStage("a", 1, domain.StatusNotStarted),
		watchedStage("b", 2, domain.StatusBlocked, "a"),
	)

	ctx := context.Background()
	if err := h.watcher.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.watcher.Stop()
	if err := h.watcher.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer h.watcher.Stop()

	// Drift introduced after the restart: a completes behind the engine's
	// back, so only a live sweep loop can unblock b.
	completed := domain.StatusCompleted
	if err := h.stages.Update(ctx, "a", domain.StageUpdate{Status: &completed}); err != nil {
		t.Fatalf("update a: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		b, err := h.stages.Get(ctx, "b")
		if err != nil {
			t.Fatalf("get b: %v", err)
		}
		if b.Status == domain.StatusNotStarted {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("restarted watcher never corrected b, still %s", b.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
