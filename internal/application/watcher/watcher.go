package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eimribar/stageflow/internal/application/orchestrator"
	"github.com/eimribar/stageflow/internal/application/resolver"
	"github.com/eimribar/stageflow/pkg/domain"
	"github.com/eimribar/stageflow/pkg/ports"
)

// DefaultInterval is the periodic sweep cadence.
const DefaultInterval = 5 * time.Second

// DefaultDebounce bounds how quickly event-triggered sweeps may fire.
const DefaultDebounce = 250 * time.Millisecond

// Engine is the orchestrator surface the watcher needs.
type Engine interface {
	AutoConverge(ctx context.Context, projectID string) ([]*domain.Stage, error)
}

// Config holds watcher tuning.
type Config struct {
	Interval time.Duration
	Debounce time.Duration
}

// Watcher sweeps watched projects for dependency drift. It keeps a status
// snapshot per project so external writes can be detected and logged, and it
// delegates the actual corrections to the engine's convergence pass.
type Watcher struct {
	engine  Engine
	stages  ports.StageStore
	events  ports.EventBus
	metrics ports.MetricsCollector
	logger  *zap.Logger

	interval time.Duration
	debounce time.Duration

	mu        sync.RWMutex
	running   bool
	stopCh    chan struct{}
	kickCh    chan string
	projects  map[string]struct{}
	snapshots map[string]map[string]domain.Status
	wasReady  map[string]map[string]bool
}

// New creates a watcher. Zero Interval or Debounce fall back to the defaults.
func New(engine Engine, stages ports.StageStore, events ports.EventBus, metrics ports.MetricsCollector, logger *zap.Logger, cfg Config) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &Watcher{
		engine:    engine,
		stages:    stages,
		events:    events,
		metrics:   metrics,
		logger:    logger,
		interval:  cfg.Interval,
		debounce:  cfg.Debounce,
		stopCh:    make(chan struct{}),
		kickCh:    make(chan string, 64),
		projects:  make(map[string]struct{}),
		snapshots: make(map[string]map[string]domain.Status),
		wasReady:  make(map[string]map[string]bool),
	}
}

// Watch registers a project for sweeping.
func (w *Watcher) Watch(projectID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.projects[projectID] = struct{}{}
}

// Start launches the sweep loop and subscribes to the event stream so
// committed changes trigger a debounced sweep of their project.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	// Fresh channel per run so a stopped watcher can be started again.
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.mu.Unlock()

	if err := w.events.Subscribe(ctx, orchestrator.EventTopic, w.onEvent); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}

	go w.run(ctx, stopCh)
	w.logger.Info("dependency watcher started",
		zap.Duration("interval", w.interval))
	return nil
}

// Stop halts the loop and discards the snapshots, so a later Start observes
// the store fresh.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.snapshots = make(map[string]map[string]domain.Status)
	w.wasReady = make(map[string]map[string]bool)
	stopCh := w.stopCh
	w.mu.Unlock()

	close(stopCh)
}

func (w *Watcher) onEvent(ctx context.Context, event domain.Event) error {
	if event.ProjectID == "" {
		return nil
	}
	// Projects announce themselves through their first event.
	w.Watch(event.ProjectID)
	select {
	case w.kickCh <- event.ProjectID:
	default:
		// Channel full; the pending kicks already cover this project.
	}
	return nil
}

func (w *Watcher) run(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweepAll(ctx)
		case projectID := <-w.kickCh:
			pending := map[string]struct{}{projectID: {}}
			timer := time.NewTimer(w.debounce)
		drain:
			for {
				select {
				case id := <-w.kickCh:
					pending[id] = struct{}{}
				case <-timer.C:
					break drain
				case <-stopCh:
					timer.Stop()
					return
				}
			}
			for id := range pending {
				w.Sweep(ctx, id)
			}
		}
	}
}

func (w *Watcher) sweepAll(ctx context.Context) {
	w.mu.RLock()
	ids := make([]string, 0, len(w.projects))
	for id := range w.projects {
		ids = append(ids, id)
	}
	w.mu.RUnlock()

	for _, id := range ids {
		w.Sweep(ctx, id)
	}
}

// Sweep runs a single consistency pass over one project. Exported so tests
// and operational tooling can force a pass without waiting for the ticker.
func (w *Watcher) Sweep(ctx context.Context, projectID string) {
	stages, err := w.stages.List(ctx, projectID)
	if err != nil {
		w.logger.Error("watcher sweep failed to list stages",
			zap.String("project_id", projectID),
			zap.Error(err))
		return
	}

	w.detectExternalWrites(projectID, stages)

	corrected, err := w.engine.AutoConverge(ctx, projectID)
	if err != nil {
		w.logger.Error("watcher convergence failed",
			zap.String("project_id", projectID),
			zap.Error(err))
		return
	}
	for range corrected {
		w.metrics.RecordWatcherCorrection()
	}
	if len(corrected) > 0 {
		w.logger.Info("watcher corrected stage statuses",
			zap.String("project_id", projectID),
			zap.Int("corrections", len(corrected)))
		// Convergence rewrote statuses; reload before deriving readiness.
		if stages, err = w.stages.List(ctx, projectID); err != nil {
			w.logger.Error("watcher reload failed",
				zap.String("project_id", projectID),
				zap.Error(err))
			return
		}
	}

	w.notifyReadyAssignees(ctx, projectID, stages)
	w.record(projectID, stages)
}

// detectExternalWrites compares stored statuses against the previous sweep's
// snapshot and logs writes that bypassed the orchestrator.
func (w *Watcher) detectExternalWrites(projectID string, stages []*domain.Stage) {
	w.mu.RLock()
	prev := w.snapshots[projectID]
	w.mu.RUnlock()
	if prev == nil {
		return
	}

	for _, s := range stages {
		before, seen := prev[s.ID]
		now := domain.NormalizeStatus(s.Status)
		if seen && before != now {
			w.logger.Debug("external status change detected",
				zap.String("project_id", projectID),
				zap.String("stage_id", s.ID),
				zap.String("from", string(before)),
				zap.String("to", string(now)))
		}
	}
}

// notifyReadyAssignees publishes a high-priority event the first time a
// pre-assigned stage becomes ready, so its owner gets pinged exactly once.
func (w *Watcher) notifyReadyAssignees(ctx context.Context, projectID string, stages []*domain.Stage) {
	all := resolver.Index(stages)

	w.mu.Lock()
	ready := w.wasReady[projectID]
	if ready == nil {
		ready = make(map[string]bool)
		w.wasReady[projectID] = ready
	}
	w.mu.Unlock()

	for _, s := range stages {
		isReady := domain.NormalizeStatus(s.Status) == domain.StatusNotStarted &&
			resolver.Derived(s, all) == domain.DerivedReady
		if !isReady {
			ready[s.ID] = false
			continue
		}
		if ready[s.ID] || s.AssignedTo == "" {
			ready[s.ID] = true
			continue
		}
		ready[s.ID] = true

		event := domain.Event{
			ID:        uuid.New().String(),
			Type:      domain.EventStageReadyPreassigned,
			ProjectID: projectID,
			StageID:   s.ID,
			Timestamp: time.Now().UTC(),
			Data: map[string]any{
				"assigned_to": s.AssignedTo,
				"stage_name":  s.Name,
				"priority":    "high",
			},
		}
		if err := w.events.Publish(ctx, orchestrator.EventTopic, event); err != nil {
			w.logger.Warn("failed to publish ready notification",
				zap.String("stage_id", s.ID),
				zap.Error(err))
		}
	}
}

func (w *Watcher) record(projectID string, stages []*domain.Stage) {
	snap := make(map[string]domain.Status, len(stages))
	for _, s := range stages {
		snap[s.ID] = domain.NormalizeStatus(s.Status)
	}
	w.mu.Lock()
	w.snapshots[projectID] = snap
	w.mu.Unlock()
}
