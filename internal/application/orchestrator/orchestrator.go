package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eimribar/stageflow/internal/application/resolver"
	"github.com/eimribar/stageflow/internal/application/scheduler"
	"github.com/eimribar/stageflow/pkg/domain"
	"github.com/eimribar/stageflow/pkg/ports"
)

// EventTopic is the bus topic all stage engine events are published on.
const EventTopic = "stage.events"

// Config holds orchestrator tuning supplied at construction.
type Config struct {
	// MasterUnlockIDs are stage ids whose progress weight is doubled
	// because they gate large parts of the workflow.
	MasterUnlockIDs []string
}

// Orchestrator coordinates stage transitions for a project. All mutations
// flow through it so validation, cascades and audit history stay consistent.
type Orchestrator struct {
	stages      ports.StageStore
	audit       ports.AuditStore
	projects    ports.ProjectStore
	events      ports.EventBus
	metrics     ports.MetricsCollector
	deliverable ports.DeliverableHook
	sched       *scheduler.Scheduler
	logger      *zap.Logger

	masterUnlock map[string]struct{}
}

// New creates an orchestrator with injected collaborators.
func New(
	stages ports.StageStore,
	audit ports.AuditStore,
	projects ports.ProjectStore,
	events ports.EventBus,
	metrics ports.MetricsCollector,
	deliverable ports.DeliverableHook,
	sched *scheduler.Scheduler,
	logger *zap.Logger,
	cfg Config,
) *Orchestrator {
	unlock := make(map[string]struct{}, len(cfg.MasterUnlockIDs))
	for _, id := range cfg.MasterUnlockIDs {
		unlock[id] = struct{}{}
	}
	return &Orchestrator{
		stages:       stages,
		audit:        audit,
		projects:     projects,
		events:       events,
		metrics:      metrics,
		deliverable:  deliverable,
		sched:        sched,
		logger:       logger,
		masterUnlock: unlock,
	}
}

// ChangeOptions tune a generic status change.
type ChangeOptions struct {
	Actor          string
	Reason         string
	SkipValidation bool
	SkipCascade    bool
	Force          bool
}

// ChangeResult is the outcome of a transition operation. When
// RequiresConfirmation is set nothing was committed; Impact describes what a
// forced re-invocation would do.
type ChangeResult struct {
	RequiresConfirmation bool            `json:"requires_confirmation"`
	Impact               *domain.Impact  `json:"impact,omitempty"`
	Stage                *domain.Stage   `json:"stage,omitempty"`
	Unblocked            []*domain.Stage `json:"unblocked,omitempty"`
	Blocked              []*domain.Stage `json:"blocked,omitempty"`
	Progress             int             `json:"progress"`
}

// StartStage moves a ready, not-started stage to in_progress and records its
// start date. Unmet dependencies or an ineligible current status fail with a
// PreconditionError and leave the stage untouched.
func (o *Orchestrator) StartStage(ctx context.Context, id, actor string) (*domain.Stage, error) {
	stage, all, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.start(ctx, stage, all, actor)
}

func (o *Orchestrator) start(ctx context.Context, stage *domain.Stage, all map[string]*domain.Stage, actor string) (*domain.Stage, error) {
	if current := domain.NormalizeStatus(stage.Status); current != domain.StatusNotStarted {
		o.metrics.RecordPreconditionFailure("start")
		return nil, &domain.PreconditionError{
			Reason: fmt.Sprintf("stage %q cannot start from status %s", stage.Name, current),
		}
	}
	if resolver.Derived(stage, all) != domain.DerivedReady {
		unmet := resolver.UnmetDependencies(stage, all)
		o.metrics.RecordPreconditionFailure("start")
		return nil, &domain.PreconditionError{
			Reason: fmt.Sprintf("%d unmet dependencies must complete before %q can start", len(unmet), stage.Name),
		}
	}

	now := time.Now().UTC()
	status := domain.StatusInProgress
	if err := o.stages.Update(ctx, stage.ID, domain.StageUpdate{Status: &status, StartDate: &now}); err != nil {
		return nil, fmt.Errorf("start stage %s: %w", stage.ID, err)
	}
	from := domain.NormalizeStatus(stage.Status)
	stage.Status = status
	stage.StartDate = &now

	o.appendAudit(ctx, stage, actor, fmt.Sprintf("Started by %s", actor))
	o.notifyDeliverable(ctx, stage, from, status)
	o.publish(ctx, domain.EventStageStarted, stage, map[string]any{"actor": actor})
	o.metrics.RecordTransition(stage.ProjectID, status)

	o.logger.Info("stage started",
		zap.String("stage_id", stage.ID),
		zap.String("project_id", stage.ProjectID),
		zap.String("actor", actor))
	return stage, nil
}

// CompleteStage marks an eligible stage completed, unblocks direct
// dependents whose dependencies are now all satisfied, recomputes project
// progress and publishes a completion event carrying both.
func (o *Orchestrator) CompleteStage(ctx context.Context, id, actor string) (*ChangeResult, error) {
	stage, all, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.complete(ctx, stage, all, actor)
}

func (o *Orchestrator) complete(ctx context.Context, stage *domain.Stage, all map[string]*domain.Stage, actor string) (*ChangeResult, error) {
	current := domain.NormalizeStatus(stage.Status)
	switch {
	case current == domain.StatusCompleted:
		o.metrics.RecordPreconditionFailure("complete")
		return nil, &domain.PreconditionError{Reason: fmt.Sprintf("stage %q is already completed", stage.Name)}
	case current == domain.StatusBlocked:
		o.metrics.RecordPreconditionFailure("complete")
		return nil, &domain.PreconditionError{Reason: fmt.Sprintf("stage %q is blocked and cannot be completed", stage.Name)}
	case resolver.Derived(stage, all) == domain.DerivedBlocked:
		unmet := resolver.UnmetDependencies(stage, all)
		o.metrics.RecordPreconditionFailure("complete")
		return nil, &domain.PreconditionError{
			Reason: fmt.Sprintf("stage %q has %d unmet dependencies", stage.Name, len(unmet)),
		}
	}

	status := domain.StatusCompleted
	if err := o.stages.Update(ctx, stage.ID, domain.StageUpdate{Status: &status}); err != nil {
		return nil, fmt.Errorf("complete stage %s: %w", stage.ID, err)
	}
	stage.Status = status
	o.appendAudit(ctx, stage, actor, fmt.Sprintf("Completed by %s", actor))
	o.metrics.RecordTransition(stage.ProjectID, status)

	// Re-derive direct dependents against the updated stage set and lift
	// the ones whose dependencies are now all satisfied.
	var unblocked []*domain.Stage
	for _, dep := range resolver.TransitiveDependents(stage.ID, all, false) {
		if domain.NormalizeStatus(dep.Status) != domain.StatusBlocked {
			continue
		}
		if len(resolver.UnmetDependencies(dep, all)) > 0 {
			continue
		}
		notStarted := domain.StatusNotStarted
		if err := o.stages.Update(ctx, dep.ID, domain.StageUpdate{Status: &notStarted}); err != nil {
			// Partial cascade; the watcher converges the remainder.
			o.logger.Error("failed to unblock dependent",
				zap.String("stage_id", dep.ID),
				zap.Error(err))
			continue
		}
		dep.Status = notStarted
		o.appendAudit(ctx, dep, actor, fmt.Sprintf("Unblocked: %q completed all remaining dependencies", stage.Name))
		o.publish(ctx, domain.EventStageUnblocked, dep, map[string]any{"cause": stage.ID})
		unblocked = append(unblocked, dep)
	}
	o.metrics.RecordCascade(domain.ActionUnblock, len(unblocked))

	progress := o.writeProgress(ctx, stage.ProjectID, all)
	o.notifyDeliverable(ctx, stage, current, status)

	unblockedIDs := make([]string, len(unblocked))
	for i, dep := range unblocked {
		unblockedIDs[i] = dep.ID
	}
	o.publish(ctx, domain.EventStageCompleted, stage, map[string]any{
		"actor":     actor,
		"unblocked": unblockedIDs,
		"progress":  progress,
	})

	o.logger.Info("stage completed",
		zap.String("stage_id", stage.ID),
		zap.String("project_id", stage.ProjectID),
		zap.Int("unblocked", len(unblocked)),
		zap.Int("progress", progress))

	return &ChangeResult{Stage: stage, Unblocked: unblocked, Progress: progress}, nil
}

// ResetStage returns a stage to not_started. When the evaluated impact
// requires confirmation and Force is not set, the impact is returned without
// committing; the caller previews it and re-invokes with Force.
func (o *Orchestrator) ResetStage(ctx context.Context, id string, opts ChangeOptions) (*ChangeResult, error) {
	stage, all, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}

	impact := resolver.EvaluateImpact(stage.ID, domain.StatusNotStarted, all)
	if impact.RequiresConfirmation && !opts.Force && !opts.SkipCascade {
		return &ChangeResult{RequiresConfirmation: true, Impact: impact}, nil
	}
	return o.reset(ctx, stage, all, opts)
}

func (o *Orchestrator) reset(ctx context.Context, stage *domain.Stage, all map[string]*domain.Stage, opts ChangeOptions) (*ChangeResult, error) {
	from := domain.NormalizeStatus(stage.Status)
	status := domain.StatusNotStarted
	if err := o.stages.Update(ctx, stage.ID, domain.StageUpdate{Status: &status, ClearStartDate: true}); err != nil {
		return nil, fmt.Errorf("reset stage %s: %w", stage.ID, err)
	}
	stage.Status = status
	stage.StartDate = nil

	text := fmt.Sprintf("Reset by %s", opts.Actor)
	if opts.Reason != "" {
		text = fmt.Sprintf("Reset by %s: %s", opts.Actor, opts.Reason)
	}
	o.appendAudit(ctx, stage, opts.Actor, text)
	o.metrics.RecordTransition(stage.ProjectID, status)

	// Cascade blocking to dependents left with unmet dependencies.
	// Completed dependents are never rewritten; the conflict was surfaced
	// in the impact preview and is flagged, not auto-fixed.
	var blocked []*domain.Stage
	if !opts.SkipCascade {
		for _, dep := range resolver.TransitiveDependents(stage.ID, all, true) {
			switch domain.NormalizeStatus(dep.Status) {
			case domain.StatusCompleted, domain.StatusBlocked:
				continue
			}
			if len(resolver.UnmetDependencies(dep, all)) == 0 {
				continue
			}
			blockedStatus := domain.StatusBlocked
			if err := o.stages.Update(ctx, dep.ID, domain.StageUpdate{Status: &blockedStatus}); err != nil {
				o.logger.Error("failed to block dependent",
					zap.String("stage_id", dep.ID),
					zap.Error(err))
				continue
			}
			dep.Status = blockedStatus
			o.appendAudit(ctx, dep, opts.Actor, fmt.Sprintf("Blocked: upstream stage %q was reset", stage.Name))
			o.publish(ctx, domain.EventStageBlocked, dep, map[string]any{"cause": stage.ID})
			blocked = append(blocked, dep)
		}
		o.metrics.RecordCascade(domain.ActionBlock, len(blocked))
	}

	progress := o.writeProgress(ctx, stage.ProjectID, all)
	o.notifyDeliverable(ctx, stage, from, status)
	o.publish(ctx, domain.EventStageReset, stage, map[string]any{
		"actor":  opts.Actor,
		"reason": opts.Reason,
	})

	o.logger.Info("stage reset",
		zap.String("stage_id", stage.ID),
		zap.String("project_id", stage.ProjectID),
		zap.String("reason", opts.Reason),
		zap.Int("blocked", len(blocked)))

	return &ChangeResult{Stage: stage, Blocked: blocked, Progress: progress}, nil
}

// ChangeStatus is the generic transition entry point. It validates via
// CanTransition unless skipped or forced, applies the confirmation gate from
// the impact evaluation, dispatches to the specific handler and finishes
// with a convergence pass plus a progress recomputation.
func (o *Orchestrator) ChangeStatus(ctx context.Context, id string, newStatus domain.Status, opts ChangeOptions) (*ChangeResult, error) {
	stage, all, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	target := domain.NormalizeStatus(newStatus)

	if !opts.SkipValidation && !opts.Force {
		if check := resolver.CanTransition(stage, target, all); !check.Allowed {
			o.metrics.RecordPreconditionFailure("change_status")
			return nil, &domain.PreconditionError{Reason: check.Reason}
		}
	}

	impact := resolver.EvaluateImpact(stage.ID, target, all)
	if impact.RequiresConfirmation && !opts.Force {
		return &ChangeResult{RequiresConfirmation: true, Impact: impact}, nil
	}

	var result *ChangeResult
	switch target {
	case domain.StatusCompleted:
		result, err = o.complete(ctx, stage, all, opts.Actor)
	case domain.StatusInProgress:
		var started *domain.Stage
		started, err = o.start(ctx, stage, all, opts.Actor)
		if started != nil {
			result = &ChangeResult{Stage: started}
		}
	case domain.StatusNotStarted:
		forced := opts
		forced.Force = true // the confirmation gate already ran
		result, err = o.reset(ctx, stage, all, forced)
	default:
		result, err = o.directWrite(ctx, stage, target, opts)
	}
	if err != nil {
		return nil, err
	}

	if !opts.SkipCascade {
		if _, convErr := o.AutoConverge(ctx, stage.ProjectID); convErr != nil {
			o.logger.Warn("convergence pass failed",
				zap.String("project_id", stage.ProjectID),
				zap.Error(convErr))
		}
	}
	if progress, pErr := o.CalculateProgress(ctx, stage.ProjectID); pErr == nil {
		result.Progress = progress
	}
	return result, nil
}

// directWrite covers blocked and any non-standard target values: a plain
// field write followed by the usual audit and event plumbing.
func (o *Orchestrator) directWrite(ctx context.Context, stage *domain.Stage, target domain.Status, opts ChangeOptions) (*ChangeResult, error) {
	if err := o.stages.Update(ctx, stage.ID, domain.StageUpdate{Status: &target}); err != nil {
		return nil, fmt.Errorf("update stage %s: %w", stage.ID, err)
	}
	from := domain.NormalizeStatus(stage.Status)
	stage.Status = target

	text := fmt.Sprintf("Status changed to %s by %s", target, opts.Actor)
	if opts.Reason != "" {
		text += ": " + opts.Reason
	}
	o.appendAudit(ctx, stage, opts.Actor, text)
	o.notifyDeliverable(ctx, stage, from, target)
	o.metrics.RecordTransition(stage.ProjectID, target)

	if target == domain.StatusBlocked {
		o.publish(ctx, domain.EventStageBlocked, stage, map[string]any{"actor": opts.Actor})
	}
	return &ChangeResult{Stage: stage}, nil
}

// load fetches the stage and its project's full stage set, indexed by id.
// The returned stage aliases the entry in the map so local mutations stay
// visible to subsequent derivations.
func (o *Orchestrator) load(ctx context.Context, id string) (*domain.Stage, map[string]*domain.Stage, error) {
	stage, err := o.stages.Get(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("stage %s: %w", id, err)
	}
	stages, err := o.stages.List(ctx, stage.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("list stages for project %s: %w", stage.ProjectID, err)
	}
	all := resolver.Index(stages)
	if s, ok := all[id]; ok {
		stage = s
	} else {
		all[id] = stage
	}
	return stage, all, nil
}

// appendAudit writes a change-history entry. Audit failures never abort the
// primary transition.
func (o *Orchestrator) appendAudit(ctx context.Context, stage *domain.Stage, actor, text string) {
	entry := &domain.AuditEntry{
		ID:        uuid.New().String(),
		StageID:   stage.ID,
		ProjectID: stage.ProjectID,
		Text:      text,
		Actor:     actor,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.audit.Create(ctx, entry); err != nil {
		o.logger.Warn("failed to append audit entry",
			zap.String("stage_id", stage.ID),
			zap.Error(err))
	}
}

func (o *Orchestrator) notifyDeliverable(ctx context.Context, stage *domain.Stage, from, to domain.Status) {
	if !stage.IsDeliverable || from == to {
		return
	}
	if err := o.deliverable.StatusChanged(ctx, stage, from, to); err != nil {
		o.logger.Warn("deliverable hook failed",
			zap.String("stage_id", stage.ID),
			zap.Error(err))
	}
}

func (o *Orchestrator) publish(ctx context.Context, eventType domain.EventType, stage *domain.Stage, data map[string]any) {
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		ProjectID: stage.ProjectID,
		StageID:   stage.ID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	if err := o.events.Publish(ctx, EventTopic, event); err != nil {
		o.logger.Warn("failed to publish event",
			zap.String("type", string(eventType)),
			zap.String("stage_id", stage.ID),
			zap.Error(err))
	}
}
