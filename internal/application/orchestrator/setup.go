package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eimribar/stageflow/internal/application/resolver"
	"github.com/eimribar/stageflow/internal/application/scheduler"
	"github.com/eimribar/stageflow/pkg/domain"
)

// SetupProject bulk-creates a project's stages and applies the initial
// schedule. Graph issues are logged, not rejected; a dependency cycle only
// skips scheduling, because insert-time cycle rejection is a collaborator
// concern and the store must still receive the stages as authored.
func (o *Orchestrator) SetupProject(ctx context.Context, projectID string, stages []*domain.Stage, projectStart time.Time) ([]*domain.Stage, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("project %s: no stages to create", projectID)
	}

	now := time.Now().UTC()
	for _, s := range stages {
		s.ProjectID = projectID
		s.Status = domain.NormalizeStatus(s.Status)
		s.CreatedAt = now
		s.UpdatedAt = now
	}

	all := resolver.Index(stages)
	for _, issue := range resolver.ValidateGraph(all) {
		o.logger.Warn("graph issue at project setup",
			zap.String("project_id", projectID),
			zap.String("stage_id", issue.StageID),
			zap.String("severity", string(issue.Severity)),
			zap.String("message", issue.Message))
	}

	scheduleStart := time.Now()
	scheduled, err := o.sched.Schedule(stages, projectStart)
	switch {
	case err == nil:
		stages = scheduled
	default:
		var cycleErr *scheduler.CycleError
		if !errors.As(err, &cycleErr) {
			return nil, fmt.Errorf("schedule project %s: %w", projectID, err)
		}
		o.logger.Warn("dependency cycle prevents scheduling; creating stages without dates",
			zap.String("project_id", projectID),
			zap.Strings("cycle", cycleErr.Path))
	}
	o.metrics.ObserveScheduleDuration(time.Since(scheduleStart))

	if err := o.stages.BulkCreate(ctx, stages); err != nil {
		return nil, fmt.Errorf("bulk create stages for project %s: %w", projectID, err)
	}

	for _, s := range stages {
		if !s.IsDeliverable {
			continue
		}
		if err := o.deliverable.StageCreated(ctx, s); err != nil {
			o.logger.Warn("deliverable hook failed at create",
				zap.String("stage_id", s.ID),
				zap.Error(err))
		}
	}

	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventProjectSetup,
		ProjectID: projectID,
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"stages": len(stages)},
	}
	if err := o.events.Publish(ctx, EventTopic, event); err != nil {
		o.logger.Warn("failed to publish setup event",
			zap.String("project_id", projectID),
			zap.Error(err))
	}

	o.logger.Info("project stages created",
		zap.String("project_id", projectID),
		zap.Int("stages", len(stages)))
	return stages, nil
}
