package orchestrator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eimribar/stageflow/pkg/domain"
)

// CalculateProgress computes the weighted completion percentage of a
// project. Stages weigh by blocking priority (critical 4, high 3, medium 2,
// low 1), doubled for configured master-unlock stages. Completed stages
// contribute their full weight, in-progress stages half. The result is in
// [0,100] and 0 for an empty project.
func (o *Orchestrator) CalculateProgress(ctx context.Context, projectID string) (int, error) {
	stages, err := o.stages.List(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("list stages for project %s: %w", projectID, err)
	}
	return o.progressOf(stages), nil
}

func (o *Orchestrator) progressOf(stages []*domain.Stage) int {
	var total, done float64
	for _, s := range stages {
		weight := float64(s.BlockingPriority.Weight())
		if _, ok := o.masterUnlock[s.ID]; ok {
			weight *= 2
		}
		total += weight
		switch domain.NormalizeStatus(s.Status) {
		case domain.StatusCompleted:
			done += weight
		case domain.StatusInProgress:
			done += weight / 2
		}
	}
	if total == 0 {
		return 0
	}
	progress := int(math.Round(100 * done / total))
	if progress < 0 {
		return 0
	}
	if progress > 100 {
		return 100
	}
	return progress
}

// writeProgress recomputes project progress from the in-memory stage set and
// pushes the rollup to the project store. The rollup is best-effort: a
// failure is logged and swallowed because stage status, not the aggregate,
// is the primary invariant.
func (o *Orchestrator) writeProgress(ctx context.Context, projectID string, all map[string]*domain.Stage) int {
	stages := make([]*domain.Stage, 0, len(all))
	for _, s := range all {
		stages = append(stages, s)
	}
	progress := o.progressOf(stages)

	if err := o.projects.UpdateProgress(ctx, projectID, progress, time.Now().UTC()); err != nil {
		o.logger.Warn("failed to write project progress",
			zap.String("project_id", projectID),
			zap.Int("progress", progress),
			zap.Error(err))
	}
	o.metrics.SetProjectProgress(projectID, progress)

	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventProjectProgress,
		ProjectID: projectID,
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"progress": progress},
	}
	if err := o.events.Publish(ctx, EventTopic, event); err != nil {
		o.logger.Warn("failed to publish progress event",
			zap.String("project_id", projectID),
			zap.Error(err))
	}
	return progress
}
