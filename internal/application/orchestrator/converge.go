package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/eimribar/stageflow/internal/application/resolver"
	"github.com/eimribar/stageflow/pkg/domain"
)

// AutoConverge re-derives the blocked/not_started split for every stage that
// is neither in progress nor completed and persists only the differences,
// each with a change-history entry under the system actor.
// The pass repeats until it changes nothing, bounded by the stage count, so
// multi-hop cascades settle inside a single call instead of waiting for the
// watcher's next sweep. Returns the stages whose status was corrected.
func (o *Orchestrator) AutoConverge(ctx context.Context, projectID string) ([]*domain.Stage, error) {
	stages, err := o.stages.List(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list stages for project %s: %w", projectID, err)
	}
	all := resolver.Index(stages)

	var changed []*domain.Stage
	for pass := 0; pass <= len(stages); pass++ {
		dirty := false
		for _, s := range stages {
			current := domain.NormalizeStatus(s.Status)
			if current == domain.StatusInProgress || current == domain.StatusCompleted {
				continue
			}

			want := domain.StatusNotStarted
			if len(resolver.UnmetDependencies(s, all)) > 0 {
				want = domain.StatusBlocked
			}
			if want == current {
				continue
			}

			if err := o.stages.Update(ctx, s.ID, domain.StageUpdate{Status: &want}); err != nil {
				o.logger.Error("convergence update failed",
					zap.String("stage_id", s.ID),
					zap.Error(err))
				continue
			}
			s.Status = want
			dirty = true
			changed = append(changed, s)

			o.appendAudit(ctx, s, "system",
				fmt.Sprintf("Status corrected from %s to %s by convergence", current, want))

			eventType := domain.EventStageUnblocked
			if want == domain.StatusBlocked {
				eventType = domain.EventStageBlocked
			}
			o.publish(ctx, eventType, s, map[string]any{"cause": "convergence"})
		}
		if !dirty {
			break
		}
	}

	if len(changed) > 0 {
		o.metrics.RecordCascade("converge", len(changed))
		o.logger.Debug("convergence pass applied corrections",
			zap.String("project_id", projectID),
			zap.Int("corrections", len(changed)))
	}
	return changed, nil
}
