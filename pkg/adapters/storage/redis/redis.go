package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/eimribar/stageflow/pkg/domain"
)

// StageStore implements ports.StageStore on Redis. Stages are stored as JSON
// blobs keyed by id, with a per-project set carrying the membership.
type StageStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewStageStore creates a new Redis stage store
func NewStageStore(client *redis.Client, logger *zap.Logger) *StageStore {
	return &StageStore{
		client: client,
		logger: logger,
	}
}

// List returns every stage of a project, ordered by number index.
func (s *StageStore) List(ctx context.Context, projectID string) ([]*domain.Stage, error) {
	ids, err := s.client.SMembers(ctx, getProjectStagesKey(projectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list project stages: %w", err)
	}

	stages := make([]*domain.Stage, 0, len(ids))
	for _, id := range ids {
		stage, err := s.Get(ctx, id)
		if err != nil {
			if err == domain.ErrNotFound {
				// Membership set can lag a deleted blob.
				s.logger.Warn("stage in project set has no record",
					zap.String("stage_id", id),
					zap.String("project_id", projectID))
				continue
			}
			return nil, err
		}
		stages = append(stages, stage)
	}

	sortStages(stages)
	return stages, nil
}

// Get retrieves a single stage by id.
func (s *StageStore) Get(ctx context.Context, id string) (*domain.Stage, error) {
	data, err := s.client.Get(ctx, getStageKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get stage: %w", err)
	}

	var stage domain.Stage
	if err := json.Unmarshal(data, &stage); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stage: %w", err)
	}
	return &stage, nil
}

// Update applies a partial update as a watch-guarded read-modify-write so
// concurrent writers never interleave field changes on the same stage.
func (s *StageStore) Update(ctx context.Context, id string, update domain.StageUpdate) error {
	key := getStageKey(id)

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				return domain.ErrNotFound
			}
			return fmt.Errorf("failed to get stage: %w", err)
		}

		var stage domain.Stage
		if err := json.Unmarshal(data, &stage); err != nil {
			return fmt.Errorf("failed to unmarshal stage: %w", err)
		}

		applyUpdate(&stage, update)
		stage.UpdatedAt = time.Now().UTC()

		updated, err := json.Marshal(&stage)
		if err != nil {
			return fmt.Errorf("failed to marshal stage: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}

	for i := 0; i < 5; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return fmt.Errorf("failed to update stage %s: too many conflicts", id)
}

// BulkCreate stores a batch of stages and registers them with their project.
func (s *StageStore) BulkCreate(ctx context.Context, stages []*domain.Stage) error {
	for _, stage := range stages {
		exists, err := s.client.Exists(ctx, getStageKey(stage.ID)).Result()
		if err != nil {
			return fmt.Errorf("failed to check existence: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("stage %s already exists", stage.ID)
		}
	}

	pipe := s.client.TxPipeline()
	for _, stage := range stages {
		data, err := json.Marshal(stage)
		if err != nil {
			return fmt.Errorf("failed to marshal stage %s: %w", stage.ID, err)
		}
		pipe.Set(ctx, getStageKey(stage.ID), data, 0)
		pipe.SAdd(ctx, getProjectStagesKey(stage.ProjectID), stage.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create stages: %w", err)
	}

	s.logger.Debug("stages created",
		zap.Int("count", len(stages)))
	return nil
}

func applyUpdate(stage *domain.Stage, update domain.StageUpdate) {
	if update.Status != nil {
		stage.Status = *update.Status
	}
	if update.AssignedTo != nil {
		stage.AssignedTo = *update.AssignedTo
	}
	if update.Dependencies != nil {
		stage.Dependencies = update.Dependencies
	}
	if update.StartDate != nil {
		stage.StartDate = update.StartDate
	}
	if update.EndDate != nil {
		stage.EndDate = update.EndDate
	}
	if update.ClearStartDate {
		stage.StartDate = nil
	}
	if update.ClearEndDate {
		stage.EndDate = nil
	}
}

func sortStages(stages []*domain.Stage) {
	sort.Slice(stages, func(i, j int) bool {
		if stages[i].NumberIndex != stages[j].NumberIndex {
			return stages[i].NumberIndex < stages[j].NumberIndex
		}
		return stages[i].ID < stages[j].ID
	})
}

// AuditStore implements ports.AuditStore as a Redis list per stage.
type AuditStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewAuditStore creates a new Redis audit store
func NewAuditStore(client *redis.Client, logger *zap.Logger) *AuditStore {
	return &AuditStore{
		client: client,
		logger: logger,
	}
}

// Create appends an audit entry to the stage's history list.
func (a *AuditStore) Create(ctx context.Context, entry *domain.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	if err := a.client.RPush(ctx, getAuditKey(entry.StageID), data).Err(); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// History returns a stage's audit entries in append order.
func (a *AuditStore) History(ctx context.Context, stageID string) ([]*domain.AuditEntry, error) {
	items, err := a.client.LRange(ctx, getAuditKey(stageID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit history: %w", err)
	}

	entries := make([]*domain.AuditEntry, 0, len(items))
	for _, item := range items {
		var entry domain.AuditEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			a.logger.Warn("skipping corrupt audit entry",
				zap.String("stage_id", stageID),
				zap.Error(err))
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// ProjectStore implements ports.ProjectStore as a Redis hash per project.
type ProjectStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewProjectStore creates a new Redis project store
func NewProjectStore(client *redis.Client, logger *zap.Logger) *ProjectStore {
	return &ProjectStore{
		client: client,
		logger: logger,
	}
}

// UpdateProgress stores the aggregate progress rollup for a project.
func (p *ProjectStore) UpdateProgress(ctx context.Context, projectID string, progress int, updatedAt time.Time) error {
	key := getProjectKey(projectID)
	err := p.client.HSet(ctx, key,
		"progress", progress,
		"updated_at", updatedAt.UTC().Format(time.RFC3339),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to update project progress: %w", err)
	}
	return nil
}

// Progress reads a project's stored rollup. Missing projects report zero.
func (p *ProjectStore) Progress(ctx context.Context, projectID string) (int, error) {
	progress, err := p.client.HGet(ctx, getProjectKey(projectID), "progress").Int()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read project progress: %w", err)
	}
	return progress, nil
}

func getStageKey(id string) string {
	return fmt.Sprintf("stageflow:stage:%s", id)
}

func getProjectStagesKey(projectID string) string {
	return fmt.Sprintf("stageflow:project:%s:stages", projectID)
}

func getAuditKey(stageID string) string {
	return fmt.Sprintf("stageflow:audit:%s", stageID)
}

func getProjectKey(projectID string) string {
	return fmt.Sprintf("stageflow:project:%s", projectID)
}
