package ports

import (
	"context"
	"time"

	"github.com/eimribar/stageflow/pkg/domain"
)

// StageStore persists stages. Update must be an atomic read-modify-write of
// a single record; the engine relies on that alone for single-field
// correctness and does not wrap cascades in transactions.
type StageStore interface {
	List(ctx context.Context, projectID string) ([]*domain.Stage, error)
	Get(ctx context.Context, id string) (*domain.Stage, error)
	Update(ctx context.Context, id string, update domain.StageUpdate) error
	BulkCreate(ctx context.Context, stages []*domain.Stage) error
}

// AuditStore is the append-only change history.
type AuditStore interface {
	Create(ctx context.Context, entry *domain.AuditEntry) error
}

// ProjectStore receives aggregate progress rollups. Failures here are
// logged and swallowed by the engine.
type ProjectStore interface {
	UpdateProgress(ctx context.Context, projectID string, progress int, updatedAt time.Time) error
}

// DeliverableHook is notified when a deliverable-flagged stage is created or
// changes status. Invocations are best-effort.
type DeliverableHook interface {
	StageCreated(ctx context.Context, stage *domain.Stage) error
	StatusChanged(ctx context.Context, stage *domain.Stage, from, to domain.Status) error
}

// EventHandler consumes events delivered by an EventBus subscription.
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus fans committed-change events out to subscribers.
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// MetricsCollector records engine instrumentation.
type MetricsCollector interface {
	RecordTransition(projectID string, to domain.Status)
	RecordPreconditionFailure(operation string)
	RecordCascade(action string, size int)
	RecordWatcherCorrection()
	SetProjectProgress(projectID string, progress int)
	ObserveScheduleDuration(d time.Duration)
}

// NopDeliverableHook ignores all deliverable notifications.
type NopDeliverableHook struct{}

func (NopDeliverableHook) StageCreated(context.Context, *domain.Stage) error { return nil }
func (NopDeliverableHook) StatusChanged(context.Context, *domain.Stage, domain.Status, domain.Status) error {
	return nil
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) RecordTransition(string, domain.Status) {}
func (NopMetrics) RecordPreconditionFailure(string)       {}
func (NopMetrics) RecordCascade(string, int)              {}
func (NopMetrics) RecordWatcherCorrection()               {}
func (NopMetrics) SetProjectProgress(string, int)         {}
func (NopMetrics) ObserveScheduleDuration(time.Duration)  {}
