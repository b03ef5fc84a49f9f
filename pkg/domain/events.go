package domain

import "time"

// EventType identifies a stage engine event.
type EventType string

const (
	EventProjectSetup          EventType = "project_setup"
	EventStageStarted          EventType = "stage_started"
	EventStageCompleted        EventType = "stage_completed"
	EventStageReset            EventType = "stage_reset"
	EventStageBlocked          EventType = "stage_blocked"
	EventStageUnblocked        EventType = "stage_unblocked"
	EventStageReadyPreassigned EventType = "stage_ready_preassigned"
	EventProjectProgress       EventType = "project_progress"
)

// Event is published on the event bus after a committed change. Events are
// fire-and-forget: delivery and ordering across concurrent mutations are not
// guaranteed.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	ProjectID string         `json:"project_id"`
	StageID   string         `json:"stage_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}
