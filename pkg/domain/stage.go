package domain

import "time"

// Status is the stored lifecycle state of a stage.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"

	// statusNotReady is a legacy alias for not_started that still appears
	// in data written by older workflow templates.
	statusNotReady Status = "not_ready"
)

// NormalizeStatus maps legacy and empty values onto the current status set.
func NormalizeStatus(s Status) Status {
	if s == statusNotReady || s == "" {
		return StatusNotStarted
	}
	return s
}

// Valid reports whether s is a recognized status after normalization.
func (s Status) Valid() bool {
	switch NormalizeStatus(s) {
	case StatusNotStarted, StatusInProgress, StatusCompleted, StatusBlocked:
		return true
	}
	return false
}

// DerivedStatus is the computed readiness of a stage. It mirrors the actual
// status for stages already in progress, completed or blocked, and reports
// ready/blocked for not-started stages based on their dependency set.
type DerivedStatus string

const (
	DerivedReady      DerivedStatus = "ready"
	DerivedBlocked    DerivedStatus = "blocked"
	DerivedInProgress DerivedStatus = "in_progress"
	DerivedCompleted  DerivedStatus = "completed"
)

// Priority is the blocking priority of a stage, used to weight progress.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Weight returns the progress weight for a priority. Unrecognized values
// weigh the same as medium.
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityLow:
		return 1
	default:
		return 2
	}
}

// Stage is a node in a project's workflow graph.
type Stage struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	NumberIndex int    `json:"number_index"`
	Name        string `json:"name"`
	Category    string `json:"category"`

	BlockingPriority Priority `json:"blocking_priority"`
	IsDeliverable    bool     `json:"is_deliverable"`
	ClientFacing     bool     `json:"client_facing"`

	// Dependencies are ids of stages that must complete before this stage
	// becomes ready. All ids must belong to the same project.
	Dependencies []string `json:"dependencies"`

	// ParallelTracks lists stages that may run concurrently with this one.
	// Informational only; the resolver does not enforce it.
	ParallelTracks []string `json:"parallel_tracks,omitempty"`

	Status     Status `json:"status"`
	AssignedTo string `json:"assigned_to,omitempty"`

	// EstimatedDuration is the working duration in days. Zero means the
	// scheduler applies its default-duration heuristic.
	EstimatedDuration int `json:"estimated_duration"`

	// StartDate and EndDate are derived by the scheduler, end-inclusive,
	// and nil until a schedule has been applied.
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the stage.
func (s *Stage) Clone() *Stage {
	cp := *s
	cp.Dependencies = append([]string(nil), s.Dependencies...)
	cp.ParallelTracks = append([]string(nil), s.ParallelTracks...)
	if s.StartDate != nil {
		t := *s.StartDate
		cp.StartDate = &t
	}
	if s.EndDate != nil {
		t := *s.EndDate
		cp.EndDate = &t
	}
	return &cp
}

// DependsOn reports whether the stage lists id as a direct dependency.
func (s *Stage) DependsOn(id string) bool {
	for _, dep := range s.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}

// StageUpdate is a partial update applied to a stored stage. Nil pointer
// fields are left unchanged; the Clear flags set the date columns to null.
type StageUpdate struct {
	Status         *Status
	AssignedTo     *string
	Dependencies   []string
	StartDate      *time.Time
	EndDate        *time.Time
	ClearStartDate bool
	ClearEndDate   bool
}

// AuditEntry is a human-readable change-history record appended whenever the
// orchestrator commits a transition.
type AuditEntry struct {
	ID        string    `json:"id"`
	StageID   string    `json:"stage_id"`
	ProjectID string    `json:"project_id"`
	Text      string    `json:"text"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}
