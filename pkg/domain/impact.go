package domain

// ImpactSeverity grades how serious a cascade consequence is.
type ImpactSeverity string

const (
	SeverityHigh   ImpactSeverity = "high"
	SeverityMedium ImpactSeverity = "medium"
)

// ImpactEntry describes one dependent stage that a proposed change would
// leave in a conflicting or degraded state.
type ImpactEntry struct {
	StageID   string         `json:"stage_id"`
	StageName string         `json:"stage_name"`
	Status    Status         `json:"status"`
	Severity  ImpactSeverity `json:"severity"`
	Detail    string         `json:"detail"`
}

// Cascade actions applied to directly affected stages.
const (
	ActionBlock   = "block"
	ActionUnblock = "unblock"
)

// AffectedStage is a dependent stage the cascade will update automatically,
// without requiring confirmation.
type AffectedStage struct {
	StageID   string `json:"stage_id"`
	StageName string `json:"stage_name"`
	Action    string `json:"action"`
}

// Impact is the structured preview of what a proposed status change would do
// to dependent stages.
type Impact struct {
	Conflicts            []ImpactEntry   `json:"conflicts"`
	Warnings             []ImpactEntry   `json:"warnings"`
	DirectlyAffected     []AffectedStage `json:"directly_affected"`
	RequiresConfirmation bool            `json:"requires_confirmation"`
}
