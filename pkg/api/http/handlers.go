package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eimribar/stageflow/internal/application/orchestrator"
	"github.com/eimribar/stageflow/internal/application/resolver"
	"github.com/eimribar/stageflow/internal/application/scheduler"
	"github.com/eimribar/stageflow/pkg/domain"
)

// SetupProjectRequest creates a project's stages, either from a named
// template or from an explicit stage list.
type SetupProjectRequest struct {
	Template  string          `json:"template,omitempty"`
	Stages    []*domain.Stage `json:"stages,omitempty"`
	StartDate string          `json:"start_date,omitempty"`
}

// ActorRequest carries the acting user for simple transitions.
type ActorRequest struct {
	Actor string `json:"actor"`
}

// ResetRequest carries reset options.
type ResetRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

// ChangeStatusRequest carries a generic status change.
type ChangeStatusRequest struct {
	Status         domain.Status `json:"status" binding:"required"`
	Actor          string        `json:"actor"`
	Reason         string        `json:"reason,omitempty"`
	Force          bool          `json:"force,omitempty"`
	SkipValidation bool          `json:"skip_validation,omitempty"`
	SkipCascade    bool          `json:"skip_cascade,omitempty"`
}

// ScheduleProjectRequest carries an optional project start override.
type ScheduleProjectRequest struct {
	StartDate string `json:"start_date,omitempty"`
}

// RescheduleRequest carries a stage's new window.
type RescheduleRequest struct {
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date" binding:"required"`
}

// StageView is a stage plus its derived readiness.
type StageView struct {
	*domain.Stage
	DerivedStatus domain.DerivedStatus `json:"derived_status"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSetupProject creates a project's stages and applies the initial
// schedule.
func (s *Server) handleSetupProject(c *gin.Context) {
	projectID := c.Param("id")

	var req SetupProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_REQUEST", Message: err.Error()},
		})
		return
	}

	stages := req.Stages
	if req.Template != "" {
		tpl, ok := s.templates[req.Template]
		if !ok {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: ErrorDetail{Code: "TEMPLATE_NOT_FOUND", Message: "Unknown template: " + req.Template},
			})
			return
		}
		var err error
		if stages, err = tpl.Materialize(projectID); err != nil {
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
				Error: ErrorDetail{Code: "TEMPLATE_INVALID", Message: err.Error()},
			})
			return
		}
	}
	if len(stages) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_REQUEST", Message: "Either template or stages is required"},
		})
		return
	}
	for _, stage := range stages {
		if stage.ID == "" {
			stage.ID = uuid.New().String()
		}
	}

	start := time.Now().UTC()
	if req.StartDate != "" {
		parsed, err := parseDate(req.StartDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: ErrorDetail{Code: "INVALID_REQUEST", Message: "Invalid start_date: " + err.Error()},
			})
			return
		}
		start = parsed
	}

	created, err := s.orchestrator.SetupProject(c.Request.Context(), projectID, stages, start)
	if err != nil {
		s.logger.Error("failed to set up project", zap.String("project_id", projectID), zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: ErrorDetail{Code: "SETUP_FAILED", Message: err.Error()},
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"project_id": projectID,
		"stages":     created,
	})
}

// handleListStages returns a project's stages with derived statuses.
func (s *Server) handleListStages(c *gin.Context) {
	projectID := c.Param("id")

	stages, err := s.stages.List(c.Request.Context(), projectID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	all := resolver.Index(stages)
	views := make([]StageView, len(stages))
	for i, stage := range stages {
		views[i] = StageView{Stage: stage, DerivedStatus: resolver.Derived(stage, all)}
	}

	c.JSON(http.StatusOK, gin.H{
		"project_id": projectID,
		"stages":     views,
		"total":      len(views),
	})
}

// handleGetProgress returns the weighted completion percentage.
func (s *Server) handleGetProgress(c *gin.Context) {
	projectID := c.Param("id")

	progress, err := s.orchestrator.CalculateProgress(c.Request.Context(), projectID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project_id": projectID,
		"progress":   progress,
	})
}

// handleValidateProject reports structural issues in the dependency graph.
func (s *Server) handleValidateProject(c *gin.Context) {
	projectID := c.Param("id")

	stages, err := s.stages.List(c.Request.Context(), projectID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	issues := resolver.ValidateGraph(resolver.Index(stages))
	valid := true
	for _, issue := range issues {
		if issue.Severity == resolver.SeverityError {
			valid = false
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"project_id": projectID,
		"valid":      valid,
		"issues":     issues,
	})
}

// handleScheduleProject recomputes the full schedule for a project and
// persists the resulting dates.
func (s *Server) handleScheduleProject(c *gin.Context) {
	projectID := c.Param("id")

	var req ScheduleProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_REQUEST", Message: err.Error()},
		})
		return
	}

	start := time.Now().UTC()
	if req.StartDate != "" {
		parsed, err := parseDate(req.StartDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: ErrorDetail{Code: "INVALID_REQUEST", Message: "Invalid start_date: " + err.Error()},
			})
			return
		}
		start = parsed
	}

	stages, err := s.stages.List(c.Request.Context(), projectID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if len(stages) == 0 {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{Code: "NOT_FOUND", Message: "No stages found for project: " + projectID},
		})
		return
	}

	scheduled, err := s.scheduler.Schedule(stages, start)
	if err != nil {
		var cycleErr *scheduler.CycleError
		if errors.As(err, &cycleErr) {
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
				Error: ErrorDetail{Code: "DEPENDENCY_CYCLE", Message: err.Error(), Details: cycleErr.Path},
			})
			return
		}
		s.writeError(c, err)
		return
	}

	for _, st := range scheduled {
		update := domain.StageUpdate{StartDate: st.StartDate, EndDate: st.EndDate}
		if err := s.stages.Update(c.Request.Context(), st.ID, update); err != nil {
			s.writeError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"project_id": projectID,
		"stages":     scheduled,
	})
}

// handleRescheduleStage moves a stage's window and cascades the change to
// its downstream dependents, shifting each while preserving its duration.
func (s *Server) handleRescheduleStage(c *gin.Context) {
	stageID := c.Param("id")

	var req RescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_REQUEST", Message: err.Error()},
		})
		return
	}

	newStart, err := parseDate(req.StartDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_REQUEST", Message: "Invalid start_date: " + err.Error()},
		})
		return
	}
	newEnd, err := parseDate(req.EndDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_REQUEST", Message: "Invalid end_date: " + err.Error()},
		})
		return
	}
	if newEnd.Before(newStart) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_REQUEST", Message: "end_date precedes start_date"},
		})
		return
	}

	stage, err := s.stages.Get(c.Request.Context(), stageID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	stages, err := s.stages.List(c.Request.Context(), stage.ProjectID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	shifts := scheduler.RecalculateDownstream(stageID, newStart, newEnd, resolver.Index(stages))

	if err := s.stages.Update(c.Request.Context(), stageID, domain.StageUpdate{
		StartDate: &newStart,
		EndDate:   &newEnd,
	}); err != nil {
		s.writeError(c, err)
		return
	}
	for _, shift := range shifts {
		start, end := shift.NewStart, shift.NewEnd
		if err := s.stages.Update(c.Request.Context(), shift.StageID, domain.StageUpdate{
			StartDate: &start,
			EndDate:   &end,
		}); err != nil {
			s.writeError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"stage_id":   stageID,
		"start_date": newStart,
		"end_date":   newEnd,
		"shifts":     shifts,
	})
}

// handleConverge forces a convergence pass over a project.
func (s *Server) handleConverge(c *gin.Context) {
	projectID := c.Param("id")

	changed, err := s.orchestrator.AutoConverge(c.Request.Context(), projectID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project_id": projectID,
		"corrected":  changed,
		"count":      len(changed),
	})
}

// handleGetStageStatus returns a stage with its derived readiness and unmet
// dependencies.
func (s *Server) handleGetStageStatus(c *gin.Context) {
	stageID := c.Param("id")

	stage, err := s.stages.Get(c.Request.Context(), stageID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	stages, err := s.stages.List(c.Request.Context(), stage.ProjectID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	all := resolver.Index(stages)

	c.JSON(http.StatusOK, gin.H{
		"stage":     StageView{Stage: stage, DerivedStatus: resolver.Derived(stage, all)},
		"unmet":     resolver.UnmetDependencies(stage, all),
		"can_start": resolver.CanTransition(stage, domain.StatusInProgress, all).Allowed,
	})
}

// handleGetImpact previews the cascade of changing a stage's status. The
// target status comes from the "status" query parameter and defaults to a
// reset.
func (s *Server) handleGetImpact(c *gin.Context) {
	stageID := c.Param("id")

	target := domain.Status(c.DefaultQuery("status", string(domain.StatusNotStarted)))
	if !target.Valid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_STATUS", Message: "Unknown target status: " + string(target)},
		})
		return
	}

	stage, err := s.stages.Get(c.Request.Context(), stageID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	stages, err := s.stages.List(c.Request.Context(), stage.ProjectID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	impact := resolver.EvaluateImpact(stageID, domain.NormalizeStatus(target), resolver.Index(stages))
	c.JSON(http.StatusOK, impact)
}

// handleStartStage starts a ready stage.
func (s *Server) handleStartStage(c *gin.Context) {
	var req ActorRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_REQUEST", Message: err.Error()},
		})
		return
	}

	stage, err := s.orchestrator.StartStage(c.Request.Context(), c.Param("id"), req.Actor)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"stage": stage})
}

// handleCompleteStage completes a stage and unblocks eligible dependents.
func (s *Server) handleCompleteStage(c *gin.Context) {
	var req ActorRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_REQUEST", Message: err.Error()},
		})
		return
	}

	result, err := s.orchestrator.CompleteStage(c.Request.Context(), c.Param("id"), req.Actor)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleResetStage resets a stage. Without force, a reset with downstream
// impact returns the impact preview instead of committing.
func (s *Server) handleResetStage(c *gin.Context) {
	var req ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_REQUEST", Message: err.Error()},
		})
		return
	}

	result, err := s.orchestrator.ResetStage(c.Request.Context(), c.Param("id"), orchestrator.ChangeOptions{
		Actor:  req.Actor,
		Reason: req.Reason,
		Force:  req.Force,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleChangeStatus applies a generic status change.
func (s *Server) handleChangeStatus(c *gin.Context) {
	var req ChangeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_REQUEST", Message: err.Error()},
		})
		return
	}
	if !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{Code: "INVALID_STATUS", Message: "Unknown status: " + string(req.Status)},
		})
		return
	}

	result, err := s.orchestrator.ChangeStatus(c.Request.Context(), c.Param("id"), req.Status, orchestrator.ChangeOptions{
		Actor:          req.Actor,
		Reason:         req.Reason,
		Force:          req.Force,
		SkipValidation: req.SkipValidation,
		SkipCascade:    req.SkipCascade,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleListTemplates lists the loaded workflow templates.
func (s *Server) handleListTemplates(c *gin.Context) {
	type templateInfo struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Stages      int    `json:"stages"`
	}

	infos := make([]templateInfo, 0, len(s.templates))
	for _, tpl := range s.templates {
		infos = append(infos, templateInfo{
			Name:        tpl.Name,
			Description: tpl.Description,
			Stages:      len(tpl.Stages),
		})
	}

	c.JSON(http.StatusOK, gin.H{"templates": infos})
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	var precondition *domain.PreconditionError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{Code: "NOT_FOUND", Message: "Stage not found"},
		})
	case errors.As(err, &precondition):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{Code: "PRECONDITION_FAILED", Message: precondition.Reason},
		})
	default:
		s.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{Code: "INTERNAL", Message: "Internal server error"},
		})
	}
}

func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
