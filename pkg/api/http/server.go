package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eimribar/stageflow/internal/application/orchestrator"
	"github.com/eimribar/stageflow/internal/application/scheduler"
	"github.com/eimribar/stageflow/internal/template"
	"github.com/eimribar/stageflow/pkg/ports"
)

// Server represents the HTTP API server
type Server struct {
	router       *gin.Engine
	server       *http.Server
	orchestrator *orchestrator.Orchestrator
	stages       ports.StageStore
	scheduler    *scheduler.Scheduler
	templates    map[string]*template.Template
	logger       *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port         int
	Orchestrator *orchestrator.Orchestrator
	Stages       ports.StageStore
	Scheduler    *scheduler.Scheduler
	Templates    map[string]*template.Template
	Logger       *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:       router,
		orchestrator: cfg.Orchestrator,
		stages:       cfg.Stages,
		scheduler:    cfg.Scheduler,
		templates:    cfg.Templates,
		logger:       cfg.Logger,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Metrics
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// Project endpoints
		v1.POST("/projects/:id/setup", s.handleSetupProject)
		v1.GET("/projects/:id/stages", s.handleListStages)
		v1.GET("/projects/:id/progress", s.handleGetProgress)
		v1.GET("/projects/:id/validate", s.handleValidateProject)
		v1.POST("/projects/:id/schedule", s.handleScheduleProject)
		v1.POST("/projects/:id/converge", s.handleConverge)

		// Stage endpoints
		v1.GET("/stages/:id/status", s.handleGetStageStatus)
		v1.GET("/stages/:id/impact", s.handleGetImpact)
		v1.POST("/stages/:id/start", s.handleStartStage)
		v1.POST("/stages/:id/complete", s.handleCompleteStage)
		v1.POST("/stages/:id/reset", s.handleResetStage)
		v1.POST("/stages/:id/status", s.handleChangeStatus)
		v1.POST("/stages/:id/reschedule", s.handleRescheduleStage)

		// Templates
		v1.GET("/templates", s.handleListTemplates)
	}
}

// SetupWebSocket adds WebSocket handler to the server
func (s *Server) SetupWebSocket(handler interface {
	HandleProjectStream(*gin.Context)
}) {
	s.router.GET("/api/v1/projects/:id/ws", handler.HandleProjectStream)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger is a middleware for request logging
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}
