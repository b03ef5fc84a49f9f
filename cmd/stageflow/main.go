package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eimribar/stageflow/internal/application/orchestrator"
	"github.com/eimribar/stageflow/internal/application/scheduler"
	"github.com/eimribar/stageflow/internal/application/watcher"
	"github.com/eimribar/stageflow/internal/config"
	"github.com/eimribar/stageflow/internal/template"
	eventsmem "github.com/eimribar/stageflow/pkg/adapters/events/memory"
	eventsredis "github.com/eimribar/stageflow/pkg/adapters/events/redis"
	"github.com/eimribar/stageflow/pkg/adapters/metrics/prometheus"
	storagemem "github.com/eimribar/stageflow/pkg/adapters/storage/memory"
	storageredis "github.com/eimribar/stageflow/pkg/adapters/storage/redis"
	"github.com/eimribar/stageflow/pkg/adapters/storage/sqlite"
	"github.com/eimribar/stageflow/pkg/api/http"
	"github.com/eimribar/stageflow/pkg/api/websocket"
	"github.com/eimribar/stageflow/pkg/ports"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting stageflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("event_bus", cfg.EventBus))

	ctx := context.Background()

	// Initialize Redis when any backend needs it
	var redisClient *goredis.Client
	if cfg.Storage.Backend == "redis" || cfg.EventBus == "redis" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	// Initialize storage adapters
	var (
		stageStore   ports.StageStore
		auditStore   ports.AuditStore
		projectStore ports.ProjectStore
		sqliteStore  *sqlite.Store
	)
	switch cfg.Storage.Backend {
	case "redis":
		stageStore = storageredis.NewStageStore(redisClient, logger)
		auditStore = storageredis.NewAuditStore(redisClient, logger)
		projectStore = storageredis.NewProjectStore(redisClient, logger)
	case "sqlite":
		sqliteStore, err = sqlite.Open(cfg.Storage.SQLitePath, logger)
		if err != nil {
			logger.Fatal("failed to open sqlite store", zap.Error(err))
		}
		stageStore = sqliteStore
		auditStore = sqliteStore
		projectStore = sqliteStore
	default:
		stageStore = storagemem.NewStageStore()
		auditStore = storagemem.NewAuditStore()
		projectStore = storagemem.NewProjectStore()
	}

	// Initialize event bus
	var eventBus ports.EventBus
	if cfg.EventBus == "redis" {
		eventBus = eventsredis.NewStreamsEventBus(
			redisClient,
			"stageflow-engine",
			fmt.Sprintf("stageflow-%d", os.Getpid()),
			logger,
		)
	} else {
		eventBus = eventsmem.NewEventBus()
	}

	metricsCollector := prometheus.NewCollector()

	// Load workflow templates
	templates, err := template.LoadDir(cfg.TemplateDir)
	if err != nil {
		logger.Warn("no workflow templates loaded",
			zap.String("dir", cfg.TemplateDir),
			zap.Error(err))
		templates = map[string]*template.Template{}
	} else {
		logger.Info("workflow templates loaded", zap.Int("count", len(templates)))
	}

	// Initialize application components
	sched := scheduler.New(scheduler.DefaultConfig(), logger)

	orch := orchestrator.New(
		stageStore,
		auditStore,
		projectStore,
		eventBus,
		metricsCollector,
		ports.NopDeliverableHook{},
		sched,
		logger,
		orchestrator.Config{MasterUnlockIDs: cfg.MasterUnlockIDs},
	)

	// Start the dependency watcher
	depWatcher := watcher.New(orch, stageStore, eventBus, metricsCollector, logger, watcher.Config{
		Interval: cfg.Watcher.Interval,
		Debounce: cfg.Watcher.Debounce,
	})
	if err := depWatcher.Start(ctx); err != nil {
		logger.Fatal("failed to start watcher", zap.Error(err))
	}

	// Initialize API server
	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		Orchestrator: orch,
		Stages:       stageStore,
		Scheduler:    sched,
		Templates:    templates,
		Logger:       logger,
	})

	wsHandler := websocket.NewHandler(eventBus, logger)
	httpServer.SetupWebSocket(wsHandler)

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	logger.Info("stageflow started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Duration("watcher_interval", cfg.Watcher.Interval))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	depWatcher.Stop()

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if sqliteStore != nil {
		if err := sqliteStore.Close(); err != nil {
			logger.Error("sqlite close error", zap.Error(err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("stageflow shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
