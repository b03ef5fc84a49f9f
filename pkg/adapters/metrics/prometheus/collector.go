package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/eimribar/stageflow/pkg/domain"
)

// Collector implements ports.MetricsCollector using Prometheus
type Collector struct {
	transitions          *prometheus.CounterVec
	preconditionFailures *prometheus.CounterVec
	cascadeUpdates       *prometheus.CounterVec
	watcherCorrections   prometheus.Counter
	projectProgress      *prometheus.GaugeVec
	scheduleDuration     prometheus.Histogram
}

// NewCollector creates a new Prometheus metrics collector
func NewCollector() *Collector {
	return &Collector{
		transitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stageflow_transitions_total",
				Help: "Total number of committed stage transitions",
			},
			[]string{"status"},
		),
		preconditionFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stageflow_precondition_failures_total",
				Help: "Total number of transitions rejected by precondition checks",
			},
			[]string{"operation"},
		),
		cascadeUpdates: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stageflow_cascade_updates_total",
				Help: "Total number of stages updated by cascades",
			},
			[]string{"action"},
		),
		watcherCorrections: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "stageflow_watcher_corrections_total",
				Help: "Total number of status corrections applied by the watcher",
			},
		),
		projectProgress: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stageflow_project_progress",
				Help: "Current weighted completion percentage per project",
			},
			[]string{"project_id"},
		),
		scheduleDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stageflow_schedule_duration_seconds",
				Help:    "Schedule computation duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
	}
}

// RecordTransition records a committed status transition
func (c *Collector) RecordTransition(projectID string, to domain.Status) {
	c.transitions.WithLabelValues(string(to)).Inc()
}

// RecordPreconditionFailure records a rejected transition
func (c *Collector) RecordPreconditionFailure(operation string) {
	c.preconditionFailures.WithLabelValues(operation).Inc()
}

// RecordCascade records the size of a cascade pass
func (c *Collector) RecordCascade(action string, size int) {
	if size <= 0 {
		return
	}
	c.cascadeUpdates.WithLabelValues(action).Add(float64(size))
}

// RecordWatcherCorrection records one watcher-applied correction
func (c *Collector) RecordWatcherCorrection() {
	c.watcherCorrections.Inc()
}

// SetProjectProgress updates the progress gauge for a project
func (c *Collector) SetProjectProgress(projectID string, progress int) {
	c.projectProgress.WithLabelValues(projectID).Set(float64(progress))
}

// ObserveScheduleDuration records how long a schedule computation took
func (c *Collector) ObserveScheduleDuration(d time.Duration) {
	c.scheduleDuration.Observe(d.Seconds())
}
