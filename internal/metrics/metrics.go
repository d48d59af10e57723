// Package metrics exposes checkpoint outcomes as Prometheus metrics.
//
// waypoint runs as a short-lived command, so there is no scrape endpoint.
// Collectors live on a private registry and are flushed to a node_exporter
// textfile after each command when a path is configured.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the waypoint collectors. It implements checkpoint.Recorder.
//
// Metrics:
//   - waypoint_checkpoint_operations_total{operation,result}
//   - waypoint_recovery_completeness_score
//   - waypoint_checkpoint_last_created_timestamp_seconds
type Metrics struct {
	registry *prometheus.Registry

	OperationsTotal   *prometheus.CounterVec
	CompletenessScore prometheus.Gauge
	LastCreated       prometheus.Gauge
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waypoint_checkpoint_operations_total",
				Help: "Total number of checkpoint operations by outcome",
			},
			[]string{"operation", "result"},
		),
		CompletenessScore: factory.NewGauge(prometheus.GaugeOpts{
			Name: "waypoint_recovery_completeness_score",
			Help: "Most recent recovery completeness score (0-100)",
		}),
		LastCreated: factory.NewGauge(prometheus.GaugeOpts{
			Name: "waypoint_checkpoint_last_created_timestamp_seconds",
			Help: "Unix time of the most recently created checkpoint",
		}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveOperation counts one operation outcome.
func (m *Metrics) ObserveOperation(operation, result string) {
	m.OperationsTotal.WithLabelValues(operation, result).Inc()
}

// SetCompleteness records the latest completeness score.
func (m *Metrics) SetCompleteness(score int) {
	m.CompletenessScore.Set(float64(score))
}

// SetLastCreated records when a checkpoint was last created.
func (m *Metrics) SetLastCreated(t time.Time) {
	m.LastCreated.Set(float64(t.Unix()))
}

// WriteTextfile writes every collected metric to path in the text
// exposition format. An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
