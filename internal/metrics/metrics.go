// Package metrics exports the counters of a merge run in the Prometheus
// text format, for node_exporter's textfile collector. Each run overwrites
// one .prom file.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/steveyegge/convmerge/internal/merge"
)

const namespace = "convmerge"

// Recorder holds the gauges of the last run
type Recorder struct {
	registry *prometheus.Registry

	lastRun        *prometheus.GaugeVec
	duration       *prometheus.GaugeVec
	sessions       *prometheus.GaugeVec
	groups         *prometheus.GaugeVec
	merged         *prometheus.GaugeVec
	moved          *prometheus.GaugeVec
	failedSessions *prometheus.GaugeVec
}

// NewRecorder creates a recorder backed by its own registry
func NewRecorder() *Recorder {
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"simulated"})
	}

	r := &Recorder{
		registry:       prometheus.NewRegistry(),
		lastRun:        gauge("last_run_timestamp_seconds", "Unix time the last merge run finished."),
		duration:       gauge("last_run_duration_seconds", "Wall time of the last merge run."),
		sessions:       gauge("last_run_sessions", "Sessions processed by the last merge run."),
		groups:         gauge("last_run_duplicate_groups", "Duplicate groups found by the last merge run."),
		merged:         gauge("last_run_conversations_merged", "Conversations merged (or to merge) by the last run."),
		moved:          gauge("last_run_messages_moved", "Messages moved (or to move) by the last run."),
		failedSessions: gauge("last_run_failed_sessions", "Sessions that failed in the last merge run."),
	}
	r.registry.MustRegister(r.lastRun, r.duration, r.sessions, r.groups, r.merged, r.moved, r.failedSessions)
	return r
}

// Observe sets the gauges from a finished run
func (r *Recorder) Observe(report *merge.Report) {
	label := strconv.FormatBool(report.Simulated)

	r.lastRun.WithLabelValues(label).Set(float64(report.FinishedAt.Unix()))
	r.duration.WithLabelValues(label).Set(report.Duration().Seconds())
	r.sessions.WithLabelValues(label).Set(float64(len(report.Sessions)))
	r.groups.WithLabelValues(label).Set(float64(report.TotalDuplicateGroups))
	r.merged.WithLabelValues(label).Set(float64(report.TotalConversationsMerged))
	r.moved.WithLabelValues(label).Set(float64(report.TotalMessagesMoved))
	r.failedSessions.WithLabelValues(label).Set(float64(report.FailedSessions))
}

// Gatherer exposes the registry
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile atomically writes the gauges to path
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}
