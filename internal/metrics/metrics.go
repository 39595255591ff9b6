// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

// Package metrics holds the Prometheus instrumentation for pipeline runs.
//
// BlackIce is a batch tool, so collectors live on a private registry that is
// exported to a node_exporter textfile after each run instead of being served.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry collects every BlackIce metric.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// Detection Metrics
	DetectorEventsChecked = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blackice_detector_events_checked_total",
			Help: "Events evaluated by each detector",
		},
		[]string{"detector"},
	)

	DetectorErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blackice_detector_errors_total",
			Help: "Events on which a detector returned an error or panicked",
		},
		[]string{"detector"},
	)

	AlertsGenerated = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blackice_alerts_total",
			Help: "Alerts emitted, by rule",
		},
		[]string{"rule_id"},
	)

	// Scoring Metrics
	DecisionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blackice_decisions_total",
			Help: "Decisions produced, by action",
		},
		[]string{"action"},
	)

	MalformedLines = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blackice_malformed_lines_total",
			Help: "Input lines skipped because they could not be decoded",
		},
		[]string{"stage"},
	)

	// Audit Metrics
	AuditRuns = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blackice_audit_runs_total",
			Help: "Decision normalization audits, by mode and outcome",
		},
		[]string{"mode", "outcome"}, // outcome: unchanged, changed, violation
	)

	// Trust Metrics
	TrustRowsAppended = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "blackice_trust_rows_appended_total",
			Help: "Rows appended to the trust ledger",
		},
	)

	EnforcementOverrides = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blackice_enforcement_overrides_total",
			Help: "Decisions whose action was changed by trust enforcement, by enforced action",
		},
		[]string{"enforced_action"},
	)

	TrustSubjects = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "blackice_trust_subjects",
			Help: "Subjects with a trust score after the last ledger update",
		},
	)

	// Pipeline Metrics
	StageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blackice_stage_duration_seconds",
			Help:    "Wall time of each pipeline stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	StageFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blackice_stage_failures_total",
			Help: "Pipeline stages that returned an error",
		},
		[]string{"stage"},
	)
)

// RecordStage records the duration and outcome of a pipeline stage.
func RecordStage(stage string, duration time.Duration, err error) {
	StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	if err != nil {
		StageFailures.WithLabelValues(stage).Inc()
	}
}

// RecordDetectorPass records one detector's full pass over the event stream.
func RecordDetectorPass(detector string, events, failures int) {
	DetectorEventsChecked.WithLabelValues(detector).Add(float64(events))
	if failures > 0 {
		DetectorErrors.WithLabelValues(detector).Add(float64(failures))
	}
}

// RecordAlerts adds per-rule alert counts.
func RecordAlerts(hits map[string]int) {
	for rule, n := range hits {
		AlertsGenerated.WithLabelValues(rule).Add(float64(n))
	}
}

// RecordDecision counts one decision.
func RecordDecision(action string) {
	DecisionsTotal.WithLabelValues(action).Inc()
}

// RecordMalformed adds skipped input lines for a stage.
func RecordMalformed(stage string, n int) {
	if n > 0 {
		MalformedLines.WithLabelValues(stage).Add(float64(n))
	}
}

// RecordAudit records one audit gate run.
func RecordAudit(mode string, changed, violation bool) {
	outcome := "unchanged"
	switch {
	case violation:
		outcome = "violation"
	case changed:
		outcome = "changed"
	}
	AuditRuns.WithLabelValues(mode, outcome).Inc()
}

// RecordTrustUpdate records a ledger emission.
func RecordTrustUpdate(rows, subjects int, overridesByAction map[string]int) {
	TrustRowsAppended.Add(float64(rows))
	TrustSubjects.Set(float64(subjects))
	for action, n := range overridesByAction {
		EnforcementOverrides.WithLabelValues(action).Add(float64(n))
	}
}

// WriteTextfile exports the registry in Prometheus text format to path,
// for collection by node_exporter's textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
