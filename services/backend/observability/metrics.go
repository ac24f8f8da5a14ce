// Copyright (C) 2025 Matrix Labs
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the backend.
//
// Metrics cover graph construction, simulation runs, per-agent generation
// calls, and memory sink writes. They are exposed via the /metrics endpoint
// for Prometheus scraping.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "matrix"

const backendSubsystem = "backend"

// BackendMetrics holds all Prometheus metrics for the backend service.
// Initialize once at startup via InitMetrics; all operations are
// thread-safe via Prometheus's internal locking.
type BackendMetrics struct {
	// GraphBuildsTotal counts graph build attempts.
	// Labels: status (success, validation_error)
	GraphBuildsTotal *prometheus.CounterVec

	// SimulationRunsTotal counts simulation runs by mode and outcome.
	// Labels: mode (rounds, cascade), status (done, error, rejected)
	SimulationRunsTotal *prometheus.CounterVec

	// AgentGenerationsTotal counts per-agent LLM calls.
	// Labels: status (success, degraded)
	AgentGenerationsTotal *prometheus.CounterVec

	// AgentGenerationSeconds measures per-agent LLM call latency.
	AgentGenerationSeconds prometheus.Histogram

	// MemorySinkWritesTotal counts memory sink notifications.
	// Labels: status (success, error, skipped)
	MemorySinkWritesTotal *prometheus.CounterVec

	// ActiveSimulations gauges the number of in-flight runs (0 or 1).
	ActiveSimulations prometheus.Gauge
}

// DefaultMetrics is the process-wide metrics instance. Nil until
// InitMetrics is called; callers must nil-check before recording.
var DefaultMetrics *BackendMetrics

// InitMetrics registers all backend metrics on the default registry and
// stores the result in DefaultMetrics. Panics if called twice.
func InitMetrics() *BackendMetrics {
	DefaultMetrics = &BackendMetrics{
		GraphBuildsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "graph_builds_total",
				Help:      "Total graph build attempts by status",
			},
			[]string{"status"},
		),

		SimulationRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "simulation_runs_total",
				Help:      "Total simulation runs by mode and outcome",
			},
			[]string{"mode", "status"},
		),

		AgentGenerationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "agent_generations_total",
				Help:      "Total per-agent LLM generation calls by status",
			},
			[]string{"status"},
		),

		AgentGenerationSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "agent_generation_seconds",
				Help:      "Per-agent LLM generation latency in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),

		MemorySinkWritesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "memory_sink_writes_total",
				Help:      "Total memory sink notifications by status",
			},
			[]string{"status"},
		),

		ActiveSimulations: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "active_simulations",
				Help:      "Number of simulation runs currently in flight",
			},
		),
	}

	return DefaultMetrics
}

// RecordGraphBuild increments the graph build counter if metrics are
// initialized.
func RecordGraphBuild(status string) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.GraphBuildsTotal.WithLabelValues(status).Inc()
}

// RecordSimulationRun increments the run counter if metrics are initialized.
func RecordSimulationRun(mode, status string) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.SimulationRunsTotal.WithLabelValues(mode, status).Inc()
}

// RecordAgentGeneration records one LLM call if metrics are initialized.
func RecordAgentGeneration(status string, seconds float64) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.AgentGenerationsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.AgentGenerationSeconds.Observe(seconds)
}

// RecordMemorySinkWrite increments the sink counter if metrics are
// initialized.
func RecordMemorySinkWrite(status string) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.MemorySinkWritesTotal.WithLabelValues(status).Inc()
}

// SetActiveSimulations sets the in-flight run gauge if metrics are
// initialized.
func SetActiveSimulations(n float64) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.ActiveSimulations.Set(n)
}
