// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability exposes Prometheus metrics for batch execution.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Batch Execution
// =============================================================================

var (
	// batchDuration measures end-to-end batch duration.
	// Labels: status (complete, error)
	batchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "taskflow",
		Subsystem: "scheduler",
		Name:      "batch_duration_seconds",
		Help:      "End-to-end batch execution duration in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"status"})

	// taskDuration measures per-task duration, retries included.
	// Labels: handler, status (completed, failed)
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "taskflow",
		Subsystem: "scheduler",
		Name:      "task_duration_seconds",
		Help:      "Per-task execution duration in seconds, retries included",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"handler", "status"})

	// tasksSettled counts tasks by terminal status.
	// Labels: handler, status (completed, failed)
	tasksSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskflow",
		Subsystem: "scheduler",
		Name:      "tasks_settled_total",
		Help:      "Total tasks settled by terminal status",
	}, []string{"handler", "status"})

	// taskRetries counts retry attempts.
	// Labels: scope
	taskRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskflow",
		Subsystem: "scheduler",
		Name:      "task_retries_total",
		Help:      "Total task retry attempts by resilience scope",
	}, []string{"scope"})

	// circuitTransitions counts circuit breaker state transitions.
	// Labels: scope, to_state (CLOSED, OPEN, HALF_OPEN)
	circuitTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskflow",
		Subsystem: "scheduler",
		Name:      "circuit_transitions_total",
		Help:      "Total circuit breaker state transitions",
	}, []string{"scope", "to_state"})

	// waveSize tracks the distribution of tasks per wave.
	waveSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "taskflow",
		Subsystem: "scheduler",
		Name:      "wave_size",
		Help:      "Distribution of tasks per wave",
		Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
	})

	// batchSuccessRate tracks the distribution of batch success rates.
	batchSuccessRate = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "taskflow",
		Subsystem: "scheduler",
		Name:      "batch_success_rate",
		Help:      "Distribution of batch success rates",
		Buckets:   []float64{0, 0.25, 0.5, 0.7, 0.8, 0.9, 0.95, 0.99, 1.0},
	})

	// runningTasks gauges tasks currently executing.
	runningTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "taskflow",
		Subsystem: "scheduler",
		Name:      "running_tasks",
		Help:      "Number of tasks currently executing",
	})
)

// =============================================================================
// Metrics Recording Functions
// =============================================================================

// RecordBatchDuration records end-to-end batch duration.
//
// Inputs:
//
//	status - "complete" or "error".
//	durationSec - Duration in seconds.
func RecordBatchDuration(status string, durationSec float64) {
	batchDuration.WithLabelValues(status).Observe(durationSec)
}

// RecordTaskSettled records a task reaching a terminal status.
//
// Inputs:
//
//	handler - The handler name.
//	status - "completed" or "failed".
//	durationSec - Task duration in seconds, retries included.
func RecordTaskSettled(handler, status string, durationSec float64) {
	tasksSettled.WithLabelValues(handler, status).Inc()
	taskDuration.WithLabelValues(handler, status).Observe(durationSec)
}

// RecordTaskRetry records a retry attempt in a resilience scope.
func RecordTaskRetry(scope string) {
	taskRetries.WithLabelValues(scope).Inc()
}

// RecordCircuitTransition records a circuit breaker state transition.
//
// Inputs:
//
//	scope - The resilience scope.
//	toState - The new circuit state name.
func RecordCircuitTransition(scope, toState string) {
	circuitTransitions.WithLabelValues(scope, toState).Inc()
}

// RecordWaveSize records the number of tasks in a dispatched wave.
func RecordWaveSize(size int) {
	waveSize.Observe(float64(size))
}

// RecordBatchSuccessRate records a finished batch's success rate.
func RecordBatchSuccessRate(rate float64) {
	batchSuccessRate.Observe(rate)
}

// TaskStarted increments the running-task gauge.
func TaskStarted() {
	runningTasks.Inc()
}

// TaskFinished decrements the running-task gauge.
func TaskFinished() {
	runningTasks.Dec()
}
