// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events provides event types and broadcasting for the scheduler.
//
// Events allow external systems to observe batch execution, collect metrics,
// and implement logging without coupling to the coordinator implementation.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package events

import "time"

// Type identifies the kind of event.
type Type string

const (
	// TypeBatchStarted is emitted when a batch run begins.
	TypeBatchStarted Type = "batch_started"

	// TypeBatchFinished is emitted when a batch run reaches a terminal stage.
	TypeBatchFinished Type = "batch_finished"

	// TypeStageTransition is emitted when the batch control loop changes stage.
	TypeStageTransition Type = "stage_transition"

	// TypeWaveStarted is emitted when a wave is dispatched.
	TypeWaveStarted Type = "wave_started"

	// TypeWaveFinished is emitted when every task in a wave has settled.
	TypeWaveFinished Type = "wave_finished"

	// TypeTaskStarted is emitted when a task is dispatched to a worker.
	TypeTaskStarted Type = "task_started"

	// TypeTaskRetry is emitted before a retry attempt of a task.
	TypeTaskRetry Type = "task_retry"

	// TypeTaskSettled is emitted when a task reaches a terminal status.
	TypeTaskSettled Type = "task_settled"

	// TypeCircuitStateChange is emitted when a scope's circuit breaker
	// changes state.
	TypeCircuitStateChange Type = "circuit_state_change"

	// TypeCriticalFailure is emitted when a high-priority task fails
	// terminally.
	TypeCriticalFailure Type = "critical_failure"

	// TypeError is emitted for batch-level failures (cycles, cancellation).
	TypeError Type = "error"
)

// Event represents a scheduler event.
//
// Description:
//
//	Events are the primary mechanism for observing batch execution.
//	Each event has a type that determines the structure of its Data field.
//	Use the appropriate typed data struct (BatchStartedData, TaskSettledData,
//	etc.) when setting the Data field.
//
// Thread Safety:
//
//	Event structs should be treated as immutable after creation.
type Event struct {
	// ID is a unique identifier for this event.
	ID string `json:"id"`

	// Type identifies the kind of event.
	Type Type `json:"type"`

	// SessionID links the event to a batch run.
	SessionID string `json:"session_id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Wave is the wave index when this event occurred (-1 outside waves).
	Wave int `json:"wave"`

	// Data contains event-specific data. Should be one of the typed data
	// structs: BatchStartedData, BatchFinishedData, StageTransitionData,
	// WaveStartedData, WaveFinishedData, TaskStartedData, TaskRetryData,
	// TaskSettledData, CircuitStateChangeData, CriticalFailureData, or
	// ErrorData.
	Data any `json:"data,omitempty"`
}

// BatchStartedData is the data for batch start events.
type BatchStartedData struct {
	// TaskCount is the number of tasks in the batch.
	TaskCount int `json:"task_count"`

	// WaveCount is the number of planned waves.
	WaveCount int `json:"wave_count"`
}

// BatchFinishedData is the data for batch finish events.
type BatchFinishedData struct {
	// Completed is the number of tasks that succeeded.
	Completed int `json:"completed"`

	// Failed is the number of tasks that failed terminally.
	Failed int `json:"failed"`

	// SuccessRate is completed / total.
	SuccessRate float64 `json:"success_rate"`

	// Duration is how long the batch ran.
	Duration time.Duration `json:"duration"`

	// Error is set if the batch ended in the error stage.
	Error string `json:"error,omitempty"`
}

// StageTransitionData is the data for stage transition events.
type StageTransitionData struct {
	// FromStage is the previous stage.
	FromStage string `json:"from_stage"`

	// ToStage is the new stage.
	ToStage string `json:"to_stage"`
}

// WaveStartedData is the data for wave start events.
type WaveStartedData struct {
	// Index is the zero-based wave index.
	Index int `json:"index"`

	// TaskIDs are the tasks dispatched in this wave.
	TaskIDs []string `json:"task_ids"`
}

// WaveFinishedData is the data for wave finish events.
type WaveFinishedData struct {
	// Index is the zero-based wave index.
	Index int `json:"index"`

	// Completed is the number of tasks in the wave that succeeded.
	Completed int `json:"completed"`

	// Failed is the number of tasks in the wave that failed.
	Failed int `json:"failed"`

	// Duration is how long the wave took.
	Duration time.Duration `json:"duration"`
}

// TaskStartedData is the data for task dispatch events.
type TaskStartedData struct {
	// TaskID is the task being dispatched.
	TaskID string `json:"task_id"`

	// Handler is the handler name.
	Handler string `json:"handler"`

	// Wave is the wave index the task runs in.
	Wave int `json:"wave"`
}

// TaskRetryData is the data for task retry events.
type TaskRetryData struct {
	// TaskID is the task being retried.
	TaskID string `json:"task_id"`

	// Attempt is the one-based attempt number about to run.
	Attempt int `json:"attempt"`

	// MaxAttempts is the total attempt budget.
	MaxAttempts int `json:"max_attempts"`
}

// TaskSettledData is the data for task settlement events.
type TaskSettledData struct {
	// TaskID is the task that settled.
	TaskID string `json:"task_id"`

	// Status is the terminal status ("COMPLETED" or "FAILED").
	Status string `json:"status"`

	// Retries is the number of retries consumed.
	Retries int `json:"retries"`

	// Duration is how long the task took, retries included.
	Duration time.Duration `json:"duration"`

	// Confidence is the handler-reported confidence, if any.
	Confidence float64 `json:"confidence,omitempty"`

	// Error is set if the task failed.
	Error string `json:"error,omitempty"`
}

// CircuitStateChangeData is the data for circuit breaker state changes.
type CircuitStateChangeData struct {
	// Scope is the resilience scope whose breaker changed state.
	Scope string `json:"scope"`

	// FromState is the previous circuit state.
	FromState string `json:"from_state"`

	// ToState is the new circuit state.
	ToState string `json:"to_state"`
}

// CriticalFailureData is the data for critical failure events.
type CriticalFailureData struct {
	// TaskID is the high-priority task that failed.
	TaskID string `json:"task_id"`

	// Priority is the task's priority.
	Priority int `json:"priority"`

	// Error is the terminal error message.
	Error string `json:"error"`
}

// ErrorData is the data for batch-level error events.
type ErrorData struct {
	// Error is the error message.
	Error string `json:"error"`

	// Stage is the stage where the error occurred.
	Stage string `json:"stage,omitempty"`

	// Recoverable indicates if the batch can continue.
	Recoverable bool `json:"recoverable"`
}
