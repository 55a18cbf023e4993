// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the scheduler package.
var (
	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNoTasks is returned when a batch contains no tasks.
	ErrNoTasks = errors.New("batch must contain at least one task")

	// ErrDuplicateTask is returned when two tasks share an ID.
	ErrDuplicateTask = errors.New("duplicate task id")

	// ErrUnknownDependency is returned when a task depends on an ID that
	// is not part of the batch.
	ErrUnknownDependency = errors.New("dependency references unknown task")

	// ErrCycleDetected is returned when the dependency graph contains a cycle.
	ErrCycleDetected = errors.New("cycle detected in dependency graph")

	// ErrPlanIncomplete is returned when the planner exhausts the ready set
	// with tasks still unreached. This indicates an undetected cycle and is
	// treated as a fatal planning error.
	ErrPlanIncomplete = errors.New("planning left tasks unreached")

	// ErrUnknownHandler is returned when a task names an unregistered
	// handler. The task settles FAILED immediately without consuming a retry.
	ErrUnknownHandler = errors.New("handler not registered")

	// ErrCancelled is returned when the batch run is cancelled. Cancelled
	// tasks settle as FAILED and no further waves start.
	ErrCancelled = errors.New("batch run cancelled")

	// ErrMaxWavesExceeded is returned when the wave loop hits the safety cap.
	ErrMaxWavesExceeded = errors.New("maximum wave count exceeded")

	// ErrInvalidTransition indicates an invalid batch stage transition.
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("invalid scheduler configuration")
)

// CycleError reports a dependency cycle with the path that closes it.
type CycleError struct {
	// Path is the cycle, starting and ending at the same task ID.
	Path []string
}

// Error returns the cycle description.
func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected: %s", strings.Join(e.Path, " -> "))
}

// Unwrap makes the error match ErrCycleDetected with errors.Is.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

// NewCycleError creates a CycleError.
func NewCycleError(path []string) *CycleError {
	return &CycleError{Path: path}
}

// TaskError wraps an error with the task that caused it.
type TaskError struct {
	TaskID string
	Err    error
}

// Error returns the error message.
func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q: %v", e.TaskID, e.Err)
}

// Unwrap returns the underlying error.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// NewTaskError creates a TaskError.
func NewTaskError(taskID string, err error) *TaskError {
	return &TaskError{TaskID: taskID, Err: err}
}
