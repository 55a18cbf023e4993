// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler provides a dependency-aware parallel task scheduler.
//
// The scheduler takes a batch of interdependent tasks, derives a safe
// execution order from the dependency graph, and runs the tasks in waves:
// sets of tasks whose dependencies have all settled in earlier waves. Tasks
// within a wave run concurrently, bounded by a worker limit, and each task
// runs through a resilience layer (retry with configurable backoff, circuit
// breaking, rolling metrics) so that a degraded downstream dependency does
// not take the whole batch down with it.
//
// The high-level flow is:
//
//	tasks → Analyze (cycle check) → Plan (waves) →
//	    Execute wave → Merge results → Validate → ... → ExecutionReport
//
// Thread Safety:
//
//	The Coordinator is safe for concurrent use; each Submit call owns its
//	own ExecutionState. Handlers must be safe for concurrent use since
//	tasks in a wave execute in parallel.
package scheduler

import (
	"context"
	"time"
)

// TaskStatus represents the lifecycle state of a single task.
//
// Valid transitions are PENDING → RUNNING → (COMPLETED | FAILED). Retry
// attempts inside the resilience layer are RUNNING → RUNNING self-transitions
// and are not externally visible as separate states.
type TaskStatus string

const (
	// StatusPending indicates the task has not been dispatched yet.
	StatusPending TaskStatus = "PENDING"

	// StatusRunning indicates the task is executing (possibly retrying).
	StatusRunning TaskStatus = "RUNNING"

	// StatusCompleted indicates the task finished successfully.
	StatusCompleted TaskStatus = "COMPLETED"

	// StatusFailed indicates the task settled with a terminal failure.
	StatusFailed TaskStatus = "FAILED"
)

// IsTerminal returns true if the status is a settled state.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TaskSpec is the immutable descriptor of one unit of work.
//
// Description:
//
//	A TaskSpec is created once per batch submission and never mutated after
//	plan construction. The scheduler treats the work itself as opaque: the
//	Handler name is resolved through the handler registry at dispatch time.
type TaskSpec struct {
	// ID uniquely identifies the task within the batch.
	ID string `json:"id" yaml:"id"`

	// Handler names the registered handler that performs the work.
	Handler string `json:"handler" yaml:"handler"`

	// DependsOn lists task IDs that must settle in earlier waves.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// Priority orders tasks within a wave (higher dispatches first).
	// It is advisory only and never a correctness dependency.
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`

	// Timeout bounds a single attempt. Zero means the coordinator default.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxRetries overrides the retry budget after the first attempt.
	// Nil inherits the coordinator's default policy; an explicit zero
	// means a single attempt. Pointer so a batch file omitting the key
	// is distinguishable from one setting it to zero.
	MaxRetries *int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`

	// Scope overrides the circuit-breaker/metrics partition key.
	// Empty means the handler name is used.
	Scope string `json:"scope,omitempty" yaml:"scope,omitempty"`

	// Metadata is an arbitrary bag passed through to the handler and result.
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ResilienceScope returns the circuit-breaker partition key for the task.
func (t TaskSpec) ResilienceScope() string {
	if t.Scope != "" {
		return t.Scope
	}
	return t.Handler
}

// TaskResult records the final settlement of one task.
//
// Description:
//
//	A TaskResult is written once per task when it settles (success or
//	terminal failure); it is not rewritten on each retry attempt. Results
//	are keyed by task ID in the ExecutionReport.
type TaskResult struct {
	// TaskID is the task this result belongs to.
	TaskID string `json:"task_id"`

	// Status is COMPLETED or FAILED on a settled result.
	Status TaskStatus `json:"status"`

	// Output is the handler's output payload (opaque to the scheduler).
	Output any `json:"output,omitempty"`

	// Error describes the terminal failure, empty on success.
	Error string `json:"error,omitempty"`

	// Duration is wall-clock time from dispatch to settlement, including
	// retries and backoff delays.
	Duration time.Duration `json:"duration"`

	// Confidence is an optional handler-reported score in [0, 1].
	Confidence float64 `json:"confidence,omitempty"`

	// Retries is the number of retry attempts consumed (0 means the task
	// settled on its first attempt).
	Retries int `json:"retries"`

	// Metadata carries the TaskSpec metadata through to the report.
	Metadata map[string]any `json:"metadata,omitempty"`

	// publish holds the key/value pairs the task shares with downstream
	// tasks. The coordinator merges it into the context store during the
	// merge stage; it is not part of the serialized result.
	publish map[string]any
}

// Output is what a handler returns on success.
//
// Description:
//
//	Value is the opaque result payload. Publish lists key/value pairs the
//	task explicitly shares with downstream tasks through the context store;
//	nothing is shared implicitly. Confidence is optional (zero is treated
//	as "not reported" only by convention, the scheduler does not interpret
//	it beyond averaging).
type Output struct {
	// Value is the result payload stored on the TaskResult.
	Value any

	// Publish contains key/value pairs merged into the shared context
	// store after the task completes. Existing keys are overwritten
	// (last-writer-wins).
	Publish map[string]any

	// Confidence is an optional self-reported score in [0, 1].
	Confidence float64
}

// Handler performs the actual work of a task.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use; tasks in a wave run
//	in parallel and may share a handler.
type Handler interface {
	// Run executes one attempt of the task.
	//
	// Inputs:
	//   ctx - Context carrying the per-attempt timeout and batch cancellation.
	//   task - The immutable task descriptor.
	//   tc - Read access to upstream results and the shared context store.
	//
	// Outputs:
	//   *Output - The task output on success.
	//   error - Non-nil to fail the attempt (retried per policy).
	Run(ctx context.Context, task TaskSpec, tc *TaskContext) (*Output, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, task TaskSpec, tc *TaskContext) (*Output, error)

// Run calls the wrapped function.
func (f HandlerFunc) Run(ctx context.Context, task TaskSpec, tc *TaskContext) (*Output, error) {
	return f(ctx, task, tc)
}

// TaskContext gives a running task read access to upstream state.
//
// Description:
//
//	TaskContext is handed to handlers at dispatch time. It exposes the
//	shared context store (values published by completed upstream tasks and
//	the batch's initial context) and the settled results of the task's
//	declared dependencies.
//
// Thread Safety:
//
//	Safe for concurrent use. The dependency results map is a snapshot taken
//	at dispatch and is never mutated afterwards.
type TaskContext struct {
	store *ContextStore
	deps  map[string]TaskResult
}

// Value returns a shared-context value by key.
func (tc *TaskContext) Value(key string) (any, bool) {
	return tc.store.Get(key)
}

// Dependency returns the settled result of a declared dependency.
func (tc *TaskContext) Dependency(id string) (TaskResult, bool) {
	r, ok := tc.deps[id]
	return r, ok
}

// Dependencies returns the settled results of all declared dependencies.
func (tc *TaskContext) Dependencies() map[string]TaskResult {
	out := make(map[string]TaskResult, len(tc.deps))
	for k, v := range tc.deps {
		out[k] = v
	}
	return out
}

// Wave is an ordered set of task IDs with no unresolved dependencies among
// earlier waves. Order within a wave is a scheduling preference (priority
// descending, then ID), never a correctness constraint.
type Wave []string

// ExecutionPlan is the ordered sequence of waves for one batch run.
//
// Description:
//
//	Computed once from a TaskSpec set and immutable afterwards. Every task
//	ID appears in exactly one wave, and all of a task's dependencies appear
//	in strictly earlier waves.
type ExecutionPlan struct {
	// Waves holds the wave partitioning in execution order.
	Waves []Wave `json:"waves"`
}

// TaskCount returns the total number of tasks across all waves.
func (p *ExecutionPlan) TaskCount() int {
	n := 0
	for _, w := range p.Waves {
		n += len(w)
	}
	return n
}

// ExecutionReport is the final outcome of one batch run.
//
// Description:
//
//	The report always returns on partial failure; callers distinguish "some
//	tasks failed" (inspect Results) from "batch could not run" (Submit
//	returned an error).
type ExecutionReport struct {
	// SessionID identifies this batch run in logs, traces, and events.
	SessionID string `json:"session_id"`

	// Results holds the settled result for every task, keyed by task ID.
	Results map[string]TaskResult `json:"results"`

	// Context is the final contents of the shared context store.
	Context map[string]any `json:"context"`

	// SuccessRate is completed tasks divided by total tasks.
	SuccessRate float64 `json:"success_rate"`

	// MeanConfidence is the average confidence across completed tasks.
	MeanConfidence float64 `json:"mean_confidence"`

	// CriticalFailures lists failed task IDs whose priority met or
	// exceeded the configured critical threshold.
	CriticalFailures []string `json:"critical_failures,omitempty"`

	// Duration is the wall-clock time of the whole batch run.
	Duration time.Duration `json:"duration"`

	// Parallelism is the achieved-parallelism metric: average tasks per
	// wave divided by total tasks.
	Parallelism float64 `json:"parallelism"`

	// Waves is the number of waves executed.
	Waves int `json:"waves"`
}
