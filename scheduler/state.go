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
	"fmt"
	"time"
)

// BatchStage represents a stage in the coordinator's control loop.
type BatchStage string

const (
	// StageAnalyze validates the task set and builds the dependency graph.
	StageAnalyze BatchStage = "ANALYZE"

	// StagePlan computes the wave partitioning.
	StagePlan BatchStage = "PLAN"

	// StageExecute runs the earliest wave with unsettled tasks.
	StageExecute BatchStage = "EXECUTE"

	// StageMerge records settled results and publishes shared context.
	StageMerge BatchStage = "MERGE"

	// StageValidate computes aggregate statistics for the wave.
	StageValidate BatchStage = "VALIDATE"

	// StageComplete indicates all tasks have settled.
	StageComplete BatchStage = "COMPLETE"

	// StageError indicates a fatal condition (cycle, cancellation, cap).
	StageError BatchStage = "ERROR"
)

// String returns the string representation of the stage.
func (s BatchStage) String() string {
	return string(s)
}

// IsTerminal returns true for COMPLETE and ERROR.
func (s BatchStage) IsTerminal() bool {
	return s == StageComplete || s == StageError
}

// StageMachine enforces valid transitions for the batch control loop.
//
// The stage machine enforces the following transition graph:
//
//	ANALYZE → PLAN        : Graph validated, no cycles
//	PLAN → EXECUTE        : Waves computed
//	EXECUTE → MERGE       : All tasks in the wave settled
//	MERGE → VALIDATE      : Results recorded, context published
//	VALIDATE → EXECUTE    : Tasks remain pending
//	VALIDATE → COMPLETE   : No tasks remain pending
//	* → ERROR             : Any stage can transition to ERROR
//
// Thread Safety:
//
//	StageMachine is immutable after construction and safe for concurrent use.
type StageMachine struct {
	transitions map[BatchStage]map[BatchStage]bool
}

// NewStageMachine creates a stage machine with all valid transitions.
func NewStageMachine() *StageMachine {
	sm := &StageMachine{
		transitions: make(map[BatchStage]map[BatchStage]bool),
	}

	for _, stage := range allStages() {
		sm.transitions[stage] = make(map[BatchStage]bool)
		// Any stage can fail.
		sm.transitions[stage][StageError] = true
	}

	sm.transitions[StageAnalyze][StagePlan] = true
	sm.transitions[StagePlan][StageExecute] = true
	sm.transitions[StageExecute][StageMerge] = true
	sm.transitions[StageMerge][StageValidate] = true
	sm.transitions[StageValidate][StageExecute] = true
	sm.transitions[StageValidate][StageComplete] = true

	return sm
}

func allStages() []BatchStage {
	return []BatchStage{
		StageAnalyze,
		StagePlan,
		StageExecute,
		StageMerge,
		StageValidate,
		StageComplete,
		StageError,
	}
}

// CanTransition checks if a transition is valid.
func (sm *StageMachine) CanTransition(from, to BatchStage) bool {
	if toMap, ok := sm.transitions[from]; ok {
		return toMap[to]
	}
	return false
}

// Transition moves the state to a new stage, validating the edge.
//
// Outputs:
//
//	error - ErrInvalidTransition (wrapped with the attempted edge) if the
//	        transition is not allowed.
func (sm *StageMachine) Transition(state *ExecutionState, to BatchStage) error {
	from := state.Stage
	if !sm.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	state.Stage = to
	return nil
}

// ExecutionState is the mutable root of one batch run.
//
// Description:
//
//	Holds the task specs, settled results, the running/completed/failed
//	sets, the shared context store, and the execution plan.
//
// Thread Safety:
//
//	ExecutionState is owned exclusively by the coordinator goroutine for
//	the duration of one run (actor pattern). Concurrent task completions
//	reach it through the coordinator's results channel, never by writing
//	directly, so no locking is needed here. The embedded ContextStore is
//	independently synchronized because handlers read it concurrently.
type ExecutionState struct {
	// SessionID identifies this batch run.
	SessionID string

	// Stage is the current control-loop stage.
	Stage BatchStage

	// StartedAt is when the run began.
	StartedAt time.Time

	// Specs holds every TaskSpec keyed by ID.
	Specs map[string]TaskSpec

	// Results holds settled TaskResults keyed by ID.
	Results map[string]TaskResult

	// Running is the set of dispatched, unsettled task IDs.
	Running map[string]struct{}

	// Completed is the set of successfully settled task IDs.
	Completed map[string]struct{}

	// Failed is the set of terminally failed task IDs.
	Failed map[string]struct{}

	// Store is the shared context store for this run.
	Store *ContextStore

	// Plan is the immutable wave partitioning.
	Plan *ExecutionPlan
}

// NewExecutionState creates the state for one batch run.
func NewExecutionState(sessionID string, tasks []TaskSpec, initial map[string]any) *ExecutionState {
	specs := make(map[string]TaskSpec, len(tasks))
	for _, t := range tasks {
		specs[t.ID] = t
	}
	return &ExecutionState{
		SessionID: sessionID,
		Stage:     StageAnalyze,
		StartedAt: time.Now(),
		Specs:     specs,
		Results:   make(map[string]TaskResult, len(tasks)),
		Running:   make(map[string]struct{}),
		Completed: make(map[string]struct{}),
		Failed:    make(map[string]struct{}),
		Store:     NewContextStore(initial),
	}
}

// IsSettled returns true if the task has completed or failed.
func (s *ExecutionState) IsSettled(id string) bool {
	if _, ok := s.Completed[id]; ok {
		return true
	}
	_, ok := s.Failed[id]
	return ok
}

// PendingCount returns the number of unsettled tasks.
func (s *ExecutionState) PendingCount() int {
	return len(s.Specs) - len(s.Completed) - len(s.Failed)
}

// Settle records a final TaskResult and updates the status sets.
//
// Description:
//
//	Called only by the coordinator goroutine when a result arrives on the
//	results channel. Overwrites nothing: a task settles exactly once.
func (s *ExecutionState) Settle(result TaskResult) {
	delete(s.Running, result.TaskID)
	s.Results[result.TaskID] = result
	switch result.Status {
	case StatusCompleted:
		s.Completed[result.TaskID] = struct{}{}
	case StatusFailed:
		s.Failed[result.TaskID] = struct{}{}
	}
}

// DependencyResults snapshots the settled results of a task's dependencies.
func (s *ExecutionState) DependencyResults(id string) map[string]TaskResult {
	spec, ok := s.Specs[id]
	if !ok {
		return nil
	}
	out := make(map[string]TaskResult, len(spec.DependsOn))
	for _, dep := range spec.DependsOn {
		if r, ok := s.Results[dep]; ok {
			out[dep] = r
		}
	}
	return out
}
