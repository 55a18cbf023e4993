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
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/taskflow/observability"
	"github.com/AleutianAI/taskflow/scheduler/events"
	"github.com/AleutianAI/taskflow/scheduler/resilience"
)

// Coordinator runs task batches through the analyze → plan → execute →
// merge → validate loop.
//
// Description:
//
//	Each Submit call owns a private ExecutionState (actor pattern): the
//	coordinator goroutine is the only writer, and concurrent task
//	completions reach it through the wave executor's result collection,
//	never by direct mutation. The handler registry, resilience manager,
//	and event emitter are shared across submissions.
//
// Thread Safety:
//
//	Coordinator is safe for concurrent use; Submit may be called from
//	multiple goroutines.
type Coordinator struct {
	config   Config
	registry *Registry
	manager  *resilience.Manager
	emitter  *events.Emitter
	logger   *slog.Logger
	stages   *StageMachine
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithEmitter sets the event emitter. Useful for sharing one emitter
// across coordinators or injecting a pre-subscribed one.
func WithEmitter(emitter *events.Emitter) CoordinatorOption {
	return func(c *Coordinator) {
		c.emitter = emitter
	}
}

// NewCoordinator creates a coordinator.
//
// Inputs:
//
//	config - Batch configuration; zero values are normalized to defaults.
//	registry - Handler registry. Must not be nil.
//	opts - Optional logger and emitter overrides.
//
// Outputs:
//
//	*Coordinator - The configured coordinator.
//	error - ErrInvalidConfig if the registry is nil or config is invalid.
func NewCoordinator(config Config, registry *Registry, opts ...CoordinatorOption) (*Coordinator, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: registry must not be nil", ErrInvalidConfig)
	}
	config = config.Normalize()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		config:   config,
		registry: registry,
		stages:   NewStageMachine(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.emitter == nil {
		c.emitter = events.NewEmitter()
	}

	c.manager = resilience.NewManager(c.logger, func(scope string, from, to resilience.BreakerState) {
		observability.RecordCircuitTransition(scope, to.String())
		c.emitter.Emit(events.TypeCircuitStateChange, &events.CircuitStateChangeData{
			Scope:     scope,
			FromState: from.String(),
			ToState:   to.String(),
		})
	})

	return c, nil
}

// Emitter returns the coordinator's event emitter for subscribing.
func (c *Coordinator) Emitter() *events.Emitter {
	return c.emitter
}

// Resilience returns the shared resilience manager, exposing per-scope
// breaker states and rolling metrics.
func (c *Coordinator) Resilience() *resilience.Manager {
	return c.manager
}

// Submit runs a batch of tasks to completion and returns the report.
//
// Description:
//
//	Validates the batch, derives the wave plan, then drives the stage loop:
//	each iteration executes the earliest wave with unsettled tasks, merges
//	settled results into the state, publishes task context, and validates
//	aggregates. Tasks dispatch once every dependency has settled, whether
//	the dependency completed or failed; handlers that need a successful
//	upstream inspect it through their TaskContext.
//
//	On cancellation, running tasks are interrupted, all unsettled tasks
//	settle FAILED, and Submit returns the partial report together with
//	ErrCancelled.
//
// Inputs:
//
//	ctx - Cancellation context for the whole batch. Must not be nil.
//	tasks - The batch's task descriptors. Must not be empty.
//	initial - Initial shared-context values. May be nil.
//
// Outputs:
//
//	*ExecutionReport - The batch outcome; non-nil whenever execution began,
//	                   including cancelled and partially failed runs.
//	error - Non-nil when the batch could not run (validation, cycle,
//	        planning) or was cancelled.
func (c *Coordinator) Submit(ctx context.Context, tasks []TaskSpec, initial map[string]any) (*ExecutionReport, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	sessionID := uuid.NewString()[:12]
	state := NewExecutionState(sessionID, tasks, initial)
	logger := c.logger.With("session_id", sessionID)

	ctx, span := tracer.Start(ctx, "scheduler.Batch")
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.Int("task_count", len(tasks)),
	)
	defer span.End()

	// Events go through a per-run session so concurrent Submit calls
	// sharing the emitter cannot mislabel each other's events.
	emitter := c.emitter.Session(sessionID)

	advance := func(to BatchStage) error {
		from := state.Stage
		if err := c.stages.Transition(state, to); err != nil {
			return err
		}
		emitter.Emit(events.TypeStageTransition, &events.StageTransitionData{
			FromStage: from.String(),
			ToStage:   to.String(),
		})
		return nil
	}

	fail := func(err error) (*ExecutionReport, error) {
		_ = advance(StageError)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		emitter.Emit(events.TypeError, &events.ErrorData{
			Error: err.Error(),
			Stage: state.Stage.String(),
		})
		logger.Error("batch failed before execution", "error", err)
		return nil, err
	}

	// === Analyze ===
	graph, err := Analyze(tasks)
	if err != nil {
		return fail(err)
	}
	if err := advance(StagePlan); err != nil {
		return fail(err)
	}

	// === Plan ===
	plan, err := Plan(tasks, graph)
	if err != nil {
		return fail(err)
	}
	if len(plan.Waves) > c.config.MaxWaves {
		return fail(fmt.Errorf("%w: plan needs %d waves, cap is %d",
			ErrMaxWavesExceeded, len(plan.Waves), c.config.MaxWaves))
	}
	state.Plan = plan

	logger.Info("batch planned",
		"task_count", len(tasks),
		"waves", len(plan.Waves),
		"max_workers", c.config.MaxWorkers)
	emitter.Emit(events.TypeBatchStarted, &events.BatchStartedData{
		TaskCount: len(tasks),
		WaveCount: len(plan.Waves),
	})

	// === Execute / Merge / Validate loop ===
	exec := newExecutor(c.registry, c.manager, emitter, logger, c.config)
	cancelled := false

	for waveIdx, wave := range plan.Waves {
		if err := advance(StageExecute); err != nil {
			return fail(err)
		}

		if ctx.Err() != nil {
			cancelled = true
			c.settleUnsettled(state)
			_ = advance(StageError)
			break
		}

		for _, id := range wave {
			state.Running[id] = struct{}{}
		}
		results := exec.ExecuteWave(ctx, waveIdx, wave, state)

		// === Merge ===
		if err := advance(StageMerge); err != nil {
			return fail(err)
		}
		for _, r := range results {
			state.Settle(r)
			if r.Status == StatusCompleted && len(r.publish) > 0 {
				state.Store.Merge(r.publish)
			}
		}

		// === Validate ===
		if err := advance(StageValidate); err != nil {
			return fail(err)
		}
		for _, r := range results {
			if r.Status != StatusFailed {
				continue
			}
			if spec, ok := state.Specs[r.TaskID]; ok && spec.Priority >= c.config.CriticalPriority {
				emitter.Emit(events.TypeCriticalFailure, &events.CriticalFailureData{
					TaskID:   r.TaskID,
					Priority: spec.Priority,
					Error:    r.Error,
				})
			}
		}

		if ctx.Err() != nil {
			cancelled = true
			c.settleUnsettled(state)
			_ = advance(StageError)
			break
		}
	}

	if !cancelled {
		if state.PendingCount() == 0 {
			if err := advance(StageComplete); err != nil {
				return fail(err)
			}
		} else {
			// Waves exhausted with tasks unsettled; should be unreachable
			// with a valid plan.
			c.settleUnsettled(state)
			_ = advance(StageError)
		}
	}

	report := c.buildReport(state)

	status := "complete"
	var runErr error
	if cancelled {
		status = "error"
		runErr = fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		span.SetStatus(codes.Error, runErr.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	observability.RecordBatchDuration(status, report.Duration.Seconds())
	observability.RecordBatchSuccessRate(report.SuccessRate)

	errStr := ""
	if runErr != nil {
		errStr = runErr.Error()
	}
	emitter.SetWave(-1)
	emitter.Emit(events.TypeBatchFinished, &events.BatchFinishedData{
		Completed:   len(state.Completed),
		Failed:      len(state.Failed),
		SuccessRate: report.SuccessRate,
		Duration:    report.Duration,
		Error:       errStr,
	})
	logger.Info("batch finished",
		"stage", state.Stage,
		"completed", len(state.Completed),
		"failed", len(state.Failed),
		"success_rate", report.SuccessRate,
		"duration", report.Duration)

	return report, runErr
}

// settleUnsettled fails every task that has not settled yet. Used on
// cancellation so the report covers the whole batch.
func (c *Coordinator) settleUnsettled(state *ExecutionState) {
	for id := range state.Specs {
		if state.IsSettled(id) {
			continue
		}
		state.Settle(TaskResult{
			TaskID:   id,
			Status:   StatusFailed,
			Error:    ErrCancelled.Error(),
			Metadata: state.Specs[id].Metadata,
		})
	}
}

// buildReport computes the batch aggregates from settled state.
func (c *Coordinator) buildReport(state *ExecutionState) *ExecutionReport {
	total := len(state.Specs)

	var confidenceSum float64
	confidenceCount := 0
	critical := make([]string, 0)
	for id, r := range state.Results {
		switch r.Status {
		case StatusCompleted:
			confidenceSum += r.Confidence
			confidenceCount++
		case StatusFailed:
			if spec, ok := state.Specs[id]; ok && spec.Priority >= c.config.CriticalPriority {
				critical = append(critical, id)
			}
		}
	}

	sort.Strings(critical)

	meanConfidence := 0.0
	if confidenceCount > 0 {
		meanConfidence = confidenceSum / float64(confidenceCount)
	}

	successRate := 0.0
	if total > 0 {
		successRate = float64(len(state.Completed)) / float64(total)
	}

	waves := 0
	parallelism := 0.0
	if state.Plan != nil {
		waves = len(state.Plan.Waves)
		if waves > 0 && total > 0 {
			parallelism = (float64(total) / float64(waves)) / float64(total)
		}
	}

	results := make(map[string]TaskResult, len(state.Results))
	for id, r := range state.Results {
		results[id] = r
	}

	return &ExecutionReport{
		SessionID:        state.SessionID,
		Results:          results,
		Context:          state.Store.Snapshot(),
		SuccessRate:      successRate,
		MeanConfidence:   meanConfidence,
		CriticalFailures: critical,
		Duration:         time.Since(state.StartedAt),
		Parallelism:      parallelism,
		Waves:            waves,
	}
}
