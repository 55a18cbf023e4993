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
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/taskflow/observability"
	"github.com/AleutianAI/taskflow/scheduler/events"
	"github.com/AleutianAI/taskflow/scheduler/resilience"
)

var (
	tracer = otel.Tracer("taskflow.scheduler")
	meter  = otel.Meter("taskflow.scheduler")
)

// executor dispatches one wave at a time to a bounded worker pool.
//
// Description:
//
//	Tasks within a wave run concurrently, bounded by a weighted semaphore
//	sized to MaxWorkers. Each task runs through the resilience manager,
//	which applies the retry policy and the scope's circuit breaker. Results
//	flow back over a channel; the executor never touches ExecutionState,
//	which stays owned by the coordinator goroutine.
//
// Thread Safety:
//
//	executor is safe for concurrent use; per-wave state is local to each
//	ExecuteWave call.
type executor struct {
	registry *Registry
	manager  *resilience.Manager
	emitter  *events.Session
	logger   *slog.Logger
	config   Config

	// Metrics (initialized lazily)
	metricsOnce sync.Once
	taskLatency metric.Float64Histogram
	activeTasks metric.Int64UpDownCounter
}

// newExecutor creates a wave executor bound to one batch run's session.
func newExecutor(registry *Registry, manager *resilience.Manager, emitter *events.Session, logger *slog.Logger, config Config) *executor {
	return &executor{
		registry: registry,
		manager:  manager,
		emitter:  emitter,
		logger:   logger,
		config:   config,
	}
}

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but continues execution.
func (e *executor) initMetrics() {
	e.metricsOnce.Do(func() {
		var err error
		e.taskLatency, err = meter.Float64Histogram("scheduler_task_duration_seconds",
			metric.WithDescription("Time spent executing each task, retries included"),
			metric.WithUnit("s"),
		)
		if err != nil {
			e.logger.Warn("task latency metric unavailable", "error", err)
		}

		e.activeTasks, err = meter.Int64UpDownCounter("scheduler_active_tasks",
			metric.WithDescription("Number of currently executing tasks"),
		)
		if err != nil {
			e.logger.Warn("active task metric unavailable", "error", err)
		}
	})
}

// ExecuteWave runs every task of a wave and returns their settled results.
//
// Description:
//
//	Dispatches tasks in plan order (priority descending, then ID). A
//	weighted semaphore caps concurrent tasks at MaxWorkers; dispatch blocks
//	until a slot frees or the context is cancelled. Tasks that could not be
//	dispatched because of cancellation settle FAILED with ErrCancelled.
//	The wave always returns one result per task.
//
// Inputs:
//
//	ctx - Batch context; cancellation stops dispatch and fails the rest.
//	waveIdx - Zero-based wave index, for events and logs.
//	wave - Task IDs to run, in dispatch order.
//	state - Read-only access to specs and settled dependency results. The
//	        executor reads it before spawning workers, never after.
//
// Outputs:
//
//	[]TaskResult - One settled result per task in the wave.
func (e *executor) ExecuteWave(ctx context.Context, waveIdx int, wave Wave, state *ExecutionState) []TaskResult {
	e.initMetrics()

	ctx, span := tracer.Start(ctx, "scheduler.Wave")
	span.SetAttributes(
		attribute.Int("wave.index", waveIdx),
		attribute.Int("wave.size", len(wave)),
	)
	defer span.End()

	e.emitter.SetWave(waveIdx)
	e.emitter.Emit(events.TypeWaveStarted, &events.WaveStartedData{
		Index:   waveIdx,
		TaskIDs: append([]string{}, wave...),
	})
	observability.RecordWaveSize(len(wave))

	start := time.Now()
	sem := semaphore.NewWeighted(int64(e.config.MaxWorkers))
	results := make(chan TaskResult, len(wave))

	// Snapshot dispatch inputs before spawning anything; workers must not
	// read ExecutionState concurrently with the coordinator.
	type dispatch struct {
		spec TaskSpec
		tc   *TaskContext
	}
	dispatches := make([]dispatch, 0, len(wave))
	for _, id := range wave {
		dispatches = append(dispatches, dispatch{
			spec: state.Specs[id],
			tc:   &TaskContext{store: state.Store, deps: state.DependencyResults(id)},
		})
	}

	var wg sync.WaitGroup
	dispatched := 0
	for _, d := range dispatches {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		dispatched++
		wg.Add(1)
		go func(d dispatch) {
			defer wg.Done()
			defer sem.Release(1)
			results <- e.runTask(ctx, waveIdx, d.spec, d.tc)
		}(d)
	}

	// Tasks never dispatched settle as cancelled failures.
	for _, d := range dispatches[dispatched:] {
		results <- TaskResult{
			TaskID:   d.spec.ID,
			Status:   StatusFailed,
			Error:    ErrCancelled.Error(),
			Metadata: d.spec.Metadata,
		}
	}

	wg.Wait()
	close(results)

	settled := make([]TaskResult, 0, len(wave))
	completed, failed := 0, 0
	for r := range results {
		if r.Status == StatusCompleted {
			completed++
		} else {
			failed++
		}
		settled = append(settled, r)
	}

	if ctx.Err() != nil {
		span.SetStatus(codes.Error, "context canceled")
	} else {
		span.SetStatus(codes.Ok, "")
	}

	e.emitter.Emit(events.TypeWaveFinished, &events.WaveFinishedData{
		Index:     waveIdx,
		Completed: completed,
		Failed:    failed,
		Duration:  time.Since(start),
	})

	return settled
}

// runTask executes a single task through the resilience layer.
func (e *executor) runTask(ctx context.Context, waveIdx int, spec TaskSpec, tc *TaskContext) TaskResult {
	ctx, span := tracer.Start(ctx, "scheduler.Task")
	span.SetAttributes(
		attribute.String("task.id", spec.ID),
		attribute.String("task.handler", spec.Handler),
		attribute.Int("task.wave", waveIdx),
	)
	defer span.End()

	start := time.Now()
	observability.TaskStarted()
	if e.activeTasks != nil {
		e.activeTasks.Add(ctx, 1)
	}
	defer func() {
		observability.TaskFinished()
		if e.activeTasks != nil {
			e.activeTasks.Add(ctx, -1)
		}
	}()

	e.emitter.Emit(events.TypeTaskStarted, &events.TaskStartedData{
		TaskID:  spec.ID,
		Handler: spec.Handler,
		Wave:    waveIdx,
	})

	handler, ok := e.registry.Get(spec.Handler)
	if !ok {
		// Misconfiguration, not a transient fault: settle immediately
		// without consuming the retry budget.
		err := fmt.Errorf("%w: %q", ErrUnknownHandler, spec.Handler)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return e.settle(spec, start, nil, 0, err)
	}

	policy := e.config.Retry
	if spec.MaxRetries != nil {
		policy.MaxRetries = *spec.MaxRetries
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}
	scope := spec.ResilienceScope()
	maxAttempts := policy.Normalize().MaxRetries + 1

	// The manager is task-agnostic; count handler invocations here so retry
	// events carry the task ID. Circuit-open rejections never invoke the
	// handler and therefore never emit a retry event.
	var invocations atomic.Int64
	op := func(ctx context.Context) (any, error) {
		n := invocations.Add(1)
		if n > 1 {
			e.emitter.Emit(events.TypeTaskRetry, &events.TaskRetryData{
				TaskID:      spec.ID,
				Attempt:     int(n),
				MaxAttempts: maxAttempts,
			})
			observability.RecordTaskRetry(scope)
		}
		return handler.Run(ctx, spec, tc)
	}

	value, attempts, err := e.manager.Execute(ctx, scope, policy, timeout, op)
	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return e.settle(spec, start, nil, retries, err)
	}

	output, _ := value.(*Output)
	span.SetStatus(codes.Ok, "")
	return e.settle(spec, start, output, retries, nil)
}

// settle builds the terminal TaskResult and emits settlement telemetry.
func (e *executor) settle(spec TaskSpec, start time.Time, output *Output, retries int, err error) TaskResult {
	duration := time.Since(start)

	result := TaskResult{
		TaskID:   spec.ID,
		Duration: duration,
		Retries:  retries,
		Metadata: spec.Metadata,
	}
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
	} else {
		result.Status = StatusCompleted
		if output != nil {
			result.Output = output.Value
			result.Confidence = output.Confidence
			result.publish = output.Publish
		}
	}

	status := "completed"
	if result.Status == StatusFailed {
		status = "failed"
		e.logger.Warn("task failed",
			"task_id", spec.ID,
			"handler", spec.Handler,
			"retries", retries,
			"duration", duration,
			"error", result.Error)
	} else {
		e.logger.Debug("task completed",
			"task_id", spec.ID,
			"handler", spec.Handler,
			"retries", retries,
			"duration", duration)
	}

	observability.RecordTaskSettled(spec.Handler, status, duration.Seconds())
	if e.taskLatency != nil {
		e.taskLatency.Record(context.Background(), duration.Seconds(),
			metric.WithAttributes(
				attribute.String("handler", spec.Handler),
				attribute.String("status", status),
			))
	}

	e.emitter.Emit(events.TypeTaskSettled, &events.TaskSettledData{
		TaskID:     spec.ID,
		Status:     string(result.Status),
		Retries:    retries,
		Duration:   duration,
		Confidence: result.Confidence,
		Error:      result.Error,
	})

	return result
}
