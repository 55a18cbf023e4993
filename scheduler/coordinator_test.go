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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/taskflow/scheduler/events"
	"github.com/AleutianAI/taskflow/scheduler/resilience"
)

// fastConfig keeps retry delays in the low-millisecond range so failure
// paths don't slow the suite down.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.DefaultTimeout = 2 * time.Second
	cfg.Retry = resilience.Policy{
		Strategy:         resilience.StrategyFixed,
		BaseDelay:        time.Millisecond,
		MaxDelay:         time.Millisecond,
		Multiplier:       1,
		MaxRetries:       0,
		BreakerThreshold: 100,
		BreakerCooldown:  time.Millisecond,
	}
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// retries builds the per-task budget override (nil means inherit).
func retries(n int) *int {
	return &n
}

func newTestCoordinator(t *testing.T, cfg Config, registry *Registry) *Coordinator {
	t.Helper()
	coord, err := NewCoordinator(cfg, registry, WithLogger(quietLogger()))
	require.NoError(t, err)
	return coord
}

func TestNewCoordinator_NilRegistry(t *testing.T) {
	_, err := NewCoordinator(DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSubmit_NilContext(t *testing.T) {
	coord := newTestCoordinator(t, fastConfig(), NewRegistry())
	_, err := coord.Submit(nil, []TaskSpec{{ID: "a", Handler: "noop"}}, nil) //nolint:staticcheck
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestSubmit_EmptyBatch(t *testing.T) {
	coord := newTestCoordinator(t, fastConfig(), NewRegistry())
	report, err := coord.Submit(context.Background(), nil, nil)
	assert.Nil(t, report)
	assert.ErrorIs(t, err, ErrNoTasks)
}

func TestSubmit_CycleRejectsBatch(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("noop", noopHandler))
	coord := newTestCoordinator(t, fastConfig(), registry)

	report, err := coord.Submit(context.Background(), []TaskSpec{
		{ID: "a", Handler: "noop", DependsOn: []string{"b"}},
		{ID: "b", Handler: "noop", DependsOn: []string{"a"}},
	}, nil)

	assert.Nil(t, report)
	var cycleErr *CycleError
	assert.ErrorAs(t, err, &cycleErr)
}

func TestSubmit_AllTasksComplete(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("noop", noopHandler))
	coord := newTestCoordinator(t, fastConfig(), registry)

	report, err := coord.Submit(context.Background(), []TaskSpec{
		{ID: "a", Handler: "noop"},
		{ID: "b", Handler: "noop", DependsOn: []string{"a"}},
	}, nil)

	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 1.0, report.SuccessRate)
	assert.Equal(t, 2, report.Waves)
	assert.Len(t, report.Results, 2)
	assert.Equal(t, StatusCompleted, report.Results["a"].Status)
	assert.Equal(t, StatusCompleted, report.Results["b"].Status)
	assert.NotEmpty(t, report.SessionID)
}

func TestSubmit_DiamondWithFailedBranch(t *testing.T) {
	// B fails terminally; D must still dispatch once B has settled and see
	// B's failure through its task context.
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("ok", noopHandler))
	require.NoError(t, registry.RegisterFunc("fail", HandlerFunc(
		func(ctx context.Context, task TaskSpec, tc *TaskContext) (*Output, error) {
			return nil, errors.New("boom")
		})))

	var sawFailedDep atomic.Bool
	require.NoError(t, registry.RegisterFunc("join", HandlerFunc(
		func(ctx context.Context, task TaskSpec, tc *TaskContext) (*Output, error) {
			if dep, ok := tc.Dependency("b"); ok && dep.Status == StatusFailed {
				sawFailedDep.Store(true)
			}
			return &Output{}, nil
		})))

	coord := newTestCoordinator(t, fastConfig(), registry)
	report, err := coord.Submit(context.Background(), []TaskSpec{
		{ID: "a", Handler: "ok"},
		{ID: "b", Handler: "fail", DependsOn: []string{"a"}},
		{ID: "c", Handler: "ok", DependsOn: []string{"a"}},
		{ID: "d", Handler: "join", DependsOn: []string{"b", "c"}},
	}, nil)

	require.NoError(t, err, "partial failure is a report, not a submit error")
	require.NotNil(t, report)
	assert.Equal(t, 0.75, report.SuccessRate)
	assert.Equal(t, StatusFailed, report.Results["b"].Status)
	assert.Equal(t, StatusCompleted, report.Results["d"].Status)
	assert.True(t, sawFailedDep.Load(), "d must observe b's settled failure")
}

func TestSubmit_WorkerLimitBoundsConcurrency(t *testing.T) {
	var inFlight, maxInFlight atomic.Int64
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("track", HandlerFunc(
		func(ctx context.Context, task TaskSpec, tc *TaskContext) (*Output, error) {
			n := inFlight.Add(1)
			for {
				prev := maxInFlight.Load()
				if n <= prev || maxInFlight.CompareAndSwap(prev, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return &Output{}, nil
		})))

	cfg := fastConfig()
	cfg.MaxWorkers = 3
	coord := newTestCoordinator(t, cfg, registry)

	tasks := make([]TaskSpec, 10)
	for i := range tasks {
		tasks[i] = TaskSpec{ID: fmt.Sprintf("t%02d", i), Handler: "track"}
	}

	report, err := coord.Submit(context.Background(), tasks, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, report.SuccessRate)
	assert.Equal(t, 1, report.Waves)
	assert.LessOrEqual(t, maxInFlight.Load(), int64(3))
	assert.Greater(t, maxInFlight.Load(), int64(0))
}

func TestSubmit_RetryBudgetExhausted(t *testing.T) {
	var calls atomic.Int64
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("flaky", HandlerFunc(
		func(ctx context.Context, task TaskSpec, tc *TaskContext) (*Output, error) {
			calls.Add(1)
			return nil, errors.New("transient")
		})))

	coord := newTestCoordinator(t, fastConfig(), registry)
	report, err := coord.Submit(context.Background(), []TaskSpec{
		{ID: "a", Handler: "flaky", MaxRetries: retries(2)},
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, int64(3), calls.Load(), "budget of 2 retries means 3 attempts")
	assert.Equal(t, StatusFailed, report.Results["a"].Status)
	assert.Equal(t, 2, report.Results["a"].Retries)
}

func TestSubmit_OmittedRetriesInheritConfigBudget(t *testing.T) {
	var inherit, explicit atomic.Int64
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("inherit", HandlerFunc(
		func(ctx context.Context, task TaskSpec, tc *TaskContext) (*Output, error) {
			inherit.Add(1)
			return nil, errors.New("boom")
		})))
	require.NoError(t, registry.RegisterFunc("explicit", HandlerFunc(
		func(ctx context.Context, task TaskSpec, tc *TaskContext) (*Output, error) {
			explicit.Add(1)
			return nil, errors.New("boom")
		})))

	cfg := fastConfig()
	cfg.Retry.MaxRetries = 2
	coord := newTestCoordinator(t, cfg, registry)

	report, err := coord.Submit(context.Background(), []TaskSpec{
		{ID: "a", Handler: "inherit"},
		{ID: "b", Handler: "explicit", MaxRetries: retries(0)},
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, int64(3), inherit.Load(),
		"a task without a budget inherits the config's 2 retries")
	assert.Equal(t, int64(1), explicit.Load(),
		"an explicit zero budget means a single attempt")
	assert.Equal(t, 2, report.Results["a"].Retries)
	assert.Equal(t, 0, report.Results["b"].Retries)
}

func TestSubmit_RetrySucceedsWithinBudget(t *testing.T) {
	var calls atomic.Int64
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("flaky", HandlerFunc(
		func(ctx context.Context, task TaskSpec, tc *TaskContext) (*Output, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("transient")
			}
			return &Output{Value: "ok"}, nil
		})))

	coord := newTestCoordinator(t, fastConfig(), registry)
	report, err := coord.Submit(context.Background(), []TaskSpec{
		{ID: "a", Handler: "flaky", MaxRetries: retries(5)},
	}, nil)

	require.NoError(t, err)
	r := report.Results["a"]
	assert.Equal(t, StatusCompleted, r.Status)
	assert.Equal(t, 2, r.Retries)
	assert.Equal(t, "ok", r.Output)
}

func TestSubmit_PublishedContextFlowsDownstream(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("producer", HandlerFunc(
		func(ctx context.Context, task TaskSpec, tc *TaskContext) (*Output, error) {
			return &Output{
				Value:   "artifact",
				Publish: map[string]any{"producer.out": "artifact"},
			}, nil
		})))

	var sawValue atomic.Bool
	require.NoError(t, registry.RegisterFunc("consumer", HandlerFunc(
		func(ctx context.Context, task TaskSpec, tc *TaskContext) (*Output, error) {
			if v, ok := tc.Value("producer.out"); ok && v == "artifact" {
				sawValue.Store(true)
			}
			if v, ok := tc.Value("region"); !ok || v != "us-east1" {
				return nil, errors.New("initial context missing")
			}
			return &Output{}, nil
		})))

	coord := newTestCoordinator(t, fastConfig(), registry)
	report, err := coord.Submit(context.Background(), []TaskSpec{
		{ID: "p", Handler: "producer"},
		{ID: "c", Handler: "consumer", DependsOn: []string{"p"}},
	}, map[string]any{"region": "us-east1"})

	require.NoError(t, err)
	assert.Equal(t, 1.0, report.SuccessRate)
	assert.True(t, sawValue.Load())
	assert.Equal(t, "artifact", report.Context["producer.out"])
	assert.Equal(t, "us-east1", report.Context["region"])
}

func TestSubmit_UnknownHandlerFailsWithoutRetries(t *testing.T) {
	var calls atomic.Int64
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("counted", HandlerFunc(
		func(ctx context.Context, task TaskSpec, tc *TaskContext) (*Output, error) {
			calls.Add(1)
			return &Output{}, nil
		})))

	coord := newTestCoordinator(t, fastConfig(), registry)
	report, err := coord.Submit(context.Background(), []TaskSpec{
		{ID: "good", Handler: "counted"},
		{ID: "bad", Handler: "ghost"},
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 0.5, report.SuccessRate)

	bad := report.Results["bad"]
	assert.Equal(t, StatusFailed, bad.Status)
	assert.Equal(t, 0, bad.Retries, "an unregistered handler burns no retry budget")
	assert.NotEmpty(t, bad.Error)
	assert.Equal(t, int64(1), calls.Load())
}

func TestSubmit_FailedDependencyDoesNotBlockDispatch(t *testing.T) {
	var downstreamRan atomic.Bool
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("fail", HandlerFunc(
		func(ctx context.Context, task TaskSpec, tc *TaskContext) (*Output, error) {
			return nil, errors.New("boom")
		})))
	require.NoError(t, registry.RegisterFunc("after", HandlerFunc(
		func(ctx context.Context, task TaskSpec, tc *TaskContext) (*Output, error) {
			downstreamRan.Store(true)
			return &Output{}, nil
		})))

	coord := newTestCoordinator(t, fastConfig(), registry)
	report, err := coord.Submit(context.Background(), []TaskSpec{
		{ID: "up", Handler: "fail"},
		{ID: "down", Handler: "after", DependsOn: []string{"up"}},
	}, nil)

	require.NoError(t, err)
	assert.True(t, downstreamRan.Load(), "settled failure is still settled")
	assert.Equal(t, StatusCompleted, report.Results["down"].Status)
}

func TestSubmit_Cancellation(t *testing.T) {
	started := make(chan struct{})
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("block", HandlerFunc(
		func(ctx context.Context, task TaskSpec, tc *TaskContext) (*Output, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})))
	require.NoError(t, registry.RegisterFunc("noop", noopHandler))

	coord := newTestCoordinator(t, fastConfig(), registry)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	report, err := coord.Submit(ctx, []TaskSpec{
		{ID: "a", Handler: "block"},
		{ID: "b", Handler: "noop", DependsOn: []string{"a"}},
	}, nil)

	require.ErrorIs(t, err, ErrCancelled)
	require.NotNil(t, report, "cancellation still produces a partial report")
	assert.Equal(t, StatusFailed, report.Results["a"].Status)
	assert.Equal(t, StatusFailed, report.Results["b"].Status)
	assert.Equal(t, 0.0, report.SuccessRate)
}

func TestSubmit_CriticalFailures(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("fail", HandlerFunc(
		func(ctx context.Context, task TaskSpec, tc *TaskContext) (*Output, error) {
			return nil, errors.New("boom")
		})))
	require.NoError(t, registry.RegisterFunc("noop", noopHandler))

	cfg := fastConfig()
	cfg.CriticalPriority = 50
	coord := newTestCoordinator(t, cfg, registry)

	report, err := coord.Submit(context.Background(), []TaskSpec{
		{ID: "vital", Handler: "fail", Priority: 90},
		{ID: "minor", Handler: "fail", Priority: 1},
		{ID: "fine", Handler: "noop", Priority: 90},
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"vital"}, report.CriticalFailures)

	critical := coord.Emitter().BufferByType(events.TypeCriticalFailure)
	require.Len(t, critical, 1)
	data, ok := critical[0].Data.(*events.CriticalFailureData)
	require.True(t, ok)
	assert.Equal(t, "vital", data.TaskID)
	assert.Equal(t, 90, data.Priority)
}

func TestSubmit_MeanConfidence(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("confident", HandlerFunc(
		func(ctx context.Context, task TaskSpec, tc *TaskContext) (*Output, error) {
			c, _ := task.Metadata["confidence"].(float64)
			return &Output{Confidence: c}, nil
		})))
	require.NoError(t, registry.RegisterFunc("fail", HandlerFunc(
		func(ctx context.Context, task TaskSpec, tc *TaskContext) (*Output, error) {
			return nil, errors.New("boom")
		})))

	coord := newTestCoordinator(t, fastConfig(), registry)
	report, err := coord.Submit(context.Background(), []TaskSpec{
		{ID: "a", Handler: "confident", Metadata: map[string]any{"confidence": 0.5}},
		{ID: "b", Handler: "confident", Metadata: map[string]any{"confidence": 1.0}},
		{ID: "c", Handler: "fail"},
	}, nil)

	require.NoError(t, err)
	assert.InDelta(t, 0.75, report.MeanConfidence, 1e-9,
		"failed tasks are excluded from the confidence average")
}

func TestSubmit_EventSequence(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("noop", noopHandler))
	coord := newTestCoordinator(t, fastConfig(), registry)

	_, err := coord.Submit(context.Background(), []TaskSpec{
		{ID: "a", Handler: "noop"},
		{ID: "b", Handler: "noop", DependsOn: []string{"a"}},
	}, nil)
	require.NoError(t, err)

	emitter := coord.Emitter()
	assert.Len(t, emitter.BufferByType(events.TypeBatchStarted), 1)
	assert.Len(t, emitter.BufferByType(events.TypeWaveStarted), 2)
	assert.Len(t, emitter.BufferByType(events.TypeWaveFinished), 2)
	assert.Len(t, emitter.BufferByType(events.TypeTaskStarted), 2)
	assert.Len(t, emitter.BufferByType(events.TypeTaskSettled), 2)
	assert.Len(t, emitter.BufferByType(events.TypeBatchFinished), 1)

	buf := emitter.Buffer()
	require.NotEmpty(t, buf)
	assert.Equal(t, events.TypeStageTransition, buf[0].Type,
		"the analyze->plan transition precedes everything else")
	assert.Equal(t, events.TypeBatchFinished, buf[len(buf)-1].Type)

	finished, ok := buf[len(buf)-1].Data.(*events.BatchFinishedData)
	require.True(t, ok)
	assert.Equal(t, 2, finished.Completed)
	assert.Equal(t, 0, finished.Failed)
	assert.Equal(t, 1.0, finished.SuccessRate)
}

func TestSubmit_EmitsStageTransitions(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("noop", noopHandler))
	coord := newTestCoordinator(t, fastConfig(), registry)

	_, err := coord.Submit(context.Background(), []TaskSpec{
		{ID: "a", Handler: "noop"},
	}, nil)
	require.NoError(t, err)

	transitions := coord.Emitter().BufferByType(events.TypeStageTransition)
	require.Len(t, transitions, 5)

	want := [][2]string{
		{"ANALYZE", "PLAN"},
		{"PLAN", "EXECUTE"},
		{"EXECUTE", "MERGE"},
		{"MERGE", "VALIDATE"},
		{"VALIDATE", "COMPLETE"},
	}
	for i, event := range transitions {
		data, ok := event.Data.(*events.StageTransitionData)
		require.True(t, ok)
		assert.Equal(t, want[i][0], data.FromStage, "transition %d", i)
		assert.Equal(t, want[i][1], data.ToStage, "transition %d", i)
	}
}

func TestSubmit_StageTransitionToErrorOnCycle(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("noop", noopHandler))
	coord := newTestCoordinator(t, fastConfig(), registry)

	_, err := coord.Submit(context.Background(), []TaskSpec{
		{ID: "a", Handler: "noop", DependsOn: []string{"a"}},
	}, nil)
	require.Error(t, err)

	transitions := coord.Emitter().BufferByType(events.TypeStageTransition)
	require.Len(t, transitions, 1)
	data, ok := transitions[0].Data.(*events.StageTransitionData)
	require.True(t, ok)
	assert.Equal(t, "ANALYZE", data.FromStage)
	assert.Equal(t, "ERROR", data.ToStage)
}

func TestSubmit_RetryEventsOnlyForRealRetries(t *testing.T) {
	var calls atomic.Int64
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("flaky", HandlerFunc(
		func(ctx context.Context, task TaskSpec, tc *TaskContext) (*Output, error) {
			if calls.Add(1) < 2 {
				return nil, errors.New("transient")
			}
			return &Output{}, nil
		})))

	coord := newTestCoordinator(t, fastConfig(), registry)
	_, err := coord.Submit(context.Background(), []TaskSpec{
		{ID: "a", Handler: "flaky", MaxRetries: retries(3)},
	}, nil)
	require.NoError(t, err)

	retries := coord.Emitter().BufferByType(events.TypeTaskRetry)
	require.Len(t, retries, 1)
	data, ok := retries[0].Data.(*events.TaskRetryData)
	require.True(t, ok)
	assert.Equal(t, "a", data.TaskID)
	assert.Equal(t, 2, data.Attempt)
}

func TestSubmit_MaxWavesExceeded(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("noop", noopHandler))

	cfg := fastConfig()
	cfg.MaxWaves = 2
	coord := newTestCoordinator(t, cfg, registry)

	report, err := coord.Submit(context.Background(), []TaskSpec{
		{ID: "a", Handler: "noop"},
		{ID: "b", Handler: "noop", DependsOn: []string{"a"}},
		{ID: "c", Handler: "noop", DependsOn: []string{"b"}},
	}, nil)

	assert.Nil(t, report)
	assert.ErrorIs(t, err, ErrMaxWavesExceeded)
}

func TestSubmit_PerTaskScopePartitionsBreakers(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("fail", HandlerFunc(
		func(ctx context.Context, task TaskSpec, tc *TaskContext) (*Output, error) {
			return nil, errors.New("boom")
		})))

	cfg := fastConfig()
	cfg.Retry.BreakerThreshold = 2
	coord := newTestCoordinator(t, cfg, registry)

	_, err := coord.Submit(context.Background(), []TaskSpec{
		{ID: "a", Handler: "fail", Scope: "svc-a", MaxRetries: retries(3)},
	}, nil)
	require.NoError(t, err)

	states := coord.Resilience().BreakerStates()
	assert.Equal(t, resilience.BreakerOpen, states["svc-a"])
	_, exists := states["fail"]
	assert.False(t, exists, "scope override must not touch the handler-name scope")

	transitions := coord.Emitter().BufferByType(events.TypeCircuitStateChange)
	require.NotEmpty(t, transitions)
	data, ok := transitions[0].Data.(*events.CircuitStateChangeData)
	require.True(t, ok)
	assert.Equal(t, "svc-a", data.Scope)
	assert.Equal(t, "OPEN", data.ToState)
}

func TestSubmit_ConcurrentBatches(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.RegisterFunc("noop", noopHandler))
	coord := newTestCoordinator(t, fastConfig(), registry)

	// Count events per session; interleaved runs must not stomp each
	// other's labels.
	var mu sync.Mutex
	perSession := make(map[string]map[events.Type]int)
	coord.Emitter().Subscribe(func(event *events.Event) {
		mu.Lock()
		defer mu.Unlock()
		if perSession[event.SessionID] == nil {
			perSession[event.SessionID] = make(map[events.Type]int)
		}
		perSession[event.SessionID][event.Type]++
	})

	const batches = 4
	type outcome struct {
		report *ExecutionReport
		err    error
	}
	outcomes := make(chan outcome, batches)
	for i := 0; i < batches; i++ {
		go func(n int) {
			report, err := coord.Submit(context.Background(), []TaskSpec{
				{ID: fmt.Sprintf("a%d", n), Handler: "noop"},
				{ID: fmt.Sprintf("b%d", n), Handler: "noop", DependsOn: []string{fmt.Sprintf("a%d", n)}},
			}, nil)
			outcomes <- outcome{report, err}
		}(i)
	}

	for i := 0; i < batches; i++ {
		o := <-outcomes
		require.NoError(t, o.err)
		require.NotNil(t, o.report)

		mu.Lock()
		counts := perSession[o.report.SessionID]
		mu.Unlock()
		require.NotNil(t, counts, "every run's events carry its own session ID")
		assert.Equal(t, 1, counts[events.TypeBatchStarted], "session %s", o.report.SessionID)
		assert.Equal(t, 1, counts[events.TypeBatchFinished], "session %s", o.report.SessionID)
		assert.Equal(t, 2, counts[events.TypeTaskSettled], "session %s", o.report.SessionID)
		assert.Equal(t, 2, counts[events.TypeWaveStarted], "session %s", o.report.SessionID)
	}
}
