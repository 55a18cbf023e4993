// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Operation is a unit of work executed under a retry policy.
type Operation func(ctx context.Context) (any, error)

// Manager executes operations under retry policies with per-scope circuit
// breaking, rolling attempt metrics, and optional rate pacing.
//
// Description:
//
//	One Manager is shared by all tasks in a scheduler. State is keyed by
//	resilience scope: every scope gets its own circuit breaker, its own
//	rolling metrics window (feeding the adaptive strategy), and its own
//	rate limiter when the policy requests pacing.
//
// Thread Safety:
//
//	Manager is safe for concurrent use.
type Manager struct {
	logger   *slog.Logger
	breakers *BreakerRegistry

	mu       sync.Mutex
	metrics  map[string]*Metrics
	limiters map[string]*rate.Limiter
}

// NewManager creates a Manager.
//
// Inputs:
//
//	logger - Structured logger; a nil logger falls back to slog.Default().
//	onBreakerChange - Optional observer for circuit state changes, keyed by
//	                  scope. May be nil.
func NewManager(logger *slog.Logger, onBreakerChange func(scope string, from, to BreakerState)) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:   logger,
		breakers: NewBreakerRegistry(onBreakerChange),
		metrics:  make(map[string]*Metrics),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Metrics returns the rolling attempt window for a scope, creating it on
// first use.
func (m *Manager) Metrics(scope string) *Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.metrics[scope]
	if !ok {
		w = NewMetrics()
		m.metrics[scope] = w
	}
	return w
}

// BreakerState returns the current circuit state for a scope. Scopes that
// have never executed report closed.
func (m *Manager) BreakerState(scope string) BreakerState {
	states := m.breakers.States()
	if s, ok := states[scope]; ok {
		return s
	}
	return BreakerClosed
}

// BreakerStates returns the circuit state of every known scope.
func (m *Manager) BreakerStates() map[string]BreakerState {
	return m.breakers.States()
}

// limiter returns the pacing limiter for a scope, or nil when the policy
// disables pacing.
func (m *Manager) limiter(scope string, policy Policy) *rate.Limiter {
	if policy.RatePerSecond <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.limiters[scope]
	if !ok {
		l = rate.NewLimiter(rate.Limit(policy.RatePerSecond), 1)
		m.limiters[scope] = l
	}
	return l
}

// Execute runs an operation under the policy's retry and circuit rules.
//
// Description:
//
//	Makes up to MaxRetries+1 attempts. Before each attempt the scope's
//	circuit breaker is consulted: an open circuit consumes the attempt
//	from the budget without invoking the operation or recording a metric
//	sample, then the usual backoff is slept before the next attempt. Each
//	real attempt runs under its own timeout (when timeout > 0), and its
//	outcome is recorded in the scope's rolling window together with the
//	backoff that preceded it. Between failed attempts the strategy delay
//	plus jitter is slept; context cancellation interrupts both the sleep
//	and the attempt itself.
//
// Inputs:
//
//	ctx - Cancellation context. Must not be nil.
//	scope - Resilience scope key; tasks sharing a scope share a breaker,
//	        a metrics window, and a rate limiter.
//	policy - Retry policy. Zero fields are normalized to defaults.
//	timeout - Per-attempt timeout. Zero or negative disables it.
//	op - The unit of work. Must not be nil.
//
// Outputs:
//
//	any - The operation's value on success.
//	int - Attempts consumed, counting circuit-open rejections.
//	error - nil on success; the last attempt's error once the budget is
//	        exhausted; ctx.Err() on cancellation.
func (m *Manager) Execute(ctx context.Context, scope string, policy Policy, timeout time.Duration, op Operation) (any, int, error) {
	if ctx == nil {
		return nil, 0, ErrNilContext
	}
	if op == nil {
		return nil, 0, ErrNilOperation
	}

	policy = policy.Normalize()
	breaker := m.breakers.Get(scope, BreakerConfig{
		FailureThreshold: policy.BreakerThreshold,
		Cooldown:         policy.BreakerCooldown,
	})
	window := m.Metrics(scope)
	limiter := m.limiter(scope, policy)

	var lastErr error
	var backoff time.Duration

	maxAttempts := policy.MaxRetries + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempt, err
		}

		if !breaker.Allow() {
			// Fail fast: the rejection burns an attempt from the budget
			// but the operation is never invoked and no sample is
			// recorded, so the window reflects real attempts only.
			lastErr = fmt.Errorf("%w: scope %q", ErrCircuitOpen, scope)
			m.logger.Debug("circuit open, attempt rejected",
				"scope", scope,
				"attempt", attempt+1,
				"max_attempts", maxAttempts)
			if attempt < maxAttempts-1 {
				backoff = policy.Jitter(policy.Delay(attempt, window))
				if err := sleepCtx(ctx, backoff); err != nil {
					return nil, attempt + 1, err
				}
			}
			continue
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, attempt, err
			}
		}

		start := time.Now()
		value, err := m.attempt(ctx, timeout, op)
		latency := time.Since(start)
		window.Record(err == nil, latency, backoff)

		if err == nil {
			breaker.RecordSuccess()
			return value, attempt + 1, nil
		}
		breaker.RecordFailure()
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, attempt + 1, ctx.Err()
		}

		lastErr = err
		if attempt < maxAttempts-1 {
			backoff = policy.Jitter(policy.Delay(attempt, window))
			m.logger.Debug("attempt failed, backing off",
				"scope", scope,
				"attempt", attempt+1,
				"max_attempts", maxAttempts,
				"backoff", backoff,
				"error", err)
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, attempt + 1, err
			}
		}
	}

	m.logger.Warn("retry budget exhausted",
		"scope", scope,
		"attempts", maxAttempts,
		"error", lastErr)
	return nil, maxAttempts, lastErr
}

// attempt runs the operation once under an optional per-attempt timeout.
func (m *Manager) attempt(ctx context.Context, timeout time.Duration, op Operation) (any, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	value, err := op(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: %v", ErrAttemptTimeout, timeout)
	}
	return value, err
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
