// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience wraps arbitrary units of work with retry policies,
// backoff strategies, per-scope circuit breaking, and rolling attempt
// metrics.
//
// The central entry point is Manager.Execute, which runs an operation under
// a Policy: it checks the scope's circuit breaker, enforces a per-attempt
// timeout, records attempt outcomes in a rolling window, and sleeps out a
// strategy-computed backoff delay between attempts.
//
// Thread Safety:
//
//	Manager, Breaker, BreakerRegistry, and Metrics are all safe for
//	concurrent use. Policy is a value type and read-only during execution.
package resilience

import (
	"math/rand"
	"time"
)

// Strategy selects how retry delays grow across attempts.
type Strategy string

const (
	// StrategyFixed uses the base delay for every attempt.
	StrategyFixed Strategy = "fixed"

	// StrategyLinear grows the delay linearly: base * (n+1).
	StrategyLinear Strategy = "linear"

	// StrategyExponential grows the delay geometrically: base * factor^n.
	StrategyExponential Strategy = "exponential"

	// StrategyFibonacci grows the delay by the Fibonacci sequence: base * fib(n).
	StrategyFibonacci Strategy = "fibonacci"

	// StrategyAdaptive scales exponential backoff by the recently observed
	// success rate and latency variance for the scope.
	StrategyAdaptive Strategy = "adaptive"
)

// minDelay is the floor applied after jitter so a delay never reaches zero.
const minDelay = time.Millisecond

// Policy configures retry behavior for one execution.
//
// Description:
//
//	Constructed once (typically from configuration) and read-only during
//	execution. Unset values are normalized by Normalize, which the Manager
//	applies before use.
type Policy struct {
	// Strategy selects the backoff curve. Default: exponential.
	Strategy Strategy `json:"strategy" yaml:"strategy"`

	// BaseDelay is the first retry delay. Default: 100ms.
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay"`

	// MaxDelay caps any computed delay. Default: 30s.
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`

	// Multiplier is the geometric growth factor for the exponential and
	// adaptive strategies. Default: 2.0.
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`

	// JitterFraction perturbs each delay by a uniform random offset within
	// ±JitterFraction*delay. Zero disables jitter; negative means unset
	// and normalizes to 0.1.
	JitterFraction float64 `json:"jitter_fraction" yaml:"jitter_fraction"`

	// MaxRetries is the retry budget after the first attempt. Zero means
	// a single attempt; negative means unset and normalizes to 3.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// BreakerThreshold is the consecutive-failure count that opens the
	// scope's circuit breaker. Default: 5.
	BreakerThreshold int `json:"breaker_threshold" yaml:"breaker_threshold"`

	// BreakerCooldown is how long an open breaker rejects calls before
	// admitting a probe. Default: 30s.
	BreakerCooldown time.Duration `json:"breaker_cooldown" yaml:"breaker_cooldown"`

	// RatePerSecond optionally paces attempts in the scope so retries
	// cannot hammer a degraded dependency between backoffs. Zero disables
	// pacing.
	RatePerSecond float64 `json:"rate_per_second,omitempty" yaml:"rate_per_second,omitempty"`
}

// DefaultPolicy returns a policy with sensible defaults.
func DefaultPolicy() Policy {
	return Policy{
		Strategy:         StrategyExponential,
		BaseDelay:        100 * time.Millisecond,
		MaxDelay:         30 * time.Second,
		Multiplier:       2.0,
		JitterFraction:   0.1,
		MaxRetries:       3,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// Normalize fills unset values with defaults and returns the result.
//
// Description:
//
//	Zero is an explicit value for JitterFraction (no jitter) and MaxRetries
//	(no retries); only negative values normalize to the defaults there. For
//	every other field the zero value means unset.
func (p Policy) Normalize() Policy {
	def := DefaultPolicy()
	if p.Strategy == "" {
		p.Strategy = def.Strategy
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Multiplier <= 0 {
		p.Multiplier = def.Multiplier
	}
	if p.JitterFraction < 0 {
		p.JitterFraction = def.JitterFraction
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = def.MaxRetries
	}
	if p.BreakerThreshold <= 0 {
		p.BreakerThreshold = def.BreakerThreshold
	}
	if p.BreakerCooldown <= 0 {
		p.BreakerCooldown = def.BreakerCooldown
	}
	return p
}

// Delay computes the pre-jitter backoff delay for a zero-based attempt index.
//
// Description:
//
//	The adaptive strategy starts from the exponential delay, scales it by a
//	success-rate factor (0.7 when the recent success rate exceeds 0.8, 1.5
//	when it is under 0.3, 1.0 otherwise), multiplies by 1.2 when the p95
//	latency exceeds twice the mean, and blends the result 70/30 with the
//	mean backoff observed before successful attempts in the window.
//
// Inputs:
//
//	attempt - Zero-based retry index (0 = delay before the first retry).
//	m - Rolling metrics for the scope. Only the adaptive strategy reads
//	    them; may be nil for all other strategies.
//
// Outputs:
//
//	time.Duration - The pre-jitter delay, capped at MaxDelay.
func (p Policy) Delay(attempt int, m *Metrics) time.Duration {
	switch p.Strategy {
	case StrategyFixed:
		return p.BaseDelay
	case StrategyLinear:
		return capDelay(p.BaseDelay*time.Duration(attempt+1), p.MaxDelay)
	case StrategyFibonacci:
		return capDelay(scaleDelay(p.BaseDelay, float64(fib(attempt))), p.MaxDelay)
	case StrategyAdaptive:
		return p.adaptiveDelay(attempt, m)
	default: // StrategyExponential
		return p.exponentialDelay(attempt)
	}
}

// exponentialDelay computes min(base * factor^n, max).
func (p Policy) exponentialDelay(attempt int) time.Duration {
	factor := 1.0
	for i := 0; i < attempt; i++ {
		factor *= p.Multiplier
		// Bail out early once the cap is guaranteed.
		if scaleDelay(p.BaseDelay, factor) >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return capDelay(scaleDelay(p.BaseDelay, factor), p.MaxDelay)
}

// adaptiveDelay scales exponential backoff by observed scope health.
func (p Policy) adaptiveDelay(attempt int, m *Metrics) time.Duration {
	delay := p.exponentialDelay(attempt)
	if m == nil {
		return delay
	}

	scaled := float64(delay)

	switch rate := m.SuccessRate(); {
	case rate > 0.8:
		scaled *= 0.7
	case rate < 0.3:
		scaled *= 1.5
	}

	mean := m.MeanLatency()
	if mean > 0 && m.P95Latency() > 2*mean {
		scaled *= 1.2
	}

	// Blend toward the backoff that recently preceded successes.
	if prior := m.MeanSuccessBackoff(); prior > 0 {
		scaled = 0.7*scaled + 0.3*float64(prior)
	}

	return capDelay(time.Duration(scaled), p.MaxDelay)
}

// Jitter perturbs a delay by a uniform random offset within
// ±JitterFraction*delay, floored at a small positive minimum.
func (p Policy) Jitter(delay time.Duration) time.Duration {
	if p.JitterFraction > 0 {
		span := p.JitterFraction * float64(delay)
		delay += time.Duration((rand.Float64()*2 - 1) * span)
	}
	if delay < minDelay {
		delay = minDelay
	}
	return delay
}

// fib returns the Fibonacci number for a zero-based index (1, 1, 2, 3, 5...).
func fib(n int) int64 {
	a, b := int64(1), int64(1)
	for i := 0; i < n; i++ {
		a, b = b, a+b
		// Saturate rather than overflow for absurd attempt counts.
		if a < 0 {
			return 1 << 62
		}
	}
	return a
}

// scaleDelay multiplies a duration by a float factor, saturating on overflow.
func scaleDelay(d time.Duration, factor float64) time.Duration {
	scaled := float64(d) * factor
	if scaled > float64(1<<62) {
		return 1 << 62
	}
	return time.Duration(scaled)
}

// capDelay clamps a delay to the maximum.
func capDelay(d, max time.Duration) time.Duration {
	if d > max {
		return max
	}
	return d
}
