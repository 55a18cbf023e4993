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
	"fmt"
	"sync"
	"time"
)

// BreakerState represents the state of a circuit breaker.
//
// # State Diagram
//
//	   ┌─────────────────────────────────────┐
//	   │                                     │
//	   ▼                                     │
//	CLOSED ──[failure threshold]──► OPEN ───┘
//	   ▲                              │
//	   │                              │
//	   └───[successes]◄── HALF_OPEN ◄─┘
//	                      [cooldown]
type BreakerState int

const (
	// BreakerClosed is the normal operating state.
	BreakerClosed BreakerState = iota

	// BreakerOpen means the breaker has tripped; calls in the scope are
	// rejected until the cooldown elapses.
	BreakerOpen

	// BreakerHalfOpen means the cooldown elapsed and probe calls are
	// admitted to test recovery.
	BreakerHalfOpen
)

// String returns a human-readable state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// BreakerConfig configures circuit breaker behavior for one scope.
type BreakerConfig struct {
	// FailureThreshold is consecutive failures before opening. Default: 5.
	FailureThreshold int

	// SuccessThreshold is consecutive successes to close from half-open.
	// Default: 1.
	SuccessThreshold int

	// Cooldown is how long an open breaker rejects calls before admitting
	// a probe. Default: 30 seconds.
	Cooldown time.Duration

	// OnStateChange is called synchronously under no lock when the state
	// transitions. May be nil.
	OnStateChange func(from, to BreakerState)
}

// normalize applies defaults for zero values.
func (c BreakerConfig) normalize() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	return c
}

// Breaker implements the circuit breaker pattern for one resilience scope.
//
// Description:
//
//	Tracks consecutive failures; at the threshold the breaker opens and
//	records "open until" = now + cooldown. While open, Allow reports false
//	and callers fail fast without invoking the operation. Once the cooldown
//	elapses the breaker moves to half-open and admits probe calls; enough
//	consecutive successes close it, any failure reopens it.
//
// Thread Safety:
//
//	Breaker is safe for concurrent use.
type Breaker struct {
	mu        sync.Mutex
	config    BreakerConfig
	state     BreakerState
	failures  int
	successes int
	openUntil time.Time
}

// NewBreaker creates a breaker in the closed state.
func NewBreaker(config BreakerConfig) *Breaker {
	return &Breaker{
		config: config.normalize(),
		state:  BreakerClosed,
	}
}

// Allow reports whether a call may proceed.
//
// Description:
//
//	Closed: always true. Open: false until the cooldown elapses, at which
//	point the breaker transitions to half-open and admits the call as a
//	probe. Half-open: true.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	var change func(from, to BreakerState)
	var from, to BreakerState

	allowed := false
	switch b.state {
	case BreakerClosed:
		allowed = true
	case BreakerOpen:
		if time.Now().After(b.openUntil) {
			from, to = b.state, BreakerHalfOpen
			b.state = BreakerHalfOpen
			b.successes = 0
			change = b.config.OnStateChange
			allowed = true
		}
	case BreakerHalfOpen:
		allowed = true
	}
	b.mu.Unlock()

	if change != nil {
		change(from, to)
	}
	return allowed
}

// RecordSuccess records a successful call, resetting the failure counter.
// In half-open state, enough consecutive successes close the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	var change func(from, to BreakerState)
	var from, to BreakerState

	b.failures = 0
	if b.state == BreakerHalfOpen {
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			from, to = b.state, BreakerClosed
			b.state = BreakerClosed
			b.successes = 0
			change = b.config.OnStateChange
		}
	}
	b.mu.Unlock()

	if change != nil {
		change(from, to)
	}
}

// RecordFailure records a failed call. At the failure threshold the breaker
// opens; any failure in half-open reopens it immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	var change func(from, to BreakerState)
	var from, to BreakerState

	b.failures++
	b.successes = 0

	switch b.state {
	case BreakerClosed:
		if b.failures >= b.config.FailureThreshold {
			from, to = b.state, BreakerOpen
			b.state = BreakerOpen
			b.openUntil = time.Now().Add(b.config.Cooldown)
			change = b.config.OnStateChange
		}
	case BreakerHalfOpen:
		from, to = b.state, BreakerOpen
		b.state = BreakerOpen
		b.openUntil = time.Now().Add(b.config.Cooldown)
		change = b.config.OnStateChange
	}
	b.mu.Unlock()

	if change != nil {
		change(from, to)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker to the closed state, clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	var change func(from, to BreakerState)
	var from, to BreakerState

	if b.state != BreakerClosed {
		from, to = b.state, BreakerClosed
		change = b.config.OnStateChange
	}
	b.state = BreakerClosed
	b.failures = 0
	b.successes = 0
	b.mu.Unlock()

	if change != nil {
		change(from, to)
	}
}

// BreakerRegistry manages one breaker per resilience scope.
//
// Description:
//
//	A scope typically identifies a handler or a downstream dependency.
//	All tasks using the same scope share one breaker, so a failing
//	dependency trips the circuit for every task that touches it.
//
// Thread Safety:
//
//	BreakerRegistry is safe for concurrent use.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker

	// onChange, when set, observes every state change with the scope name.
	onChange func(scope string, from, to BreakerState)
}

// NewBreakerRegistry creates an empty registry.
//
// Inputs:
//
//	onChange - Optional observer for state changes across all scopes.
func NewBreakerRegistry(onChange func(scope string, from, to BreakerState)) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*Breaker),
		onChange: onChange,
	}
}

// Get returns the breaker for a scope, creating it on first use with the
// given configuration. Later calls for the same scope keep the original
// breaker regardless of config.
func (r *BreakerRegistry) Get(scope string, config BreakerConfig) *Breaker {
	r.mu.RLock()
	b, exists := r.breakers[scope]
	r.mu.RUnlock()
	if exists {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring the write lock.
	if b, exists = r.breakers[scope]; exists {
		return b
	}

	if r.onChange != nil {
		inner := config.OnStateChange
		config.OnStateChange = func(from, to BreakerState) {
			r.onChange(scope, from, to)
			if inner != nil {
				inner(from, to)
			}
		}
	}

	b = NewBreaker(config)
	r.breakers[scope] = b
	return b
}

// States returns the current state of every breaker in the registry.
func (r *BreakerRegistry) States() map[string]BreakerState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]BreakerState, len(r.breakers))
	for scope, b := range r.breakers {
		out[scope] = b.State()
	}
	return out
}

// ResetAll resets every breaker in the registry.
func (r *BreakerRegistry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.breakers {
		b.Reset()
	}
}
