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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", BreakerClosed.String())
	assert.Equal(t, "OPEN", BreakerOpen.String())
	assert.Equal(t, "HALF_OPEN", BreakerHalfOpen.String())
	assert.Equal(t, "UNKNOWN(42)", BreakerState(42).String())
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	// Non-consecutive failures never open the breaker.
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 2, b.Failures())
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	b.RecordFailure()
	require.Equal(t, BreakerOpen, b.State())
	require.False(t, b.Allow())

	time.Sleep(20 * time.Millisecond)

	// Cooldown elapsed: the next call is admitted as a probe.
	assert.True(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Cooldown: time.Millisecond})

	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	require.True(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, BreakerHalfOpen, b.State(), "one success short of the threshold")
	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Millisecond})

	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	require.True(t, b.Allow())
	require.Equal(t, BreakerHalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})

	b.RecordFailure()
	require.Equal(t, BreakerOpen, b.State())

	b.Reset()
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 0, b.Failures())
	assert.True(t, b.Allow())
}

func TestBreaker_OnStateChange(t *testing.T) {
	var mu sync.Mutex
	var transitions []string

	b := NewBreaker(BreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Millisecond,
		OnStateChange: func(from, to BreakerState) {
			mu.Lock()
			transitions = append(transitions, from.String()+"->"+to.String())
			mu.Unlock()
		},
	})

	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	b.Allow()
	b.RecordSuccess()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"CLOSED->OPEN",
		"OPEN->HALF_OPEN",
		"HALF_OPEN->CLOSED",
	}, transitions)
}

func TestBreakerConfig_Defaults(t *testing.T) {
	c := BreakerConfig{}.normalize()

	assert.Equal(t, 5, c.FailureThreshold)
	assert.Equal(t, 1, c.SuccessThreshold)
	assert.Equal(t, 30*time.Second, c.Cooldown)
}

func TestBreakerRegistry_SharesBreakerPerScope(t *testing.T) {
	r := NewBreakerRegistry(nil)

	a := r.Get("db", BreakerConfig{FailureThreshold: 2})
	b := r.Get("db", BreakerConfig{FailureThreshold: 99})
	c := r.Get("api", BreakerConfig{FailureThreshold: 2})

	assert.Same(t, a, b, "same scope shares one breaker")
	assert.NotSame(t, a, c, "different scopes get distinct breakers")
}

func TestBreakerRegistry_ScopedFailureIsolation(t *testing.T) {
	r := NewBreakerRegistry(nil)

	db := r.Get("db", BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})
	api := r.Get("api", BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})

	db.RecordFailure()

	assert.Equal(t, BreakerOpen, db.State())
	assert.Equal(t, BreakerClosed, api.State(), "failures in one scope never trip another")
}

func TestBreakerRegistry_Observer(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]BreakerState)

	r := NewBreakerRegistry(func(scope string, from, to BreakerState) {
		mu.Lock()
		seen[scope] = to
		mu.Unlock()
	})

	b := r.Get("flaky", BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})
	b.RecordFailure()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, BreakerOpen, seen["flaky"])
}

func TestBreakerRegistry_States(t *testing.T) {
	r := NewBreakerRegistry(nil)
	r.Get("a", BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute}).RecordFailure()
	r.Get("b", BreakerConfig{})

	states := r.States()
	assert.Equal(t, BreakerOpen, states["a"])
	assert.Equal(t, BreakerClosed, states["b"])
}

func TestBreakerRegistry_ResetAll(t *testing.T) {
	r := NewBreakerRegistry(nil)
	r.Get("a", BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute}).RecordFailure()

	r.ResetAll()
	assert.Equal(t, BreakerClosed, r.States()["a"])
}

func TestBreakerRegistry_ConcurrentGet(t *testing.T) {
	r := NewBreakerRegistry(nil)

	var wg sync.WaitGroup
	breakers := make([]*Breaker, 16)
	for i := range breakers {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			breakers[n] = r.Get("shared", BreakerConfig{})
		}(i)
	}
	wg.Wait()

	for _, b := range breakers {
		assert.Same(t, breakers[0], b)
	}
}
