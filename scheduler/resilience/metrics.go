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
	"sort"
	"sync"
	"time"
)

// metricsWindow is the fixed size of the rolling attempt window.
const metricsWindow = 100

// attemptSample records one attempt outcome in the rolling window.
type attemptSample struct {
	at      time.Time
	success bool
	latency time.Duration
	// backoff is the delay slept immediately before this attempt
	// (zero for first attempts).
	backoff time.Duration
}

// Metrics is a fixed-size rolling window of attempt outcomes for one scope.
//
// Description:
//
//	Tracks the last metricsWindow attempts (timestamps, outcomes,
//	latencies, and the backoff that preceded each attempt). Only the
//	adaptive backoff strategy reads it, to compute a recent success rate
//	and latency percentiles. Never persisted beyond process lifetime.
//
// Thread Safety:
//
//	Metrics is safe for concurrent use.
type Metrics struct {
	mu      sync.Mutex
	samples [metricsWindow]attemptSample
	next    int
	count   int
}

// NewMetrics creates an empty rolling window.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Record adds one attempt outcome to the window, evicting the oldest
// sample once the window is full.
//
// Inputs:
//
//	success - Whether the attempt succeeded.
//	latency - How long the attempt took.
//	backoff - The backoff delay slept immediately before this attempt
//	          (zero if this was a first attempt).
func (m *Metrics) Record(success bool, latency, backoff time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples[m.next] = attemptSample{
		at:      time.Now(),
		success: success,
		latency: latency,
		backoff: backoff,
	}
	m.next = (m.next + 1) % metricsWindow
	if m.count < metricsWindow {
		m.count++
	}
}

// Attempts returns the number of attempts currently in the window.
func (m *Metrics) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// SuccessRate returns the fraction of successful attempts in the window.
// Returns 1.0 for an empty window (no evidence of trouble).
func (m *Metrics) SuccessRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count == 0 {
		return 1.0
	}
	successes := 0
	for i := 0; i < m.count; i++ {
		if m.samples[i].success {
			successes++
		}
	}
	return float64(successes) / float64(m.count)
}

// MeanLatency returns the mean attempt latency over the window.
func (m *Metrics) MeanLatency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < m.count; i++ {
		total += m.samples[i].latency
	}
	return total / time.Duration(m.count)
}

// P95Latency returns the 95th-percentile attempt latency over the window.
func (m *Metrics) P95Latency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count == 0 {
		return 0
	}
	latencies := make([]time.Duration, m.count)
	for i := 0; i < m.count; i++ {
		latencies[i] = m.samples[i].latency
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	idx := (95 * m.count) / 100
	if idx >= m.count {
		idx = m.count - 1
	}
	return latencies[idx]
}

// MeanSuccessBackoff returns the mean backoff delay that preceded
// successful attempts in the window. Zero if no successful attempt in the
// window followed a backoff.
func (m *Metrics) MeanSuccessBackoff() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total time.Duration
	n := 0
	for i := 0; i < m.count; i++ {
		s := m.samples[i]
		if s.success && s.backoff > 0 {
			total += s.backoff
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}
