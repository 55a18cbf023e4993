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
)

func TestMetrics_EmptyWindow(t *testing.T) {
	m := NewMetrics()

	assert.Equal(t, 0, m.Attempts())
	assert.Equal(t, 1.0, m.SuccessRate(), "empty window reports full health")
	assert.Equal(t, time.Duration(0), m.MeanLatency())
	assert.Equal(t, time.Duration(0), m.P95Latency())
	assert.Equal(t, time.Duration(0), m.MeanSuccessBackoff())
}

func TestMetrics_SuccessRate(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < 10; i++ {
		m.Record(i < 7, time.Millisecond, 0)
	}

	assert.Equal(t, 10, m.Attempts())
	assert.InDelta(t, 0.7, m.SuccessRate(), 1e-9)
}

func TestMetrics_WindowEviction(t *testing.T) {
	m := NewMetrics()

	// Fill the window with failures, then overwrite it with successes.
	for i := 0; i < metricsWindow; i++ {
		m.Record(false, time.Millisecond, 0)
	}
	assert.Equal(t, 0.0, m.SuccessRate())

	for i := 0; i < metricsWindow; i++ {
		m.Record(true, time.Millisecond, 0)
	}
	assert.Equal(t, metricsWindow, m.Attempts())
	assert.Equal(t, 1.0, m.SuccessRate())
}

func TestMetrics_MeanLatency(t *testing.T) {
	m := NewMetrics()
	m.Record(true, 10*time.Millisecond, 0)
	m.Record(true, 20*time.Millisecond, 0)
	m.Record(false, 30*time.Millisecond, 0)

	assert.Equal(t, 20*time.Millisecond, m.MeanLatency())
}

func TestMetrics_P95Latency(t *testing.T) {
	m := NewMetrics()
	for i := 1; i <= 100; i++ {
		m.Record(true, time.Duration(i)*time.Millisecond, 0)
	}

	// idx = 95 on 100 sorted samples (1ms..100ms) → 96ms.
	assert.Equal(t, 96*time.Millisecond, m.P95Latency())
}

func TestMetrics_MeanSuccessBackoff(t *testing.T) {
	m := NewMetrics()
	m.Record(true, time.Millisecond, 0)                      // first attempt, no backoff
	m.Record(true, time.Millisecond, 100*time.Millisecond)   // retry that succeeded
	m.Record(true, time.Millisecond, 300*time.Millisecond)   // retry that succeeded
	m.Record(false, time.Millisecond, 900*time.Millisecond)  // failed retry, ignored

	assert.Equal(t, 200*time.Millisecond, m.MeanSuccessBackoff())
}

func TestMetrics_ConcurrentRecord(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				m.Record(j%2 == 0, time.Millisecond, 0)
				m.SuccessRate()
				m.P95Latency()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, metricsWindow, m.Attempts())
}
