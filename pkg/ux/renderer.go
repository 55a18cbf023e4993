// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/taskflow/scheduler/events"
)

// BatchRenderer displays batch progress on the terminal.
//
// Description:
//
//	Subscribes to scheduler events and renders a live progress spinner
//	while waves execute, then a summary when the batch finishes. Failures
//	are collected during the run and printed after the spinner clears so
//	the animation never interleaves with failure lines.
//
// Thread Safety:
//
//	Safe for concurrent use; the emitter may deliver events from worker
//	goroutines.
type BatchRenderer struct {
	mu        sync.Mutex
	spinner   *ProgressSpinner
	total     int
	waveCount int
	failures  []string
}

// NewBatchRenderer creates a batch progress renderer.
func NewBatchRenderer() *BatchRenderer {
	return &BatchRenderer{}
}

// Handler returns an event handler for emitter subscription.
func (r *BatchRenderer) Handler() events.Handler {
	return func(event *events.Event) {
		r.handle(event)
	}
}

func (r *BatchRenderer) handle(event *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch data := event.Data.(type) {
	case *events.BatchStartedData:
		r.total = data.TaskCount
		r.waveCount = data.WaveCount
		r.failures = r.failures[:0]
		Title(fmt.Sprintf("Running %d tasks in %d waves", data.TaskCount, data.WaveCount))
		r.spinner = NewProgressSpinner("executing", data.TaskCount)
		r.spinner.Start()

	case *events.WaveStartedData:
		if r.spinner != nil {
			r.spinner.UpdateMessage(fmt.Sprintf("wave %d/%d [%d tasks]",
				data.Index+1, r.waveCount, len(data.TaskIDs)))
		}

	case *events.TaskSettledData:
		if r.spinner != nil {
			r.spinner.Increment()
		}
		if data.Error != "" {
			r.failures = append(r.failures, fmt.Sprintf("%s: %s", data.TaskID, data.Error))
		}

	case *events.BatchFinishedData:
		if r.spinner != nil {
			r.spinner.Stop()
			r.spinner = nil
		}
		for _, failure := range r.failures {
			fmt.Printf("%s %s\n", IconError.Render(), failure)
		}
		Summary(data.Completed, data.Failed, r.total)
		Muted(fmt.Sprintf("%.0f%% success in %s",
			data.SuccessRate*100, data.Duration.Round(time.Millisecond)))
	}
}
