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

import "sort"

// Plan converts a validated graph into an ordered sequence of waves.
//
// Description:
//
//	Standard Kahn-style level-order topological sort: the first wave holds
//	every task with no dependencies; removing a wave decrements the pending
//	dependency count of its dependents, and tasks whose count reaches zero
//	form the next wave. A task with no dependencies and no dependents forms
//	a wave of one.
//
//	Within a wave, tasks are ordered by priority descending, then ID
//	ascending. The order is a scheduling preference (higher-priority tasks
//	are submitted to the worker pool first) and must never be read as a
//	correctness dependency. Given fixed priorities the partitioning is
//	deterministic: planning the same task set twice yields identical waves.
//
// Inputs:
//
//	tasks - The batch's task descriptors.
//	graph - The validated adjacency map from Analyze.
//
// Outputs:
//
//	*ExecutionPlan - The wave partitioning.
//	error - ErrPlanIncomplete if tasks remain unreached after the ready set
//	        is exhausted (an undetected cycle; fatal).
func Plan(tasks []TaskSpec, graph Graph) (*ExecutionPlan, error) {
	specs := make(map[string]TaskSpec, len(tasks))
	for _, t := range tasks {
		specs[t.ID] = t
	}

	pending := make(map[string]int, len(graph))
	for id, deps := range graph {
		pending[id] = len(deps)
	}
	dependents := graph.Dependents()

	ready := make([]string, 0)
	for id, n := range pending {
		if n == 0 {
			ready = append(ready, id)
		}
	}

	plan := &ExecutionPlan{Waves: make([]Wave, 0)}
	placed := 0

	for len(ready) > 0 {
		sortWave(ready, specs)
		wave := make(Wave, len(ready))
		copy(wave, ready)
		plan.Waves = append(plan.Waves, wave)
		placed += len(wave)

		next := make([]string, 0)
		for _, id := range wave {
			for _, dep := range dependents[id] {
				pending[dep]--
				if pending[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		ready = next
	}

	if placed != len(graph) {
		return nil, ErrPlanIncomplete
	}

	return plan, nil
}

// sortWave orders task IDs by priority descending, then ID ascending.
func sortWave(ids []string, specs map[string]TaskSpec) {
	sort.Slice(ids, func(i, j int) bool {
		pi, pj := specs[ids[i]].Priority, specs[ids[j]].Priority
		if pi != pj {
			return pi > pj
		}
		return ids[i] < ids[j]
	})
}
