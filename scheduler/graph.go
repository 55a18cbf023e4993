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

// Graph is the validated adjacency view of a task batch: task ID → the IDs
// it depends on. It is a pure value; building it has no side effects.
type Graph map[string][]string

// Analyze validates a task set and builds its dependency graph.
//
// Description:
//
//	Checks that task IDs are unique, that every dependency references a
//	task in the batch, and that the graph is acyclic. Cycle detection is a
//	depth-first traversal tracking an on-stack set: any edge into a node
//	already on the stack closes a cycle.
//
//	Analysis rejects the whole batch on any cycle; there is no
//	partial-graph execution.
//
// Inputs:
//
//	tasks - The batch's task descriptors. Must not be empty.
//
// Outputs:
//
//	Graph - Adjacency map (task ID → dependency IDs).
//	error - ErrNoTasks, ErrDuplicateTask, ErrUnknownDependency, or a
//	        *CycleError naming the cycle path.
func Analyze(tasks []TaskSpec) (Graph, error) {
	if len(tasks) == 0 {
		return nil, ErrNoTasks
	}

	graph := make(Graph, len(tasks))
	for _, t := range tasks {
		if _, exists := graph[t.ID]; exists {
			return nil, NewTaskError(t.ID, ErrDuplicateTask)
		}
		deps := make([]string, len(t.DependsOn))
		copy(deps, t.DependsOn)
		graph[t.ID] = deps
	}

	for id, deps := range graph {
		for _, dep := range deps {
			if _, exists := graph[dep]; !exists {
				return nil, NewTaskError(id, ErrUnknownDependency)
			}
		}
	}

	if err := detectCycles(graph); err != nil {
		return nil, err
	}

	return graph, nil
}

// detectCycles runs a DFS over the adjacency map, tracking the recursion
// stack. An edge into a node still on the stack signals a cycle; the
// returned CycleError carries the closing path.
func detectCycles(graph Graph) error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	path := make([]string, 0)

	var dfs func(id string) error
	dfs = func(id string) error {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, dep := range graph[id] {
			if !visited[dep] {
				if err := dfs(dep); err != nil {
					return err
				}
			} else if onStack[dep] {
				// Found a cycle; trim the path to where it closes.
				cycleStart := -1
				for i, n := range path {
					if n == dep {
						cycleStart = i
						break
					}
				}
				cyclePath := append(append([]string{}, path[cycleStart:]...), dep)
				return NewCycleError(cyclePath)
			}
		}

		path = path[:len(path)-1]
		onStack[id] = false
		return nil
	}

	// Iterate in sorted order so the reported cycle is deterministic.
	ids := make([]string, 0, len(graph))
	for id := range graph {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if !visited[id] {
			if err := dfs(id); err != nil {
				return err
			}
		}
	}

	return nil
}

// Dependents inverts the graph: task ID → the IDs that depend on it.
func (g Graph) Dependents() map[string][]string {
	out := make(map[string][]string, len(g))
	for id, deps := range g {
		for _, dep := range deps {
			out[dep] = append(out[dep], id)
		}
		if _, ok := out[id]; !ok {
			out[id] = nil
		}
	}
	return out
}
