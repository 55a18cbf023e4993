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

import "sync"

// contextShards is the number of lock shards in the context store.
const contextShards = 16

// ContextStore is the shared mutable map visible to all tasks in a batch.
//
// Description:
//
//	Upstream tasks publish key/value pairs after completion; downstream
//	tasks read them through their TaskContext. Writes are last-writer-wins.
//
//	The store is sharded by an FNV-1a hash of the key, with one RWMutex per
//	shard, so unrelated tasks are not serialized through contention on a
//	single global lock.
//
// Thread Safety:
//
//	ContextStore is safe for concurrent use.
type ContextStore struct {
	shards [contextShards]contextShard
}

type contextShard struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewContextStore creates a store seeded with initial values.
//
// Inputs:
//
//	initial - Initial key/value pairs. May be nil.
//
// Outputs:
//
//	*ContextStore - The seeded store.
func NewContextStore(initial map[string]any) *ContextStore {
	s := &ContextStore{}
	for i := range s.shards {
		s.shards[i].values = make(map[string]any)
	}
	for k, v := range initial {
		s.Set(k, v)
	}
	return s
}

// shardFor picks the shard for a key using FNV-1a.
func (s *ContextStore) shardFor(key string) *contextShard {
	var hash uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		hash ^= uint32(key[i])
		hash *= 16777619
	}
	return &s.shards[hash%contextShards]
}

// Get returns the value for a key.
func (s *ContextStore) Get(key string) (any, bool) {
	shard := s.shardFor(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	v, ok := shard.values[key]
	return v, ok
}

// Set stores a value, overwriting any existing entry.
func (s *ContextStore) Set(key string, value any) {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.values[key] = value
}

// Merge stores every pair from values (last-writer-wins per key).
func (s *ContextStore) Merge(values map[string]any) {
	for k, v := range values {
		s.Set(k, v)
	}
}

// Len returns the number of stored keys.
func (s *ContextStore) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.RLock()
		n += len(s.shards[i].values)
		s.shards[i].mu.RUnlock()
	}
	return n
}

// Snapshot returns a copy of the full store contents.
func (s *ContextStore) Snapshot() map[string]any {
	out := make(map[string]any)
	for i := range s.shards {
		s.shards[i].mu.RLock()
		for k, v := range s.shards[i].values {
			out[k] = v
		}
		s.shards[i].mu.RUnlock()
	}
	return out
}
