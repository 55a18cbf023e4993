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

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps handler names to implementations.
//
// Description:
//
//	Callers register handlers before submitting work. Dispatch resolves
//	handler names through the registry; an unregistered name is a
//	first-class error (the task settles FAILED with ErrUnknownHandler,
//	without consuming a retry), never a runtime crash.
//
// Thread Safety:
//
//	Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler under a name.
//
// Inputs:
//
//	name - The handler name referenced by TaskSpec.Handler. Must not be empty.
//	h - The handler implementation. Must not be nil.
//
// Outputs:
//
//	error - Non-nil if the name is empty, the handler is nil, or the name
//	        is already registered.
func (r *Registry) Register(name string, h Handler) error {
	if name == "" {
		return fmt.Errorf("%w: handler name must not be empty", ErrInvalidConfig)
	}
	if h == nil {
		return fmt.Errorf("%w: handler must not be nil", ErrInvalidConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%w: handler %q already registered", ErrInvalidConfig, name)
	}
	r.handlers[name] = h
	return nil
}

// RegisterFunc adds a HandlerFunc under a name.
func (r *Registry) RegisterFunc(name string, fn HandlerFunc) error {
	return r.Register(name, fn)
}

// Get returns the handler for a name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns all registered handler names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
