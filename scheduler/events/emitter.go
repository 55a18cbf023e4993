// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Handler is a function that processes events.
type Handler func(event *Event)

// Filter is a function that determines if an event should be handled.
type Filter func(event *Event) bool

// Subscription represents a subscription to events.
type Subscription struct {
	// ID uniquely identifies this subscription.
	ID string

	// Handler processes matching events.
	Handler Handler

	// Filter determines which events to handle (nil = all events).
	Filter Filter

	// Types limits which event types to handle (nil = all types).
	Types []Type
}

// Emitter broadcasts events to subscribers.
//
// Description:
//
//	Emit is synchronous: handlers run on the emitting goroutine, in
//	subscription order, with panic recovery. Events are also kept in a
//	bounded ring buffer for post-hoc inspection.
//
// Thread Safety: Emitter is safe for concurrent use.
type Emitter struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	buffer        []Event
	bufferSize    int
	sessionID     string
	currentWave   int
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithBufferSize sets the event buffer size.
func WithBufferSize(size int) EmitterOption {
	return func(e *Emitter) {
		e.bufferSize = size
	}
}

// WithSessionID sets the session ID for all events.
func WithSessionID(id string) EmitterOption {
	return func(e *Emitter) {
		e.sessionID = id
	}
}

// NewEmitter creates a new event emitter.
func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{
		subscriptions: make(map[string]*Subscription),
		bufferSize:    1000,
		currentWave:   -1,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.buffer = make([]Event, 0, e.bufferSize)

	return e
}

// Subscribe registers a handler for events.
//
// Inputs:
//
//	handler - Function to call for each event.
//	types - Event types to subscribe to (nil = all types).
//
// Outputs:
//
//	string - Subscription ID for unsubscribing.
func (e *Emitter) Subscribe(handler Handler, types ...Type) string {
	return e.SubscribeWithFilter(handler, nil, types...)
}

// SubscribeWithFilter registers a handler with a custom filter.
func (e *Emitter) SubscribeWithFilter(handler Handler, filter Filter, types ...Type) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &Subscription{
		ID:      uuid.NewString(),
		Handler: handler,
		Filter:  filter,
		Types:   types,
	}

	e.subscriptions[sub.ID] = sub
	return sub.ID
}

// Unsubscribe removes a subscription.
//
// Outputs:
//
//	bool - True if the subscription was found and removed.
func (e *Emitter) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subscriptions[id]; ok {
		delete(e.subscriptions, id)
		return true
	}
	return false
}

// Emit broadcasts an event to all matching subscribers.
//
// Description:
//
//	Creates an event with the emitter's default session ID and wave index,
//	buffers it, then invokes matching handlers synchronously. Handler
//	panics are recovered so one failing handler cannot crash the emitter
//	or starve other handlers. Batch runs that share one emitter should
//	emit through a Session instead so events carry the right labels.
//
// Inputs:
//
//	eventType - The type of event.
//	data - Event-specific data (use typed data structs from types.go).
//
// Thread Safety: This method is safe for concurrent use.
func (e *Emitter) Emit(eventType Type, data any) {
	e.mu.RLock()
	sessionID := e.sessionID
	wave := e.currentWave
	e.mu.RUnlock()

	e.emit(eventType, sessionID, wave, data)
}

// emit buffers and dispatches an event stamped with the given labels.
func (e *Emitter) emit(eventType Type, sessionID string, wave int, data any) {
	e.mu.RLock()
	subs := make([]*Subscription, 0, len(e.subscriptions))
	for _, sub := range e.subscriptions {
		subs = append(subs, sub)
	}
	e.mu.RUnlock()

	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Wave:      wave,
		Data:      data,
	}

	e.mu.Lock()
	if len(e.buffer) >= e.bufferSize {
		e.buffer = e.buffer[1:]
	}
	e.buffer = append(e.buffer, event)
	e.mu.Unlock()

	for _, sub := range subs {
		if e.shouldHandle(sub, &event) {
			e.safeInvokeHandler(sub.Handler, &event)
		}
	}
}

// Session stamps events with one batch run's session ID and wave index.
//
// Description:
//
//	Concurrent batch runs share one Emitter for subscriptions and the
//	event buffer, but each run emits through its own Session so events
//	carry that run's labels rather than emitter-level state another run
//	could overwrite mid-flight.
//
// Thread Safety: Session is safe for concurrent use.
type Session struct {
	emitter *Emitter
	id      string
	wave    atomic.Int64
}

// Session creates an emitting view bound to a session ID. The wave index
// starts at -1 (outside any wave).
func (e *Emitter) Session(id string) *Session {
	s := &Session{emitter: e, id: id}
	s.wave.Store(-1)
	return s
}

// SetWave updates the wave index stamped on future events.
func (s *Session) SetWave(wave int) {
	s.wave.Store(int64(wave))
}

// Wave returns the wave index currently stamped on events.
func (s *Session) Wave() int {
	return int(s.wave.Load())
}

// Emit broadcasts an event stamped with the session's ID and wave index.
func (s *Session) Emit(eventType Type, data any) {
	s.emitter.emit(eventType, s.id, int(s.wave.Load()), data)
}

// safeInvokeHandler invokes a handler with panic recovery.
func (e *Emitter) safeInvokeHandler(handler Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked",
				"event_type", event.Type,
				"event_id", event.ID,
				"panic", r,
			)
		}
	}()
	handler(event)
}

// shouldHandle determines if a subscription should handle an event.
func (e *Emitter) shouldHandle(sub *Subscription, event *Event) bool {
	if len(sub.Types) > 0 {
		typeMatch := false
		for _, t := range sub.Types {
			if t == event.Type {
				typeMatch = true
				break
			}
		}
		if !typeMatch {
			return false
		}
	}

	if sub.Filter != nil && !sub.Filter(event) {
		return false
	}

	return true
}

// SetSessionID updates the session ID for future events.
func (e *Emitter) SetSessionID(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionID = id
}

// SetWave updates the current wave index.
func (e *Emitter) SetWave(wave int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentWave = wave
}

// CurrentWave returns the current wave index.
func (e *Emitter) CurrentWave() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentWave
}

// Buffer returns a copy of buffered events.
func (e *Emitter) Buffer() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Event, len(e.buffer))
	copy(out, e.buffer)
	return out
}

// BufferByType returns buffered events of a specific type.
func (e *Emitter) BufferByType(eventType Type) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Event
	for _, event := range e.buffer {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

// ClearBuffer removes all buffered events.
func (e *Emitter) ClearBuffer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = make([]Event, 0, e.bufferSize)
}

// SubscriptionCount returns the number of active subscriptions.
func (e *Emitter) SubscriptionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscriptions)
}

// Reset clears all state including subscriptions and buffer.
func (e *Emitter) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.subscriptions = make(map[string]*Subscription)
	e.buffer = make([]Event, 0, e.bufferSize)
	e.currentWave = -1
}
