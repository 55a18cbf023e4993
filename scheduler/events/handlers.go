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
)

// LoggingHandler creates a handler that logs events.
//
// Inputs:
//
//	logger - The slog logger to use.
//	level - The log level for events.
//
// Outputs:
//
//	Handler - A handler function that logs events.
func LoggingHandler(logger *slog.Logger, level slog.Level) Handler {
	return func(event *Event) {
		attrs := []any{
			slog.String("event_id", event.ID),
			slog.String("event_type", string(event.Type)),
			slog.String("session_id", event.SessionID),
			slog.Int("wave", event.Wave),
			slog.Time("timestamp", event.Timestamp),
		}

		// Add type-specific attributes
		switch data := event.Data.(type) {
		case *BatchStartedData:
			attrs = append(attrs,
				slog.Int("task_count", data.TaskCount),
				slog.Int("wave_count", data.WaveCount),
			)

		case *BatchFinishedData:
			attrs = append(attrs,
				slog.Int("completed", data.Completed),
				slog.Int("failed", data.Failed),
				slog.Float64("success_rate", data.SuccessRate),
				slog.Duration("duration", data.Duration),
			)
			if data.Error != "" {
				attrs = append(attrs, slog.String("error", data.Error))
			}

		case *StageTransitionData:
			attrs = append(attrs,
				slog.String("from_stage", data.FromStage),
				slog.String("to_stage", data.ToStage),
			)

		case *WaveStartedData:
			attrs = append(attrs,
				slog.Int("index", data.Index),
				slog.Int("task_count", len(data.TaskIDs)),
			)

		case *WaveFinishedData:
			attrs = append(attrs,
				slog.Int("index", data.Index),
				slog.Int("completed", data.Completed),
				slog.Int("failed", data.Failed),
				slog.Duration("duration", data.Duration),
			)

		case *TaskStartedData:
			attrs = append(attrs,
				slog.String("task_id", data.TaskID),
				slog.String("handler", data.Handler),
			)

		case *TaskRetryData:
			attrs = append(attrs,
				slog.String("task_id", data.TaskID),
				slog.Int("attempt", data.Attempt),
				slog.Int("max_attempts", data.MaxAttempts),
			)

		case *TaskSettledData:
			attrs = append(attrs,
				slog.String("task_id", data.TaskID),
				slog.String("status", data.Status),
				slog.Int("retries", data.Retries),
				slog.Duration("duration", data.Duration),
			)
			if data.Error != "" {
				attrs = append(attrs, slog.String("error", data.Error))
			}

		case *CircuitStateChangeData:
			attrs = append(attrs,
				slog.String("scope", data.Scope),
				slog.String("from_state", data.FromState),
				slog.String("to_state", data.ToState),
			)

		case *CriticalFailureData:
			attrs = append(attrs,
				slog.String("task_id", data.TaskID),
				slog.Int("priority", data.Priority),
				slog.String("error", data.Error),
			)

		case *ErrorData:
			attrs = append(attrs,
				slog.String("error", data.Error),
				slog.Bool("recoverable", data.Recoverable),
			)
			if data.Stage != "" {
				attrs = append(attrs, slog.String("stage", data.Stage))
			}
		}

		logger.Log(nil, level, "scheduler event", attrs...)
	}
}

// ChannelHandler creates a handler that sends events to a channel.
//
// Inputs:
//
//	ch - The channel to send events to.
//	dropOnFull - If true, drops events when channel is full; if false, blocks.
//
// Outputs:
//
//	Handler - A handler function that sends events to the channel.
func ChannelHandler(ch chan<- Event, dropOnFull bool) Handler {
	return func(event *Event) {
		if dropOnFull {
			select {
			case ch <- *event:
			default:
				// Channel full, drop event
			}
		} else {
			ch <- *event
		}
	}
}

// MultiHandler creates a handler that calls multiple handlers.
func MultiHandler(handlers ...Handler) Handler {
	return func(event *Event) {
		for _, h := range handlers {
			h(event)
		}
	}
}

// FilteredHandler creates a handler that only processes events matching a filter.
func FilteredHandler(handler Handler, filter Filter) Handler {
	return func(event *Event) {
		if filter(event) {
			handler(event)
		}
	}
}

// TypeFilter creates a filter that matches specific event types.
func TypeFilter(types ...Type) Filter {
	typeSet := make(map[Type]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event *Event) bool {
		return typeSet[event.Type]
	}
}

// SessionFilter creates a filter that matches a specific batch run.
func SessionFilter(sessionID string) Filter {
	return func(event *Event) bool {
		return event.SessionID == sessionID
	}
}

// FailureFilter creates a filter that only passes failure-related events.
func FailureFilter() Filter {
	return TypeFilter(TypeError, TypeCriticalFailure, TypeCircuitStateChange)
}
