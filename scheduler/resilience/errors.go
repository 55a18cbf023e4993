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

import "errors"

// Sentinel errors for the resilience package.
var (
	// ErrCircuitOpen is returned when the circuit breaker for a scope is
	// open and the cooldown has not elapsed. No attempt is made and no
	// metric attempt is recorded, but the rejection counts against the
	// caller's retry budget.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrAttemptTimeout is returned when a single attempt exceeds its
	// timeout. Retryable.
	ErrAttemptTimeout = errors.New("attempt timed out")

	// ErrNilOperation is returned when Execute is given a nil operation.
	ErrNilOperation = errors.New("operation must not be nil")

	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")
)
