// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided identifiers that end up
// in log lines, metric labels, file paths, or subprocess arguments. Using
// these validators prevents injection attacks (log injection, path traversal,
// label cardinality abuse).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierPattern matches valid task, handler, and scope identifiers.
// Allows: letters, digits, then dots, underscores, hyphens, and colons.
// Max length: 64 characters.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._:\-]{0,63}$`)

// ValidateIdentifier validates a task, handler, or scope identifier.
//
// Valid identifiers:
//   - 1-64 characters
//   - Start with a letter or digit
//   - Letters, digits, dots (.), underscores (_), hyphens (-), colons (:)
//
// Returns an error if the identifier is invalid.
//
// Example:
//
//	if err := validation.ValidateIdentifier(task.ID); err != nil {
//	    return fmt.Errorf("invalid task id: %w", err)
//	}
//	// Safe to use in log lines, metric labels, and audit file entries
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("identifier cannot be empty")
	}

	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("invalid identifier format: %q (must be 1-64 alphanumeric chars, dots, underscores, hyphens, or colons, starting with an alphanumeric)", id)
	}

	return nil
}

// ValidateIdentifiers validates multiple identifiers.
// Returns an error listing all invalid identifiers if any fail validation.
func ValidateIdentifiers(ids []string) error {
	var invalid []string
	for _, id := range ids {
		if err := ValidateIdentifier(id); err != nil {
			invalid = append(invalid, id)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid identifiers: %v", invalid)
	}
	return nil
}

// SanitizeIdentifier normalizes and validates an identifier.
// Returns the trimmed identifier if valid, or an error if invalid.
//
// Use this when you need both validation and normalization:
//
//	id, err := validation.SanitizeIdentifier(userInput)
//	if err != nil {
//	    return err
//	}
func SanitizeIdentifier(id string) (string, error) {
	id = strings.TrimSpace(id)
	if err := ValidateIdentifier(id); err != nil {
		return "", err
	}
	return id, nil
}

// ValidateContextKey validates a shared-context key. Keys follow the same
// rules as identifiers but allow slashes for namespacing (e.g. "build/out").
func ValidateContextKey(key string) error {
	if key == "" {
		return fmt.Errorf("context key cannot be empty")
	}
	if len(key) > 128 {
		return fmt.Errorf("context key too long: %d chars (max 128)", len(key))
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("context key must not contain %q: %q", "..", key)
	}
	for _, part := range strings.Split(key, "/") {
		if err := ValidateIdentifier(part); err != nil {
			return fmt.Errorf("invalid context key %q: %w", key, err)
		}
	}
	return nil
}
