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
	"strings"
	"testing"
)

func TestSetPlain(t *testing.T) {
	orig := Plain()
	defer SetPlain(orig)

	SetPlain(true)
	if !Plain() {
		t.Error("expected plain mode on")
	}
	SetPlain(false)
	if Plain() {
		t.Error("expected plain mode off")
	}
}

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconArrow} {
		if got := icon.Render(); !strings.Contains(got, string(icon)) {
			t.Errorf("Render() of %q lost the glyph: %q", icon, got)
		}
	}
}

func TestProgressBar_Plain(t *testing.T) {
	orig := Plain()
	defer SetPlain(orig)
	SetPlain(true)

	if got := ProgressBar(3, 10, 20); got != "3/10" {
		t.Errorf("expected plain 3/10, got %q", got)
	}
	// Zero total must not divide by zero.
	if got := ProgressBar(0, 0, 20); got == "" {
		t.Error("expected non-empty output for zero total")
	}
}

func TestProgressBar_Styled(t *testing.T) {
	orig := Plain()
	defer SetPlain(orig)
	SetPlain(false)

	got := ProgressBar(5, 10, 10)
	if !strings.Contains(got, "50%") {
		t.Errorf("expected 50%% in output, got %q", got)
	}

	// Overfull progress clamps at 100%.
	got = ProgressBar(20, 10, 10)
	if !strings.Contains(got, "100%") {
		t.Errorf("expected clamped 100%%, got %q", got)
	}
}
