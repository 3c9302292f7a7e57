// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
)

// capture redirects Out with colors off for the duration of the test.
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	origOut, origNoColor := Out, color.NoColor
	Out = &buf
	color.NoColor = true
	t.Cleanup(func() {
		Out = origOut
		color.NoColor = origNoColor
	})
	return &buf
}

func TestInitColors(t *testing.T) {
	original := color.NoColor
	defer func() { color.NoColor = original }()

	for _, noColor := range []bool{false, true} {
		InitColors(noColor)
		if color.NoColor != noColor {
			t.Errorf("InitColors(%v): color.NoColor = %v", noColor, color.NoColor)
		}
	}
}

func TestMessageHelpers(t *testing.T) {
	tests := []struct {
		name string
		fn   func(string, ...any)
		want string
	}{
		{"success", Successf, "✓ loc done: 3\n"},
		{"warning", Warningf, "⚠ loc done: 3\n"},
		{"error", Errorf, "✗ loc done: 3\n"},
		{"info", Infof, "ℹ loc done: 3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := capture(t)
			tt.fn("loc done: %d", 3)
			if buf.String() != tt.want {
				t.Errorf("got %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestHeader(t *testing.T) {
	buf := capture(t)
	Header("Run summary")
	if got, want := buf.String(), "Run summary\n===========\n"; got != want {
		t.Errorf("Header() = %q, want %q", got, want)
	}
}

func TestCounts(t *testing.T) {
	buf := capture(t)
	Counts("Skipped", map[string]int64{
		"extension-excluded": 4,
		"already-done":       10,
		"empty-content":      0,
	})
	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected title plus 2 lines, got %q", out)
	}
	if !strings.HasPrefix(strings.TrimSpace(lines[1]), "already-done:") {
		t.Errorf("entries are not sorted: %q", lines[1])
	}
	if strings.Contains(out, "empty-content") {
		t.Error("zero counts should be omitted")
	}
}

func TestCounts_Empty(t *testing.T) {
	buf := capture(t)
	Counts("Skipped", map[string]int64{"x": 0})
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestTextHelpers(t *testing.T) {
	capture(t)
	if Label("x") != "x" || DimText("y") != "y" || CountText(42) != "42" {
		t.Error("helpers should return plain text with colors disabled")
	}
}
