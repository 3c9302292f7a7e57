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

// Package ui provides terminal output helpers for the repomine CLI.
//
// Colors follow fatih/color's global switch, which InitColors sets from the
// --no-color flag; NO_COLOR and non-TTY output disable it as well.
//
//   - Red: failures
//   - Yellow: skips and warnings
//   - Green: completed stages
//   - Cyan: counts and neutral info
//   - Bold: headers and labels
//   - Dim: table names, paths
package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
)

var (
	Red    = color.New(color.FgRed)
	Yellow = color.New(color.FgYellow)
	Green  = color.New(color.FgGreen)
	Cyan   = color.New(color.FgCyan)
	Bold   = color.New(color.Bold)
	Dim    = color.New(color.Faint)
)

// Out is where the helpers write. Tests swap it for a buffer.
var Out io.Writer = os.Stdout

// InitColors applies the --no-color flag.
func InitColors(noColor bool) {
	color.NoColor = noColor
}

// Successf prints a green line with a checkmark.
func Successf(format string, args ...any) {
	_, _ = Green.Fprintf(Out, "✓ "+format+"\n", args...)
}

// Warningf prints a yellow line with a warning sign.
func Warningf(format string, args ...any) {
	_, _ = Yellow.Fprintf(Out, "⚠ "+format+"\n", args...)
}

// Errorf prints a red line with a cross.
func Errorf(format string, args ...any) {
	_, _ = Red.Fprintf(Out, "✗ "+format+"\n", args...)
}

// Infof prints a cyan line with an info sign.
func Infof(format string, args ...any) {
	_, _ = Cyan.Fprintf(Out, "ℹ "+format+"\n", args...)
}

// Header prints a bold title underlined with '='.
func Header(text string) {
	_, _ = Bold.Fprintln(Out, text)
	fmt.Fprintln(Out, strings.Repeat("=", len([]rune(text))))
}

// Label returns text in bold.
func Label(text string) string {
	return Bold.Sprint(text)
}

// DimText returns text dimmed.
func DimText(text string) string {
	return Dim.Sprint(text)
}

// CountText returns a count in cyan.
func CountText(n int64) string {
	return Cyan.Sprint(n)
}

// Counts prints one aligned "label: n" line per entry, sorted by label.
// Zero counts are left out.
func Counts(title string, counts map[string]int64) {
	keys := make([]string, 0, len(counts))
	width := 0
	for k, v := range counts {
		if v == 0 {
			continue
		}
		keys = append(keys, k)
		if len(k) > width {
			width = len(k)
		}
	}
	if len(keys) == 0 {
		return
	}
	sort.Strings(keys)
	_, _ = Bold.Fprintln(Out, title)
	for _, k := range keys {
		fmt.Fprintf(Out, "  %s %s\n", Label(fmt.Sprintf("%-*s", width+1, k+":")), CountText(counts[k]))
	}
}
