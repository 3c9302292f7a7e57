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
package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// StrippedSuffix is appended to a file's path for its comment-stripped copy.
const StrippedSuffix = ".comments_stripped"

// LineCount is the report of an external line counter for one file.
type LineCount struct {
	Language string
	Blank    int64
	Comment  int64
	Code     int64
}

// LineCounter counts the lines of one file on disk.
//
// Count returns a nil LineCount when the tool recognized nothing. When it
// also wrote a comment-stripped copy, strippedPath names it.
type LineCounter interface {
	Count(ctx context.Context, path string) (lc *LineCount, strippedPath string, err error)
}

// ClocCounter runs the cloc binary.
type ClocCounter struct {
	// Path to the cloc executable. Defaults to "cloc" on $PATH.
	Path string
}

// Count runs cloc on path, asking it to write a comment-stripped copy next
// to the file.
func (c ClocCounter) Count(ctx context.Context, path string) (*LineCount, string, error) {
	bin := c.Path
	if bin == "" {
		bin = "cloc"
	}
	cmd := exec.CommandContext(ctx, bin,
		"--strip-comments="+strings.TrimPrefix(StrippedSuffix, "."),
		"--original-dir",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, "", fmt.Errorf("cloc %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}

	lc, err := ParseClocReport(string(out))
	if err != nil || lc == nil {
		return nil, "", err
	}
	stripped := path + StrippedSuffix
	if _, err := os.Stat(stripped); errors.Is(err, os.ErrNotExist) {
		stripped = ""
	}
	return lc, stripped, nil
}

var (
	multiTextFiles = regexp.MustCompile(`[2-9] text file`)
	columnGap      = regexp.MustCompile(`  +`)
)

// ParseClocReport reads the plain-text report cloc prints for a single file.
// It returns nil when cloc found no text file or ignored it.
func ParseClocReport(report string) (*LineCount, error) {
	lines := strings.Split(report, "\n")
	line := func(i int) string {
		if i < len(lines) {
			return lines[i]
		}
		return ""
	}

	if strings.Contains(line(0), "0 text files.") {
		return nil, nil
	}
	if multiTextFiles.MatchString(line(0)) {
		return nil, fmt.Errorf("cloc report covers more than one file: %q", line(0))
	}
	if strings.Contains(line(2), "1 file ignored.") {
		return nil, nil
	}

	nonEmpty := 0
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			nonEmpty++
		}
	}
	if nonEmpty > 10 {
		return nil, fmt.Errorf("cloc report has %d lines, want at most 10", nonEmpty)
	}
	if !strings.Contains(line(3), "0 files ignored.") {
		return nil, fmt.Errorf("malformed cloc report: %q", report)
	}

	fields := columnGap.Split(strings.TrimRight(line(9), " \r"), -1)
	if len(fields) != 5 {
		return nil, fmt.Errorf("malformed cloc data line: %q", line(9))
	}
	// language, files, blank, comment, code
	counts := make([]int64, 3)
	for i, f := range fields[2:] {
		n, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed cloc data line %q: %w", line(9), err)
		}
		counts[i] = n
	}
	return &LineCount{
		Language: fields[0],
		Blank:    counts[0],
		Comment:  counts[1],
		Code:     counts[2],
	}, nil
}
