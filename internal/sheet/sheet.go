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
// Package sheet reads the repository list from a CSV export of the
// tracking spreadsheet.
package sheet

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrMissingColumn is returned when the header lacks repo_name or use_repo.
var ErrMissingColumn = errors.New("sheet: missing column")

// Repos returns the sorted, unique repo_name values of rows whose use_repo
// is 1. src is a file path or an http(s) URL.
func Repos(ctx context.Context, src string) ([]string, error) {
	rc, err := open(ctx, src)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	repos, err := Parse(rc)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", src, err)
	}
	return repos, nil
}

// Parse reads a sheet CSV with a header row.
func Parse(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	nameIdx, useIdx := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "repo_name":
			nameIdx = i
		case "use_repo":
			useIdx = i
		}
	}
	if nameIdx < 0 {
		return nil, fmt.Errorf("%w: repo_name", ErrMissingColumn)
	}
	if useIdx < 0 {
		return nil, fmt.Errorf("%w: use_repo", ErrMissingColumn)
	}

	set := make(map[string]struct{})
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if nameIdx >= len(rec) || useIdx >= len(rec) {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(rec[useIdx])); err != nil || n != 1 {
			continue
		}
		if name := strings.TrimSpace(rec[nameIdx]); name != "" {
			set[name] = struct{}{}
		}
	}
	repos := make([]string, 0, len(set))
	for name := range set {
		repos = append(repos, name)
	}
	sort.Strings(repos)
	return repos, nil
}

func open(ctx context.Context, src string) (io.ReadCloser, error) {
	if src == "" {
		return nil, errors.New("sheet: no source configured")
	}
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		f, err := os.Open(src)
		if err != nil {
			return nil, fmt.Errorf("open sheet: %w", err)
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("sheet request: %w", err)
	}
	client := &http.Client{Timeout: time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sheet: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch sheet: %s", resp.Status)
	}
	return resp.Body, nil
}
