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
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kraklabs/repomine/pkg/warehouse"
)

// Snapshot is the set of content hashes a run must not process again. It is
// taken once per run and never changes afterwards.
type Snapshot struct {
	done map[string]struct{}
	skip map[string]struct{}
}

// NewSnapshot builds a Snapshot from explicit hash lists.
func NewSnapshot(done, skip []string) *Snapshot {
	s := &Snapshot{done: make(map[string]struct{}, len(done)), skip: make(map[string]struct{}, len(skip))}
	for _, h := range done {
		s.done[h] = struct{}{}
	}
	for _, h := range skip {
		s.skip[h] = struct{}{}
	}
	return s
}

// IsDone reports whether hash already has derived records. The empty hash
// is never done.
func (s *Snapshot) IsDone(hash string) bool {
	if hash == "" {
		return false
	}
	_, ok := s.done[hash]
	return ok
}

// IsSkipped reports whether hash was skipped by an earlier run. The empty
// hash is never skipped.
func (s *Snapshot) IsSkipped(hash string) bool {
	if hash == "" {
		return false
	}
	_, ok := s.skip[hash]
	return ok
}

// Done is the number of done hashes.
func (s *Snapshot) Done() int { return len(s.done) }

// Skipped is the number of skipped hashes.
func (s *Snapshot) Skipped() int { return len(s.skip) }

// TrackerConfig names the tables a Tracker reads.
type TrackerConfig struct {
	// Primary is the ungrouped table whose hashes are done.
	Primary string

	// Companion, when set, is written in lockstep with Primary. If the two
	// hash multisets differ, both tables are discarded.
	Companion string

	// Skip holds hashes that produced no result.
	Skip string
}

// Tracker loads the idempotency snapshot for a stage.
type Tracker struct {
	wh     warehouse.Warehouse
	cfg    TrackerConfig
	logger *slog.Logger
}

// NewTracker returns a Tracker over wh.
func NewTracker(wh warehouse.Warehouse, cfg TrackerConfig, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{wh: wh, cfg: cfg, logger: logger}
}

// Load reads the done and skip sets.
func (t *Tracker) Load(ctx context.Context) (*Snapshot, error) {
	primary, err := t.hashes(ctx, t.cfg.Primary)
	if err != nil {
		return nil, err
	}

	if t.cfg.Companion != "" {
		companion, err := t.hashes(ctx, t.cfg.Companion)
		if err != nil {
			return nil, err
		}
		if !sameMultiset(primary, companion) {
			t.logger.Warn("tracker.inconsistent",
				"primary", t.cfg.Primary, "primary_rows", len(primary),
				"companion", t.cfg.Companion, "companion_rows", len(companion),
			)
			for _, table := range []string{t.cfg.Primary, t.cfg.Companion} {
				if err := t.wh.DeleteTable(ctx, table); err != nil {
					return nil, fmt.Errorf("reset %s: %w", table, err)
				}
			}
			recordTrackerReset()
			primary = nil
		}
	}

	skip, err := t.hashes(ctx, t.cfg.Skip)
	if err != nil {
		return nil, err
	}

	snap := NewSnapshot(primary, skip)
	t.logger.Info("tracker.loaded", "done", snap.Done(), "skipped", snap.Skipped())
	return snap, nil
}

// hashes returns every sha in table, duplicates included. A missing table
// yields no hashes.
func (t *Tracker) hashes(ctx context.Context, table string) ([]string, error) {
	if table == "" {
		return nil, nil
	}
	res, err := t.wh.Query(ctx, warehouse.Select{Table: table, Columns: []string{"sha"}})
	if errors.Is(err, warehouse.ErrNoTable) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read hashes from %s: %w", table, err)
	}
	return res.Strings("sha"), nil
}

func sameMultiset(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, h := range a {
		counts[h]++
	}
	for _, h := range b {
		counts[h]--
		if counts[h] < 0 {
			return false
		}
	}
	return true
}
