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
package dry

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/repomine/pkg/warehouse"
)

// Source yields Records sorted by repository.
type Source interface {
	Each(ctx context.Context, fn func(Record) error) error
}

// WarehouseSource joins a files table (repo_name, path, sha) with the
// grouped comment-stripped table (sha, language, content_comments_stripped).
type WarehouseSource struct {
	WH       warehouse.Warehouse
	Files    string
	Stripped string
}

// Each streams the joined rows ordered by repo_name, path and sha.
func (s WarehouseSource) Each(ctx context.Context, fn func(Record) error) error {
	sel := warehouse.Select{
		Table:    s.Files,
		Columns:  []string{"repo_name", "path", "sha"},
		Distinct: true,
		Join: &warehouse.Join{
			Table:   s.Stripped,
			On:      "sha",
			Columns: []string{"language", "content_comments_stripped"},
		},
		OrderBy: []string{"repo_name", "path", "sha"},
	}
	return s.WH.Scan(ctx, sel, func(r warehouse.Row) error {
		return fn(Record{
			RepoName: r.String("repo_name"),
			Path:     r.String("path"),
			Language: r.String("language"),
			Content:  r.String("content_comments_stripped"),
		})
	})
}

// Run feeds every record of src to d and flushes the last repository.
func Run(ctx context.Context, d *Detector, src Source) (Stats, error) {
	err := src.Each(ctx, func(r Record) error {
		return d.Add(ctx, r)
	})
	if err != nil {
		return d.Stats(), err
	}
	return d.Close(ctx)
}

// RunParallel shards src by repository across workers detectors built by
// newDetector. Whole repositories are dispatched in stream order, so each
// detector still sees its repositories sorted. A repository that reappears
// anywhere in the stream fails the run with ErrUnsorted.
func RunParallel(ctx context.Context, src Source, workers int, newDetector func() (*Detector, error)) (Stats, error) {
	if workers < 1 {
		workers = 1
	}
	detectors := make([]*Detector, workers)
	for i := range detectors {
		d, err := newDetector()
		if err != nil {
			return Stats{}, err
		}
		detectors[i] = d
	}

	g, gctx := errgroup.WithContext(ctx)
	repos := make(chan []Record, workers)
	stats := make([]Stats, workers)

	for i, d := range detectors {
		g.Go(func() error {
			for batch := range repos {
				for _, r := range batch {
					if err := d.Add(gctx, r); err != nil {
						return err
					}
				}
			}
			s, err := d.Close(gctx)
			stats[i] = s
			return err
		})
	}

	g.Go(func() error {
		defer close(repos)
		seen := make(map[string]struct{})
		var batch []Record
		send := func() error {
			select {
			case repos <- batch:
				batch = nil
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		err := src.Each(gctx, func(r Record) error {
			if len(batch) > 0 && r.RepoName != batch[0].RepoName {
				if err := send(); err != nil {
					return err
				}
			}
			if len(batch) == 0 {
				if _, ok := seen[r.RepoName]; ok {
					return fmt.Errorf("%w: %s was already dispatched", ErrUnsorted, r.RepoName)
				}
				seen[r.RepoName] = struct{}{}
			}
			batch = append(batch, r)
			return nil
		})
		if err != nil {
			return err
		}
		if len(batch) > 0 {
			return send()
		}
		return nil
	})

	err := g.Wait()
	var total Stats
	for _, s := range stats {
		total.merge(s)
	}
	return total, err
}
