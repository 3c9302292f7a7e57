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
// Package dry counts repeated code chunks per repository.
//
// A Detector consumes comment-stripped file contents sorted by repository.
// For each configured ChunkConfig it counts every window of consecutive,
// sufficiently long lines, and when the repository changes it writes the
// counts of the finished repository to that config's output table.
package dry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kraklabs/repomine/pkg/ingestion"
	"github.com/kraklabs/repomine/pkg/warehouse"
)

var (
	// ErrUnsorted is returned when a repository reappears after its counts
	// were flushed.
	ErrUnsorted = errors.New("dry: records are not grouped by repository")

	// ErrInvalidChunkConfig is returned for a chunk size below one.
	ErrInvalidChunkConfig = errors.New("dry: invalid chunk config")
)

// Schema is the schema of every chunk frequency table.
var Schema = warehouse.Schema{
	{Name: "repo_name", Type: warehouse.String},
	{Name: "code_chunk", Type: warehouse.String},
	{Name: "num_occurrences", Type: warehouse.Integer},
}

// Record is one file of the input stream.
type Record struct {
	RepoName string
	Path     string
	Language string
	Content  string
}

// Sink receives the rows of a flush. *ingestion.Pusher satisfies it.
type Sink interface {
	Push(ctx context.Context, t ingestion.Target, rows []warehouse.Row) error
}

// Options configures a Detector.
type Options struct {
	Configs []ChunkConfig

	// Prefix names the output tables, one per config.
	Prefix string

	// SkipLanguages are ignored, compared without case.
	SkipLanguages []string

	Logger *slog.Logger
}

// Stats summarizes a detection run.
type Stats struct {
	Records         int      `json:"records"`
	Repos           int      `json:"repos"`
	SkippedLanguage int      `json:"skipped_language"`
	Languages       []string `json:"languages_skipped,omitempty"`
	Rows            int      `json:"rows"`
	Splits          int      `json:"splits"`
}

func (s *Stats) merge(o Stats) {
	s.Records += o.Records
	s.Repos += o.Repos
	s.SkippedLanguage += o.SkippedLanguage
	s.Rows += o.Rows
	s.Splits += o.Splits
	s.Languages = mergeSorted(s.Languages, o.Languages)
}

// Detector counts chunks for one repository at a time. It is not safe for
// concurrent use; see RunParallel for sharding.
type Detector struct {
	configs  []ChunkConfig
	tables   []string
	counters []*Counter
	skip     map[string]struct{}
	sink     Sink
	logger   *slog.Logger

	// Idle until the first record, then accumulating current.
	current string
	active  bool
	seen    map[string]struct{}
	langs   map[string]struct{}
	stats   Stats
}

// NewDetector validates opts and returns an idle Detector.
func NewDetector(sink Sink, opts Options) (*Detector, error) {
	if len(opts.Configs) == 0 {
		return nil, fmt.Errorf("%w: no chunk configs", ErrInvalidChunkConfig)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	d := &Detector{
		sink:   sink,
		logger: opts.Logger,
		skip:   make(map[string]struct{}, len(opts.SkipLanguages)),
		seen:   make(map[string]struct{}),
		langs:  make(map[string]struct{}),
	}
	for _, c := range opts.Configs {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		d.configs = append(d.configs, c)
		d.tables = append(d.tables, c.Table(opts.Prefix))
		d.counters = append(d.counters, NewCounter())
	}
	for _, l := range opts.SkipLanguages {
		d.skip[strings.ToLower(l)] = struct{}{}
	}
	return d, nil
}

// Tables returns the output table of each config, in config order.
func (d *Detector) Tables() []string {
	return append([]string(nil), d.tables...)
}

// Add feeds one record. Records must arrive grouped by repository.
func (d *Detector) Add(ctx context.Context, rec Record) error {
	if !d.active || rec.RepoName != d.current {
		if _, ok := d.seen[rec.RepoName]; ok {
			return fmt.Errorf("%w: %s was already flushed", ErrUnsorted, rec.RepoName)
		}
		if d.active {
			if err := d.flush(ctx); err != nil {
				return err
			}
		}
		d.current, d.active = rec.RepoName, true
		d.seen[rec.RepoName] = struct{}{}
		d.stats.Repos++
		if d.stats.Repos%10 == 0 {
			d.logger.Info("dry.progress", "repos", d.stats.Repos, "records", d.stats.Records)
		}
	}
	d.stats.Records++
	recordDryRecord()

	if _, ok := d.skip[strings.ToLower(rec.Language)]; ok {
		d.stats.SkippedLanguage++
		d.langs[rec.Language] = struct{}{}
		recordDrySkipped()
		return nil
	}

	lines := SplitLines(rec.Content)
	for i, c := range d.configs {
		if err := AddChunks(lines, d.counters[i], c); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes the last repository and returns the run statistics.
func (d *Detector) Close(ctx context.Context) (Stats, error) {
	if d.active {
		if err := d.flush(ctx); err != nil {
			return d.Stats(), err
		}
		d.active = false
	}
	return d.Stats(), nil
}

// Stats returns the statistics so far.
func (d *Detector) Stats() Stats {
	s := d.stats
	s.Languages = make([]string, 0, len(d.langs))
	for l := range d.langs {
		s.Languages = append(s.Languages, l)
	}
	sort.Strings(s.Languages)
	return s
}

// flush writes the counts of the current repository and clears them.
func (d *Detector) flush(ctx context.Context) error {
	for i, counter := range d.counters {
		items := counter.Items()
		rows := make([]warehouse.Row, len(items))
		for j, it := range items {
			rows[j] = warehouse.Row{
				"repo_name":       d.current,
				"code_chunk":      it.Chunk,
				"num_occurrences": it.Occurrences,
			}
		}
		if err := d.push(ctx, d.tables[i], rows); err != nil {
			return err
		}
		d.stats.Rows += len(rows)
		counter.Reset()
	}
	recordDryFlush()
	d.logger.Debug("dry.flush", "repo_name", d.current, "rows", d.stats.Rows)
	return nil
}

// push writes rows, halving any part the sink rejects until a single row
// fails.
func (d *Detector) push(ctx context.Context, table string, rows []warehouse.Row) error {
	work := [][]warehouse.Row{rows}
	for len(work) > 0 {
		part := work[len(work)-1]
		work = work[:len(work)-1]
		if len(part) == 0 {
			continue
		}

		err := d.sink.Push(ctx, ingestion.Target{Table: table}, part)
		if err == nil {
			continue
		}
		if ctx.Err() != nil || len(part) == 1 {
			return fmt.Errorf("push chunks of %s to %s: %w", d.current, table, err)
		}
		mid := len(part) / 2
		d.stats.Splits++
		d.logger.Warn("dry.flush.split", "repo_name", d.current, "table", table, "rows", len(part), "err", err)
		work = append(work, part[mid:], part[:mid])
	}
	return nil
}

// Prepare replaces the output tables of opts with empty ones.
func Prepare(ctx context.Context, wh warehouse.Warehouse, opts Options) error {
	for _, c := range opts.Configs {
		if err := c.Validate(); err != nil {
			return err
		}
		if err := warehouse.ReplaceTable(ctx, wh, c.Table(opts.Prefix), Schema); err != nil {
			return err
		}
	}
	return nil
}

func mergeSorted(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
