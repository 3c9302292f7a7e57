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
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/kraklabs/repomine/pkg/warehouse"
)

// Stage describes the tables one pipeline run fills.
type Stage struct {
	Name string

	// Kinds are the derived tables, written in this order on every flush.
	// When there are two, the second is the tracker's companion table.
	Kinds []TableKind

	// Oversized names, per table, the column nulled by the push cascade.
	Oversized map[TableKind]string

	// SkipName distinguishes the stage's skip table. Empty uses "<prefix>_skip".
	SkipName string

	// UniqueKey is applied by the grouping pass.
	UniqueKey string
}

var (
	// LOCStage counts lines and strips comments.
	LOCStage = Stage{
		Name:      "loc",
		Kinds:     []TableKind{TableLOC, TableStripped},
		Oversized: map[TableKind]string{TableStripped: "content_comments_stripped"},
		UniqueKey: "sha",
	}

	// CommentsStage extracts comments.
	CommentsStage = Stage{
		Name:      "comments",
		Kinds:     []TableKind{TableComments},
		Oversized: map[TableKind]string{TableComments: "comments"},
		SkipName:  "comments",
		UniqueKey: "sha",
	}
)

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	Stage  Stage
	Prefix string

	// FlushEvery is the number of records between pushes. Defaults to 10.
	FlushEvery int

	MaxBatch    int
	PushBackoff time.Duration
	Pacer       Pacer
	ScratchDir  string
	Exclude     *regexp.Regexp

	// Group runs the grouping pass after a successful run.
	Group bool

	// Progress, when set, is called after every record with the running total.
	Progress func(files int)

	Logger *slog.Logger
}

// Result summarizes one pipeline run.
type Result struct {
	RunID     string             `json:"run_id"`
	Stage     string             `json:"stage"`
	Files     int                `json:"files"`
	Processed int                `json:"processed"`
	Failed    int                `json:"failed"`
	Skipped   map[SkipReason]int `json:"skipped"`
	Rows      map[TableKind]int  `json:"rows"`
	Push      PushStats          `json:"push"`
	Grouped   bool               `json:"grouped"`
	Duration  time.Duration      `json:"duration_ns"`
}

// TotalSkipped sums the skip counts.
func (r *Result) TotalSkipped() int {
	n := 0
	for _, c := range r.Skipped {
		n += c
	}
	return n
}

// Pipeline runs one stage over a Source.
type Pipeline struct {
	wh        warehouse.Warehouse
	source    Source
	processor *Processor
	pusher    *Pusher
	tracker   *Tracker
	tables    Tables
	cfg       PipelineConfig
	logger    *slog.Logger
}

// NewPipeline wires a pipeline for cfg.Stage. analyzer produces the stage's
// derived records.
func NewPipeline(wh warehouse.Warehouse, source Source, analyzer Analyzer, cfg PipelineConfig) (*Pipeline, error) {
	if len(cfg.Stage.Kinds) == 0 || len(cfg.Stage.Kinds) > 2 {
		return nil, fmt.Errorf("stage %q: want one or two derived tables, got %d", cfg.Stage.Name, len(cfg.Stage.Kinds))
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("stage", cfg.Stage.Name)

	tables := NewTables(cfg.Prefix)
	tc := TrackerConfig{
		Primary: tables.Ungrouped(cfg.Stage.Kinds[0]),
		Skip:    tables.Skip(cfg.Stage.SkipName),
	}
	if len(cfg.Stage.Kinds) == 2 {
		tc.Companion = tables.Ungrouped(cfg.Stage.Kinds[1])
	}

	return &Pipeline{
		wh:     wh,
		source: source,
		processor: NewProcessor(analyzer, ProcessorOptions{
			ScratchDir: cfg.ScratchDir,
			Exclude:    cfg.Exclude,
			Logger:     logger,
		}),
		pusher: NewPusher(wh, PusherOptions{
			MaxBatch: cfg.MaxBatch,
			Backoff:  cfg.PushBackoff,
			Pacer:    cfg.Pacer,
			Logger:   logger,
		}),
		tracker: NewTracker(wh, tc, logger),
		tables:  tables,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// batch holds the rows gathered since the last flush.
type batch struct {
	rows  map[TableKind][]warehouse.Row
	skips []warehouse.Row
}

func (b *batch) empty() bool {
	if len(b.skips) > 0 {
		return false
	}
	for _, rows := range b.rows {
		if len(rows) > 0 {
			return false
		}
	}
	return true
}

// Run processes every record of the source once.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{
		RunID:   uuid.NewString(),
		Stage:   p.cfg.Stage.Name,
		Skipped: make(map[SkipReason]int),
		Rows:    make(map[TableKind]int),
	}
	logger := p.logger.With("run_id", res.RunID)
	logger.Info("pipeline.start")

	logger.Info("pipeline.step.load_snapshot")
	snap, err := p.tracker.Load(ctx)
	if err != nil {
		return res, fmt.Errorf("load snapshot: %w", err)
	}
	if err := p.ensureTables(ctx); err != nil {
		return res, err
	}

	logger.Info("pipeline.step.process", "done", snap.Done(), "skipped", snap.Skipped())
	pending := &batch{rows: make(map[TableKind][]warehouse.Row)}
	err = p.source.Each(ctx, func(rec FileRecord) error {
		if res.Files > 0 && res.Files%p.cfg.FlushEvery == 0 {
			if err := p.flush(ctx, pending, res); err != nil {
				return err
			}
		}
		res.Files++
		p.handle(ctx, logger, rec, snap, pending, res)
		if p.cfg.Progress != nil {
			p.cfg.Progress(res.Files)
		}
		return nil
	})
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		res.Push = p.pusher.Stats()
		res.Duration = time.Since(start)
		logger.Warn("pipeline.interrupted", "files", res.Files, "unflushed", !pending.empty())
		return res, err
	}
	if ferr := p.flush(ctx, pending, res); ferr != nil {
		err = errors.Join(err, ferr)
	}
	res.Push = p.pusher.Stats()
	if err != nil {
		res.Duration = time.Since(start)
		return res, fmt.Errorf("stage %s: %w", p.cfg.Stage.Name, err)
	}

	if p.cfg.Group {
		logger.Info("pipeline.step.group")
		if err := p.Group(ctx); err != nil {
			res.Duration = time.Since(start)
			return res, err
		}
		res.Grouped = true
	}

	res.Duration = time.Since(start)
	observeRun(res.Duration)
	logger.Info("pipeline.complete",
		"files", res.Files,
		"processed", res.Processed,
		"skipped", res.TotalSkipped(),
		"failed", res.Failed,
		"dropped", res.Push.Dropped,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// handle processes one record into pending.
func (p *Pipeline) handle(ctx context.Context, logger *slog.Logger, rec FileRecord, snap *Snapshot, pending *batch, res *Result) {
	out, err := p.processor.Process(ctx, rec, snap)
	if err != nil {
		res.Failed++
		recordFileFailed()
		logger.Warn("pipeline.file.failed", "repo_name", rec.RepoName, "path", rec.Path, "sha", rec.Hash(), "err", err)
		return
	}
	recordOutcome(out)

	switch out.Kind {
	case Skipped:
		res.Skipped[out.Reason]++
		logger.Debug("pipeline.file.skipped", "repo_name", rec.RepoName, "path", rec.Path, "reason", out.Reason)
		if !out.Reason.Pending() {
			break
		}
		// A file with neither a hash nor content cannot be keyed; it is
		// looked at again on the next run.
		hash := rec.Hash()
		if hash == "" {
			logger.Warn("pipeline.file.unhashed", "repo_name", rec.RepoName, "path", rec.Path, "reason", out.Reason)
			break
		}
		pending.skips = append(pending.skips, warehouse.Row{"sha": hash})
	case Processed:
		res.Processed++
		logger.Debug("pipeline.file.processed", "repo_name", rec.RepoName, "path", rec.Path, "records", len(out.Records))
		for _, r := range out.Records {
			pending.rows[r.Table()] = append(pending.rows[r.Table()], r.Row())
		}
	default:
		panic(fmt.Sprintf("ingestion: unhandled outcome %v", out.Kind))
	}
}

// flush pushes and clears pending. Derived tables go first, in stage order,
// then the skip table.
func (p *Pipeline) flush(ctx context.Context, pending *batch, res *Result) error {
	if pending.empty() {
		return nil
	}
	for _, kind := range p.cfg.Stage.Kinds {
		rows := pending.rows[kind]
		target := Target{Table: p.tables.Ungrouped(kind), OversizedField: p.cfg.Stage.Oversized[kind]}
		if err := p.pusher.Push(ctx, target, rows); err != nil {
			return err
		}
		res.Rows[kind] += len(rows)
		pending.rows[kind] = pending.rows[kind][:0]
	}
	if err := p.pusher.Push(ctx, Target{Table: p.tables.Skip(p.cfg.Stage.SkipName)}, pending.skips); err != nil {
		return err
	}
	pending.skips = pending.skips[:0]
	return nil
}

func (p *Pipeline) ensureTables(ctx context.Context) error {
	for _, kind := range p.cfg.Stage.Kinds {
		if err := warehouse.EnsureTable(ctx, p.wh, p.tables.Ungrouped(kind), kind.Schema()); err != nil {
			return err
		}
	}
	return warehouse.EnsureTable(ctx, p.wh, p.tables.Skip(p.cfg.Stage.SkipName), SkipSchema)
}

// Group deduplicates every ungrouped table of the stage into its final table.
func (p *Pipeline) Group(ctx context.Context) error {
	return GroupStage(ctx, p.wh, p.cfg.Stage, p.tables)
}

// GroupStage runs the grouping pass for every table of stage.
func GroupStage(ctx context.Context, wh warehouse.Warehouse, stage Stage, tables Tables) error {
	for _, kind := range stage.Kinds {
		err := Group(ctx, wh, GroupSpec{
			Source:    tables.Ungrouped(kind),
			Dest:      tables.Grouped(kind),
			Columns:   kind.GroupColumns(),
			UniqueKey: stage.UniqueKey,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
