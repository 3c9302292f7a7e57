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
package main

import (
	stderrors "errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/pflag"

	"github.com/kraklabs/repomine/internal/config"
	"github.com/kraklabs/repomine/internal/errors"
	"github.com/kraklabs/repomine/internal/output"
	"github.com/kraklabs/repomine/internal/ui"
	"github.com/kraklabs/repomine/pkg/ingestion"
)

// stageSpec binds a content stage to the analyzer that implements it.
type stageSpec struct {
	stage    ingestion.Stage
	usage    string
	analyzer func(cfg *config.Config) ingestion.Analyzer
}

var (
	stageLOC = stageSpec{
		stage:    ingestion.LOCStage,
		usage:    "Counts lines of code with cloc and stores a comment-stripped copy of every file.",
		analyzer: func(cfg *config.Config) ingestion.Analyzer {
			return ingestion.ClocAnalyzer{Counter: ingestion.ClocCounter{Path: cfg.Pipeline.ClocPath}, Strip: true}
		},
	}
	stageComments = stageSpec{
		stage:    ingestion.CommentsStage,
		usage:    "Extracts source comments with tree-sitter (Go, Python, JavaScript, TypeScript, Java).",
		analyzer: func(cfg *config.Config) ingestion.Analyzer {
			return ingestion.TreeSitterExtractor{MaxBytes: cfg.Pipeline.MaxCommentBytes}
		},
	}
)

// parseFlags parses args, printing usage for --help.
func parseFlags(fs *pflag.FlagSet, args []string) (help bool, err error) {
	err = fs.Parse(args)
	if stderrors.Is(err, pflag.ErrHelp) {
		return true, nil
	}
	if err != nil {
		return false, errors.NewInputError("Invalid arguments", err.Error(), "Run 'repomine "+fs.Name()+" --help'")
	}
	return false, nil
}

func usage(fs *pflag.FlagSet, text string) func() {
	return func() {
		fmt.Fprintf(os.Stderr, "Usage: repomine %s [options]\n\n%s\n\nOptions:\n", fs.Name(), text)
		fs.PrintDefaults()
	}
}

// runStage runs the loc or comments stage over a content source.
//
// Flags:
//   - --source: "warehouse" (the contents table) or "bucket" (CSV exports)
//   - --table: contents table to read (default: tables.contents)
//   - --no-group: skip the grouping pass
//   - --flush-every: files per push (default: pipeline.flush_every)
func runStage(args []string, globals GlobalFlags, spec stageSpec) error {
	fs := pflag.NewFlagSet(spec.stage.Name, pflag.ContinueOnError)
	source := fs.String("source", "warehouse", "Where file contents come from: warehouse or bucket")
	table := fs.String("table", "", "Contents table to read (default: tables.contents)")
	noGroup := fs.Bool("no-group", false, "Skip the grouping pass")
	flushEvery := fs.Int("flush-every", 0, "Files processed between pushes (default: pipeline.flush_every)")
	fs.Usage = usage(fs, spec.usage)
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}

	a, err := newApp(globals)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := signalContext(a.logger)
	defer cancel()

	src, err := a.source(*source, *table)
	if err != nil {
		return err
	}
	if *flushEvery <= 0 {
		*flushEvery = a.cfg.Pipeline.FlushEvery
	}

	bar := progressFor(globals).files(spec.stage.Name)
	p, err := ingestion.NewPipeline(a.wh, src, spec.analyzer(a.cfg), ingestion.PipelineConfig{
		Stage:       spec.stage,
		Prefix:      a.cfg.Tables.Prefix,
		FlushEvery:  *flushEvery,
		MaxBatch:    a.cfg.Pipeline.MaxBatch,
		PushBackoff: a.cfg.Pipeline.PushBackoff,
		Pacer:       a.pacer,
		ScratchDir:  a.cfg.Pipeline.ScratchDir,
		Group:       !*noGroup,
		Progress:    bar.callback(),
		Logger:      a.logger,
	})
	if err != nil {
		return errors.NewInternalError("Cannot build pipeline", err.Error(), "", err)
	}
	res, err := p.Run(ctx)
	bar.done()
	if err != nil {
		return err
	}
	if globals.JSON {
		return output.JSON(res)
	}
	printStageResult(res, ingestion.NewTables(a.cfg.Tables.Prefix), spec.stage)
	return nil
}

// source builds the content source named by kind.
func (a *app) source(kind, table string) (ingestion.Source, error) {
	switch kind {
	case "warehouse":
		if table == "" {
			table = a.cfg.Tables.Contents
		}
		return ingestion.WarehouseSource{WH: a.wh, Table: table}, nil
	case "bucket":
		s := a.cfg.Storage
		src, err := ingestion.NewBucketSource(ingestion.BucketConfig{
			Endpoint:  s.Endpoint,
			AccessKey: s.AccessKey,
			SecretKey: s.SecretKey,
			Bucket:    s.Bucket,
			Prefix:    s.Prefix,
			UseSSL:    s.UseSSL,
		}, a.logger)
		if err != nil {
			return nil, errors.NewConfigError("Cannot open bucket", err.Error(), "Check the storage section of the configuration", err)
		}
		return src, nil
	default:
		return nil, errors.NewInputError("Unknown source "+kind, "", "Use --source warehouse or --source bucket")
	}
}

func printStageResult(res *ingestion.Result, tables ingestion.Tables, stage ingestion.Stage) {
	ui.Header(fmt.Sprintf("%s complete", stage.Name))
	fmt.Fprintf(ui.Out, "%s %s\n", ui.Label("Run ID:   "), ui.DimText(res.RunID))
	fmt.Fprintf(ui.Out, "%s %s\n", ui.Label("Files:    "), ui.CountText(int64(res.Files)))
	fmt.Fprintf(ui.Out, "%s %s\n", ui.Label("Processed:"), ui.CountText(int64(res.Processed)))
	if res.Failed > 0 {
		ui.Warningf("%d files failed analysis and will be retried on the next run", res.Failed)
	}

	skipped := make(map[string]int64, len(res.Skipped))
	for reason, n := range res.Skipped {
		skipped[string(reason)] = int64(n)
	}
	ui.Counts("Skipped:", skipped)

	rows := make(map[string]int64, len(res.Rows))
	for kind, n := range res.Rows {
		rows[tables.Ungrouped(kind)] = int64(n)
	}
	ui.Counts("Rows written:", rows)

	if res.Push.Dropped > 0 || res.Push.Nulled > 0 {
		ui.Warningf("%d records dropped, %d with an oversized field nulled", res.Push.Dropped, res.Push.Nulled)
	}
	if res.Grouped {
		grouped := make([]string, 0, len(stage.Kinds))
		for _, kind := range stage.Kinds {
			grouped = append(grouped, tables.Grouped(kind))
		}
		sort.Strings(grouped)
		for _, t := range grouped {
			ui.Successf("grouped %s", t)
		}
	}
	fmt.Fprintf(ui.Out, "%s %s\n", ui.Label("Duration: "), res.Duration.Round(time.Millisecond))
}

// runGroup rebuilds the grouped tables of a stage from its ungrouped tables.
func runGroup(args []string, globals GlobalFlags) error {
	fs := pflag.NewFlagSet("group", pflag.ContinueOnError)
	stageName := fs.String("stage", "loc", "Stage to group: loc or comments")
	fs.Usage = usage(fs, "Deduplicates the ungrouped tables of a stage into its final tables.")
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}

	var stage ingestion.Stage
	switch *stageName {
	case "loc":
		stage = ingestion.LOCStage
	case "comments":
		stage = ingestion.CommentsStage
	default:
		return errors.NewInputError("Unknown stage "+*stageName, "", "Use --stage loc or --stage comments")
	}

	a, err := newApp(globals)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := signalContext(a.logger)
	defer cancel()

	tables := ingestion.NewTables(a.cfg.Tables.Prefix)
	if err := ingestion.GroupStage(ctx, a.wh, stage, tables); err != nil {
		return err
	}
	names := make([]string, 0, len(stage.Kinds))
	for _, kind := range stage.Kinds {
		names = append(names, tables.Grouped(kind))
	}
	if globals.JSON {
		return output.JSON(map[string]any{"stage": stage.Name, "tables": names})
	}
	for _, n := range names {
		ui.Successf("grouped %s", n)
	}
	return nil
}
