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
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/kraklabs/repomine/internal/output"
	"github.com/kraklabs/repomine/internal/ui"
	"github.com/kraklabs/repomine/pkg/dry"
	"github.com/kraklabs/repomine/pkg/ingestion"
)

// runDry counts duplicated code chunks per repository over the files table
// joined with the grouped comment-stripped contents.
func runDry(args []string, globals GlobalFlags) error {
	fs := pflag.NewFlagSet("dry", pflag.ContinueOnError)
	workers := fs.Int("workers", 0, "Detectors running in parallel, each owning whole repositories (default: dry.workers)")
	files := fs.String("files", "", "Table with repo_name, path and sha (default: tables.contents)")
	stripped := fs.String("stripped", "", "Grouped comment-stripped table (default: <prefix>_sc)")
	fs.Usage = usage(fs, "Counts repeated chunks of consecutive lines in every repository and\n"+
		"replaces the <prefix>_dry_<size>_<min_line_len> tables.")
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

	tables := ingestion.NewTables(a.cfg.Tables.Prefix)
	if *files == "" {
		*files = a.cfg.Tables.Contents
	}
	if *stripped == "" {
		*stripped = tables.Grouped(ingestion.TableStripped)
	}
	if *workers <= 0 {
		*workers = a.cfg.Dry.Workers
	}

	opts := dry.Options{
		Prefix:        a.cfg.Table("dry"),
		SkipLanguages: a.cfg.Dry.SkipLanguages,
		Logger:        a.logger,
	}
	for _, c := range a.cfg.Dry.Chunks {
		opts.Configs = append(opts.Configs, dry.ChunkConfig{Size: c.Size, MinLineLen: c.MinLineLen})
	}
	if err := dry.Prepare(ctx, a.wh, opts); err != nil {
		return err
	}

	pusher := ingestion.NewPusher(a.wh, ingestion.PusherOptions{
		MaxBatch: a.cfg.Pipeline.MaxBatch,
		Backoff:  a.cfg.Pipeline.PushBackoff,
		Pacer:    a.pacer,
		Logger:   a.logger,
	})
	src := dry.WarehouseSource{WH: a.wh, Files: *files, Stripped: *stripped}
	a.logger.Info("dry.start", "files", *files, "stripped", *stripped, "workers", *workers, "configs", len(opts.Configs))

	var stats dry.Stats
	if *workers <= 1 {
		d, err := dry.NewDetector(pusher, opts)
		if err != nil {
			return err
		}
		stats, err = dry.Run(ctx, d, src)
		if err != nil {
			return err
		}
	} else {
		stats, err = dry.RunParallel(ctx, src, *workers, func() (*dry.Detector, error) {
			return dry.NewDetector(pusher, opts)
		})
		if err != nil {
			return err
		}
	}
	a.logger.Info("dry.complete", "repos", stats.Repos, "records", stats.Records, "rows", stats.Rows)

	if globals.JSON {
		return output.JSON(stats)
	}
	ui.Header("dry complete")
	fmt.Fprintf(ui.Out, "%s %s\n", ui.Label("Repositories:"), ui.CountText(int64(stats.Repos)))
	fmt.Fprintf(ui.Out, "%s %s\n", ui.Label("Files:       "), ui.CountText(int64(stats.Records)))
	fmt.Fprintf(ui.Out, "%s %s\n", ui.Label("Rows:        "), ui.CountText(int64(stats.Rows)))
	if stats.SkippedLanguage > 0 {
		ui.Infof("%d files skipped by language (%s)", stats.SkippedLanguage, strings.Join(stats.Languages, ", "))
	}
	if stats.Splits > 0 {
		ui.Warningf("%d flushes were split after a rejected push", stats.Splits)
	}
	for _, c := range opts.Configs {
		ui.Successf("%s %s", c, ui.DimText(c.Table(opts.Prefix)))
	}
	return nil
}
