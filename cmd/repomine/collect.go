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

	"github.com/spf13/pflag"

	"github.com/kraklabs/repomine/internal/output"
	"github.com/kraklabs/repomine/internal/ui"
	"github.com/kraklabs/repomine/pkg/collect"
	"github.com/kraklabs/repomine/pkg/ingestion"
)

// runCollect runs one GitHub API collector over the repo list.
//
// Flags:
//   - --table: output table (default: <prefix>_<collector>)
//   - --fresh: replace the table instead of resuming it
//   - --workers: repositories fetched concurrently
//   - --repo: collect these repositories instead of the sheet list
//   - --max-size: files collector only, the largest blob downloaded
func runCollect(args []string, globals GlobalFlags, c collect.Collector) error {
	fs := pflag.NewFlagSet(c.Name(), pflag.ContinueOnError)
	table := fs.String("table", "", "Output table (default: <prefix>_"+c.Name()+")")
	fresh := fs.Bool("fresh", false, "Replace the output table instead of skipping repositories already in it")
	workers := fs.Int("workers", 0, "Repositories fetched concurrently (default: pipeline.workers)")
	flushEvery := fs.Int("flush-every", 100, "Repositories collected between pushes")
	repoArgs := fs.StringSlice("repo", nil, "Repository to collect (repeatable); overrides the sheet")
	maxSize := fs.Int64("max-size", 1<<20, "files only: blobs larger than this many bytes get NULL content (0: no limit)")
	fs.Usage = usage(fs, fmt.Sprintf("Runs the %s collector over the repositories of the sheet.\n"+
		"All requests share one pacer sized to github.quota_per_hour.", c.Name()))
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

	if _, ok := c.(collect.Files); ok {
		c = collect.Files{MaxSize: *maxSize}
	}
	if *table == "" {
		*table = a.cfg.Table(c.Name())
		if c.Name() == "files" {
			*table = a.cfg.Tables.Contents
		}
	}
	if *workers <= 0 {
		*workers = a.cfg.Pipeline.Workers
	}
	repos := *repoArgs
	if len(repos) == 0 {
		if repos, err = a.repos(ctx); err != nil {
			return err
		}
	}

	api, err := a.client()
	if err != nil {
		return err
	}
	pusher := ingestion.NewPusher(a.wh, ingestion.PusherOptions{
		MaxBatch: a.cfg.Pipeline.MaxBatch,
		Backoff:  a.cfg.Pipeline.PushBackoff,
		Pacer:    a.pacer,
		Logger:   a.logger,
	})

	bar := progressFor(globals).repos(c.Name(), len(repos))
	runner := collect.NewRunner(a.wh, api, pusher, collect.Options{
		Workers:    *workers,
		FlushEvery: *flushEvery,
		Fresh:      *fresh,
		Progress:   bar.callback(),
		Logger:     a.logger,
	})
	sum, err := runner.Run(ctx, c, *table, repos)
	bar.done()
	if err != nil {
		return err
	}

	if globals.JSON {
		return output.JSON(sum)
	}
	ui.Header(fmt.Sprintf("%s complete", c.Name()))
	fmt.Fprintf(ui.Out, "%s %s\n", ui.Label("Table:    "), ui.DimText(sum.Table))
	fmt.Fprintf(ui.Out, "%s %s\n", ui.Label("Collected:"), ui.CountText(int64(sum.Collected)))
	fmt.Fprintf(ui.Out, "%s %s\n", ui.Label("Rows:     "), ui.CountText(int64(sum.Rows)))
	if sum.Existing > 0 {
		ui.Infof("%d repositories were already in the table", sum.Existing)
	}
	for _, r := range sum.NotFound {
		ui.Warningf("not found: %s", r)
	}
	for _, r := range sum.Malformed {
		ui.Warningf("malformed response: %s", r)
	}
	for _, r := range sum.Unavailable {
		ui.Warningf("unavailable, will retry next run: %s", r)
	}
	if st := pusher.Stats(); st.Dropped > 0 {
		ui.Warningf("%d rows dropped after the warehouse rejected them", st.Dropped)
	}
	return nil
}
