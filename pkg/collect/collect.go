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
// Package collect runs per-repository GitHub API collectors and appends
// their rows to warehouse tables.
//
// Each Collector turns one repository into zero or more rows. A Runner
// drives a collector over a repo list: repositories already present in the
// output table are skipped, missing repositories are logged and skipped,
// and rows are pushed through an ingestion.Pusher every FlushEvery
// repositories. All requests share the pacer of the API client.
package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/repomine/pkg/ghapi"
	"github.com/kraklabs/repomine/pkg/ingestion"
	"github.com/kraklabs/repomine/pkg/warehouse"
)

// TimeLayout formats the time_accessed column.
const TimeLayout = "02 Jan 2006 15:04:05 MST"

// API is the part of *ghapi.Client the collectors call.
type API interface {
	Repo(ctx context.Context, name string) (*ghapi.Repo, error)
	Commits(ctx context.Context, name string) ([]ghapi.Commit, error)
	Pulls(ctx context.Context, name, state string) ([]ghapi.Pull, error)
	License(ctx context.Context, name string) (string, error)
	Languages(ctx context.Context, name string) (map[string]int64, error)
	Tree(ctx context.Context, name, ref string) ([]ghapi.TreeEntry, error)
	Contents(ctx context.Context, name, path string) (*ghapi.FileContent, error)
	HeadCommit(ctx context.Context, name string) (string, error)
}

// Visit carries what every row of one repository shares.
type Visit struct {
	Repo     string
	Head     string
	Accessed string
	Logger   *slog.Logger
}

// stamp adds the provenance columns to r.
func (v Visit) stamp(r warehouse.Row) warehouse.Row {
	r["repo_name"] = v.Repo
	if v.Head != "" {
		r["curr_commit_master"] = v.Head
	}
	r["time_accessed"] = v.Accessed
	return r
}

// Collector fetches the rows of one repository.
type Collector interface {
	Name() string
	Schema() warehouse.Schema
	// OversizedField is nulled when a single row is rejected by the
	// warehouse. Empty means rows are dropped instead.
	OversizedField() string
	Collect(ctx context.Context, api API, v Visit) ([]warehouse.Row, error)
}

// Options configures a Runner.
type Options struct {
	// Workers bounds concurrent repositories. Defaults to 1.
	Workers int

	// FlushEvery pushes buffered rows after this many repositories.
	// Defaults to 100.
	FlushEvery int

	// Fresh replaces the output table instead of resuming it.
	Fresh bool

	// Progress, when set, is called after every finished repository.
	Progress func(done int)

	Logger *slog.Logger
}

// Summary reports one collector run.
type Summary struct {
	Collector   string        `json:"collector"`
	Table       string        `json:"table"`
	Repos       int           `json:"repos"`
	Existing    int           `json:"existing"`
	Collected   int           `json:"collected"`
	NotFound    []string      `json:"not_found,omitempty"`
	Malformed   []string      `json:"malformed,omitempty"`
	// Unavailable lists blocked, disabled or empty repositories. They are
	// retried on the next run.
	Unavailable []string      `json:"unavailable,omitempty"`
	Rows        int           `json:"rows"`
	Duration    time.Duration `json:"duration_ns"`
}

// Runner drives collectors over a repo list.
type Runner struct {
	wh     warehouse.Warehouse
	api    API
	pusher *ingestion.Pusher
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner returns a Runner writing through pusher into wh.
func NewRunner(wh warehouse.Warehouse, api API, pusher *ingestion.Pusher, opts Options) *Runner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.FlushEvery < 1 {
		opts.FlushEvery = 100
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		wh:     wh,
		api:    api,
		pusher: pusher,
		opts:   opts,
		logger: opts.Logger,
		now:    time.Now,
	}
}

// Run collects every repository in repos into table.
func (r *Runner) Run(ctx context.Context, c Collector, table string, repos []string) (Summary, error) {
	start := time.Now()
	sum := Summary{Collector: c.Name(), Table: table}
	log := r.logger.With("collector", c.Name(), "table", table)

	var err error
	if r.opts.Fresh {
		err = warehouse.ReplaceTable(ctx, r.wh, table, c.Schema())
	} else {
		err = warehouse.EnsureTable(ctx, r.wh, table, c.Schema())
	}
	if err != nil {
		return sum, fmt.Errorf("prepare %s: %w", table, err)
	}

	todo, err := r.pending(ctx, table, repos)
	if err != nil {
		return sum, err
	}
	sum.Repos = len(repos)
	sum.Existing = len(repos) - len(todo)
	log.Info("collect.start", "repos", len(repos), "existing", sum.Existing, "workers", r.opts.Workers)

	var (
		mu      sync.Mutex
		buf     []warehouse.Row
		bufRepo int
		done    int
	)
	target := ingestion.Target{Table: table, OversizedField: c.OversizedField()}
	flush := func(ctx context.Context, rows []warehouse.Row) error {
		if err := r.pusher.Push(ctx, target, rows); err != nil {
			return fmt.Errorf("push %s: %w", table, err)
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for _, repo := range todo {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			rows, outcome, err := r.visit(gctx, c, repo)
			if err != nil {
				return err
			}
			recordRepo(c.Name(), outcome)

			mu.Lock()
			switch outcome {
			case outcomeNotFound:
				sum.NotFound = append(sum.NotFound, repo)
			case outcomeMalformed:
				sum.Malformed = append(sum.Malformed, repo)
			case outcomeUnavailable:
				sum.Unavailable = append(sum.Unavailable, repo)
			default:
				sum.Collected++
			}
			sum.Rows += len(rows)
			buf = append(buf, rows...)
			bufRepo++
			done++
			var ready []warehouse.Row
			if bufRepo >= r.opts.FlushEvery {
				ready, buf, bufRepo = buf, nil, 0
			}
			n := done
			mu.Unlock()

			if r.opts.Progress != nil {
				r.opts.Progress(n)
			}
			if len(ready) > 0 {
				log.Info("collect.flush", "done", n, "rows", len(ready))
				return flush(gctx, ready)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		sum.Duration = time.Since(start)
		if errors.Is(err, context.Canceled) {
			log.Warn("collect.interrupted", "done", done)
		}
		return sum, err
	}
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	if err := flush(ctx, buf); err != nil {
		return sum, err
	}

	sort.Strings(sum.NotFound)
	sort.Strings(sum.Malformed)
	sort.Strings(sum.Unavailable)
	sum.Duration = time.Since(start)
	log.Info("collect.complete",
		"collected", sum.Collected, "not_found", len(sum.NotFound),
		"malformed", len(sum.Malformed), "unavailable", len(sum.Unavailable),
		"rows", sum.Rows, "duration", sum.Duration,
	)
	return sum, nil
}

type outcome string

const (
	outcomeCollected   outcome = "collected"
	outcomeNotFound    outcome = "not_found"
	outcomeMalformed   outcome = "malformed"
	// Unavailable repositories write no rows, so pending picks them up again.
	outcomeUnavailable outcome = "unavailable"
)

// visit collects one repository. Not-found, malformed and unavailable
// responses are logged and yield no rows; any other error aborts the run.
func (r *Runner) visit(ctx context.Context, c Collector, repo string) ([]warehouse.Row, outcome, error) {
	logger := r.logger.With("collector", c.Name(), "repo_name", repo)
	head, err := r.api.HeadCommit(ctx, repo)
	switch {
	case err == nil, errors.Is(err, ghapi.ErrMalformed):
	case errors.Is(err, ghapi.ErrUnavailable):
		logger.Warn("collect.repo.unavailable", "err", err)
		return nil, outcomeUnavailable, nil
	default:
		return nil, "", fmt.Errorf("%s: head commit: %w", repo, err)
	}
	v := Visit{
		Repo:     repo,
		Head:     head,
		Accessed: r.now().UTC().Format(TimeLayout),
		Logger:   logger,
	}
	rows, err := c.Collect(ctx, r.api, v)
	switch {
	case err == nil:
		return rows, outcomeCollected, nil
	case errors.Is(err, ghapi.ErrNotFound):
		v.Logger.Warn("collect.repo.not_found", "err", err)
		return nil, outcomeNotFound, nil
	case errors.Is(err, ghapi.ErrMalformed):
		v.Logger.Warn("collect.repo.malformed", "err", err)
		return nil, outcomeMalformed, nil
	case errors.Is(err, ghapi.ErrUnavailable):
		v.Logger.Warn("collect.repo.unavailable", "err", err)
		return nil, outcomeUnavailable, nil
	default:
		return nil, "", fmt.Errorf("%s: %s: %w", c.Name(), repo, err)
	}
}

// pending drops the repositories already present in table.
func (r *Runner) pending(ctx context.Context, table string, repos []string) ([]string, error) {
	res, err := r.wh.Query(ctx, warehouse.Select{
		Table:    table,
		Columns:  []string{"repo_name"},
		Distinct: true,
	})
	if err != nil {
		return nil, fmt.Errorf("existing repos in %s: %w", table, err)
	}
	have := make(map[string]struct{}, len(res.Rows))
	for _, name := range res.Strings("repo_name") {
		have[name] = struct{}{}
	}
	todo := make([]string, 0, len(repos))
	for _, repo := range repos {
		if _, ok := have[repo]; !ok {
			todo = append(todo, repo)
		}
	}
	return todo, nil
}
