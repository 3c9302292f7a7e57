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
	"sync"
	"time"

	"github.com/kraklabs/repomine/pkg/ghapi"
	"github.com/kraklabs/repomine/pkg/warehouse"
)

// Pacer spaces the single-record writes of the push cascade.
// *ghapi.Pacer satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Target is where a Push writes.
type Target struct {
	Table string

	// OversizedField, when set, is the column nulled as a last attempt
	// before a rejected record is dropped.
	OversizedField string
}

// PusherOptions configures a Pusher.
type PusherOptions struct {
	// MaxBatch caps the rows of a single write. Defaults to 500.
	MaxBatch int

	// Backoff is the wait before the one retry of a transient failure.
	Backoff time.Duration

	// Pacer spaces single-record writes. Nil disables pacing.
	Pacer Pacer

	Logger *slog.Logger
}

// PushStats counts what a Pusher has done.
type PushStats struct {
	Writes  int `json:"writes"`
	Rows    int `json:"rows"`
	Splits  int `json:"splits"`
	Retries int `json:"retries"`
	Nulled  int `json:"nulled"`
	Dropped int `json:"dropped"`
}

// Pusher appends rows to warehouse tables, degrading from whole batches to
// single records when the warehouse rejects a batch.
type Pusher struct {
	wh       warehouse.Warehouse
	maxBatch int
	backoff  time.Duration
	pacer    Pacer
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error

	mu    sync.Mutex
	stats PushStats
}

// NewPusher returns a Pusher writing to wh.
func NewPusher(wh warehouse.Warehouse, opts PusherOptions) *Pusher {
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 500
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pusher{
		wh:       wh,
		maxBatch: opts.MaxBatch,
		backoff:  opts.Backoff,
		pacer:    opts.Pacer,
		logger:   opts.Logger,
		sleep:    ghapi.Sleep,
	}
}

// Stats returns a copy of the counters.
func (p *Pusher) Stats() PushStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Pusher) count(f func(*PushStats)) {
	p.mu.Lock()
	f(&p.stats)
	p.mu.Unlock()
}

// Push writes rows to t.Table.
//
// Batches above MaxBatch are halved until they fit. A transient failure is
// retried once after Backoff and then returned. A rejected batch is written
// again one record at a time; a record rejected alone is retried with
// t.OversizedField nulled and dropped with a log line if that fails too.
func (p *Pusher) Push(ctx context.Context, t Target, rows []warehouse.Row) error {
	if len(rows) == 0 {
		return nil
	}

	// LIFO worklist; the second half is pushed first so rows keep their order.
	work := [][]warehouse.Row{rows}
	for len(work) > 0 {
		batch := work[len(work)-1]
		work = work[:len(work)-1]

		if len(batch) > p.maxBatch {
			mid := len(batch) / 2
			work = append(work, batch[mid:], batch[:mid])
			p.count(func(s *PushStats) { s.Splits++ })
			recordPushSplit()
			continue
		}

		err := p.write(ctx, t.Table, batch)
		if err == nil {
			continue
		}
		if fatal(ctx, err) {
			return err
		}
		p.logger.Warn("pusher.batch.rejected", "table", t.Table, "rows", len(batch), "err", err)
		if err := p.isolate(ctx, t, batch); err != nil {
			return err
		}
	}
	return nil
}

// isolate writes each row of a rejected batch on its own.
func (p *Pusher) isolate(ctx context.Context, t Target, batch []warehouse.Row) error {
	for _, row := range batch {
		if p.pacer != nil {
			if err := p.pacer.Wait(ctx); err != nil {
				return err
			}
		}
		err := p.write(ctx, t.Table, []warehouse.Row{row})
		if err == nil {
			continue
		}
		if fatal(ctx, err) {
			return err
		}

		if t.OversizedField != "" && row[t.OversizedField] != nil {
			trimmed := make(warehouse.Row, len(row))
			for k, v := range row {
				trimmed[k] = v
			}
			trimmed[t.OversizedField] = nil
			err = p.write(ctx, t.Table, []warehouse.Row{trimmed})
			if err == nil {
				p.count(func(s *PushStats) { s.Nulled++ })
				p.logger.Warn("pusher.record.nulled",
					"table", t.Table, "field", t.OversizedField,
					"repo_name", row.String("repo_name"), "path", row.String("path"), "sha", row.String("sha"),
				)
				continue
			}
			if fatal(ctx, err) {
				return err
			}
		}

		p.count(func(s *PushStats) { s.Dropped++ })
		recordPushDropped()
		p.logger.Error("pusher.record.dropped",
			"table", t.Table,
			"repo_name", row.String("repo_name"), "path", row.String("path"), "sha", row.String("sha"),
			"err", err,
		)
	}
	return nil
}

// write performs one WriteRows, retrying a transient failure once.
func (p *Pusher) write(ctx context.Context, table string, rows []warehouse.Row) error {
	start := time.Now()
	err := p.wh.WriteRows(ctx, table, rows)
	if errors.Is(err, warehouse.ErrTransient) {
		p.count(func(s *PushStats) { s.Retries++ })
		p.logger.Warn("pusher.transient.retry", "table", table, "rows", len(rows), "backoff", p.backoff, "err", err)
		if serr := p.sleep(ctx, p.backoff); serr != nil {
			return serr
		}
		err = p.wh.WriteRows(ctx, table, rows)
	}
	observePushLatency(time.Since(start))
	if err != nil {
		return fmt.Errorf("push %d rows to %s: %w", len(rows), table, err)
	}
	p.count(func(s *PushStats) { s.Writes++; s.Rows += len(rows) })
	recordPushRows(len(rows))
	return nil
}

// fatal reports errors that abort a push instead of degrading it.
func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, warehouse.ErrTransient) ||
		errors.Is(err, warehouse.ErrClosed) ||
		errors.Is(err, warehouse.ErrNoTable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		ctx.Err() != nil
}
