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

// Package warehouse provides the table store that every repomine stage
// reads from and writes to.
//
// The Warehouse interface is deliberately small: tables are created from a
// Schema, rows are appended with at-least-once semantics, and reads are
// expressed as a structured Select rather than a vendor query dialect. A
// Select can be streamed (Scan), collected (Query) or materialized into a
// destination table that is fully replaced (QueryToTable).
//
// # Available Engines
//
//   - "sqlite": local file database via github.com/mattn/go-sqlite3
//   - "postgres": server database via github.com/jackc/pgx/v5/stdlib
//   - "mem": in-process tables, used by tests and --dry-run
//
// # Quick Start
//
//	wh, err := warehouse.Open(warehouse.Config{
//	    Engine: "sqlite",
//	    DSN:    "/var/lib/repomine/warehouse.db",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer wh.Close()
//
//	err = wh.CreateTable(ctx, "loc_ungrouped", warehouse.Schema{
//	    {Name: "sha", Type: warehouse.String},
//	    {Name: "code", Type: warehouse.Integer},
//	})
//
//	res, err := wh.Query(ctx, warehouse.Select{
//	    Table:    "loc_ungrouped",
//	    Columns:  []string{"sha"},
//	    Distinct: true,
//	})
//
// # Failure Classes
//
// WriteRows distinguishes two failure classes. Errors wrapping ErrTransient
// are connection-level failures (broken pipe, reset, EOF) that may succeed
// on retry. Any other error is an application error: the store rejected the
// batch, and resending it unchanged will fail again.
//
// # Thread Safety
//
// All engines are safe for concurrent use.
package warehouse
