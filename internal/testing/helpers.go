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
package testing

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/kraklabs/repomine/pkg/warehouse"
)

// QuietLogger discards everything.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SetupTestWarehouse creates an in-memory warehouse that is closed when the
// test finishes.
func SetupTestWarehouse(t *testing.T) *warehouse.MemoryWarehouse {
	t.Helper()
	wh := warehouse.NewMemory()
	t.Cleanup(func() { _ = wh.Close() })
	return wh
}

// SetupSQLiteWarehouse opens a sqlite warehouse backed by a file in
// t.TempDir.
func SetupSQLiteWarehouse(t *testing.T) *warehouse.SQLWarehouse {
	t.Helper()
	wh, err := warehouse.OpenSQL(warehouse.SQLite, filepath.Join(t.TempDir(), "warehouse.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite warehouse: %v", err)
	}
	t.Cleanup(func() { _ = wh.Close() })
	return wh
}

// SeedTable creates name with schema if it is missing and appends rows.
//
// Example:
//
//	rmtest.SeedTable(t, wh, "files", schema,
//	    warehouse.Row{"repo_name": "a/b", "path": "main.go", "sha": "s1"},
//	)
func SeedTable(t *testing.T, wh warehouse.Warehouse, name string, schema warehouse.Schema, rows ...warehouse.Row) {
	t.Helper()
	ctx := context.Background()
	if err := warehouse.EnsureTable(ctx, wh, name, schema); err != nil {
		t.Fatalf("failed to create table %s: %v", name, err)
	}
	if err := wh.WriteRows(ctx, name, rows); err != nil {
		t.Fatalf("failed to seed table %s: %v", name, err)
	}
}

// QueryTable returns every row of name ordered by the given columns.
func QueryTable(t *testing.T, wh warehouse.Warehouse, name string, orderBy ...string) *warehouse.Result {
	t.Helper()
	res, err := wh.Query(context.Background(), warehouse.Select{Table: name, OrderBy: orderBy})
	if err != nil {
		t.Fatalf("failed to query %s: %v", name, err)
	}
	return res
}

// TableNames returns which of names exist in wh.
func TableNames(t *testing.T, wh warehouse.Warehouse, names ...string) []string {
	t.Helper()
	var out []string
	for _, n := range names {
		ok, err := wh.TableExists(context.Background(), n)
		if err != nil {
			t.Fatalf("failed to check table %s: %v", n, err)
		}
		if ok {
			out = append(out, n)
		}
	}
	return out
}
