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

package warehouse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = Schema{
	{Name: "sha", Type: String},
	{Name: "repo_name", Type: String},
	{Name: "code", Type: Integer},
}

func seeded(t *testing.T, rows ...Row) *MemoryWarehouse {
	t.Helper()
	m := NewMemory()
	require.NoError(t, m.CreateTable(context.Background(), "t", testSchema))
	require.NoError(t, m.WriteRows(context.Background(), "t", rows))
	return m
}

// TestWarehouseInterface verifies the engines implement Warehouse.
func TestWarehouseInterface(t *testing.T) {
	var _ Warehouse = &MemoryWarehouse{}
	var _ Warehouse = &SQLWarehouse{}
}

func TestMemory_TableLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ok, err := m.TableExists(ctx, "t")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.CreateTable(ctx, "t", testSchema))
	ok, _ = m.TableExists(ctx, "t")
	assert.True(t, ok)
	assert.Error(t, m.CreateTable(ctx, "t", testSchema))

	require.NoError(t, m.DeleteTable(ctx, "t"))
	require.NoError(t, m.DeleteTable(ctx, "t"), "deleting a missing table is not an error")
	ok, _ = m.TableExists(ctx, "t")
	assert.False(t, ok)
}

func TestMemory_WriteRows(t *testing.T) {
	ctx := context.Background()
	m := seeded(t, Row{"sha": "a", "code": 3})

	rows := m.Rows("t")
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0]["code"], "ints are widened to int64")
	assert.Nil(t, rows[0]["repo_name"], "missing columns are NULL")

	err := m.WriteRows(ctx, "t", []Row{{"nope": 1}})
	assert.Error(t, err)

	err = m.WriteRows(ctx, "missing", []Row{{"sha": "a"}})
	assert.ErrorIs(t, err, ErrNoTable)
}

func TestMemory_WriteHook(t *testing.T) {
	m := seeded(t)
	boom := errors.New("boom")
	m.WriteHook = func(string, []Row) error { return boom }

	err := m.WriteRows(context.Background(), "t", []Row{{"sha": "a"}})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, m.Rows("t"))
}

func TestMemory_Select(t *testing.T) {
	ctx := context.Background()
	m := seeded(t,
		Row{"sha": "b", "repo_name": "r1", "code": 2},
		Row{"sha": "a", "repo_name": "r1", "code": 1},
		Row{"sha": "a", "repo_name": "r1", "code": 1},
		Row{"sha": "c", "repo_name": "r2", "code": 5},
		Row{"sha": "c", "repo_name": "r2", "code": 6},
	)

	tests := []struct {
		name string
		sel  Select
		want []string
	}{
		{"all", Select{Table: "t", Columns: []string{"sha"}}, []string{"b", "a", "a", "c", "c"}},
		{"distinct ordered", Select{Table: "t", Columns: []string{"sha"}, Distinct: true, OrderBy: []string{"sha"}}, []string{"a", "b", "c"}},
		{"where", Select{Table: "t", Columns: []string{"sha"}, Where: map[string]any{"repo_name": "r2"}}, []string{"c", "c"}},
		{"unique by", Select{Table: "t", UniqueBy: "sha", OrderBy: []string{"sha"}}, []string{"a", "b"}},
		{"limit", Select{Table: "t", Columns: []string{"sha"}, OrderBy: []string{"sha"}, Limit: 2}, []string{"a", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := m.Query(ctx, tt.sel)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Strings("sha"))
		})
	}
}

func TestMemory_QueryToTableReplaces(t *testing.T) {
	ctx := context.Background()
	m := seeded(t,
		Row{"sha": "a", "code": 1},
		Row{"sha": "a", "code": 1},
	)
	sel := Select{Table: "t", Distinct: true, OrderBy: testSchema.Names()}

	require.NoError(t, m.QueryToTable(ctx, sel, "final"))
	first := m.Rows("final")
	require.NoError(t, m.QueryToTable(ctx, sel, "final"))
	second := m.Rows("final")

	assert.Len(t, first, 1)
	assert.Equal(t, first, second)
}

func TestMemory_ScanAllowsWrites(t *testing.T) {
	ctx := context.Background()
	m := seeded(t, Row{"sha": "a"}, Row{"sha": "b"})

	err := m.Scan(ctx, Select{Table: "t"}, func(r Row) error {
		return m.WriteRows(ctx, "t", []Row{{"sha": r.String("sha") + "2"}})
	})
	require.NoError(t, err)
	assert.Len(t, m.Rows("t"), 4)
}

func TestMemory_Closed(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())
	_, err := m.TableExists(context.Background(), "t")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_UnknownEngine(t *testing.T) {
	_, err := Open(Config{Engine: "bigtable"})
	assert.Error(t, err)

	wh, err := Open(Config{Engine: "mem"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryWarehouse{}, wh)
}

func TestEnsureAndReplaceTable(t *testing.T) {
	ctx := context.Background()
	m := seeded(t, Row{"sha": "a"})

	require.NoError(t, EnsureTable(ctx, m, "t", testSchema))
	assert.Len(t, m.Rows("t"), 1, "EnsureTable keeps existing rows")

	require.NoError(t, ReplaceTable(ctx, m, "t", testSchema))
	assert.Empty(t, m.Rows("t"))
}

func TestResultColumn(t *testing.T) {
	r := &Result{Headers: []string{"a", "b"}, Rows: [][]any{{"x", nil}, {"y", int64(2)}}}
	assert.Equal(t, []any{"x", "y"}, r.Column("a"))
	assert.Equal(t, []string{"2"}, r.Strings("b"))
	assert.Nil(t, r.Column("c"))
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))
	assert.ErrorIs(t, classify(io.EOF), ErrTransient)
	assert.ErrorIs(t, classify(fmt.Errorf("exec: %w", syscall.ECONNRESET)), ErrTransient)
	assert.NotErrorIs(t, classify(errors.New("value too long")), ErrTransient)
}

func TestMemory_Join(t *testing.T) {
	ctx := context.Background()
	m := seeded(t,
		Row{"sha": "a", "repo_name": "r2"},
		Row{"sha": "a", "repo_name": "r1"},
		Row{"sha": "b", "repo_name": "r1"},
		Row{"sha": "z", "repo_name": "r3"},
	)
	require.NoError(t, m.CreateTable(ctx, "lang", Schema{{Name: "sha", Type: String}, {Name: "language", Type: String}}))
	require.NoError(t, m.WriteRows(ctx, "lang", []Row{{"sha": "a", "language": "Go"}, {"sha": "b", "language": "C"}}))

	sel := Select{
		Table:   "t",
		Columns: []string{"repo_name", "sha"},
		Join:    &Join{Table: "lang", On: "sha", Columns: []string{"language"}},
		OrderBy: []string{"repo_name", "sha"},
	}
	res, err := m.Query(ctx, sel)
	require.NoError(t, err)
	assert.Equal(t, []string{"repo_name", "sha", "language"}, res.Headers)
	assert.Equal(t, []string{"r1", "r1", "r2"}, res.Strings("repo_name"))
	assert.Equal(t, []string{"Go", "C", "Go"}, res.Strings("language"), "unmatched rows are dropped")

	require.NoError(t, m.QueryToTable(ctx, sel, "joined"))
	assert.Len(t, m.Rows("joined"), 3)

	_, err = m.Query(ctx, Select{Table: "t", Columns: []string{"sha"}, Join: &Join{Table: "lang", On: "sha", Columns: []string{"sha"}}})
	assert.Error(t, err, "a column selected from both sides is rejected")
}
