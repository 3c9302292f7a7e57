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
	"sort"
)

var (
	// ErrTransient marks a write failure at the connection level.
	ErrTransient = errors.New("warehouse: transient failure")

	// ErrNoTable is returned when an operation names a table that does not exist.
	ErrNoTable = errors.New("warehouse: no such table")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("warehouse: closed")
)

// FieldType is the column type of a Schema field.
type FieldType string

const (
	String  FieldType = "STRING"
	Integer FieldType = "INTEGER"
	Boolean FieldType = "BOOLEAN"
)

// Field is one column of a table.
type Field struct {
	Name string
	Type FieldType
}

// Schema is an ordered list of columns.
type Schema []Field

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// Has reports whether the schema has a column called name.
func (s Schema) Has(name string) bool {
	for _, f := range s {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Row is one record keyed by column name. Missing columns are written as NULL.
type Row map[string]any

// String returns the value of col as a string, or "" when it is absent or NULL.
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Select describes a read over one table.
type Select struct {
	Table string

	// Columns to project. Empty means every column of the table.
	Columns []string

	// Distinct drops duplicate projected rows.
	Distinct bool

	// UniqueBy, when set, keeps only rows whose UniqueBy value occurs in
	// exactly one distinct projected row. It implies Distinct.
	UniqueBy string

	// Where restricts rows to those whose column equals the given value.
	Where map[string]any

	// OrderBy sorts ascending by the listed columns.
	OrderBy []string

	// Limit caps the number of rows. Zero means no limit.
	Limit int

	// Join, when set, inner-joins Table with another table. Where and
	// OrderBy may name columns of either side.
	Join *Join
}

// Join is an equi-join on a column both tables share.
type Join struct {
	Table string
	On    string

	// Columns are projected from the joined table. They must not repeat a
	// column of the left projection.
	Columns []string
}

// Projection returns the column names of a result row, or nil when every
// column of Table is selected.
func (s Select) Projection() []string {
	if s.Join == nil {
		return s.Columns
	}
	return append(append([]string(nil), s.Columns...), s.Join.Columns...)
}

func (s Select) validate() error {
	if s.Join == nil {
		return nil
	}
	if len(s.Columns) == 0 || len(s.Join.Columns) == 0 || s.Join.On == "" {
		return fmt.Errorf("join %s with %s: both projections and the join column are required", s.Table, s.Join.Table)
	}
	if s.UniqueBy != "" {
		return fmt.Errorf("join %s with %s: UniqueBy is not supported on joins", s.Table, s.Join.Table)
	}
	left := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		left[c] = true
	}
	for _, c := range s.Join.Columns {
		if left[c] {
			return fmt.Errorf("join %s with %s: column %q selected from both sides", s.Table, s.Join.Table, c)
		}
	}
	return nil
}

// Result is a collected Select.
type Result struct {
	Headers []string
	Rows    [][]any
}

// Column returns every value of the named column, or nil if absent.
func (r *Result) Column(name string) []any {
	idx := -1
	for i, h := range r.Headers {
		if h == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	out := make([]any, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = row[idx]
	}
	return out
}

// Strings returns the named column as strings, skipping NULLs.
func (r *Result) Strings(name string) []string {
	col := r.Column(name)
	out := make([]string, 0, len(col))
	for _, v := range col {
		if v == nil {
			continue
		}
		out = append(out, Row{name: v}.String(name))
	}
	return out
}

// Warehouse is the table store used by every stage.
type Warehouse interface {
	TableExists(ctx context.Context, name string) (bool, error)
	CreateTable(ctx context.Context, name string, schema Schema) error
	// DeleteTable removes the table. Deleting a missing table is not an error.
	DeleteTable(ctx context.Context, name string) error
	WriteRows(ctx context.Context, name string, rows []Row) error
	// Scan streams the rows of sel to fn in order. A non-nil error from fn
	// stops the scan and is returned.
	Scan(ctx context.Context, sel Select, fn func(Row) error) error
	Query(ctx context.Context, sel Select) (*Result, error)
	// QueryToTable materializes sel into dest, replacing dest if it exists.
	QueryToTable(ctx context.Context, sel Select, dest string) error
	Close() error
}

// Config selects and configures a Warehouse engine.
type Config struct {
	// Engine is "sqlite", "postgres" or "mem". Defaults to "sqlite".
	Engine string

	// DSN is the file path (sqlite) or connection string (postgres).
	DSN string
}

// Open returns the Warehouse for cfg.Engine.
func Open(cfg Config) (Warehouse, error) {
	switch cfg.Engine {
	case "", "sqlite":
		return OpenSQL(SQLite, cfg.DSN)
	case "postgres":
		return OpenSQL(Postgres, cfg.DSN)
	case "mem":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown warehouse engine %q", cfg.Engine)
	}
}

// EnsureTable creates name with schema unless it already exists.
func EnsureTable(ctx context.Context, wh Warehouse, name string, schema Schema) error {
	ok, err := wh.TableExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check table %s: %w", name, err)
	}
	if ok {
		return nil
	}
	return wh.CreateTable(ctx, name, schema)
}

// ReplaceTable deletes name if present and creates it empty with schema.
func ReplaceTable(ctx context.Context, wh Warehouse, name string, schema Schema) error {
	if err := wh.DeleteTable(ctx, name); err != nil {
		return fmt.Errorf("delete table %s: %w", name, err)
	}
	return wh.CreateTable(ctx, name, schema)
}

// rowColumns returns the sorted union of keys across rows.
func rowColumns(rows []Row) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
