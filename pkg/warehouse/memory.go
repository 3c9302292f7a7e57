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
	"fmt"
	"sort"
	"strings"
	"sync"
)

type memTable struct {
	schema Schema
	rows   []Row
}

// MemoryWarehouse keeps tables in process memory.
type MemoryWarehouse struct {
	mu     sync.Mutex
	tables map[string]*memTable
	closed bool

	// WriteHook, when set, is called before every WriteRows. A non-nil
	// return fails the write and nothing is stored.
	WriteHook func(table string, rows []Row) error
}

// NewMemory returns an empty MemoryWarehouse.
func NewMemory() *MemoryWarehouse {
	return &MemoryWarehouse{tables: make(map[string]*memTable)}
}

func (m *MemoryWarehouse) guard(ctx context.Context) error {
	if m.closed {
		return ErrClosed
	}
	return ctx.Err()
}

// TableExists reports whether name exists.
func (m *MemoryWarehouse) TableExists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(ctx); err != nil {
		return false, err
	}
	_, ok := m.tables[name]
	return ok, nil
}

// CreateTable creates name. Creating an existing table is an error.
func (m *MemoryWarehouse) CreateTable(ctx context.Context, name string, schema Schema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(ctx); err != nil {
		return err
	}
	if _, ok := m.tables[name]; ok {
		return fmt.Errorf("create table %s: already exists", name)
	}
	m.tables[name] = &memTable{schema: append(Schema(nil), schema...)}
	return nil
}

// DeleteTable removes name if present.
func (m *MemoryWarehouse) DeleteTable(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(ctx); err != nil {
		return err
	}
	delete(m.tables, name)
	return nil
}

// WriteRows appends rows to name. Unknown columns are rejected.
func (m *MemoryWarehouse) WriteRows(ctx context.Context, name string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	m.mu.Lock()
	hook := m.WriteHook
	m.mu.Unlock()
	if hook != nil {
		if err := hook(name, rows); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(ctx); err != nil {
		return err
	}
	t, ok := m.tables[name]
	if !ok {
		return fmt.Errorf("write %s: %w", name, ErrNoTable)
	}
	stored := make([]Row, 0, len(rows))
	for _, r := range rows {
		cp := make(Row, len(t.schema))
		for k, v := range r {
			if !t.schema.Has(k) {
				return fmt.Errorf("write %s: unknown column %q", name, k)
			}
			cp[k] = normalize(v)
		}
		for _, f := range t.schema {
			if _, ok := cp[f.Name]; !ok {
				cp[f.Name] = nil
			}
		}
		stored = append(stored, cp)
	}
	t.rows = append(t.rows, stored...)
	return nil
}

// Scan evaluates sel against a snapshot of the table and streams the result.
// The lock is not held while fn runs, so fn may write to the warehouse.
func (m *MemoryWarehouse) Scan(ctx context.Context, sel Select, fn func(Row) error) error {
	rows, err := m.evaluate(ctx, sel)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// Query collects the rows selected by sel.
func (m *MemoryWarehouse) Query(ctx context.Context, sel Select) (*Result, error) {
	return collect(ctx, m, sel)
}

// QueryToTable replaces dest with the rows selected by sel.
func (m *MemoryWarehouse) QueryToTable(ctx context.Context, sel Select, dest string) error {
	rows, err := m.evaluate(ctx, sel)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.tables[sel.Table]
	if !ok {
		return fmt.Errorf("materialize %s: %w", sel.Table, ErrNoTable)
	}
	schema := src.schema
	if len(sel.Columns) > 0 {
		schema = make(Schema, 0, len(sel.Columns))
		for _, c := range sel.Columns {
			schema = append(schema, fieldOf(src.schema, c))
		}
	}
	if sel.Join != nil {
		if jt, ok := m.tables[sel.Join.Table]; ok {
			for _, c := range sel.Join.Columns {
				schema = append(schema, fieldOf(jt.schema, c))
			}
		}
	}
	m.tables[dest] = &memTable{schema: schema, rows: rows}
	return nil
}

// Close marks the warehouse closed.
func (m *MemoryWarehouse) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Rows returns a copy of every row in name, in insertion order.
func (m *MemoryWarehouse) Rows(name string) []Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[name]
	if !ok {
		return nil
	}
	out := make([]Row, len(t.rows))
	for i, r := range t.rows {
		cp := make(Row, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

func (m *MemoryWarehouse) evaluate(ctx context.Context, sel Select) ([]Row, error) {
	if err := sel.validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(ctx); err != nil {
		return nil, err
	}
	t, ok := m.tables[sel.Table]
	if !ok {
		return nil, fmt.Errorf("query %s: %w", sel.Table, ErrNoTable)
	}

	cols := sel.Projection()
	if len(cols) == 0 {
		cols = t.schema.Names()
	}

	source := t.rows
	has := t.schema.Has
	if sel.Join != nil {
		jt, ok := m.tables[sel.Join.Table]
		if !ok {
			return nil, fmt.Errorf("query %s: %w", sel.Join.Table, ErrNoTable)
		}
		if !t.schema.Has(sel.Join.On) || !jt.schema.Has(sel.Join.On) {
			return nil, fmt.Errorf("join %s with %s: no column %q on both sides", sel.Table, sel.Join.Table, sel.Join.On)
		}
		source = join(t.rows, jt.rows, sel.Join)
		has = func(c string) bool { return t.schema.Has(c) || jt.schema.Has(c) }
	}

	for _, c := range append(append([]string(nil), cols...), sel.OrderBy...) {
		if !has(c) {
			return nil, fmt.Errorf("query %s: unknown column %q", sel.Table, c)
		}
	}

	filtered := make([]Row, 0, len(source))
	for _, r := range source {
		if matches(r, sel.Where) {
			filtered = append(filtered, r)
		}
	}
	// Sorting before projection lets OrderBy name unprojected columns.
	if len(sel.OrderBy) > 0 {
		sort.SliceStable(filtered, func(i, j int) bool {
			for _, c := range sel.OrderBy {
				if d := compareValues(filtered[i][c], filtered[j][c]); d != 0 {
					return d < 0
				}
			}
			return false
		})
	}

	out := make([]Row, 0, len(filtered))
	for _, r := range filtered {
		p := make(Row, len(cols))
		for _, c := range cols {
			p[c] = r[c]
		}
		out = append(out, p)
	}

	if sel.Distinct || sel.UniqueBy != "" {
		out = distinct(out, cols)
	}
	if sel.UniqueBy != "" {
		counts := make(map[string]int)
		for _, r := range out {
			counts[valueKey(r[sel.UniqueBy])]++
		}
		kept := out[:0]
		for _, r := range out {
			if counts[valueKey(r[sel.UniqueBy])] == 1 {
				kept = append(kept, r)
			}
		}
		out = kept
	}
	if sel.Limit > 0 && len(out) > sel.Limit {
		out = out[:sel.Limit]
	}
	return out, nil
}

// join pairs every left row with each right row sharing its j.On value.
// Right columns are added to a copy of the left row.
func join(left, right []Row, j *Join) []Row {
	index := make(map[string][]Row, len(right))
	for _, r := range right {
		if r[j.On] == nil {
			continue
		}
		k := valueKey(r[j.On])
		index[k] = append(index[k], r)
	}
	var out []Row
	for _, l := range left {
		if l[j.On] == nil {
			continue
		}
		for _, r := range index[valueKey(l[j.On])] {
			merged := make(Row, len(l)+len(j.Columns))
			for k, v := range l {
				merged[k] = v
			}
			for _, c := range j.Columns {
				merged[c] = r[c]
			}
			out = append(out, merged)
		}
	}
	return out
}

func matches(r Row, where map[string]any) bool {
	for k, v := range where {
		if compareValues(r[k], normalize(v)) != 0 {
			return false
		}
	}
	return true
}

func distinct(rows []Row, cols []string) []Row {
	seen := make(map[string]struct{}, len(rows))
	out := rows[:0]
	for _, r := range rows {
		var b strings.Builder
		for _, c := range cols {
			b.WriteString(valueKey(r[c]))
			b.WriteByte(0)
		}
		k := b.String()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

func valueKey(v any) string {
	return fmt.Sprintf("%T:%v", v, v)
}

// compareValues orders NULL first, then numbers, then strings.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	ai, aok := a.(int64)
	bi, bok := b.(int64)
	if aok && bok {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// normalize maps Go values onto the types a SQL driver would return.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case *string:
		if x == nil {
			return nil
		}
		return *x
	case []byte:
		return string(x)
	default:
		return v
	}
}

func fieldOf(s Schema, name string) Field {
	for _, f := range s {
		if f.Name == name {
			return f
		}
	}
	return Field{Name: name, Type: String}
}
