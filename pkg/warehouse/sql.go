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
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect holds the few statements that differ between SQL engines.
type Dialect struct {
	Name        string
	Driver      string
	tableExists string
	types       map[FieldType]string
	placeholder func(n int) string
	prepareDSN  func(dsn string) string
}

// SQLite is the local file engine.
var SQLite = Dialect{
	Name:        "sqlite",
	Driver:      "sqlite3",
	tableExists: `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`,
	types:       map[FieldType]string{String: "TEXT", Integer: "INTEGER", Boolean: "BOOLEAN"},
	placeholder: func(int) string { return "?" },
	prepareDSN: func(dsn string) string {
		if dsn == "" {
			dsn = "repomine.db"
		}
		if strings.Contains(dsn, "?") {
			return dsn
		}
		return dsn + "?_journal_mode=WAL&_busy_timeout=5000"
	},
}

// Postgres is the server engine, reached through pgx's database/sql driver.
var Postgres = Dialect{
	Name:        "postgres",
	Driver:      "pgx",
	tableExists: `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1`,
	types:       map[FieldType]string{String: "TEXT", Integer: "BIGINT", Boolean: "BOOLEAN"},
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	prepareDSN:  strings.TrimSpace,
}

// SQLWarehouse implements Warehouse on top of database/sql.
type SQLWarehouse struct {
	db      *sql.DB
	dialect Dialect
	mu      sync.RWMutex
	closed  bool
}

// OpenSQL opens a database with the given dialect and verifies the connection.
func OpenSQL(d Dialect, dsn string) (*SQLWarehouse, error) {
	db, err := sql.Open(d.Driver, d.prepareDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Name, err)
	}
	return &SQLWarehouse{db: db, dialect: d}, nil
}

func (w *SQLWarehouse) guard(ctx context.Context) error {
	if w.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return nil
}

// TableExists reports whether name exists in the current schema.
func (w *SQLWarehouse) TableExists(ctx context.Context, name string) (bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if err := w.guard(ctx); err != nil {
		return false, err
	}

	return w.exists(ctx, name)
}

// exists runs the dialect's catalog lookup. Callers hold w.mu.
func (w *SQLWarehouse) exists(ctx context.Context, name string) (bool, error) {
	var got string
	err := w.db.QueryRowContext(ctx, w.dialect.tableExists, name).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("table exists %s: %w", name, err)
	}
	return true, nil
}

// CreateTable creates name with the given schema.
func (w *SQLWarehouse) CreateTable(ctx context.Context, name string, schema Schema) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if err := w.guard(ctx); err != nil {
		return err
	}
	if len(schema) == 0 {
		return fmt.Errorf("create table %s: empty schema", name)
	}

	cols := make([]string, len(schema))
	for i, f := range schema {
		typ, ok := w.dialect.types[f.Type]
		if !ok {
			return fmt.Errorf("create table %s: unsupported type %q for %s", name, f.Type, f.Name)
		}
		cols[i] = quoteIdent(f.Name) + " " + typ
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(cols, ", "))
	if _, err := w.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", name, err)
	}
	return nil
}

// DeleteTable drops name if it exists.
func (w *SQLWarehouse) DeleteTable(ctx context.Context, name string) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if err := w.guard(ctx); err != nil {
		return err
	}
	if _, err := w.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
		return fmt.Errorf("delete table %s: %w", name, err)
	}
	return nil
}

// WriteRows inserts rows into name in a single transaction.
func (w *SQLWarehouse) WriteRows(ctx context.Context, name string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if err := w.guard(ctx); err != nil {
		return err
	}

	cols := rowColumns(rows)
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		marks[i] = w.dialect.placeholder(i + 1)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(name), strings.Join(quoted, ", "), strings.Join(marks, ", "))

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write %s: begin: %w", name, classify(err))
	}
	defer func() { _ = tx.Rollback() }()

	ins, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("write %s: prepare: %w", name, classify(err))
	}
	defer ins.Close()

	args := make([]any, len(cols))
	for _, r := range rows {
		for i, c := range cols {
			args[i] = r[c]
		}
		if _, err := ins.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("write %s: %w", name, classify(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write %s: commit: %w", name, classify(err))
	}
	return nil
}

// Scan streams the rows selected by sel.
func (w *SQLWarehouse) Scan(ctx context.Context, sel Select, fn func(Row) error) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if err := w.guard(ctx); err != nil {
		return err
	}

	if err := w.check(ctx, sel); err != nil {
		return err
	}

	query, args := w.dialect.render(sel)
	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query %s: %w", sel.Table, err)
	}
	defer rows.Close()

	headers, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("query %s: columns: %w", sel.Table, err)
	}
	vals := make([]any, len(headers))
	ptrs := make([]any, len(headers))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("query %s: scan: %w", sel.Table, err)
		}
		r := make(Row, len(headers))
		for i, h := range headers {
			if b, ok := vals[i].([]byte); ok {
				r[h] = string(b)
			} else {
				r[h] = vals[i]
			}
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Query collects the rows selected by sel.
func (w *SQLWarehouse) Query(ctx context.Context, sel Select) (*Result, error) {
	return collect(ctx, w, sel)
}

// QueryToTable replaces dest with the rows selected by sel.
func (w *SQLWarehouse) QueryToTable(ctx context.Context, sel Select, dest string) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if err := w.guard(ctx); err != nil {
		return err
	}

	if err := w.check(ctx, sel); err != nil {
		return err
	}

	query, args := w.dialect.render(sel)
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("materialize %s: begin: %w", dest, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(dest)); err != nil {
		return fmt.Errorf("materialize %s: drop: %w", dest, err)
	}
	if _, err := tx.ExecContext(ctx, "CREATE TABLE "+quoteIdent(dest)+" AS "+query, args...); err != nil {
		return fmt.Errorf("materialize %s: %w", dest, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("materialize %s: commit: %w", dest, err)
	}
	return nil
}

// Close closes the database.
func (w *SQLWarehouse) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.db.Close()
}

// check validates sel and reports ErrNoTable for a missing table. Callers
// hold w.mu.
func (w *SQLWarehouse) check(ctx context.Context, sel Select) error {
	if err := sel.validate(); err != nil {
		return err
	}
	tables := []string{sel.Table}
	if sel.Join != nil {
		tables = append(tables, sel.Join.Table)
	}
	for _, t := range tables {
		ok, err := w.exists(ctx, t)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("query %s: %w", t, ErrNoTable)
		}
	}
	return nil
}

// render builds the SQL text and arguments for sel.
func (d Dialect) render(sel Select) (string, []any) {
	// col qualifies a column with its side of a join.
	col := func(c string) string {
		if sel.Join == nil {
			return quoteIdent(c)
		}
		for _, jc := range sel.Join.Columns {
			if jc == c {
				return "r." + quoteIdent(c)
			}
		}
		return "l." + quoteIdent(c)
	}

	proj := "*"
	if cols := sel.Projection(); len(cols) > 0 {
		q := make([]string, len(cols))
		for i, c := range cols {
			q[i] = col(c)
		}
		proj = strings.Join(q, ", ")
	}

	var args []any
	// where renders the filter, numbering placeholders after the args so far.
	where := func() string {
		if len(sel.Where) == 0 {
			return ""
		}
		keys := make([]string, 0, len(sel.Where))
		for k := range sel.Where {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		conds := make([]string, len(keys))
		for i, k := range keys {
			args = append(args, sel.Where[k])
			conds[i] = col(k) + " = " + d.placeholder(len(args))
		}
		return " WHERE " + strings.Join(conds, " AND ")
	}

	table := quoteIdent(sel.Table)
	if sel.Join != nil {
		table = fmt.Sprintf("%s AS l INNER JOIN %s AS r ON l.%s = r.%s",
			table, quoteIdent(sel.Join.Table), quoteIdent(sel.Join.On), quoteIdent(sel.Join.On))
	}
	var b strings.Builder
	switch {
	case sel.UniqueBy != "":
		key := quoteIdent(sel.UniqueBy)
		outer := fmt.Sprintf("SELECT DISTINCT %s FROM %s%s", proj, table, where())
		inner := fmt.Sprintf("SELECT DISTINCT %s FROM %s%s", proj, table, where())
		fmt.Fprintf(&b, "SELECT * FROM (%s) AS d WHERE %s IN (SELECT %s FROM (%s) AS k GROUP BY %s HAVING COUNT(*) = 1)",
			outer, key, key, inner, key)
	case sel.Distinct:
		fmt.Fprintf(&b, "SELECT DISTINCT %s FROM %s%s", proj, table, where())
	default:
		fmt.Fprintf(&b, "SELECT %s FROM %s%s", proj, table, where())
	}

	if len(sel.OrderBy) > 0 {
		q := make([]string, len(sel.OrderBy))
		for i, c := range sel.OrderBy {
			if sel.UniqueBy != "" {
				q[i] = quoteIdent(c)
			} else {
				q[i] = col(c)
			}
		}
		b.WriteString(" ORDER BY " + strings.Join(q, ", "))
	}
	if sel.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", sel.Limit)
	}
	return b.String(), args
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// classify wraps connection-level failures with ErrTransient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.As(err, &netErr):
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

// collect runs Scan and gathers the rows into a Result with stable headers.
func collect(ctx context.Context, wh Warehouse, sel Select) (*Result, error) {
	res := &Result{Headers: sel.Projection()}
	err := wh.Scan(ctx, sel, func(r Row) error {
		if res.Headers == nil {
			res.Headers = make([]string, 0, len(r))
			for k := range r {
				res.Headers = append(res.Headers, k)
			}
			sort.Strings(res.Headers)
		}
		vals := make([]any, len(res.Headers))
		for i, h := range res.Headers {
			vals[i] = r[h]
		}
		res.Rows = append(res.Rows, vals)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
