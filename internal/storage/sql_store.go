package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLStore implements Store on top of database/sql. Backends whose driver
// speaks database/sql (sqlite, mssql) embed it and supply their Dialect and
// argument binding.
type SQLStore struct {
	DB      *sql.DB
	Dialect Dialect

	// Bind converts an extracted value into a driver argument. Nil means
	// values are passed through unchanged.
	Bind func(v any) any

	stmts StatementCache
}

func (s *SQLStore) Close() { _ = s.DB.Close() }

// EnsureTables runs each table's create-if-missing statement.
func (s *SQLStore) EnsureTables(ctx context.Context, tables []TableSpec) error {
	for _, t := range tables {
		st := s.stmts.Register(s.Dialect, t)
		if _, err := s.DB.ExecContext(ctx, st.Create); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// WriteAll inserts all rows in one transaction. Each table's insert is
// prepared once and executed per row.
func (s *SQLStore) WriteAll(ctx context.Context, tables []TableRows) (n int64, err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
			n = 0
		}
	}()

	for _, tr := range tables {
		if len(tr.Rows) == 0 {
			continue
		}
		c, err := s.insertRows(ctx, tx, tr)
		if err != nil {
			return 0, err
		}
		n += c
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func (s *SQLStore) insertRows(ctx context.Context, tx *sql.Tx, tr TableRows) (int64, error) {
	st := s.stmts.Lookup(s.Dialect, tr.Table)

	stmt, err := tx.PrepareContext(ctx, st.Insert)
	if err != nil {
		return 0, fmt.Errorf("prepare insert %s: %w", tr.Table.Name, err)
	}
	defer stmt.Close()

	var n int64
	for i, row := range tr.Rows {
		if len(row) != len(tr.Table.Columns) {
			return 0, fmt.Errorf("insert %s row %d: got %d values for %d columns", tr.Table.Name, i, len(row), len(tr.Table.Columns))
		}
		if _, err := stmt.ExecContext(ctx, s.bindRow(row)...); err != nil {
			return 0, fmt.Errorf("insert %s row %d: %w", tr.Table.Name, i, err)
		}
		n++
	}
	return n, nil
}

func (s *SQLStore) bindRow(row []any) []any {
	if s.Bind == nil {
		return row
	}
	out := make([]any, len(row))
	for i, v := range row {
		out[i] = s.Bind(v)
	}
	return out
}

// ReadAll returns every row of the table. []byte values are copied into
// strings so rows stay valid after the cursor advances.
func (s *SQLStore) ReadAll(ctx context.Context, t TableSpec) ([][]any, error) {
	st := s.stmts.Lookup(s.Dialect, t)

	rows, err := s.DB.QueryContext(ctx, st.Select)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", t.Name, err)
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(t.Columns))
		ptrs := make([]any, len(vals))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.Name, err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}
