// Package postgres registers the "postgres" storage backend (pgx/v5).
package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-sql/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trackload/internal/storage"
)

func init() {
	storage.Register("postgres", New)
}

// Store implements storage.Store on a pgx connection pool. Inserts are
// queued into one pgx.Batch per table and sent inside the load transaction.
type Store struct {
	pool  *pgxpool.Pool
	stmts storage.StatementCache
}

// New creates the pool and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres: empty dsn")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Dialect renders $n placeholders.
type Dialect struct{}

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Dialect) CreateTable(table, defs string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, defs)
}

// EnsureTables creates missing schemas and tables.
func (s *Store) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if schemaSQL := createSchemaSQL(t.Name); schemaSQL != "" {
			if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
				return fmt.Errorf("create schema for %s: %w", t.Name, err)
			}
		}
		st := s.stmts.Register(Dialect{}, t)
		if _, err := s.pool.Exec(ctx, st.Create); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// createSchemaSQL returns CREATE SCHEMA for a schema-qualified table name, or
// "" when the name is unqualified.
func createSchemaSQL(table string) string {
	schema, _, ok := strings.Cut(table, ".")
	if !ok {
		return ""
	}
	return fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)
}

// WriteAll sends every table's rows as a batch inside one transaction.
func (s *Store) WriteAll(ctx context.Context, tables []storage.TableRows) (n int64, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
			n = 0
		}
	}()

	for _, tr := range tables {
		if len(tr.Rows) == 0 {
			continue
		}
		c, err := sendRows(ctx, tx, s.stmts.Lookup(Dialect{}, tr.Table).Insert, tr)
		if err != nil {
			return 0, err
		}
		n += c
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func sendRows(ctx context.Context, tx pgx.Tx, insert string, tr storage.TableRows) (int64, error) {
	b, err := buildBatch(insert, tr)
	if err != nil {
		return 0, err
	}

	br := tx.SendBatch(ctx, b)
	var n int64
	for i := range tr.Rows {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return 0, fmt.Errorf("insert %s row %d: %w", tr.Table.Name, i, err)
		}
		n++
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("insert %s: %w", tr.Table.Name, err)
	}
	return n, nil
}

// buildBatch queues the insert once per row. It is pure so the placeholder
// and argument layout can be checked without a database.
func buildBatch(insert string, tr storage.TableRows) (*pgx.Batch, error) {
	b := &pgx.Batch{}
	for i, row := range tr.Rows {
		if len(row) != len(tr.Table.Columns) {
			return nil, fmt.Errorf("insert %s row %d: got %d values for %d columns", tr.Table.Name, i, len(row), len(tr.Table.Columns))
		}
		args := make([]any, len(row))
		for j, v := range row {
			args[j] = bindValue(v)
		}
		b.Queue(insert, args...)
	}
	return b, nil
}

// bindValue sends dates as text; the server parses them for DATE columns.
func bindValue(v any) any {
	if d, ok := v.(civil.Date); ok {
		return d.String()
	}
	return v
}

// ReadAll returns every row of the table. Values that pgx decodes into its
// own wrapper types (numeric, uuid, ...) are unwrapped via driver.Valuer.
func (s *Store) ReadAll(ctx context.Context, t storage.TableSpec) ([][]any, error) {
	st := s.stmts.Lookup(Dialect{}, t)

	rows, err := s.pool.Query(ctx, st.Select)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", t.Name, err)
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.Name, err)
		}
		for i, v := range vals {
			if dv, ok := v.(driver.Valuer); ok {
				if u, err := dv.Value(); err == nil {
					vals[i] = u
				}
			}
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}
