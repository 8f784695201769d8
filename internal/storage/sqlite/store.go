// Package sqlite registers the "sqlite" storage backend (modernc.org/sqlite,
// no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/golang-sql/civil"
	_ "modernc.org/sqlite"

	"trackload/internal/storage"
)

func init() {
	storage.Register("sqlite", New)
}

// New opens the database file named by cfg.DSN and verifies connectivity.
//
// SQLite has no native DATE type; dates are stored as "YYYY-MM-DD" text so
// they sort and compare lexically.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sqlite: empty dsn")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// A single writer avoids SQLITE_BUSY inside the load transaction.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &storage.SQLStore{
		DB:      db,
		Dialect: storage.StandardDialect{},
		Bind:    bindValue,
	}, nil
}

func bindValue(v any) any {
	if d, ok := v.(civil.Date); ok {
		return d.String()
	}
	return v
}
