package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to open a Store.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// TableRows is the buffered output of the load loop for one table: one row
// per fetched record, positionally aligned with Table.Columns.
type TableRows struct {
	Table TableSpec
	Rows  [][]any
}

// Store is the backend-agnostic relational store used by the pipeline.
//
// Each backend implements these semantics in its own idiomatic way
// (database/sql prepared statements, pgx batches, ...).
type Store interface {
	// Close releases the connection. Call once, on every exit path.
	Close()

	// EnsureTables runs the create-if-missing DDL for every table. It is
	// idempotent and safe to run on every invocation.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// WriteAll inserts every buffered row of every table inside a single
	// transaction and commits once. On any error the whole transaction is
	// rolled back and nothing is persisted.
	WriteAll(ctx context.Context, tables []TableRows) (int64, error)

	// ReadAll returns every row of a table, columns in declaration order.
	ReadAll(ctx context.Context, table TableSpec) ([][]any, error)
}

type factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "sqlite", "postgres").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New opens a Store using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind %q (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
