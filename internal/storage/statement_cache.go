package storage

import "sync"

// StatementCache keeps the rendered statements of each table for the lifetime
// of a store, so EnsureTables, WriteAll and ReadAll share one rendering per
// table. Entries are keyed by table name: a store serves one TableSpec per
// table name. The zero value is ready to use.
type StatementCache struct {
	mu     sync.Mutex
	byName map[string]Statements
}

// Register renders t with d and stores the result, replacing any earlier
// entry for the same table.
func (c *StatementCache) Register(d Dialect, t TableSpec) Statements {
	st := BuildStatements(t, d)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byName == nil {
		c.byName = make(map[string]Statements)
	}
	c.byName[t.Name] = st
	return st
}

// Lookup returns the stored statements for t, rendering and storing them on
// first use.
func (c *StatementCache) Lookup(d Dialect, t TableSpec) Statements {
	c.mu.Lock()
	st, ok := c.byName[t.Name]
	c.mu.Unlock()
	if ok {
		return st
	}
	return c.Register(d, t)
}
