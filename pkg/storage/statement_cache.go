package storage

import (
	"database/sql"
	"sync"
)

// statementCache caches prepared statements keyed by SQL text, the
// prepared-statement caching the design notes describe. It has no size
// limit, and no adapter method goes through it: SQLiteAdapter creates
// one, but nothing calls prepared or invalidate.
type statementCache struct {
	db            *sql.DB
	mu            sync.Mutex
	stmts         map[string]*sql.Stmt
	schemaVersion int
}

func newStatementCache(db *sql.DB) *statementCache {
	return &statementCache{db: db, stmts: make(map[string]*sql.Stmt)}
}

func (c *statementCache) prepared(query string) (*sql.Stmt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stmt, ok := c.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := c.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	c.stmts[query] = stmt
	return stmt, nil
}

// invalidate closes and drops every cached statement and records
// newVersion as the schema version the cache is built against.
func (c *statementCache) invalidate(newVersion int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, stmt := range c.stmts {
		stmt.Close()
	}
	c.stmts = make(map[string]*sql.Stmt)
	c.schemaVersion = newVersion
}
