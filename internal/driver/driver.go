// Package driver provides a thin adapter over database/sql that hides
// backend-specific SQL dialect differences (identifier lookup queries,
// type mapping, last-insert-id retrieval, LIMIT placement) behind a
// small Dialect interface, and caches prepared statements per connection.
package driver

import (
	"context"
	"database/sql"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Dialect names the two backend families Akonadi supports: an embedded
// file-based engine for single-user desktop installs, and a client/server
// engine for multi-user or remote deployments.
type Dialect string

const (
	DialectSQLite Dialect = "sqlite" // embedded, file-based (modernc.org/sqlite)
	DialectMySQL  Dialect = "mysql"  // client/server (go-sql-driver/mysql)
)

// Driver wraps a *sql.DB plus its dialect and a per-connection prepared
// statement cache. internal/server opens a single Driver and shares it
// between the sessions, the cache cleaner and the item retriever; no
// worker opens a Driver of its own.
type Driver struct {
	db      *sql.DB
	dialect Dialect
	stmts   *lru.Cache[string, *sql.Stmt]
}

// Open opens a connection pool for the given dialect and DSN. The
// statement cache is bounded at stmtCacheSize entries; when full, the
// least recently used prepared statement is closed and evicted,
// mirroring the teacher's process-wide LRU pattern for cached handles
// (adapted here per-connection since handles are never shared across
// threads).
func Open(dialect Dialect, dsn string, stmtCacheSize int) (*Driver, error) {
	driverName, err := sqlDriverName(dialect)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("driver: open %s: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// A single writer connection avoids SQLITE_BUSY under the
		// transaction manager's exclusive-transaction model.
		db.SetMaxOpenConns(1)
	}

	if stmtCacheSize <= 0 {
		stmtCacheSize = 128
	}

	d := &Driver{db: db, dialect: dialect}
	d.stmts, err = lru.NewWithEvict(stmtCacheSize, func(_ string, stmt *sql.Stmt) {
		stmt.Close()
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("driver: create statement cache: %w", err)
	}
	return d, nil
}

func sqlDriverName(dialect Dialect) (string, error) {
	switch dialect {
	case DialectSQLite:
		return "sqlite", nil
	case DialectMySQL:
		return "mysql", nil
	default:
		return "", fmt.Errorf("driver: unsupported dialect %q", dialect)
	}
}

// Dialect reports which backend family this Driver talks to.
func (d *Driver) Dialect() Dialect { return d.dialect }

// DB exposes the underlying pool, e.g. for BeginTx in the txn manager.
func (d *Driver) DB() *sql.DB { return d.db }

// Close closes every cached prepared statement and the connection pool.
func (d *Driver) Close() error {
	d.stmts.Purge()
	return d.db.Close()
}

// execer is satisfied by both *sql.DB and *sql.Tx so Prepare can bind a
// statement to whichever is active for the caller (no transaction vs.
// inside the transaction manager's scope).
type execer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Prepare returns a cached prepared statement for sql, preparing and
// caching it on first use against db (normally d.DB(), or a *sql.Tx
// when the query must run inside an open transaction).
func (d *Driver) Prepare(ctx context.Context, db execer, query string) (*sql.Stmt, error) {
	if stmt, ok := d.stmts.Get(query); ok {
		return stmt, nil
	}
	stmt, err := db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("driver: prepare: %w", err)
	}
	d.stmts.Add(query, stmt)
	return stmt, nil
}

// LastInsertID retrieves the primary key assigned to the most recent
// INSERT on conn, dispatching to the dialect-specific mechanism.
// SQLite and MySQL both support sql.Result.LastInsertId directly; the
// hook exists so a future PostgreSQL-style dialect (RETURNING id) has
// somewhere to branch without touching callers.
func (d *Driver) LastInsertID(res sql.Result) (int64, error) {
	switch d.dialect {
	case DialectSQLite, DialectMySQL:
		return res.LastInsertId()
	default:
		return 0, fmt.Errorf("driver: no LastInsertID strategy for dialect %q", d.dialect)
	}
}

// LimitClause returns the dialect-specific SQL fragment for bounding a
// result set to n rows. Both wired dialects use trailing LIMIT; the
// hook is kept distinct from string literals in the query builder so a
// TOP-N dialect can override it without touching statement assembly.
func (d *Driver) LimitClause(n int) string {
	return fmt.Sprintf("LIMIT %d", n)
}
