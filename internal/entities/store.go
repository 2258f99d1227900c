package entities

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/akonadi-go/akonadi/internal/driver"
	"github.com/akonadi-go/akonadi/internal/querybuilder"
)

// ErrNotFound is returned by retrieve_by_id / retrieve_by_name when no
// row matches (spec §4.2).
var ErrNotFound = fmt.Errorf("entities: not found")

// ErrConflict is returned when a mutation's precondition (e.g. a
// client-supplied revision) no longer matches the current row, per
// spec §4.9 "Modify item with revision check" and §8's Conflict
// failure kind.
var ErrConflict = fmt.Errorf("entities: conflict")

// Store is the entry point for all entity CRUD and retrieval
// operations. It holds no transaction state of its own: every method
// takes a querybuilder.Execer so callers (normally internal/txn) decide
// whether a call runs against the pooled *sql.DB or a live *sql.Tx.
type Store struct {
	driver *driver.Driver
}

// New wraps driver for entity access.
func New(d *driver.Driver) *Store {
	return &Store{driver: d}
}

// Driver exposes the underlying driver, e.g. for callers building
// additional ad-hoc queries with the same dialect.
func (s *Store) Driver() *driver.Driver { return s.driver }

func (s *Store) insert(ctx context.Context, conn querybuilder.Execer, b *querybuilder.Builder) (int64, error) {
	res, err := b.Exec(ctx, s.driver, conn)
	if err != nil {
		return 0, err
	}
	return s.driver.LastInsertID(res)
}

func (s *Store) exec(ctx context.Context, conn querybuilder.Execer, b *querybuilder.Builder) (sql.Result, error) {
	return b.Exec(ctx, s.driver, conn)
}
