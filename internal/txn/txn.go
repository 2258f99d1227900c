// Package txn implements the reference-counted nested transaction
// scope described in spec §4.4: handlers acquire a transaction without
// knowing whether they are the outermost caller or nested inside one
// already open; only the outermost scope's Commit actually commits the
// database transaction and releases notifications, and any exit that
// isn't an explicit Commit rolls the whole thing back.
package txn

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/akonadi-go/akonadi/internal/driver"
	"github.com/akonadi-go/akonadi/internal/notify"
)

type txnKey struct{}

// scope is the shared state for one outermost transaction and all of
// its nested acquisitions.
type scope struct {
	tx         *sql.Tx
	collector  *notify.Collector
	refs       int
	failed     bool // set when any nested scope rolls back instead of committing
	onCommit   []func()
	onRollback []func()
}

// Manager begins and ends transactions against one Driver, publishing
// their collected notifications to hub on outermost commit.
type Manager struct {
	driver *driver.Driver
	hub    *notify.Hub
}

// New returns a Manager bound to d, publishing committed notification
// batches to hub.
func New(d *driver.Driver, hub *notify.Hub) *Manager {
	return &Manager{driver: d, hub: hub}
}

// Txn is a handle to an open (possibly nested) transaction scope.
// Callers use Tx() to run queries and must call exactly one of Commit
// or Rollback before discarding it.
type Txn struct {
	manager *Manager
	scope   *scope
	ctx     context.Context
	done    bool
}

// Begin acquires a transaction scope. If ctx already carries one (a
// nested call from within a handler that is itself running inside a
// transaction), the existing scope's reference count is incremented and
// reused; otherwise a new database transaction is opened.
func (m *Manager) Begin(ctx context.Context) (*Txn, context.Context, error) {
	if existing, ok := ctx.Value(txnKey{}).(*scope); ok {
		existing.refs++
		t := &Txn{manager: m, scope: existing, ctx: ctx}
		return t, ctx, nil
	}

	tx, err := m.driver.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, ctx, fmt.Errorf("txn: begin: %w", err)
	}
	collector := notify.NewCollector()
	sc := &scope{tx: tx, collector: collector, refs: 1}
	ctx = context.WithValue(ctx, txnKey{}, sc)
	ctx = notify.WithCollector(ctx, collector)
	t := &Txn{manager: m, scope: sc, ctx: ctx}
	return t, ctx, nil
}

// Tx returns the underlying *sql.Tx for running queries.
func (t *Txn) Tx() *sql.Tx { return t.scope.tx }

// OnCommit registers fn to run after the outermost scope's database
// commit actually succeeds. Used by internal/payload to delete a
// superseded external payload file only once the row pointing at its
// replacement is durable — deleting it any earlier risks losing data
// if the transaction later rolls back (spec §4.3 "write new file,
// commit the row, only then remove the old file").
func (t *Txn) OnCommit(fn func()) {
	t.scope.onCommit = append(t.scope.onCommit, fn)
}

// OnRollback registers fn to run if this scope ends up rolled back,
// e.g. to delete a newly written external file that never got
// referenced by a committed row.
func (t *Txn) OnRollback(fn func()) {
	t.scope.onRollback = append(t.scope.onRollback, fn)
}

// RegisterOnCommit looks up the transaction scope active in ctx and
// registers fn against it, for callers (like internal/payload) that
// only carry a context, not a *Txn handle. Reports false if ctx has no
// active transaction scope.
func RegisterOnCommit(ctx context.Context, fn func()) bool {
	sc, ok := ctx.Value(txnKey{}).(*scope)
	if !ok {
		return false
	}
	sc.onCommit = append(sc.onCommit, fn)
	return true
}

// RegisterOnRollback is RegisterOnCommit's rollback-side counterpart.
func RegisterOnRollback(ctx context.Context, fn func()) bool {
	sc, ok := ctx.Value(txnKey{}).(*scope)
	if !ok {
		return false
	}
	sc.onRollback = append(sc.onRollback, fn)
	return true
}

// Commit releases this nesting level. Only when the outermost level
// commits does the database transaction actually commit and the
// collected notifications publish; an inner Commit is a no-op beyond
// bookkeeping. Calling Commit after any sibling scope already called
// Rollback still rolls the whole transaction back — one failed
// participant vetoes the group (spec §4.4 "guaranteed rollback").
func (t *Txn) Commit() error {
	if t.done {
		return fmt.Errorf("txn: already closed")
	}
	t.done = true
	t.scope.refs--

	if t.scope.refs > 0 {
		return nil
	}
	if t.scope.failed {
		return t.finalRollback()
	}
	if err := t.scope.tx.Commit(); err != nil {
		return fmt.Errorf("txn: commit: %w", err)
	}
	t.manager.hub.Publish(t.ctx, t.scope.collector.Drain())
	for _, fn := range t.scope.onCommit {
		fn()
	}
	return nil
}

// Rollback aborts this nesting level and marks the whole scope as
// failed, so even if an outer caller later calls Commit the
// transaction still rolls back (spec §4.4: any non-commit exit rolls
// back the entire transaction, not just the failing nested part).
func (t *Txn) Rollback() error {
	if t.done {
		return fmt.Errorf("txn: already closed")
	}
	t.done = true
	t.scope.refs--
	t.scope.failed = true

	if t.scope.refs > 0 {
		return nil
	}
	return t.finalRollback()
}

func (t *Txn) finalRollback() error {
	t.scope.collector.Drain() // discard: a rolled-back scope never publishes.
	err := t.scope.tx.Rollback()
	for _, fn := range t.scope.onRollback {
		fn()
	}
	if err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("txn: rollback: %w", err)
	}
	return nil
}

// WithTransaction runs fn inside a transaction scope, committing on a
// nil return and rolling back (then returning the error) otherwise.
// This is the normal entry point for handlers; Begin/Commit/Rollback
// are exposed directly for callers that need finer control (e.g. the
// session dispatcher holding a transaction open across several
// protocol round-trips within one STORE sequence).
func (m *Manager) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) (err error) {
	t, txCtx, err := m.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			t.Rollback()
			panic(p)
		}
	}()

	if err = fn(txCtx, t.Tx()); err != nil {
		if rbErr := t.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	return t.Commit()
}
