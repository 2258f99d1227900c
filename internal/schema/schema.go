// Package schema evolves a database from empty to the current Akonadi
// table layout through a linear, idempotent sequence of migration
// functions, the same pattern the teacher repo uses under
// internal/storage/sqlite/migrations: one function per schema version,
// each wrapped in its own transaction, tracked in a schema_version
// table so Migrate is safe to call on every startup.
package schema

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/akonadi-go/akonadi/internal/driver"
)

// migration is one linear schema step. Version numbers start at 1 and
// must be contiguous; Migrate applies every migration whose Version is
// greater than the database's current schema_version.
type migration struct {
	Version int
	Name    string
	Apply   func(ctx context.Context, tx *sql.Tx, dialect driver.Dialect) error
}

var migrations = []migration{
	{1, "create_core_tables", createCoreTables},
	{2, "create_part_and_link_tables", createPartAndLinkTables},
	{3, "create_notification_spool", createNotificationSpool},
}

// Migrate brings d's schema up to the latest version, recording
// progress in schema_version so a restart resumes instead of
// reapplying completed steps.
func Migrate(ctx context.Context, d *driver.Driver) error {
	if err := ensureVersionTable(ctx, d); err != nil {
		return fmt.Errorf("schema: ensure version table: %w", err)
	}
	current, err := currentVersion(ctx, d)
	if err != nil {
		return fmt.Errorf("schema: read current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := applyOne(ctx, d, m); err != nil {
			return fmt.Errorf("schema: migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// LatestVersion returns the schema version Migrate brings a database up
// to, for callers (such as a standalone diagnostic command) that want to
// compare it against a database's recorded version without opening a
// *driver.Driver of their own.
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}

func ensureVersionTable(ctx context.Context, d *driver.Driver) error {
	_, err := d.DB().ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)`)
	return err
}

func currentVersion(ctx context.Context, d *driver.Driver) (int, error) {
	row := d.DB().QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	var v int
	if err := row.Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func applyOne(ctx context.Context, d *driver.Driver, m migration) error {
	tx, err := d.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := m.Apply(ctx, tx, d.Dialect()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, m.Version); err != nil {
		return err
	}
	return tx.Commit()
}

func exec(ctx context.Context, tx *sql.Tx, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}
