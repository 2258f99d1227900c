package schema

import (
	"context"
	"database/sql"

	"github.com/akonadi-go/akonadi/internal/driver"
)

// createNotificationSpool backs the change-replay spool described in
// spec §4.10: notifications a connected session missed while offline
// are durably queued here, keyed by a monotonic sequence number.
// notify.Spool.Trim deletes entries up to a given sequence number;
// the server itself never calls it, so entries are not trimmed
// automatically.
func createNotificationSpool(ctx context.Context, tx *sql.Tx, dialect driver.Dialect) error {
	return exec(ctx, tx,
		`CREATE TABLE notification_spool (
			sequence INTEGER PRIMARY KEY AUTOINCREMENT,
			session_tag TEXT NOT NULL,
			payload BLOB NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX idx_notification_spool_session ON notification_spool(session_tag, sequence)`,
	)
}
