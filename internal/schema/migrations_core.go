package schema

import (
	"context"
	"database/sql"

	"github.com/akonadi-go/akonadi/internal/driver"
)

func createCoreTables(ctx context.Context, tx *sql.Tx, dialect driver.Dialect) error {
	return exec(ctx, tx,
		`CREATE TABLE resource_table (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE mime_type_table (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE flag_table (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE tag_type_table (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE tag_table (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			gid TEXT NOT NULL UNIQUE,
			parent_id INTEGER REFERENCES tag_table(id) ON DELETE SET NULL,
			tag_type_id INTEGER NOT NULL REFERENCES tag_type_table(id),
			remote_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE collection_table (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			parent_id INTEGER REFERENCES collection_table(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			remote_id TEXT NOT NULL DEFAULT '',
			remote_revision TEXT NOT NULL DEFAULT '',
			resource_id INTEGER NOT NULL REFERENCES resource_table(id) ON DELETE CASCADE,
			is_virtual INTEGER NOT NULL DEFAULT 0,
			referenced INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1,
			display_pref INTEGER NOT NULL DEFAULT 0,
			sync_pref INTEGER NOT NULL DEFAULT 0,
			index_pref INTEGER NOT NULL DEFAULT 0,
			cache_inherit INTEGER NOT NULL DEFAULT 1,
			cache_local_parts TEXT NOT NULL DEFAULT '',
			cache_timeout INTEGER NOT NULL DEFAULT -1,
			cache_sync_on_demand INTEGER NOT NULL DEFAULT 0,
			query_string TEXT NOT NULL DEFAULT '',
			query_language TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX idx_collection_parent ON collection_table(parent_id)`,
		`CREATE INDEX idx_collection_resource ON collection_table(resource_id)`,
		`CREATE TABLE collection_attribute_table (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			collection_id INTEGER NOT NULL REFERENCES collection_table(id) ON DELETE CASCADE,
			type TEXT NOT NULL,
			value BLOB,
			UNIQUE(collection_id, type)
		)`,
		`CREATE TABLE collection_mime_type_relation (
			collection_id INTEGER NOT NULL REFERENCES collection_table(id) ON DELETE CASCADE,
			mime_type_id INTEGER NOT NULL REFERENCES mime_type_table(id) ON DELETE CASCADE,
			PRIMARY KEY (collection_id, mime_type_id)
		)`,
		`CREATE TABLE pim_item_table (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			collection_id INTEGER NOT NULL REFERENCES collection_table(id) ON DELETE CASCADE,
			mime_type_id INTEGER NOT NULL REFERENCES mime_type_table(id),
			remote_id TEXT NOT NULL DEFAULT '',
			remote_revision TEXT NOT NULL DEFAULT '',
			gid TEXT NOT NULL DEFAULT '',
			size INTEGER NOT NULL DEFAULT 0,
			datetime DATETIME NOT NULL,
			atime DATETIME NOT NULL,
			dirty INTEGER NOT NULL DEFAULT 0,
			revision INTEGER NOT NULL DEFAULT 0,
			UNIQUE(collection_id, remote_id)
		)`,
		`CREATE INDEX idx_pim_item_collection ON pim_item_table(collection_id)`,
		`CREATE INDEX idx_pim_item_gid ON pim_item_table(gid)`,
		`CREATE TABLE relation_table (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			left_id INTEGER NOT NULL REFERENCES pim_item_table(id) ON DELETE CASCADE,
			right_id INTEGER NOT NULL REFERENCES pim_item_table(id) ON DELETE CASCADE,
			type TEXT NOT NULL,
			remote_id TEXT NOT NULL DEFAULT '',
			UNIQUE(left_id, right_id, type)
		)`,
	)
}
