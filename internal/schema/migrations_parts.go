package schema

import (
	"context"
	"database/sql"

	"github.com/akonadi-go/akonadi/internal/driver"
)

func createPartAndLinkTables(ctx context.Context, tx *sql.Tx, dialect driver.Dialect) error {
	return exec(ctx, tx,
		`CREATE TABLE part_table (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pim_item_id INTEGER NOT NULL REFERENCES pim_item_table(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			data BLOB,
			file_path TEXT,
			data_size INTEGER NOT NULL DEFAULT 0,
			external INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 0,
			UNIQUE(pim_item_id, name)
		)`,
		`CREATE INDEX idx_part_item ON part_table(pim_item_id)`,
		`CREATE TABLE pim_item_flag_relation (
			pim_item_id INTEGER NOT NULL REFERENCES pim_item_table(id) ON DELETE CASCADE,
			flag_id INTEGER NOT NULL REFERENCES flag_table(id) ON DELETE CASCADE,
			PRIMARY KEY (pim_item_id, flag_id)
		)`,
		`CREATE TABLE pim_item_tag_relation (
			pim_item_id INTEGER NOT NULL REFERENCES pim_item_table(id) ON DELETE CASCADE,
			tag_id INTEGER NOT NULL REFERENCES tag_table(id) ON DELETE CASCADE,
			PRIMARY KEY (pim_item_id, tag_id)
		)`,
	)
}
