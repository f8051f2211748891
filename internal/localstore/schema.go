package localstore

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schemaVersion is the current local schema version, tracked through
// PRAGMA user_version. Upgrades run on every client at arbitrary prior
// versions, so steps stay additive: new tables and indexes only,
// never a drop or rename of anything a deployed client may depend on.
const schemaVersion = 1

var migrations = []struct {
	version int
	stmts   []string
}{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS records (
				collection  TEXT NOT NULL,
				id          TEXT NOT NULL,
				school_id   TEXT NOT NULL DEFAULT '',
				student_id  TEXT NOT NULL DEFAULT '',
				parent_id   TEXT NOT NULL DEFAULT '',
				fee_id      TEXT NOT NULL DEFAULT '',
				sync_status TEXT NOT NULL DEFAULT 'pending',
				data        BLOB NOT NULL,
				created_at  TIMESTAMP NOT NULL,
				updated_at  TIMESTAMP NOT NULL,
				PRIMARY KEY (collection, id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_records_by_school ON records(collection, school_id)`,
			`CREATE INDEX IF NOT EXISTS idx_records_by_student ON records(collection, student_id)`,
			`CREATE INDEX IF NOT EXISTS idx_records_by_parent ON records(collection, parent_id)`,
			`CREATE INDEX IF NOT EXISTS idx_records_by_fee ON records(collection, fee_id)`,
			`CREATE TABLE IF NOT EXISTS sync_queue (
				seq        INTEGER PRIMARY KEY AUTOINCREMENT,
				id         TEXT NOT NULL UNIQUE,
				table_name TEXT NOT NULL,
				record_id  TEXT NOT NULL,
				operation  TEXT NOT NULL,
				data       BLOB NOT NULL,
				status     TEXT NOT NULL DEFAULT 'pending',
				attempts   INTEGER NOT NULL DEFAULT 0,
				last_error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status)`,
			`CREATE TABLE IF NOT EXISTS cache_entries (
				key        TEXT PRIMARY KEY,
				payload    BLOB NOT NULL,
				expires_at TIMESTAMP NOT NULL
			)`,
		},
	},
}

// migrate brings the schema up to schemaVersion, applying only the steps
// newer than the database's recorded version.
func migrate(db *sqlx.DB) error {
	var current int
	if err := db.Get(&current, "PRAGMA user_version"); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration v%d: %w", m.version, err)
			}
		}
		// PRAGMA cannot be parameterised.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("bump user_version to %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}
