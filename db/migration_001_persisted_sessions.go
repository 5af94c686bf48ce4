package db

import "database/sql"

func init() {
	RegisterMigration(Migration{
		Version:     1,
		Description: "persisted_sessions index",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS persisted_sessions (
					id TEXT PRIMARY KEY,
					first_persisted_at INTEGER NOT NULL,
					last_persisted_at INTEGER NOT NULL,
					persist_count INTEGER NOT NULL DEFAULT 1,
					size_bytes INTEGER NOT NULL DEFAULT 0
				);
				CREATE INDEX IF NOT EXISTS idx_persisted_sessions_last
					ON persisted_sessions(last_persisted_at DESC);
			`)
			return err
		},
	})
}
