package db

import (
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// Migration is one forward-only schema step. Up runs inside the same
// transaction that records the new version, so a failed step leaves the
// schema where it was.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// registered by the migration_*.go files
var migrations []Migration

func RegisterMigration(m Migration) {
	migrations = append(migrations, m)
}

func migrate(conn *sql.DB) error {
	if _, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL,
			description TEXT
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	current, err := schemaVersion(conn)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := apply(conn, m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
		logger.Info().Int("version", m.Version).Str("description", m.Description).Msg("migration applied")
	}
	return nil
}

func apply(conn *sql.DB, m Migration) error {
	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	if err := m.Up(tx); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_version (version, applied_at, description) VALUES (?, ?, ?)",
		m.Version, time.Now().UnixMilli(), m.Description,
	); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func schemaVersion(conn *sql.DB) (int, error) {
	var version int
	err := conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	return version, err
}

// CurrentVersion reports the highest applied migration
func (d *DB) CurrentVersion() (int, error) {
	return schemaVersion(d.conn)
}
