package db

import "time"

const persistedColumns = `id, first_persisted_at, last_persisted_at, persist_count, size_bytes`

func scanPersisted(scan func(dest ...any) error) (PersistedSession, error) {
	var p PersistedSession
	err := scan(&p.ID, &p.FirstPersistedAt, &p.LastPersistedAt, &p.PersistCount, &p.SizeBytes)
	return p, err
}

// RecordPersisted upserts the index row for a snapshot write.
// It satisfies session.PersistIndex.
func (d *DB) RecordPersisted(id string, sizeBytes int64, at time.Time) error {
	ms := at.UnixMilli()
	_, err := d.Exec(`
		INSERT INTO persisted_sessions (`+persistedColumns+`)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_persisted_at = excluded.last_persisted_at,
			persist_count = persist_count + 1,
			size_bytes = excluded.size_bytes
	`, id, ms, ms, sizeBytes)
	return err
}

// GetPersisted returns the index row for id, or nil if there is none
func (d *DB) GetPersisted(id string) (*PersistedSession, error) {
	return SelectOne(d, scanPersisted,
		`SELECT `+persistedColumns+` FROM persisted_sessions WHERE id = ?`, id)
}

// ListPersisted returns index rows, most recently persisted first
func (d *DB) ListPersisted() ([]PersistedSession, error) {
	return Select(d, scanPersisted,
		`SELECT `+persistedColumns+` FROM persisted_sessions ORDER BY last_persisted_at DESC, id ASC`)
}

// DeletePersisted drops the index row for id. Missing rows are not an error.
func (d *DB) DeletePersisted(id string) error {
	_, err := d.Exec(`DELETE FROM persisted_sessions WHERE id = ?`, id)
	return err
}
