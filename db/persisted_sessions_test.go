package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(Config{Path: filepath.Join(t.TempDir(), "nested", "index.sqlite")})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpen_AppliesMigrations(t *testing.T) {
	d := openTestDB(t)

	version, err := d.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestOpen_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")

	first, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, first.RecordPersisted("keep", 10, time.Now()))
	require.NoError(t, first.Close())

	second, err := Open(Config{Path: path})
	require.NoError(t, err)
	defer second.Close()

	row, err := second.GetPersisted("keep")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, int64(10), row.SizeBytes)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestRecordPersisted_Upserts(t *testing.T) {
	d := openTestDB(t)

	first := time.UnixMilli(1_700_000_000_000)
	second := first.Add(time.Minute)

	require.NoError(t, d.RecordPersisted("abc", 100, first))
	require.NoError(t, d.RecordPersisted("abc", 250, second))

	row, err := d.GetPersisted("abc")
	require.NoError(t, err)
	require.NotNil(t, row)

	assert.Equal(t, first.UnixMilli(), row.FirstPersistedAt)
	assert.Equal(t, second.UnixMilli(), row.LastPersistedAt)
	assert.Equal(t, int64(2), row.PersistCount)
	assert.Equal(t, int64(250), row.SizeBytes)
}

func TestGetPersisted_Missing(t *testing.T) {
	d := openTestDB(t)

	row, err := d.GetPersisted("nope")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestListPersisted_NewestFirst(t *testing.T) {
	d := openTestDB(t)

	empty, err := d.ListPersisted()
	require.NoError(t, err)
	assert.Empty(t, empty)

	base := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, d.RecordPersisted("old", 1, base))
	require.NoError(t, d.RecordPersisted("new", 1, base.Add(time.Hour)))
	require.NoError(t, d.RecordPersisted("mid", 1, base.Add(time.Minute)))

	rows, err := d.ListPersisted()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{rows[0].ID, rows[1].ID, rows[2].ID})
}

func TestDeletePersisted(t *testing.T) {
	d := openTestDB(t)

	require.NoError(t, d.RecordPersisted("gone", 1, time.Now()))
	require.NoError(t, d.DeletePersisted("gone"))
	require.NoError(t, d.DeletePersisted("gone"))

	row, err := d.GetPersisted("gone")
	require.NoError(t, err)
	assert.Nil(t, row)
}
