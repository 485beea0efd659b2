package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupInspectorDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Connect(Config{Driver: DriverSQLite, Path: ":memory:"})
	require.NoError(t, err)
	return db
}

func TestGetTableColumns(t *testing.T) {
	db := setupInspectorDB(t)

	// SQLite specific types: INTEGER, TEXT.
	err := db.Exec("CREATE TABLE mirrored (id TEXT PRIMARY KEY, payload TEXT, updated_at INTEGER)").Error
	require.NoError(t, err)

	columns, err := GetTableColumns(db, "mirrored")
	assert.NoError(t, err)
	assert.Len(t, columns, 3)

	colMap := make(map[string]string)
	for _, col := range columns {
		colMap[col.Field] = col.Type
	}

	assert.Equal(t, "text", colMap["id"])
	assert.Equal(t, "text", colMap["payload"])
	assert.Equal(t, "integer", colMap["updated_at"])

	// PRAGMA table_info returns an empty result for a non-existent table,
	// not an error.
	cols, err := GetTableColumns(db, "non_existent")
	assert.NoError(t, err)
	assert.Empty(t, cols)
}

func TestVerifyMirrorTable(t *testing.T) {
	db := setupInspectorDB(t)

	err := db.Exec("CREATE TABLE good (id TEXT PRIMARY KEY, payload TEXT, updated_at INTEGER, extra TEXT)").Error
	require.NoError(t, err)
	err = db.Exec("CREATE TABLE bad (id TEXT PRIMARY KEY, body TEXT)").Error
	require.NoError(t, err)

	missing, err := VerifyMirrorTable(db, "good")
	assert.NoError(t, err)
	assert.Empty(t, missing, "extra columns must not count against the table")

	missing, err = VerifyMirrorTable(db, "bad")
	assert.NoError(t, err)
	assert.Equal(t, []string{"payload", "updated_at"}, missing)

	// An absent table passes; the engine creates it on session start.
	missing, err = VerifyMirrorTable(db, "not_created_yet")
	assert.NoError(t, err)
	assert.Empty(t, missing)
}
