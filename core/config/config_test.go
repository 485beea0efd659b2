package config

import (
	"os"
	"path/filepath"
	"testing"

	"sync-bridge/core/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "", cfg.Server.ApiKey)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, database.DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 1000, cfg.Mirror.PageSize)
	assert.Equal(t, 2000, cfg.Mirror.SuppressionWindowMS)
	assert.Equal(t, 60000, cfg.Mirror.TTLMS)
	assert.Equal(t, 5000, cfg.Mirror.AwaitTimeoutMS)
	assert.Equal(t, 500, cfg.Mirror.PollIntervalMS)
	assert.Empty(t, cfg.Collections)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("MIRROR_PAGE_SIZE", "250")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, database.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 250, cfg.Mirror.PageSize)
}

func TestLoadConfig_CollectionsFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
collections:
  - table: notes
    update_mode: merge
    schema_file: schemas/note.json
  - table: tags
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	require.Len(t, cfg.Collections, 2)
	assert.Equal(t, "notes", cfg.Collections[0].Table)
	assert.Equal(t, "merge", cfg.Collections[0].UpdateMode)
	assert.Equal(t, "schemas/note.json", cfg.Collections[0].SchemaFile)
	assert.Equal(t, "tags", cfg.Collections[1].Table)
	assert.Equal(t, "", cfg.Collections[1].UpdateMode)
}

func TestLoadConfig_FileValueBeatsDefault(t *testing.T) {
	dir := t.TempDir()
	yaml := `
mirror:
  page_size: 50
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Mirror.PageSize)
}
