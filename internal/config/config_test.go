package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/connector/internal/paths"
	"github.com/mesh-intelligence/connector/pkg/types"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileExt), []byte(body), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(paths.EnvDataDir, "")
	dataDir := t.TempDir()

	cfg, err := Load(t.TempDir(), dataDir)
	require.NoError(t, err)
	assert.Equal(t, types.BackendSQLite, cfg.Backend)
	assert.Equal(t, filepath.Join(dataDir, DefaultDSN), cfg.DSN)
	assert.Equal(t, types.IDFormatUUID, cfg.IDFormat)
	assert.True(t, cfg.AutoCreate)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
backend: mongodb
dsn: mongodb://localhost:27017
database: app
auto_create: false
max_open_conns: 8
tenant_strategies:
  billing: SEPARATED_TENANT
`)

	cfg, err := Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, types.Config{
		Backend:          types.BackendMongoDB,
		DSN:              "mongodb://localhost:27017",
		Database:         "app",
		IDFormat:         types.IDFormatUUID,
		AutoCreate:       false,
		MaxOpenConns:     8,
		TenantStrategies: map[string]string{"billing": types.TenantStrategySeparated},
	}, cfg)
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "backend: sqlite\ndsn: file.db\n")
	t.Setenv("CONNECTOR_BACKEND", "postgres")
	t.Setenv("CONNECTOR_DSN", "postgres://u:p@localhost/db")
	t.Setenv("CONNECTOR_ID_FORMAT", "ulid")

	cfg, err := Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, types.BackendPostgres, cfg.Backend)
	assert.Equal(t, "postgres://u:p@localhost/db", cfg.DSN)
	assert.Equal(t, types.IDFormatULID, cfg.IDFormat)
}

func TestLoadKeepsNonFileDSN(t *testing.T) {
	for _, dsn := range []string{":memory:", "file:test.db?mode=memory"} {
		dir := t.TempDir()
		writeConfig(t, dir, "dsn: \""+dsn+"\"\n")
		cfg, err := Load(dir, "")
		require.NoError(t, err)
		assert.Equal(t, dsn, cfg.DSN)
	}
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "backend: oracle\n")
	_, err := Load(dir, "")
	assert.ErrorIs(t, err, types.ErrBackendUnknown)

	writeConfig(t, dir, "backend: [unclosed\n")
	_, err = Load(dir, "")
	assert.Error(t, err)
}

func TestWriteDefault(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	path, created, err := WriteDefault(dir)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, filepath.Join(dir, configFileExt), path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "backend: sqlite")
	assert.Contains(t, string(body), "auto_create: true")

	_, created, err = WriteDefault(dir)
	require.NoError(t, err)
	assert.False(t, created)

	cfg, err := Load(dir, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, types.BackendSQLite, cfg.Backend)
}
