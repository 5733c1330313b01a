package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "postgres", cfg.User)
	assert.Equal(t, "postgres", cfg.Database)
	assert.False(t, cfg.InitDB)
}

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestTOMLFileOverridesDefaults(t *testing.T) {
	path := writeTOML(t, "host = \"0.0.0.0\"\nport = 5433\ndata_dir = \"/var/lib/pg\"\ninitdb = true\n")
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 5433, cfg.Port)
	assert.Equal(t, "/var/lib/pg", cfg.DataDir)
	assert.True(t, cfg.InitDB)
}

func TestEnvOverridesTOML(t *testing.T) {
	path := writeTOML(t, "port = 5433\n")
	t.Setenv("PG_PORT", "5440")
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 5440, cfg.Port)
}

func TestFlagOverridesEnvAndTOML(t *testing.T) {
	path := writeTOML(t, "port = 5433\nuser = \"filed\"\n")
	t.Setenv("PG_PORT", "5440")
	cfg, err := Load(path, []string{"-port", "5450", "-user", "admin"})
	require.NoError(t, err)
	assert.Equal(t, 5450, cfg.Port)
	assert.Equal(t, "admin", cfg.User)
}

func TestMissingTOMLFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"), nil)
	require.NoError(t, err)
	assert.Equal(t, 5432, cfg.Port)
}
