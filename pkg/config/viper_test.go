package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")

	v, err := Load(t.TempDir(), "does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, 9999, v.GetInt("server.port"))
}

func TestLoad_ReadsYAML(t *testing.T) {
	dir := t.TempDir()
	body := []byte("server:\n  port: 8123\npagination:\n  page_size: 15\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), body, 0o644))

	v, err := Load(dir, "config")
	require.NoError(t, err)
	assert.Equal(t, 8123, v.GetInt("server.port"))
	assert.Equal(t, 15, v.GetInt("pagination.page_size"))
}

func TestPathFromArgs(t *testing.T) {
	assert.Equal(t, "/etc/chat", PathFromArgs([]string{"bin", "/etc/chat"}))

	t.Setenv("CONFIG_PATH", "/srv/config")
	assert.Equal(t, "/srv/config", PathFromArgs([]string{"bin"}))
}
