package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "sr", cfg.ShmPrefix)
	assert.True(t, cfg.RunningCacheEnabled)
}

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().RepoPath, cfg.RepoPath)
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sysrepod.yaml")
	content := []byte("shm_prefix: test42\nstrict_permissions: true\ndefault_timeout_ms: 500\n")
	require.NoError(t, os.WriteFile(path, content, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test42", cfg.ShmPrefix)
	assert.True(t, cfg.StrictPermissions)
	assert.Equal(t, 500, cfg.DefaultTimeoutMS)
}

func TestEnvOverridesShmPrefix(t *testing.T) {
	t.Setenv(shmPrefixEnvVar, "envprefix")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "envprefix", cfg.ShmPrefix)
}

func TestEnvPrefixRejectsSlash(t *testing.T) {
	t.Setenv(shmPrefixEnvVar, "bad/prefix")
	_, err := Load("")
	require.Error(t, err)
}
