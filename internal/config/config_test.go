package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromPath_WithValidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "custom-config.yaml")

	configContent := `
server:
  project_root: "/srv/plans"
  force_planning_subdir: true
cache:
  kind_inference:
    capacity: 500
    hierarchical_ttl_seconds: 30
audit:
  path: "audit/force-claims.log"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfigFromPath(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/srv/plans", cfg.Server.ProjectRoot)
	assert.True(t, cfg.Server.ForcePlanningSubdir)
	assert.Equal(t, 500, cfg.Cache.KindInference.Capacity)
	assert.Equal(t, 30, cfg.Cache.KindInference.HierarchicalTTLSeconds)
	assert.Equal(t, "audit/force-claims.log", cfg.Audit.Path)
}

func TestLoadConfigFromPath_NonExistentFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := LoadConfigFromPath(configPath)
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.Server.ProjectRoot)
	assert.False(t, cfg.Server.ForcePlanningSubdir)
	assert.Equal(t, 1000, cfg.Cache.KindInference.Capacity)
	assert.Equal(t, 60, cfg.Cache.KindInference.HierarchicalTTLSeconds)
	assert.Equal(t, filepath.Join(".trellis", "audit.log"), cfg.Audit.Path)
}

func TestLoadConfigFromPath_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidContent := `
server: [invalid
`
	err := os.WriteFile(configPath, []byte(invalidContent), 0644)
	require.NoError(t, err)

	_, err = LoadConfigFromPath(configPath)
	assert.Error(t, err)
}

func TestLoadConfigWithFile_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "my-config.yaml")

	configContent := `
server:
  project_root: "/work/planning"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfigWithFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/work/planning", cfg.Server.ProjectRoot)
}

func TestLoadConfigWithFile_GlobalFallback(t *testing.T) {
	globalDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", globalDir)
	globalPath := filepath.Join(globalDir, "trellis", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(globalPath), 0755))
	require.NoError(t, os.WriteFile(globalPath, []byte("server:\n  project_root: \"/global/plans\"\n"), 0644))

	cfg, err := LoadConfigWithFile("")
	require.NoError(t, err)

	assert.Equal(t, "/global/plans", cfg.Server.ProjectRoot)
}

func TestLoadConfigWithFile_NoConfigDefaults(t *testing.T) {
	globalDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", globalDir)

	cfg, err := LoadConfigWithFile("")
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.Server.ProjectRoot)
	assert.Equal(t, 1000, cfg.Cache.KindInference.Capacity)
}

func TestConfig_ForcePlanningSubdir(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		cfg, err := LoadConfigWithFile("")
		require.NoError(t, err)

		assert.False(t, cfg.Server.ForcePlanningSubdir)
	})

	t.Run("can be enabled explicitly", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "trellis.yaml")

		configContent := `
server:
  force_planning_subdir: true
`
		err := os.WriteFile(configPath, []byte(configContent), 0644)
		require.NoError(t, err)

		cfg, err := LoadConfigFromPath(configPath)
		require.NoError(t, err)

		assert.True(t, cfg.Server.ForcePlanningSubdir)
	})
}

func TestLoadConfig_ReadsNamedFileFromDir(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
server:
  project_root: "/from/dir"
audit:
  path: "custom-audit.log"
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "trellis.yaml"), []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "/from/dir", cfg.Server.ProjectRoot)
	assert.Equal(t, "custom-audit.log", cfg.Audit.Path)
}

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := LoadConfig(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.Server.ProjectRoot)
	assert.Equal(t, filepath.Join(".trellis", "audit.log"), cfg.Audit.Path)
}
