package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	root := t.TempDir()
	t.Setenv("EML_ENV_FILE", filepath.Join(root, "missing.env"))
	t.Setenv("EML_ROOT", root)
	t.Setenv("EML_PATCH_BASE_URL", "")
	t.Setenv("EML_RUNTIME_MANIFEST_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "EMLPatch", cfg.AppName)
	assert.Equal(t, root, cfg.Root)
	assert.Equal(t, filepath.Join(root, "logs", "emlpatch.log"), cfg.LogFile)
	assert.Equal(t, "127.0.0.1:8787", cfg.ListenAddr)
	assert.Equal(t, logrus.InfoLevel, cfg.Level())
	assert.Error(t, cfg.RequireRemote())
}

func TestLoadFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "emlpatch.env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"EML_PATCH_BASE_URL=https://patches.example.com/game/\n"+
			"EML_RUNTIME_MANIFEST_URL=https://patches.example.com/runtime.json\n"+
			"EML_LOG_LEVEL=debug\n"), 0o644))
	t.Setenv("EML_ENV_FILE", envFile)
	t.Setenv("EML_ROOT", dir)
	// godotenv never overrides variables that are already set
	t.Setenv("EML_LOG_MAX_BACKUPS", "2")
	for _, k := range []string{"EML_PATCH_BASE_URL", "EML_RUNTIME_MANIFEST_URL", "EML_LOG_LEVEL"} {
		prev, had := os.LookupEnv(k)
		require.NoError(t, os.Unsetenv(k))
		t.Cleanup(func() {
			if had {
				os.Setenv(k, prev)
			} else {
				os.Unsetenv(k)
			}
		})
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://patches.example.com/game", cfg.PatchBaseURL)
	assert.Equal(t, logrus.DebugLevel, cfg.Level())
	assert.Equal(t, 2, cfg.LogOptions().MaxBackups)
	assert.NoError(t, cfg.RequireRemote())

	e := cfg.Endpoints()
	assert.Equal(t, "https://patches.example.com/game", e.BaseURL)
	assert.Contains(t, e.ToolURL, "%s-%s")
}

func TestLevelFallback(t *testing.T) {
	cfg := &Config{LogLevel: "chatty"}
	assert.Equal(t, logrus.InfoLevel, cfg.Level())
}

func TestApplyOverrides(t *testing.T) {
	root := t.TempDir()
	t.Setenv("EML_ENV_FILE", filepath.Join(root, "missing.env"))
	t.Setenv("EML_ROOT", root)
	cfg, err := Load()
	require.NoError(t, err)

	other := t.TempDir()
	require.NoError(t, cfg.Apply(Overrides{Root: other, PatchBaseURL: "https://cdn.example.com/p/", LogLevel: "warn"}))
	assert.Equal(t, other, cfg.Root)
	assert.Equal(t, filepath.Join(other, "logs", "emlpatch.log"), cfg.LogFile)
	assert.Equal(t, "https://cdn.example.com/p", cfg.PatchBaseURL)
	assert.Equal(t, logrus.WarnLevel, cfg.Level())
}
