package pidxconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadReturnsDefaultsWhenNoFilesExist(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir, "", nil)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestLoadMergesProjectFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ConfigFileName), `{
		// trailing comma and comments are fine, it's JSONC
		"hash_table_size": 4096,
		"key_size": 32,
	}`)

	cfg, err := Load(dir, "", nil)
	require.NoError(t, err)
	require.Equal(t, uint64(4096), cfg.HashTableSize)
	require.Equal(t, 32, cfg.KeySize)
	require.Equal(t, DefaultConfig().CheckpointDir, cfg.CheckpointDir)
}

func TestLoadExplicitConfigPathMustExist(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir, "missing.json", nil)
	require.ErrorIs(t, err, errConfigFileNotFound)
}

func TestLoadRejectsEmptyCheckpointDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ConfigFileName), `{"checkpoint_dir": ""}`)

	_, err := Load(dir, "", nil)
	require.ErrorIs(t, err, errCheckpointDirEmpty)
}

func TestLoadRejectsNonPowerOfTwoHashTableSize(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ConfigFileName), `{"hash_table_size": 1000}`)

	_, err := Load(dir, "", nil)
	require.ErrorIs(t, err, errConfigInvalid)
}

func TestGlobalConfigHonorsXDGConfigHome(t *testing.T) {
	xdg := t.TempDir()
	globalDir := filepath.Join(xdg, "pidxctl")
	require.NoError(t, os.MkdirAll(globalDir, 0o755))
	writeFile(t, filepath.Join(globalDir, "config.json"), `{"log_level": "debug"}`)

	dir := t.TempDir()

	cfg, err := Load(dir, "", []string{"XDG_CONFIG_HOME=" + xdg})
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestFormatConfigRoundTrips(t *testing.T) {
	out, err := FormatConfig(DefaultConfig())
	require.NoError(t, err)
	require.Contains(t, out, "checkpoint_dir")

	var back Config
	require.NoError(t, json.Unmarshal([]byte(out), &back))
	require.Equal(t, DefaultConfig(), back)
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}
