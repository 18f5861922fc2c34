// Package pidxconfig loads the tunables a predicateindex.IndexManager needs
// at startup: default GroupSettings, checkpoint directory, and logging
// level. Layering and file format follow the teacher's own config package:
// defaults, then a global user file, then a project file, then explicit
// overrides, parsed as JSONC via hujson so comments are allowed.
package pidxconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
)

// Config holds every tunable a pidxctl invocation or embedding program needs
// to stand up an IndexManager.
type Config struct {
	CheckpointDir string `json:"checkpoint_dir"` //nolint:tagliatelle // snake_case for config file
	HashTableSize uint64 `json:"hash_table_size,omitempty"`
	KeySize       int    `json:"key_size,omitempty"`
	MemoryWindow  uint64 `json:"memory_window,omitempty"`
	LogLevel      string `json:"log_level,omitempty"`
}

// ConfigFileName is the default project config file name.
const ConfigFileName = ".pidxctl.json"

const (
	defaultHashTableSize = 1024
	defaultKeySize       = 16
)

var (
	errConfigFileNotFound = errors.New("config file not found")
	errConfigFileRead     = errors.New("cannot read config file")
	errConfigInvalid      = errors.New("invalid config file")
	errCheckpointDirEmpty = errors.New("checkpoint_dir cannot be empty")
)

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() Config {
	return Config{
		CheckpointDir: ".pidx-checkpoints",
		HashTableSize: defaultHashTableSize,
		KeySize:       defaultKeySize,
	}
}

// getGlobalConfigPath returns the path to the global config file, honoring
// XDG_CONFIG_HOME before falling back to ~/.config/pidxctl/config.json.
func getGlobalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok {
			return filepath.Join(after, "pidxctl", "config.json")
		}
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "pidxctl", "config.json")
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "pidxctl", "config.json")
	}

	return ""
}

// Load loads configuration with the following precedence (highest wins):
//  1. Defaults
//  2. Global user config
//  3. Project config file at workDir/.pidxctl.json (or configPath, if set)
func Load(workDir, configPath string, env []string) (Config, error) {
	cfg := DefaultConfig()

	globalCfg, globalPath, err := loadGlobalConfig(env)
	if err != nil {
		return Config{}, err
	}

	if globalPath != "" {
		cfg = mergeConfig(cfg, globalCfg)
	}

	projectCfg, projectPath, err := loadProjectConfig(workDir, configPath)
	if err != nil {
		return Config{}, err
	}

	if projectPath != "" {
		cfg = mergeConfig(cfg, projectCfg)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadGlobalConfig(env []string) (Config, string, error) {
	path := getGlobalConfigPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadConfigFile(path, false)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, path, nil
}

func loadProjectConfig(workDir, configPath string) (Config, string, error) {
	cfgFile := filepath.Join(workDir, ConfigFileName)
	mustExist := false

	if configPath != "" {
		cfgFile = configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(workDir, cfgFile)
		}

		mustExist = true

		if _, err := os.Stat(cfgFile); err != nil {
			return Config{}, "", fmt.Errorf("%w: %s", errConfigFileNotFound, configPath)
		}
	}

	cfg, loaded, err := loadConfigFile(cfgFile, mustExist)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, cfgFile, nil
}

func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally caller-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w: %s", errConfigFileRead, path)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: invalid JSONC: %w", errConfigInvalid, path, err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.CheckpointDir != "" {
		base.CheckpointDir = overlay.CheckpointDir
	}

	if overlay.HashTableSize != 0 {
		base.HashTableSize = overlay.HashTableSize
	}

	if overlay.KeySize != 0 {
		base.KeySize = overlay.KeySize
	}

	if overlay.MemoryWindow != 0 {
		base.MemoryWindow = overlay.MemoryWindow
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	return base
}

func validateConfig(cfg Config) error {
	if cfg.CheckpointDir == "" {
		return errCheckpointDirEmpty
	}

	if cfg.HashTableSize < 2 || cfg.HashTableSize&(cfg.HashTableSize-1) != 0 {
		return fmt.Errorf("%w: hash_table_size must be a power of two >= 2", errConfigInvalid)
	}

	return nil
}

// FormatConfig returns cfg as indented JSON, using the same field names
// Load reads.
func FormatConfig(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}

	return string(data), nil
}
