package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/evmts/agentcore/pkg/types"
)

const (
	// DefaultPermissionTimeout is the approval window in seconds.
	DefaultPermissionTimeout = 300
	// DefaultGhostTimeout is the per-git-call timeout for ghost commits in seconds.
	DefaultGhostTimeout = 10
)

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config ($XDG_CONFIG_HOME/agentcore/)
// 2. Project config (<dir>/agentcore.json[c], <dir>/.agentcore/)
// 3. AGENTCORE_CONFIG file
// 4. AGENTCORE_CONFIG_CONTENT inline JSON
// 5. Environment variables
func Load(directory string) (*types.Config, error) {
	config := &types.Config{
		Features: make(map[string]bool),
	}

	loaded := make(map[string]bool)
	loadOnce := func(path string, baseDir string) error {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil
		}
		if loaded[absPath] {
			return nil
		}
		err = loadConfigFile(path, config, baseDir)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		loaded[absPath] = true
		return nil
	}

	var candidates [][2]string

	globalPath := GetPaths().Config
	for _, name := range configFileNames {
		candidates = append(candidates, [2]string{filepath.Join(globalPath, name), globalPath})
	}

	if directory != "" {
		projectConfigDir := filepath.Join(directory, ".agentcore")
		for _, name := range configFileNames {
			candidates = append(candidates, [2]string{filepath.Join(directory, name), directory})
		}
		for _, name := range configFileNames {
			candidates = append(candidates, [2]string{filepath.Join(projectConfigDir, name), projectConfigDir})
		}
	}

	if configPath := os.Getenv("AGENTCORE_CONFIG"); configPath != "" {
		candidates = append(candidates, [2]string{configPath, filepath.Dir(configPath)})
	}

	for _, c := range candidates {
		if err := loadOnce(c[0], c[1]); err != nil {
			return nil, err
		}
	}

	if configContent := os.Getenv("AGENTCORE_CONFIG_CONTENT"); configContent != "" {
		var inlineConfig types.Config
		if err := json.Unmarshal(jsonc.ToJSON([]byte(configContent)), &inlineConfig); err != nil {
			return nil, fmt.Errorf("invalid AGENTCORE_CONFIG_CONTENT: %w", err)
		}
		mergeConfig(config, &inlineConfig)
	}

	applyEnvOverrides(config)

	return config, nil
}

var configFileNames = []string{"agentcore.json", "agentcore.jsonc", "agentcore.yaml", "agentcore.yml"}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = interpolate(data, baseDir)

	var fileConfig types.Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return err
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &fileConfig); err != nil {
			return err
		}
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match
		}
		return strings.TrimSpace(string(content))
	})

	return []byte(str)
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}

	if source.Permission != nil {
		if target.Permission == nil {
			target.Permission = &types.PermissionConfig{}
		}
		mergePermission(target.Permission, source.Permission)
	}

	if source.Snapshot != nil {
		if target.Snapshot == nil {
			target.Snapshot = &types.SnapshotConfig{}
		}
		if source.Snapshot.Enabled != nil {
			enabled := *source.Snapshot.Enabled
			target.Snapshot.Enabled = &enabled
		}
		if source.Snapshot.Dir != "" {
			target.Snapshot.Dir = source.Snapshot.Dir
		}
	}

	if source.Ghost != nil {
		target.Ghost = source.Ghost
	}

	if source.Features != nil {
		if target.Features == nil {
			target.Features = make(map[string]bool)
		}
		for k, v := range source.Features {
			target.Features[k] = v
		}
	}
}

// mergePermission layers bash patterns instead of replacing the table.
func mergePermission(target, source *types.PermissionConfig) {
	if source.Edit != "" {
		target.Edit = source.Edit
	}
	if source.WebFetch != "" {
		target.WebFetch = source.WebFetch
	}
	if source.Timeout > 0 {
		target.Timeout = source.Timeout
	}
	if source.Bash != nil {
		if target.Bash == nil {
			target.Bash = &types.BashPermissionSpec{}
		}
		if source.Bash.Default != "" {
			target.Bash.Default = source.Bash.Default
		}
		if len(source.Bash.Patterns) > 0 {
			if target.Bash.Patterns == nil {
				target.Bash.Patterns = make(map[string]string)
			}
			for k, v := range source.Bash.Patterns {
				target.Bash.Patterns[k] = v
			}
		}
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	if level := os.Getenv("AGENTCORE_LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}

	if raw := os.Getenv("AGENTCORE_PERMISSION_TIMEOUT"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			if config.Permission == nil {
				config.Permission = &types.PermissionConfig{}
			}
			config.Permission.Timeout = secs
		}
	}

	if raw := os.Getenv("AGENTCORE_GHOST_COMMIT"); raw != "" {
		if enabled, err := strconv.ParseBool(raw); err == nil {
			if config.Features == nil {
				config.Features = make(map[string]bool)
			}
			config.Features[FeatureGhostCommit] = enabled
		}
	}
}

// PermissionTimeout returns the configured approval window in seconds.
func PermissionTimeout(config *types.Config) int {
	if config != nil && config.Permission != nil && config.Permission.Timeout > 0 {
		return config.Permission.Timeout
	}
	return DefaultPermissionTimeout
}

// GhostTimeout returns the configured per-call ghost commit timeout in seconds.
func GhostTimeout(config *types.Config) int {
	if config != nil && config.Ghost != nil && config.Ghost.Timeout > 0 {
		return config.Ghost.Timeout
	}
	return DefaultGhostTimeout
}

// SnapshotsEnabled reports whether per-turn snapshots are on (default true).
func SnapshotsEnabled(config *types.Config) bool {
	if config == nil || config.Snapshot == nil || config.Snapshot.Enabled == nil {
		return true
	}
	return *config.Snapshot.Enabled
}

// Save saves the configuration to a file.
func Save(config *types.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
