// Package config provides hierarchical configuration management for specforge using koanf.
// Configuration is loaded with priority: environment variables > project config
// (.specforge/config.yml) > user config (~/.config/specforge/config.yml) > defaults.
// YAML is the canonical format; legacy JSON project configs are still readable.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigSource tracks where a configuration value came from.
type ConfigSource string

const (
	SourceDefault ConfigSource = "default"
	SourceUser    ConfigSource = "user"
	SourceProject ConfigSource = "project"
	SourceEnv     ConfigSource = "env"
)

// Configuration represents the full specforge configuration tree.
type Configuration struct {
	// StateDir is the engine state directory relative to the repo root.
	// Holds spec artifacts, session records, memory stores, and worktrees.
	StateDir string `koanf:"state_dir" validate:"required"`

	// BaseBranch is the branch worktrees are created from and merged into.
	// Empty means auto-detect (main, then master, then the current branch).
	BaseBranch string `koanf:"base_branch"`

	Log      LogConfig      `koanf:"log"`
	Worktree WorktreeConfig `koanf:"worktree"`
	Session  SessionConfig  `koanf:"session"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	QA       QAConfig       `koanf:"qa"`
	Index    IndexConfig    `koanf:"index"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// WorktreeConfig controls worktree and branch management.
type WorktreeConfig struct {
	// BranchPrefix is the branch namespace; worktree branches are
	// named <prefix>/<spec-slug>.
	BranchPrefix string `koanf:"branch_prefix" validate:"required"`

	// PushRetries is the attempt count for transient push/fetch failures.
	PushRetries int `koanf:"push_retries" validate:"min=1,max=10"`
}

// SessionConfig controls session lifecycle management.
type SessionConfig struct {
	// MaxAgeHours is the age beyond which non-terminal sessions are
	// force-failed during cleanup.
	MaxAgeHours int `koanf:"max_age_hours" validate:"min=1"`
}

// PipelineConfig controls the specification pipeline.
type PipelineConfig struct {
	Interactive        bool `koanf:"interactive"`
	MaxRetries         int  `koanf:"max_retries" validate:"min=0,max=10"`
	SkipImpactAnalysis bool `koanf:"skip_impact_analysis"`
}

// QAConfig controls the QA review/fix loop.
type QAConfig struct {
	MaxIterations        int     `koanf:"max_iterations" validate:"min=1,max=500"`
	MaxConsecutiveErrors int     `koanf:"max_consecutive_errors" validate:"min=1,max=50"`
	AutoFix              bool    `koanf:"auto_fix"`
	RunTests             bool    `koanf:"run_tests"`
	MinFixConfidence     float64 `koanf:"min_fix_confidence" validate:"min=0,max=1"`
}

// IndexConfig controls the project index cache.
type IndexConfig struct {
	TTLSeconds int `koanf:"ttl_seconds" validate:"min=0"`
}

// MaxAge returns the session cleanup threshold as a duration.
func (s SessionConfig) MaxAge() time.Duration {
	return time.Duration(s.MaxAgeHours) * time.Hour
}

// TTL returns the index cache lifetime as a duration.
func (i IndexConfig) TTL() time.Duration {
	return time.Duration(i.TTLSeconds) * time.Second
}

// LoadOptions configures how configuration is loaded.
type LoadOptions struct {
	// ProjectConfigPath overrides the project config path (default: .specforge/config.yml)
	ProjectConfigPath string
	// WarningWriter receives deprecation warnings (default: os.Stderr)
	WarningWriter io.Writer
	// SkipWarnings suppresses deprecation warnings
	SkipWarnings bool
}

// Load loads configuration from user, project, and environment sources.
// Priority: Environment variables > Project config > User config > Defaults
//
// Config paths:
//   - User config: ~/.config/specforge/config.yml (XDG compliant)
//   - Project config: .specforge/config.yml
//   - Legacy project config: .specforge/config.json (deprecated, warns)
func Load(projectConfigPath string) (*Configuration, error) {
	return LoadWithOptions(LoadOptions{ProjectConfigPath: projectConfigPath})
}

// LoadWithOptions loads configuration with custom options.
func LoadWithOptions(opts LoadOptions) (*Configuration, error) {
	k := koanf.New(".")
	warningWriter := getWarningWriter(opts.WarningWriter)

	loadDefaults(k)

	if err := loadUserConfig(k); err != nil {
		return nil, err
	}

	if err := loadProjectConfig(k, opts.ProjectConfigPath, warningWriter, opts.SkipWarnings); err != nil {
		return nil, err
	}

	if err := loadEnvironmentConfig(k); err != nil {
		return nil, err
	}

	return finalizeConfig(k)
}

// getWarningWriter returns the warning writer or defaults to stderr.
func getWarningWriter(w io.Writer) io.Writer {
	if w == nil {
		return os.Stderr
	}
	return w
}

// loadDefaults applies default configuration values.
func loadDefaults(k *koanf.Koanf) {
	for key, value := range GetDefaults() {
		k.Set(key, value)
	}
}

// loadUserConfig loads the user-level YAML config when present.
func loadUserConfig(k *koanf.Koanf) error {
	userYAMLPath, err := UserConfigPath()
	if err != nil || !fileExists(userYAMLPath) {
		return nil
	}
	if err := loadYAMLConfig(k, userYAMLPath, "user"); err != nil {
		return fmt.Errorf("loading user config: %w", err)
	}
	return nil
}

// loadProjectConfig loads project-level config (YAML preferred, legacy JSON supported).
// Supports a custom path override (used by tests).
func loadProjectConfig(k *koanf.Koanf, customPath string, warningWriter io.Writer, skipWarnings bool) error {
	projectYAMLPath := ProjectConfigPath()
	if customPath != "" {
		projectYAMLPath = customPath
	}
	legacyProjectPath := LegacyProjectConfigPath()

	switch {
	case fileExists(projectYAMLPath):
		if err := loadYAMLConfig(k, projectYAMLPath, "project"); err != nil {
			return fmt.Errorf("loading project config: %w", err)
		}
	case fileExists(legacyProjectPath):
		if err := k.Load(file.Provider(legacyProjectPath), json.Parser()); err != nil {
			return fmt.Errorf("loading legacy project config %s: %w", legacyProjectPath, err)
		}
		if !skipWarnings {
			fmt.Fprintf(warningWriter, "Warning: Using deprecated JSON config at %s\n", legacyProjectPath)
			fmt.Fprintf(warningWriter, "  Move it to %s in YAML format.\n\n", ProjectConfigPath())
		}
	}
	return nil
}

// loadYAMLConfig validates and loads a YAML config file.
func loadYAMLConfig(k *koanf.Koanf, path, configType string) error {
	if err := ValidateYAMLSyntax(path); err != nil {
		return fmt.Errorf("validating YAML syntax for %s config: %w", configType, err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load %s config %s: %w", configType, path, err)
	}
	return nil
}

// loadEnvironmentConfig loads environment variable overrides.
func loadEnvironmentConfig(k *koanf.Koanf) error {
	if err := k.Load(env.Provider("SPECFORGE_", ".", envTransform), nil); err != nil {
		return fmt.Errorf("failed to load environment config: %w", err)
	}
	return nil
}

// finalizeConfig unmarshals, validates, and applies final transformations.
func finalizeConfig(k *koanf.Koanf) (*Configuration, error) {
	var cfg Configuration
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ValidateConfigValues(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg.StateDir = expandHomePath(cfg.StateDir)

	return &cfg, nil
}

// fileExists returns true if the file exists and is readable.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// configSections are the nested key groups. envTransform uses them to
// map the first underscore of a section-scoped variable to a dot.
var configSections = []string{"log", "worktree", "session", "pipeline", "qa", "index"}

// envTransform converts environment variable names to config keys.
// Examples:
//
//	SPECFORGE_STATE_DIR         -> state_dir
//	SPECFORGE_QA_MAX_ITERATIONS -> qa.max_iterations
//	SPECFORGE_LOG_LEVEL         -> log.level
func envTransform(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, "SPECFORGE_"))
	for _, section := range configSections {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return key
}

// expandHomePath expands ~ to the user's home directory.
func expandHomePath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
