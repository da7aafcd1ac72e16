package config

// GetDefaultConfigTemplate returns the default configuration file content
// with all options commented out, showing defaults and descriptions.
func GetDefaultConfigTemplate() string {
	return `# specforge configuration
# Precedence: environment variables > project config > user config > defaults.
# Environment variables use the SPECFORGE_ prefix (e.g., SPECFORGE_QA_MAX_ITERATIONS=10).

# Engine state directory relative to the repo root.
# state_dir: .specforge

# Base branch for worktree creation and merges.
# Empty means auto-detect: main, then master, then the current branch.
# base_branch: ""

log:
  # Minimum log level: debug, info, warn, error
  # level: info

  # Log output format: text, json
  # format: text

worktree:
  # Branch namespace for spec worktrees. Branches are named <prefix>/<spec-slug>.
  # branch_prefix: specforge

  # Attempts for transient push/fetch failures, with exponential backoff.
  # push_retries: 3

session:
  # Sessions older than this are force-failed during cleanup.
  # max_age_hours: 24

pipeline:
  # Gather clarifying requirements before complexity assessment.
  # interactive: true

  # Extra attempts per pipeline phase after the first failure.
  # max_retries: 2

  # Skip the impact analysis phase even when the complexity tier recommends it.
  # skip_impact_analysis: false

qa:
  # Hard ceiling on review/fix iterations before escalation.
  # max_iterations: 50

  # Consecutive iteration errors before escalation.
  # max_consecutive_errors: 3

  # Apply machine-generated fixes automatically when confidence allows.
  # auto_fix: true

  # Execute the project's tests during review.
  # run_tests: true

  # Minimum confidence for auto-applying a fix (0.0-1.0).
  # min_fix_confidence: 0.7

index:
  # In-memory project index cache TTL in seconds.
  # ttl_seconds: 300
`
}

// GetDefaults returns the default configuration values as a map
// suitable for loading into koanf as the lowest-precedence layer.
func GetDefaults() map[string]interface{} {
	defaults := make(map[string]interface{}, len(KnownKeys))
	for path, schema := range KnownKeys {
		defaults[path] = schema.Default
	}
	return defaults
}
