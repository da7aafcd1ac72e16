//go:build e2e

package e2e

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge/internal/testutil"
)

func TestE2E_ConfigRoundTrip(t *testing.T) {
	env := testutil.NewE2EEnv(t)

	result := env.Run("config", "get", "qa.max_iterations")
	require.Equal(t, 0, result.ExitCode,
		"get should succeed with defaults\nstdout: %s\nstderr: %s",
		result.Stdout, result.Stderr)
	require.Equal(t, "50", strings.TrimSpace(result.Stdout))

	result = env.Run("config", "set", "qa.max_iterations", "25")
	require.Equal(t, 0, result.ExitCode,
		"set should succeed\nstdout: %s\nstderr: %s",
		result.Stdout, result.Stderr)
	require.Contains(t, result.Stdout, "Set qa.max_iterations = 25")

	configPath := filepath.Join(env.ProjectDir(), ".specforge", "config.yml")
	_, err := os.Stat(configPath)
	require.NoError(t, err, "set should create the project config file")

	result = env.Run("config", "get", "qa.max_iterations")
	require.Equal(t, 0, result.ExitCode)
	require.Equal(t, "25", strings.TrimSpace(result.Stdout),
		"get should see the written value")
}

func TestE2E_ConfigList(t *testing.T) {
	env := testutil.NewE2EEnv(t)

	result := env.Run("config", "list")

	require.Equal(t, 0, result.ExitCode,
		"list should succeed\nstdout: %s\nstderr: %s",
		result.Stdout, result.Stderr)
	for _, substr := range []string{"KEY", "VALUE", "DEFAULT", "qa.max_iterations", "worktree.branch_prefix"} {
		require.Contains(t, result.Stdout, substr)
	}
}

func TestE2E_ConfigPath(t *testing.T) {
	env := testutil.NewE2EEnv(t)

	result := env.Run("config", "path")

	require.Equal(t, 0, result.ExitCode,
		"path should succeed\nstdout: %s\nstderr: %s",
		result.Stdout, result.Stderr)
	require.Contains(t, result.Stdout, "Project")
	require.Contains(t, result.Stdout, "config.yml")
	require.Contains(t, result.Stdout, "(not found)",
		"fresh project has no config file yet")
}

func TestE2E_ConfigUnknownKey(t *testing.T) {
	tests := map[string]struct {
		args []string
	}{
		"get rejects unknown keys": {
			args: []string{"config", "get", "nope.nope"},
		},
		"set rejects unknown keys": {
			args: []string{"config", "set", "nope.nope", "1"},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			env := testutil.NewE2EEnv(t)

			result := env.Run(tt.args...)

			require.Equal(t, 1, result.ExitCode,
				"unknown keys must fail\nstdout: %s\nstderr: %s",
				result.Stdout, result.Stderr)
			require.Contains(t, result.Stderr, "unknown configuration key: nope.nope")
			require.Contains(t, result.Stderr, "config list",
				"remediation should point at config list")
		})
	}
}
