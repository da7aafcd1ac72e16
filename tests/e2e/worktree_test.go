//go:build e2e

package e2e

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge/internal/testutil"
)

// TestE2E_WorktreeLifecycle walks one worktree from create through commit,
// merge, and removal against a real repository.
func TestE2E_WorktreeLifecycle(t *testing.T) {
	env := testutil.NewE2EEnv(t)
	env.InitGitRepo()

	worktreeRel := filepath.Join(".specforge", "worktrees", "specs", "demo-feature")

	result := env.Run("worktree", "create", "demo-feature")
	require.Equal(t, 0, result.ExitCode,
		"create should succeed\nstdout: %s\nstderr: %s",
		result.Stdout, result.Stderr)
	require.Contains(t, result.Stdout, "Created worktree")
	require.Contains(t, result.Stdout, "specforge/demo-feature")

	worktreePath := filepath.Join(env.ProjectDir(), worktreeRel)
	_, err := os.Stat(worktreePath)
	require.NoError(t, err, "checkout directory should exist")

	result = env.Run("worktree", "list")
	require.Equal(t, 0, result.ExitCode)
	require.Contains(t, result.Stdout, "demo-feature")
	require.Contains(t, result.Stdout, "specforge/demo-feature")

	env.WriteProjectFile(filepath.Join(worktreeRel, "notes.md"), "# Notes\n")

	result = env.Run("worktree", "commit", "demo-feature", "-m", "Add notes")
	require.Equal(t, 0, result.ExitCode,
		"commit should succeed\nstdout: %s\nstderr: %s",
		result.Stdout, result.Stderr)
	require.Contains(t, result.Stdout, "Committed worktree: demo-feature")

	result = env.Run("worktree", "merge", "demo-feature")
	require.Equal(t, 0, result.ExitCode,
		"merge should succeed\nstdout: %s\nstderr: %s",
		result.Stdout, result.Stderr)
	require.Contains(t, result.Stdout, "Merged: specforge/demo-feature")

	merged := filepath.Join(env.ProjectDir(), "notes.md")
	_, err = os.Stat(merged)
	require.NoError(t, err, "merge should land the commit on the base branch")

	result = env.Run("worktree", "remove", "demo-feature", "--delete-branch")
	require.Equal(t, 0, result.ExitCode,
		"remove should succeed\nstdout: %s\nstderr: %s",
		result.Stdout, result.Stderr)
	require.Contains(t, result.Stdout, "Removed worktree: demo-feature")

	_, err = os.Stat(worktreePath)
	require.True(t, os.IsNotExist(err), "checkout directory should be gone")

	result = env.Run("worktree", "list")
	require.Equal(t, 0, result.ExitCode)
	require.Contains(t, result.Stdout, "No spec worktrees")
}

func TestE2E_WorktreeListEmpty(t *testing.T) {
	env := testutil.NewE2EEnv(t)
	env.InitGitRepo()

	result := env.Run("worktree", "list")

	require.Equal(t, 0, result.ExitCode,
		"list should succeed with no worktrees\nstdout: %s\nstderr: %s",
		result.Stdout, result.Stderr)
	require.Contains(t, result.Stdout, "No spec worktrees")
}

func TestE2E_WorktreeOutsideGitRepo(t *testing.T) {
	tests := map[string]struct {
		args []string
	}{
		"list":   {args: []string{"worktree", "list"}},
		"create": {args: []string{"worktree", "create", "demo"}},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			env := testutil.NewE2EEnv(t)

			result := env.Run(tt.args...)

			require.Equal(t, 1, result.ExitCode,
				"worktree commands need a repository\nstdout: %s\nstderr: %s",
				result.Stdout, result.Stderr)
			require.Contains(t, result.Stderr, "not a git repository")
		})
	}
}
