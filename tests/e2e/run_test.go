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

// TestE2E_RunCompletesOffline drives one task through the whole engine:
// pipeline, plan, worktree, QA loop. With no client configured the built-in
// heuristics carry every stage, so the run must approve and exit zero.
func TestE2E_RunCompletesOffline(t *testing.T) {
	env := testutil.NewE2EEnv(t)
	env.InitGitRepo()
	env.WriteProjectFile("internal/server/server.go", "package server\n\nfunc Addr() string { return \":8080\" }\n")

	result := env.Run("run", "Add a health endpoint")

	require.Equal(t, 0, result.ExitCode,
		"offline run should approve\nstdout: %s\nstderr: %s",
		result.Stdout, result.Stderr)

	require.Contains(t, result.Stdout, "[1/5] initializing")
	require.Contains(t, result.Stdout, "[OK]")
	require.Contains(t, result.Stdout, "Task completed: Add a health endpoint")
	require.Contains(t, result.Stdout, "Session")
	require.Contains(t, result.Stdout, "Spec dir")
	require.Contains(t, result.Stdout, "approved after")

	specsDir := filepath.Join(env.StateDir(), "specs")
	entries, err := os.ReadDir(specsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	slug := entries[0].Name()
	specDir := filepath.Join(specsDir, slug)
	for _, artifact := range []string{"spec.md", "implementation_plan.json"} {
		_, err := os.Stat(filepath.Join(specDir, artifact))
		require.NoError(t, err, "artifact %s should be written", artifact)
	}

	worktreePath := filepath.Join(env.StateDir(), "worktrees", "specs", slug)
	_, err = os.Stat(worktreePath)
	require.NoError(t, err, "worktree checkout should exist")

	// The session and worktree surfaces must see what the run recorded.
	listed := env.Run("session", "list")
	require.Equal(t, 0, listed.ExitCode,
		"session list should succeed\nstdout: %s\nstderr: %s",
		listed.Stdout, listed.Stderr)
	require.Contains(t, listed.Stdout, "completed")
	require.Contains(t, listed.Stdout, "Add a health endpoint")

	trees := env.Run("worktree", "list")
	require.Equal(t, 0, trees.ExitCode,
		"worktree list should succeed\nstdout: %s\nstderr: %s",
		trees.Stdout, trees.Stderr)
	require.Contains(t, trees.Stdout, slug)
	require.Contains(t, trees.Stdout, "specforge/"+slug)
}

func TestE2E_RunMultipleTasks(t *testing.T) {
	env := testutil.NewE2EEnv(t)
	env.InitGitRepo()

	result := env.Run("run", "Add request logging", "Add a version flag", "--max-parallel", "1")

	require.Equal(t, 0, result.ExitCode,
		"both tasks should approve\nstdout: %s\nstderr: %s",
		result.Stdout, result.Stderr)
	require.Equal(t, 2, strings.Count(result.Stdout, "Task completed:"),
		"each task reports its own outcome")

	specsDir := filepath.Join(env.StateDir(), "specs")
	entries, err := os.ReadDir(specsDir)
	require.NoError(t, err)
	require.Len(t, entries, 2, "each task gets its own spec directory")
}

func TestE2E_RunRejectsBadInput(t *testing.T) {
	tests := map[string]struct {
		args          []string
		wantErrSubstr string
	}{
		"blank task": {
			args:          []string{"run", "   "},
			wantErrSubstr: "task description is required",
		},
		"invalid complexity tier": {
			args:          []string{"run", "Fix a typo", "--complexity", "gigantic"},
			wantErrSubstr: `invalid complexity "gigantic"`,
		},
		"no arguments": {
			args:          []string{"run"},
			wantErrSubstr: "requires at least 1 arg",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			env := testutil.NewE2EEnv(t)
			env.InitGitRepo()

			result := env.Run(tt.args...)

			require.Equal(t, 1, result.ExitCode,
				"bad input must fail\nstdout: %s\nstderr: %s",
				result.Stdout, result.Stderr)
			require.Contains(t, result.Stderr, tt.wantErrSubstr)
		})
	}
}

func TestE2E_RunOutsideGitRepo(t *testing.T) {
	env := testutil.NewE2EEnv(t)

	result := env.Run("run", "Add a health endpoint")

	require.Equal(t, 1, result.ExitCode,
		"run needs a repository for the worktree stage\nstdout: %s\nstderr: %s",
		result.Stdout, result.Stderr)
	require.Contains(t, result.Stderr, "Error [Runtime Error]")
}

func TestE2E_SessionListEmpty(t *testing.T) {
	env := testutil.NewE2EEnv(t)
	env.InitGitRepo()

	result := env.Run("session", "list")

	require.Equal(t, 0, result.ExitCode,
		"session list should succeed with no runs\nstdout: %s\nstderr: %s",
		result.Stdout, result.Stderr)
	require.Contains(t, result.Stdout, "No sessions recorded")
}
