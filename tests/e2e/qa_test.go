//go:build e2e

package e2e

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge/internal/testutil"
)

func TestE2E_QARunAfterSpecPipeline(t *testing.T) {
	env := testutil.NewE2EEnv(t)
	env.InitGitRepo()
	env.WriteProjectFile("internal/parser/parser.go", "package parser\n\nfunc Parse(s string) string { return s }\n")

	result := env.Run("spec", "run", "Add input validation to the parser")
	require.Equal(t, 0, result.ExitCode,
		"pipeline should complete first\nstdout: %s\nstderr: %s",
		result.Stdout, result.Stderr)

	entries, err := os.ReadDir(filepath.Join(env.StateDir(), "specs"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	slug := entries[0].Name()

	result = env.Run("qa", "run", "--spec", slug)
	require.Equal(t, 0, result.ExitCode,
		"a clean tree should approve\nstdout: %s\nstderr: %s",
		result.Stdout, result.Stderr)
	require.Contains(t, result.Stdout, "QA approved after")

	// A second pass sees the recorded signoff and approves immediately.
	result = env.Run("qa", "run", "--spec", slug)
	require.Equal(t, 0, result.ExitCode,
		"recorded signoff should short-circuit\nstdout: %s\nstderr: %s",
		result.Stdout, result.Stderr)
	require.Contains(t, result.Stdout, "QA approved after")
}

func TestE2E_QARunSpecNotFound(t *testing.T) {
	env := testutil.NewE2EEnv(t)
	env.InitGitRepo()

	result := env.Run("qa", "run", "--spec", "999-missing")

	require.Equal(t, 1, result.ExitCode,
		"missing specs must fail\nstdout: %s\nstderr: %s",
		result.Stdout, result.Stderr)
	require.Contains(t, result.Stderr, "999-missing")
	require.Contains(t, result.Stderr, "not found")
}
