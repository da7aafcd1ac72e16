//go:build e2e

// Package e2e exercises the built specforge binary end to end: real process,
// real git, isolated HOME, no credentials. The engine's built-in heuristics
// keep every flow runnable offline.
//
// To run these tests:
//
//	go test -tags=e2e ./tests/e2e/...
package e2e

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge/internal/testutil"
)

func TestE2E_CoreCommands(t *testing.T) {
	tests := map[string]struct {
		args          []string
		wantExitCode  int
		wantOutSubstr []string
	}{
		"version prints build info": {
			args:          []string{"version"},
			wantExitCode:  0,
			wantOutSubstr: []string{"specforge", "commit"},
		},
		"help lists command groups": {
			args:          []string{"--help"},
			wantExitCode:  0,
			wantOutSubstr: []string{"specforge", "run", "worktree", "session"},
		},
		"unknown command fails": {
			args:          []string{"frobnicate"},
			wantExitCode:  1,
			wantOutSubstr: []string{"frobnicate"},
		},
		"unknown flag fails": {
			args:          []string{"version", "--bogus"},
			wantExitCode:  1,
			wantOutSubstr: []string{"bogus"},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			env := testutil.NewE2EEnv(t)

			result := env.Run(tt.args...)

			require.Equal(t, tt.wantExitCode, result.ExitCode,
				"exit code mismatch\nstdout: %s\nstderr: %s",
				result.Stdout, result.Stderr)

			combined := strings.ToLower(result.Combined())
			for _, substr := range tt.wantOutSubstr {
				require.Contains(t, combined, strings.ToLower(substr),
					"output should mention %q\nstdout: %s\nstderr: %s",
					substr, result.Stdout, result.Stderr)
			}
		})
	}
}

func TestE2E_EnvironmentSanitized(t *testing.T) {
	env := testutil.NewE2EEnv(t)

	require.False(t, env.HasCredentialInEnv(),
		"isolated environment must not carry credentials")

	// With no credentials reachable, the auth check is the one doctor
	// failure in an otherwise healthy repo.
	env.InitGitRepo()
	result := env.Run("doctor")

	require.Equal(t, 1, result.ExitCode,
		"doctor should fail without a token\nstdout: %s\nstderr: %s",
		result.Stdout, result.Stderr)
	require.Contains(t, result.Combined(), "no OAuth token found")
	require.Contains(t, result.Stdout, "git repository")
	require.Contains(t, result.Stdout, "state directory writable")
}

func TestE2E_DoctorOutsideGitRepo(t *testing.T) {
	env := testutil.NewE2EEnv(t)

	result := env.Run("doctor")

	require.Equal(t, 1, result.ExitCode,
		"doctor should fail outside a repo\nstdout: %s\nstderr: %s",
		result.Stdout, result.Stderr)
	require.Contains(t, result.Stdout, "not a git repository")
	require.Contains(t, result.Stderr, "checks failed")
}
