package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge/internal/config"
	clierrors "github.com/specforge/specforge/internal/errors"
)

// blankAuthEnv points every token source at empty locations so the auth
// check resolves deterministically to "no token".
func blankAuthEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CLAUDE_CODE_OAUTH_TOKEN", "")
	t.Setenv("ANTHROPIC_AUTH_TOKEN", "")
	t.Setenv("CLAUDE_CONFIG_DIR", t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

func TestCheckGitRepositoryOutsideRepo(t *testing.T) {
	t.Parallel()

	err := checkGitRepository(context.Background(), &config.Configuration{}, t.TempDir())
	require.Error(t, err)
	cliErr := clierrors.AsCLIError(err)
	require.NotNil(t, cliErr)
	assert.Equal(t, "not a git repository", cliErr.Message)
	assert.NotEmpty(t, cliErr.Remediation)
}

func TestCheckGitBinaryMissing(t *testing.T) {
	t.Setenv("PATH", "")

	err := checkGitBinary(context.Background(), &config.Configuration{}, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "git binary not found")
}

func TestCheckStateDirWritable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := &config.Configuration{StateDir: ".specforge"}
	require.NoError(t, checkStateDirWritable(context.Background(), cfg, dir))

	// Directory created, probe file removed.
	_, err := os.Stat(filepath.Join(dir, ".specforge"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, ".specforge", ".doctor-probe"))
	assert.True(t, os.IsNotExist(err))
}

func TestCheckAuthTokenMissing(t *testing.T) {
	blankAuthEnv(t)

	err := checkAuthToken(context.Background(), &config.Configuration{}, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no OAuth token found")
}

func TestCheckAuthTokenFromEnv(t *testing.T) {
	blankAuthEnv(t)
	t.Setenv("CLAUDE_CODE_OAUTH_TOKEN", "sk-ant-oat01-test")

	err := checkAuthToken(context.Background(), &config.Configuration{}, t.TempDir())
	require.NoError(t, err)
}

func TestDoctorReportsFailures(t *testing.T) {
	isolateProject(t)
	blankAuthEnv(t)

	out, err := executeCommand(t, "doctor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checks failed")
	assert.Contains(t, out, "git repository")
	assert.Contains(t, out, "not a git repository")
	assert.Contains(t, out, "state directory writable")
	assert.Contains(t, out, "no OAuth token found")
}
