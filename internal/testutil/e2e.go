package testutil

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

var (
	// specforgeBinaryPath caches the built specforge binary path.
	specforgeBinaryPath string
	specforgeBuildOnce  sync.Once
	specforgeBuildErr   error
)

// E2EEnv provides an isolated environment for end-to-end tests of the built
// specforge binary. It manages a private HOME and project directory and
// sanitizes the environment so runs never pick up real credentials or the
// developer's configuration.
type E2EEnv struct {
	t          *testing.T
	homeDir    string
	projectDir string
	binary     string
}

// CommandResult captures the result of running a specforge command.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Combined returns stdout and stderr joined, for matching output the CLI
// may route to either stream.
func (r CommandResult) Combined() string {
	return r.Stdout + r.Stderr
}

// NewE2EEnv creates an isolated end-to-end environment and builds the
// specforge binary once per test session.
func NewE2EEnv(t *testing.T) *E2EEnv {
	t.Helper()

	env := &E2EEnv{
		t:          t,
		homeDir:    t.TempDir(),
		projectDir: t.TempDir(),
	}
	env.buildBinary()
	return env
}

// ProjectDir returns the isolated project directory commands run in.
func (e *E2EEnv) ProjectDir() string {
	return e.projectDir
}

// HomeDir returns the isolated HOME directory.
func (e *E2EEnv) HomeDir() string {
	return e.homeDir
}

// StateDir returns the default engine state directory under the project.
func (e *E2EEnv) StateDir() string {
	return filepath.Join(e.projectDir, ".specforge")
}

func (e *E2EEnv) buildBinary() {
	e.t.Helper()

	specforgeBuildOnce.Do(func() {
		specforgeBinaryPath, specforgeBuildErr = buildSpecforge()
	})
	if specforgeBuildErr != nil {
		e.t.Fatalf("building specforge: %v", specforgeBuildErr)
	}
	e.binary = specforgeBinaryPath
}

func buildSpecforge() (string, error) {
	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("determining current file location")
	}
	repoRoot := filepath.Join(filepath.Dir(currentFile), "..", "..")

	tmpDir, err := os.MkdirTemp("", "specforge-build-*")
	if err != nil {
		return "", fmt.Errorf("creating temp dir for build: %w", err)
	}

	binaryPath := filepath.Join(tmpDir, "specforge")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/specforge")
	cmd.Dir = repoRoot
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("building specforge: %w\nOutput: %s", err, output)
	}
	return binaryPath, nil
}

// WriteProjectFile writes a file under the project directory, creating
// parent directories as needed.
func (e *E2EEnv) WriteProjectFile(rel, content string) {
	e.t.Helper()

	path := filepath.Join(e.projectDir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		e.t.Fatalf("creating directory for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		e.t.Fatalf("writing %s: %v", rel, err)
	}
}

// InitGitRepo initializes a git repository in the project directory with one
// commit on main, so worktree operations have a base branch to start from.
func (e *E2EEnv) InitGitRepo() {
	e.t.Helper()

	e.git("init", "-b", "main")
	e.git("config", "user.email", "test@test.invalid")
	e.git("config", "user.name", "Test")

	readme := filepath.Join(e.projectDir, "README.md")
	if err := os.WriteFile(readme, []byte("# Test project\n"), 0o644); err != nil {
		e.t.Fatalf("writing README: %v", err)
	}
	e.git("add", ".")
	e.git("commit", "-m", "Initial commit")
}

func (e *E2EEnv) git(args ...string) {
	e.t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = e.projectDir
	cmd.Env = e.isolatedEnv()
	if output, err := cmd.CombinedOutput(); err != nil {
		e.t.Fatalf("git %s failed: %v\nOutput: %s", strings.Join(args, " "), err, output)
	}
}

// Run executes a specforge command in the project directory.
func (e *E2EEnv) Run(args ...string) CommandResult {
	return e.RunInDir(e.projectDir, args...)
}

// RunInDir executes a specforge command in an arbitrary directory.
func (e *E2EEnv) RunInDir(dir string, args ...string) CommandResult {
	e.t.Helper()

	start := time.Now()

	cmd := exec.Command(e.binary, args...)
	cmd.Dir = dir
	cmd.Env = e.isolatedEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = 1
		}
	}
	return result
}

// isolatedEnv builds the sanitized environment: private HOME, stable plain
// output, no credentials, and no SPECFORGE_* leakage from the host shell.
func (e *E2EEnv) isolatedEnv() []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + e.homeDir,
		"NO_COLOR=1",
		"SPECFORGE_ASCII=1",
	}

	safeVars := []string{"TERM", "LANG", "LC_ALL", "TMPDIR", "TMP", "TEMP"}
	for _, key := range safeVars {
		if val, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+val)
		}
	}

	return env
}

// HasCredentialInEnv reports whether a credential variable leaked into the
// isolated environment. Tests use it to verify sanitization.
func (e *E2EEnv) HasCredentialInEnv() bool {
	for _, v := range e.isolatedEnv() {
		if strings.HasPrefix(v, "ANTHROPIC_API_KEY=") ||
			strings.HasPrefix(v, "CLAUDE_CODE_OAUTH_TOKEN=") {
			return true
		}
	}
	return false
}
