package qa

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/specforge/specforge/internal/logging"
)

// DefaultTestTimeout bounds one full test-suite run.
const DefaultTestTimeout = 5 * time.Minute

// Tester runs the project's test suite during a validation pass.
type Tester interface {
	RunTests(ctx context.Context) (TestResults, error)
}

// TestRunner detects the project's test framework, runs it, and parses its
// output into TestResults. An undetectable or unrunnable suite yields empty
// results rather than an error so a missing harness never blocks review.
type TestRunner struct {
	// RepoRoot is the tree whose tests run.
	RepoRoot string
	// Timeout bounds the run; zero or negative means DefaultTestTimeout.
	Timeout time.Duration
	// Stdout, when set, receives the live test output.
	Stdout io.Writer
	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

var _ Tester = (*TestRunner)(nil)

// RunTests executes the detected framework's suite. The returned error is
// reserved for cancellation; timeouts and startup failures degrade to empty
// results.
func (tr *TestRunner) RunTests(ctx context.Context) (TestResults, error) {
	logger := logging.WithComponent(tr.Logger, "tests")

	framework := tr.detectFramework()
	if framework == "" {
		logger.Warn("no test framework detected")
		return TestResults{}, nil
	}

	argv := frameworkCommand(framework)
	if argv == nil {
		logger.Warn("no runner for detected framework", "framework", framework)
		return TestResults{}, nil
	}

	timeout := tr.Timeout
	if timeout <= 0 {
		timeout = DefaultTestTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Info("running tests", "framework", framework)

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = tr.RepoRoot

	var stdout, stderr bytes.Buffer
	if tr.Stdout != nil {
		cmd.Stdout = io.MultiWriter(&stdout, tr.Stdout)
		cmd.Stderr = io.MultiWriter(&stderr, tr.Stdout)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	if runErr := cmd.Run(); runErr != nil {
		if err := ctx.Err(); err != nil {
			return TestResults{}, err
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			logger.Error("test execution timed out", "timeout", timeout)
			return TestResults{}, nil
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			logger.Error("test execution failed", "error", runErr)
			return TestResults{}, nil
		}
		// Non-zero exit usually just means failing tests; parse the output.
	}

	results := parseTestOutput(framework, stdout.String(), stderr.String())
	logger.Info("tests finished", "results", results.Summary())
	return results, nil
}

// detectFramework probes the repo for a known test harness. Python markers
// win over package.json, which wins over Go test files.
func (tr *TestRunner) detectFramework() string {
	if fileExists(filepath.Join(tr.RepoRoot, "pytest.ini")) {
		return "pytest"
	}
	if data, err := os.ReadFile(filepath.Join(tr.RepoRoot, "pyproject.toml")); err == nil {
		if strings.Contains(string(data), "pytest") {
			return "pytest"
		}
	}
	if data, err := os.ReadFile(filepath.Join(tr.RepoRoot, "package.json")); err == nil {
		content := string(data)
		switch {
		case strings.Contains(content, "jest"):
			return "jest"
		case strings.Contains(content, "vitest"):
			return "vitest"
		case strings.Contains(content, "mocha"):
			return "mocha"
		}
	}
	if hasGoTests(tr.RepoRoot) {
		return "go"
	}
	return ""
}

func frameworkCommand(framework string) []string {
	switch framework {
	case "pytest":
		return []string{"python", "-m", "pytest", "--tb=short", "-q"}
	case "jest", "vitest":
		return []string{"npm", "test", "--", "--passWithNoTests"}
	case "go":
		return []string{"go", "test", "./...", "-v"}
	}
	return nil
}

var (
	pytestPassedRe = regexp.MustCompile(`(\d+) passed`)
	pytestFailedRe = regexp.MustCompile(`(\d+) failed`)
	jestTotalsRe   = regexp.MustCompile(`Tests:\s+(\d+)\s+passed.*?(\d+)\s+total`)
)

// parseTestOutput extracts pass counts from framework output. Go counts come
// from stdout only; the other frameworks interleave their summaries across
// both streams.
func parseTestOutput(framework, stdout, stderr string) TestResults {
	var results TestResults

	switch framework {
	case "pytest":
		output := stdout + stderr
		passed := firstInt(pytestPassedRe, output)
		failed := firstInt(pytestFailedRe, output)
		results.UnitPassed = passed
		results.UnitTotal = passed + failed
	case "jest", "vitest":
		output := stdout + stderr
		if m := jestTotalsRe.FindStringSubmatch(output); m != nil {
			results.UnitPassed, _ = strconv.Atoi(m[1])
			results.UnitTotal, _ = strconv.Atoi(m[2])
		}
	case "go":
		passed := strings.Count(stdout, "--- PASS:")
		failed := strings.Count(stdout, "--- FAIL:")
		results.UnitPassed = passed
		results.UnitTotal = passed + failed
	}

	return results
}

func firstInt(re *regexp.Regexp, s string) int {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func hasGoTests(root string) bool {
	found := false
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), "_test.go") {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	return found
}
