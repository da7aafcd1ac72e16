package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Result holds the outcome of one git invocation. A non-zero exit status is
// not a Go error; callers inspect ExitCode or use Err.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Ok reports whether the command exited zero.
func (r Result) Ok() bool { return r.ExitCode == 0 }

// Output returns stdout with surrounding whitespace trimmed.
func (r Result) Output() string { return strings.TrimSpace(r.Stdout) }

// Combined returns stdout and stderr joined, for matching diagnostics git
// emits on either stream.
func (r Result) Combined() string { return r.Stdout + r.Stderr }

// Err converts a failed result into an error carrying the git diagnostic.
// Returns nil for a successful result.
func (r Result) Err() error {
	if r.Ok() {
		return nil
	}
	msg := strings.TrimSpace(r.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(r.Stdout)
	}
	if msg == "" {
		msg = "<no output>"
	}
	return fmt.Errorf("git exited %d: %s", r.ExitCode, msg)
}

// Runner executes git commands in a directory. Implementations honor context
// cancellation; the returned error reports spawn and context failures, never
// a plain non-zero exit.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (Result, error)
}

// ExecRunner runs the real git binary with a scrubbed environment.
type ExecRunner struct{}

// NewRunner returns a Runner backed by the git binary on PATH.
func NewRunner() *ExecRunner { return &ExecRunner{} }

// Run executes git with the given arguments in dir. Timeouts are imposed by
// the caller through ctx; an expired deadline kills the subprocess and
// returns an error whose text classifies as transient for retry purposes.
func (ExecRunner) Run(ctx context.Context, dir string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = ScrubbedEnv(os.Environ())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err == nil {
		return res, nil
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return res, fmt.Errorf("git %s: timeout: %w", argName(args), ctx.Err())
	case ctx.Err() != nil:
		return res, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}

	return res, fmt.Errorf("running git %s: %w", strings.Join(args, " "), err)
}

func argName(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// ScrubbedEnv drops inherited GIT_* variables and disables husky hooks so
// subprocess behavior cannot be redirected by the caller's environment.
func ScrubbedEnv(environ []string) []string {
	env := make([]string, 0, len(environ)+1)
	for _, kv := range environ {
		if strings.HasPrefix(kv, "GIT_") {
			continue
		}
		env = append(env, kv)
	}
	return append(env, "HUSKY=0")
}
