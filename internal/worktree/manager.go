// Package worktree manages per-spec git worktrees. Each spec slug maps to
// exactly one worktree directory under <state>/worktrees/specs/<slug> on a
// branch <prefix>/<slug> forked from the base branch, so concurrent specs
// never touch each other's checkouts. Git itself is the source of truth; no
// separate state file is kept.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	clierrors "github.com/specforge/specforge/internal/errors"
	"github.com/specforge/specforge/internal/git"
	"github.com/specforge/specforge/internal/logging"
	"github.com/specforge/specforge/internal/retry"
)

// Per-operation timeouts. Queries are local and fast; fetch and push cross
// the network; worktree add and merge touch the working tree.
const (
	queryTimeout  = 30 * time.Second
	fetchTimeout  = 60 * time.Second
	mutateTimeout = 60 * time.Second
	pushTimeout   = 120 * time.Second
)

// ErrNotFound is returned when no worktree exists for a slug.
var ErrNotFound = errors.New("worktree not found")

// Config controls where worktrees live and how their branches are named.
type Config struct {
	// ProjectDir is the root of the target repository.
	ProjectDir string
	// StateDir holds engine state, relative to ProjectDir unless absolute.
	StateDir string
	// BranchPrefix namespaces spec branches: "specforge" yields "specforge/<slug>".
	BranchPrefix string
	// BaseBranch is the configured base; empty means autodetect.
	BaseBranch string
	// PushRetries bounds push and fetch attempts on transient failures.
	PushRetries int
}

func (c Config) withDefaults() Config {
	if c.StateDir == "" {
		c.StateDir = ".specforge"
	}
	if c.BranchPrefix == "" {
		c.BranchPrefix = "specforge"
	}
	if c.PushRetries <= 0 {
		c.PushRetries = retry.DefaultMaxAttempts
	}
	return c
}

// Info describes one spec worktree and its divergence from the base branch.
type Info struct {
	Slug         string
	Path         string
	Branch       string
	BaseBranch   string
	CommitCount  int
	FilesChanged int
	Additions    int
	Deletions    int
	LastCommitAt *time.Time
	DaysIdle     int
}

// MergeOptions control how a worktree branch lands on the base branch.
type MergeOptions struct {
	// DeleteAfter removes the worktree and its branch after a successful merge.
	DeleteAfter bool
	// StagedOnly merges with --no-commit, leaving the result staged for review.
	StagedOnly bool
}

// Manager handles worktree lifecycle operations. Implementations must be
// safe for concurrent use across distinct slugs.
type Manager interface {
	// Setup ensures the worktrees directory exists.
	Setup(ctx context.Context) error
	// Create builds a fresh worktree for slug, replacing any stale one.
	Create(ctx context.Context, slug string) (*Info, error)
	// GetOrCreate returns the existing worktree for slug or creates one.
	GetOrCreate(ctx context.Context, slug string) (*Info, error)
	// Get returns info and divergence stats for an existing worktree.
	Get(ctx context.Context, slug string) (*Info, error)
	// Remove unregisters a worktree and optionally deletes its branch.
	Remove(ctx context.Context, slug string, deleteBranch bool) error
	// Merge lands the worktree branch on the base branch.
	Merge(ctx context.Context, slug string, opts MergeOptions) error
	// Commit stages and commits everything in the worktree.
	Commit(ctx context.Context, slug, message string) error
	// Push uploads the worktree branch to origin with retries.
	Push(ctx context.Context, slug string, force bool) error
	// List returns a snapshot of all spec worktrees with stats.
	List(ctx context.Context) ([]Info, error)
	// SpecBranches lists local branches in the configured namespace.
	SpecBranches(ctx context.Context) ([]string, error)
	// HasUncommittedChanges reports whether the slug's tree is dirty.
	HasUncommittedChanges(ctx context.Context, slug string) (bool, error)
	// CleanupStale deletes directories git no longer tracks and prunes.
	CleanupStale(ctx context.Context) error
	// BranchName returns the namespaced branch for a slug.
	BranchName(slug string) string
	// Path returns the canonical worktree directory for a slug.
	Path(slug string) string
}

// DefaultManager implements Manager with a git.Runner for plumbing commands
// and go-git for repository inspection.
type DefaultManager struct {
	cfg     Config
	runner  git.Runner
	stdout  io.Writer
	logger  *slog.Logger
	now     func() time.Time
	backoff func(attempt int) time.Duration

	baseOnce sync.Once
	base     string
	baseErr  error
}

// ManagerOption configures a DefaultManager.
type ManagerOption func(*DefaultManager)

// WithRunner sets a custom git runner (for testing).
func WithRunner(r git.Runner) ManagerOption {
	return func(m *DefaultManager) {
		m.runner = r
	}
}

// WithStdout sets the writer for user-facing progress messages.
func WithStdout(w io.Writer) ManagerOption {
	return func(m *DefaultManager) {
		m.stdout = w
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *DefaultManager) {
		m.logger = l
	}
}

// WithClock sets the time source used for idle-day calculations (for testing).
func WithClock(now func() time.Time) ManagerOption {
	return func(m *DefaultManager) {
		m.now = now
	}
}

// NewManager creates a worktree manager for the repository in cfg.ProjectDir.
func NewManager(cfg Config, opts ...ManagerOption) *DefaultManager {
	m := &DefaultManager{
		cfg:     cfg.withDefaults(),
		runner:  git.NewRunner(),
		stdout:  os.Stdout,
		logger:  logging.Discard(),
		now:     time.Now,
		backoff: retry.Exponential,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.logger = logging.WithComponent(m.logger, "worktree")
	return m
}

// worktreesDir is where all spec worktrees live.
func (m *DefaultManager) worktreesDir() string {
	state := m.cfg.StateDir
	if !filepath.IsAbs(state) {
		state = filepath.Join(m.cfg.ProjectDir, state)
	}
	return filepath.Join(state, "worktrees", "specs")
}

// Path returns the canonical worktree directory for a slug.
func (m *DefaultManager) Path(slug string) string {
	return filepath.Join(m.worktreesDir(), slug)
}

// BranchName returns the namespaced branch for a slug.
func (m *DefaultManager) BranchName(slug string) string {
	return m.cfg.BranchPrefix + "/" + slug
}

// baseBranch resolves the base branch once and caches the result for the
// manager's lifetime.
func (m *DefaultManager) baseBranch() (string, error) {
	m.baseOnce.Do(func() {
		branch, fellBack, err := git.DetectBaseBranch(m.cfg.ProjectDir, m.cfg.BaseBranch)
		if err != nil {
			m.baseErr = fmt.Errorf("detecting base branch: %w", err)
			return
		}
		if fellBack {
			fmt.Fprintf(m.stdout, "Warning: no 'main' or 'master' branch found, using current branch %q as base\n", branch)
			m.logger.Warn("base branch fallback", "branch", branch)
		}
		m.base = branch
	})
	return m.base, m.baseErr
}

func (m *DefaultManager) run(ctx context.Context, dir string, timeout time.Duration, args ...string) (git.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return m.runner.Run(ctx, dir, args...)
}

// Setup ensures the worktrees directory exists.
func (m *DefaultManager) Setup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(m.worktreesDir(), 0o755); err != nil {
		return fmt.Errorf("creating worktrees directory: %w", err)
	}
	return nil
}

// Create builds a fresh worktree for slug on <prefix>/<slug>, forked from
// the base branch. Any stale worktree or branch for the slug is removed
// first. The base is fetched from origin and the remote ref preferred as
// the start point when it exists.
func (m *DefaultManager) Create(ctx context.Context, slug string) (*Info, error) {
	base, err := m.baseBranch()
	if err != nil {
		return nil, err
	}

	if err := m.checkNamespaceConflict(); err != nil {
		return nil, err
	}

	if err := m.Setup(ctx); err != nil {
		return nil, err
	}

	path := m.Path(slug)
	branch := m.BranchName(slug)

	// Clear leftovers from earlier runs of the same slug.
	if _, err := os.Stat(path); err == nil {
		if _, err := m.run(ctx, m.cfg.ProjectDir, mutateTimeout, "worktree", "remove", "--force", path); err != nil {
			return nil, err
		}
	}
	if _, err := m.run(ctx, m.cfg.ProjectDir, queryTimeout, "branch", "-D", branch); err != nil {
		return nil, err
	}

	startPoint, err := m.resolveStartPoint(ctx, base)
	if err != nil {
		return nil, err
	}

	res, err := m.run(ctx, m.cfg.ProjectDir, mutateTimeout, "worktree", "add", "-b", branch, path, startPoint)
	if err != nil {
		return nil, err
	}
	if !res.Ok() {
		return nil, fmt.Errorf("creating worktree for %q: %w", slug, res.Err())
	}

	fmt.Fprintf(m.stdout, "Created worktree %s on branch %s\n", filepath.Base(path), branch)
	m.logger.Info("worktree created", "slug", slug, "branch", branch, "start_point", startPoint)

	return &Info{
		Slug:       slug,
		Path:       path,
		Branch:     branch,
		BaseBranch: base,
	}, nil
}

// checkNamespaceConflict rejects creation when a leaf branch named exactly
// the prefix exists. Git refs are path-like, so a branch "specforge" blocks
// every "specforge/<slug>".
func (m *DefaultManager) checkNamespaceConflict() error {
	prefix := m.cfg.BranchPrefix
	exists, err := git.BranchExists(m.cfg.ProjectDir, prefix)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return clierrors.NewRuntimeError(
		fmt.Sprintf("branch %q exists and blocks creating branches under %q", prefix, prefix+"/"),
		fmt.Sprintf("Rename the conflicting branch: git branch -m %s %s-old", prefix, prefix),
	)
}

// resolveStartPoint fetches the base branch from origin, retrying transient
// failures, and prefers origin/<base> when that ref is known. A failed fetch
// only downgrades to the local base branch with a warning.
func (m *DefaultManager) resolveStartPoint(ctx context.Context, base string) (string, error) {
	fetchErr := retry.Do(ctx, retry.Policy{
		MaxAttempts: m.cfg.PushRetries,
		Backoff:     m.backoff,
		OnRetry: func(attempt int, err error) {
			m.logger.Warn("fetch retry", "attempt", attempt, "error", err)
		},
	}, func(ctx context.Context) error {
		res, err := m.run(ctx, m.cfg.ProjectDir, fetchTimeout, "fetch", "origin", base)
		if err != nil {
			return err
		}
		return res.Err()
	})
	if errors.Is(fetchErr, context.Canceled) {
		return "", fetchErr
	}
	if fetchErr != nil {
		fmt.Fprintf(m.stdout, "Warning: could not fetch %s from origin: %v\nFalling back to local branch.\n", base, fetchErr)
		m.logger.Warn("fetch failed, using local base", "base", base, "error", fetchErr)
		return base, nil
	}

	remoteRef := "origin/" + base
	exists, err := git.RemoteRefExists(m.cfg.ProjectDir, remoteRef)
	if err != nil || !exists {
		return base, nil
	}
	return remoteRef, nil
}

// GetOrCreate returns the existing worktree for slug or creates one.
func (m *DefaultManager) GetOrCreate(ctx context.Context, slug string) (*Info, error) {
	info, err := m.Get(ctx, slug)
	if err == nil {
		fmt.Fprintf(m.stdout, "Using existing worktree: %s\n", info.Path)
		return info, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return m.Create(ctx, slug)
}

// Get returns info and divergence stats for an existing worktree. It returns
// ErrNotFound when the directory is missing or is not a checkout anymore.
func (m *DefaultManager) Get(ctx context.Context, slug string) (*Info, error) {
	base, err := m.baseBranch()
	if err != nil {
		return nil, err
	}

	path := m.Path(slug)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("worktree for %q: %w", slug, ErrNotFound)
	}

	res, err := m.run(ctx, path, queryTimeout, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, err
	}
	if !res.Ok() {
		return nil, fmt.Errorf("worktree for %q: %w", slug, ErrNotFound)
	}

	info := &Info{
		Slug:       slug,
		Path:       path,
		Branch:     res.Output(),
		BaseBranch: base,
	}
	m.collectStats(ctx, info)
	return info, nil
}

// Remove unregisters the worktree and deletes its directory. The branch is
// deleted too when deleteBranch is set.
func (m *DefaultManager) Remove(ctx context.Context, slug string, deleteBranch bool) error {
	path := m.Path(slug)
	branch := m.BranchName(slug)

	if _, err := os.Stat(path); err == nil {
		res, err := m.run(ctx, m.cfg.ProjectDir, mutateTimeout, "worktree", "remove", "--force", path)
		if err != nil {
			return err
		}
		if res.Ok() {
			fmt.Fprintf(m.stdout, "Removed worktree: %s\n", filepath.Base(path))
		} else {
			fmt.Fprintf(m.stdout, "Warning: could not remove worktree: %v\n", res.Err())
			if err := os.RemoveAll(path); err != nil {
				return fmt.Errorf("removing worktree directory: %w", err)
			}
		}
	}

	if deleteBranch {
		res, err := m.run(ctx, m.cfg.ProjectDir, queryTimeout, "branch", "-D", branch)
		if err != nil {
			return err
		}
		if res.Ok() {
			fmt.Fprintf(m.stdout, "Deleted branch: %s\n", branch)
		}
	}

	_, err := m.run(ctx, m.cfg.ProjectDir, queryTimeout, "worktree", "prune")
	return err
}

// Merge lands the worktree branch on the base branch with --no-ff. A
// conflict aborts the merge and returns a fatal error; "already up to date"
// counts as success. With StagedOnly the merge stops before committing.
func (m *DefaultManager) Merge(ctx context.Context, slug string, opts MergeOptions) error {
	info, err := m.Get(ctx, slug)
	if err != nil {
		return err
	}
	base := info.BaseBranch

	if err := m.checkoutBase(ctx, base); err != nil {
		return err
	}

	mergeArgs := []string{"merge", "--no-ff", info.Branch}
	if opts.StagedOnly {
		mergeArgs = append(mergeArgs, "--no-commit")
	} else {
		mergeArgs = append(mergeArgs, "-m", fmt.Sprintf("%s: Merge %s", m.cfg.BranchPrefix, info.Branch))
	}

	res, err := m.run(ctx, m.cfg.ProjectDir, mutateTimeout, mergeArgs...)
	if err != nil {
		return err
	}

	if !res.Ok() {
		output := strings.ToLower(res.Combined())
		if strings.Contains(output, "already up to date") || strings.Contains(output, "already up-to-date") {
			fmt.Fprintf(m.stdout, "Branch %s is already up to date\n", info.Branch)
			return m.finishMerge(ctx, slug, opts)
		}

		// Leave no partial merge state behind.
		if _, abortErr := m.run(ctx, m.cfg.ProjectDir, queryTimeout, "merge", "--abort"); abortErr != nil {
			m.logger.Warn("merge abort failed", "error", abortErr)
		}

		if strings.Contains(output, "conflict") {
			fmt.Fprintln(m.stdout, "Merge conflict detected, aborting merge")
			return clierrors.Fatal("worktree.merge",
				fmt.Errorf("merge conflict between %s and %s, merge aborted", info.Branch, base))
		}
		return clierrors.Fatal("worktree.merge", fmt.Errorf("merging %s: %w", info.Branch, res.Err()))
	}

	if opts.StagedOnly {
		fmt.Fprintf(m.stdout, "Changes from %s staged on %s; review and commit when ready\n", info.Branch, base)
	} else {
		fmt.Fprintf(m.stdout, "Merged %s into %s\n", info.Branch, base)
	}
	m.logger.Info("worktree merged", "slug", slug, "branch", info.Branch, "staged_only", opts.StagedOnly)

	return m.finishMerge(ctx, slug, opts)
}

func (m *DefaultManager) finishMerge(ctx context.Context, slug string, opts MergeOptions) error {
	if !opts.DeleteAfter {
		return nil
	}
	return m.Remove(ctx, slug, true)
}

// checkoutBase switches the main checkout to the base branch, verifying via
// HEAD because git reports some non-fatal checkout noise on stderr.
func (m *DefaultManager) checkoutBase(ctx context.Context, base string) error {
	current, err := git.CurrentBranch(m.cfg.ProjectDir)
	if err != nil {
		return err
	}
	if current == base {
		return nil
	}

	res, err := m.run(ctx, m.cfg.ProjectDir, mutateTimeout, "checkout", base)
	if err != nil {
		return err
	}
	if !res.Ok() {
		current, err := git.CurrentBranch(m.cfg.ProjectDir)
		if err != nil {
			return err
		}
		if current != base {
			return fmt.Errorf("checking out base branch %q: %w", base, res.Err())
		}
	}
	return nil
}

// Commit stages and commits everything in the worktree. A clean tree is
// treated as success.
func (m *DefaultManager) Commit(ctx context.Context, slug, message string) error {
	path := m.Path(slug)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("worktree for %q: %w", slug, ErrNotFound)
	}

	if _, err := m.run(ctx, path, mutateTimeout, "add", "-A"); err != nil {
		return err
	}

	res, err := m.run(ctx, path, mutateTimeout, "commit", "-m", message)
	if err != nil {
		return err
	}
	if res.Ok() || strings.Contains(res.Combined(), "nothing to commit") {
		return nil
	}
	return fmt.Errorf("committing in %s: %w", slug, res.Err())
}

// Push uploads the worktree branch to origin, retrying transient network
// failures with exponential backoff.
func (m *DefaultManager) Push(ctx context.Context, slug string, force bool) error {
	info, err := m.Get(ctx, slug)
	if err != nil {
		return err
	}

	pushArgs := []string{"push", "-u", "origin", info.Branch}
	if force {
		pushArgs = []string{"push", "--force", "-u", "origin", info.Branch}
	}

	err = retry.Do(ctx, retry.Policy{
		MaxAttempts: m.cfg.PushRetries,
		Backoff:     m.backoff,
		OnRetry: func(attempt int, err error) {
			fmt.Fprintf(m.stdout, "Push attempt %d failed (%v), retrying...\n", attempt, err)
			m.logger.Warn("push retry", "attempt", attempt, "error", err)
		},
	}, func(ctx context.Context) error {
		res, err := m.run(ctx, info.Path, pushTimeout, pushArgs...)
		if err != nil {
			return err
		}
		return res.Err()
	})
	if err != nil {
		return fmt.Errorf("pushing branch %s: %w", info.Branch, err)
	}

	m.logger.Info("branch pushed", "branch", info.Branch, "force", force)
	return nil
}

// List returns a snapshot of all spec worktrees with stats. Directories that
// are no longer valid checkouts are skipped.
func (m *DefaultManager) List(ctx context.Context) ([]Info, error) {
	entries, err := os.ReadDir(m.worktreesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading worktrees directory: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := m.Get(ctx, entry.Name())
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// SpecBranches lists local branches in the configured namespace.
func (m *DefaultManager) SpecBranches(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	branches, err := git.Branches(m.cfg.ProjectDir)
	if err != nil {
		return nil, err
	}

	prefix := m.cfg.BranchPrefix + "/"
	var names []string
	for _, b := range branches {
		if !b.IsRemote && strings.HasPrefix(b.Name, prefix) {
			names = append(names, b.Name)
		}
	}
	return names, nil
}

// HasUncommittedChanges reports whether the worktree for slug (or the
// project root when slug is empty) has a dirty tree.
func (m *DefaultManager) HasUncommittedChanges(ctx context.Context, slug string) (bool, error) {
	dir := m.cfg.ProjectDir
	if slug != "" {
		path := m.Path(slug)
		if _, err := os.Stat(path); err == nil {
			dir = path
		}
	}

	res, err := m.run(ctx, dir, queryTimeout, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	if !res.Ok() {
		return false, res.Err()
	}
	return res.Output() != "", nil
}

// CleanupStale deletes worktree directories git no longer knows about and
// prunes the registry.
func (m *DefaultManager) CleanupStale(ctx context.Context) error {
	dir := m.worktreesDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading worktrees directory: %w", err)
	}

	res, err := m.run(ctx, m.cfg.ProjectDir, queryTimeout, "worktree", "list", "--porcelain")
	if err != nil {
		return err
	}

	registered := make(map[string]bool)
	for _, line := range strings.Split(res.Stdout, "\n") {
		if rest, ok := strings.CutPrefix(line, "worktree "); ok {
			registered[strings.TrimSpace(rest)] = true
		}
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if registered[path] {
			continue
		}
		fmt.Fprintf(m.stdout, "Removing stale worktree directory: %s\n", entry.Name())
		if err := os.RemoveAll(path); err != nil {
			m.logger.Warn("stale worktree removal failed", "path", path, "error", err)
		}
	}

	_, err = m.run(ctx, m.cfg.ProjectDir, queryTimeout, "worktree", "prune")
	return err
}
