// Package git provides repository inspection built on go-git (repo root,
// branches, base-branch detection) plus an exec-based Runner for the plumbing
// go-git does not cover (worktrees, merges, pushes). All subprocess
// invocations run with a scrubbed environment so inherited GIT_* variables
// and commit hooks cannot redirect them.
package git

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// debugLogger logs debug messages when debug mode is enabled. By default it
// is a no-op; set it via SetDebugLogger.
var debugLogger func(format string, args ...any)

// SetDebugLogger configures the debug logger for git operations.
// Pass nil to disable debug logging.
func SetDebugLogger(logger func(format string, args ...any)) {
	debugLogger = logger
}

func logDebug(format string, args ...any) {
	if debugLogger != nil {
		debugLogger(format, args...)
	}
}

// openRepo opens the repository containing path, traversing up the directory
// tree to find the .git directory.
func openRepo(path string) (*git.Repository, error) {
	logDebug("[git] opening repository at %s", path)

	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening repository at %s: %w", path, err)
	}

	return repo, nil
}

// CurrentBranch returns the name of the checked-out branch at path.
// Returns empty string in detached HEAD state.
func CurrentBranch(path string) (string, error) {
	repo, err := openRepo(path)
	if err != nil {
		return "", err
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("getting HEAD reference: %w", err)
	}

	if !head.Name().IsBranch() {
		logDebug("[git] CurrentBranch: detached HEAD state")
		return "", nil
	}

	return head.Name().Short(), nil
}

// RepositoryRoot returns the absolute path to the root of the repository
// containing path.
func RepositoryRoot(path string) (string, error) {
	repo, err := openRepo(path)
	if err != nil {
		return "", err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("getting worktree: %w", err)
	}

	root := worktree.Filesystem.Root()
	logDebug("[git] RepositoryRoot: %s", root)
	return root, nil
}

// IsRepository reports whether path is inside a git repository.
func IsRepository(path string) bool {
	_, err := openRepo(path)
	return err == nil
}

// BranchExists reports whether a local branch with the given name exists.
func BranchExists(path, name string) (bool, error) {
	repo, err := openRepo(path)
	if err != nil {
		return false, err
	}
	return localBranchExists(repo, name)
}

func localBranchExists(repo *git.Repository, name string) (bool, error) {
	_, err := repo.Reference(plumbing.NewBranchReferenceName(name), false)
	if err == nil {
		return true, nil
	}
	if err == plumbing.ErrReferenceNotFound {
		return false, nil
	}
	return false, fmt.Errorf("checking branch %q: %w", name, err)
}

// RemoteRefExists reports whether a remote-tracking ref like "origin/main"
// is known to the repository at path.
func RemoteRefExists(path, ref string) (bool, error) {
	repo, err := openRepo(path)
	if err != nil {
		return false, err
	}

	_, err = repo.Reference(plumbing.NewRemoteReferenceName(splitRemoteRef(ref)), false)
	if err == nil {
		return true, nil
	}
	if err == plumbing.ErrReferenceNotFound {
		return false, nil
	}
	return false, fmt.Errorf("checking remote ref %q: %w", ref, err)
}

// splitRemoteRef splits "origin/main" into ("origin", "main"). Refs without
// a slash are treated as branches on origin.
func splitRemoteRef(ref string) (remote, branch string) {
	parts := strings.SplitN(ref, "/", 2)
	if len(parts) != 2 {
		return "origin", ref
	}
	return parts[0], parts[1]
}

// BranchInfo contains metadata about a git branch.
type BranchInfo struct {
	Name     string
	IsRemote bool
	Remote   string // remote name (e.g. "origin") when IsRemote is true
}

// Branches returns all local and remote branches at path, deduplicated with
// local preferred over remote, sorted by name. HEAD pointers are filtered.
func Branches(path string) ([]BranchInfo, error) {
	repo, err := openRepo(path)
	if err != nil {
		return nil, nil
	}

	seen := make(map[string]bool)
	var branches []BranchInfo

	branches, err = collectLocalBranches(repo, branches, seen)
	if err != nil {
		return nil, err
	}

	branches, err = collectRemoteBranches(repo, branches, seen)
	if err != nil {
		return nil, err
	}

	sort.Slice(branches, func(i, j int) bool {
		return branches[i].Name < branches[j].Name
	})

	logDebug("[git] Branches: found %d branches", len(branches))
	return branches, nil
}

func collectLocalBranches(repo *git.Repository, branches []BranchInfo, seen map[string]bool) ([]BranchInfo, error) {
	branchIter, err := repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("listing local branches: %w", err)
	}

	err = branchIter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		if strings.Contains(name, "HEAD") {
			return nil
		}
		branches = addBranchWithDedup(branches, BranchInfo{Name: name}, seen)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterating local branches: %w", err)
	}

	return branches, nil
}

func collectRemoteBranches(repo *git.Repository, branches []BranchInfo, seen map[string]bool) ([]BranchInfo, error) {
	refIter, err := repo.References()
	if err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}

	err = refIter.ForEach(func(ref *plumbing.Reference) error {
		if !ref.Name().IsRemote() {
			return nil
		}

		fullName := ref.Name().Short() // e.g. "origin/main"
		if strings.Contains(fullName, "HEAD") {
			return nil
		}

		parts := strings.SplitN(fullName, "/", 2)
		if len(parts) != 2 {
			return nil
		}

		info := BranchInfo{
			Name:     parts[1],
			IsRemote: true,
			Remote:   parts[0],
		}
		branches = addBranchWithDedup(branches, info, seen)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterating remote branches: %w", err)
	}

	return branches, nil
}

// addBranchWithDedup adds a branch, preferring local over remote when the
// same name appears twice.
func addBranchWithDedup(branches []BranchInfo, info BranchInfo, seen map[string]bool) []BranchInfo {
	if seen[info.Name] && !info.IsRemote {
		for i, b := range branches {
			if b.Name == info.Name && b.IsRemote {
				branches[i] = info
				break
			}
		}
		return branches
	}

	if seen[info.Name] {
		return branches
	}

	seen[info.Name] = true
	return append(branches, info)
}
