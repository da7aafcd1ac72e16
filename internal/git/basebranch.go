package git

import "fmt"

// DetectBaseBranch picks the branch new worktrees start from. Order:
// the configured branch when it exists locally, then "main", then "master",
// then the currently checked-out branch. fellBack is true only for the
// current-branch fallback so callers can surface a warning.
func DetectBaseBranch(path, configured string) (branch string, fellBack bool, err error) {
	repo, err := openRepo(path)
	if err != nil {
		return "", false, err
	}

	if configured != "" {
		exists, err := localBranchExists(repo, configured)
		if err != nil {
			return "", false, err
		}
		if exists {
			return configured, false, nil
		}
		logDebug("[git] configured base branch %q not found, auto-detecting", configured)
	}

	for _, candidate := range []string{"main", "master"} {
		exists, err := localBranchExists(repo, candidate)
		if err != nil {
			return "", false, err
		}
		if exists {
			return candidate, false, nil
		}
	}

	head, err := repo.Head()
	if err != nil {
		return "", false, fmt.Errorf("getting HEAD reference: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", false, fmt.Errorf("no main or master branch and HEAD is detached")
	}

	return head.Name().Short(), true, nil
}
