package errors

import "fmt"

// Common error messages for the specforge CLI.
// These templates keep user-facing failures consistent and actionable.

// MissingTaskDescription creates an error for a missing task description argument.
func MissingTaskDescription() *CLIError {
	return NewArgumentErrorWithUsage(
		"task description is required",
		"specforge run \"<task description>\"",
		"Provide a task description in quotes",
		"Example: specforge run \"Add user authentication\"",
	)
}

// SpecNotFound creates an error when a spec directory does not exist.
func SpecNotFound(name, specsDir string) *CLIError {
	return NewPrerequisiteError(
		fmt.Sprintf("spec %q not found under %s", name, specsDir),
		"Check available specs with: ls "+specsDir,
		"Create a new spec with: specforge run \"<task description>\"",
	)
}

// SessionNotFound creates an error when a session record cannot be loaded.
func SessionNotFound(id string) *CLIError {
	return NewPrerequisiteError(
		fmt.Sprintf("session not found: %s", id),
		"List known sessions with: specforge session list",
		"Session records may have been cleaned up after timing out",
	)
}

// GitNotRepository creates an error when not in a git repository.
func GitNotRepository() *CLIError {
	return NewPrerequisiteError(
		"not a git repository",
		"Initialize with: git init",
		"Or navigate to an existing repository",
	)
}

// BranchNamespaceConflict creates an error when a leaf branch shadows the
// worktree branch namespace, so no namespaced branch can be created under it.
func BranchNamespaceConflict(prefix string) *CLIError {
	return NewPrerequisiteError(
		fmt.Sprintf("branch %q conflicts with the worktree branch namespace %q/", prefix, prefix),
		fmt.Sprintf("Rename the branch: git branch -m %s %s-old", prefix, prefix),
		"Or configure a different namespace: specforge config set worktree.branch_prefix <name>",
	)
}

// MergeConflict creates an error after an aborted worktree merge.
func MergeConflict(branch, base string) *CLIError {
	return NewRuntimeError(
		fmt.Sprintf("merging %s into %s produced conflicts; merge aborted", branch, base),
		"Resolve conflicts manually: git merge --no-ff "+branch,
		"Or discard the worktree: specforge worktree remove <slug>",
	)
}

// AuthTokenMissing creates an error when no auth token can be resolved.
func AuthTokenMissing() *CLIError {
	return NewPrerequisiteError(
		"no auth token found",
		"Set CLAUDE_CODE_OAUTH_TOKEN or ANTHROPIC_AUTH_TOKEN in the environment",
		"Or sign in with the agent CLI so a credentials file is written",
		"Run 'specforge doctor' to see which sources were checked",
	)
}

// EncryptedToken creates an error for an encrypted credential blob.
func EncryptedToken(source string) *CLIError {
	return NewConfigError(
		fmt.Sprintf("token from %s is encrypted and cannot be used", source),
		"Re-authenticate with the agent CLI to store a plaintext OAuth token",
		"Or export the token directly: export CLAUDE_CODE_OAUTH_TOKEN=<token>",
	)
}

// ConfigParseError creates an error for an invalid config file.
func ConfigParseError(path string, err error) *CLIError {
	return WrapWithMessage(err, Configuration,
		fmt.Sprintf("failed to parse config file: %s", path),
		"Check the file for YAML syntax errors",
		"Reset to defaults by removing the file",
	)
}

// StateDirNotWritable creates an error when the state directory cannot be used.
func StateDirNotWritable(path string, err error) *CLIError {
	return WrapWithMessage(err, Prerequisite,
		fmt.Sprintf("state directory is not writable: %s", path),
		"Check permissions: ls -la "+path,
		"Or point state_dir at a writable location: specforge config set state_dir <path>",
	)
}

// TimeoutError creates an error when a subprocess exceeds its deadline.
func TimeoutError(duration string, command string) *CLIError {
	return NewRuntimeError(
		fmt.Sprintf("command timed out after %s: %s", duration, command),
		"Check for hung processes or slow network access",
		"Timeouts for git operations and test runs are fixed per operation class",
	)
}
