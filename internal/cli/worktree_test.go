package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorktreeSubcommands(t *testing.T) {
	t.Parallel()

	want := []string{"list", "create", "remove", "merge", "commit", "push", "clean"}

	registered := make(map[string]bool)
	for _, cmd := range worktreeCmd.Commands() {
		registered[cmd.Name()] = true
	}
	for _, name := range want {
		assert.True(t, registered[name], "worktree %s should be registered", name)
	}
}

func TestWorktreeFlags(t *testing.T) {
	t.Parallel()

	assert.NotNil(t, worktreeRemoveCmd.Flags().Lookup("delete-branch"))
	assert.NotNil(t, worktreeMergeCmd.Flags().Lookup("delete"))
	assert.NotNil(t, worktreeMergeCmd.Flags().Lookup("staged"))
	assert.NotNil(t, worktreePushCmd.Flags().Lookup("force"))

	message := worktreeCommitCmd.Flags().Lookup("message")
	require.NotNil(t, message)
	assert.Equal(t, "m", message.Shorthand)
}

func TestWorktreeListOutsideRepo(t *testing.T) {
	isolateProject(t)

	_, err := executeCommand(t, "worktree", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a git repository")
}

func TestWorktreeCreateOutsideRepo(t *testing.T) {
	isolateProject(t)

	_, err := executeCommand(t, "worktree", "create", "dark-mode")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a git repository")
}

func TestWorktreeCommitRequiresMessage(t *testing.T) {
	isolateProject(t)

	_, err := executeCommand(t, "worktree", "commit", "dark-mode")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message")
}
