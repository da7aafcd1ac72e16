package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	clierrors "github.com/specforge/specforge/internal/errors"
	"github.com/specforge/specforge/internal/output"
	"github.com/specforge/specforge/internal/worktree"
)

var worktreeCmd = &cobra.Command{
	Use:     "worktree",
	Short:   "Manage per-spec git worktrees",
	GroupID: GroupManagement,
	Long: `Manage the git worktrees the engine creates for specs. Each spec
slug maps to one worktree under <state>/worktrees/specs/<slug> on a branch
<prefix>/<slug>, so concurrent tasks never touch each other's checkouts.`,
}

var worktreeListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List spec worktrees with branch stats",
	Args:    cobra.NoArgs,
	RunE:    runWorktreeList,
}

var worktreeCreateCmd = &cobra.Command{
	Use:   "create <slug>",
	Short: "Create a worktree for a spec slug",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorktreeCreate,
}

var worktreeRemoveCmd = &cobra.Command{
	Use:     "remove <slug>",
	Aliases: []string{"rm"},
	Short:   "Remove a spec worktree",
	Args:    cobra.ExactArgs(1),
	RunE:    runWorktreeRemove,
}

var worktreeMergeCmd = &cobra.Command{
	Use:   "merge <slug>",
	Short: "Merge a spec branch into the base branch",
	Long: `Merge the spec's branch into the base branch with --no-ff. A dirty
worktree aborts before touching the base branch; a conflicted merge is
aborted and reported with the conflict intact on the spec branch.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorktreeMerge,
}

var worktreeCommitCmd = &cobra.Command{
	Use:   "commit <slug>",
	Short: "Stage and commit everything in a spec worktree",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorktreeCommit,
}

var worktreePushCmd = &cobra.Command{
	Use:   "push <slug>",
	Short: "Push a spec branch to origin",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorktreePush,
}

var worktreeCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Prune stale worktree registrations and directories",
	Args:  cobra.NoArgs,
	RunE:  runWorktreeClean,
}

func init() {
	rootCmd.AddCommand(worktreeCmd)
	worktreeCmd.AddCommand(worktreeListCmd, worktreeCreateCmd, worktreeRemoveCmd,
		worktreeMergeCmd, worktreeCommitCmd, worktreePushCmd, worktreeCleanCmd)

	worktreeRemoveCmd.Flags().Bool("delete-branch", false, "Also delete the spec branch")
	worktreeMergeCmd.Flags().Bool("delete", false, "Remove the worktree and branch after a successful merge")
	worktreeMergeCmd.Flags().Bool("staged", false, "Merge with --no-commit, leaving the result staged for review")
	worktreeCommitCmd.Flags().StringP("message", "m", "", "Commit message (required)")
	_ = worktreeCommitCmd.MarkFlagRequired("message")
	worktreePushCmd.Flags().Bool("force", false, "Force-push the branch")
}

// worktreeAction wraps the shared setup for worktree subcommands.
func worktreeAction(cmd *cobra.Command) (worktree.Manager, error) {
	cfg, err := loadConfiguration(cmd)
	if err != nil {
		return nil, err
	}
	return newWorktreeManager(cmd, cfg, newLogger(cmd, cfg))
}

func runWorktreeList(cmd *cobra.Command, args []string) error {
	mgr, err := worktreeAction(cmd)
	if err != nil {
		return err
	}
	ctx, stop := commandContext(cmd)
	defer stop()

	infos, err := mgr.List(ctx)
	if err != nil {
		return clierrors.Wrap(err, clierrors.Runtime)
	}
	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No spec worktrees")
		return nil
	}

	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		lastCommit := "-"
		if info.LastCommitAt != nil {
			lastCommit = formatAge(time.Since(*info.LastCommitAt)) + " ago"
		}
		rows = append(rows, []string{
			info.Slug,
			info.Branch,
			fmt.Sprintf("%d", info.CommitCount),
			fmt.Sprintf("+%d/-%d", info.Additions, info.Deletions),
			lastCommit,
			truncate(info.Path, 40),
		})
	}

	table := newTable(out)
	table.Header("SLUG", "BRANCH", "COMMITS", "CHANGES", "LAST COMMIT", "PATH")
	table.Bulk(rows)
	table.Render()
	return nil
}

func runWorktreeCreate(cmd *cobra.Command, args []string) error {
	mgr, err := worktreeAction(cmd)
	if err != nil {
		return err
	}
	ctx, stop := commandContext(cmd)
	defer stop()

	info, err := mgr.Create(ctx, args[0])
	if err != nil {
		return clierrors.Wrap(err, clierrors.Runtime)
	}
	out := cmd.OutOrStdout()
	output.PrintSuccess(out, "Created worktree: "+info.Slug)
	output.PrintKeyValue(out, "Path", info.Path)
	output.PrintKeyValue(out, "Branch", info.Branch)
	output.PrintKeyValue(out, "Base", info.BaseBranch)
	return nil
}

func runWorktreeRemove(cmd *cobra.Command, args []string) error {
	mgr, err := worktreeAction(cmd)
	if err != nil {
		return err
	}
	ctx, stop := commandContext(cmd)
	defer stop()

	deleteBranch, _ := cmd.Flags().GetBool("delete-branch")
	if err := mgr.Remove(ctx, args[0], deleteBranch); err != nil {
		return clierrors.Wrap(err, clierrors.Runtime)
	}
	output.PrintSuccess(cmd.OutOrStdout(), "Removed worktree: "+args[0])
	return nil
}

func runWorktreeMerge(cmd *cobra.Command, args []string) error {
	mgr, err := worktreeAction(cmd)
	if err != nil {
		return err
	}
	ctx, stop := commandContext(cmd)
	defer stop()

	deleteAfter, _ := cmd.Flags().GetBool("delete")
	stagedOnly, _ := cmd.Flags().GetBool("staged")
	opts := worktree.MergeOptions{DeleteAfter: deleteAfter, StagedOnly: stagedOnly}
	if err := mgr.Merge(ctx, args[0], opts); err != nil {
		return clierrors.Wrap(err, clierrors.Runtime)
	}
	out := cmd.OutOrStdout()
	if stagedOnly {
		output.PrintSuccess(out, "Merged (staged, not committed): "+mgr.BranchName(args[0]))
	} else {
		output.PrintSuccess(out, "Merged: "+mgr.BranchName(args[0]))
	}
	if deleteAfter {
		output.PrintDetail(out, "worktree and branch removed")
	}
	return nil
}

func runWorktreeCommit(cmd *cobra.Command, args []string) error {
	mgr, err := worktreeAction(cmd)
	if err != nil {
		return err
	}
	ctx, stop := commandContext(cmd)
	defer stop()

	message, _ := cmd.Flags().GetString("message")
	if err := mgr.Commit(ctx, args[0], message); err != nil {
		return clierrors.Wrap(err, clierrors.Runtime)
	}
	output.PrintSuccess(cmd.OutOrStdout(), "Committed worktree: "+args[0])
	return nil
}

func runWorktreePush(cmd *cobra.Command, args []string) error {
	mgr, err := worktreeAction(cmd)
	if err != nil {
		return err
	}
	ctx, stop := commandContext(cmd)
	defer stop()

	force, _ := cmd.Flags().GetBool("force")
	if err := mgr.Push(ctx, args[0], force); err != nil {
		return clierrors.Wrap(err, clierrors.Runtime)
	}
	output.PrintSuccess(cmd.OutOrStdout(), "Pushed: "+mgr.BranchName(args[0]))
	return nil
}

func runWorktreeClean(cmd *cobra.Command, args []string) error {
	mgr, err := worktreeAction(cmd)
	if err != nil {
		return err
	}
	ctx, stop := commandContext(cmd)
	defer stop()

	if err := mgr.CleanupStale(ctx); err != nil {
		return clierrors.Wrap(err, clierrors.Runtime)
	}
	output.PrintSuccess(cmd.OutOrStdout(), "Pruned stale worktrees")
	return nil
}
