package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/specforge/specforge/internal/engine"
	clierrors "github.com/specforge/specforge/internal/errors"
	"github.com/specforge/specforge/internal/output"
	"github.com/specforge/specforge/internal/qa"
)

var qaCmd = &cobra.Command{
	Use:     "qa",
	Short:   "Run QA against existing spec artifacts",
	GroupID: GroupWorkflows,
}

var qaRunCmd = &cobra.Command{
	Use:   "run --spec <name>",
	Short: "Run the QA review/fix loop for a spec",
	Long: `Run the QA loop against an existing spec directory: review the
implementation, apply or request fixes, and iterate until approval or
escalation. Reviews the spec's worktree when one exists, otherwise the
project tree.

The sign-off lands in the spec's implementation_plan.json; a rejected run
writes QA_FIX_REQUEST.md and an escalated run writes QA_ESCALATION.md.`,
	Example: `  specforge qa run --spec 001-add-user-authentication
  specforge qa run --spec 001-add-user-authentication --task "Add user auth"
  specforge qa run --spec .specforge/specs/002-fix-login --auto-fix=false`,
	Args: cobra.NoArgs,
	RunE: runQALoop,
}

func init() {
	rootCmd.AddCommand(qaCmd)
	qaCmd.AddCommand(qaRunCmd)
	qaRunCmd.Flags().String("spec", "", "Spec name or directory (required)")
	qaRunCmd.Flags().String("task", "", "Task description for review context (default: from the spec)")
	qaRunCmd.Flags().Bool("auto-fix", false, "Apply machine-generated QA fixes automatically")
	_ = qaRunCmd.MarkFlagRequired("spec")
}

func runQALoop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfiguration(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)
	out := cmd.OutOrStdout()

	specRef, _ := cmd.Flags().GetString("spec")
	specDir, err := resolveSpecDir(cfg, specRef)
	if err != nil {
		return err
	}
	task, _ := cmd.Flags().GetString("task")
	if cmd.Flags().Changed("auto-fix") {
		cfg.QA.AutoFix, _ = cmd.Flags().GetBool("auto-fix")
	}

	eng, cleanup, err := buildEngine(cmd, cfg, logger,
		engine.WithEvents(func(ev engine.Event) {
			if ev.Kind == engine.EventQAIteration && ev.Message != "" {
				fmt.Fprintf(out, "  %s\n", ev.Message)
			}
		}),
	)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := commandContext(cmd)
	defer stop()

	state, err := eng.RunQA(ctx, specDir, task)
	if state != nil {
		printQAState(out, specDir, state)
	}
	if err != nil {
		return clierrors.Wrap(err, clierrors.Runtime)
	}
	if !state.Approved {
		return clierrors.NewRuntimeError(
			fmt.Sprintf("QA did not approve after %d iterations", state.Iteration),
			"Review "+filepath.Join(specDir, qa.EscalationFile),
			"Apply the requested fixes and re-run: specforge qa run --spec "+specRef)
	}
	return nil
}

func printQAState(out io.Writer, specDir string, state *qa.LoopState) {
	for _, rec := range state.History {
		line := fmt.Sprintf("iteration %d: %s", rec.Iteration, rec.Status)
		if n := len(rec.IssuesFound); n > 0 {
			line += fmt.Sprintf(" (%d issues)", n)
		}
		output.PrintDetail(out, line)
	}
	if state.Approved {
		output.PrintSuccess(out, fmt.Sprintf("QA approved after %d iterations", state.Iteration))
	} else {
		output.PrintFailure(out, fmt.Sprintf("QA not approved after %d iterations", state.Iteration))
		if state.Escalated {
			output.PrintDetail(out, "escalated: see "+filepath.Join(specDir, qa.EscalationFile))
		}
	}
	output.PrintKeyValue(out, "Issues found", fmt.Sprintf("%d", state.TotalIssuesFound))
	output.PrintKeyValue(out, "Fixes applied", fmt.Sprintf("%d", state.TotalFixesApplied))
}
