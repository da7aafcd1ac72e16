package cli

import (
	"io"
	"strings"

	"github.com/spf13/cobra"

	clierrors "github.com/specforge/specforge/internal/errors"
	"github.com/specforge/specforge/internal/output"
	"github.com/specforge/specforge/internal/pipeline"
)

var specCmd = &cobra.Command{
	Use:     "spec",
	Short:   "Work with spec artifacts",
	GroupID: GroupWorkflows,
	Long: `Work with the specification pipeline directly, without planning,
worktrees, or QA.`,
}

var specRunCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Generate spec artifacts for a task",
	Long: `Run the spec pipeline for a task: index the project, grade
complexity, gather context, analyze impact, and write spec.md plus the
phase artifacts into a new spec directory.

Phases whose artifacts already exist are reused unless --force-refresh is
given. No session, worktree, or QA loop is involved.`,
	Example: `  specforge spec run "Refactor the billing module"
  specforge spec run "Fix typo in README" --complexity simple
  specforge spec run "Migrate sessions to Postgres" --force-refresh`,
	Args: cobra.ExactArgs(1),
	RunE: runSpecPipeline,
}

func init() {
	rootCmd.AddCommand(specCmd)
	specCmd.AddCommand(specRunCmd)
	specRunCmd.Flags().BoolP("interactive", "i", false, "Run the requirements phase before complexity assessment")
	specRunCmd.Flags().String("complexity", "", "Override the complexity tier (simple|standard|complex|critical)")
	specRunCmd.Flags().Bool("skip-impact", false, "Skip the impact analysis phase")
	specRunCmd.Flags().Bool("force-refresh", false, "Recompute cached pipeline artifacts")
}

func runSpecPipeline(cmd *cobra.Command, args []string) error {
	task := strings.TrimSpace(args[0])
	if task == "" {
		return clierrors.MissingTaskDescription()
	}

	cfg, err := loadConfiguration(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)
	out := cmd.OutOrStdout()

	if override, _ := cmd.Flags().GetString("complexity"); override != "" {
		if _, err := pipeline.ParseComplexity(override); err != nil {
			return clierrors.NewArgumentError(err.Error(),
				"Valid tiers: simple, standard, complex, critical")
		}
	}

	eng, cleanup, err := buildEngine(cmd, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := commandContext(cmd)
	defer stop()

	output.PrintTaskBanner(out, task)
	state, err := eng.RunSpec(ctx, buildRunRequest(cmd, cfg, task))
	if state != nil {
		printPipelineState(out, state)
	}
	if err != nil {
		return clierrors.Wrap(err, clierrors.Runtime)
	}
	if !state.Successful() {
		return clierrors.NewRuntimeError("spec pipeline failed",
			"Re-run with --force-refresh to recompute cached artifacts",
			"Check artifacts under "+state.SpecDir)
	}
	return nil
}

func printPipelineState(out io.Writer, state *pipeline.State) {
	for _, res := range state.Results {
		label := res.Phase
		if res.Cached {
			label += " (cached)"
		}
		if res.Success() {
			output.PrintSuccess(out, label)
		} else {
			output.PrintFailure(out, label)
			for _, msg := range res.Errors {
				output.PrintDetail(out, msg)
			}
		}
	}
	output.PrintKeyValue(out, "Spec dir", state.SpecDir)
	if state.Assessment != nil {
		output.PrintKeyValue(out, "Complexity", string(state.Assessment.Complexity))
	}
	if state.Impact != nil {
		output.PrintKeyValue(out, "Impact", string(state.Impact.Severity))
	}
	if len(state.Skills) > 0 {
		names := make([]string, 0, len(state.Skills))
		for _, s := range state.Skills {
			names = append(names, s.Metadata.Name)
		}
		output.PrintKeyValue(out, "Skills", strings.Join(names, ", "))
	}
}
