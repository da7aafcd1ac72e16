package cli

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/specforge/specforge/internal/config"
	"github.com/specforge/specforge/internal/engine"
	clierrors "github.com/specforge/specforge/internal/errors"
	"github.com/specforge/specforge/internal/output"
	"github.com/specforge/specforge/internal/pipeline"
	"github.com/specforge/specforge/internal/progress"
	"github.com/specforge/specforge/internal/session"
)

var runCmd = &cobra.Command{
	Use:     "run <task> [task...]",
	Short:   "Run tasks end to end: spec, plan, code, QA",
	GroupID: GroupWorkflows,
	Long: `Run one or more task descriptions through the full engine flow.

Each task gets its own session, spec directory, and git worktree. The spec
pipeline grades the task and writes artifacts, the planner produces an
execution plan, and the QA loop reviews and fixes the changes until it can
sign off or escalates.

With several tasks they run concurrently, bounded by --max-parallel. A task
that fails does not stop its siblings.`,
	Example: `  # Single task
  specforge run "Add user authentication to the API"

  # Force the complexity tier and skip impact analysis
  specforge run "Fix typo in README" --complexity simple --skip-impact

  # Three tasks, two at a time
  specforge run "Fix login" "Add logging" "Update deps" --max-parallel 2`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEngine,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolP("interactive", "i", false, "Run the requirements phase before complexity assessment")
	runCmd.Flags().String("complexity", "", "Override the complexity tier (simple|standard|complex|critical)")
	runCmd.Flags().Bool("skip-impact", false, "Skip the impact analysis phase")
	runCmd.Flags().Bool("force-refresh", false, "Recompute cached pipeline artifacts")
	runCmd.Flags().Bool("auto-fix", false, "Apply machine-generated QA fixes automatically")
	runCmd.Flags().Int("max-parallel", engine.DefaultMaxParallel, "Concurrent task limit when running multiple tasks")
}

func runEngine(cmd *cobra.Command, args []string) error {
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
	if cmd.Flags().Changed("auto-fix") {
		cfg.QA.AutoFix, _ = cmd.Flags().GetBool("auto-fix")
	}

	reqs := make([]engine.RunRequest, 0, len(args))
	for _, task := range args {
		if strings.TrimSpace(task) == "" {
			return clierrors.MissingTaskDescription()
		}
		reqs = append(reqs, buildRunRequest(cmd, cfg, task))
	}

	maxParallel, _ := cmd.Flags().GetInt("max-parallel")

	var render engine.EventFunc
	var display *progress.Display
	if len(reqs) == 1 {
		display = progress.NewDisplay(progress.DetectTerminalCapabilities(), progress.WithWriter(out))
		render = newRunRenderer(display).handle
	} else {
		render = newFleetRenderer(out).handle
	}

	eng, cleanup, err := buildEngine(cmd, cfg, logger,
		engine.WithEvents(render),
		engine.WithMaxParallel(maxParallel),
	)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := commandContext(cmd)
	defer stop()

	if len(reqs) == 1 {
		output.PrintTaskBanner(out, reqs[0].Task)
		res, err := eng.Run(ctx, reqs[0])
		display.StopSpinner()
		if err != nil {
			return clierrors.Wrap(err, clierrors.Runtime)
		}
		printRunResult(out, res)
		if !res.Success() {
			return clierrors.NewRuntimeError(res.FailureReason,
				"Inspect the session: specforge session show "+res.SessionID)
		}
		return nil
	}

	results, err := eng.RunAll(ctx, reqs)
	if err != nil {
		return clierrors.Wrap(err, clierrors.Runtime)
	}
	failed := 0
	for _, res := range results {
		output.PrintDivider(out)
		printRunResult(out, res)
		if !res.Success() {
			failed++
		}
	}
	if failed > 0 {
		return clierrors.NewRuntimeError(
			fmt.Sprintf("%d of %d tasks failed", failed, len(results)),
			"Inspect failed sessions: specforge session list")
	}
	return nil
}

// buildRunRequest seeds a request from configuration, then applies explicit
// flag overrides.
func buildRunRequest(cmd *cobra.Command, cfg *config.Configuration, task string) engine.RunRequest {
	req := engine.RunRequest{
		Task:        task,
		Interactive: cfg.Pipeline.Interactive,
		SkipImpact:  cfg.Pipeline.SkipImpactAnalysis,
	}
	if cmd.Flags().Changed("interactive") {
		req.Interactive, _ = cmd.Flags().GetBool("interactive")
	}
	if cmd.Flags().Changed("skip-impact") {
		req.SkipImpact, _ = cmd.Flags().GetBool("skip-impact")
	}
	req.Complexity, _ = cmd.Flags().GetString("complexity")
	req.ForceRefresh, _ = cmd.Flags().GetBool("force-refresh")
	return req
}

func printRunResult(out io.Writer, res *engine.Result) {
	if res.Err != nil {
		output.PrintFailure(out, fmt.Sprintf("Task errored: %s", res.Task))
		output.PrintDetail(out, res.Err.Error())
		return
	}
	if !res.Success() {
		output.PrintFailure(out, fmt.Sprintf("Task failed: %s", res.Task))
		output.PrintDetail(out, res.FailureReason)
		if res.SessionID != "" {
			output.PrintKeyValue(out, "Session", res.SessionID)
		}
		if res.SpecDir != "" {
			output.PrintKeyValue(out, "Spec dir", res.SpecDir)
		}
		return
	}

	output.PrintSuccess(out, fmt.Sprintf("Task completed: %s", res.Task))
	output.PrintKeyValue(out, "Session", res.SessionID)
	output.PrintKeyValue(out, "Spec dir", res.SpecDir)
	if res.Worktree != nil {
		output.PrintKeyValue(out, "Worktree", res.Worktree.Path)
		output.PrintKeyValue(out, "Branch", res.Worktree.Branch)
	}
	if res.Plan != nil {
		output.PrintKeyValue(out, "Plan", fmt.Sprintf("%d tasks in %d phases",
			len(res.Plan.Tasks), len(res.Plan.ExecutionPhases)))
	}
	if res.QA != nil {
		output.PrintKeyValue(out, "QA", fmt.Sprintf("approved after %d iterations", res.QA.Iteration))
	}
}

// Session phases rendered as numbered steps for a single-task run.
var runPhaseNumbers = map[string]int{
	string(session.PhaseInitializing): 1,
	string(session.PhasePlanning):     2,
	string(session.PhaseCoding):       3,
	string(session.PhaseReviewing):    4,
	string(session.PhaseCompleting):   5,
}

const totalRunPhases = 5

// runRenderer drives a phase display from engine events for a single task.
// Events arrive synchronously from the engine goroutine.
type runRenderer struct {
	mu      sync.Mutex
	display *progress.Display
	current *progress.PhaseInfo
}

func newRunRenderer(display *progress.Display) *runRenderer {
	return &runRenderer{display: display}
}

func (r *runRenderer) handle(ev engine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case engine.EventSessionPhase:
		switch ev.Phase {
		case string(session.PhaseCompleted):
			r.settle(true, ev.Message)
		case string(session.PhaseFailed):
			r.settle(false, ev.Message)
		default:
			num, ok := runPhaseNumbers[ev.Phase]
			if !ok {
				return
			}
			r.settle(true, "")
			info := progress.PhaseInfo{Name: ev.Phase, Number: num, TotalPhases: totalRunPhases}
			r.current = &info
			_ = r.display.StartPhase(info)
		}
	case engine.EventPipelinePhase:
		if r.current != nil {
			r.display.UpdateDetail(*r.current, ev.Phase+": "+ev.Message)
		}
	case engine.EventQAIteration:
		if r.current != nil {
			detail := ev.Message
			if detail == "" {
				detail = ev.Phase
			}
			r.display.UpdateDetail(*r.current, detail)
		}
	}
}

// settle closes out the active phase line, if any.
func (r *runRenderer) settle(ok bool, detail string) {
	if r.current == nil {
		return
	}
	info := *r.current
	r.current = nil
	if ok {
		info.Detail = detail
		_ = r.display.CompletePhase(info)
		return
	}
	var cause error
	if detail != "" {
		cause = errors.New(detail)
	}
	_ = r.display.FailPhase(info, cause)
}

// fleetRenderer prints slug-prefixed event lines when several tasks share
// one terminal. A spinner per task would interleave; plain lines do not.
type fleetRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

func newFleetRenderer(out io.Writer) *fleetRenderer {
	return &fleetRenderer{out: out}
}

func (r *fleetRenderer) handle(ev engine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slug := filepath.Base(ev.SpecDir)
	switch ev.Kind {
	case engine.EventSessionPhase:
		fmt.Fprintf(r.out, "[%s] %s: %s\n", slug, ev.Phase, ev.Message)
	case engine.EventPipelinePhase:
		fmt.Fprintf(r.out, "[%s] pipeline %s: %s\n", slug, ev.Phase, ev.Message)
	case engine.EventQAIteration:
		fmt.Fprintf(r.out, "[%s] %s\n", slug, ev.Message)
	}
}
