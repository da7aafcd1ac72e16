package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	clierrors "github.com/specforge/specforge/internal/errors"
	"github.com/specforge/specforge/internal/output"
	"github.com/specforge/specforge/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	Short:   "Inspect and control engine sessions",
	GroupID: GroupManagement,
	Long: `Inspect and control the sessions recorded under the state
directory. Every 'specforge run' creates one session per task; sessions
survive restarts and can be paused, resumed, or cancelled from another
terminal while a run is in flight.`,
}

var sessionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List recorded sessions, newest first",
	Args:    cobra.NoArgs,
	RunE:    runSessionList,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

var sessionPauseCmd = &cobra.Command{
	Use:   "pause <session-id>",
	Short: "Pause an in-progress session",
	Args:  cobra.ExactArgs(1),
	RunE:  sessionTransition("paused", pauseSession),
}

var sessionResumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a paused session",
	Args:  cobra.ExactArgs(1),
	RunE:  sessionTransition("resumed", resumeSession),
}

var sessionCancelCmd = &cobra.Command{
	Use:   "cancel <session-id>",
	Short: "Cancel a non-terminal session",
	Args:  cobra.ExactArgs(1),
	RunE:  sessionTransition("cancelled", cancelSession),
}

func pauseSession(o *sessionOps, id string) (*session.Session, error) {
	return o.orch.Pause(o.ctx, id)
}

func resumeSession(o *sessionOps, id string) (*session.Session, error) {
	return o.orch.Resume(o.ctx, id)
}

func cancelSession(o *sessionOps, id string) (*session.Session, error) {
	return o.orch.Cancel(o.ctx, id)
}

var sessionCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Force-fail sessions older than the configured max age",
	Long: `Force-fail non-terminal sessions that have exceeded
session.max_age_hours. Each cleaned session is marked failed with the
result "Session timed out".`,
	Args: cobra.NoArgs,
	RunE: runSessionClean,
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionPauseCmd,
		sessionResumeCmd, sessionCancelCmd, sessionCleanCmd)
	sessionListCmd.Flags().Int("limit", 20, "Maximum sessions to list (0 = all)")
}

func runSessionList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfiguration(cmd)
	if err != nil {
		return err
	}
	orch, err := newOrchestrator(cfg, newLogger(cmd, cfg))
	if err != nil {
		return err
	}

	limit, _ := cmd.Flags().GetInt("limit")
	sessions, err := orch.Store().Recent(limit)
	if err != nil {
		return clierrors.Wrap(err, clierrors.Runtime)
	}
	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions recorded")
		return nil
	}

	rows := make([][]string, 0, len(sessions))
	for _, sess := range sessions {
		rows = append(rows, []string{
			shortID(sess.ID),
			string(sess.Status),
			string(sess.Phase),
			formatAge(time.Since(sess.CreatedAt)),
			truncate(sess.TaskDescription, 48),
		})
	}

	table := newTable(out)
	table.Header("ID", "STATUS", "PHASE", "AGE", "TASK")
	table.Bulk(rows)
	table.Render()
	return nil
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfiguration(cmd)
	if err != nil {
		return err
	}
	orch, err := newOrchestrator(cfg, newLogger(cmd, cfg))
	if err != nil {
		return err
	}

	ctx, stop := commandContext(cmd)
	defer stop()

	id, err := expandSessionID(orch, args[0])
	if err != nil {
		return err
	}
	sess, err := orch.Get(ctx, id)
	if err != nil {
		return clierrors.SessionNotFound(args[0])
	}

	out := cmd.OutOrStdout()
	output.PrintKeyValue(out, "Session", sess.ID)
	output.PrintKeyValue(out, "Task", sess.TaskDescription)
	output.PrintKeyValue(out, "Status", string(sess.Status))
	output.PrintKeyValue(out, "Phase", string(sess.Phase))
	output.PrintKeyValue(out, "Created", sess.CreatedAt.Format(time.RFC3339))
	if sess.StartedAt != nil {
		output.PrintKeyValue(out, "Duration", sess.Duration().Round(time.Second).String())
	}
	if sess.SpecID != "" {
		output.PrintKeyValue(out, "Spec", sess.SpecID)
	}
	if sess.Result != "" {
		output.PrintKeyValue(out, "Result", sess.Result)
	}
	if sess.Metrics != nil {
		output.PrintKeyValue(out, "Iterations", fmt.Sprintf("%d", sess.Metrics.Iterations))
		output.PrintKeyValue(out, "Files", fmt.Sprintf("%d modified", sess.Metrics.FilesModified))
	}
	if len(sess.Artifacts) > 0 {
		names := make([]string, 0, len(sess.Artifacts))
		for name := range sess.Artifacts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			output.PrintKeyValue(out, name, fmt.Sprintf("%v", sess.Artifacts[name]))
		}
	}
	output.PrintKeyValue(out, "Messages", fmt.Sprintf("%d", len(sess.Messages)))
	for _, rec := range sess.Errors {
		output.PrintDetail(out, fmt.Sprintf("[%s] %s: %s", rec.Severity, rec.Phase, rec.Message))
	}
	return nil
}

// sessionOps carries everything a lifecycle transition needs.
type sessionOps struct {
	ctx  context.Context
	orch *session.Orchestrator
}

// sessionTransition builds a RunE that loads the orchestrator, applies the
// transition, and reports the new state.
func sessionTransition(verb string, apply func(*sessionOps, string) (*session.Session, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfiguration(cmd)
		if err != nil {
			return err
		}
		orch, err := newOrchestrator(cfg, newLogger(cmd, cfg))
		if err != nil {
			return err
		}

		ctx, stop := commandContext(cmd)
		defer stop()

		id, err := expandSessionID(orch, args[0])
		if err != nil {
			return err
		}
		sess, err := apply(&sessionOps{ctx: ctx, orch: orch}, id)
		if err != nil {
			return clierrors.WrapWithMessage(err, clierrors.Runtime,
				fmt.Sprintf("session %s could not be %s", shortID(id), verb))
		}
		output.PrintSuccess(cmd.OutOrStdout(),
			fmt.Sprintf("Session %s %s (status: %s)", shortID(sess.ID), verb, sess.Status))
		return nil
	}
}

func runSessionClean(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfiguration(cmd)
	if err != nil {
		return err
	}
	orch, err := newOrchestrator(cfg, newLogger(cmd, cfg))
	if err != nil {
		return err
	}

	ctx, stop := commandContext(cmd)
	defer stop()

	cleaned, err := orch.CleanupStale(ctx, cfg.Session.MaxAge())
	if err != nil {
		return clierrors.Wrap(err, clierrors.Runtime)
	}
	out := cmd.OutOrStdout()
	if len(cleaned) == 0 {
		fmt.Fprintln(out, "No stale sessions")
		return nil
	}
	for _, id := range cleaned {
		output.PrintDetail(out, "failed stale session "+shortID(id))
	}
	output.PrintSuccess(out, fmt.Sprintf("Cleaned %d stale sessions", len(cleaned)))
	return nil
}

// expandSessionID resolves a unique ID prefix against the stored sessions,
// so 'session show 3f2a91d0' works without the full UUID.
func expandSessionID(orch *session.Orchestrator, ref string) (string, error) {
	ids, err := orch.Store().List()
	if err != nil {
		return "", clierrors.Wrap(err, clierrors.Runtime)
	}
	var matches []string
	for _, id := range ids {
		if id == ref {
			return id, nil
		}
		if strings.HasPrefix(id, ref) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", clierrors.SessionNotFound(ref)
	default:
		return "", clierrors.NewArgumentError(
			fmt.Sprintf("session ID prefix %q is ambiguous (%d matches)", ref, len(matches)),
			"Use a longer prefix or the full ID from: specforge session list")
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
