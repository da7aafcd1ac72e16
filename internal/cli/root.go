// Package cli implements the specforge command tree. Commands stay thin:
// they parse flags, load configuration, and hand off to the engine and its
// subsystems. User-facing failures are CLIErrors so every command exits with
// a category, a message, and remediation steps.
package cli

import (
	"github.com/spf13/cobra"

	clierrors "github.com/specforge/specforge/internal/errors"
)

// Command group IDs for help output organization.
const (
	GroupWorkflows     = "workflows"
	GroupManagement    = "management"
	GroupConfiguration = "configuration"
)

var rootCmd = &cobra.Command{
	Use:   "specforge",
	Short: "Autonomous engineering engine: spec, plan, code, QA",
	Long: `specforge takes a task description and drives it end to end: a
specification pipeline grades the task and writes spec artifacts, a planner
decomposes it into an execution plan, an isolated git worktree receives the
changes, and a QA loop reviews and fixes the result until it can sign off.

Every run is recorded as a session under the state directory (.specforge by
default), so progress survives restarts and can be inspected, paused, or
cancelled from another terminal.

Documentation and source: https://github.com/specforge/specforge`,
	Example: `  # Run a task end to end
  specforge run "Add user authentication to the API"

  # Run several tasks concurrently, each in its own worktree
  specforge run "Fix the login redirect" "Add request logging" --max-parallel 2

  # Generate spec artifacts without coding or QA
  specforge spec run "Refactor the billing module"

  # Re-run QA against an existing spec
  specforge qa run --spec 001-add-user-authentication

  # Inspect state
  specforge session list
  specforge worktree list`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupWorkflows, Title: "Workflow Commands:"},
		&cobra.Group{ID: GroupManagement, Title: "Management Commands:"},
		&cobra.Group{ID: GroupConfiguration, Title: "Configuration Commands:"},
	)

	rootCmd.PersistentFlags().String("config", "", "Path to the project config file (default .specforge/config.yml)")
	rootCmd.PersistentFlags().String("state-dir", "", "Override the engine state directory")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}

// Execute runs the root command. Errors are printed with category and
// remediation; the caller decides the exit code.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		clierrors.PrintError(err)
	}
	return err
}
