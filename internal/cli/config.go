package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/specforge/specforge/internal/config"
	clierrors "github.com/specforge/specforge/internal/errors"
	"github.com/specforge/specforge/internal/output"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Manage specforge configuration",
	GroupID: GroupConfiguration,
	Long: `Manage specforge configuration settings.

Configuration is loaded with the following priority (highest to lowest):
  1. Environment variables (SPECFORGE_*)
  2. Project config (.specforge/config.yml)
  3. User config (` + "~/.config/specforge/config.yml" + `)
  4. Built-in defaults

'config set' writes to the project config; environment variables still win
at load time.`,
	Example: `  specforge config list
  specforge config get qa.max_iterations
  specforge config set qa.max_iterations 25
  specforge config path`,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the effective value of a config key",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config key in the project config file",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all known config keys with effective values",
	Args:  cobra.NoArgs,
	RunE:  runConfigList,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file locations",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGetCmd, configSetCmd, configListCmd, configPathCmd)
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	if _, err := config.GetKeySchema(key); err != nil {
		return unknownKeyError(err, key)
	}
	cfg, err := loadConfiguration(cmd)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), effectiveValue(cfg, key))
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	parsed, err := config.ValidateValue(key, value)
	if err != nil {
		return unknownKeyError(err, key)
	}

	path := projectConfigTarget(cmd)
	if err := config.SetConfigValue(path, key, value); err != nil {
		return clierrors.WrapWithMessage(err, clierrors.Configuration,
			fmt.Sprintf("writing %s", path))
	}
	output.PrintSuccess(cmd.OutOrStdout(),
		fmt.Sprintf("Set %s = %v in %s", key, parsed.Parsed, path))
	return nil
}

func runConfigList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfiguration(cmd)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(config.KnownKeys))
	for key := range config.KnownKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		schema := config.KnownKeys[key]
		rows = append(rows, []string{
			key,
			effectiveValue(cfg, key),
			fmt.Sprintf("%v", schema.Default),
			schema.Description,
		})
	}

	table := newTable(cmd.OutOrStdout())
	table.Header("KEY", "VALUE", "DEFAULT", "DESCRIPTION")
	table.Bulk(rows)
	table.Render()
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	project := projectConfigTarget(cmd)
	output.PrintKeyValue(out, "Project", annotateExists(project))

	if user, err := config.UserConfigPath(); err == nil {
		output.PrintKeyValue(out, "User", annotateExists(user))
	}
	return nil
}

// projectConfigTarget is the file 'config set' writes: the --config override
// when given, otherwise the project config path.
func projectConfigTarget(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}
	return config.ProjectConfigPath()
}

func annotateExists(path string) string {
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return path + " (not found)"
}

func unknownKeyError(err error, key string) error {
	return clierrors.NewArgumentError(err.Error(),
		"List known keys with: specforge config list",
		fmt.Sprintf("Check the spelling of %q", key))
}

// effectiveValue maps a dotted key to its value on the loaded configuration.
func effectiveValue(cfg *config.Configuration, key string) string {
	switch key {
	case "state_dir":
		return cfg.StateDir
	case "base_branch":
		return cfg.BaseBranch
	case "log.level":
		return cfg.Log.Level
	case "log.format":
		return cfg.Log.Format
	case "worktree.branch_prefix":
		return cfg.Worktree.BranchPrefix
	case "worktree.push_retries":
		return fmt.Sprintf("%d", cfg.Worktree.PushRetries)
	case "session.max_age_hours":
		return fmt.Sprintf("%d", cfg.Session.MaxAgeHours)
	case "pipeline.interactive":
		return fmt.Sprintf("%t", cfg.Pipeline.Interactive)
	case "pipeline.max_retries":
		return fmt.Sprintf("%d", cfg.Pipeline.MaxRetries)
	case "pipeline.skip_impact_analysis":
		return fmt.Sprintf("%t", cfg.Pipeline.SkipImpactAnalysis)
	case "qa.max_iterations":
		return fmt.Sprintf("%d", cfg.QA.MaxIterations)
	case "qa.max_consecutive_errors":
		return fmt.Sprintf("%d", cfg.QA.MaxConsecutiveErrors)
	case "qa.auto_fix":
		return fmt.Sprintf("%t", cfg.QA.AutoFix)
	case "qa.run_tests":
		return fmt.Sprintf("%t", cfg.QA.RunTests)
	case "qa.min_fix_confidence":
		return fmt.Sprintf("%g", cfg.QA.MinFixConfidence)
	case "index.ttl_seconds":
		return fmt.Sprintf("%d", cfg.Index.TTLSeconds)
	default:
		return ""
	}
}
