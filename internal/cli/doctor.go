package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/specforge/specforge/internal/auth"
	"github.com/specforge/specforge/internal/config"
	clierrors "github.com/specforge/specforge/internal/errors"
	"github.com/specforge/specforge/internal/git"
	"github.com/specforge/specforge/internal/output"
)

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	Short:   "Check that specforge can run here",
	GroupID: GroupConfiguration,
	Long: `Check the prerequisites for running specforge in the current
directory: a git repository, the git binary, a writable state directory,
and a resolvable auth token. Each failed check prints remediation steps.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// doctorCheck is one prerequisite probe. run returns nil when satisfied.
type doctorCheck struct {
	name string
	run  func(ctx context.Context, cfg *config.Configuration, projectDir string) error
}

var doctorChecks = []doctorCheck{
	{name: "git repository", run: checkGitRepository},
	{name: "git binary", run: checkGitBinary},
	{name: "state directory writable", run: checkStateDirWritable},
	{name: "auth token", run: checkAuthToken},
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfiguration(cmd)
	if err != nil {
		return err
	}
	projectDir, err := resolveProjectDir()
	if err != nil {
		return err
	}

	ctx, stop := commandContext(cmd)
	defer stop()

	out := cmd.OutOrStdout()
	failed := 0
	for _, check := range doctorChecks {
		if err := check.run(ctx, cfg, projectDir); err != nil {
			failed++
			output.PrintFailure(out, check.name)
			if cliErr := clierrors.AsCLIError(err); cliErr != nil {
				output.PrintDetail(out, cliErr.Message)
				for _, step := range cliErr.Remediation {
					output.PrintDetail(out, "- "+step)
				}
			} else {
				output.PrintDetail(out, err.Error())
			}
			continue
		}
		output.PrintSuccess(out, check.name)
	}

	if failed > 0 {
		return clierrors.NewPrerequisiteError(
			fmt.Sprintf("%d of %d checks failed", failed, len(doctorChecks)))
	}
	output.PrintDetail(out, "all checks passed")
	return nil
}

func checkGitRepository(ctx context.Context, cfg *config.Configuration, projectDir string) error {
	if !git.IsRepository(projectDir) {
		return clierrors.GitNotRepository()
	}
	return nil
}

func checkGitBinary(ctx context.Context, cfg *config.Configuration, projectDir string) error {
	if _, err := exec.LookPath("git"); err != nil {
		return clierrors.NewPrerequisiteError(
			"git binary not found on PATH",
			"Install git: https://git-scm.com/downloads")
	}
	return nil
}

func checkStateDirWritable(ctx context.Context, cfg *config.Configuration, projectDir string) error {
	stateDir := resolveStateDir(projectDir, cfg)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return clierrors.StateDirNotWritable(stateDir, err)
	}
	probe := filepath.Join(stateDir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok\n"), 0o644); err != nil {
		return clierrors.StateDirNotWritable(stateDir, err)
	}
	return os.Remove(probe)
}

func checkAuthToken(ctx context.Context, cfg *config.Configuration, projectDir string) error {
	ctx, cancel := context.WithTimeout(ctx, auth.KeychainTimeout)
	defer cancel()

	provider := &auth.ChainProvider{}
	if _, err := auth.RequireToken(ctx, provider); err != nil {
		return err
	}
	return nil
}
