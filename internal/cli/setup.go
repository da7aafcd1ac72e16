package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/specforge/specforge/internal/config"
	"github.com/specforge/specforge/internal/engine"
	clierrors "github.com/specforge/specforge/internal/errors"
	"github.com/specforge/specforge/internal/git"
	"github.com/specforge/specforge/internal/index"
	"github.com/specforge/specforge/internal/llm"
	"github.com/specforge/specforge/internal/logging"
	"github.com/specforge/specforge/internal/session"
	"github.com/specforge/specforge/internal/skills"
	"github.com/specforge/specforge/internal/worktree"
)

// commandContext derives a context that cancels on SIGINT or SIGTERM, so a
// Ctrl-C lands sessions in "cancelled" instead of killing the process with
// half-written state.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// loadConfiguration loads layered config and applies the persistent
// overrides every command honors.
func loadConfiguration(cmd *cobra.Command) (*config.Configuration, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, clierrors.WrapWithMessage(err, clierrors.Configuration,
			"loading configuration",
			"Validate the file with: specforge config list",
			"Reset a bad key with: specforge config set <key> <value>")
	}
	if stateDir, _ := cmd.Flags().GetString("state-dir"); stateDir != "" {
		cfg.StateDir = stateDir
	}
	return cfg, nil
}

// newLogger builds the command logger from config, with --debug forcing the
// debug level regardless of config.
func newLogger(cmd *cobra.Command, cfg *config.Configuration) *slog.Logger {
	level := cfg.Log.Level
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		level = "debug"
	}
	return logging.New(logging.Options{Level: level, Format: cfg.Log.Format})
}

// resolveProjectDir returns the enclosing repository root when inside one,
// otherwise the working directory. Commands that strictly require a
// repository check for themselves.
func resolveProjectDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", clierrors.Wrap(err, clierrors.Runtime)
	}
	if root, err := git.RepositoryRoot(cwd); err == nil {
		return root, nil
	}
	return cwd, nil
}

// resolveStateDir resolves the configured state directory against the
// project root unless it is already absolute.
func resolveStateDir(projectDir string, cfg *config.Configuration) string {
	state := cfg.StateDir
	if state == "" {
		state = ".specforge"
	}
	if !filepath.IsAbs(state) {
		state = filepath.Join(projectDir, state)
	}
	return state
}

// buildEngine wires a fully equipped engine: layered config, index cache
// with fsnotify invalidation, skill packs from the state directory, and the
// CLI-backed client factory. The returned closer releases the cache watcher.
func buildEngine(cmd *cobra.Command, cfg *config.Configuration, logger *slog.Logger, extra ...engine.Option) (*engine.Engine, func(), error) {
	projectDir, err := resolveProjectDir()
	if err != nil {
		return nil, nil, err
	}
	stateDir := resolveStateDir(projectDir, cfg)

	cache, err := index.New(index.WithTTL(cfg.Index.TTL()), index.WithLogger(logger))
	if err != nil {
		return nil, nil, clierrors.WrapWithMessage(err, clierrors.Runtime, "starting index cache")
	}

	registry := skills.NewRegistry(
		skills.NewLoader(filepath.Join(stateDir, "skills")),
		skills.WithLogger(logger),
	)

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithIndexCache(cache),
		engine.WithSkillRegistry(registry),
		engine.WithClientFactory(&llm.CLIFactory{ProjectDir: projectDir, Logger: logger}),
	}
	opts = append(opts, extra...)

	eng, err := engine.New(projectDir, cfg, opts...)
	if err != nil {
		cache.Close()
		return nil, nil, clierrors.Wrap(err, clierrors.Runtime)
	}
	return eng, func() { cache.Close() }, nil
}

// newOrchestrator builds a session orchestrator over the state directory
// for lifecycle commands that do not need a full engine.
func newOrchestrator(cfg *config.Configuration, logger *slog.Logger) (*session.Orchestrator, error) {
	projectDir, err := resolveProjectDir()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(resolveStateDir(projectDir, cfg), "sessions")
	return session.NewOrchestrator(dir, session.WithLogger(logger)), nil
}

// newWorktreeManager builds a worktree manager for the enclosing repository.
func newWorktreeManager(cmd *cobra.Command, cfg *config.Configuration, logger *slog.Logger) (worktree.Manager, error) {
	projectDir, err := resolveProjectDir()
	if err != nil {
		return nil, err
	}
	if !git.IsRepository(projectDir) {
		return nil, clierrors.GitNotRepository()
	}
	return worktree.NewManager(worktree.Config{
		ProjectDir:   projectDir,
		StateDir:     cfg.StateDir,
		BranchPrefix: cfg.Worktree.BranchPrefix,
		BaseBranch:   cfg.BaseBranch,
		PushRetries:  cfg.Worktree.PushRetries,
	}, worktree.WithLogger(logger), worktree.WithStdout(cmd.OutOrStdout())), nil
}

// resolveSpecDir turns a --spec value into an existing spec directory. Bare
// names resolve under <state>/specs; absolute and relative paths are used
// as given.
func resolveSpecDir(cfg *config.Configuration, ref string) (string, error) {
	projectDir, err := resolveProjectDir()
	if err != nil {
		return "", err
	}
	specsDir := filepath.Join(resolveStateDir(projectDir, cfg), "specs")

	candidates := []string{ref}
	if !filepath.IsAbs(ref) {
		candidates = []string{filepath.Join(specsDir, ref), ref}
	}
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	return "", clierrors.SpecNotFound(ref, specsDir)
}
