package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/specforge/specforge/internal/auth"
	"github.com/specforge/specforge/internal/logging"
)

// SettingsFileName is written into the project directory for the external
// CLI to pick up sandbox and permission rules.
const SettingsFileName = ".claude_settings.json"

// ProjectInstructionsFile is appended to the system prompt when
// EnvUseProjectInstructions is "true".
const ProjectInstructionsFile = "CLAUDE.md"

// Environment variables honored by the CLI factory. Both belong to the
// external tooling's interface, not this engine's SPECFORGE_ namespace.
const (
	EnvUseProjectInstructions = "USE_CLAUDE_MD"
	EnvCLIPath                = "CLAUDE_CLI_PATH"
)

// Options is the prepared configuration a client was built with.
type Options struct {
	Model             string
	SystemPrompt      string
	AllowedTools      []string
	MaxTurns          int
	MaxThinkingTokens int
	MaxBufferSize     int
	FileCheckpointing bool
	// WorkDir is the directory the client is confined to.
	WorkDir string
	// SettingsPath points at the written security settings document.
	SettingsPath string
	// CLIPath overrides the tool binary when the host sets a valid one.
	CLIPath string
	// Env is the KEY=VALUE passthrough handed to the spawned tool.
	Env []string
}

// Settings is the security settings document the external CLI enforces:
// OS-level bash sandboxing plus filesystem permissions restricted to the
// project and spec directories.
type Settings struct {
	Sandbox     SandboxSettings    `json:"sandbox"`
	Permissions PermissionSettings `json:"permissions"`
}

type SandboxSettings struct {
	Enabled                  bool `json:"enabled"`
	AutoAllowBashIfSandboxed bool `json:"autoAllowBashIfSandboxed"`
}

type PermissionSettings struct {
	DefaultMode string   `json:"defaultMode"`
	Allow       []string `json:"allow"`
}

// CLIFactory builds clients backed by the external code-generation CLI.
// NewClient resolves authentication, writes the security settings document,
// and assembles the system prompt and environment; the conversation itself
// belongs to downstream collaborators.
type CLIFactory struct {
	// ProjectDir is the working directory clients are confined to. Required.
	ProjectDir string
	// SpecDir additionally grants read/write on the spec artifacts. Optional.
	SpecDir string
	// Model is handed through verbatim; empty lets the tool pick its default.
	Model string
	// MaxThinkingTokens enables extended thinking when positive.
	MaxThinkingTokens int
	// Tokens resolves the OAuth token. Nil uses the standard chain.
	Tokens auth.TokenProvider
	// Logger receives preparation debug lines. Nil discards.
	Logger *slog.Logger

	env func(string) string
}

var _ Factory = (*CLIFactory)(nil)

// NewClient prepares a client: token, settings file, system prompt,
// environment, optional CLI path override.
func (f *CLIFactory) NewClient(ctx context.Context) (Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.ProjectDir == "" {
		return nil, fmt.Errorf("llm: project directory required")
	}

	token, err := auth.RequireToken(ctx, f.tokens())
	if err != nil {
		return nil, err
	}

	projectDir, err := filepath.Abs(f.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("llm: resolving project directory: %w", err)
	}
	specDir := f.SpecDir
	if specDir != "" {
		if specDir, err = filepath.Abs(specDir); err != nil {
			return nil, fmt.Errorf("llm: resolving spec directory: %w", err)
		}
	}

	settingsPath := filepath.Join(projectDir, SettingsFileName)
	if err := writeSettings(settingsPath, defaultSettings(projectDir, specDir)); err != nil {
		return nil, err
	}
	f.logger().Debug("wrote client security settings", "path", settingsPath)

	opts := Options{
		Model:             f.Model,
		SystemPrompt:      f.systemPrompt(projectDir),
		AllowedTools:      DefaultAllowedTools(),
		MaxTurns:          DefaultMaxTurns,
		MaxThinkingTokens: f.MaxThinkingTokens,
		MaxBufferSize:     DefaultMaxBufferSize,
		FileCheckpointing: true,
		WorkDir:           projectDir,
		SettingsPath:      settingsPath,
		Env:               append(auth.PassthroughEnv(), auth.EnvOAuthToken+"="+token),
	}

	if cliPath := f.getenv(EnvCLIPath); cliPath != "" {
		if validCLIPath(cliPath) {
			opts.CLIPath = cliPath
			f.logger().Info("using CLI path override", "path", cliPath)
		} else {
			f.logger().Warn("ignoring invalid CLI path override", "path", cliPath)
		}
	}

	return &CLIClient{opts: opts}, nil
}

// systemPrompt confines the client to the project directory and, when the
// host opts in, appends the project's own instructions file.
func (f *CLIFactory) systemPrompt(projectDir string) string {
	prompt := fmt.Sprintf(
		"You are an expert full-stack developer building production-quality software. "+
			"Your working directory is: %s\n"+
			"Your filesystem access is RESTRICTED to this directory only. "+
			"Use relative paths (starting with ./) for all file operations. "+
			"Never use absolute paths or try to access files outside your working directory.\n\n"+
			"You follow existing code patterns, write clean maintainable code, and verify "+
			"your work through thorough testing. You communicate progress through Git commits.",
		projectDir,
	)

	if f.getenv(EnvUseProjectInstructions) != "true" {
		return prompt
	}
	content, err := os.ReadFile(filepath.Join(projectDir, ProjectInstructionsFile))
	if err != nil || len(content) == 0 {
		f.logger().Debug("project instructions not found", "file", ProjectInstructionsFile)
		return prompt
	}
	return prompt + "\n\n# Project Instructions (from " + ProjectInstructionsFile + ")\n\n" + string(content)
}

func (f *CLIFactory) tokens() auth.TokenProvider {
	if f.Tokens != nil {
		return f.Tokens
	}
	return &auth.ChainProvider{Logger: f.Logger}
}

func (f *CLIFactory) getenv(name string) string {
	if f.env != nil {
		return f.env(name)
	}
	return os.Getenv(name)
}

func (f *CLIFactory) logger() *slog.Logger {
	return logging.WithComponent(f.Logger, "llm")
}

// defaultSettings grants tool access to the project tree (relative and
// absolute forms), the spec directory, and unrestricted sandboxed bash.
func defaultSettings(projectDir, specDir string) Settings {
	allow := []string{
		"Read(./**)",
		"Write(./**)",
		"Edit(./**)",
		"Glob(./**)",
		"Grep(./**)",
		"Read(" + projectDir + "/**)",
		"Write(" + projectDir + "/**)",
		"Edit(" + projectDir + "/**)",
		"Glob(" + projectDir + "/**)",
		"Grep(" + projectDir + "/**)",
	}
	if specDir != "" {
		allow = append(allow,
			"Read("+specDir+"/**)",
			"Write("+specDir+"/**)",
			"Edit("+specDir+"/**)",
		)
	}
	allow = append(allow, "Bash(*)", "WebFetch(*)", "WebSearch(*)")

	return Settings{
		Sandbox: SandboxSettings{
			Enabled:                  true,
			AutoAllowBashIfSandboxed: true,
		},
		Permissions: PermissionSettings{
			DefaultMode: "acceptEdits",
			Allow:       allow,
		},
	}
}

func writeSettings(path string, settings Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("llm: marshaling settings: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("llm: writing settings file: %w", err)
	}
	return nil
}

// validCLIPath accepts only an existing regular file.
func validCLIPath(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// CLIClient is the prepared handle CLIFactory hands out.
type CLIClient struct {
	opts Options
}

var _ Client = (*CLIClient)(nil)

func (c *CLIClient) Model() string { return c.opts.Model }

// Options exposes the prepared configuration to code-generation
// collaborators.
func (c *CLIClient) Options() Options { return c.opts }

func (c *CLIClient) Close() error { return nil }
