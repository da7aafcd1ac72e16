package llm

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge/internal/auth"
	clierrors "github.com/specforge/specforge/internal/errors"
)

type stubTokens struct {
	token string
	err   error
}

func (s stubTokens) Token(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.token, nil
}

func (s stubTokens) Source(context.Context) string { return "stub" }

func newTestFactory(t *testing.T) *CLIFactory {
	t.Helper()
	return &CLIFactory{
		ProjectDir: t.TempDir(),
		SpecDir:    t.TempDir(),
		Model:      "sonnet",
		Tokens:     stubTokens{token: "sk-ant-oat01-test"},
		env:        func(string) string { return "" },
	}
}

func TestDefaultAllowedTools(t *testing.T) {
	t.Parallel()

	tools := DefaultAllowedTools()
	assert.Len(t, tools, 12)
	for _, name := range []string{"Read", "Write", "Edit", "Bash", "Task"} {
		assert.Contains(t, tools, name)
	}
}

func TestCLIFactoryNewClient(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t)

	client, err := factory.NewClient(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sonnet", client.Model())
	assert.NoError(t, client.Close())

	cli, ok := client.(*CLIClient)
	require.True(t, ok)
	opts := cli.Options()
	assert.Equal(t, DefaultMaxTurns, opts.MaxTurns)
	assert.Equal(t, DefaultMaxBufferSize, opts.MaxBufferSize)
	assert.True(t, opts.FileCheckpointing)
	assert.Equal(t, factory.ProjectDir, opts.WorkDir)
	assert.Equal(t, DefaultAllowedTools(), opts.AllowedTools)
	assert.Contains(t, opts.Env, auth.EnvOAuthToken+"=sk-ant-oat01-test")
	assert.Contains(t, opts.SystemPrompt, factory.ProjectDir)
	assert.Contains(t, opts.SystemPrompt, "RESTRICTED")
	assert.Empty(t, opts.CLIPath)
}

func TestCLIFactoryWritesSettings(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t)

	client, err := factory.NewClient(context.Background())
	require.NoError(t, err)

	path := client.(*CLIClient).Options().SettingsPath
	assert.Equal(t, filepath.Join(factory.ProjectDir, SettingsFileName), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var settings Settings
	require.NoError(t, json.Unmarshal(data, &settings))
	assert.True(t, settings.Sandbox.Enabled)
	assert.True(t, settings.Sandbox.AutoAllowBashIfSandboxed)
	assert.Equal(t, "acceptEdits", settings.Permissions.DefaultMode)

	allow := settings.Permissions.Allow
	assert.Equal(t, "Read(./**)", allow[0])
	assert.Equal(t, "WebSearch(*)", allow[len(allow)-1])
	assert.Contains(t, allow, "Bash(*)")
	assert.Contains(t, allow, "Write("+factory.ProjectDir+"/**)")
	assert.Contains(t, allow, "Write("+factory.SpecDir+"/**)")
	assert.NotContains(t, allow, "Bash("+factory.SpecDir+"/**)")
}

func TestCLIFactoryNoSpecDir(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t)
	specDir := factory.SpecDir
	factory.SpecDir = ""

	client, err := factory.NewClient(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(client.(*CLIClient).Options().SettingsPath)
	require.NoError(t, err)

	var settings Settings
	require.NoError(t, json.Unmarshal(data, &settings))
	assert.NotContains(t, settings.Permissions.Allow, "Read("+specDir+"/**)")
	assert.Contains(t, settings.Permissions.Allow, "Bash(*)")
}

func TestCLIFactoryNoToken(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t)
	factory.Tokens = stubTokens{err: auth.ErrNoToken}

	_, err := factory.NewClient(context.Background())
	require.Error(t, err)

	cliErr := clierrors.AsCLIError(err)
	require.NotNil(t, cliErr)
	assert.Equal(t, clierrors.Prerequisite, cliErr.Category)

	// Nothing should be written when authentication fails.
	assert.NoFileExists(t, filepath.Join(factory.ProjectDir, SettingsFileName))
}

func TestCLIFactoryProjectDirRequired(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t)
	factory.ProjectDir = ""

	_, err := factory.NewClient(context.Background())
	require.ErrorContains(t, err, "project directory")
}

func TestCLIFactoryProjectInstructions(t *testing.T) {
	t.Parallel()

	t.Run("appended when opted in", func(t *testing.T) {
		t.Parallel()

		factory := newTestFactory(t)
		factory.env = func(name string) string {
			if name == EnvUseProjectInstructions {
				return "true"
			}
			return ""
		}
		instructions := "Always run make lint before committing."
		require.NoError(t, os.WriteFile(
			filepath.Join(factory.ProjectDir, ProjectInstructionsFile),
			[]byte(instructions), 0o644))

		client, err := factory.NewClient(context.Background())
		require.NoError(t, err)

		prompt := client.(*CLIClient).Options().SystemPrompt
		assert.Contains(t, prompt, "# Project Instructions")
		assert.Contains(t, prompt, instructions)
	})

	t.Run("skipped when file missing", func(t *testing.T) {
		t.Parallel()

		factory := newTestFactory(t)
		factory.env = func(name string) string {
			if name == EnvUseProjectInstructions {
				return "true"
			}
			return ""
		}

		client, err := factory.NewClient(context.Background())
		require.NoError(t, err)
		assert.NotContains(t, client.(*CLIClient).Options().SystemPrompt, "# Project Instructions")
	})

	t.Run("skipped without opt-in", func(t *testing.T) {
		t.Parallel()

		factory := newTestFactory(t)
		require.NoError(t, os.WriteFile(
			filepath.Join(factory.ProjectDir, ProjectInstructionsFile),
			[]byte("instructions"), 0o644))

		client, err := factory.NewClient(context.Background())
		require.NoError(t, err)
		assert.NotContains(t, client.(*CLIClient).Options().SystemPrompt, "# Project Instructions")
	})
}

func TestCLIFactoryCLIPathOverride(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		path func(t *testing.T) string
		want bool
	}{
		"regular file accepted": {
			path: func(t *testing.T) string {
				p := filepath.Join(t.TempDir(), "tool")
				require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"), 0o755))
				return p
			},
			want: true,
		},
		"directory rejected": {
			path: func(t *testing.T) string { return t.TempDir() },
			want: false,
		},
		"missing path rejected": {
			path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent") },
			want: false,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			override := tc.path(t)
			factory := newTestFactory(t)
			factory.env = func(name string) string {
				if name == EnvCLIPath {
					return override
				}
				return ""
			}

			client, err := factory.NewClient(context.Background())
			require.NoError(t, err)

			got := client.(*CLIClient).Options().CLIPath
			if tc.want {
				assert.Equal(t, override, got)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestCLIFactoryCancelled(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := factory.NewClient(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
