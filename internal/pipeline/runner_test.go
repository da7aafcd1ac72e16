package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge/internal/index"
	"github.com/specforge/specforge/internal/skills"
)

// newPipelineProject creates a minimal python project with a state dir
// nested inside it, the default layout for single-repo installs.
func newPipelineProject(t *testing.T) (string, Config) {
	t.Helper()

	project := t.TempDir()
	writeFile(t, project, "README.md", "# demo project\n")
	writeFile(t, project, "app.py", "print(\"hello\")\n")

	cfg := Config{
		ProjectDir: project,
		StateDir:   filepath.Join(project, ".specforge"),
	}
	return project, cfg
}

func phaseResultFor(t *testing.T, st *State, phase string) PhaseResult {
	t.Helper()

	for _, res := range st.Results {
		if res.Phase == phase {
			return res
		}
	}
	t.Fatalf("no result recorded for phase %q", phase)
	return PhaseResult{}
}

func TestRunner_Run_SimpleTask(t *testing.T) {
	t.Parallel()

	_, cfg := newPipelineProject(t)

	r := NewRunner(cfg)
	state, err := r.Run(context.Background(), "fix typo in README")
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.True(t, state.Successful())
	assert.Equal(t, []string{PhaseDiscovery, PhaseComplexity, PhaseQuickSpec, PhaseValidation}, state.Executed)
	assert.Equal(t, "001-fix-typo-in-readme", filepath.Base(state.SpecDir))
	assert.False(t, state.StartedAt.IsZero())
	assert.False(t, state.CompletedAt.IsZero())

	require.NotNil(t, state.Index)
	require.NotNil(t, state.Assessment)
	assert.Equal(t, ComplexitySimple, state.Assessment.Complexity)

	for _, res := range state.Results {
		assert.True(t, res.Success(), "phase %s should succeed", res.Phase)
		assert.NotEmpty(t, res.Phase)
	}

	// Artifacts land in the spec dir, and discovery publishes the index to
	// the shared state dir for later runs.
	assert.FileExists(t, filepath.Join(state.SpecDir, ProjectIndexFile))
	assert.FileExists(t, filepath.Join(state.SpecDir, AssessmentFile))
	assert.FileExists(t, filepath.Join(state.SpecDir, SpecFile))
	assert.FileExists(t, filepath.Join(cfg.StateDir, ProjectIndexFile))
}

func TestRunner_Resume_ReusesCachedArtifacts(t *testing.T) {
	t.Parallel()

	_, cfg := newPipelineProject(t)
	task := "fix typo in README"

	first, err := NewRunner(cfg).Run(context.Background(), task)
	require.NoError(t, err)

	specPath := filepath.Join(first.SpecDir, SpecFile)
	before, err := os.ReadFile(specPath)
	require.NoError(t, err)

	second, err := NewRunner(cfg).Resume(context.Background(), task, first.SpecDir)
	require.NoError(t, err)

	assert.True(t, second.Successful())
	assert.True(t, phaseResultFor(t, second, PhaseDiscovery).Cached)
	assert.True(t, phaseResultFor(t, second, PhaseComplexity).Cached)
	assert.True(t, phaseResultFor(t, second, PhaseQuickSpec).Cached)

	// A fully artifacted rerun must leave the spec document untouched.
	after, err := os.ReadFile(specPath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestRunner_Run_ReusesSharedIndex(t *testing.T) {
	t.Parallel()

	_, cfg := newPipelineProject(t)
	task := "fix typo in README"

	_, err := NewRunner(cfg).Run(context.Background(), task)
	require.NoError(t, err)

	// A second run gets a fresh spec dir but inherits the shared index.
	second, err := NewRunner(cfg).Run(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, "002-fix-typo-in-readme", filepath.Base(second.SpecDir))
	assert.True(t, phaseResultFor(t, second, PhaseDiscovery).Cached)
	assert.FileExists(t, filepath.Join(second.SpecDir, ProjectIndexFile))

	refreshCfg := cfg
	refreshCfg.ForceRefresh = true
	third, err := NewRunner(refreshCfg).Run(context.Background(), task)
	require.NoError(t, err)

	assert.False(t, phaseResultFor(t, third, PhaseDiscovery).Cached)
}

func TestRunner_Run_WithCache(t *testing.T) {
	t.Parallel()

	_, cfg := newPipelineProject(t)
	task := "fix typo in README"

	cache, err := index.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	_, err = NewRunner(cfg, WithCache(cache)).Run(context.Background(), task)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(cfg.StateDir, ProjectIndexFile))

	second, err := NewRunner(cfg, WithCache(cache)).Run(context.Background(), task)
	require.NoError(t, err)

	assert.True(t, phaseResultFor(t, second, PhaseDiscovery).Cached)
}

func TestRunner_Run_InteractiveCollectsRequirements(t *testing.T) {
	t.Parallel()

	_, cfg := newPipelineProject(t)
	cfg.Interactive = true

	state, err := NewRunner(cfg).Run(context.Background(), "fix typo in README")
	require.NoError(t, err)

	assert.True(t, state.Successful())
	assert.Equal(t, []string{
		PhaseDiscovery,
		PhaseRequirements,
		PhaseComplexity,
		PhaseQuickSpec,
		PhaseValidation,
	}, state.Executed)

	require.NotNil(t, state.Requirements)
	assert.Equal(t, WorkflowBugfix, state.Requirements.WorkflowType)
	assert.FileExists(t, filepath.Join(state.SpecDir, RequirementsFile))
}

func TestRunner_Run_StandardPipeline(t *testing.T) {
	t.Parallel()

	_, cfg := newPipelineProject(t)

	state, err := NewRunner(cfg).Run(context.Background(), "add a contact form page")
	require.NoError(t, err)

	assert.True(t, state.Successful())
	require.NotNil(t, state.Assessment)
	assert.Equal(t, ComplexityStandard, state.Assessment.Complexity)

	// The planning phase has no local implementation and is skipped
	// without recording a result.
	assert.Equal(t, []string{
		PhaseDiscovery,
		PhaseComplexity,
		PhaseRequirements,
		PhaseContext,
		PhaseSpecWriting,
		PhaseValidation,
	}, state.Executed)

	assert.FileExists(t, filepath.Join(state.SpecDir, RequirementsFile))
	assert.FileExists(t, filepath.Join(state.SpecDir, ContextFile))
	assert.FileExists(t, filepath.Join(state.SpecDir, SpecFile))
}

func TestRunner_Run_SkipImpactAnalysis(t *testing.T) {
	t.Parallel()

	task := "integrate stripe payments with the backend api"

	_, cfg := newPipelineProject(t)
	full, err := NewRunner(cfg).Run(context.Background(), task)
	require.NoError(t, err)

	require.NotNil(t, full.Assessment)
	assert.Equal(t, ComplexityComplex, full.Assessment.Complexity)
	assert.Contains(t, full.Executed, PhaseImpact)
	assert.FileExists(t, filepath.Join(full.SpecDir, ImpactFile))

	_, skipCfg := newPipelineProject(t)
	skipCfg.SkipImpactAnalysis = true
	skipped, err := NewRunner(skipCfg).Run(context.Background(), task)
	require.NoError(t, err)

	assert.True(t, skipped.Successful())
	assert.NotContains(t, skipped.Executed, PhaseImpact)
	assert.NoFileExists(t, filepath.Join(skipped.SpecDir, ImpactFile))
}

func TestRunner_Run_ComplexityOverride(t *testing.T) {
	t.Parallel()

	_, cfg := newPipelineProject(t)
	cfg.ComplexityOverride = "simple"

	state, err := NewRunner(cfg).Run(context.Background(), "integrate stripe payments with the backend api")
	require.NoError(t, err)

	assert.True(t, state.Successful())
	require.NotNil(t, state.Assessment)
	assert.Equal(t, ComplexitySimple, state.Assessment.Complexity)
	assert.Equal(t, 1.0, state.Assessment.Confidence)
	assert.Equal(t, "Manual override: simple", state.Assessment.Reasoning)
	assert.Equal(t, []string{PhaseDiscovery, PhaseComplexity, PhaseQuickSpec, PhaseValidation}, state.Executed)
}

func TestRunner_Run_InvalidOverrideStopsPipeline(t *testing.T) {
	t.Parallel()

	_, cfg := newPipelineProject(t)
	cfg.ComplexityOverride = "extreme"

	state, err := NewRunner(cfg).Run(context.Background(), "fix typo in README")
	require.NoError(t, err)

	assert.False(t, state.Successful())
	assert.Equal(t, []string{PhaseDiscovery, PhaseComplexity}, state.Executed)

	res := phaseResultFor(t, state, PhaseComplexity)
	assert.Equal(t, StatusFailed, res.Status)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "invalid complexity")
}

func TestRunner_Resume_HaltsOnFailedPhase(t *testing.T) {
	t.Parallel()

	_, cfg := newPipelineProject(t)
	specDir := filepath.Join(cfg.StateDir, "specs", "001-fix-typo-in-readme")

	// A directory where the spec document should go makes spec writing
	// fail deterministically on every attempt.
	require.NoError(t, os.MkdirAll(filepath.Join(specDir, SpecFile), 0o755))

	r := NewRunner(cfg, WithRetryDelay(time.Millisecond))
	state, err := r.Resume(context.Background(), "fix typo in README", specDir)
	require.NoError(t, err)

	assert.False(t, state.Successful())
	assert.Equal(t, []string{PhaseDiscovery, PhaseComplexity, PhaseQuickSpec}, state.Executed)

	res := phaseResultFor(t, state, PhaseQuickSpec)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, DefaultMaxRetries, res.Retries)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "writing spec document")
}

func TestRunner_Resume_ValidationFailureDoesNotHalt(t *testing.T) {
	t.Parallel()

	_, cfg := newPipelineProject(t)
	specDir := filepath.Join(cfg.StateDir, "specs", "001-audit")
	require.NoError(t, os.MkdirAll(specDir, 0o755))

	// Seed an assessment whose recommended order runs validation before
	// the spec exists. Validation must report failure without stopping
	// the remaining phases.
	require.NoError(t, SaveAssessment(specDir, &ComplexityAssessment{
		Complexity:        ComplexityStandard,
		RecommendedPhases: []string{PhaseValidation, PhaseQuickSpec},
	}))

	state, err := NewRunner(cfg).Resume(context.Background(), "add a contact form page", specDir)
	require.NoError(t, err)

	assert.False(t, state.Successful())
	assert.Equal(t, []string{PhaseDiscovery, PhaseComplexity, PhaseValidation, PhaseQuickSpec}, state.Executed)
	assert.True(t, phaseResultFor(t, state, PhaseComplexity).Cached)

	res := phaseResultFor(t, state, PhaseValidation)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Len(t, res.Errors, 3)
	assert.Contains(t, res.Errors[0], ContextFile)

	assert.True(t, phaseResultFor(t, state, PhaseQuickSpec).Success())
	assert.FileExists(t, filepath.Join(specDir, SpecFile))
}

func TestRunner_Run_Cancelled(t *testing.T) {
	t.Parallel()

	project := t.TempDir()
	writeFile(t, project, "src/app.py", "print(\"hello\")\n")
	cfg := Config{
		ProjectDir: project,
		StateDir:   filepath.Join(project, ".specforge"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := NewRunner(cfg).Run(ctx, "fix typo in README")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	require.NotNil(t, state)
	assert.Empty(t, state.Executed)
	assert.Empty(t, state.Results)
}

func TestRunner_RunPhaseFn_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	r := NewRunner(Config{}, WithRetryDelay(time.Millisecond))
	r.state = &State{StartedAt: time.Now()}

	attempts := 0
	fn := func(context.Context) (PhaseResult, error) {
		attempts++
		if attempts < 3 {
			return PhaseResult{}, errors.New("flaky io")
		}
		return PhaseResult{Status: StatusCompleted}, nil
	}

	res, err := r.runPhaseFn(context.Background(), PhaseDiscovery, fn)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, PhaseDiscovery, res.Phase)
	assert.Equal(t, 2, res.Retries)
	assert.Equal(t, 3, attempts)
	require.Len(t, r.state.Results, 1)
	assert.Equal(t, []string{PhaseDiscovery}, r.state.Executed)
}

func TestRunner_RunPhaseFn_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	r := NewRunner(Config{MaxRetries: 1}, WithRetryDelay(time.Millisecond))
	r.state = &State{StartedAt: time.Now()}

	attempts := 0
	fn := func(context.Context) (PhaseResult, error) {
		attempts++
		return PhaseResult{}, errors.New("persistent failure")
	}

	res, err := r.runPhaseFn(context.Background(), PhaseContext, fn)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, []string{"persistent failure"}, res.Errors)
	assert.Equal(t, 1, res.Retries)
	assert.Equal(t, 2, attempts)
	require.Len(t, r.state.Results, 1)
}

func TestRunner_RunPhaseFn_NegativeMaxRetriesDisablesRetry(t *testing.T) {
	t.Parallel()

	r := NewRunner(Config{MaxRetries: -1})
	r.state = &State{StartedAt: time.Now()}

	attempts := 0
	fn := func(context.Context) (PhaseResult, error) {
		attempts++
		return PhaseResult{}, errors.New("boom")
	}

	res, err := r.runPhaseFn(context.Background(), PhaseDiscovery, fn)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 0, res.Retries)
	assert.Equal(t, 1, attempts)
}

func TestRunner_RunPhaseFn_CancelledBetweenAttempts(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	r := NewRunner(Config{}, WithRetryDelay(time.Millisecond))
	r.state = &State{StartedAt: time.Now()}

	fn := func(context.Context) (PhaseResult, error) {
		cancel()
		return PhaseResult{}, errors.New("boom")
	}

	_, err := r.runPhaseFn(ctx, PhaseContext, fn)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, r.state.Results)
}

func TestConfig_MaxRetries(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		configured int
		want       int
	}{
		"zero uses default": {configured: 0, want: DefaultMaxRetries},
		"negative disables": {configured: -1, want: 0},
		"explicit value":    {configured: 3, want: 3},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg := Config{MaxRetries: tc.configured}
			assert.Equal(t, tc.want, cfg.maxRetries())
		})
	}
}

func TestRunner_Run_WithSkills(t *testing.T) {
	t.Parallel()

	_, cfg := newPipelineProject(t)

	skillsRoot := t.TempDir()
	writeFile(t, skillsRoot, "code-review/SKILL.md", `---
name: code-review
description: Review checklist
applicability: always
---

# Code Review

Check error handling on every change.
`)

	registry := skills.NewRegistry(skills.NewLoader(skillsRoot))
	r := NewRunner(cfg, WithSkills(registry))

	state, err := r.Run(context.Background(), "fix typo in README")
	require.NoError(t, err)

	require.Len(t, state.Skills, 1)
	assert.Equal(t, "code-review", state.Skills[0].Metadata.Name)
	assert.FileExists(t, filepath.Join(state.SpecDir, SkillsFile))

	data, err := os.ReadFile(filepath.Join(state.SpecDir, SpecFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "## Active Skills")
	assert.Contains(t, string(data), "- **code-review**: Review checklist")
}
