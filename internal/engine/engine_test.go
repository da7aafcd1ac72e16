package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge/internal/config"
	clierrors "github.com/specforge/specforge/internal/errors"
	"github.com/specforge/specforge/internal/llm"
	"github.com/specforge/specforge/internal/pipeline"
	"github.com/specforge/specforge/internal/plan"
	"github.com/specforge/specforge/internal/session"
	"github.com/specforge/specforge/internal/worktree"
)

const cleanSource = "export function formatGreeting(name: string): string {\n" +
	"  return 'Hello, ' + name;\n" +
	"}\n"

// fakeWorktrees satisfies worktree.Manager with a fixed checkout directory,
// so engine tests never need a real git repository.
type fakeWorktrees struct {
	mu      sync.Mutex
	dir     string
	created []string
	getErr  error
}

func (f *fakeWorktrees) info(slug string) *worktree.Info {
	return &worktree.Info{
		Slug:       slug,
		Path:       f.dir,
		Branch:     "specforge/" + slug,
		BaseBranch: "main",
	}
}

func (f *fakeWorktrees) Setup(context.Context) error { return nil }

func (f *fakeWorktrees) Create(_ context.Context, slug string) (*worktree.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, slug)
	return f.info(slug), nil
}

func (f *fakeWorktrees) GetOrCreate(ctx context.Context, slug string) (*worktree.Info, error) {
	return f.Create(ctx, slug)
}

func (f *fakeWorktrees) Get(_ context.Context, slug string) (*worktree.Info, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.info(slug), nil
}

func (f *fakeWorktrees) Remove(context.Context, string, bool) error { return nil }

func (f *fakeWorktrees) Merge(context.Context, string, worktree.MergeOptions) error { return nil }

func (f *fakeWorktrees) Commit(context.Context, string, string) error { return nil }

func (f *fakeWorktrees) Push(context.Context, string, bool) error { return nil }

func (f *fakeWorktrees) List(context.Context) ([]worktree.Info, error) { return nil, nil }

func (f *fakeWorktrees) SpecBranches(context.Context) ([]string, error) { return nil, nil }

func (f *fakeWorktrees) HasUncommittedChanges(context.Context, string) (bool, error) {
	return false, nil
}

func (f *fakeWorktrees) CleanupStale(context.Context) error { return nil }

func (f *fakeWorktrees) BranchName(slug string) string { return "specforge/" + slug }

func (f *fakeWorktrees) Path(string) string { return f.dir }

func (f *fakeWorktrees) slugs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...)
}

type fakeClient struct {
	model  string
	closed bool
}

func (c *fakeClient) Model() string { return c.model }

func (c *fakeClient) Close() error {
	c.closed = true
	return nil
}

type fakeFactory struct {
	err    error
	client *fakeClient
}

func (f *fakeFactory) NewClient(context.Context) (llm.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.client = &fakeClient{model: "sonnet"}
	return f.client, nil
}

// stubPlanner fails or cancels on demand to exercise the abort paths.
type stubPlanner struct {
	err    error
	cancel context.CancelFunc
}

func (p *stubPlanner) Plan(ctx context.Context, specID, task string, _ *pipeline.ImpactAnalysis) (*plan.ExecutionPlan, error) {
	if p.cancel != nil {
		p.cancel()
		return nil, ctx.Err()
	}
	if p.err != nil {
		return nil, p.err
	}
	return &plan.ExecutionPlan{SpecID: specID, TaskDescription: task}, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) kinds() map[EventKind]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[EventKind]int)
	for _, ev := range r.events {
		counts[ev.Kind]++
	}
	return counts
}

func (r *eventRecorder) phases(kind EventKind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var phases []string
	for _, ev := range r.events {
		if ev.Kind == kind {
			phases = append(phases, ev.Phase)
		}
	}
	return phases
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// newTestEngine builds an engine over temp directories: a small clean
// project tree, a fake worktree manager pointing at a copy of that tree,
// and QA tuned to skip tests and fixes.
func newTestEngine(t *testing.T, opts ...Option) (*Engine, *fakeWorktrees, *eventRecorder) {
	t.Helper()

	projectDir := t.TempDir()
	writeFile(t, projectDir, "src/greeting.ts", cleanSource)

	worktreeDir := t.TempDir()
	writeFile(t, worktreeDir, "src/greeting.ts", cleanSource)

	fw := &fakeWorktrees{dir: worktreeDir}
	rec := &eventRecorder{}

	cfg := &config.Configuration{
		StateDir: ".specforge",
		QA:       config.QAConfig{MaxIterations: 3, MaxConsecutiveErrors: 2},
	}

	e, err := New(projectDir, cfg, append([]Option{
		WithWorktrees(fw),
		WithEvents(rec.record),
	}, opts...)...)
	require.NoError(t, err)
	return e, fw, rec
}

func TestEngineRunApproved(t *testing.T) {
	t.Parallel()

	e, fw, rec := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Run(ctx, RunRequest{Task: "Add a greeting formatter helper"})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.True(t, res.Success())
	assert.Empty(t, res.FailureReason)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, filepath.Base(res.SpecDir), res.Slug)
	assert.FileExists(t, filepath.Join(res.SpecDir, pipeline.SpecFile))
	assert.FileExists(t, filepath.Join(res.SpecDir, plan.PlanFile))

	require.NotNil(t, res.Pipeline)
	assert.True(t, res.Pipeline.Successful())
	require.NotNil(t, res.Plan)
	assert.NotEmpty(t, res.Plan.Tasks)
	require.NotNil(t, res.QA)
	assert.True(t, res.QA.Approved)
	require.NotNil(t, res.Worktree)
	assert.Equal(t, fw.dir, res.Worktree.Path)
	assert.Equal(t, []string{res.Slug}, fw.slugs())

	sess, err := e.Sessions().Get(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, sess.Status)
	assert.Equal(t, session.PhaseCompleted, sess.Phase)
	assert.Equal(t, res.Slug, sess.SpecID)
	require.NotNil(t, sess.Metrics)
	assert.Equal(t, res.QA.Iteration, sess.Metrics.Iterations)
	assert.Equal(t, res.SpecDir, sess.Artifacts["spec_dir"])
	assert.Equal(t, res.Worktree.Branch, sess.Artifacts["branch"])

	signoff, err := plan.NewStore(res.SpecDir).Signoff()
	require.NoError(t, err)
	require.NotNil(t, signoff)
	assert.True(t, signoff.Approved())

	kinds := rec.kinds()
	assert.Positive(t, kinds[EventSessionPhase])
	assert.Positive(t, kinds[EventPipelinePhase])
	assert.Positive(t, kinds[EventQAIteration])

	phases := rec.phases(EventSessionPhase)
	require.NotEmpty(t, phases)
	assert.Equal(t, string(session.PhaseInitializing), phases[0])
	assert.Equal(t, string(session.PhaseCompleted), phases[len(phases)-1])
	assert.Contains(t, rec.phases(EventPipelinePhase), pipeline.PhaseDiscovery)
}

func TestEngineRunPipelineFailure(t *testing.T) {
	t.Parallel()

	e, fw, _ := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Run(ctx, RunRequest{Task: "Add a greeting formatter helper", Complexity: "bogus"})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.False(t, res.Success())
	assert.Contains(t, res.FailureReason, pipeline.PhaseComplexity)
	assert.Nil(t, res.Plan)
	assert.Nil(t, res.QA)
	assert.Empty(t, fw.slugs())

	sess, err := e.Sessions().Get(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, sess.Status)
	assert.Equal(t, session.PhaseFailed, sess.Phase)
}

func TestEngineRunPlannerFailure(t *testing.T) {
	t.Parallel()

	plannerErr := errors.New("planner exploded")
	e, _, _ := newTestEngine(t, WithPlanner(&stubPlanner{err: plannerErr}))
	ctx := context.Background()

	res, err := e.Run(ctx, RunRequest{Task: "Add a greeting formatter helper"})
	require.ErrorIs(t, err, plannerErr)
	require.NotNil(t, res)

	assert.False(t, res.Success())
	assert.Equal(t, plannerErr.Error(), res.FailureReason)
	assert.Nil(t, res.Plan)

	sess, err := e.Sessions().Get(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, sess.Status)
}

func TestEngineRunCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e, _, _ := newTestEngine(t, WithPlanner(&stubPlanner{cancel: cancel}))

	res, err := e.Run(ctx, RunRequest{Task: "Add a greeting formatter helper"})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)

	sess, err := e.Sessions().Get(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCancelled, sess.Status)
}

func TestEngineRunClientFactory(t *testing.T) {
	t.Parallel()

	t.Run("client prepared and closed", func(t *testing.T) {
		t.Parallel()

		factory := &fakeFactory{}
		e, _, _ := newTestEngine(t, WithClientFactory(factory))
		ctx := context.Background()

		res, err := e.Run(ctx, RunRequest{Task: "Add a greeting formatter helper"})
		require.NoError(t, err)
		assert.True(t, res.Success())

		require.NotNil(t, factory.client)
		assert.True(t, factory.client.closed)

		sess, err := e.Sessions().Get(ctx, res.SessionID)
		require.NoError(t, err)
		assert.Empty(t, sess.Errors)

		found := false
		for _, msg := range sess.Messages {
			if strings.Contains(msg.Content, "Code generation client ready") {
				found = true
			}
		}
		assert.True(t, found, "expected a client-ready message in the conversation")
	})

	t.Run("factory failure degrades to a warning", func(t *testing.T) {
		t.Parallel()

		factory := &fakeFactory{err: errors.New("no token")}
		e, _, _ := newTestEngine(t, WithClientFactory(factory))
		ctx := context.Background()

		res, err := e.Run(ctx, RunRequest{Task: "Add a greeting formatter helper"})
		require.NoError(t, err)
		assert.True(t, res.Success())

		sess, err := e.Sessions().Get(ctx, res.SessionID)
		require.NoError(t, err)
		require.Len(t, sess.Errors, 1)
		assert.Equal(t, clierrors.SeverityWarning, sess.Errors[0].Severity)
		assert.Contains(t, sess.Errors[0].Message, "no token")
		assert.Equal(t, session.StatusCompleted, sess.Status)
	})
}

func TestEngineRunAll(t *testing.T) {
	t.Parallel()

	e, fw, _ := newTestEngine(t, WithMaxParallel(2))
	ctx := context.Background()

	reqs := []RunRequest{
		{Task: "Add a greeting formatter helper"},
		{Task: "Improve the farewell banner"},
		{Task: ""},
	}
	results, err := e.RunAll(ctx, reqs)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Success())
	assert.True(t, results[1].Success())
	require.Error(t, results[2].Err)
	assert.False(t, results[2].Success())

	assert.NotEqual(t, results[0].SpecDir, results[1].SpecDir)
	assert.ElementsMatch(t, []string{results[0].Slug, results[1].Slug}, fw.slugs())
}

func TestEngineRunSpec(t *testing.T) {
	t.Parallel()

	e, fw, _ := newTestEngine(t)
	ctx := context.Background()

	state, err := e.RunSpec(ctx, RunRequest{Task: "Add a greeting formatter helper"})
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.True(t, state.Successful())
	assert.FileExists(t, filepath.Join(state.SpecDir, pipeline.SpecFile))

	// Spec-only runs create no session and no worktree.
	assert.Empty(t, e.Sessions().ActiveSessions())
	assert.Empty(t, fw.slugs())
	assert.NoDirExists(t, filepath.Join(e.StateDir(), "sessions"))
}

func TestEngineRunQA(t *testing.T) {
	t.Parallel()

	t.Run("approves a clean tree", func(t *testing.T) {
		t.Parallel()

		e, fw, rec := newTestEngine(t)
		fw.getErr = worktree.ErrNotFound

		specDir := filepath.Join(t.TempDir(), "001-greeting")
		require.NoError(t, os.MkdirAll(specDir, 0o755))

		state, err := e.RunQA(context.Background(), specDir, "tidy the greeting module")
		require.NoError(t, err)
		require.NotNil(t, state)
		assert.True(t, state.Approved)

		signoff, err := plan.NewStore(specDir).Signoff()
		require.NoError(t, err)
		require.NotNil(t, signoff)
		assert.True(t, signoff.Approved())

		assert.Positive(t, rec.kinds()[EventQAIteration])
	})

	t.Run("missing spec dir", func(t *testing.T) {
		t.Parallel()

		e, _, _ := newTestEngine(t)
		_, err := e.RunQA(context.Background(), filepath.Join(t.TempDir(), "absent"), "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})
}

func TestEngineRunValidation(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t)

	_, err := e.Run(context.Background(), RunRequest{Task: "   "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task description required")

	_, err = e.RunSpec(context.Background(), RunRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task description required")
}

func TestEngineNew(t *testing.T) {
	t.Parallel()

	t.Run("requires a project dir", func(t *testing.T) {
		t.Parallel()

		_, err := New("", nil)
		require.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		e, err := New(dir, nil)
		require.NoError(t, err)

		assert.NotNil(t, e.Sessions())
		assert.NotNil(t, e.Worktrees())
		assert.Equal(t, dir, e.ProjectDir())
		assert.Equal(t, filepath.Join(dir, ".specforge"), e.StateDir())
	})

	t.Run("absolute state dir wins", func(t *testing.T) {
		t.Parallel()

		stateDir := t.TempDir()
		e, err := New(t.TempDir(), &config.Configuration{StateDir: stateDir})
		require.NoError(t, err)
		assert.Equal(t, stateDir, e.StateDir())
	})
}

func TestImpactAnalyzerProvider(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "src/greeting.ts", cleanSource)

	provider := &impactAnalyzer{root: root}

	analysis, err := provider.AnalyzeImpact(context.Background(), "tidy greeting", []string{"src/greeting.ts"})
	require.NoError(t, err)
	require.NotNil(t, analysis)
	assert.NotEmpty(t, analysis.Severity)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = provider.AnalyzeImpact(cancelled, "tidy greeting", nil)
	require.ErrorIs(t, err, context.Canceled)
}
