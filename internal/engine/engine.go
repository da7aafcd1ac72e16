// Package engine runs engineering tasks end to end. A run creates a session,
// generates a specification through the pipeline, decomposes it into an
// execution plan, prepares an isolated worktree, and drives the QA loop until
// the change set is approved or escalated. Collaborators are injected; the
// built-in defaults keep every stage available offline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/specforge/specforge/internal/config"
	clierrors "github.com/specforge/specforge/internal/errors"
	"github.com/specforge/specforge/internal/index"
	"github.com/specforge/specforge/internal/llm"
	"github.com/specforge/specforge/internal/logging"
	"github.com/specforge/specforge/internal/pipeline"
	"github.com/specforge/specforge/internal/plan"
	"github.com/specforge/specforge/internal/qa"
	"github.com/specforge/specforge/internal/session"
	"github.com/specforge/specforge/internal/skills"
	"github.com/specforge/specforge/internal/worktree"
)

// DefaultMaxParallel bounds concurrent task runs in RunAll.
const DefaultMaxParallel = 4

// RunRequest describes one task run. The flags mirror pipeline.Config;
// callers seed them from configuration and apply their own overrides.
type RunRequest struct {
	// Task is the natural-language task description.
	Task string
	// Interactive enables the requirements gathering phase.
	Interactive bool
	// Complexity pins the complexity tier instead of assessing it.
	Complexity string
	// SkipImpact drops the impact analysis phase.
	SkipImpact bool
	// ForceRefresh recomputes pipeline artifacts that already exist.
	ForceRefresh bool
}

// Result is the outcome of one task run.
type Result struct {
	Task      string
	SessionID string
	SpecDir   string
	Slug      string

	Worktree *worktree.Info
	Pipeline *pipeline.State
	Plan     *plan.ExecutionPlan
	QA       *qa.LoopState

	// FailureReason is set when the run ended without QA approval.
	FailureReason string
	// Err is populated by RunAll; Run reports the same error directly.
	Err error
}

// Success reports whether the run ended with QA approval.
func (r *Result) Success() bool {
	return r.Err == nil && r.FailureReason == "" && r.QA != nil && r.QA.Approved
}

// Engine wires the subsystems together and runs tasks against one project.
type Engine struct {
	projectDir string
	cfg        *config.Configuration

	sessions  *session.Orchestrator
	worktrees worktree.Manager
	planner   plan.Planner
	factory   llm.Factory
	cache     *index.Cache
	skillsReg *skills.Registry

	logger      *slog.Logger
	events      EventFunc
	maxParallel int
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger shared with collaborators.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithEvents registers the progress event callback.
func WithEvents(fn EventFunc) Option {
	return func(e *Engine) { e.events = fn }
}

// WithSessions overrides the session orchestrator.
func WithSessions(o *session.Orchestrator) Option {
	return func(e *Engine) { e.sessions = o }
}

// WithWorktrees overrides the worktree manager.
func WithWorktrees(m worktree.Manager) Option {
	return func(e *Engine) { e.worktrees = m }
}

// WithPlanner overrides the keyword planner.
func WithPlanner(p plan.Planner) Option {
	return func(e *Engine) { e.planner = p }
}

// WithClientFactory wires a code-generation client factory. Without one the
// coding phase only prepares the worktree.
func WithClientFactory(f llm.Factory) Option {
	return func(e *Engine) { e.factory = f }
}

// WithIndexCache shares scanned project indexes across runs.
func WithIndexCache(c *index.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithSkillRegistry enables skill discovery during spec writing.
func WithSkillRegistry(r *skills.Registry) Option {
	return func(e *Engine) { e.skillsReg = r }
}

// WithMaxParallel bounds concurrent runs in RunAll. Values below one are
// ignored.
func WithMaxParallel(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.maxParallel = n
		}
	}
}

// WithClock overrides the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New builds an engine rooted at projectDir. Omitted collaborators get the
// offline defaults: a session orchestrator and worktree manager under the
// configured state directory and the keyword planner. A nil cfg behaves like
// an all-defaults configuration.
func New(projectDir string, cfg *config.Configuration, opts ...Option) (*Engine, error) {
	if projectDir == "" {
		return nil, errors.New("engine: project directory required")
	}
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("resolving project directory: %w", err)
	}
	if cfg == nil {
		cfg = &config.Configuration{}
	}

	e := &Engine{
		projectDir:  abs,
		cfg:         cfg,
		maxParallel: DefaultMaxParallel,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.sessions == nil {
		e.sessions = session.NewOrchestrator(
			filepath.Join(e.stateDir(), "sessions"),
			session.WithLogger(e.logger),
		)
	}
	if e.worktrees == nil {
		e.worktrees = worktree.NewManager(worktree.Config{
			ProjectDir:   abs,
			StateDir:     cfg.StateDir,
			BranchPrefix: cfg.Worktree.BranchPrefix,
			BaseBranch:   cfg.BaseBranch,
			PushRetries:  cfg.Worktree.PushRetries,
		}, worktree.WithLogger(e.logger))
	}
	if e.planner == nil {
		e.planner = &plan.HeuristicPlanner{Logger: e.logger}
	}
	return e, nil
}

// Sessions exposes the session orchestrator for lifecycle commands.
func (e *Engine) Sessions() *session.Orchestrator {
	return e.sessions
}

// Worktrees exposes the worktree manager for worktree commands.
func (e *Engine) Worktrees() worktree.Manager {
	return e.worktrees
}

// ProjectDir returns the resolved project root.
func (e *Engine) ProjectDir() string {
	return e.projectDir
}

// StateDir returns the resolved engine state directory.
func (e *Engine) StateDir() string {
	return e.stateDir()
}

// Run executes one task end to end: spec pipeline, execution planning,
// worktree preparation, and the QA loop, with every stage recorded on a
// session. Domain outcomes (a failed pipeline phase, a QA escalation) land
// on the Result and fail the session; the error return is reserved for
// invalid input, collaborator failures, and cancellation.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*Result, error) {
	if strings.TrimSpace(req.Task) == "" {
		return nil, errors.New("engine: task description required")
	}

	runStart := e.now()

	specDir, err := pipeline.CreateSpecDir(pipeline.SpecsDir(e.stateDir()), pipeline.GenerateSpecName(req.Task))
	if err != nil {
		return nil, err
	}
	slug := filepath.Base(specDir)

	sess, err := e.sessions.Create(ctx, req.Task, slug)
	if err != nil {
		return nil, err
	}
	result := &Result{Task: req.Task, SessionID: sess.ID, SpecDir: specDir, Slug: slug}

	if _, err := e.sessions.Start(ctx, sess.ID); err != nil {
		return result, err
	}
	e.emit(Event{
		Kind:      EventSessionPhase,
		SessionID: sess.ID,
		SpecDir:   specDir,
		Phase:     string(session.PhaseInitializing),
		Message:   "Session started",
	})
	e.log().Info("starting task run", "session_id", sess.ID, "spec_dir", specDir)

	if err := e.advance(ctx, result, session.PhasePlanning, "Running spec pipeline"); err != nil {
		return result, e.abort(ctx, result, err)
	}
	state, err := e.newRunner(req).Resume(ctx, req.Task, specDir)
	if state != nil {
		result.Pipeline = state
		e.emitPipelineResults(result, state)
	}
	if err != nil {
		return result, e.abort(ctx, result, err)
	}
	if !state.Successful() {
		e.fail(ctx, result, pipelineFailure(state), nil)
		return result, nil
	}

	execPlan, err := e.planner.Plan(ctx, slug, req.Task, state.Impact)
	if err != nil {
		return result, e.abort(ctx, result, err)
	}
	store := plan.NewStore(specDir, plan.WithLogger(e.logger))
	if err := store.SavePlan(execPlan); err != nil {
		return result, e.abort(ctx, result, err)
	}
	result.Plan = execPlan
	planMsg := fmt.Sprintf("Execution plan ready: %d tasks in %d phases",
		len(execPlan.Tasks), len(execPlan.ExecutionPhases))
	if err := e.sessions.AppendAgentMessage(ctx, sess.ID, planMsg, map[string]any{"plan_path": store.Path()}); err != nil {
		e.log().Warn("failed to append session message", "session_id", sess.ID, "error", err)
	}

	if err := e.advance(ctx, result, session.PhaseCoding, "Preparing worktree"); err != nil {
		return result, e.abort(ctx, result, err)
	}
	wt, err := e.worktrees.GetOrCreate(ctx, slug)
	if err != nil {
		return result, e.abort(ctx, result, err)
	}
	result.Worktree = wt

	e.prepareClient(ctx, result)

	if err := e.advance(ctx, result, session.PhaseReviewing, "Running QA loop"); err != nil {
		return result, e.abort(ctx, result, err)
	}
	loop := &qa.Loop{
		RepoRoot: wt.Path,
		SpecDir:  specDir,
		Store:    store,
		Impact:   &impactAnalyzer{root: wt.Path, index: state.Index, logger: e.logger},
		Config:   e.loopConfig(sess.ID, specDir),
		Logger:   e.logger,
	}
	qaState, err := loop.Run(ctx, qa.ReviewRequest{
		ChangedFiles:    plannedFiles(state.Context),
		SpecContent:     specContent(specDir),
		TaskDescription: req.Task,
	})
	if qaState != nil {
		result.QA = qaState
	}
	if err != nil {
		return result, e.abort(ctx, result, err)
	}

	metrics := &session.Metrics{
		Iterations:        qaState.Iteration,
		FilesModified:     qaState.TotalFixesApplied,
		ErrorsEncountered: qaErrors(qaState),
		RetriesPerformed:  pipelineRetries(state),
		DurationSeconds:   e.now().Sub(runStart).Seconds(),
	}

	if !qaState.Approved {
		reason := fmt.Sprintf("QA did not approve after %d iterations; see %s",
			qaState.Iteration, qa.EscalationFile)
		e.fail(ctx, result, reason, metrics)
		return result, nil
	}

	if err := e.advance(ctx, result, session.PhaseCompleting, "Recording results"); err != nil {
		return result, e.abort(ctx, result, err)
	}
	artifacts := map[string]any{
		"spec_dir":      specDir,
		"plan_path":     store.Path(),
		"worktree_path": wt.Path,
		"branch":        wt.Branch,
	}
	summary := fmt.Sprintf("QA approved after %d iterations", qaState.Iteration)
	if _, err := e.sessions.Complete(ctx, sess.ID, summary, metrics, artifacts); err != nil {
		return result, e.abort(ctx, result, err)
	}
	e.emit(Event{
		Kind:      EventSessionPhase,
		SessionID: sess.ID,
		SpecDir:   specDir,
		Phase:     string(session.PhaseCompleted),
		Message:   summary,
	})
	e.log().Info("task run completed", "session_id", sess.ID, "iterations", qaState.Iteration)
	return result, nil
}

// RunAll runs tasks concurrently, each with its own session, spec directory,
// and worktree, at most maxParallel at a time. Per-task failures land on the
// corresponding Result's Err; the error return is reserved for cancellation.
func (e *Engine) RunAll(ctx context.Context, reqs []RunRequest) ([]*Result, error) {
	results := make([]*Result, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxParallel)

	for i, req := range reqs {
		g.Go(func() error {
			res, err := e.Run(gctx, req)
			if res == nil {
				res = &Result{Task: req.Task}
			}
			res.Err = err
			results[i] = res

			// Only cancellation stops sibling tasks.
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// RunSpec runs only the spec pipeline for a task, without a session,
// worktree, or QA.
func (e *Engine) RunSpec(ctx context.Context, req RunRequest) (*pipeline.State, error) {
	if strings.TrimSpace(req.Task) == "" {
		return nil, errors.New("engine: task description required")
	}
	return e.newRunner(req).Run(ctx, req.Task)
}

// RunQA runs the QA loop against an existing spec directory. The loop
// reviews the spec's worktree when one exists, otherwise the project tree.
// An empty task falls back to the stored plan's description.
func (e *Engine) RunQA(ctx context.Context, specDir, task string) (*qa.LoopState, error) {
	info, err := os.Stat(specDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("spec directory %s not found", specDir)
	}

	store := plan.NewStore(specDir, plan.WithLogger(e.logger))
	if task == "" {
		if p, err := store.Plan(); err == nil && p != nil {
			task = p.TaskDescription
		}
	}

	root := e.projectDir
	slug := filepath.Base(specDir)
	switch wt, werr := e.worktrees.Get(ctx, slug); {
	case werr == nil:
		root = wt.Path
	case errors.Is(werr, worktree.ErrNotFound):
		// No worktree for this spec; review the project tree directly.
	default:
		if ctx.Err() != nil {
			return nil, werr
		}
		e.log().Warn("worktree lookup failed, reviewing project tree", "slug", slug, "error", werr)
	}

	idx, err := pipeline.LoadProjectIndex(specDir)
	if err != nil {
		e.log().Warn("failed to load project index", "spec_dir", specDir, "error", err)
	}
	window, err := pipeline.LoadContext(specDir)
	if err != nil {
		e.log().Warn("failed to load context window", "spec_dir", specDir, "error", err)
	}

	loop := &qa.Loop{
		RepoRoot: root,
		SpecDir:  specDir,
		Store:    store,
		Impact:   &impactAnalyzer{root: root, index: idx, logger: e.logger},
		Config:   e.loopConfig("", specDir),
		Logger:   e.logger,
	}
	return loop.Run(ctx, qa.ReviewRequest{
		ChangedFiles:    plannedFiles(window),
		SpecContent:     specContent(specDir),
		TaskDescription: task,
	})
}

// prepareClient validates the code-generation client when a factory is
// wired. Preparation failures are recorded as warnings; the QA loop still
// validates the tree without a client.
func (e *Engine) prepareClient(ctx context.Context, result *Result) {
	if e.factory == nil {
		return
	}

	client, err := e.factory.NewClient(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.log().Warn("code generation client unavailable", "session_id", result.SessionID, "error", err)
		rec := session.ErrorRecord{
			Message:  "code generation client unavailable: " + err.Error(),
			Severity: clierrors.SeverityWarning,
		}
		if rerr := e.sessions.RecordError(ctx, result.SessionID, rec); rerr != nil {
			e.log().Warn("failed to record session error", "session_id", result.SessionID, "error", rerr)
		}
		return
	}

	message := "Code generation client ready"
	if model := client.Model(); model != "" {
		message += " (model " + model + ")"
	}
	if err := e.sessions.AppendAgentMessage(ctx, result.SessionID, message, nil); err != nil {
		e.log().Warn("failed to append session message", "session_id", result.SessionID, "error", err)
	}
	if err := client.Close(); err != nil {
		e.log().Warn("closing code generation client", "error", err)
	}
}

// advance moves the session into phase and emits the matching event.
func (e *Engine) advance(ctx context.Context, result *Result, phase session.Phase, message string) error {
	if err := e.sessions.UpdatePhase(ctx, result.SessionID, phase, message); err != nil {
		return err
	}
	e.emit(Event{
		Kind:      EventSessionPhase,
		SessionID: result.SessionID,
		SpecDir:   result.SpecDir,
		Phase:     string(phase),
		Message:   message,
	})
	return nil
}

// abort records err on the session and passes it through. A cancelled
// context cancels the session instead of failing it; the terminal write uses
// a detached context so it still lands.
func (e *Engine) abort(ctx context.Context, result *Result, err error) error {
	if ctx.Err() != nil {
		if _, cerr := e.sessions.Cancel(context.WithoutCancel(ctx), result.SessionID); cerr != nil {
			e.log().Warn("failed to cancel session", "session_id", result.SessionID, "error", cerr)
		}
		return err
	}
	e.fail(ctx, result, err.Error(), nil)
	return err
}

// fail marks the session failed and emits the terminal event.
func (e *Engine) fail(ctx context.Context, result *Result, reason string, metrics *session.Metrics) {
	result.FailureReason = reason
	if _, err := e.sessions.Fail(context.WithoutCancel(ctx), result.SessionID, reason, metrics); err != nil {
		e.log().Warn("failed to record session failure", "session_id", result.SessionID, "error", err)
	}
	e.emit(Event{
		Kind:      EventSessionPhase,
		SessionID: result.SessionID,
		SpecDir:   result.SpecDir,
		Phase:     string(session.PhaseFailed),
		Message:   reason,
	})
}

func (e *Engine) newRunner(req RunRequest) *pipeline.Runner {
	cfg := pipeline.Config{
		ProjectDir:         e.projectDir,
		StateDir:           e.stateDir(),
		Interactive:        req.Interactive,
		ComplexityOverride: req.Complexity,
		SkipImpactAnalysis: req.SkipImpact,
		ForceRefresh:       req.ForceRefresh,
		MaxRetries:         e.cfg.Pipeline.MaxRetries,
	}
	opts := []pipeline.Option{pipeline.WithLogger(e.logger)}
	if e.cache != nil {
		opts = append(opts, pipeline.WithCache(e.cache))
	}
	if e.skillsReg != nil {
		opts = append(opts, pipeline.WithSkills(e.skillsReg))
	}
	return pipeline.NewRunner(cfg, opts...)
}

// loopConfig maps the QA configuration onto the loop and forwards its
// callbacks as events.
func (e *Engine) loopConfig(sessionID, specDir string) qa.LoopConfig {
	cfg := qa.LoopConfig{
		MaxIterations:         e.cfg.QA.MaxIterations,
		MaxConsecutiveErrors:  e.cfg.QA.MaxConsecutiveErrors,
		AutoFix:               e.cfg.QA.AutoFix,
		RunTests:              e.cfg.QA.RunTests,
		RequireImpactAnalysis: true,
		MinFixConfidence:      e.cfg.QA.MinFixConfidence,
	}
	cfg.OnIterationStart = func(iteration int) {
		e.emit(Event{
			Kind:      EventQAIteration,
			SessionID: sessionID,
			SpecDir:   specDir,
			Message:   fmt.Sprintf("QA iteration %d started", iteration),
		})
	}
	cfg.OnIterationEnd = func(iteration int, status qa.Status) {
		e.emit(Event{
			Kind:      EventQAIteration,
			SessionID: sessionID,
			SpecDir:   specDir,
			Message:   fmt.Sprintf("QA iteration %d finished: %s", iteration, status),
		})
	}
	cfg.OnPhaseChange = func(phase qa.Phase, message string) {
		e.emit(Event{
			Kind:      EventQAIteration,
			SessionID: sessionID,
			SpecDir:   specDir,
			Phase:     string(phase),
			Message:   message,
		})
	}
	return cfg
}

// emit fans an event out to the registered callback, if any.
func (e *Engine) emit(event Event) {
	if e.events == nil {
		return
	}
	e.events(event)
}

func (e *Engine) emitPipelineResults(result *Result, state *pipeline.State) {
	for _, res := range state.Results {
		message := string(res.Status)
		if res.Cached {
			message += " (cached)"
		}
		e.emit(Event{
			Kind:      EventPipelinePhase,
			SessionID: result.SessionID,
			SpecDir:   result.SpecDir,
			Phase:     res.Phase,
			Message:   message,
		})
	}
}

func (e *Engine) stateDir() string {
	state := e.cfg.StateDir
	if state == "" {
		state = ".specforge"
	}
	if !filepath.IsAbs(state) {
		state = filepath.Join(e.projectDir, state)
	}
	return state
}

func (e *Engine) log() *slog.Logger {
	return logging.WithComponent(e.logger, "engine")
}

// impactAnalyzer adapts the pipeline's impact analyzer to the QA loop's
// provider interface, building a throwaway context window around the change
// set under review.
type impactAnalyzer struct {
	root   string
	index  *pipeline.ProjectIndex
	logger *slog.Logger
}

var _ qa.ImpactProvider = (*impactAnalyzer)(nil)

func (a *impactAnalyzer) AnalyzeImpact(ctx context.Context, task string, files []string) (*pipeline.ImpactAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	window := &pipeline.ContextWindow{TaskDescription: task}
	for _, rel := range files {
		window.FilesToModify = append(window.FilesToModify, pipeline.FileContext{
			Path:         filepath.Join(a.root, filepath.FromSlash(rel)),
			RelativePath: rel,
		})
	}

	analyzer := &pipeline.ImpactAnalyzer{
		ProjectDir: a.root,
		Index:      a.index,
		Context:    window,
		Logger:     a.logger,
	}
	return analyzer.Analyze(), nil
}

// plannedFiles extracts the repo-relative modification targets from a
// context window; they scope the review when present.
func plannedFiles(window *pipeline.ContextWindow) []string {
	if window == nil {
		return nil
	}
	files := make([]string, 0, len(window.FilesToModify))
	for _, fc := range window.FilesToModify {
		files = append(files, fc.RelativePath)
	}
	return files
}

// specContent reads the generated specification, or "" when absent.
func specContent(specDir string) string {
	data, err := os.ReadFile(filepath.Join(specDir, pipeline.SpecFile))
	if err != nil {
		return ""
	}
	return string(data)
}

// pipelineFailure names the first failed phase for the session record.
func pipelineFailure(state *pipeline.State) string {
	for _, res := range state.Results {
		if !res.Success() {
			msg := "spec pipeline failed at " + res.Phase + " phase"
			if len(res.Errors) > 0 {
				msg += ": " + res.Errors[0]
			}
			return msg
		}
	}
	return "spec pipeline failed"
}

func pipelineRetries(state *pipeline.State) int {
	n := 0
	for _, res := range state.Results {
		n += res.Retries
	}
	return n
}

func qaErrors(state *qa.LoopState) int {
	n := 0
	for _, rec := range state.History {
		if rec.Status == qa.StatusError {
			n++
		}
	}
	return n
}
