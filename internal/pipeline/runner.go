// Package pipeline turns a task description into a reviewed specification.
// A run executes a sequence of phases (discovery, requirements, complexity
// assessment, context resolution, impact analysis, spec writing, validation)
// chosen by the complexity tier, persisting each phase's artifact into a
// numbered spec directory so interrupted runs resume where they stopped.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/specforge/specforge/internal/index"
	"github.com/specforge/specforge/internal/logging"
	"github.com/specforge/specforge/internal/memory"
	"github.com/specforge/specforge/internal/retry"
	"github.com/specforge/specforge/internal/skills"
)

// DefaultMaxRetries is the number of extra attempts a phase gets when it
// fails with a transient error.
const DefaultMaxRetries = 2

// defaultRetryDelay spaces retry attempts. Injectable via WithRetryDelay so
// tests do not sleep.
const defaultRetryDelay = time.Second

// PhaseResult records one phase execution.
type PhaseResult struct {
	// Phase is the registry name the phase ran under.
	Phase  string      `json:"phase"`
	Status PhaseStatus `json:"status"`
	// OutputFiles are the artifacts the phase produced or reused.
	OutputFiles []string `json:"output_files,omitempty"`
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	// Retries counts extra attempts beyond the first.
	Retries  int           `json:"retries"`
	Duration time.Duration `json:"duration"`
	// Cached is set when the phase reused an existing artifact.
	Cached bool `json:"cached,omitempty"`
}

// Success reports whether the phase completed.
func (r PhaseResult) Success() bool {
	return r.Status == StatusCompleted
}

// State tracks one pipeline run: the artifacts gathered so far and the
// results of every phase executed.
type State struct {
	Task    string
	SpecDir string

	Results  []PhaseResult
	Executed []string

	Index        *ProjectIndex
	Requirements *Requirements
	Assessment   *ComplexityAssessment
	Context      *ContextWindow
	Impact       *ImpactAnalysis
	Skills       []*skills.Skill

	StartedAt   time.Time
	CompletedAt time.Time
}

func (s *State) addResult(res PhaseResult) {
	s.Results = append(s.Results, res)
	s.Executed = append(s.Executed, res.Phase)
}

// Successful reports whether every executed phase completed.
func (s *State) Successful() bool {
	for _, res := range s.Results {
		if !res.Success() {
			return false
		}
	}
	return true
}

// Duration is the wall-clock time of the run so far.
func (s *State) Duration() time.Duration {
	end := s.CompletedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartedAt)
}

// Config controls a pipeline run.
type Config struct {
	// ProjectDir is the project being analyzed.
	ProjectDir string
	// StateDir is the engine state directory; spec directories are created
	// under its specs/ subdirectory.
	StateDir string
	// Interactive enables the requirements gathering phase.
	Interactive bool
	// ComplexityOverride pins the complexity tier instead of running the
	// heuristic analyzer.
	ComplexityOverride string
	// SkipImpactAnalysis drops the impact phase from the plan.
	SkipImpactAnalysis bool
	// ForceRefresh recomputes artifacts that already exist.
	ForceRefresh bool
	// MaxRetries is the number of extra attempts per failing phase. Zero
	// means DefaultMaxRetries; negative disables retries.
	MaxRetries int
}

func (c Config) maxRetries() int {
	switch {
	case c.MaxRetries < 0:
		return 0
	case c.MaxRetries == 0:
		return DefaultMaxRetries
	}
	return c.MaxRetries
}

// Option customizes a Runner.
type Option func(*Runner)

// WithLogger routes runner and phase logging.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithCache shares scanned project indexes across specs through the state
// directory cache.
func WithCache(cache *index.Cache) Option {
	return func(r *Runner) { r.cache = cache }
}

// WithSkills enables skill discovery during spec writing.
func WithSkills(registry *skills.Registry) Option {
	return func(r *Runner) { r.skillsReg = registry }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithRetryDelay overrides the delay between phase retry attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(r *Runner) { r.retryDelay = d }
}

// phaseFunc executes one phase. A returned error marks a transient failure
// the runner may retry; domain failures are reported through the result.
type phaseFunc func(ctx context.Context) (PhaseResult, error)

// Runner orchestrates the spec creation pipeline.
type Runner struct {
	cfg        Config
	logger     *slog.Logger
	cache      *index.Cache
	skillsReg  *skills.Registry
	now        func() time.Time
	retryDelay time.Duration

	state *State
}

// NewRunner builds a pipeline runner. The zero options disable caching,
// skills, and logging.
func NewRunner(cfg Config, opts ...Option) *Runner {
	r := &Runner{
		cfg:        cfg,
		now:        time.Now,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.WithComponent(r.logger, "pipeline")
	return r
}

// phases is the registry of phase implementations. Assessment plans may
// name phases outside this registry; the runner skips those with a warning.
func (r *Runner) phases() map[string]phaseFunc {
	return map[string]phaseFunc{
		PhaseDiscovery:    r.phaseDiscovery,
		PhaseRequirements: r.phaseRequirements,
		PhaseComplexity:   r.phaseComplexity,
		PhaseContext:      r.phaseContext,
		PhaseImpact:       r.phaseImpact,
		PhaseSpecWriting:  r.phaseSpecWriting,
		// Simple tasks write their spec through the same implementation.
		PhaseQuickSpec:  r.phaseSpecWriting,
		PhaseValidation: r.phaseValidation,
	}
}

// Run creates a numbered spec directory for the task and executes the
// pipeline in it. Phase failures are recorded in the returned state; the
// error is reserved for setup problems and cancellation.
func (r *Runner) Run(ctx context.Context, task string) (*State, error) {
	specDir, err := CreateSpecDir(SpecsDir(r.cfg.StateDir), GenerateSpecName(task))
	if err != nil {
		return nil, err
	}
	return r.Resume(ctx, task, specDir)
}

// Resume executes the pipeline in an existing spec directory, reusing any
// artifacts already present.
func (r *Runner) Resume(ctx context.Context, task, specDir string) (*State, error) {
	if err := os.MkdirAll(specDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating spec directory: %w", err)
	}

	r.state = &State{Task: task, SpecDir: specDir, StartedAt: r.now()}
	r.logger.Info("starting spec pipeline", "spec_dir", specDir)

	// Discovery, requirements (interactive only), and complexity run first;
	// the assessment decides everything after.
	leadPhases := []string{PhaseDiscovery}
	if r.cfg.Interactive {
		leadPhases = append(leadPhases, PhaseRequirements)
	}
	leadPhases = append(leadPhases, PhaseComplexity)

	for _, phase := range leadPhases {
		res, err := r.runPhase(ctx, phase)
		if err != nil {
			return r.finalize(), err
		}
		if !res.Success() {
			return r.finalize(), nil
		}
	}

	registry := r.phases()
	for _, phase := range r.remainingPhases() {
		fn, ok := registry[phase]
		if !ok {
			r.logger.Warn("unknown phase, skipping", "phase", phase)
			continue
		}
		res, err := r.runPhaseFn(ctx, phase, fn)
		if err != nil {
			return r.finalize(), err
		}
		if !res.Success() && phase != PhaseValidation {
			r.logger.Error("phase failed, stopping pipeline", "phase", phase)
			break
		}
	}

	return r.finalize(), nil
}

func (r *Runner) runPhase(ctx context.Context, name string) (PhaseResult, error) {
	return r.runPhaseFn(ctx, name, r.phases()[name])
}

// runPhaseFn executes a phase with retries. Transient errors are retried
// up to the configured budget with a cancellation-aware delay; domain
// failures returned in the result are recorded without retrying.
func (r *Runner) runPhaseFn(ctx context.Context, name string, fn phaseFunc) (PhaseResult, error) {
	r.logger.Info("running phase", "phase", name)
	start := r.now()

	maxRetries := r.cfg.maxRetries()
	for attempt := 0; ; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			res.Phase = name
			res.Retries = attempt
			res.Duration = r.now().Sub(start)
			r.state.addResult(res)
			return res, nil
		}
		if ctx.Err() != nil {
			return PhaseResult{}, ctx.Err()
		}

		r.logger.Warn("phase attempt failed",
			"phase", name, "attempt", attempt+1, "error", err)

		if attempt >= maxRetries {
			res = PhaseResult{
				Phase:    name,
				Status:   StatusFailed,
				Errors:   []string{err.Error()},
				Retries:  attempt,
				Duration: r.now().Sub(start),
			}
			r.state.addResult(res)
			return res, nil
		}
		if err := retry.Sleep(ctx, r.retryDelay); err != nil {
			return PhaseResult{}, err
		}
	}
}

// remainingPhases returns the assessment's plan minus phases already
// executed. Without an assessment the pipeline falls back to a minimal
// context, spec writing, validation sequence.
func (r *Runner) remainingPhases() []string {
	if r.state.Assessment == nil {
		return []string{PhaseContext, PhaseSpecWriting, PhaseValidation}
	}

	executed := make(map[string]bool, len(r.state.Executed))
	for _, p := range r.state.Executed {
		executed[p] = true
	}

	var remaining []string
	for _, p := range r.state.Assessment.PhasesToRun() {
		if executed[p] {
			continue
		}
		if r.cfg.SkipImpactAnalysis && p == PhaseImpact {
			continue
		}
		remaining = append(remaining, p)
	}
	return remaining
}

func (r *Runner) finalize() *State {
	r.state.CompletedAt = r.now()

	status := "SUCCESS"
	if !r.state.Successful() {
		status = "FAILED"
	}
	r.logger.Info("pipeline finished",
		"status", status,
		"phases", len(r.state.Executed),
		"duration", r.state.CompletedAt.Sub(r.state.StartedAt))

	return r.state
}

func (r *Runner) globalIndexPath() string {
	return filepath.Join(r.cfg.StateDir, ProjectIndexFile)
}

// loadGlobalIndex returns the project index shared at the state root, or
// nil when none is usable.
func (r *Runner) loadGlobalIndex() *ProjectIndex {
	if r.cache != nil {
		var idx ProjectIndex
		if r.cache.Get(r.globalIndexPath(), &idx) {
			return &idx
		}
		if err := r.cache.Read(r.globalIndexPath(), &idx); err == nil {
			return &idx
		}
		return nil
	}

	idx, err := LoadProjectIndex(r.cfg.StateDir)
	if err != nil {
		r.logger.Warn("ignoring unreadable shared project index", "error", err)
		return nil
	}
	return idx
}

func (r *Runner) storeGlobalIndex(idx *ProjectIndex) error {
	if r.cache != nil {
		return r.cache.Write(r.globalIndexPath(), idx)
	}
	return SaveProjectIndex(r.cfg.StateDir, idx)
}

func (r *Runner) phaseDiscovery(ctx context.Context) (PhaseResult, error) {
	specPath := filepath.Join(r.state.SpecDir, ProjectIndexFile)

	if !r.cfg.ForceRefresh {
		if idx, err := LoadProjectIndex(r.state.SpecDir); err != nil {
			r.logger.Warn("ignoring unreadable project index, rescanning", "error", err)
		} else if idx != nil {
			r.state.Index = idx
			return PhaseResult{Status: StatusCompleted, OutputFiles: []string{specPath}, Cached: true}, nil
		}

		// A scan shared at the state root serves every spec of the project.
		if idx := r.loadGlobalIndex(); idx != nil {
			if err := SaveProjectIndex(r.state.SpecDir, idx); err != nil {
				return PhaseResult{}, err
			}
			r.state.Index = idx
			r.logger.Info("reusing shared project index")
			return PhaseResult{Status: StatusCompleted, OutputFiles: []string{specPath}, Cached: true}, nil
		}
	}

	scanner := &Scanner{
		Root:       r.cfg.ProjectDir,
		IgnoreDirs: []string{filepath.Base(r.cfg.StateDir)},
		Logger:     r.logger,
	}
	idx, err := scanner.Scan(ctx)
	if err != nil {
		return PhaseResult{}, err
	}

	if err := SaveProjectIndex(r.state.SpecDir, idx); err != nil {
		return PhaseResult{}, err
	}
	if err := r.storeGlobalIndex(idx); err != nil {
		r.logger.Warn("failed to store shared project index", "error", err)
	}

	r.state.Index = idx
	return PhaseResult{Status: StatusCompleted, OutputFiles: []string{specPath}}, nil
}

func (r *Runner) phaseRequirements(context.Context) (PhaseResult, error) {
	req := BuildRequirements(r.state.Task)
	if err := SaveRequirements(r.state.SpecDir, req); err != nil {
		return PhaseResult{}, err
	}

	r.state.Requirements = req
	return PhaseResult{
		Status:      StatusCompleted,
		OutputFiles: []string{filepath.Join(r.state.SpecDir, RequirementsFile)},
	}, nil
}

func (r *Runner) phaseComplexity(context.Context) (PhaseResult, error) {
	path := filepath.Join(r.state.SpecDir, AssessmentFile)

	if !r.cfg.ForceRefresh {
		if a, err := LoadAssessment(r.state.SpecDir); err != nil {
			r.logger.Warn("ignoring unreadable assessment, reassessing", "error", err)
		} else if a != nil {
			r.state.Assessment = a
			return PhaseResult{Status: StatusCompleted, OutputFiles: []string{path}, Cached: true}, nil
		}
	}

	var assessment *ComplexityAssessment
	if r.cfg.ComplexityOverride != "" {
		a, err := OverrideAssessment(r.cfg.ComplexityOverride)
		if err != nil {
			return PhaseResult{Status: StatusFailed, Errors: []string{err.Error()}}, nil
		}
		assessment = a
	} else {
		analyzer := &Analyzer{Index: r.state.Index}
		assessment = analyzer.Analyze(r.state.Task, r.state.Requirements)
	}

	if err := SaveAssessment(r.state.SpecDir, assessment); err != nil {
		return PhaseResult{}, err
	}

	r.state.Assessment = assessment
	r.logger.Info("complexity assessed",
		"complexity", assessment.Complexity,
		"confidence", assessment.Confidence,
		"phases", strings.Join(assessment.PhasesToRun(), ","))

	return PhaseResult{Status: StatusCompleted, OutputFiles: []string{path}}, nil
}

func (r *Runner) phaseContext(ctx context.Context) (PhaseResult, error) {
	path := filepath.Join(r.state.SpecDir, ContextFile)

	if !r.cfg.ForceRefresh {
		if cw, err := LoadContext(r.state.SpecDir); err != nil {
			r.logger.Warn("ignoring unreadable context, re-resolving", "error", err)
		} else if cw != nil {
			r.state.Context = cw
			return PhaseResult{Status: StatusCompleted, OutputFiles: []string{path}, Cached: true}, nil
		}
	}

	var services []string
	if r.state.Requirements != nil {
		services = r.state.Requirements.ServicesInvolved
	}

	resolver := &ContextResolver{
		ProjectDir: r.cfg.ProjectDir,
		Index:      r.state.Index,
		Memory:     memory.NewStore(filepath.Join(r.state.SpecDir, "memory"), memory.WithLogger(r.logger)),
		IgnoreDirs: []string{filepath.Base(r.cfg.StateDir)},
		Logger:     r.logger,
	}
	cw, err := resolver.Resolve(ctx, r.state.Task, services)
	if err != nil {
		return PhaseResult{}, err
	}

	if err := SaveContext(r.state.SpecDir, cw); err != nil {
		return PhaseResult{}, err
	}

	r.state.Context = cw
	return PhaseResult{Status: StatusCompleted, OutputFiles: []string{path}}, nil
}

func (r *Runner) phaseImpact(context.Context) (PhaseResult, error) {
	path := filepath.Join(r.state.SpecDir, ImpactFile)

	if !r.cfg.ForceRefresh {
		if ia, err := LoadImpact(r.state.SpecDir); err != nil {
			r.logger.Warn("ignoring unreadable impact analysis, re-analyzing", "error", err)
		} else if ia != nil {
			r.state.Impact = ia
			return PhaseResult{Status: StatusCompleted, OutputFiles: []string{path}, Cached: true}, nil
		}
	}

	ctxWindow := r.state.Context
	if ctxWindow == nil {
		if cw, err := LoadContext(r.state.SpecDir); err == nil {
			ctxWindow = cw
		}
	}

	analyzer := &ImpactAnalyzer{
		ProjectDir: r.cfg.ProjectDir,
		Index:      r.state.Index,
		Context:    ctxWindow,
		Logger:     r.logger,
	}
	ia := analyzer.Analyze()

	if err := SaveImpact(r.state.SpecDir, ia); err != nil {
		return PhaseResult{}, err
	}

	r.state.Impact = ia
	return PhaseResult{Status: StatusCompleted, OutputFiles: []string{path}}, nil
}

func (r *Runner) phaseSpecWriting(context.Context) (PhaseResult, error) {
	specPath := filepath.Join(r.state.SpecDir, SpecFile)

	if !r.cfg.ForceRefresh && fileExists(specPath) {
		return PhaseResult{Status: StatusCompleted, OutputFiles: []string{specPath}, Cached: true}, nil
	}

	r.discoverSkills()

	content := renderSpec(r.state, r.now())
	if err := os.WriteFile(specPath, []byte(content), 0o644); err != nil {
		return PhaseResult{}, fmt.Errorf("writing spec document: %w", err)
	}

	if len(r.state.Skills) > 0 {
		if err := saveSkillsManifest(r.state.SpecDir, r.state.Skills, r.state.Task); err != nil {
			return PhaseResult{}, err
		}
	}

	return PhaseResult{Status: StatusCompleted, OutputFiles: []string{specPath}}, nil
}

// discoverSkills loads the skills applicable to the task. Discovery is best
// effort: spec writing proceeds without skills when the registry fails.
func (r *Runner) discoverSkills() {
	if r.skillsReg == nil {
		return
	}

	var filePaths []string
	if r.state.Context != nil {
		for _, f := range r.state.Context.FilesToModify {
			filePaths = append(filePaths, f.RelativePath)
		}
	}

	active, err := r.skillsReg.Applicable(r.state.Task, filePaths)
	if err != nil {
		r.logger.Warn("failed to discover skills", "error", err)
		return
	}

	r.state.Skills = active
	if len(active) > 0 {
		names := make([]string, len(active))
		for i, s := range active {
			names[i] = s.Metadata.Name
		}
		r.logger.Info("discovered applicable skills", "skills", strings.Join(names, ", "))
	}
}

func (r *Runner) phaseValidation(context.Context) (PhaseResult, error) {
	var errs, warnings []string

	required := []string{ProjectIndexFile, AssessmentFile}
	if r.state.Assessment != nil && r.state.Assessment.Complexity != ComplexitySimple {
		required = append(required, ContextFile, RequirementsFile, SpecFile)
	}
	for _, name := range required {
		if !fileExists(filepath.Join(r.state.SpecDir, name)) {
			errs = append(errs, "Missing required file: "+name)
		}
	}

	if data, err := os.ReadFile(filepath.Join(r.state.SpecDir, SpecFile)); err == nil && len(data) < 100 {
		warnings = append(warnings, "Spec content seems too short")
	}

	if r.state.Impact != nil && r.state.Impact.RequiresMigrationPlan() {
		warnings = append(warnings, "Changes require migration plan - review before proceeding")
	}

	status := StatusCompleted
	if len(errs) > 0 {
		status = StatusFailed
	}
	return PhaseResult{Status: status, Errors: errs, Warnings: warnings}, nil
}
