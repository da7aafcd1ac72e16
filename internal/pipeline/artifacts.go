package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/specforge/specforge/internal/memory"
)

// Complexity grades how involved a task is; it decides which phases run.
type Complexity string

const (
	// ComplexitySimple is a small, contained change: a couple of files in
	// one service with no external integrations.
	ComplexitySimple Complexity = "simple"
	// ComplexityStandard is a typical feature touching a handful of files.
	ComplexityStandard Complexity = "standard"
	// ComplexityComplex spans services, integrations, or infrastructure.
	ComplexityComplex Complexity = "complex"
	// ComplexityCritical risks breaking changes, schema migrations, or
	// production data.
	ComplexityCritical Complexity = "critical"
)

// ParseComplexity validates a user-supplied complexity override.
func ParseComplexity(s string) (Complexity, error) {
	switch c := Complexity(strings.ToLower(strings.TrimSpace(s))); c {
	case ComplexitySimple, ComplexityStandard, ComplexityComplex, ComplexityCritical:
		return c, nil
	}
	return "", fmt.Errorf("invalid complexity %q: must be simple, standard, complex, or critical", s)
}

// WorkflowType classifies what kind of change a task asks for.
type WorkflowType string

const (
	WorkflowFeature       WorkflowType = "feature"
	WorkflowBugfix        WorkflowType = "bugfix"
	WorkflowRefactor      WorkflowType = "refactor"
	WorkflowMigration     WorkflowType = "migration"
	WorkflowIntegration   WorkflowType = "integration"
	WorkflowInvestigation WorkflowType = "investigation"
	WorkflowDocumentation WorkflowType = "documentation"
)

// ImpactSeverity grades the blast radius predicted by impact analysis.
type ImpactSeverity string

const (
	SeverityNone     ImpactSeverity = "none"
	SeverityLow      ImpactSeverity = "low"
	SeverityMedium   ImpactSeverity = "medium"
	SeverityHigh     ImpactSeverity = "high"
	SeverityCritical ImpactSeverity = "critical"
)

// Rollback complexity grades used by ImpactAnalysis.RollbackComplexity.
const (
	RollbackLow    = "low"
	RollbackMedium = "medium"
	RollbackHigh   = "high"
)

// PhaseStatus is the lifecycle state of a single pipeline phase.
type PhaseStatus string

const (
	// StatusPending means the phase has not started.
	StatusPending PhaseStatus = "pending"
	// StatusRunning means the phase is currently executing.
	StatusRunning PhaseStatus = "running"
	// StatusCompleted means the phase finished and produced its artifact.
	StatusCompleted PhaseStatus = "completed"
	// StatusFailed means the phase gave up after exhausting its retries.
	StatusFailed PhaseStatus = "failed"
	// StatusSkipped means the phase was not applicable to this run.
	StatusSkipped PhaseStatus = "skipped"
)

// Phase names referenced by assessments and the runner's registry. Names
// with no local implementation (research, planning, self-critique,
// migration and rollback planning) belong to downstream collaborators;
// the runner skips them with a warning.
const (
	PhaseDiscovery         = "discovery"
	PhaseRequirements      = "requirements"
	PhaseComplexity        = "complexity_assessment"
	PhaseResearch          = "research"
	PhaseContext           = "context"
	PhaseImpact            = "impact_analysis"
	PhaseMigrationPlanning = "migration_planning"
	PhaseSpecWriting       = "spec_writing"
	PhaseQuickSpec         = "quick_spec"
	PhaseSelfCritique      = "self_critique"
	PhasePlanning          = "planning"
	PhaseValidation        = "validation"
	PhaseRollbackPlanning  = "rollback_planning"
)

// Artifact file names written into a spec directory.
const (
	ProjectIndexFile = "project_index.json"
	RequirementsFile = "requirements.json"
	AssessmentFile   = "complexity_assessment.json"
	ContextFile      = "context.json"
	ImpactFile       = "impact_analysis.json"
	SpecFile         = "spec.md"
	SkillsFile       = "skills.json"
)

// TechStack summarizes the languages and frameworks found in a project.
type TechStack struct {
	Languages  []string `json:"languages"`
	Frameworks []string `json:"frameworks"`
}

// ServiceInfo describes one service discovered in the project, either a
// monorepo member or the repository root itself.
type ServiceInfo struct {
	// Name is the service name, taken from package metadata when present.
	Name string `json:"name"`
	// Path is the service directory relative to the project root ("." for
	// the root service).
	Path string `json:"path"`
	// Language is the dominant language inside the service directory.
	Language string `json:"language"`
	// Framework is filled when a framework could be attributed to the
	// service specifically rather than the project as a whole.
	Framework string `json:"framework,omitempty"`
	// EntryPoint is the conventional entry file, relative to Path.
	EntryPoint string `json:"entry_point,omitempty"`
	// Dependencies lists up to 20 direct dependencies of the service.
	Dependencies []string `json:"dependencies,omitempty"`
}

// ProjectIndex is the discovery phase artifact: a structural snapshot of
// the project used by every later phase.
type ProjectIndex struct {
	// ProjectType is one of "monorepo", "library", or "application".
	ProjectType string `json:"project_type"`
	// RootPath is the absolute project root that was scanned.
	RootPath string `json:"root_path"`
	// TechStack lists detected languages and frameworks.
	TechStack TechStack `json:"tech_stack"`
	// Services maps service name to its description.
	Services map[string]ServiceInfo `json:"services"`
	// EntryPoints are root-level entry files such as src/main.ts.
	EntryPoints []string `json:"entry_points,omitempty"`
	// TestDirectories are up to 10 directories holding tests.
	TestDirectories []string `json:"test_directories,omitempty"`
	// ConfigFiles are root-level configuration files.
	ConfigFiles []string `json:"config_files,omitempty"`
	// Dependencies maps direct dependency name to version.
	Dependencies map[string]string `json:"dependencies,omitempty"`
	// DevDependencies maps development-only dependency name to version.
	DevDependencies map[string]string `json:"dev_dependencies,omitempty"`
	// FileCount is the number of source files scanned.
	FileCount int `json:"file_count"`
	// TotalLines is the line count across all scanned source files.
	TotalLines int `json:"total_lines"`
	// IndexedAt records when the scan ran.
	IndexedAt time.Time `json:"indexed_at"`
}

// Requirements is the requirements phase artifact.
type Requirements struct {
	TaskDescription    string       `json:"task_description"`
	WorkflowType       WorkflowType `json:"workflow_type"`
	ServicesInvolved   []string     `json:"services_involved,omitempty"`
	UserRequirements   []string     `json:"user_requirements,omitempty"`
	AcceptanceCriteria []string     `json:"acceptance_criteria,omitempty"`
	Constraints        []string     `json:"constraints,omitempty"`
	OutOfScope         []string     `json:"out_of_scope,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
}

// Signals are the raw heuristic counts behind a complexity assessment,
// kept so a reviewer can see why a tier was chosen.
type Signals struct {
	SimpleKeywords       int  `json:"simple_keywords"`
	StandardKeywords     int  `json:"standard_keywords"`
	ComplexKeywords      int  `json:"complex_keywords"`
	CriticalKeywords     int  `json:"critical_keywords"`
	MultiServiceKeywords int  `json:"multi_service_keywords"`
	ExternalIntegrations int  `json:"external_integrations"`
	Infrastructure       bool `json:"infrastructure_changes"`
	EstimatedFiles       int  `json:"estimated_files"`
	EstimatedServices    int  `json:"estimated_services"`
	// ExplicitServices counts services named in the requirements, when
	// requirements were available to the analyzer.
	ExplicitServices int `json:"explicit_services,omitempty"`
	// AcceptanceCriteria is recorded when the requirements carry more than
	// five acceptance criteria, which bumps ComplexKeywords by one.
	AcceptanceCriteria int `json:"acceptance_criteria_count,omitempty"`
}

// ComplexityAssessment is the complexity phase artifact.
type ComplexityAssessment struct {
	Complexity Complexity `json:"complexity"`
	// Confidence is 0.0 to 1.0; manual overrides are recorded with 1.0.
	Confidence float64 `json:"confidence"`
	Signals    Signals `json:"signals"`
	Reasoning  string  `json:"reasoning"`

	EstimatedFiles        int      `json:"estimated_files"`
	EstimatedServices     int      `json:"estimated_services"`
	ExternalIntegrations  []string `json:"external_integrations,omitempty"`
	InfrastructureChanges bool     `json:"infrastructure_changes"`

	// RecommendedPhases overrides the tier defaults when non-empty. Loading
	// a saved assessment fills this from the persisted phase plan so reruns
	// replay the phases chosen at assessment time.
	RecommendedPhases []string `json:"recommended_phases,omitempty"`

	NeedsResearch       bool `json:"needs_research"`
	NeedsSelfCritique   bool `json:"needs_self_critique"`
	NeedsImpactAnalysis bool `json:"needs_impact_analysis"`
}

// PhasesToRun returns the ordered phase names for this assessment. The
// recommended list wins when present; otherwise the plan follows the tier.
func (a *ComplexityAssessment) PhasesToRun() []string {
	if len(a.RecommendedPhases) > 0 {
		return a.RecommendedPhases
	}

	switch a.Complexity {
	case ComplexitySimple:
		return []string{PhaseDiscovery, PhaseQuickSpec, PhaseValidation}

	case ComplexityStandard:
		phases := []string{PhaseDiscovery, PhaseRequirements}
		if a.NeedsResearch {
			phases = append(phases, PhaseResearch)
		}
		return append(phases, PhaseContext, PhaseSpecWriting, PhasePlanning, PhaseValidation)

	case ComplexityComplex:
		return []string{
			PhaseDiscovery,
			PhaseRequirements,
			PhaseResearch,
			PhaseContext,
			PhaseImpact,
			PhaseSpecWriting,
			PhaseSelfCritique,
			PhasePlanning,
			PhaseValidation,
		}

	default: // critical
		return []string{
			PhaseDiscovery,
			PhaseRequirements,
			PhaseResearch,
			PhaseContext,
			PhaseImpact,
			PhaseMigrationPlanning,
			PhaseSpecWriting,
			PhaseSelfCritique,
			PhasePlanning,
			PhaseValidation,
			PhaseRollbackPlanning,
		}
	}
}

// FileContext describes one file selected into the context window.
type FileContext struct {
	// Path is the absolute path of the file.
	Path string `json:"path"`
	// RelativePath is the path relative to the project root.
	RelativePath string `json:"relative_path"`
	Language     string `json:"language"`
	SizeBytes    int64  `json:"size_bytes"`
	LineCount    int    `json:"line_count"`
	// Imports are the module specifiers the file imports, capped at 20.
	Imports []string `json:"imports,omitempty"`
	// Exports are the names the file exports, capped at 20.
	Exports []string `json:"exports,omitempty"`
	// RelevanceScore is the heuristic score that selected this file.
	RelevanceScore float64 `json:"relevance_score"`
	// ModificationReason is set when the file is expected to change; files
	// without a reason are reference material.
	ModificationReason string `json:"modification_reason,omitempty"`
}

// ContextWindow is the context phase artifact: the files, tests, and
// remembered insights most relevant to a task.
type ContextWindow struct {
	TaskDescription  string           `json:"task_description"`
	ScopedServices   []string         `json:"scoped_services,omitempty"`
	FilesToModify    []FileContext    `json:"files_to_modify"`
	FilesToReference []FileContext    `json:"files_to_reference"`
	RelatedTests     []string         `json:"related_tests,omitempty"`
	MemoryInsights   []memory.Insight `json:"memory_insights,omitempty"`
	// DependencyGraph maps a modified file to the project-internal module
	// specifiers it imports.
	DependencyGraph map[string][]string `json:"dependency_graph,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// TotalContextSize returns the combined size in bytes of all files in the
// window.
func (c *ContextWindow) TotalContextSize() int64 {
	var total int64
	for _, f := range c.FilesToModify {
		total += f.SizeBytes
	}
	for _, f := range c.FilesToReference {
		total += f.SizeBytes
	}
	return total
}

// BreakingChange is one potential breakage detected by impact analysis.
type BreakingChange struct {
	// ChangeType is one of "api_change", "schema_change", "config_change".
	ChangeType string `json:"change_type"`
	// Location is the file the change was detected in.
	Location    string `json:"location"`
	Description string `json:"description"`
	// AffectedConsumers lists up to 10 files importing the changed file.
	AffectedConsumers []string `json:"affected_consumers,omitempty"`
	// MigrationRequired is set for schema changes.
	MigrationRequired bool   `json:"migration_required"`
	SuggestedFix      string `json:"suggested_fix,omitempty"`
}

// ImpactAnalysis is the impact phase artifact: a prediction of how the
// planned changes ripple through the codebase.
type ImpactAnalysis struct {
	Severity ImpactSeverity `json:"severity"`
	// Confidence is 0.0 to 1.0.
	Confidence       float64          `json:"confidence"`
	AffectedFiles    []string         `json:"affected_files,omitempty"`
	AffectedServices []string         `json:"affected_services,omitempty"`
	BreakingChanges  []BreakingChange `json:"breaking_changes,omitempty"`
	TestCoverageGaps []string         `json:"test_coverage_gaps,omitempty"`
	// RollbackComplexity is one of the Rollback* grades.
	RollbackComplexity     string   `json:"rollback_complexity"`
	RecommendedMitigations []string `json:"recommended_mitigations,omitempty"`
	Reasoning              string   `json:"analysis_reasoning"`
}

// RequiresMigrationPlan reports whether the change is risky enough to need
// an explicit migration plan before implementation.
func (ia *ImpactAnalysis) RequiresMigrationPlan() bool {
	return ia.Severity == SeverityHigh ||
		ia.Severity == SeverityCritical ||
		len(ia.BreakingChanges) > 0 ||
		ia.RollbackComplexity == RollbackHigh
}
