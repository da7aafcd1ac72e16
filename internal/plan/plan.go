// Package plan turns a task description into an ordered execution plan and
// persists it, together with the QA signoff, as implementation_plan.json
// inside the spec directory.
package plan

import "time"

// TaskType classifies what kind of work a planned task performs.
type TaskType string

const (
	TaskAnalysis       TaskType = "analysis"
	TaskDesign         TaskType = "design"
	TaskImplementation TaskType = "implementation"
	TaskRefactor       TaskType = "refactor"
	TaskTest           TaskType = "test"
	TaskDocumentation  TaskType = "documentation"
	TaskMigration      TaskType = "migration"
	TaskReview         TaskType = "review"
)

// Priority orders tasks by urgency.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// TaskStatus tracks a task through its lifecycle.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Per-task and whole-plan effort grades.
const (
	ComplexitySimple  = "simple"
	ComplexityMedium  = "medium"
	ComplexityComplex = "complex"
)

// Task is a single unit of work in an execution plan.
type Task struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Type        TaskType `json:"task_type"`
	Priority    Priority `json:"priority"`

	EstimatedComplexity string   `json:"estimated_complexity"`
	FilesToModify       []string `json:"files_to_modify,omitempty"`
	FilesToCreate       []string `json:"files_to_create,omitempty"`
	// Dependencies are task IDs that must complete before this one starts.
	Dependencies []string `json:"dependencies,omitempty"`

	// Safety annotations copied from impact analysis.
	ImpactSeverity  string   `json:"impact_severity,omitempty"`
	BreakingChanges []string `json:"breaking_changes,omitempty"`
	RollbackNotes   string   `json:"rollback_notes,omitempty"`

	Status      TaskStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      string     `json:"result,omitempty"`
}

// Progress summarizes how far a plan's execution has come.
type Progress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	InProgress int `json:"in_progress"`
	Pending    int `json:"pending"`
	Percentage int `json:"percentage"`
}

// ExecutionPlan is the full decomposition of one spec into ordered tasks.
type ExecutionPlan struct {
	SpecID          string    `json:"spec_id"`
	TaskDescription string    `json:"task_description"`
	CreatedAt       time.Time `json:"created_at"`

	Tasks []*Task `json:"tasks"`

	// Impact analysis summary, when one was available at planning time.
	OverallImpactSeverity string `json:"overall_impact_severity,omitempty"`
	ImpactSummary         string `json:"impact_summary,omitempty"`
	RequiresMigration     bool   `json:"requires_migration"`
	MigrationPlan         string `json:"migration_plan,omitempty"`

	// ExecutionPhases lists task IDs in dependency-compatible waves: every
	// task in a wave may run once all earlier waves have completed.
	ExecutionPhases [][]string `json:"execution_phases"`

	EstimatedTotalComplexity string   `json:"estimated_total_complexity"`
	RiskFactors              []string `json:"risk_factors,omitempty"`
	Prerequisites            []string `json:"prerequisites,omitempty"`
}

// TasksByPhase resolves ExecutionPhases into task values, dropping IDs
// that no longer exist.
func (p *ExecutionPlan) TasksByPhase() [][]*Task {
	byID := make(map[string]*Task, len(p.Tasks))
	for _, t := range p.Tasks {
		byID[t.ID] = t
	}

	var phases [][]*Task
	for _, ids := range p.ExecutionPhases {
		var wave []*Task
		for _, id := range ids {
			if t, ok := byID[id]; ok {
				wave = append(wave, t)
			}
		}
		if len(wave) > 0 {
			phases = append(phases, wave)
		}
	}
	return phases
}

// PendingTasks returns all tasks not yet started.
func (p *ExecutionPlan) PendingTasks() []*Task {
	var pending []*Task
	for _, t := range p.Tasks {
		if t.Status == StatusPending {
			pending = append(pending, t)
		}
	}
	return pending
}

// NextTask returns the first pending task whose dependencies have all
// completed, or nil when nothing is runnable.
func (p *ExecutionPlan) NextTask() *Task {
	completed := make(map[string]bool)
	for _, t := range p.Tasks {
		if t.Status == StatusCompleted {
			completed[t.ID] = true
		}
	}

	for _, t := range p.Tasks {
		if t.Status != StatusPending {
			continue
		}
		ready := true
		for _, dep := range t.Dependencies {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if ready {
			return t
		}
	}
	return nil
}

// MarkStarted moves a task to in_progress. Unknown IDs are ignored.
func (p *ExecutionPlan) MarkStarted(id string) {
	if t := p.task(id); t != nil {
		now := time.Now()
		t.Status = StatusInProgress
		t.StartedAt = &now
	}
}

// MarkCompleted records a successful task result.
func (p *ExecutionPlan) MarkCompleted(id, result string) {
	if t := p.task(id); t != nil {
		now := time.Now()
		t.Status = StatusCompleted
		t.CompletedAt = &now
		t.Result = result
	}
}

// MarkFailed records a failed task with the failure reason.
func (p *ExecutionPlan) MarkFailed(id, reason string) {
	if t := p.task(id); t != nil {
		now := time.Now()
		t.Status = StatusFailed
		t.CompletedAt = &now
		t.Result = "Failed: " + reason
	}
}

func (p *ExecutionPlan) task(id string) *Task {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Progress computes completion statistics over all tasks.
func (p *ExecutionPlan) Progress() Progress {
	pr := Progress{Total: len(p.Tasks)}
	for _, t := range p.Tasks {
		switch t.Status {
		case StatusCompleted:
			pr.Completed++
		case StatusFailed:
			pr.Failed++
		case StatusInProgress:
			pr.InProgress++
		}
	}
	pr.Pending = pr.Total - pr.Completed - pr.Failed - pr.InProgress
	if pr.Total > 0 {
		pr.Percentage = pr.Completed * 100 / pr.Total
	}
	return pr
}
