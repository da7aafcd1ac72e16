package plan

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/specforge/specforge/internal/logging"
	"github.com/specforge/specforge/internal/pipeline"
)

// Planner produces an execution plan for a task description. The impact
// analysis is optional; implementations use it to annotate risky tasks.
type Planner interface {
	Plan(ctx context.Context, specID, task string, impact *pipeline.ImpactAnalysis) (*ExecutionPlan, error)
}

// HeuristicPlanner decomposes tasks with keyword heuristics and
// type-specific templates. It needs no external services, so planning
// stays available when every collaborator is offline.
type HeuristicPlanner struct {
	Logger *slog.Logger
}

var _ Planner = (*HeuristicPlanner)(nil)

// typePatterns is checked in order; the first match decides the task type.
var typePatterns = []struct {
	taskType TaskType
	re       *regexp.Regexp
}{
	{TaskMigration, regexp.MustCompile(`\b(migrat|upgrad|convert)\w*`)},
	{TaskRefactor, regexp.MustCompile(`\b(refactor|restructur|reorganiz|clean\s*up)\w*`)},
	{TaskTest, regexp.MustCompile(`\b(test|spec|coverage|assert)\w*`)},
	{TaskDocumentation, regexp.MustCompile(`\b(document|readme|docs|comment)\w*`)},
	{TaskAnalysis, regexp.MustCompile(`\b(analyz|investigat|research|explor)\w*`)},
	{TaskDesign, regexp.MustCompile(`\b(design|architect|plan|propos)\w*`)},
}

// Plan decomposes the task and batches the result into execution phases.
// A nil impact analysis leaves the safety annotations empty.
func (hp *HeuristicPlanner) Plan(_ context.Context, specID, task string, impact *pipeline.ImpactAnalysis) (*ExecutionPlan, error) {
	logger := logging.WithComponent(hp.Logger, "planner")

	tasks := decompose(task)
	p := &ExecutionPlan{
		SpecID:                   specID,
		TaskDescription:          task,
		CreatedAt:                time.Now().UTC(),
		Tasks:                    tasks,
		ExecutionPhases:          organizePhases(tasks, logger),
		EstimatedTotalComplexity: totalComplexity(tasks),
	}

	if impact != nil {
		applyImpact(p, impact)
	}

	logger.Info("plan created",
		"spec_id", specID,
		"tasks", len(p.Tasks),
		"phases", len(p.ExecutionPhases),
		"complexity", p.EstimatedTotalComplexity)
	return p, nil
}

func decompose(task string) []*Task {
	taskType := inferTaskType(task)

	switch taskType {
	case TaskImplementation:
		return implementationTasks(task)
	case TaskRefactor:
		return refactorTasks(task)
	case TaskTest:
		return testingTasks(task)
	case TaskMigration:
		return migrationTasks(task)
	}
	return genericTasks(task, taskType, inferPriority(task))
}

func inferTaskType(task string) TaskType {
	lower := strings.ToLower(task)
	for _, p := range typePatterns {
		if p.re.MatchString(lower) {
			return p.taskType
		}
	}
	return TaskImplementation
}

func inferPriority(task string) Priority {
	lower := strings.ToLower(task)
	switch {
	case containsAny(lower, "critical", "urgent", "emergency", "asap"):
		return PriorityCritical
	case containsAny(lower, "important", "high", "priority"):
		return PriorityHigh
	case containsAny(lower, "low", "minor", "when possible"):
		return PriorityLow
	}
	return PriorityMedium
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func implementationTasks(task string) []*Task {
	return []*Task{
		{
			ID:                  "task_1",
			Title:               "Analyze requirements and existing code",
			Description:         "Analyze the codebase to understand where and how to implement: " + task,
			Type:                TaskAnalysis,
			Priority:            PriorityHigh,
			EstimatedComplexity: ComplexitySimple,
			Status:              StatusPending,
		},
		{
			ID:                  "task_2",
			Title:               "Design implementation approach",
			Description:         "Design the implementation approach, identifying files to modify and create",
			Type:                TaskDesign,
			Priority:            PriorityHigh,
			EstimatedComplexity: ComplexityMedium,
			Dependencies:        []string{"task_1"},
			Status:              StatusPending,
		},
		{
			ID:                  "task_3",
			Title:               "Implement changes",
			Description:         "Implement the required changes for: " + task,
			Type:                TaskImplementation,
			Priority:            PriorityCritical,
			EstimatedComplexity: ComplexityComplex,
			Dependencies:        []string{"task_2"},
			Status:              StatusPending,
		},
		{
			ID:                  "task_4",
			Title:               "Write and run tests",
			Description:         "Write unit tests and verify implementation",
			Type:                TaskTest,
			Priority:            PriorityHigh,
			EstimatedComplexity: ComplexityMedium,
			Dependencies:        []string{"task_3"},
			Status:              StatusPending,
		},
		{
			ID:                  "task_5",
			Title:               "Review and finalize",
			Description:         "Review changes, ensure code quality, and prepare for commit",
			Type:                TaskReview,
			Priority:            PriorityMedium,
			EstimatedComplexity: ComplexitySimple,
			Dependencies:        []string{"task_4"},
			Status:              StatusPending,
		},
	}
}

func refactorTasks(task string) []*Task {
	return []*Task{
		{
			ID:                  "task_1",
			Title:               "Identify refactoring scope",
			Description:         "Analyze code to identify all areas affected by refactoring",
			Type:                TaskAnalysis,
			Priority:            PriorityHigh,
			EstimatedComplexity: ComplexityMedium,
			Status:              StatusPending,
		},
		{
			ID:                  "task_2",
			Title:               "Ensure test coverage",
			Description:         "Verify existing tests cover refactoring scope, add tests if needed",
			Type:                TaskTest,
			Priority:            PriorityHigh,
			EstimatedComplexity: ComplexityMedium,
			Dependencies:        []string{"task_1"},
			Status:              StatusPending,
		},
		{
			ID:                  "task_3",
			Title:               "Perform refactoring",
			Description:         "Execute refactoring: " + task,
			Type:                TaskRefactor,
			Priority:            PriorityCritical,
			EstimatedComplexity: ComplexityComplex,
			Dependencies:        []string{"task_2"},
			Status:              StatusPending,
		},
		{
			ID:                  "task_4",
			Title:               "Verify tests pass",
			Description:         "Run all tests to ensure refactoring didn't break functionality",
			Type:                TaskTest,
			Priority:            PriorityCritical,
			EstimatedComplexity: ComplexitySimple,
			Dependencies:        []string{"task_3"},
			Status:              StatusPending,
		},
	}
}

func testingTasks(task string) []*Task {
	return []*Task{
		{
			ID:                  "task_1",
			Title:               "Analyze test requirements",
			Description:         "Identify what needs to be tested and current coverage gaps",
			Type:                TaskAnalysis,
			Priority:            PriorityHigh,
			EstimatedComplexity: ComplexitySimple,
			Status:              StatusPending,
		},
		{
			ID:                  "task_2",
			Title:               "Write tests",
			Description:         "Write tests for: " + task,
			Type:                TaskTest,
			Priority:            PriorityCritical,
			EstimatedComplexity: ComplexityMedium,
			Dependencies:        []string{"task_1"},
			Status:              StatusPending,
		},
		{
			ID:                  "task_3",
			Title:               "Run and verify tests",
			Description:         "Execute tests and ensure they pass",
			Type:                TaskTest,
			Priority:            PriorityHigh,
			EstimatedComplexity: ComplexitySimple,
			Dependencies:        []string{"task_2"},
			Status:              StatusPending,
		},
	}
}

func migrationTasks(task string) []*Task {
	return []*Task{
		{
			ID:                  "task_1",
			Title:               "Analyze migration scope",
			Description:         "Identify all components affected by migration",
			Type:                TaskAnalysis,
			Priority:            PriorityCritical,
			EstimatedComplexity: ComplexityComplex,
			Status:              StatusPending,
		},
		{
			ID:                  "task_2",
			Title:               "Create migration plan",
			Description:         "Design step-by-step migration approach with rollback strategy",
			Type:                TaskDesign,
			Priority:            PriorityCritical,
			EstimatedComplexity: ComplexityComplex,
			Dependencies:        []string{"task_1"},
			Status:              StatusPending,
		},
		{
			ID:                  "task_3",
			Title:               "Implement migration",
			Description:         "Execute migration: " + task,
			Type:                TaskMigration,
			Priority:            PriorityCritical,
			EstimatedComplexity: ComplexityComplex,
			Dependencies:        []string{"task_2"},
			Status:              StatusPending,
		},
		{
			ID:                  "task_4",
			Title:               "Verify migration",
			Description:         "Test all migrated components and verify functionality",
			Type:                TaskTest,
			Priority:            PriorityCritical,
			EstimatedComplexity: ComplexityMedium,
			Dependencies:        []string{"task_3"},
			Status:              StatusPending,
		},
		{
			ID:                  "task_5",
			Title:               "Document migration",
			Description:         "Document changes and update any affected documentation",
			Type:                TaskDocumentation,
			Priority:            PriorityMedium,
			EstimatedComplexity: ComplexitySimple,
			Dependencies:        []string{"task_4"},
			Status:              StatusPending,
		},
	}
}

func genericTasks(task string, taskType TaskType, priority Priority) []*Task {
	return []*Task{
		{
			ID:                  "task_1",
			Title:               "Analyze and prepare",
			Description:         "Analyze requirements for: " + task,
			Type:                TaskAnalysis,
			Priority:            priority,
			EstimatedComplexity: ComplexitySimple,
			Status:              StatusPending,
		},
		{
			ID:                  "task_2",
			Title:               "Execute task",
			Description:         task,
			Type:                taskType,
			Priority:            priority,
			EstimatedComplexity: ComplexityMedium,
			Dependencies:        []string{"task_1"},
			Status:              StatusPending,
		},
		{
			ID:                  "task_3",
			Title:               "Verify and complete",
			Description:         "Verify task completion and finalize",
			Type:                TaskReview,
			Priority:            PriorityMedium,
			EstimatedComplexity: ComplexitySimple,
			Dependencies:        []string{"task_2"},
			Status:              StatusPending,
		},
	}
}

// organizePhases batches task IDs into dependency-compatible waves. When a
// dependency cycle leaves no runnable task, the remainder lands in one
// final wave so the plan still covers every task.
func organizePhases(tasks []*Task, logger *slog.Logger) [][]string {
	remaining := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		remaining[t.ID] = true
	}
	completed := make(map[string]bool, len(tasks))

	var phases [][]string
	for len(remaining) > 0 {
		var wave []string
		for _, t := range tasks {
			if !remaining[t.ID] {
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
				wave = append(wave, t.ID)
			}
		}

		if len(wave) == 0 {
			logger.Warn("circular dependency detected, batching remaining tasks")
			for _, t := range tasks {
				if remaining[t.ID] {
					wave = append(wave, t.ID)
				}
			}
		}

		phases = append(phases, wave)
		for _, id := range wave {
			completed[id] = true
			delete(remaining, id)
		}
	}
	return phases
}

var complexityScores = map[string]int{
	ComplexitySimple:  1,
	ComplexityMedium:  2,
	ComplexityComplex: 3,
}

func totalComplexity(tasks []*Task) string {
	if len(tasks) == 0 {
		return ComplexityMedium
	}

	total := 0
	for _, t := range tasks {
		score, ok := complexityScores[t.EstimatedComplexity]
		if !ok {
			score = 2
		}
		total += score
	}

	avg := float64(total) / float64(len(tasks))
	switch {
	case avg < 1.5:
		return ComplexitySimple
	case avg < 2.5:
		return ComplexityMedium
	}
	return ComplexityComplex
}

// applyImpact copies the impact verdict onto the plan and stamps severity
// on the tasks that change code.
func applyImpact(p *ExecutionPlan, impact *pipeline.ImpactAnalysis) {
	p.OverallImpactSeverity = string(impact.Severity)
	p.ImpactSummary = impact.Reasoning
	p.RequiresMigration = impact.RequiresMigrationPlan()

	for _, bc := range impact.BreakingChanges {
		p.RiskFactors = append(p.RiskFactors, bc.Description)
	}

	for _, t := range p.Tasks {
		switch t.Type {
		case TaskImplementation, TaskRefactor, TaskMigration:
		default:
			continue
		}
		t.ImpactSeverity = string(impact.Severity)
		for _, bc := range impact.BreakingChanges {
			if containsString(t.FilesToModify, bc.Location) {
				t.BreakingChanges = append(t.BreakingChanges, bc.Description)
			}
		}
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
