package pipeline

import (
	"strings"
	"time"
)

// workflowSignals maps keywords to workflow types. Rules are checked in
// order and the first hit wins; tasks matching nothing are features.
var workflowSignals = []struct {
	workflow WorkflowType
	keywords []string
}{
	{WorkflowBugfix, []string{"fix", "bug", "error", "issue", "broken"}},
	{WorkflowRefactor, []string{"refactor", "restructure", "reorganize", "clean"}},
	{WorkflowMigration, []string{"migrate", "migration", "upgrade", "convert"}},
	{WorkflowIntegration, []string{"integrate", "integration", "connect", "api"}},
	{WorkflowInvestigation, []string{"investigate", "research", "analyze", "debug"}},
	{WorkflowDocumentation, []string{"document", "readme", "docs", "comment"}},
}

// InferWorkflowType classifies a task description by keyword.
func InferWorkflowType(task string) WorkflowType {
	lower := strings.ToLower(task)
	for _, rule := range workflowSignals {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.workflow
			}
		}
	}
	return WorkflowFeature
}

// BuildRequirements synthesizes a requirements artifact from the task
// description. Interactive runs may enrich the result before it is saved;
// autonomous runs persist it as-is.
func BuildRequirements(task string) *Requirements {
	req := &Requirements{
		TaskDescription: task,
		WorkflowType:    InferWorkflowType(task),
		CreatedAt:       time.Now().UTC(),
	}
	if task != "" {
		req.UserRequirements = []string{task}
	}
	return req
}
