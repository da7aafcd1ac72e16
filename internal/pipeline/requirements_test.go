package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferWorkflowType(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		task string
		want WorkflowType
	}{
		"bugfix":               {task: "fix the login redirect", want: WorkflowBugfix},
		"case insensitive":     {task: "Fix The Login Redirect", want: WorkflowBugfix},
		"refactor":             {task: "refactor the session store", want: WorkflowRefactor},
		"migration":            {task: "migrate to postgres 16", want: WorkflowMigration},
		"integration":          {task: "integrate stripe checkout", want: WorkflowIntegration},
		"investigation":        {task: "investigate slow queries", want: WorkflowInvestigation},
		"documentation":        {task: "update the readme", want: WorkflowDocumentation},
		"first match wins":     {task: "fix and refactor the parser", want: WorkflowBugfix},
		"default is a feature": {task: "add dark mode toggle", want: WorkflowFeature},
		"empty task":           {task: "", want: WorkflowFeature},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, InferWorkflowType(tc.task))
		})
	}
}

func TestBuildRequirements(t *testing.T) {
	t.Parallel()

	req := BuildRequirements("add rate limiting to the gateway")

	assert.Equal(t, "add rate limiting to the gateway", req.TaskDescription)
	assert.Equal(t, WorkflowFeature, req.WorkflowType)
	assert.Equal(t, []string{"add rate limiting to the gateway"}, req.UserRequirements)
	assert.Empty(t, req.ServicesInvolved)
	assert.False(t, req.CreatedAt.IsZero())
}

func TestBuildRequirements_EmptyTask(t *testing.T) {
	t.Parallel()

	req := BuildRequirements("")

	assert.Empty(t, req.TaskDescription)
	assert.Equal(t, WorkflowFeature, req.WorkflowType)
	assert.Empty(t, req.UserRequirements)
}
