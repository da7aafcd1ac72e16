package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge/internal/pipeline"
)

func TestSpecRunMissingTask(t *testing.T) {
	isolateProject(t)
	resetFlags(t, specRunCmd, "interactive", "complexity", "skip-impact", "force-refresh")

	_, err := executeCommand(t, "spec", "run", "   ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task description is required")
}

func TestSpecRunInvalidComplexity(t *testing.T) {
	isolateProject(t)
	resetFlags(t, specRunCmd, "interactive", "complexity", "skip-impact", "force-refresh")

	_, err := executeCommand(t, "spec", "run", "--complexity", "epic", "add feature")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "epic")
}

func TestPrintPipelineState(t *testing.T) {
	t.Parallel()

	state := &pipeline.State{
		SpecDir: "/tmp/specs/001-login",
		Results: []pipeline.PhaseResult{
			{Phase: "discovery", Status: pipeline.StatusCompleted, Cached: true},
			{Phase: "complexity", Status: pipeline.StatusCompleted},
			{Phase: "impact", Status: pipeline.StatusFailed, Errors: []string{"analyzer crashed"}},
		},
		Assessment: &pipeline.ComplexityAssessment{Complexity: pipeline.ComplexityStandard},
		Impact:     &pipeline.ImpactAnalysis{Severity: pipeline.SeverityMedium},
	}

	var buf bytes.Buffer
	printPipelineState(&buf, state)

	out := buf.String()
	assert.Contains(t, out, "discovery (cached)")
	assert.Contains(t, out, "complexity")
	assert.Contains(t, out, "analyzer crashed")
	assert.Contains(t, out, "/tmp/specs/001-login")
	assert.Contains(t, out, "standard")
	assert.Contains(t, out, "medium")
}
