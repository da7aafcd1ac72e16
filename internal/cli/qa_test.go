package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge/internal/qa"
)

func TestQARunRequiresSpec(t *testing.T) {
	isolateProject(t)
	resetFlags(t, qaRunCmd, "spec", "task", "auto-fix")

	_, err := executeCommand(t, "qa", "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spec")
}

func TestQARunSpecNotFound(t *testing.T) {
	isolateProject(t)
	resetFlags(t, qaRunCmd, "spec", "task", "auto-fix")

	_, err := executeCommand(t, "qa", "run", "--spec", "001-missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001-missing")
	assert.Contains(t, err.Error(), "not found")
}

func TestPrintQAStateApproved(t *testing.T) {
	t.Parallel()

	state := &qa.LoopState{
		Iteration: 2,
		Approved:  true,
		History: []qa.IterationRecord{
			{Iteration: 1, Status: qa.StatusFixesApplied, IssuesFound: []qa.Issue{
				{Title: "missing error check", Severity: qa.SeverityHigh},
			}},
			{Iteration: 2, Status: qa.StatusApproved},
		},
		TotalIssuesFound:  1,
		TotalFixesApplied: 1,
	}

	var buf bytes.Buffer
	printQAState(&buf, "/tmp/specs/001-login", state)

	out := buf.String()
	assert.Contains(t, out, "iteration 1: fixes_applied (1 issues)")
	assert.Contains(t, out, "iteration 2: approved")
	assert.Contains(t, out, "QA approved after 2 iterations")
	assert.Contains(t, out, "Issues found")
	assert.Contains(t, out, "Fixes applied")
}

func TestPrintQAStateEscalated(t *testing.T) {
	t.Parallel()

	state := &qa.LoopState{
		Iteration: 3,
		Escalated: true,
		History: []qa.IterationRecord{
			{Iteration: 3, Status: qa.StatusRejected, IssuesFound: []qa.Issue{
				{Title: "broken migration", Severity: qa.SeverityCritical},
				{Title: "flaky test", Severity: qa.SeverityMedium},
			}},
		},
		TotalIssuesFound: 2,
	}

	var buf bytes.Buffer
	printQAState(&buf, "/tmp/specs/001-login", state)

	out := buf.String()
	assert.Contains(t, out, "iteration 3: rejected (2 issues)")
	assert.Contains(t, out, "QA not approved after 3 iterations")
	assert.Contains(t, out, "escalated: see /tmp/specs/001-login/QA_ESCALATION.md")
}
