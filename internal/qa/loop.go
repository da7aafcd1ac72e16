// Package qa drives the autonomous validation loop: static review, test
// execution, self-healing fixes, and signoff persistence. The loop repeats
// review and fix passes until the change set is approved, then records the
// verdict; when the same issues keep recurring or errors pile up it stops
// and writes an escalation report for a human instead.
package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/specforge/specforge/internal/logging"
)

const (
	// DefaultMaxIterations bounds the review loop.
	DefaultMaxIterations = 50

	// DefaultMaxConsecutiveErrors ends the loop after this many
	// back-to-back review failures.
	DefaultMaxConsecutiveErrors = 3

	// RecurringIssueThreshold is how many times the same issue title may
	// reappear across iterations before the loop escalates.
	RecurringIssueThreshold = 3

	// EscalationFile is the report written when the loop gives up.
	EscalationFile = "QA_ESCALATION.md"
)

// Phase identifies where the loop currently is.
type Phase string

const (
	PhaseReview   Phase = "review"
	PhaseTest     Phase = "test"
	PhaseFix      Phase = "fix"
	PhaseComplete Phase = "complete"
	PhaseFailed   Phase = "failed"
)

// IterationRecord captures one loop iteration for history and reporting.
type IterationRecord struct {
	Iteration   int
	Phase       Phase
	Status      Status
	Duration    time.Duration
	IssuesFound []Issue
	Timestamp   time.Time
}

// RecurringIssue is an issue title seen across several iterations.
type RecurringIssue struct {
	Title       string
	Occurrences int
}

// LoopState is the loop's progress and outcome.
type LoopState struct {
	Iteration         int
	Phase             Phase
	ConsecutiveErrors int
	History           []IterationRecord

	Approved          bool
	TotalIssuesFound  int
	TotalFixesApplied int
	Escalated         bool

	StartedAt time.Time
	EndedAt   time.Time
}

// Duration reports how long the loop has been running, or ran.
func (s *LoopState) Duration() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := s.EndedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartedAt)
}

func (s *LoopState) addIteration(record IterationRecord) {
	s.History = append(s.History, record)
	s.TotalIssuesFound += len(record.IssuesFound)
}

// RecurringIssues lists issue titles that hit RecurringIssueThreshold,
// most frequent first.
func (s *LoopState) RecurringIssues() []RecurringIssue {
	counts := make(map[string]int)
	var order []string

	for _, record := range s.History {
		for _, issue := range record.IssuesFound {
			title := issue.Title
			if title == "" {
				title = "Unknown"
			}
			if counts[title] == 0 {
				order = append(order, title)
			}
			counts[title]++
		}
	}

	var recurring []RecurringIssue
	for _, title := range order {
		if counts[title] >= RecurringIssueThreshold {
			recurring = append(recurring, RecurringIssue{Title: title, Occurrences: counts[title]})
		}
	}
	sort.SliceStable(recurring, func(i, j int) bool {
		return recurring[i].Occurrences > recurring[j].Occurrences
	})
	return recurring
}

// LoopConfig tunes loop behavior. Callbacks run synchronously on the loop
// goroutine and must not re-enter the owning session.
type LoopConfig struct {
	// MaxIterations caps review passes; zero means DefaultMaxIterations,
	// negative disables iterations entirely.
	MaxIterations int
	// MaxConsecutiveErrors caps back-to-back review failures; zero means
	// DefaultMaxConsecutiveErrors.
	MaxConsecutiveErrors int
	// AutoFix runs the fixer after a rejection.
	AutoFix bool
	// RunTests executes the detected test suite each iteration.
	RunTests bool
	// RequireImpactAnalysis wires the impact provider into the default
	// reviewer.
	RequireImpactAnalysis bool
	// MinFixConfidence is passed to the default fixer; zero means
	// DefaultMinFixConfidence.
	MinFixConfidence float64

	OnIterationStart func(iteration int)
	OnIterationEnd   func(iteration int, status Status)
	OnPhaseChange    func(phase Phase, message string)
}

// DefaultLoopConfig returns the standard loop tuning.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations:         DefaultMaxIterations,
		MaxConsecutiveErrors:  DefaultMaxConsecutiveErrors,
		AutoFix:               true,
		RunTests:              true,
		RequireImpactAnalysis: true,
		MinFixConfidence:      DefaultMinFixConfidence,
	}
}

func (c LoopConfig) maxIterations() int {
	switch {
	case c.MaxIterations > 0:
		return c.MaxIterations
	case c.MaxIterations < 0:
		return 0
	}
	return DefaultMaxIterations
}

func (c LoopConfig) maxConsecutiveErrors() int {
	if c.MaxConsecutiveErrors > 0 {
		return c.MaxConsecutiveErrors
	}
	return DefaultMaxConsecutiveErrors
}

// Loop orchestrates review iterations for one spec. Store is required; the
// reviewer, tester, and fixer default to the static implementations over
// RepoRoot when nil.
type Loop struct {
	// RepoRoot is the tree under validation.
	RepoRoot string
	// SpecDir holds the fix request and escalation files.
	SpecDir string
	// Store persists signoffs between runs.
	Store SignoffStore

	Reviewer Reviewer
	Tester   Tester
	Fixer    Fixer
	// Impact feeds breaking-change detection in the default reviewer.
	Impact ImpactProvider

	Config LoopConfig
	Logger *slog.Logger
}

// Run executes review iterations until approval, escalation, or the
// iteration budget runs out. Review failures are absorbed into the returned
// state; the error return is reserved for cancellation and an unreadable
// signoff store.
func (l *Loop) Run(ctx context.Context, req ReviewRequest) (*LoopState, error) {
	if l.Store == nil {
		return nil, errors.New("qa loop requires a signoff store")
	}

	logger := l.logger()
	state := &LoopState{Phase: PhaseReview, StartedAt: time.Now()}

	signoff, err := l.Store.Signoff()
	if err != nil {
		return nil, fmt.Errorf("reading qa signoff: %w", err)
	}

	if signoff.Approved() && LoadFixRequest(l.SpecDir) == "" {
		logger.Info("qa already approved")
		state.Approved = true
		state.Phase = PhaseComplete
		state.EndedAt = time.Now()
		return state, nil
	}

	l.consumeHumanFeedback(ctx, state, signoff)

	if signoff != nil {
		state.Iteration = signoff.QASession
	}

loop:
	for state.Iteration < l.Config.maxIterations() {
		if err := ctx.Err(); err != nil {
			state.EndedAt = time.Now()
			return state, err
		}

		state.Iteration++
		start := time.Now()
		l.notifyIterationStart(state.Iteration)

		status, result, reviewErr := l.runReviewPass(ctx, req, state)
		if reviewErr != nil && ctx.Err() != nil {
			state.EndedAt = time.Now()
			return state, ctx.Err()
		}

		record := IterationRecord{
			Iteration: state.Iteration,
			Phase:     PhaseReview,
			Status:    status,
			Duration:  time.Since(start),
			Timestamp: time.Now(),
		}
		switch {
		case reviewErr != nil:
			record.IssuesFound = []Issue{{Title: "Exception", Description: reviewErr.Error()}}
		case result != nil:
			record.IssuesFound = result.Issues
		}
		state.addIteration(record)

		switch status {
		case StatusApproved:
			state.Approved = true
			state.ConsecutiveErrors = 0
			l.notifyPhaseChange(state, PhaseComplete, "QA approved")
			l.notifyIterationEnd(state.Iteration, StatusApproved)
			break loop

		case StatusRejected:
			state.ConsecutiveErrors = 0
			l.notifyIterationEnd(state.Iteration, StatusRejected)

			if l.shouldEscalate(state) {
				state.Escalated = true
				l.writeEscalationReport(state)
				l.notifyPhaseChange(state, PhaseFailed, "Escalated to human")
				break loop
			}

			if err := ctx.Err(); err != nil {
				state.EndedAt = time.Now()
				return state, err
			}
			if l.Config.AutoFix {
				l.runFixPass(ctx, result, state)
			}

		case StatusError:
			state.ConsecutiveErrors++
			logger.Error("qa iteration failed",
				"iteration", state.Iteration,
				"error", reviewErr)
			l.notifyIterationEnd(state.Iteration, StatusError)

			if state.ConsecutiveErrors >= l.Config.maxConsecutiveErrors() {
				state.Escalated = true
				l.writeEscalationReport(state)
				l.notifyPhaseChange(state, PhaseFailed, "Max errors reached")
				break loop
			}
		}
	}

	state.EndedAt = time.Now()

	if !state.Approved && !state.Escalated {
		state.Escalated = true
		l.writeEscalationReport(state)
		l.notifyPhaseChange(state, PhaseFailed, "Max iterations reached")
	}

	return state, nil
}

// runReviewPass reviews the change set, runs tests, and persists the
// verdict as a signoff.
func (l *Loop) runReviewPass(ctx context.Context, req ReviewRequest, state *LoopState) (Status, *ReviewResult, error) {
	l.notifyPhaseChange(state, PhaseReview, "Running code review")

	result, err := l.reviewer().Review(ctx, req)
	if err != nil {
		return StatusError, nil, err
	}

	var tests *TestResults
	if l.Config.RunTests {
		l.notifyPhaseChange(state, PhaseTest, "Running tests")
		ran, err := l.tester().RunTests(ctx)
		if err != nil {
			return StatusError, result, err
		}
		tests = &ran
	}

	signoff := &Signoff{
		Status:      StatusRejected,
		Timestamp:   time.Now().UTC(),
		QASession:   state.Iteration,
		VerifiedBy:  DefaultVerifiedBy,
		TestsPassed: tests,
	}
	if result.Passed && (tests == nil || tests.AllPassed()) {
		signoff.Status = StatusApproved
	} else {
		signoff.IssuesFound = result.Issues
	}

	if err := l.Store.SaveSignoff(signoff); err != nil {
		return StatusError, result, fmt.Errorf("saving qa signoff: %w", err)
	}

	return signoff.Status, result, nil
}

// runFixPass applies fixes for a rejection and records the fixes-applied
// signoff when the tree is ready for another review. Fix failures only warn.
func (l *Loop) runFixPass(ctx context.Context, result *ReviewResult, state *LoopState) {
	logger := l.logger()

	if result == nil || len(result.Issues) == 0 {
		logger.Warn("no issues found to fix")
		return
	}

	l.notifyPhaseChange(state, PhaseFix, "Applying fixes")

	fixResult, err := l.fixer().Fix(ctx, result.Issues, true)
	if err != nil {
		logger.Warn("fix pass failed", "error", err)
		return
	}

	if fixResult.ReadyForRevalidation {
		state.TotalFixesApplied += len(fixResult.Applied)
		l.recordFixesApplied(state.Iteration)
	} else {
		logger.Warn("fix pass failed", "message", fixResult.Message)
	}
}

// consumeHumanFeedback runs one non-applying fixer pass when a fix request
// is pending, then clears the request.
func (l *Loop) consumeHumanFeedback(ctx context.Context, state *LoopState, signoff *Signoff) {
	if LoadFixRequest(l.SpecDir) == "" {
		return
	}

	logger := l.logger()
	logger.Info("human feedback detected, running fixer")
	l.notifyPhaseChange(state, PhaseFix, "Processing human feedback")

	if signoff != nil && len(signoff.IssuesFound) > 0 {
		result, err := l.fixer().Fix(ctx, signoff.IssuesFound, false)
		switch {
		case err != nil:
			logger.Warn("feedback fix pass failed", "error", err)
		case result.ReadyForRevalidation:
			l.recordFixesApplied(signoff.QASession)
		}
	}

	if err := ClearFixRequest(l.SpecDir); err != nil {
		logger.Warn("failed to clear fix request", "error", err)
	}
}

func (l *Loop) recordFixesApplied(session int) {
	signoff := &Signoff{
		Status:               StatusFixesApplied,
		Timestamp:            time.Now().UTC(),
		QASession:            session,
		VerifiedBy:           DefaultVerifiedBy,
		ReadyForRevalidation: true,
	}
	if err := l.Store.SaveSignoff(signoff); err != nil {
		l.logger().Warn("failed to record applied fixes", "error", err)
	}
}

func (l *Loop) shouldEscalate(state *LoopState) bool {
	if recurring := state.RecurringIssues(); len(recurring) > 0 {
		l.logger().Warn("recurring issues detected", "count", len(recurring))
		return true
	}
	if state.ConsecutiveErrors >= l.Config.maxConsecutiveErrors() {
		l.logger().Warn("max consecutive errors reached", "errors", state.ConsecutiveErrors)
		return true
	}
	return false
}

// writeEscalationReport summarizes the loop for a human: recurring issues
// and the last ten iterations. Write failures only warn; the state already
// carries the escalation.
func (l *Loop) writeEscalationReport(state *LoopState) {
	lines := []string{
		"# QA Escalation Report",
		"",
		fmt.Sprintf("**Iterations**: %d", state.Iteration),
		fmt.Sprintf("**Duration**: %.1fs", state.Duration().Seconds()),
		fmt.Sprintf("**Total Issues**: %d", state.TotalIssuesFound),
		"",
	}

	if recurring := state.RecurringIssues(); len(recurring) > 0 {
		lines = append(lines, "## Recurring Issues", "")
		for _, issue := range recurring {
			lines = append(lines, fmt.Sprintf("- **%s**: %d occurrences", issue.Title, issue.Occurrences))
		}
		lines = append(lines, "")
	}

	lines = append(lines, "## Iteration History", "")
	history := state.History
	if len(history) > 10 {
		history = history[len(history)-10:]
	}
	for _, record := range history {
		lines = append(lines,
			fmt.Sprintf("### Iteration %d", record.Iteration),
			fmt.Sprintf("- Status: %s", record.Status),
			fmt.Sprintf("- Issues: %d", len(record.IssuesFound)),
			"")
	}

	lines = append(lines, "---", "Manual intervention required to resolve these issues.")

	path := filepath.Join(l.SpecDir, EscalationFile)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		l.logger().Warn("failed to write escalation report", "error", err)
	}
}

func (l *Loop) reviewer() Reviewer {
	if l.Reviewer != nil {
		return l.Reviewer
	}
	reviewer := &StaticReviewer{RepoRoot: l.RepoRoot, Logger: l.Logger}
	if l.Config.RequireImpactAnalysis {
		reviewer.Impact = l.Impact
	}
	return reviewer
}

func (l *Loop) tester() Tester {
	if l.Tester != nil {
		return l.Tester
	}
	return &TestRunner{RepoRoot: l.RepoRoot, Logger: l.Logger}
}

func (l *Loop) fixer() Fixer {
	if l.Fixer != nil {
		return l.Fixer
	}
	return &PatternFixer{
		RepoRoot:      l.RepoRoot,
		SpecDir:       l.SpecDir,
		MinConfidence: l.Config.MinFixConfidence,
		Logger:        l.Logger,
	}
}

func (l *Loop) logger() *slog.Logger {
	return logging.WithComponent(l.Logger, "qa")
}

func (l *Loop) notifyPhaseChange(state *LoopState, phase Phase, message string) {
	state.Phase = phase
	if l.Config.OnPhaseChange != nil {
		l.Config.OnPhaseChange(phase, message)
	}
	l.logger().Info("qa phase", "phase", phase, "message", message)
}

func (l *Loop) notifyIterationStart(iteration int) {
	if l.Config.OnIterationStart != nil {
		l.Config.OnIterationStart(iteration)
	}
	l.logger().Info("starting qa iteration", "iteration", iteration)
}

func (l *Loop) notifyIterationEnd(iteration int, status Status) {
	if l.Config.OnIterationEnd != nil {
		l.Config.OnIterationEnd(iteration, status)
	}
	l.logger().Info("completed qa iteration", "iteration", iteration, "status", status)
}
