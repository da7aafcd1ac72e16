// Package testutil provides shared test doubles and fixtures for specforge
// tests: a scripted git runner with a persistable call log and an isolated
// environment for end-to-end runs of the built binary.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/specforge/specforge/internal/git"
)

// CallRecord is one recorded git invocation with its replayed outcome.
type CallRecord struct {
	Dir       string
	Args      []string
	Timestamp time.Time
	Stdout    string
	Stderr    string
	ExitCode  int
	Err       string
}

// Command returns the invocation's arguments joined by spaces.
func (r CallRecord) Command() string {
	return strings.Join(r.Args, " ")
}

// MockRunner implements git.Runner with results scripted by argument prefix.
// Unscripted invocations succeed with empty output. Every invocation is
// recorded; WriteLog persists the records for debugging failed assertions.
// Safe for concurrent use.
type MockRunner struct {
	mu      sync.Mutex
	records []CallRecord
	scripts []script
}

type script struct {
	prefix string
	result git.Result
	err    error
}

// Script registers a result for invocations whose space-joined arguments
// start with prefix. The longest matching prefix wins; later registrations
// win ties. Returns the runner for chaining.
func (m *MockRunner) Script(prefix string, result git.Result, err error) *MockRunner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, script{prefix: prefix, result: result, err: err})
	return m
}

// Run implements git.Runner.
func (m *MockRunner) Run(ctx context.Context, dir string, args ...string) (git.Result, error) {
	if err := ctx.Err(); err != nil {
		return git.Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.matchLocked(strings.Join(args, " "))

	rec := CallRecord{
		Dir:       dir,
		Args:      args,
		Timestamp: time.Now(),
		Stdout:    res.Stdout,
		Stderr:    res.Stderr,
		ExitCode:  res.ExitCode,
	}
	if err != nil {
		rec.Err = err.Error()
	}
	m.records = append(m.records, rec)

	return res, err
}

func (m *MockRunner) matchLocked(joined string) (git.Result, error) {
	best := -1
	for i, s := range m.scripts {
		if !strings.HasPrefix(joined, s.prefix) {
			continue
		}
		if best == -1 || len(s.prefix) >= len(m.scripts[best].prefix) {
			best = i
		}
	}
	if best == -1 {
		return git.Result{}, nil
	}
	return m.scripts[best].result, m.scripts[best].err
}

// Records returns a copy of the recorded invocations in order.
func (m *MockRunner) Records() []CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CallRecord(nil), m.records...)
}

// Seen reports whether any recorded invocation starts with prefix.
func (m *MockRunner) Seen(prefix string) bool {
	return m.Count(prefix) > 0
}

// Count returns how many recorded invocations start with prefix.
func (m *MockRunner) Count(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, rec := range m.records {
		if strings.HasPrefix(rec.Command(), prefix) {
			n++
		}
	}
	return n
}

// Last returns the most recent recorded invocation starting with prefix.
func (m *MockRunner) Last(prefix string) (CallRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.records) - 1; i >= 0; i-- {
		if strings.HasPrefix(m.records[i].Command(), prefix) {
			return m.records[i], true
		}
	}
	return CallRecord{}, false
}

// WriteLog persists the recorded invocations as a YAML call log.
func (m *MockRunner) WriteLog(path string) error {
	return WriteCallLog(path, m.Records())
}
