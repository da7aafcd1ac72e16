package qa

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Status is the QA verdict recorded in a signoff.
type Status string

const (
	StatusPending      Status = "pending"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
	StatusFixesApplied Status = "fixes_applied"
	StatusError        Status = "error"
)

// Severity grades an issue found during review.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// severityRank orders severities from most to least blocking.
var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityInfo:     4,
}

// Issue is a single finding from a review pass.
type Issue struct {
	Title       string   `json:"title"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	// Location is "file" or "file:line" when known.
	Location    string `json:"location,omitempty"`
	FixRequired string `json:"fix_required,omitempty"`
	Category    string `json:"category"`
}

// Blocking reports whether the issue must be resolved before approval.
func (i Issue) Blocking() bool {
	return i.Severity == SeverityCritical || i.Severity == SeverityHigh
}

func rank(s Severity) int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

// SortIssues orders issues in place, most severe first. Issues of equal
// severity keep their original order.
func SortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		return rank(issues[i].Severity) < rank(issues[j].Severity)
	})
}

// TestResults aggregates pass counts per suite level. Each level is stored
// as "passed/total" on the wire.
type TestResults struct {
	UnitPassed        int
	UnitTotal         int
	IntegrationPassed int
	IntegrationTotal  int
	E2EPassed         int
	E2ETotal          int
}

// AllPassed reports whether every executed suite passed completely. Levels
// with no tests count as passing.
func (t TestResults) AllPassed() bool {
	return t.UnitPassed == t.UnitTotal &&
		t.IntegrationPassed == t.IntegrationTotal &&
		t.E2EPassed == t.E2ETotal
}

// Summary renders the counts for log lines and reports.
func (t TestResults) Summary() string {
	return fmt.Sprintf("Unit: %d/%d, Integration: %d/%d, E2E: %d/%d",
		t.UnitPassed, t.UnitTotal,
		t.IntegrationPassed, t.IntegrationTotal,
		t.E2EPassed, t.E2ETotal)
}

type testResultsDoc struct {
	Unit        string `json:"unit"`
	Integration string `json:"integration"`
	E2E         string `json:"e2e"`
}

func (t TestResults) MarshalJSON() ([]byte, error) {
	return json.Marshal(testResultsDoc{
		Unit:        fmt.Sprintf("%d/%d", t.UnitPassed, t.UnitTotal),
		Integration: fmt.Sprintf("%d/%d", t.IntegrationPassed, t.IntegrationTotal),
		E2E:         fmt.Sprintf("%d/%d", t.E2EPassed, t.E2ETotal),
	})
}

func (t *TestResults) UnmarshalJSON(data []byte) error {
	var doc testResultsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	parseFraction(doc.Unit, &t.UnitPassed, &t.UnitTotal)
	parseFraction(doc.Integration, &t.IntegrationPassed, &t.IntegrationTotal)
	parseFraction(doc.E2E, &t.E2EPassed, &t.E2ETotal)
	return nil
}

// parseFraction fills passed/total from a "p/t" string, leaving both
// untouched when the value does not match.
func parseFraction(s string, passed, total *int) {
	var p, n int
	if _, err := fmt.Sscanf(s, "%d/%d", &p, &n); err == nil {
		*passed, *total = p, n
	}
}

// DefaultVerifiedBy is recorded when no reviewer identity is configured.
const DefaultVerifiedBy = "qa_agent"

// Signoff is the QA verdict for one spec. It lives under the qa_signoff key
// of the implementation plan so the plan and its validation state travel
// together.
type Signoff struct {
	Status               Status       `json:"status"`
	Timestamp            time.Time    `json:"timestamp"`
	QASession            int          `json:"qa_session"`
	IssuesFound          []Issue      `json:"issues_found,omitempty"`
	TestsPassed          *TestResults `json:"tests_passed,omitempty"`
	VerifiedBy           string       `json:"verified_by"`
	ReadyForRevalidation bool         `json:"ready_for_qa_revalidation,omitempty"`
}

// Approved reports whether the signoff records an approval.
func (s *Signoff) Approved() bool {
	return s != nil && s.Status == StatusApproved
}

// FixesApplied reports whether fixes landed and the spec awaits another
// validation run.
func (s *Signoff) FixesApplied() bool {
	return s != nil && s.Status == StatusFixesApplied && s.ReadyForRevalidation
}

// BlockingIssues returns the critical and high findings.
func (s *Signoff) BlockingIssues() []Issue {
	if s == nil {
		return nil
	}
	var blocking []Issue
	for _, issue := range s.IssuesFound {
		if issue.Blocking() {
			blocking = append(blocking, issue)
		}
	}
	return blocking
}

// SignoffStore persists signoffs between QA runs.
type SignoffStore interface {
	// Signoff returns the recorded signoff, or nil when none exists.
	Signoff() (*Signoff, error)
	SaveSignoff(*Signoff) error
}
